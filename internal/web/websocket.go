package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vigil/internal/metrics"
	"vigil/internal/processing"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSClient is a connected websocket subscriber.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSMessage is the envelope pushed to subscribers.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.wsMutex.Lock()
	s.wsClients[client] = true
	s.wsMutex.Unlock()
	metrics.WebSocketConnections.Inc()

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) readPump(client *WSClient) {
	defer s.removeClient(client)

	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(client *WSClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(client *WSClient) {
	s.wsMutex.Lock()
	if _, ok := s.wsClients[client]; ok {
		delete(s.wsClients, client)
		close(client.send)
		metrics.WebSocketConnections.Dec()
	}
	s.wsMutex.Unlock()
	client.conn.Close()
}

func (s *Server) broadcastEvent(event processing.Event) {
	msg := WSMessage{
		Type: "event",
		Data: gin.H{
			"check":     event.Check,
			"condition": event.Condition,
			"summary":   event.Summary,
		},
		Time: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()
	for client := range s.wsClients {
		select {
		case client.send <- data:
		default:
			// Slow consumer, drop the message.
		}
	}
}
