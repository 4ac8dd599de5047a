package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"vigil/internal/alerting"
	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/processing"
	"vigil/internal/queue"
)

// Server exposes the HTTP API and the websocket event feed.
type Server struct {
	config      *config.Config
	store       database.Store
	deriver     *alerting.Deriver
	maintenance *alerting.MaintenanceManager
	tracker     *alerting.StateTracker
	resolver    *alerting.Resolver
	broker      *queue.Broker

	router *gin.Engine
	server *http.Server

	wsClients map[*WSClient]bool
	wsMutex   sync.RWMutex
}

func NewServer(cfg *config.Config, store database.Store, deriver *alerting.Deriver,
	maintenance *alerting.MaintenanceManager, tracker *alerting.StateTracker,
	resolver *alerting.Resolver, broker *queue.Broker) *Server {

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:      cfg,
		store:       store,
		deriver:     deriver,
		maintenance: maintenance,
		tracker:     tracker,
		resolver:    resolver,
		broker:      broker,
		router:      gin.New(),
		wsClients:   make(map[*WSClient]bool),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.POST("/events", s.handlePostEvent)

		api.GET("/checks", s.handleListChecks)
		api.POST("/checks", s.handleCreateCheck)
		api.GET("/checks/:id", s.handleGetCheck)
		api.PUT("/checks/:id", s.handleUpdateCheck)
		api.DELETE("/checks/:id", s.handleDeleteCheck)
		api.GET("/checks/:id/tags", s.handleCheckTags)
		api.PUT("/checks/:id/tags/:tag", s.handleLinkCheckTag)
		api.DELETE("/checks/:id/tags/:tag", s.handleUnlinkCheckTag)
		api.GET("/checks/:id/routes", s.handleCheckRoutes)
		api.GET("/checks/:id/states", s.handleCheckStates)
		api.GET("/checks/:id/resolve", s.handleResolveCheck)

		api.GET("/checks/:id/maintenances", s.handleListMaintenances)
		api.POST("/checks/:id/maintenances", s.handleCreateScheduled)
		api.POST("/checks/:id/unscheduled", s.handleSetUnscheduled)
		api.DELETE("/checks/:id/unscheduled", s.handleClearUnscheduled)
		api.POST("/maintenances/:id/end", s.handleEndMaintenance)

		api.GET("/tags", s.handleListTags)
		api.POST("/tags", s.handleCreateTag)
		api.GET("/tags/:id", s.handleGetTag)
		api.DELETE("/tags/:id", s.handleDeleteTag)

		api.GET("/rules", s.handleListRules)
		api.POST("/rules", s.handleCreateRule)
		api.GET("/rules/:id", s.handleGetRule)
		api.PUT("/rules/:id", s.handleUpdateRule)
		api.DELETE("/rules/:id", s.handleDeleteRule)
		api.PUT("/rules/:id/tags/:tag", s.handleLinkRuleTag)
		api.DELETE("/rules/:id/tags/:tag", s.handleUnlinkRuleTag)

		api.GET("/contacts", s.handleListContacts)
		api.POST("/contacts", s.handleCreateContact)
		api.GET("/contacts/:id", s.handleGetContact)
		api.PUT("/contacts/:id", s.handleUpdateContact)
		api.DELETE("/contacts/:id", s.handleDeleteContact)
		api.GET("/contacts/:id/media", s.handleContactMedia)
		api.POST("/contacts/:id/media", s.handleCreateMedium)
		api.PUT("/media/:id", s.handleUpdateMedium)
		api.DELETE("/media/:id", s.handleDeleteMedium)

		api.GET("/reports/freshness", s.handleFreshnessReport)
	}

	s.router.GET("/ws", s.handleWebSocket)

	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("HTTP request")
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("addr", s.config.Server.Port).Info("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// OnEvent is wired into the processor so every handled observation is
// broadcast to websocket subscribers.
func (s *Server) OnEvent(event processing.Event) {
	s.broadcastEvent(event)
}
