package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vigil/internal/database"
)

type ScheduledMaintenanceRequest struct {
	StartTime int64  `json:"start_time" binding:"required"`
	Duration  int    `json:"duration" binding:"required"`
	Summary   string `json:"summary"`
}

type UnscheduledMaintenanceRequest struct {
	Duration int    `json:"duration" binding:"required"`
	Summary  string `json:"summary"`
}

// handleListMaintenances lists windows for a check. With ?at= it instead
// returns the single window covering that instant, if any.
func (s *Server) handleListMaintenances(c *gin.Context) {
	ctx := c.Request.Context()
	checkID := c.Param("id")

	kind := database.ScheduledMaintenance
	if c.Query("kind") == string(database.UnscheduledMaintenance) {
		kind = database.UnscheduledMaintenance
	}

	if v := c.Query("at"); v != "" {
		at, err := parseUnix(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		window, err := s.maintenance.At(ctx, kind, checkID, at)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if window == nil {
			c.JSON(http.StatusOK, gin.H{"maintenance": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"maintenance": window})
		return
	}

	windows, err := s.store.MaintenanceWindows(ctx, kind, checkID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"maintenances": windows, "count": len(windows)})
}

func (s *Server) handleCreateScheduled(c *gin.Context) {
	ctx := c.Request.Context()
	checkID := c.Param("id")

	if _, err := s.store.GetCheck(ctx, checkID); err != nil {
		s.writeStoreError(c, err)
		return
	}

	var req ScheduledMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Unix(req.StartTime, 0).UTC()
	window := &database.MaintenanceWindow{
		CheckID:   checkID,
		Kind:      database.ScheduledMaintenance,
		StartTime: start,
		EndTime:   start.Add(time.Duration(req.Duration) * time.Second),
		Summary:   req.Summary,
	}
	if err := s.maintenance.Add(ctx, window); err != nil {
		s.writeStoreError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"check_id":       checkID,
		"maintenance_id": window.ID,
		"start":          window.StartTime,
		"end":            window.EndTime,
	}).Info("Scheduled maintenance created")

	c.JSON(http.StatusCreated, window)
}

// handleSetUnscheduled acknowledges a check. Any active unscheduled
// window is ended first, so the new window replaces it.
func (s *Server) handleSetUnscheduled(c *gin.Context) {
	ctx := c.Request.Context()
	checkID := c.Param("id")

	if _, err := s.store.GetCheck(ctx, checkID); err != nil {
		s.writeStoreError(c, err)
		return
	}

	var req UnscheduledMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	window := &database.MaintenanceWindow{
		CheckID:   checkID,
		Kind:      database.UnscheduledMaintenance,
		StartTime: now,
		EndTime:   now.Add(time.Duration(req.Duration) * time.Second),
		Summary:   req.Summary,
	}
	if err := s.maintenance.SetUnscheduled(ctx, window); err != nil {
		s.writeStoreError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"check_id":       checkID,
		"maintenance_id": window.ID,
		"end":            window.EndTime,
	}).Info("Check acknowledged")

	c.JSON(http.StatusCreated, window)
}

func (s *Server) handleClearUnscheduled(c *gin.Context) {
	ended, err := s.maintenance.Clear(c.Request.Context(), c.Param("id"), time.Now().UTC())
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": ended})
}

// handleEndMaintenance ends or cancels a window at the given time
// (default now). Windows already over are left untouched.
func (s *Server) handleEndMaintenance(c *gin.Context) {
	ctx := c.Request.Context()

	window, err := s.store.GetMaintenance(ctx, c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	at := time.Now().UTC()
	if v := c.Query("at"); v != "" {
		at, err = parseUnix(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	changed, err := s.maintenance.End(ctx, window, at)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": changed})
}

func parseUnix(v string) (time.Time, error) {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return time.Unix(sec, 0).UTC(), nil
}
