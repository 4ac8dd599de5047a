package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil/internal/database"
	"vigil/internal/processing"
)

// EventRequest is an observation submitted by an external collector.
type EventRequest struct {
	Check     string `json:"check" binding:"required"`
	Condition string `json:"condition" binding:"required"`
	Summary   string `json:"summary"`
	Details   string `json:"details"`
	Time      int64  `json:"time"`
}

func (s *Server) handlePostEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := database.ParseSeverity(req.Condition); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	at := time.Now().UTC()
	if req.Time > 0 {
		at = time.Unix(req.Time, 0).UTC()
	}

	event := processing.Event{
		Check:     req.Check,
		Condition: database.Severity(req.Condition),
		Summary:   req.Summary,
		Details:   req.Details,
		Time:      at,
	}

	data, err := json.Marshal(event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.broker.Get(processing.EventQueue).Push(data)

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type CheckRequest struct {
	Name                string `json:"name" binding:"required"`
	Enabled             *bool  `json:"enabled"`
	InitialFailureDelay *int   `json:"initial_failure_delay"`
	RepeatFailureDelay  *int   `json:"repeat_failure_delay"`
}

func (s *Server) handleListChecks(c *gin.Context) {
	filters := database.CheckFilters{Name: c.Query("name")}
	if v := c.Query("enabled"); v != "" {
		enabled := v == "true"
		filters.Enabled = &enabled
	}

	checks, err := s.store.GetChecks(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checks": checks, "count": len(checks)})
}

func (s *Server) handleCreateCheck(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	check := &database.Check{
		ID:      uuid.New().String(),
		Name:    req.Name,
		Enabled: req.Enabled == nil || *req.Enabled,
	}
	// Omitted delays fall back to the configured defaults, the same
	// seeds checks created from their first event get.
	check.InitialFailureDelay = s.config.Processing.InitialFailureDelay
	if req.InitialFailureDelay != nil {
		check.InitialFailureDelay = *req.InitialFailureDelay
	}
	check.RepeatFailureDelay = s.config.Processing.RepeatFailureDelay
	if req.RepeatFailureDelay != nil {
		check.RepeatFailureDelay = *req.RepeatFailureDelay
	}

	if err := s.store.CreateCheck(c.Request.Context(), check); err != nil {
		s.writeStoreError(c, err)
		return
	}
	hash, err := s.store.EnsureAckHash(c.Request.Context(), check.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	check.AckHash = hash

	logrus.WithFields(logrus.Fields{
		"check_id": check.ID,
		"name":     check.Name,
	}).Info("Check created")

	c.JSON(http.StatusCreated, check)
}

func (s *Server) handleGetCheck(c *gin.Context) {
	check, err := s.store.GetCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) handleUpdateCheck(c *gin.Context) {
	check, err := s.store.GetCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	check.Name = req.Name
	if req.Enabled != nil {
		check.Enabled = *req.Enabled
	}
	if req.InitialFailureDelay != nil {
		check.InitialFailureDelay = *req.InitialFailureDelay
	}
	if req.RepeatFailureDelay != nil {
		check.RepeatFailureDelay = *req.RepeatFailureDelay
	}

	if err := s.store.UpdateCheck(c.Request.Context(), check); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) handleDeleteCheck(c *gin.Context) {
	if err := s.store.DeleteCheck(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleCheckTags(c *gin.Context) {
	tagIDs, err := s.store.TagIDsForCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tagIDs, "count": len(tagIDs)})
}

// handleLinkCheckTag attaches a tag and immediately rebuilds the check's
// routes. The tag is created on first use.
func (s *Server) handleLinkCheckTag(c *gin.Context) {
	ctx := c.Request.Context()
	checkID := c.Param("id")
	tagName := c.Param("tag")

	if _, err := s.store.GetCheck(ctx, checkID); err != nil {
		s.writeStoreError(c, err)
		return
	}
	if _, err := s.store.GetTag(ctx, tagName); err != nil {
		tag := &database.Tag{Name: tagName}
		if err := s.store.CreateTag(ctx, tag); err != nil {
			s.writeStoreError(c, err)
			return
		}
	}

	if err := s.store.LinkCheckTag(ctx, checkID, tagName); err != nil {
		s.writeStoreError(c, err)
		return
	}
	if err := s.deriver.RecalculateRoutes(ctx, checkID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "linked"})
}

func (s *Server) handleUnlinkCheckTag(c *gin.Context) {
	ctx := c.Request.Context()
	checkID := c.Param("id")

	if err := s.store.UnlinkCheckTag(ctx, checkID, c.Param("tag")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	if err := s.deriver.RecalculateRoutes(ctx, checkID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
}

func (s *Server) handleCheckRoutes(c *gin.Context) {
	routes, err := s.store.RoutesForCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes, "count": len(routes)})
}

func (s *Server) handleCheckStates(c *gin.Context) {
	states, err := s.store.StatesForCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": states, "count": len(states)})
}

// handleResolveCheck previews which contacts and rules would receive a
// notification for the check at the given severity.
func (s *Server) handleResolveCheck(c *gin.Context) {
	severity := database.Severity(c.Query("severity"))
	if severity != "" {
		if _, err := database.ParseSeverity(string(severity)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	rulesByContact, routesByRule, err := s.resolver.Resolve(c.Request.Context(), c.Param("id"), severity)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rules_by_contact": rulesByContact,
		"routes_by_rule":   routesByRule,
	})
}

type TagRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleListTags(c *gin.Context) {
	tags, err := s.store.GetTags(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags, "count": len(tags)})
}

func (s *Server) handleCreateTag(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tag := &database.Tag{Name: req.Name}
	if err := s.store.CreateTag(c.Request.Context(), tag); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

func (s *Server) handleGetTag(c *gin.Context) {
	tag, err := s.store.GetTag(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, tag)
}

// handleDeleteTag removes the tag and rebuilds routes for every check
// that carried it. When the tag was linked to rules, those rules lose a
// tag too and their match sets widen (a rule losing its last tag
// becomes generic), so every tagged check is rebuilt as well.
func (s *Server) handleDeleteTag(c *gin.Context) {
	ctx := c.Request.Context()
	tagID := c.Param("id")

	checkIDs, err := s.store.CheckIDsForTag(ctx, tagID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ruleIDs, err := s.store.RuleIDsForTag(ctx, tagID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.DeleteTag(ctx, tagID); err != nil {
		s.writeStoreError(c, err)
		return
	}
	for _, checkID := range checkIDs {
		if err := s.deriver.RecalculateRoutes(ctx, checkID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if len(ruleIDs) > 0 {
		if err := s.recalcTaggedChecks(c); err != nil {
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleFreshnessReport(c *gin.Context) {
	ages := s.config.Processing.FreshnessAges
	counts, err := s.tracker.FreshnessCounts(c.Request.Context(), ages)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	names, err := s.tracker.FreshnessNames(c.Request.Context(), ages)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts, "names": names})
}

func (s *Server) writeStoreError(c *gin.Context, err error) {
	switch {
	case strings.HasSuffix(err.Error(), "not found"):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case database.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).Error("Store operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
