package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil/internal/database"
)

type RuleRequest struct {
	ContactID      string              `json:"contact_id" binding:"required"`
	ConditionsList []database.Severity `json:"conditions_list"`
}

func (s *Server) handleListRules(c *gin.Context) {
	rules, err := s.store.GetRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.store.GetContact(ctx, req.ContactID); err != nil {
		s.writeStoreError(c, err)
		return
	}

	rule := &database.Rule{
		ID:             uuid.New().String(),
		ContactID:      req.ContactID,
		ConditionsList: req.ConditionsList,
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		s.writeStoreError(c, err)
		return
	}

	// A new rule has no tags, so it is generic and must be attached to
	// every tagged check.
	if err := s.recalcTaggedChecks(c); err != nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"rule_id":    rule.ID,
		"contact_id": rule.ContactID,
	}).Info("Rule created")

	c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleGetRule(c *gin.Context) {
	rule, err := s.store.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// handleUpdateRule replaces the rule's conditions, reassigns ownership
// when contact_id differs, and refreshes the snapshots on its derived
// routes.
func (s *Server) handleUpdateRule(c *gin.Context) {
	ctx := c.Request.Context()
	rule, err := s.store.GetRule(ctx, c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ContactID != rule.ContactID {
		if _, err := s.store.GetContact(ctx, req.ContactID); err != nil {
			s.writeStoreError(c, err)
			return
		}
		rule.ContactID = req.ContactID
	}
	rule.ConditionsList = req.ConditionsList
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		s.writeStoreError(c, err)
		return
	}
	if err := s.recalcRuleChecks(c, rule.ID); err != nil {
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	if err := s.store.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handleLinkRuleTag narrows the rule's scope to checks carrying all of
// its tags, so routes for the tag's checks must be rebuilt.
func (s *Server) handleLinkRuleTag(c *gin.Context) {
	ctx := c.Request.Context()
	ruleID := c.Param("id")
	tagName := c.Param("tag")

	if _, err := s.store.GetRule(ctx, ruleID); err != nil {
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

	if err := s.store.LinkRuleTag(ctx, ruleID, tagName); err != nil {
		s.writeStoreError(c, err)
		return
	}
	if err := s.recalcTaggedChecks(c); err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "linked"})
}

func (s *Server) handleUnlinkRuleTag(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.store.UnlinkRuleTag(ctx, c.Param("id"), c.Param("tag")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	// Removing a tag widens the rule's match set, possibly to every
	// tagged check if it just became generic.
	if err := s.recalcTaggedChecks(c); err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
}

// recalcTaggedChecks rebuilds routes for every check carrying at least
// one tag. Rule scope changes can widen or narrow which checks a rule
// reaches, so the simple answer is to rebuild them all.
func (s *Server) recalcTaggedChecks(c *gin.Context) error {
	ctx := c.Request.Context()
	tags, err := s.store.GetTags(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return err
	}

	seen := make(map[string]bool)
	for _, tag := range tags {
		checkIDs, err := s.store.CheckIDsForTag(ctx, tag.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return err
		}
		for _, checkID := range checkIDs {
			if seen[checkID] {
				continue
			}
			seen[checkID] = true
			if err := s.deriver.RecalculateRoutes(ctx, checkID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return err
			}
		}
	}
	return nil
}

// recalcRuleChecks rebuilds routes only for checks the rule currently
// reaches.
func (s *Server) recalcRuleChecks(c *gin.Context, ruleID string) error {
	ctx := c.Request.Context()
	routeIDs, err := s.store.RouteIDsForRule(ctx, ruleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return err
	}

	seen := make(map[string]bool)
	for _, routeID := range routeIDs {
		route, err := s.store.GetRoute(ctx, routeID)
		if err != nil {
			continue
		}
		if seen[route.CheckID] {
			continue
		}
		seen[route.CheckID] = true
		if err := s.deriver.RecalculateRoutes(ctx, route.CheckID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return err
		}
	}
	return nil
}

type ContactRequest struct {
	Name     string `json:"name" binding:"required"`
	Timezone string `json:"timezone"`
}

func (s *Server) handleListContacts(c *gin.Context) {
	contacts, err := s.store.GetContacts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts, "count": len(contacts)})
}

func (s *Server) handleCreateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contact := &database.Contact{
		ID:       uuid.New().String(),
		Name:     req.Name,
		Timezone: req.Timezone,
	}
	if err := s.store.CreateContact(c.Request.Context(), contact); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (s *Server) handleGetContact(c *gin.Context) {
	contact, err := s.store.GetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) handleUpdateContact(c *gin.Context) {
	ctx := c.Request.Context()
	contact, err := s.store.GetContact(ctx, c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contact.Name = req.Name
	contact.Timezone = req.Timezone
	if err := s.store.UpdateContact(ctx, contact); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) handleDeleteContact(c *gin.Context) {
	if err := s.store.DeleteContact(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type MediumRequest struct {
	Transport string            `json:"transport" binding:"required"`
	Address   string            `json:"address" binding:"required"`
	Userdata  map[string]string `json:"userdata"`
}

func (s *Server) handleContactMedia(c *gin.Context) {
	media, err := s.store.MediaForContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"media": media, "count": len(media)})
}

func (s *Server) handleCreateMedium(c *gin.Context) {
	ctx := c.Request.Context()
	contactID := c.Param("id")

	if _, err := s.store.GetContact(ctx, contactID); err != nil {
		s.writeStoreError(c, err)
		return
	}

	var req MediumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	medium := &database.Medium{
		ID:        uuid.New().String(),
		ContactID: contactID,
		Transport: req.Transport,
		Address:   req.Address,
		Userdata:  req.Userdata,
	}
	if err := s.store.CreateMedium(ctx, medium); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, medium)
}

func (s *Server) handleUpdateMedium(c *gin.Context) {
	ctx := c.Request.Context()
	medium, err := s.store.GetMedium(ctx, c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	var req MediumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	medium.Transport = req.Transport
	medium.Address = req.Address
	medium.Userdata = req.Userdata
	if err := s.store.UpdateMedium(ctx, medium); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, medium)
}

func (s *Server) handleDeleteMedium(c *gin.Context) {
	if err := s.store.DeleteMedium(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
