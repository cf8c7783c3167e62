package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	graffiti "github.com/soundprediction/go-graffiti"
	"github.com/soundprediction/go-graffiti/pkg/relationships"
	"github.com/soundprediction/go-graffiti/pkg/server/dto"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

// RelationshipHandler handles relationship lifecycle requests
type RelationshipHandler struct {
	graffiti graffiti.Graffiti
}

// NewRelationshipHandler creates a new relationship handler
func NewRelationshipHandler(g graffiti.Graffiti) *RelationshipHandler {
	return &RelationshipHandler{graffiti: g}
}

// Create handles POST /relationships
func (h *RelationshipHandler) Create(c *gin.Context) {
	var req dto.CreateRelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	rel, err := h.graffiti.CreateRelationship(c.Request.Context(), relationships.CreateInput{
		SourceID:   req.SourceID,
		TargetID:   req.TargetID,
		Kind:       req.Kind,
		Subtype:    req.Subtype,
		Fact:       req.Fact,
		Properties: req.Properties,
		TValid:     req.TValid,
		TInvalid:   req.TInvalid,
		GroupID:    req.GroupID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rel)
}

// List handles GET /entities/:id/relationships
func (h *RelationshipHandler) List(c *gin.Context) {
	views, err := h.graffiti.GetRelationships(c.Request.Context(),
		c.Param("id"), c.Query("group_id"),
		types.Direction(c.Query("direction")), c.QueryArray("kind"),
		intQuery(c, "limit"), boolQuery(c, "include_deleted"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationships": views})
}

// Delete handles POST /relationships/delete. The default is a
// reversible soft delete; hard=true removes the edge permanently.
func (h *RelationshipHandler) Delete(c *gin.Context) {
	key, ok := h.bindKey(c)
	if !ok {
		return
	}

	var err error
	if boolQuery(c, "hard") {
		err = h.graffiti.HardDeleteRelationship(c.Request.Context(), key)
	} else {
		err = h.graffiti.SoftDeleteRelationship(c.Request.Context(), key)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Restore handles POST /relationships/restore
func (h *RelationshipHandler) Restore(c *gin.Context) {
	key, ok := h.bindKey(c)
	if !ok {
		return
	}
	if err := h.graffiti.RestoreRelationship(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RelationshipHandler) bindKey(c *gin.Context) (types.RelationshipKey, bool) {
	var req dto.RelationshipKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return types.RelationshipKey{}, false
	}
	return types.RelationshipKey{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Kind:     req.Kind,
		GroupID:  req.GroupID,
	}, true
}
