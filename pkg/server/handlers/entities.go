package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	graffiti "github.com/soundprediction/go-graffiti"
	"github.com/soundprediction/go-graffiti/pkg/entities"
	"github.com/soundprediction/go-graffiti/pkg/server/dto"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

// EntityHandler handles entity lifecycle requests
type EntityHandler struct {
	graffiti graffiti.Graffiti
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(g graffiti.Graffiti) *EntityHandler {
	return &EntityHandler{graffiti: g}
}

// Create handles POST /entities
func (h *EntityHandler) Create(c *gin.Context) {
	var req dto.CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	entity, err := h.graffiti.CreateEntity(c.Request.Context(), entities.CreateInput{
		ID:         req.ID,
		Type:       req.Type,
		Name:       req.Name,
		Summary:    req.Summary,
		Properties: req.Properties,
		GroupID:    req.GroupID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entity)
}

// Get handles GET /entities/:id
func (h *EntityHandler) Get(c *gin.Context) {
	entity, err := h.graffiti.GetEntity(c.Request.Context(),
		c.Param("id"), c.Query("group_id"), boolQuery(c, "include_deleted"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// List handles GET /entities
func (h *EntityHandler) List(c *gin.Context) {
	listed, err := h.graffiti.ListEntitiesByType(c.Request.Context(),
		c.Query("type"), c.Query("group_id"), intQuery(c, "limit"), boolQuery(c, "include_deleted"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": listed})
}

// Update handles PATCH /entities/:id
func (h *EntityHandler) Update(c *gin.Context) {
	var req dto.UpdateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	entity, err := h.graffiti.UpdateEntity(c.Request.Context(), c.Param("id"), req.GroupID, types.EntityUpdate{
		Name:       req.Name,
		Summary:    req.Summary,
		Properties: req.Properties,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// Delete handles DELETE /entities/:id. The default is a reversible
// soft delete; hard=true removes the entity and every incident
// relationship.
func (h *EntityHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	group := c.Query("group_id")

	var err error
	if boolQuery(c, "hard") {
		err = h.graffiti.HardDeleteEntity(ctx, id, group)
	} else {
		err = h.graffiti.SoftDeleteEntity(ctx, id, group)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Restore handles POST /entities/:id/restore
func (h *EntityHandler) Restore(c *gin.Context) {
	if err := h.graffiti.RestoreEntity(c.Request.Context(), c.Param("id"), c.Query("group_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Search handles POST /entities/search
func (h *EntityHandler) Search(c *gin.Context) {
	var req dto.SearchEntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	found, err := h.graffiti.SearchEntities(c.Request.Context(), req.Query, req.GroupID, req.EntityTypes, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": found})
}

func boolQuery(c *gin.Context, name string) bool {
	value, _ := strconv.ParseBool(c.Query(name))
	return value
}

func intQuery(c *gin.Context, name string) int {
	value, _ := strconv.Atoi(c.Query(name))
	return value
}
