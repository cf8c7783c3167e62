package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	graffiti "github.com/soundprediction/go-graffiti"
	"github.com/soundprediction/go-graffiti/pkg/server/dto"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

// ReconcileHandler handles reconciliation requests
type ReconcileHandler struct {
	graffiti graffiti.Graffiti
}

// NewReconcileHandler creates a new reconcile handler
func NewReconcileHandler(g graffiti.Graffiti) *ReconcileHandler {
	return &ReconcileHandler{graffiti: g}
}

// Reconcile handles POST /reconcile
func (h *ReconcileHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.graffiti.Reconcile(c.Request.Context(),
		req.EpisodeID, req.Content, types.UpdateStrategy(req.Strategy), req.GroupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
