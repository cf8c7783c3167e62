package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/go-graffiti/pkg/server/dto"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

// writeError maps the error taxonomy onto HTTP statuses: validation
// failures are the client's fault, collaborator failures are upstream
// errors, and store failures mean the service is degraded.
func writeError(c *gin.Context, err error) {
	var (
		validationErr *types.ValidationError
		notFoundErr   *types.NotFoundError
		conflictErr   *types.ConflictError
		extractionErr *types.ExtractionError
		embeddingErr  *types.EmbeddingError
		storeErr      *types.StoreError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   "conflict",
			Message: err.Error(),
		})
	case errors.As(err, &extractionErr), errors.As(err, &embeddingErr):
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{
			Error:   "collaborator_error",
			Message: err.Error(),
		})
	case errors.As(err, &storeErr):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "store_error",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "invalid_request",
		Message: err.Error(),
	})
}
