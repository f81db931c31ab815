package handler

import (
	"errors"
	"net/http"

	"backend/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ExplanationHandler interface {
	GenerateExplanation(c *gin.Context)
	GetExplanationByID(c *gin.Context)
	ListExplanationsForModel(c *gin.Context)
}

type explanationHandler struct {
	explService service.ExplanationService
	logger      *zap.Logger
}

func NewExplanationHandler(explService service.ExplanationService, logger *zap.Logger) ExplanationHandler {
	return &explanationHandler{explService: explService, logger: logger}
}

// GenerateRequest is the request body for POST /api/explanations/generate.
type GenerateRequest struct {
	ModelID       string `json:"model_id" binding:"required"`
	Method        string `json:"method" binding:"required,oneof=shap lime"`
	Scope         string `json:"scope" binding:"required,oneof=global local"`
	InstanceIndex *int   `json:"instance_index,omitempty"`
}

// GenerateExplanation handles POST /api/explanations/generate.
// Served from the cache when the key was already computed; otherwise the
// caller waits for the single underlying generation.
func (h *explanationHandler) GenerateExplanation(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind JSON for explanation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	expl, err := h.explService.RequestExplanation(c.Request.Context(), req.ModelID, req.Method, req.Scope, req.InstanceIndex)
	if err != nil {
		h.respondExplanationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"explanation": expl})
}

// GetExplanationByID handles GET /api/explanations/:id.
func (h *explanationHandler) GetExplanationByID(c *gin.Context) {
	id := c.Param("id")

	expl, err := h.explService.GetExplanation(id)
	if err != nil {
		if errors.Is(err, service.ErrExplanationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Explanation not found"})
			return
		}
		h.logger.Error("Failed to get explanation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve explanation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"explanation": expl})
}

// ListExplanationsForModel handles GET /api/models/:id/explanations.
func (h *explanationHandler) ListExplanationsForModel(c *gin.Context) {
	modelID := c.Param("id")

	explanations, err := h.explService.ListExplanationsForModel(modelID)
	if err != nil {
		h.logger.Error("Failed to list explanations", zap.String("model_id", modelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve explanations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"explanations": explanations})
}

func (h *explanationHandler) respondExplanationError(c *gin.Context, err error) {
	var genErr *service.GenerationError
	switch {
	case errors.Is(err, service.ErrModelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
	case errors.Is(err, service.ErrModelNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "Model is not in completed status; retry after training finishes"})
	case errors.Is(err, service.ErrInvalidMethod), errors.Is(err, service.ErrInvalidScope):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInstanceIndex):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Instance index out of range for the model's evaluation set"})
	case errors.As(err, &genErr):
		h.logger.Error("Explanation generation failed",
			zap.String("explanation_id", genErr.ExplanationID),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          "Explanation generation failed",
			"explanation_id": genErr.ExplanationID,
			"detail":         genErr.Err.Error(),
		})
	default:
		h.logger.Error("Explanation request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process explanation request"})
	}
}
