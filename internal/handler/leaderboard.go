package handler

import (
	"errors"
	"net/http"
	"strconv"

	"backend/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LeaderboardHandler interface {
	GetLeaderboard(c *gin.Context)
}

type leaderboardHandler struct {
	leaderboardService service.LeaderboardService
	logger             *zap.Logger
}

func NewLeaderboardHandler(leaderboardService service.LeaderboardService, logger *zap.Logger) LeaderboardHandler {
	return &leaderboardHandler{leaderboardService: leaderboardService, logger: logger}
}

// GetLeaderboard handles GET /api/leaderboard
// Query parameters:
// - metric: metric key to rank by (default: auc_roc)
// - scope: "global" or "dataset" (default: global)
// - dataset_id: restrict to one dataset (optional)
// - limit: number of entries to return (optional)
func (h *leaderboardHandler) GetLeaderboard(c *gin.Context) {
	metric := c.Query("metric")
	if metric == "" {
		metric = "auc_roc"
	}
	scope := c.Query("scope")
	datasetID := c.Query("dataset_id")

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	entries, err := h.leaderboardService.ComputeLeaderboard(metric, scope, datasetID, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMetricKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported metric. Valid values: auc_roc, auc_pr, f1_score, accuracy, precision, recall"})
			return
		}
		h.logger.Error("Failed to compute leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute leaderboard"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metric":  metric,
		"entries": entries,
		"count":   len(entries),
	})
}
