package service

import (
	"testing"

	"backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func entry(modelID, datasetID string, value *float64) *models.LeaderboardEntry {
	return &models.LeaderboardEntry{
		ModelID:     modelID,
		DatasetID:   datasetID,
		Metric:      "auc_roc",
		MetricValue: value,
	}
}

func TestRankEntries_TiesShareRankAndSkip(t *testing.T) {
	entries := []*models.LeaderboardEntry{
		entry("m1", "d1", floatPtr(0.9)),
		entry("m2", "d1", nil),
		entry("m3", "d1", floatPtr(0.7)),
		entry("m4", "d1", floatPtr(0.9)),
	}

	RankEntries(entries)

	// Sorted order: 0.9, 0.9, 0.7, missing. The tie shares rank 1 and the
	// next distinct value skips to rank 3.
	require.Len(t, entries, 4)
	assert.Equal(t, "m1", entries[0].ModelID)
	assert.Equal(t, 1, entries[0].GlobalRank)
	assert.Equal(t, "m4", entries[1].ModelID)
	assert.Equal(t, 1, entries[1].GlobalRank)
	assert.Equal(t, "m3", entries[2].ModelID)
	assert.Equal(t, 3, entries[2].GlobalRank)
	assert.Equal(t, "m2", entries[3].ModelID)
	assert.Equal(t, 4, entries[3].GlobalRank)
}

func TestRankEntries_MissingValuesNeverTie(t *testing.T) {
	entries := []*models.LeaderboardEntry{
		entry("m1", "d1", nil),
		entry("m2", "d1", nil),
		entry("m3", "d1", floatPtr(0.5)),
	}

	RankEntries(entries)

	assert.Equal(t, "m3", entries[0].ModelID)
	assert.Equal(t, 1, entries[0].GlobalRank)
	assert.Equal(t, 2, entries[1].GlobalRank)
	assert.Equal(t, 3, entries[2].GlobalRank)
}

func TestRankEntries_DatasetRanksArePartitioned(t *testing.T) {
	entries := []*models.LeaderboardEntry{
		entry("m1", "d1", floatPtr(0.9)),
		entry("m2", "d2", floatPtr(0.95)),
		entry("m3", "d1", floatPtr(0.8)),
		entry("m4", "d2", floatPtr(0.6)),
	}

	RankEntries(entries)

	byModel := make(map[string]*models.LeaderboardEntry)
	for _, e := range entries {
		byModel[e.ModelID] = e
	}

	// Global ranking spans all datasets.
	assert.Equal(t, 1, byModel["m2"].GlobalRank)
	assert.Equal(t, 2, byModel["m1"].GlobalRank)
	assert.Equal(t, 3, byModel["m3"].GlobalRank)
	assert.Equal(t, 4, byModel["m4"].GlobalRank)

	// Dataset ranking restarts within each dataset.
	assert.Equal(t, 1, byModel["m1"].DatasetRank)
	assert.Equal(t, 2, byModel["m3"].DatasetRank)
	assert.Equal(t, 1, byModel["m2"].DatasetRank)
	assert.Equal(t, 2, byModel["m4"].DatasetRank)
}

func TestComputeLeaderboard(t *testing.T) {
	modelRepo := newFakeModelRepo()

	add := func(id, dataset string, status string, auc *float64) {
		modelRepo.addModel(&models.TrainedModel{
			ID:        id,
			Name:      "model " + id,
			ModelType: "xgboost",
			DatasetID: dataset,
			Status:    status,
		})
		if status == models.ModelStatusCompleted {
			modelRepo.addMetrics(&models.ModelMetrics{ID: id + "-metrics", ModelID: id, AUCROC: auc})
		}
	}
	add("m1", "d1", models.ModelStatusCompleted, floatPtr(0.91))
	add("m2", "d1", models.ModelStatusCompleted, floatPtr(0.85))
	add("m3", "d2", models.ModelStatusCompleted, nil)
	add("m4", "d2", models.ModelStatusFailed, floatPtr(0.99))

	svc := NewLeaderboardService(modelRepo, zap.NewNop())

	entries, err := svc.ComputeLeaderboard("", "", "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3, "only completed models are ranked")
	assert.Equal(t, "m1", entries[0].ModelID)
	assert.Equal(t, "auc_roc", entries[0].Metric, "metric defaults to auc_roc")
	assert.Equal(t, "m3", entries[2].ModelID, "missing metric sorts last")
	assert.Nil(t, entries[2].MetricValue)

	filtered, err := svc.ComputeLeaderboard("auc_roc", models.LeaderboardScopeGlobal, "d1", 0)
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, 1, filtered[0].GlobalRank)
	assert.Equal(t, 1, filtered[0].DatasetRank)

	limited, err := svc.ComputeLeaderboard("auc_roc", "", "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "m1", limited[0].ModelID)

	_, err = svc.ComputeLeaderboard("coolness", "", "", 0)
	assert.ErrorIs(t, err, ErrInvalidMetricKey)

	_, err = svc.ComputeLeaderboard("auc_roc", "galaxy", "", 0)
	assert.Error(t, err)
}

func TestComputeLeaderboard_RecomputesEveryCall(t *testing.T) {
	modelRepo := newFakeModelRepo()
	modelRepo.addModel(&models.TrainedModel{ID: "m1", Name: "m1", ModelType: "xgboost", DatasetID: "d1", Status: models.ModelStatusCompleted})
	modelRepo.addMetrics(&models.ModelMetrics{ID: "x", ModelID: "m1", AUCROC: floatPtr(0.8)})

	svc := NewLeaderboardService(modelRepo, zap.NewNop())

	first, err := svc.ComputeLeaderboard("auc_roc", "", "", 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A model completing after the first call shows up on the next one.
	modelRepo.addModel(&models.TrainedModel{ID: "m2", Name: "m2", ModelType: "random_forest", DatasetID: "d1", Status: models.ModelStatusCompleted})
	modelRepo.addMetrics(&models.ModelMetrics{ID: "y", ModelID: "m2", AUCROC: floatPtr(0.9)})

	second, err := svc.ComputeLeaderboard("auc_roc", "", "", 0)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "m2", second[0].ModelID)
}
