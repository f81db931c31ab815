package service

import (
	"fmt"
	"sort"

	"backend/internal/models"
	"backend/internal/repository"

	"go.uber.org/zap"
)

// leaderboardMetrics are the metric keys a leaderboard can rank by.
var leaderboardMetrics = map[string]bool{
	"auc_roc":   true,
	"auc_pr":    true,
	"f1_score":  true,
	"accuracy":  true,
	"precision": true,
	"recall":    true,
}

// LeaderboardService computes model rankings on demand. It has no state of
// its own and no side effects; every call re-reads the completed models.
type LeaderboardService interface {
	ComputeLeaderboard(metricKey, scope, datasetID string, limit int) ([]*models.LeaderboardEntry, error)
}

type leaderboardService struct {
	modelRepo repository.ModelRepository
	logger    *zap.Logger
}

// NewLeaderboardService creates a new leaderboard service.
func NewLeaderboardService(modelRepo repository.ModelRepository, logger *zap.Logger) LeaderboardService {
	return &leaderboardService{modelRepo: modelRepo, logger: logger}
}

func (s *leaderboardService) ComputeLeaderboard(metricKey, scope, datasetID string, limit int) ([]*models.LeaderboardEntry, error) {
	if metricKey == "" {
		metricKey = "auc_roc"
	}
	if !leaderboardMetrics[metricKey] {
		return nil, ErrInvalidMetricKey
	}
	if scope == "" {
		scope = models.LeaderboardScopeGlobal
	}
	if scope != models.LeaderboardScopeGlobal && scope != models.LeaderboardScopeDataset {
		return nil, fmt.Errorf("unsupported leaderboard scope %q", scope)
	}

	completed, err := s.modelRepo.ListCompletedModels()
	if err != nil {
		return nil, fmt.Errorf("failed to list completed models: %w", err)
	}

	entries := make([]*models.LeaderboardEntry, 0, len(completed))
	for _, model := range completed {
		if datasetID != "" && model.DatasetID != datasetID {
			continue
		}
		metricsRow, err := s.modelRepo.GetModelMetrics(model.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load metrics for model %s: %w", model.ID, err)
		}
		entries = append(entries, &models.LeaderboardEntry{
			ModelID:     model.ID,
			ModelName:   model.Name,
			ModelType:   model.ModelType,
			DatasetID:   model.DatasetID,
			Metric:      metricKey,
			MetricValue: metricsRow.MetricByKey(metricKey),
		})
	}

	RankEntries(entries)

	if scope == models.LeaderboardScopeDataset {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].DatasetID != entries[j].DatasetID {
				return entries[i].DatasetID < entries[j].DatasetID
			}
			return entries[i].DatasetRank < entries[j].DatasetRank
		})
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	s.logger.Info("Leaderboard computed",
		zap.String("metric", metricKey),
		zap.String("scope", scope),
		zap.Int("entries", len(entries)))
	return entries, nil
}

// RankEntries assigns both the global rank and the per-dataset rank to every
// entry and leaves the slice sorted by global rank. Ordering is descending by
// metric value with missing values last; equal values share a rank and the
// next distinct value skips the tied count (RANK semantics). A missing value
// never ties with anything, not even another missing value.
func RankEntries(entries []*models.LeaderboardEntry) {
	sortEntries(entries)
	assignRanks(entries, func(e *models.LeaderboardEntry, rank int) { e.GlobalRank = rank })

	byDataset := make(map[string][]*models.LeaderboardEntry)
	for _, e := range entries {
		byDataset[e.DatasetID] = append(byDataset[e.DatasetID], e)
	}
	for _, partition := range byDataset {
		sortEntries(partition)
		assignRanks(partition, func(e *models.LeaderboardEntry, rank int) { e.DatasetRank = rank })
	}
}

func sortEntries(entries []*models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		vi, vj := entries[i].MetricValue, entries[j].MetricValue
		switch {
		case vi == nil && vj == nil:
			return entries[i].ModelID < entries[j].ModelID
		case vi == nil:
			return false // nulls sort last
		case vj == nil:
			return true
		case *vi != *vj:
			return *vi > *vj
		}
		return entries[i].ModelID < entries[j].ModelID
	})
}

func assignRanks(sorted []*models.LeaderboardEntry, set func(*models.LeaderboardEntry, int)) {
	ranks := make([]int, len(sorted))
	for i, e := range sorted {
		ranks[i] = i + 1
		if i > 0 && e.MetricValue != nil && sorted[i-1].MetricValue != nil && *e.MetricValue == *sorted[i-1].MetricValue {
			ranks[i] = ranks[i-1]
		}
		set(e, ranks[i])
	}
}
