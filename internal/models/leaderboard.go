package models

// Leaderboard scopes.
const (
	LeaderboardScopeDataset = "dataset"
	LeaderboardScopeGlobal  = "global"
)

// LeaderboardEntry is one per-model row of a computed ranking. It is derived
// on demand from TrainedModel and its metric snapshot and never stored.
type LeaderboardEntry struct {
	ModelID     string   `json:"model_id"`
	ModelName   string   `json:"model_name"`
	ModelType   string   `json:"model_type"`
	DatasetID   string   `json:"dataset_id"`
	Metric      string   `json:"metric"`
	MetricValue *float64 `json:"metric_value"` // nil when the model never recorded this metric
	DatasetRank int      `json:"dataset_rank"`
	GlobalRank  int      `json:"global_rank"`
}
