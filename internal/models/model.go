package models

import "time"

// Model training statuses.
const (
	ModelStatusPending   = "pending"
	ModelStatusTraining  = "training"
	ModelStatusCompleted = "completed"
	ModelStatusFailed    = "failed"
)

// TrainedModel is a read-only view of a trained classification model.
// Training itself happens outside this service; rows are only consumed here.
type TrainedModel struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	ModelType       string     `db:"model_type" json:"model_type"` // xgboost, random_forest, logistic_regression
	DatasetID       string     `db:"dataset_id" json:"dataset_id"`
	Status          string     `db:"status" json:"status"`
	TestSampleCount int        `db:"test_sample_count" json:"test_sample_count"` // Size of the held-out evaluation set
	TrainingSeconds *float64   `db:"training_seconds" json:"training_seconds,omitempty"`
	ModelSizeMB     *float64   `db:"model_size_mb" json:"model_size_mb,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ModelMetrics is the performance snapshot recorded when training completed.
// Every metric is nullable: older runs did not record all of them.
type ModelMetrics struct {
	ID        string    `db:"id" json:"id"`
	ModelID   string    `db:"model_id" json:"model_id"`
	AUCROC    *float64  `db:"auc_roc" json:"auc_roc,omitempty"`
	AUCPR     *float64  `db:"auc_pr" json:"auc_pr,omitempty"`
	F1Score   *float64  `db:"f1_score" json:"f1_score,omitempty"`
	Accuracy  *float64  `db:"accuracy" json:"accuracy,omitempty"`
	Precision *float64  `db:"precision" json:"precision,omitempty"`
	Recall    *float64  `db:"recall" json:"recall,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MetricByKey returns the metric value for a leaderboard metric key,
// or nil when that metric was never recorded for the model.
func (m *ModelMetrics) MetricByKey(key string) *float64 {
	if m == nil {
		return nil
	}
	switch key {
	case "auc_roc":
		return m.AUCROC
	case "auc_pr":
		return m.AUCPR
	case "f1_score":
		return m.F1Score
	case "accuracy":
		return m.Accuracy
	case "precision":
		return m.Precision
	case "recall":
		return m.Recall
	}
	return nil
}
