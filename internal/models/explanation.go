package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Explanation methods and scopes.
const (
	MethodSHAP = "shap"
	MethodLIME = "lime"

	ScopeGlobal = "global"
	ScopeLocal  = "local"
)

// Explanation statuses.
const (
	ExplanationStatusPending   = "pending"
	ExplanationStatusCompleted = "completed"
	ExplanationStatusFailed    = "failed"
)

// OtherFeaturesKey aggregates the weight of everything past the retained
// top features in a ranked importance list.
const OtherFeaturesKey = "__other__"

// MaxRankedFeatures is how many individual features an explanation retains.
const MaxRankedFeatures = 20

// FeatureWeight is one entry of a ranked feature-importance list.
type FeatureWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// FeatureImportanceList is an ordered importance ranking stored as JSONB.
// Slice order is importance order.
type FeatureImportanceList []FeatureWeight

// Value implements driver.Valuer for JSONB storage.
func (l FeatureImportanceList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal(FeatureImportanceList{})
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB storage.
func (l *FeatureImportanceList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("unsupported source type %T for FeatureImportanceList", src)
}

// Explanation is one generation attempt for a (model, method, scope, instance)
// cache key. At most one completed row exists per key; failed rows are kept
// so repeated failures can be audited, and a retry creates a new attempt.
type Explanation struct {
	ID                string                `db:"id" json:"id"`
	ModelID           string                `db:"model_id" json:"model_id"`
	DatasetID         string                `db:"dataset_id" json:"dataset_id"`
	Method            string                `db:"method" json:"method"`
	Scope             string                `db:"scope" json:"scope"`
	InstanceIndex     *int                  `db:"instance_index" json:"instance_index,omitempty"`
	Attempt           int                   `db:"attempt" json:"attempt"`
	CacheKey          string                `db:"cache_key" json:"-"`
	FeatureImportance FeatureImportanceList `db:"feature_importance" json:"feature_importance"`
	Faithfulness      *float64              `db:"faithfulness" json:"faithfulness"`
	Robustness        *float64              `db:"robustness" json:"robustness"`
	Complexity        *float64              `db:"complexity" json:"complexity"`
	Status            string                `db:"status" json:"status"`
	DurationSeconds   *float64              `db:"duration_seconds" json:"duration_seconds,omitempty"`
	ErrorMessage      *string               `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time             `db:"updated_at" json:"updated_at"`
	CompletedAt       *time.Time            `db:"completed_at" json:"completed_at,omitempty"`
}

// ExplanationCacheKey builds the unique key a generation attempt is stored
// under. Global explanations use -1 in the instance slot so the uniqueness
// constraint holds (NULLs never collide in Postgres unique indexes).
func ExplanationCacheKey(modelID, method, scope string, instanceIndex *int, attempt int) string {
	idx := -1
	if instanceIndex != nil {
		idx = *instanceIndex
	}
	return fmt.Sprintf("%s:%s:%s:%d:%d", modelID, method, scope, idx, attempt)
}
