package repository

import (
	"database/sql"
	"time"

	"backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ExplanationRepository persists explanation generation attempts. The
// cache_key unique constraint is what makes concurrent requests for the same
// key agree on a single winner across processes.
type ExplanationRepository interface {
	GetByID(id string) (*models.Explanation, error)
	// GetLatestByKey returns the most recent attempt for the cache key
	// regardless of its status, or nil when the key was never requested.
	GetLatestByKey(modelID, method, scope string, instanceIndex *int) (*models.Explanation, error)
	ListByModel(modelID string) ([]*models.Explanation, error)
	// InsertPending inserts a new pending attempt. Returns ErrDuplicate when
	// another caller already inserted the same cache key.
	InsertPending(expl *models.Explanation) error
	MarkCompleted(id string, features models.FeatureImportanceList, durationSeconds float64, faithfulness, robustness, complexity *float64) error
	MarkFailed(id string, errorMessage string) error
	DeleteByModel(modelID string) error
}

type explanationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewExplanationRepository creates a new explanation repository.
func NewExplanationRepository(db *sqlx.DB, logger *zap.Logger) ExplanationRepository {
	return &explanationRepository{db: db, logger: logger}
}

const explanationColumns = `id, model_id, dataset_id, method, scope, instance_index, attempt, cache_key, feature_importance, faithfulness, robustness, complexity, status, duration_seconds, error_message, created_at, updated_at, completed_at`

func (r *explanationRepository) GetByID(id string) (*models.Explanation, error) {
	var expl models.Explanation
	query := `SELECT ` + explanationColumns + ` FROM explanations WHERE id = $1`
	err := r.db.Get(&expl, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Explanation not found
		}
		return nil, err
	}
	return &expl, nil
}

func (r *explanationRepository) GetLatestByKey(modelID, method, scope string, instanceIndex *int) (*models.Explanation, error) {
	idx := -1
	if instanceIndex != nil {
		idx = *instanceIndex
	}
	var expl models.Explanation
	query := `SELECT ` + explanationColumns + ` FROM explanations
	          WHERE model_id = $1 AND method = $2 AND scope = $3 AND instance_index = $4
	          ORDER BY attempt DESC LIMIT 1`
	err := r.db.Get(&expl, query, modelID, method, scope, idx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Key never requested
		}
		return nil, err
	}
	return &expl, nil
}

func (r *explanationRepository) ListByModel(modelID string) ([]*models.Explanation, error) {
	var list []*models.Explanation
	query := `SELECT ` + explanationColumns + ` FROM explanations WHERE model_id = $1 ORDER BY created_at DESC`
	if err := r.db.Select(&list, query, modelID); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *explanationRepository) InsertPending(expl *models.Explanation) error {
	now := time.Now().UTC()
	expl.Status = models.ExplanationStatusPending
	expl.CreatedAt = now
	expl.UpdatedAt = now

	idx := -1
	if expl.InstanceIndex != nil {
		idx = *expl.InstanceIndex
	}

	query := `INSERT INTO explanations (id, model_id, dataset_id, method, scope, instance_index, attempt, cache_key, feature_importance, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.Exec(query,
		expl.ID, expl.ModelID, expl.DatasetID, expl.Method, expl.Scope, idx,
		expl.Attempt, expl.CacheKey, models.FeatureImportanceList{}, expl.Status,
		expl.CreatedAt, expl.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *explanationRepository) MarkCompleted(id string, features models.FeatureImportanceList, durationSeconds float64, faithfulness, robustness, complexity *float64) error {
	now := time.Now().UTC()
	query := `UPDATE explanations
	          SET status = $1, feature_importance = $2, duration_seconds = $3,
	              faithfulness = $4, robustness = $5, complexity = $6,
	              updated_at = $7, completed_at = $7
	          WHERE id = $8 AND status = $9`
	result, err := r.db.Exec(query,
		models.ExplanationStatusCompleted, features, durationSeconds,
		faithfulness, robustness, complexity, now, id, models.ExplanationStatusPending,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Guard: a completed record is never overwritten.
		return sql.ErrNoRows
	}
	return nil
}

func (r *explanationRepository) MarkFailed(id string, errorMessage string) error {
	now := time.Now().UTC()
	query := `UPDATE explanations
	          SET status = $1, error_message = $2, updated_at = $3, completed_at = $3
	          WHERE id = $4 AND status = $5`
	_, err := r.db.Exec(query, models.ExplanationStatusFailed, errorMessage, now, id, models.ExplanationStatusPending)
	return err
}

// DeleteByModel cascades an explicit model deletion. This is the only path
// that removes explanation rows.
func (r *explanationRepository) DeleteByModel(modelID string) error {
	_, err := r.db.Exec(`DELETE FROM explanations WHERE model_id = $1`, modelID)
	return err
}
