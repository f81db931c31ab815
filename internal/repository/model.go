package repository

import (
	"database/sql"

	"backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ModelRepository is the read-only view of trained models and their metric
// snapshots. Nothing in this service ever mutates these tables; the training
// pipeline owns them.
type ModelRepository interface {
	GetModelByID(id string) (*models.TrainedModel, error)
	GetModelMetrics(modelID string) (*models.ModelMetrics, error)
	ListModels(datasetID string) ([]*models.TrainedModel, error)
	ListCompletedModels() ([]*models.TrainedModel, error)
}

type modelRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewModelRepository creates a new model registry repository.
func NewModelRepository(db *sqlx.DB, logger *zap.Logger) ModelRepository {
	return &modelRepository{db: db, logger: logger}
}

const modelColumns = `id, name, model_type, dataset_id, status, test_sample_count, training_seconds, model_size_mb, error_message, created_at, updated_at, completed_at`

func (r *modelRepository) GetModelByID(id string) (*models.TrainedModel, error) {
	var model models.TrainedModel
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`
	err := r.db.Get(&model, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Model not found
		}
		return nil, err
	}
	return &model, nil
}

func (r *modelRepository) GetModelMetrics(modelID string) (*models.ModelMetrics, error) {
	var metrics models.ModelMetrics
	query := `SELECT id, model_id, auc_roc, auc_pr, f1_score, accuracy, precision, recall, created_at
	          FROM model_metrics WHERE model_id = $1
	          ORDER BY created_at DESC LIMIT 1`
	err := r.db.Get(&metrics, query, modelID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No metric snapshot recorded
		}
		return nil, err
	}
	return &metrics, nil
}

func (r *modelRepository) ListModels(datasetID string) ([]*models.TrainedModel, error) {
	var list []*models.TrainedModel
	if datasetID != "" {
		query := `SELECT ` + modelColumns + ` FROM models WHERE dataset_id = $1 ORDER BY created_at DESC`
		if err := r.db.Select(&list, query, datasetID); err != nil {
			return nil, err
		}
		return list, nil
	}
	query := `SELECT ` + modelColumns + ` FROM models ORDER BY created_at DESC`
	if err := r.db.Select(&list, query); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *modelRepository) ListCompletedModels() ([]*models.TrainedModel, error) {
	var list []*models.TrainedModel
	query := `SELECT ` + modelColumns + ` FROM models WHERE status = $1 ORDER BY created_at DESC`
	if err := r.db.Select(&list, query, models.ModelStatusCompleted); err != nil {
		return nil, err
	}
	return list, nil
}
