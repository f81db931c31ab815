package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"backend/internal/explainer"
	"backend/internal/metrics"
	"backend/internal/models"
	"backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ExplainerClient is the slice of the explainer service this core consumes.
type ExplainerClient interface {
	GlobalExplain(ctx context.Context, req *explainer.GlobalExplainRequest) (*explainer.ExplainResponse, error)
	LocalExplain(ctx context.Context, req *explainer.LocalExplainRequest) (*explainer.ExplainResponse, error)
	VectorExplain(ctx context.Context, req *explainer.VectorExplainRequest) (*explainer.ExplainResponse, error)
	Predict(ctx context.Context, req *explainer.PredictRequest) (*explainer.PredictResponse, error)
	Sample(ctx context.Context, req *explainer.SampleRequest) (*explainer.EvaluationSample, error)
	GetInstance(ctx context.Context, modelID string, instanceIndex int) (*explainer.Instance, error)
}

// ExplanationService coordinates explanation generation and caching. For any
// cache key there is at most one concurrent computation: in-process callers
// are merged through singleflight, and callers in other processes join the
// pending row created under the cache_key unique constraint.
type ExplanationService interface {
	RequestExplanation(ctx context.Context, modelID, method, scope string, instanceIndex *int) (*models.Explanation, error)
	GetExplanation(id string) (*models.Explanation, error)
	ListExplanationsForModel(modelID string) ([]*models.Explanation, error)
}

type explanationService struct {
	modelRepo repository.ModelRepository
	explRepo  repository.ExplanationRepository
	client    ExplainerClient
	scorer    QualityScorer
	logger    *zap.Logger

	group        singleflight.Group
	pollInterval time.Duration
	pendingWait  time.Duration
	sampleSize   int
}

// ExplanationServiceOptions tunes the coordinator's waiting behavior.
type ExplanationServiceOptions struct {
	PollInterval time.Duration
	PendingWait  time.Duration
	SampleSize   int
}

// NewExplanationService creates the explanation cache coordinator.
func NewExplanationService(modelRepo repository.ModelRepository, explRepo repository.ExplanationRepository, client ExplainerClient, scorer QualityScorer, logger *zap.Logger, opts ExplanationServiceOptions) ExplanationService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.PendingWait <= 0 {
		opts.PendingWait = 3 * time.Minute
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 50
	}
	return &explanationService{
		modelRepo:    modelRepo,
		explRepo:     explRepo,
		client:       client,
		scorer:       scorer,
		logger:       logger,
		pollInterval: opts.PollInterval,
		pendingWait:  opts.PendingWait,
		sampleSize:   opts.SampleSize,
	}
}

func (s *explanationService) RequestExplanation(ctx context.Context, modelID, method, scope string, instanceIndex *int) (*models.Explanation, error) {
	if method != models.MethodSHAP && method != models.MethodLIME {
		return nil, ErrInvalidMethod
	}
	if scope != models.ScopeGlobal && scope != models.ScopeLocal {
		return nil, ErrInvalidScope
	}

	model, err := s.modelRepo.GetModelByID(modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", modelID, err)
	}
	if model == nil {
		return nil, ErrModelNotFound
	}
	if model.Status != models.ModelStatusCompleted {
		return nil, ErrModelNotReady
	}
	if scope == models.ScopeLocal {
		if instanceIndex == nil || *instanceIndex < 0 || *instanceIndex >= model.TestSampleCount {
			return nil, ErrInvalidInstanceIndex
		}
	} else {
		instanceIndex = nil
	}

	key := models.ExplanationCacheKey(modelID, method, scope, instanceIndex, 0)
	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.requestLocked(ctx, model, method, scope, instanceIndex)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Explanation), nil
}

// requestLocked runs with at most one caller per key inside this process.
func (s *explanationService) requestLocked(ctx context.Context, model *models.TrainedModel, method, scope string, instanceIndex *int) (*models.Explanation, error) {
	for {
		existing, err := s.explRepo.GetLatestByKey(model.ID, method, scope, instanceIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to look up explanation cache: %w", err)
		}

		switch {
		case existing != nil && existing.Status == models.ExplanationStatusCompleted:
			metrics.CacheHits.WithLabelValues(method, scope).Inc()
			return existing, nil

		case existing != nil && existing.Status == models.ExplanationStatusPending:
			// Another process owns the computation; wait for its terminal state.
			return s.awaitPending(ctx, existing.ID)
		}

		// No record, or only terminal failed attempts: start a fresh attempt.
		attempt := 1
		if existing != nil {
			attempt = existing.Attempt + 1
		}
		expl := &models.Explanation{
			ID:            uuid.New().String(),
			ModelID:       model.ID,
			DatasetID:     model.DatasetID,
			Method:        method,
			Scope:         scope,
			InstanceIndex: instanceIndex,
			Attempt:       attempt,
			CacheKey:      models.ExplanationCacheKey(model.ID, method, scope, instanceIndex, attempt),
		}

		err = s.explRepo.InsertPending(expl)
		if err == repository.ErrDuplicate {
			// Lost the race; loop and join the winner's pending record.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert pending explanation: %w", err)
		}

		metrics.CacheMisses.WithLabelValues(method, scope).Inc()
		// The winner's computation outlives the winner: a caller may stop
		// waiting, but a started generation always runs to a terminal state.
		return s.generate(context.WithoutCancel(ctx), expl, model)
	}
}

// generate invokes the explainer capability, scores the result and records
// the terminal state. The computation is never cancelled once started.
func (s *explanationService) generate(ctx context.Context, expl *models.Explanation, model *models.TrainedModel) (*models.Explanation, error) {
	seed := explanationSeed(expl.ID)
	s.logger.Info("Starting explanation generation",
		zap.String("explanation_id", expl.ID),
		zap.String("model_id", expl.ModelID),
		zap.String("method", expl.Method),
		zap.String("scope", expl.Scope),
		zap.Int64("seed", seed))

	start := time.Now()
	var resp *explainer.ExplainResponse
	var err error
	if expl.Scope == models.ScopeGlobal {
		resp, err = s.client.GlobalExplain(ctx, &explainer.GlobalExplainRequest{
			ModelID:    expl.ModelID,
			Method:     expl.Method,
			SampleSize: s.sampleSize,
			Seed:       seed,
		})
	} else {
		resp, err = s.client.LocalExplain(ctx, &explainer.LocalExplainRequest{
			ModelID:       expl.ModelID,
			Method:        expl.Method,
			InstanceIndex: *expl.InstanceIndex,
			Seed:          seed,
		})
	}
	duration := time.Since(start).Seconds()

	if err != nil {
		metrics.GenerationFailures.WithLabelValues(expl.Method, expl.Scope).Inc()
		s.logger.Error("Explanation generation failed",
			zap.String("explanation_id", expl.ID),
			zap.Error(err))
		if markErr := s.explRepo.MarkFailed(expl.ID, err.Error()); markErr != nil {
			s.logger.Error("Failed to record failed explanation",
				zap.String("explanation_id", expl.ID),
				zap.Error(markErr))
		}
		return nil, &GenerationError{ExplanationID: expl.ID, Err: err}
	}

	features := explainer.NormalizeImportance(resp.Features)
	expl.FeatureImportance = features

	// Quality scores are advisory: a scoring failure nulls the field, it
	// never fails the explanation.
	faithfulness, robustness, complexity := s.scorer.Score(ctx, expl, seed)

	metrics.GenerationDuration.WithLabelValues(expl.Method, expl.Scope).Observe(duration)

	if err := s.explRepo.MarkCompleted(expl.ID, features, duration, faithfulness, robustness, complexity); err != nil {
		return nil, fmt.Errorf("failed to record completed explanation: %w", err)
	}

	final, err := s.explRepo.GetByID(expl.ID)
	if err != nil || final == nil {
		return nil, fmt.Errorf("failed to reload completed explanation %s: %w", expl.ID, err)
	}

	s.logger.Info("Explanation generated successfully",
		zap.String("explanation_id", expl.ID),
		zap.Float64("duration_seconds", duration))
	return final, nil
}

// awaitPending polls an in-flight record owned by another process until it
// reaches a terminal state.
func (s *explanationService) awaitPending(ctx context.Context, id string) (*models.Explanation, error) {
	deadline := time.Now().Add(s.pendingWait)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		expl, err := s.explRepo.GetByID(id)
		if err != nil {
			return nil, fmt.Errorf("failed to poll pending explanation %s: %w", id, err)
		}
		if expl == nil {
			return nil, ErrExplanationNotFound
		}
		switch expl.Status {
		case models.ExplanationStatusCompleted:
			metrics.CacheHits.WithLabelValues(expl.Method, expl.Scope).Inc()
			return expl, nil
		case models.ExplanationStatusFailed:
			msg := "generation failed"
			if expl.ErrorMessage != nil {
				msg = *expl.ErrorMessage
			}
			return nil, &GenerationError{ExplanationID: expl.ID, Err: fmt.Errorf("%s", msg)}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for in-flight explanation %s", id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *explanationService) GetExplanation(id string) (*models.Explanation, error) {
	expl, err := s.explRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if expl == nil {
		return nil, ErrExplanationNotFound
	}
	return expl, nil
}

func (s *explanationService) ListExplanationsForModel(modelID string) ([]*models.Explanation, error) {
	return s.explRepo.ListByModel(modelID)
}

// explanationSeed derives the deterministic random seed for a generation
// attempt from the explanation's own id, so re-running the same record
// reproduces its output.
func explanationSeed(explanationID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(explanationID))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
