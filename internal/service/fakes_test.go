package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend/internal/explainer"
	"backend/internal/models"
	"backend/internal/repository"
)

// fakeModelRepo serves trained models and metrics from memory.
type fakeModelRepo struct {
	mu      sync.Mutex
	models  map[string]*models.TrainedModel
	metrics map[string]*models.ModelMetrics
}

func newFakeModelRepo() *fakeModelRepo {
	return &fakeModelRepo{
		models:  make(map[string]*models.TrainedModel),
		metrics: make(map[string]*models.ModelMetrics),
	}
}

func (f *fakeModelRepo) addModel(m *models.TrainedModel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[m.ID] = m
}

func (f *fakeModelRepo) addMetrics(m *models.ModelMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[m.ModelID] = m
}

func (f *fakeModelRepo) GetModelByID(id string) (*models.TrainedModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models[id], nil
}

func (f *fakeModelRepo) GetModelMetrics(modelID string) (*models.ModelMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics[modelID], nil
}

func (f *fakeModelRepo) ListModels(datasetID string) ([]*models.TrainedModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TrainedModel
	for _, m := range f.models {
		if datasetID == "" || m.DatasetID == datasetID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeModelRepo) ListCompletedModels() ([]*models.TrainedModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TrainedModel
	for _, m := range f.models {
		if m.Status == models.ModelStatusCompleted {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeExplanationRepo mimics the Postgres cache table, including the
// cache_key unique constraint.
type fakeExplanationRepo struct {
	mu      sync.Mutex
	byID    map[string]*models.Explanation
	byKey   map[string]*models.Explanation
	inserts int
}

func newFakeExplanationRepo() *fakeExplanationRepo {
	return &fakeExplanationRepo{
		byID:  make(map[string]*models.Explanation),
		byKey: make(map[string]*models.Explanation),
	}
}

func (f *fakeExplanationRepo) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

func copyExplanation(e *models.Explanation) *models.Explanation {
	c := *e
	return &c
}

func (f *fakeExplanationRepo) GetByID(id string) (*models.Explanation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return copyExplanation(e), nil
}

func (f *fakeExplanationRepo) GetLatestByKey(modelID, method, scope string, instanceIndex *int) (*models.Explanation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Explanation
	for _, e := range f.byID {
		if e.ModelID != modelID || e.Method != method || e.Scope != scope {
			continue
		}
		if (e.InstanceIndex == nil) != (instanceIndex == nil) {
			continue
		}
		if e.InstanceIndex != nil && *e.InstanceIndex != *instanceIndex {
			continue
		}
		if latest == nil || e.Attempt > latest.Attempt {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyExplanation(latest), nil
}

func (f *fakeExplanationRepo) ListByModel(modelID string) ([]*models.Explanation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Explanation
	for _, e := range f.byID {
		if e.ModelID == modelID {
			out = append(out, copyExplanation(e))
		}
	}
	return out, nil
}

func (f *fakeExplanationRepo) InsertPending(expl *models.Explanation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byKey[expl.CacheKey]; exists {
		return repository.ErrDuplicate
	}
	expl.Status = models.ExplanationStatusPending
	expl.CreatedAt = time.Now().UTC()
	expl.UpdatedAt = expl.CreatedAt
	stored := copyExplanation(expl)
	f.byID[stored.ID] = stored
	f.byKey[stored.CacheKey] = stored
	f.inserts++
	return nil
}

func (f *fakeExplanationRepo) MarkCompleted(id string, features models.FeatureImportanceList, durationSeconds float64, faithfulness, robustness, complexity *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok || e.Status != models.ExplanationStatusPending {
		return fmt.Errorf("no pending explanation %s", id)
	}
	now := time.Now().UTC()
	e.Status = models.ExplanationStatusCompleted
	e.FeatureImportance = features
	e.DurationSeconds = &durationSeconds
	e.Faithfulness = faithfulness
	e.Robustness = robustness
	e.Complexity = complexity
	e.UpdatedAt = now
	e.CompletedAt = &now
	return nil
}

func (f *fakeExplanationRepo) MarkFailed(id string, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok || e.Status != models.ExplanationStatusPending {
		return fmt.Errorf("no pending explanation %s", id)
	}
	now := time.Now().UTC()
	e.Status = models.ExplanationStatusFailed
	e.ErrorMessage = &errorMessage
	e.UpdatedAt = now
	e.CompletedAt = &now
	return nil
}

func (f *fakeExplanationRepo) DeleteByModel(modelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, e := range f.byID {
		if e.ModelID == modelID {
			delete(f.byKey, e.CacheKey)
			delete(f.byID, id)
		}
	}
	return nil
}

// fakeExplainerClient returns canned responses and counts calls.
type fakeExplainerClient struct {
	mu sync.Mutex

	globalCalls int
	localCalls  int
	vectorCalls int

	globalFn func(ctx context.Context, req *explainer.GlobalExplainRequest) (*explainer.ExplainResponse, error)
	localFn  func(ctx context.Context, req *explainer.LocalExplainRequest) (*explainer.ExplainResponse, error)
	vectorFn func(ctx context.Context, req *explainer.VectorExplainRequest) (*explainer.ExplainResponse, error)
	predict  func(req *explainer.PredictRequest) (*explainer.PredictResponse, error)
	sample   func(req *explainer.SampleRequest) (*explainer.EvaluationSample, error)
	instance func(modelID string, instanceIndex int) (*explainer.Instance, error)
}

func (f *fakeExplainerClient) GlobalExplain(ctx context.Context, req *explainer.GlobalExplainRequest) (*explainer.ExplainResponse, error) {
	f.mu.Lock()
	f.globalCalls++
	f.mu.Unlock()
	if f.globalFn == nil {
		return nil, fmt.Errorf("global explain not configured")
	}
	return f.globalFn(ctx, req)
}

func (f *fakeExplainerClient) LocalExplain(ctx context.Context, req *explainer.LocalExplainRequest) (*explainer.ExplainResponse, error) {
	f.mu.Lock()
	f.localCalls++
	f.mu.Unlock()
	if f.localFn == nil {
		return nil, fmt.Errorf("local explain not configured")
	}
	return f.localFn(ctx, req)
}

func (f *fakeExplainerClient) VectorExplain(ctx context.Context, req *explainer.VectorExplainRequest) (*explainer.ExplainResponse, error) {
	f.mu.Lock()
	f.vectorCalls++
	f.mu.Unlock()
	if f.vectorFn == nil {
		return nil, fmt.Errorf("vector explain not configured")
	}
	return f.vectorFn(ctx, req)
}

func (f *fakeExplainerClient) Predict(ctx context.Context, req *explainer.PredictRequest) (*explainer.PredictResponse, error) {
	if f.predict == nil {
		return nil, fmt.Errorf("predict not configured")
	}
	return f.predict(req)
}

func (f *fakeExplainerClient) Sample(ctx context.Context, req *explainer.SampleRequest) (*explainer.EvaluationSample, error) {
	if f.sample == nil {
		return nil, fmt.Errorf("sample not configured")
	}
	return f.sample(req)
}

func (f *fakeExplainerClient) GetInstance(ctx context.Context, modelID string, instanceIndex int) (*explainer.Instance, error) {
	if f.instance == nil {
		return nil, fmt.Errorf("instance not configured")
	}
	return f.instance(modelID, instanceIndex)
}

// fakeScorer returns fixed quality scores.
type fakeScorer struct {
	faithfulness *float64
	robustness   *float64
	complexity   *float64
}

func (f *fakeScorer) Score(ctx context.Context, expl *models.Explanation, seed int64) (*float64, *float64, *float64) {
	return f.faithfulness, f.robustness, f.complexity
}

// fakeStudyRepo mimics the study tables, including the one-answer-per-question
// constraint and the atomic completion transition.
type fakeStudyRepo struct {
	mu        sync.Mutex
	questions map[string]*models.StudyQuestion
	order     []string
	sessions  map[string]*models.StudySession
	evals     map[string]*models.HumanEvaluation // keyed session_id+question_id
}

func newFakeStudyRepo() *fakeStudyRepo {
	return &fakeStudyRepo{
		questions: make(map[string]*models.StudyQuestion),
		sessions:  make(map[string]*models.StudySession),
		evals:     make(map[string]*models.HumanEvaluation),
	}
}

func (f *fakeStudyRepo) addQuestion(q *models.StudyQuestion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions[q.ID] = q
	f.order = append(f.order, q.ID)
}

func (f *fakeStudyRepo) ListActiveQuestions() ([]*models.StudyQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StudyQuestion
	for _, id := range f.order {
		if q := f.questions[id]; q.Active {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeStudyRepo) GetQuestionByID(id string) (*models.StudyQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questions[id], nil
}

func (f *fakeStudyRepo) CreateSession(session *models.StudySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.Status = models.SessionStatusInProgress
	session.CreatedAt = time.Now().UTC()
	session.UpdatedAt = session.CreatedAt
	c := *session
	f.sessions[session.ID] = &c
	return nil
}

func (f *fakeStudyRepo) GetSessionByID(id string) (*models.StudySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (f *fakeStudyRepo) RecordEvaluation(eval *models.HumanEvaluation) (*models.StudySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := eval.SessionID + ":" + eval.QuestionID
	if _, exists := f.evals[key]; exists {
		return nil, repository.ErrDuplicate
	}
	eval.CreatedAt = time.Now().UTC()
	f.evals[key] = eval

	s := f.sessions[eval.SessionID]
	s.CompletedQuestions++
	s.UpdatedAt = time.Now().UTC()
	if s.CompletedQuestions >= s.TotalQuestions {
		s.Status = models.SessionStatusCompleted
		now := time.Now().UTC()
		s.CompletedAt = &now
	}
	c := *s
	return &c, nil
}

func (f *fakeStudyRepo) UpdateSessionStatus(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStudyRepo) ListSessionAnswers(sessionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, eval := range f.evals {
		if eval.SessionID == sessionID {
			out = append(out, eval.QuestionID)
		}
	}
	return out, nil
}

func (f *fakeStudyRepo) ListQualifyingEvaluations(modelID, method string) ([]*models.HumanEvaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.HumanEvaluation
	for _, eval := range f.evals {
		if !eval.ExplanationShown {
			continue
		}
		if modelID != "" && eval.ModelID != modelID {
			continue
		}
		if method != "" && eval.Method != method {
			continue
		}
		out = append(out, eval)
	}
	return out, nil
}
