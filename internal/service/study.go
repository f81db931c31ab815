package service

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"

	"backend/internal/metrics"
	"backend/internal/models"
	"backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EvaluationInput is one participant rating submission.
type EvaluationInput struct {
	TrustScore         int
	UnderstandingScore int
	UsefulnessScore    int
	TimeSpentSeconds   float64
	Comments           *string
}

// StudyService runs human evaluation sessions: reproducible randomized
// question sequences, rating collection and per-(model, method) aggregation.
type StudyService interface {
	StartSession(participantCode string, questionCount int) (*models.StudySession, error)
	SubmitEvaluation(sessionID, questionID string, input *EvaluationInput) (*models.StudySession, error)
	Abandon(sessionID string) error
	Progress(sessionID string) (*models.SessionProgress, error)
	NextQuestion(sessionID string) (*models.StudyQuestion, error)
	Summarize(modelID, method string) ([]*models.StudySummary, error)
}

type studyService struct {
	repo   repository.StudyRepository
	logger *zap.Logger
}

// NewStudyService creates a new study session engine.
func NewStudyService(repo repository.StudyRepository, logger *zap.Logger) StudyService {
	return &studyService{repo: repo, logger: logger}
}

func (s *studyService) StartSession(participantCode string, questionCount int) (*models.StudySession, error) {
	if questionCount <= 0 {
		return nil, fmt.Errorf("question count must be positive")
	}

	pool, err := s.repo.ListActiveQuestions()
	if err != nil {
		return nil, fmt.Errorf("failed to load question pool: %w", err)
	}
	if questionCount > len(pool) {
		return nil, ErrInsufficientQuestionPool
	}

	seed, err := newRandomizationSeed()
	if err != nil {
		return nil, fmt.Errorf("failed to generate randomization seed: %w", err)
	}

	// Snapshot order is question id ascending; the repository already returns
	// the pool that way. The stored seed replayed against the same snapshot
	// reproduces the identical sequence.
	poolIDs := make([]string, len(pool))
	for i, q := range pool {
		poolIDs[i] = q.ID
	}
	shuffled := ShuffleQuestionIDs(poolIDs, seed)

	if participantCode == "" {
		participantCode = generateParticipantCode()
	}

	session := &models.StudySession{
		ID:                uuid.New().String(),
		ParticipantCode:   participantCode,
		RandomizationSeed: seed,
		QuestionIDs:       shuffled[:questionCount],
		TotalQuestions:    questionCount,
		Status:            models.SessionStatusInProgress,
	}

	if err := s.repo.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create study session: %w", err)
	}

	metrics.StudySessionsStarted.Inc()
	s.logger.Info("Study session started",
		zap.String("session_id", session.ID),
		zap.String("participant_code", session.ParticipantCode),
		zap.Int("num_questions", questionCount),
		zap.Int64("randomization_seed", seed))
	return session, nil
}

func (s *studyService) SubmitEvaluation(sessionID, questionID string, input *EvaluationInput) (*models.StudySession, error) {
	if !validRating(input.TrustScore) || !validRating(input.UnderstandingScore) || !validRating(input.UsefulnessScore) {
		return nil, ErrInvalidRating
	}

	session, err := s.repo.GetSessionByID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != models.SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}
	if !containsID(session.QuestionIDs, questionID) {
		return nil, ErrQuestionNotInSession
	}

	question, err := s.repo.GetQuestionByID(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question %s: %w", questionID, err)
	}
	if question == nil {
		return nil, ErrQuestionNotInSession
	}

	eval := &models.HumanEvaluation{
		ID:                 uuid.New().String(),
		SessionID:          sessionID,
		QuestionID:         questionID,
		ModelID:            question.ModelID,
		Method:             question.Method,
		TrustScore:         input.TrustScore,
		UnderstandingScore: input.UnderstandingScore,
		UsefulnessScore:    input.UsefulnessScore,
		TimeSpentSeconds:   input.TimeSpentSeconds,
		ExplanationShown:   question.Method != models.MethodNone,
		Comments:           input.Comments,
	}

	updated, err := s.repo.RecordEvaluation(eval)
	if err == repository.ErrDuplicate {
		return nil, ErrDuplicateAnswer
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record evaluation: %w", err)
	}

	metrics.StudyEvaluationsRecorded.Inc()
	if updated.Status == models.SessionStatusCompleted {
		s.logger.Info("Study session completed",
			zap.String("session_id", sessionID),
			zap.Int("total_questions", updated.TotalQuestions))
	}
	return updated, nil
}

func (s *studyService) Abandon(sessionID string) error {
	session, err := s.repo.GetSessionByID(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.Status != models.SessionStatusInProgress {
		return ErrSessionNotActive
	}
	if err := s.repo.UpdateSessionStatus(sessionID, models.SessionStatusAbandoned); err != nil {
		return fmt.Errorf("failed to abandon session: %w", err)
	}
	s.logger.Info("Study session abandoned", zap.String("session_id", sessionID))
	return nil
}

func (s *studyService) Progress(sessionID string) (*models.SessionProgress, error) {
	session, err := s.repo.GetSessionByID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	var pct float64
	if session.TotalQuestions > 0 {
		pct = float64(session.CompletedQuestions) / float64(session.TotalQuestions) * 100
	}
	return &models.SessionProgress{
		SessionID:          session.ID,
		TotalQuestions:     session.TotalQuestions,
		CompletedQuestions: session.CompletedQuestions,
		ProgressPercentage: pct,
		Status:             session.Status,
	}, nil
}

func (s *studyService) NextQuestion(sessionID string) (*models.StudyQuestion, error) {
	session, err := s.repo.GetSessionByID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != models.SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}

	answered, err := s.repo.ListSessionAnswers(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session answers: %w", err)
	}
	answeredSet := make(map[string]bool, len(answered))
	for _, id := range answered {
		answeredSet[id] = true
	}

	for _, id := range session.QuestionIDs {
		if answeredSet[id] {
			continue
		}
		question, err := s.repo.GetQuestionByID(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load question %s: %w", id, err)
		}
		if question == nil {
			return nil, fmt.Errorf("session references missing question %s", id)
		}
		return question, nil
	}
	// Every question answered; the session should already be completed.
	return nil, ErrSessionNotActive
}

func (s *studyService) Summarize(modelID, method string) ([]*models.StudySummary, error) {
	evals, err := s.repo.ListQualifyingEvaluations(modelID, method)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluations: %w", err)
	}

	type groupKey struct {
		modelID string
		method  string
	}
	groups := make(map[groupKey][]*models.HumanEvaluation)
	for _, eval := range evals {
		key := groupKey{modelID: eval.ModelID, method: eval.Method}
		groups[key] = append(groups[key], eval)
	}

	summaries := make([]*models.StudySummary, 0, len(groups))
	for key, rows := range groups {
		trust := make([]float64, len(rows))
		understanding := make([]float64, len(rows))
		usefulness := make([]float64, len(rows))
		timeSpent := make([]float64, len(rows))
		for i, row := range rows {
			trust[i] = float64(row.TrustScore)
			understanding[i] = float64(row.UnderstandingScore)
			usefulness[i] = float64(row.UsefulnessScore)
			timeSpent[i] = row.TimeSpentSeconds
		}

		meanTrust := mean(trust)
		meanUnderstanding := mean(understanding)
		meanUsefulness := mean(usefulness)

		summaries = append(summaries, &models.StudySummary{
			ModelID:             key.modelID,
			Method:              key.method,
			NumEvaluations:      len(rows),
			MeanTrust:           meanTrust,
			StdTrust:            populationStd(trust),
			MeanUnderstanding:   meanUnderstanding,
			StdUnderstanding:    populationStd(understanding),
			MeanUsefulness:      meanUsefulness,
			StdUsefulness:       populationStd(usefulness),
			MeanTimeSpent:       mean(timeSpent),
			CompositeHumanScore: (meanTrust + meanUnderstanding + meanUsefulness) / 3,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].ModelID != summaries[j].ModelID {
			return summaries[i].ModelID < summaries[j].ModelID
		}
		return summaries[i].Method < summaries[j].Method
	})
	return summaries, nil
}

// splitmix64 is the reference Steele/Lea/Flood mixer. The recurrence is fully
// specified by these constants, so any implementation in any language replays
// the identical stream from the same seed.
type splitmix64 struct {
	state uint64
}

func (s *splitmix64) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// ShuffleQuestionIDs runs a Fisher-Yates shuffle over the pool snapshot with
// an explicit seed, drawing indices from splitmix64 by modulo. The same
// (ids, seed) pair always yields the same order in any process or runtime,
// which is what makes stored sessions replayable.
func ShuffleQuestionIDs(ids []string, seed int64) []string {
	shuffled := make([]string, len(ids))
	copy(shuffled, ids)
	rng := splitmix64{state: uint64(seed)}
	for i := len(shuffled) - 1; i > 0; i-- {
		j := int(rng.next() % uint64(i+1))
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}

func newRandomizationSeed() (int64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:]) & 0x7fffffffffffffff), nil
}

func generateParticipantCode() string {
	u := uuid.New()
	return fmt.Sprintf("P%X", u[0:4])
}

func validRating(v int) bool {
	return v >= 1 && v <= 5
}

func containsID(ids models.StringList, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
