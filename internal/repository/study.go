package repository

import (
	"database/sql"
	"time"

	"backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// StudyRepository persists study questions, sessions and participant
// evaluations. RecordEvaluation is the one transactional unit: the evaluation
// insert, the session counter increment and a possible completion transition
// commit together or not at all.
type StudyRepository interface {
	ListActiveQuestions() ([]*models.StudyQuestion, error)
	GetQuestionByID(id string) (*models.StudyQuestion, error)
	CreateSession(session *models.StudySession) error
	GetSessionByID(id string) (*models.StudySession, error)
	// RecordEvaluation atomically inserts the evaluation and increments the
	// session's completed counter, transitioning the session to completed
	// when the counter reaches the total. Returns ErrDuplicate when the
	// question was already answered in this session, and the refreshed
	// session state otherwise.
	RecordEvaluation(eval *models.HumanEvaluation) (*models.StudySession, error)
	UpdateSessionStatus(id, status string) error
	// ListSessionAnswers returns the ids of questions already answered in a
	// session.
	ListSessionAnswers(sessionID string) ([]string, error)
	// ListQualifyingEvaluations returns evaluations with explanation_shown =
	// true, optionally filtered by model and method. Baseline rows never
	// feed the aggregates.
	ListQualifyingEvaluations(modelID, method string) ([]*models.HumanEvaluation, error)
}

type studyRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStudyRepository creates a new study repository.
func NewStudyRepository(db *sqlx.DB, logger *zap.Logger) StudyRepository {
	return &studyRepository{db: db, logger: logger}
}

const questionColumns = `id, model_id, instance_index, true_label, predicted_label, confidence, method, explanation_payload, context_description, active, created_at`

func (r *studyRepository) ListActiveQuestions() ([]*models.StudyQuestion, error) {
	var questions []*models.StudyQuestion
	query := `SELECT ` + questionColumns + ` FROM study_questions WHERE active = TRUE ORDER BY id ASC`
	if err := r.db.Select(&questions, query); err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *studyRepository) GetQuestionByID(id string) (*models.StudyQuestion, error) {
	var question models.StudyQuestion
	query := `SELECT ` + questionColumns + ` FROM study_questions WHERE id = $1`
	err := r.db.Get(&question, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Question not found
		}
		return nil, err
	}
	return &question, nil
}

const sessionColumns = `id, participant_code, randomization_seed, question_ids, total_questions, completed_questions, status, created_at, updated_at, completed_at`

func (r *studyRepository) CreateSession(session *models.StudySession) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	query := `INSERT INTO study_sessions (id, participant_code, randomization_seed, question_ids, total_questions, completed_questions, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(query,
		session.ID, session.ParticipantCode, session.RandomizationSeed, session.QuestionIDs,
		session.TotalQuestions, session.CompletedQuestions, session.Status,
		session.CreatedAt, session.UpdatedAt,
	)
	return err
}

func (r *studyRepository) GetSessionByID(id string) (*models.StudySession, error) {
	var session models.StudySession
	query := `SELECT ` + sessionColumns + ` FROM study_sessions WHERE id = $1`
	err := r.db.Get(&session, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Session not found
		}
		return nil, err
	}
	return &session, nil
}

func (r *studyRepository) RecordEvaluation(eval *models.HumanEvaluation) (*models.StudySession, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	eval.CreatedAt = time.Now().UTC()
	insertQuery := `INSERT INTO human_evaluations (id, session_id, question_id, model_id, method, trust_score, understanding_score, usefulness_score, time_spent_seconds, explanation_shown, comments, created_at)
	                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = tx.Exec(insertQuery,
		eval.ID, eval.SessionID, eval.QuestionID, eval.ModelID, eval.Method,
		eval.TrustScore, eval.UnderstandingScore, eval.UsefulnessScore,
		eval.TimeSpentSeconds, eval.ExplanationShown, eval.Comments, eval.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	// Transactional increment; the completion transition observes the
	// incremented counter in the same statement, so there is no window for a
	// lost update between two concurrent submissions.
	var session models.StudySession
	updateQuery := `UPDATE study_sessions
	                SET completed_questions = completed_questions + 1,
	                    status = CASE WHEN completed_questions + 1 >= total_questions THEN $1 ELSE status END,
	                    completed_at = CASE WHEN completed_questions + 1 >= total_questions THEN $2 ELSE completed_at END,
	                    updated_at = $2
	                WHERE id = $3
	                RETURNING ` + sessionColumns
	err = tx.QueryRowx(updateQuery, models.SessionStatusCompleted, time.Now().UTC(), eval.SessionID).StructScan(&session)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *studyRepository) UpdateSessionStatus(id, status string) error {
	query := `UPDATE study_sessions SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.Exec(query, status, time.Now().UTC(), id)
	return err
}

func (r *studyRepository) ListSessionAnswers(sessionID string) ([]string, error) {
	var ids []string
	query := `SELECT question_id FROM human_evaluations WHERE session_id = $1`
	if err := r.db.Select(&ids, query, sessionID); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *studyRepository) ListQualifyingEvaluations(modelID, method string) ([]*models.HumanEvaluation, error) {
	var evals []*models.HumanEvaluation
	query := `SELECT id, session_id, question_id, model_id, method, trust_score, understanding_score, usefulness_score, time_spent_seconds, explanation_shown, comments, created_at
	          FROM human_evaluations
	          WHERE explanation_shown = TRUE`
	args := []interface{}{}
	if modelID != "" {
		args = append(args, modelID)
		query += ` AND model_id = $1`
	}
	if method != "" {
		args = append(args, method)
		if len(args) == 2 {
			query += ` AND method = $2`
		} else {
			query += ` AND method = $1`
		}
	}
	query += ` ORDER BY created_at ASC`
	if err := r.db.Select(&evals, query, args...); err != nil {
		return nil, err
	}
	return evals, nil
}
