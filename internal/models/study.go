package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Study session statuses.
const (
	SessionStatusInProgress = "in_progress"
	SessionStatusCompleted  = "completed"
	SessionStatusAbandoned  = "abandoned"
)

// MethodNone marks baseline questions shown without any explanation.
const MethodNone = "none"

// StringList is a JSONB-backed ordered list of ids.
type StringList []string

// Value implements driver.Valuer for JSONB storage.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal(StringList{})
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB storage.
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("unsupported source type %T for StringList", src)
}

// StudyQuestion is a pre-materialized pairing of one labeled instance with one
// explanation payload (or a no-explanation baseline). Questions are never
// deleted; deactivation only excludes them from new sessions so that prior
// sessions keep referring to the exact payload their participants saw.
type StudyQuestion struct {
	ID                 string          `db:"id" json:"id"`
	ModelID            string          `db:"model_id" json:"model_id"`
	InstanceIndex      int             `db:"instance_index" json:"instance_index"`
	TrueLabel          string          `db:"true_label" json:"true_label"`
	PredictedLabel     string          `db:"predicted_label" json:"predicted_label"`
	Confidence         float64         `db:"confidence" json:"confidence"`
	Method             string          `db:"method" json:"method"` // shap, lime or none
	ExplanationPayload json.RawMessage `db:"explanation_payload" json:"explanation_payload,omitempty"`
	ContextDescription string          `db:"context_description" json:"context_description"`
	Active             bool            `db:"active" json:"active"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// StudySession is one participant's randomized sequence of study questions.
// The question order is a pure function of (seed, active pool snapshot) and is
// immutable once written.
type StudySession struct {
	ID                 string     `db:"id" json:"id"`
	ParticipantCode    string     `db:"participant_code" json:"participant_code"`
	RandomizationSeed  int64      `db:"randomization_seed" json:"randomization_seed"`
	QuestionIDs        StringList `db:"question_ids" json:"question_ids"`
	TotalQuestions     int        `db:"total_questions" json:"total_questions"`
	CompletedQuestions int        `db:"completed_questions" json:"completed_questions"`
	Status             string     `db:"status" json:"status"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// HumanEvaluation is one participant's rating of one question within one
// session. Exactly one row may exist per (session, question).
type HumanEvaluation struct {
	ID                 string    `db:"id" json:"id"`
	SessionID          string    `db:"session_id" json:"session_id"`
	QuestionID         string    `db:"question_id" json:"question_id"`
	ModelID            string    `db:"model_id" json:"model_id"`
	Method             string    `db:"method" json:"method"`
	TrustScore         int       `db:"trust_score" json:"trust_score"`
	UnderstandingScore int       `db:"understanding_score" json:"understanding_score"`
	UsefulnessScore    int       `db:"usefulness_score" json:"usefulness_score"`
	TimeSpentSeconds   float64   `db:"time_spent_seconds" json:"time_spent_seconds"`
	ExplanationShown   bool      `db:"explanation_shown" json:"explanation_shown"`
	Comments           *string   `db:"comments" json:"comments,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// StudySummary aggregates qualifying evaluations for one (model, method) pair.
type StudySummary struct {
	ModelID             string  `json:"model_id"`
	Method              string  `json:"method"`
	NumEvaluations      int     `json:"num_evaluations"`
	MeanTrust           float64 `json:"mean_trust"`
	StdTrust            float64 `json:"std_trust"`
	MeanUnderstanding   float64 `json:"mean_understanding"`
	StdUnderstanding    float64 `json:"std_understanding"`
	MeanUsefulness      float64 `json:"mean_usefulness"`
	StdUsefulness       float64 `json:"std_usefulness"`
	MeanTimeSpent       float64 `json:"mean_time_spent"`
	CompositeHumanScore float64 `json:"composite_human_score"`
}

// SessionProgress is the completion snapshot returned to the UI.
type SessionProgress struct {
	SessionID          string  `json:"session_id"`
	TotalQuestions     int     `json:"total_questions"`
	CompletedQuestions int     `json:"completed_questions"`
	ProgressPercentage float64 `json:"progress_percentage"`
	Status             string  `json:"status"`
}
