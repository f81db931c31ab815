package service

import "errors"

var ( // Define custom errors
	ErrModelNotFound            = errors.New("model not found")
	ErrModelNotReady            = errors.New("model is not in completed status")
	ErrInvalidMethod            = errors.New("unsupported explanation method")
	ErrInvalidScope             = errors.New("unsupported explanation scope")
	ErrInvalidInstanceIndex     = errors.New("instance index out of range")
	ErrExplanationNotFound      = errors.New("explanation not found")
	ErrInvalidMetricKey         = errors.New("unsupported leaderboard metric")
	ErrInsufficientQuestionPool = errors.New("not enough active questions in the pool")
	ErrInvalidRating            = errors.New("rating must be an integer between 1 and 5")
	ErrSessionNotFound          = errors.New("study session not found")
	ErrSessionNotActive         = errors.New("study session is not in progress")
	ErrQuestionNotInSession     = errors.New("question does not belong to this session")
	ErrDuplicateAnswer          = errors.New("question already answered in this session")
)

// GenerationError wraps a failure raised by the explainer capability. The
// failed attempt is recorded as a terminal record and the error surfaces to
// every caller that was waiting on the key.
type GenerationError struct {
	ExplanationID string
	Err           error
}

func (e *GenerationError) Error() string {
	return "explanation generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
