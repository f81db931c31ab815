package handler

import (
	"errors"
	"net/http"

	"backend/internal/config"
	"backend/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StudyHandler interface {
	StartSession(c *gin.Context)
	GetSessionProgress(c *gin.Context)
	GetNextQuestion(c *gin.Context)
	AbandonSession(c *gin.Context)
	SubmitEvaluation(c *gin.Context)
	GetSummary(c *gin.Context)
}

type studyHandler struct {
	studyService service.StudyService
	cfg          *config.Config
	logger       *zap.Logger
}

func NewStudyHandler(studyService service.StudyService, cfg *config.Config, logger *zap.Logger) StudyHandler {
	return &studyHandler{studyService: studyService, cfg: cfg, logger: logger}
}

// StartSessionRequest is the request body for POST /api/study/session/start.
type StartSessionRequest struct {
	ParticipantCode string `json:"participant_code"`
	NumQuestions    int    `json:"num_questions"`
}

// StartSession handles POST /api/study/session/start.
func (h *studyHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind JSON for session start", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.NumQuestions <= 0 {
		req.NumQuestions = h.cfg.Study.DefaultQuestionCount
	}
	if req.NumQuestions > h.cfg.Study.MaxQuestionCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Requested question count exceeds the allowed maximum"})
		return
	}

	session, err := h.studyService.StartSession(req.ParticipantCode, req.NumQuestions)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientQuestionPool) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Not enough active questions for the requested session size"})
			return
		}
		h.logger.Error("Failed to start study session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start study session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":         session.ID,
		"participant_code":   session.ParticipantCode,
		"num_questions":      session.TotalQuestions,
		"randomization_seed": session.RandomizationSeed,
	})
}

// GetSessionProgress handles GET /api/study/session/:id/progress.
func (h *studyHandler) GetSessionProgress(c *gin.Context) {
	sessionID := c.Param("id")

	progress, err := h.studyService.Progress(sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to get session progress", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get session progress"})
		return
	}

	c.JSON(http.StatusOK, progress)
}

// GetNextQuestion handles GET /api/study/session/:id/next.
// The true label stays server-side; participants only see the prediction and
// the explanation payload.
func (h *studyHandler) GetNextQuestion(c *gin.Context) {
	sessionID := c.Param("id")

	question, err := h.studyService.NextQuestion(sessionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		case errors.Is(err, service.ErrSessionNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "Session is not in progress"})
		default:
			h.logger.Error("Failed to get next question", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get next question"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"question": gin.H{
		"question_id":         question.ID,
		"model_id":            question.ModelID,
		"predicted_label":     question.PredictedLabel,
		"confidence":          question.Confidence,
		"method":              question.Method,
		"explanation_payload": question.ExplanationPayload,
		"context_description": question.ContextDescription,
	}})
}

// AbandonSession handles POST /api/study/session/:id/abandon.
func (h *studyHandler) AbandonSession(c *gin.Context) {
	sessionID := c.Param("id")

	err := h.studyService.Abandon(sessionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		case errors.Is(err, service.ErrSessionNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "Session is not in progress"})
		default:
			h.logger.Error("Failed to abandon session", zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to abandon session"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session abandoned"})
}

// EvaluationRequest is the request body for POST /api/study/response.
// Rating bounds are enforced at the boundary, not just by convention.
type EvaluationRequest struct {
	SessionID          string  `json:"session_id" binding:"required"`
	QuestionID         string  `json:"question_id" binding:"required"`
	TrustScore         int     `json:"trust_score" binding:"required,min=1,max=5"`
	UnderstandingScore int     `json:"understanding_score" binding:"required,min=1,max=5"`
	UsefulnessScore    int     `json:"usefulness_score" binding:"required,min=1,max=5"`
	TimeSpentSeconds   float64 `json:"time_spent" binding:"required,gt=0"`
	Comments           *string `json:"comments,omitempty"`
}

// SubmitEvaluation handles POST /api/study/response.
func (h *studyHandler) SubmitEvaluation(c *gin.Context) {
	var req EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind JSON for evaluation", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := &service.EvaluationInput{
		TrustScore:         req.TrustScore,
		UnderstandingScore: req.UnderstandingScore,
		UsefulnessScore:    req.UsefulnessScore,
		TimeSpentSeconds:   req.TimeSpentSeconds,
		Comments:           req.Comments,
	}

	session, err := h.studyService.SubmitEvaluation(req.SessionID, req.QuestionID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRating):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Ratings must be integers between 1 and 5"})
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		case errors.Is(err, service.ErrSessionNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "Session is not in progress"})
		case errors.Is(err, service.ErrQuestionNotInSession):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Question does not belong to this session"})
		case errors.Is(err, service.ErrDuplicateAnswer):
			c.JSON(http.StatusConflict, gin.H{"error": "Question already answered in this session"})
		default:
			h.logger.Error("Failed to submit evaluation",
				zap.String("session_id", req.SessionID),
				zap.String("question_id", req.QuestionID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit evaluation"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":             "Evaluation recorded",
		"completed_questions": session.CompletedQuestions,
		"total_questions":     session.TotalQuestions,
		"session_status":      session.Status,
	})
}

// GetSummary handles GET /api/study/results/summary
// Query parameters:
// - model_id: filter by model (optional)
// - method: filter by method (optional)
func (h *studyHandler) GetSummary(c *gin.Context) {
	modelID := c.Query("model_id")
	method := c.Query("method")

	summaries, err := h.studyService.Summarize(modelID, method)
	if err != nil {
		h.logger.Error("Failed to summarize study results", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize study results"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": summaries, "count": len(summaries)})
}
