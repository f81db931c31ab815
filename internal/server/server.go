package server

import (
	"net/http"
	"time"

	"backend/internal/config"
	"backend/internal/explainer"
	"backend/internal/handler"
	"backend/internal/repository"
	"backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	db     *sqlx.DB
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(db *sqlx.DB, cfg *config.Config, logger *zap.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		db:     db,
		cfg:    cfg,
		logger: logger,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	// Repositories
	modelRepo := repository.NewModelRepository(s.db, s.logger)
	explRepo := repository.NewExplanationRepository(s.db, s.logger)
	studyRepo := repository.NewStudyRepository(s.db, s.logger)

	// Explainer service client
	explainerClient := explainer.NewClient(s.cfg.Explainer.URL, time.Duration(s.cfg.Explainer.TimeoutSeconds)*time.Second)

	// Services
	scorer := service.NewQualityScorer(explainerClient, s.logger, s.cfg.Coordinator.QualitySampleSize)
	explService := service.NewExplanationService(modelRepo, explRepo, explainerClient, scorer, s.logger, service.ExplanationServiceOptions{
		PollInterval: time.Duration(s.cfg.Coordinator.PendingPollMillis) * time.Millisecond,
		PendingWait:  time.Duration(s.cfg.Coordinator.PendingWaitSeconds) * time.Second,
		SampleSize:   s.cfg.Coordinator.QualitySampleSize,
	})
	leaderboardService := service.NewLeaderboardService(modelRepo, s.logger)
	studyService := service.NewStudyService(studyRepo, s.logger)

	// Handlers
	explHandler := handler.NewExplanationHandler(explService, s.logger)
	leaderboardHandler := handler.NewLeaderboardHandler(leaderboardService, s.logger)
	studyHandler := handler.NewStudyHandler(studyService, s.cfg, s.logger)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	// Prometheus metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.POST("/explanations/generate", explHandler.GenerateExplanation)
		api.GET("/explanations/:id", explHandler.GetExplanationByID)
		api.GET("/models/:id/explanations", explHandler.ListExplanationsForModel)

		api.GET("/leaderboard", leaderboardHandler.GetLeaderboard)

		study := api.Group("/study")
		{
			study.POST("/session/start", studyHandler.StartSession)
			study.GET("/session/:id/progress", studyHandler.GetSessionProgress)
			study.GET("/session/:id/next", studyHandler.GetNextQuestion)
			study.POST("/session/:id/abandon", studyHandler.AbandonSession)
			study.POST("/response", studyHandler.SubmitEvaluation)
			study.GET("/results/summary", studyHandler.GetSummary)
		}
	}
}

func (s *Server) Run(addr string) {
	s.logger.Info("Server starting", zap.String("addr", addr))
	if err := s.router.Run(addr); err != nil {
		s.logger.Fatal("Server failed to start", zap.Error(err))
	}
}
