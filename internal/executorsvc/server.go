package executorsvc

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/common/logger"
)

// Server is the Executor's HTTP surface: a single endpoint the Manager
// calls to start a task, run asynchronously against the container's
// workspace.
type Server struct {
	runner *Runner
	poster *CallbackPoster
	log    *logger.Logger
}

// NewServer creates a Server.
func NewServer(runner *Runner, poster *CallbackPoster, log *logger.Logger) *Server {
	return &Server{runner: runner, poster: poster, log: log.WithFields(zap.String("component", "executor-server"))}
}

// Router builds the gin engine exposing /health and /v1/tasks/execute.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.POST("/v1/tasks/execute", s.executeTask)

	return router
}

type executeTaskRequest struct {
	SessionID       string         `json:"session_id" binding:"required"`
	Prompt          string         `json:"prompt" binding:"required"`
	CallbackURL     string         `json:"callback_url" binding:"required"`
	CallbackToken   string         `json:"callback_token"`
	CallbackBaseURL string         `json:"callback_base_url"`
	Config          map[string]any `json:"config"`
	SDKSessionID    *string        `json:"sdk_session_id"`
}

// executeTask accepts a task and runs it in the background, acknowledging
// immediately per spec.md's fire-and-forget dispatch contract: progress is
// reported entirely through callbacks, not through this request's response.
func (s *Server) executeTask(c *gin.Context) {
	var req executeTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, s.log, apperrors.BadRequest(err.Error()))
		return
	}

	task := Task{
		SessionID:       req.SessionID,
		Prompt:          req.Prompt,
		CallbackURL:     req.CallbackURL,
		CallbackToken:   req.CallbackToken,
		CallbackBaseURL: req.CallbackBaseURL,
		Config:          req.Config,
		SDKSessionID:    req.SDKSessionID,
	}

	go s.runner.Run(context.Background(), task, s.poster)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "session_id": req.SessionID})
}
