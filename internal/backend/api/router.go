// Package api implements the Backend's public and internal HTTP surface:
// session/task CRUD for the UI, the run claim/lease protocol the Executor
// Manager drives, the executor callback ingress, and the internal-token
// lookups (env vars, slash commands, presets) the Manager's config resolver
// uses before dispatch.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/backend/callback"
	"github.com/runflow/orchestrator/internal/backend/repository"
	"github.com/runflow/orchestrator/internal/backend/runqueue"
	"github.com/runflow/orchestrator/internal/common/logger"
)

// Deps bundles everything a Handler needs to serve the Backend API.
type Deps struct {
	Repo          *repository.Repository
	Runs          *runqueue.Queue
	Callback      *callback.Processor
	InternalToken string
}

// SetupRoutes mounts the Backend API under router (typically the "/api/v1"
// group), and a top-level /healthz.
func SetupRoutes(router *gin.RouterGroup, healthGroup gin.IRouter, deps Deps, log *logger.Logger) {
	h := NewHandler(deps, log)

	healthGroup.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.GET("/:id/messages", h.ListSessionMessages)
		sessions.GET("/:id/tool-executions", h.ListSessionToolExecutions)
		sessions.GET("/:id/usage", h.GetSessionUsage)
	}

	router.POST("/tasks", h.CreateTask)
	router.POST("/callback", h.Callback)

	runs := router.Group("/runs")
	{
		runs.POST("/claim", h.ClaimRun)
		runs.POST("/:id/start", h.StartRun)
		runs.POST("/:id/fail", h.FailRun)
	}

	router.GET("/mcp-presets", h.ListMCPPresets)
	router.GET("/skill-presets", h.ListSkillPresets)

	internalAuth := requireInternalToken(deps.InternalToken, log)
	internal := router.Group("/internal", internalAuth)
	{
		internal.GET("/env-vars/map", h.EnvVarsMap)
		internal.GET("/slash-commands/resolve", h.ResolveSlashCommands)
		internal.POST("/sessions/:id/running", h.MarkSessionRunning)
		internal.POST("/user-input-requests", h.CreateUserInputRequest)
		internal.GET("/user-input-requests/:id", h.GetUserInputRequest)
		internal.POST("/user-input-requests/:id/answer", h.AnswerUserInputRequest)
	}
}
