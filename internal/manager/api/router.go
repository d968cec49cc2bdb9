// Package api implements the Executor Manager's internal HTTP surface: the
// executor callback ingress, pull-loop trigger, and container lifecycle
// controls the Backend's internal-token calls drive.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/blobstore"
	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/manager/backendclient"
	"github.com/runflow/orchestrator/internal/manager/callback"
	"github.com/runflow/orchestrator/internal/manager/containerpool"
	"github.com/runflow/orchestrator/internal/manager/pullloop"
	"github.com/runflow/orchestrator/internal/workspace"
)

// Deps bundles everything a Handler needs to serve the Manager API.
type Deps struct {
	Callback      *callback.Handler
	Backend       *backendclient.Client
	Pool          *containerpool.Pool
	Pull          *pullloop.Loop
	Paths         *workspace.Paths
	Store         *blobstore.Store
	Exporter      *workspace.Exporter
	ScheduleModes []string
	InternalToken string
}

// SetupRoutes mounts the Manager API under router (typically "/api/v1"), and
// a top-level /healthz.
func SetupRoutes(router *gin.RouterGroup, healthGroup gin.IRouter, deps Deps, log *logger.Logger) {
	h := NewHandler(deps, log)

	healthGroup.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	router.POST("/callback", h.Callback)
	router.POST("/user-input-requests", h.CreateUserInputRequest)
	router.GET("/user-input-requests/:id", h.GetUserInputRequest)

	internalAuth := requireInternalToken(deps.InternalToken, log)
	internal := router.Group("", internalAuth)
	{
		internal.POST("/internal/pull/trigger", h.TriggerPull)
		internal.POST("/executor/cancel", h.CancelExecutor)
		internal.POST("/executor/delete", h.DeleteExecutor)
		internal.GET("/executor/load", h.ExecutorLoad)

		internal.GET("/workspace/stats", h.WorkspaceStats)
		internal.GET("/workspace/users/:user", h.WorkspaceUserSessions)
		internal.POST("/workspace/archive/:user/:session", h.WorkspaceArchive)
		internal.DELETE("/workspace/:user/:session", h.WorkspaceDelete)
		internal.GET("/workspace/files/:user/:session", h.WorkspaceFiles)
		internal.GET("/workspace/file/:user/:session", h.WorkspaceFile)
	}

	router.GET("/schedules", h.GetSchedules)
}
