package api

import (
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/blobstore"
	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/manager/backendclient"
	"github.com/runflow/orchestrator/internal/manager/callback"
	"github.com/runflow/orchestrator/internal/manager/containerpool"
	"github.com/runflow/orchestrator/internal/manager/pullloop"
	"github.com/runflow/orchestrator/internal/workspace"
)

// Handler contains HTTP handlers for the Manager API.
type Handler struct {
	callbacks     *callback.Handler
	backend       *backendclient.Client
	pool          *containerpool.Pool
	pull          *pullloop.Loop
	paths         *workspace.Paths
	store         *blobstore.Store
	exporter      *workspace.Exporter
	scheduleModes []string
	logger        *logger.Logger
}

// NewHandler creates a Handler backed by deps.
func NewHandler(deps Deps, log *logger.Logger) *Handler {
	return &Handler{
		callbacks:     deps.Callback,
		backend:       deps.Backend,
		pool:          deps.Pool,
		pull:          deps.Pull,
		paths:         deps.Paths,
		store:         deps.Store,
		exporter:      deps.Exporter,
		scheduleModes: deps.ScheduleModes,
		logger:        log.WithFields(zap.String("component", "manager-api")),
	}
}
