package api

import (
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/backend/callback"
	"github.com/runflow/orchestrator/internal/backend/repository"
	"github.com/runflow/orchestrator/internal/backend/runqueue"
	"github.com/runflow/orchestrator/internal/common/logger"
)

// Handler contains HTTP handlers for the Backend API.
type Handler struct {
	repo      *repository.Repository
	runs      *runqueue.Queue
	callbacks *callback.Processor
	logger    *logger.Logger
}

// NewHandler creates a Handler backed by deps.
func NewHandler(deps Deps, log *logger.Logger) *Handler {
	return &Handler{
		repo:      deps.Repo,
		runs:      deps.Runs,
		callbacks: deps.Callback,
		logger:    log.WithFields(zap.String("component", "backend-api")),
	}
}
