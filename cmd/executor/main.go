// Package main is the Executor entry point: a per-container HTTP service
// that accepts one task at a time from the Executor Manager and drives a
// Claude Code subprocess through it, reporting progress via callbacks.
package main

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/executorsvc"
)

func main() {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "json"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting executor")

	workDir := envOr("WORKSPACE_DIR", "/workspace")
	runner := executorsvc.NewRunner(executorsvc.Config{
		AgentBinary: envOr("AGENT_BINARY", "claude"),
		WorkDir:     workDir,
		AutoApprove: true,
	}, log)
	poster := executorsvc.NewCallbackPoster()
	server := executorsvc.NewServer(runner, poster, log)

	port := envOr("PORT", "8090")
	log.Info("executor listening", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, server.Router()); err != nil {
		log.Fatal("executor server stopped", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
