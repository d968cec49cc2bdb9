// Package main is the Backend service entry point: the system of record for
// sessions, runs, presets, and env vars, and the HTTP surface the UI and the
// Executor Manager both talk to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	backendapi "github.com/runflow/orchestrator/internal/backend/api"
	"github.com/runflow/orchestrator/internal/backend/callback"
	"github.com/runflow/orchestrator/internal/backend/migrations"
	"github.com/runflow/orchestrator/internal/backend/repository"
	"github.com/runflow/orchestrator/internal/backend/runqueue"
	"github.com/runflow/orchestrator/internal/backend/wsgateway"
	"github.com/runflow/orchestrator/internal/blobstore"
	"github.com/runflow/orchestrator/internal/common/config"
	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting backend")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, driver, rawWriter, err := db.Open(db.DatabaseConfig{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN(),
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer pool.Close()

	if err := migrations.Run(rawWriter, driver, cfg.Database.DBName); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}
	log.Info("migrations applied", zap.String("driver", driver))

	repo := repository.New(pool, driver)
	runs := runqueue.NewQueue(pool, driver)

	store, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:       cfg.S3.Endpoint,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		PresignExpires: cfg.S3.PresignExpiresDuration(),
		PublicEndpoint: cfg.S3.PublicEndpoint,
	})
	if err != nil {
		log.Fatal("failed to initialize blob store", zap.Error(err))
	}

	hub := wsgateway.NewHub(log)
	if cfg.NATS.URL != "" {
		natsConn, err := connectNATS(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to nats", zap.Error(err))
		}
		defer natsConn.Close()
		if err := hub.AttachNATS(natsConn, log); err != nil {
			log.Fatal("failed to attach nats to websocket hub", zap.Error(err))
		}
		log.Info("websocket fan-out using nats", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("websocket fan-out using in-process hub only")
	}
	go hub.Run(ctx)

	callbacks := callback.NewProcessor(repo, runs, hub, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	wsgateway.SetupRoutes(router, hub, wsgateway.Deps{Repo: repo, Store: store}, log)

	apiGroup := router.Group("/api/v1")
	backendapi.SetupRoutes(apiGroup, router, backendapi.Deps{
		Repo:          repo,
		Runs:          runs,
		Callback:      callbacks,
		InternalToken: cfg.Internal.APIToken,
	}, log)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("backend listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down backend")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("backend stopped")
}
