// Package main is the Executor Manager entry point: it pulls claimable runs
// from the Backend, resolves their config, stages skills/attachments/slash
// commands into a container's workspace, and dispatches the run to an
// Executor, fanning callbacks back to the Backend as the run progresses.
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/blobstore"
	"github.com/runflow/orchestrator/internal/common/config"
	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/manager/backendclient"
	managerapi "github.com/runflow/orchestrator/internal/manager/api"
	"github.com/runflow/orchestrator/internal/manager/callback"
	"github.com/runflow/orchestrator/internal/manager/configresolver"
	"github.com/runflow/orchestrator/internal/manager/containerpool"
	"github.com/runflow/orchestrator/internal/manager/dispatcher"
	"github.com/runflow/orchestrator/internal/manager/executorclient"
	"github.com/runflow/orchestrator/internal/manager/pullloop"
	"github.com/runflow/orchestrator/internal/manager/sessionindex"
	"github.com/runflow/orchestrator/internal/staging"
	"github.com/runflow/orchestrator/internal/workspace"
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

	log.Info("starting executor manager")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal("invalid redis url", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	backend := backendclient.NewClient(cfg.Internal.BackendURL, cfg.Internal.APIToken, log)
	resolver := configresolver.New(backend, redisClient)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "executor-manager"
	}
	workerID := fmt.Sprintf("%s:%d", hostname, os.Getpid())

	pool, err := containerpool.New(cfg.Docker, containerpool.Config{
		Image:          "runflow/executor:latest",
		NetworkMode:    cfg.Docker.DefaultNetwork,
		ContainerLabel: "runflow-executor",
	}, log)
	if err != nil {
		log.Fatal("failed to initialize container pool", zap.Error(err))
	}

	executor := executorclient.New()
	sessions := sessionindex.New()

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

	paths := workspace.NewPaths(cfg.Docker.VolumeBasePath)

	ignoreNames := make(map[string]bool, len(cfg.Workspace.ExcludeNames))
	for _, n := range cfg.Workspace.ExcludeNames {
		ignoreNames[n] = true
	}
	exporter := workspace.NewExporter(store, workspace.ExportConfig{
		IgnoreNames: ignoreNames,
		IgnoreDot:   cfg.Workspace.ExcludeDotfiles,
		Archive:     true,
	}, log)

	skillStager := staging.NewSkillStager(store, paths, log)
	attachStager := staging.NewAttachmentStager(store, paths, log)
	cmdStager := staging.NewSlashCommandStager(paths, log)

	disp := dispatcher.New(backend, resolver, pool, executor, skillStager, attachStager, cmdStager, sessions, dispatcher.Config{
		CallbackBaseURL: cfg.Internal.CallbackBaseURL,
		CallbackToken:   cfg.Internal.CallbackToken,
		WorkerID:        workerID,
	}, log)

	scheduleModes := []string{string(backendclient.ScheduleImmediate), string(backendclient.ScheduleScheduled)}

	pull := pullloop.New(pullloop.Config{
		WorkerID:          workerID,
		LeaseSeconds:      cfg.Pull.TaskClaimLeaseSeconds,
		MaxConcurrentRuns: int64(cfg.Pull.MaxConcurrentTasks),
		IntervalRules: []pullloop.IntervalRule{
			{ScheduleModes: []string{string(backendclient.ScheduleImmediate)}, Interval: 2 * time.Second},
			{ScheduleModes: []string{string(backendclient.ScheduleScheduled)}, Interval: 30 * time.Second},
		},
	}, log, func(ctx context.Context, workerID string, leaseSeconds int, modes []string) (any, error) {
		claimed, err := backend.ClaimRun(ctx, workerID, leaseSeconds, modes)
		if err != nil {
			return nil, err
		}
		if claimed == nil {
			return nil, nil
		}
		return claimed, nil
	}, func(ctx context.Context, run any) {
		claimed, ok := run.(*backendclient.ClaimedRun)
		if !ok {
			log.Error("pull loop dispatched a value of unexpected type")
			return
		}
		disp.Dispatch(ctx, claimed)
	})
	pull.Start(ctx)

	callbackHandler := callback.NewHandler(backend, pool, exporter, paths, sessions, pull, callback.Config{
		Sanitize:      callback.SanitizeConfig{IgnoreNames: ignoreNames, IgnoreDot: cfg.Workspace.ExcludeDotfiles},
		ScheduleModes: scheduleModes,
	}, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	apiGroup := router.Group("/api/v1")
	managerapi.SetupRoutes(apiGroup, router, managerapi.Deps{
		Callback:      callbackHandler,
		Backend:       backend,
		Pool:          pool,
		Pull:          pull,
		Paths:         paths,
		Store:         store,
		Exporter:      exporter,
		ScheduleModes: scheduleModes,
		InternalToken: cfg.Internal.APIToken,
	}, log)

	port := cfg.Server.Port
	if port == 0 {
		port = 8081
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("executor manager listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down executor manager")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	pull.Stop()

	log.Info("executor manager stopped")
}
