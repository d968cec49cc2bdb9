// Package dispatcher carries a claimed run from the pull loop through
// config resolution, skill/attachment/slash-command staging, container
// provisioning, and the executor HTTP call, logging a timing record for
// each step.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/manager/backendclient"
	"github.com/runflow/orchestrator/internal/manager/configresolver"
	"github.com/runflow/orchestrator/internal/manager/containerpool"
	"github.com/runflow/orchestrator/internal/manager/executorclient"
	"github.com/runflow/orchestrator/internal/manager/sessionindex"
	"github.com/runflow/orchestrator/internal/staging"
)

// Config holds the dispatcher's static settings.
type Config struct {
	CallbackBaseURL string
	CallbackToken   string
	WorkerID        string
}

// Dispatcher wires the Manager's per-run pipeline.
type Dispatcher struct {
	backend      *backendclient.Client
	resolver     *configresolver.Resolver
	pool         *containerpool.Pool
	executor     *executorclient.Client
	skillStager  *staging.SkillStager
	attachStager *staging.AttachmentStager
	cmdStager    *staging.SlashCommandStager
	sessions     *sessionindex.Index
	cfg          Config
	log          *logger.Logger
}

func New(
	backend *backendclient.Client,
	resolver *configresolver.Resolver,
	pool *containerpool.Pool,
	executor *executorclient.Client,
	skillStager *staging.SkillStager,
	attachStager *staging.AttachmentStager,
	cmdStager *staging.SlashCommandStager,
	sessions *sessionindex.Index,
	cfg Config,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		backend:      backend,
		resolver:     resolver,
		pool:         pool,
		executor:     executor,
		skillStager:  skillStager,
		attachStager: attachStager,
		cmdStager:    cmdStager,
		sessions:     sessions,
		cfg:          cfg,
		log:          log.WithFields(zap.String("component", "dispatcher")),
	}
}

// Dispatch runs claimed's full 8-step pipeline. Errors handled by fail()
// mark the run failed via FailRun; a failure to mark the session running or
// to start the run only releases the already-provisioned container back to
// the pool via CancelTask. The caller (the pull loop) has already
// reserved this dispatch's concurrency slot.
func (d *Dispatcher) Dispatch(ctx context.Context, claimed *backendclient.ClaimedRun) {
	started := time.Now()
	log := d.log.WithFields(zap.String("run_id", claimed.RunID), zap.String("session_id", claimed.SessionID))
	log.Info("dispatching run")
	if d.sessions != nil {
		d.sessions.Set(claimed.SessionID, claimed.UserID)
	}

	var configSnapshot map[string]any
	if err := json.Unmarshal(claimed.ConfigSnapshot, &configSnapshot); err != nil {
		configSnapshot = map[string]any{}
	}
	containerMode := containerpool.ModeEphemeral
	if m, _ := configSnapshot["container_mode"].(string); m == string(containerpool.ModePersistent) {
		containerMode = containerpool.ModePersistent
	}
	containerID, _ := configSnapshot["container_id"].(string)

	resolvedConfig, err := d.timedStep(log, "resolve_config", func() (map[string]any, error) {
		return d.resolver.Resolve(ctx, claimed.UserID, configSnapshot)
	})
	if err != nil {
		d.fail(ctx, claimed, log, "resolve_config", err)
		return
	}

	skillFiles, _ := resolvedConfig["skill_files"].(map[string]any)
	stagedSkills, err := d.timedStep(log, "stage_skills", func() (map[string]any, error) {
		return d.skillStager.StageSkills(ctx, claimed.UserID, claimed.SessionID, skillFiles)
	})
	if err != nil {
		d.fail(ctx, claimed, log, "stage_skills", err)
		return
	}
	resolvedConfig["skill_files"] = stagedSkills

	if err := d.stageAttachments(ctx, claimed, log, resolvedConfig); err != nil {
		d.fail(ctx, claimed, log, "stage_attachments", err)
		return
	}

	if err := d.stageSlashCommands(ctx, claimed, log, resolvedConfig); err != nil {
		d.fail(ctx, claimed, log, "stage_slash_commands", err)
		return
	}

	stepStarted := time.Now()
	executorURL, provisionedID, err := d.pool.GetOrCreateContainer(ctx, claimed.SessionID, claimed.UserID, containerMode, containerID)
	logTiming(log, "get_or_create_container", stepStarted, zap.String("container_id", provisionedID), zap.String("container_mode", string(containerMode)))
	if err != nil {
		d.fail(ctx, claimed, log, "get_or_create_container", err)
		return
	}

	stepStarted = time.Now()
	markRunningErr := d.backend.MarkSessionRunning(ctx, claimed.SessionID)
	logTiming(log, "mark_session_running", stepStarted)
	if markRunningErr != nil {
		log.Error("mark session running failed, releasing container", zap.Error(markRunningErr))
		_ = d.pool.CancelTask(ctx, claimed.SessionID)
		return
	}

	stepStarted = time.Now()
	startErr := d.backend.StartRun(ctx, claimed.RunID, d.cfg.WorkerID)
	logTiming(log, "backend_update_status_running", stepStarted)
	if startErr != nil {
		log.Error("start run failed, releasing container", zap.Error(startErr))
		_ = d.pool.CancelTask(ctx, claimed.SessionID)
		return
	}

	stepStarted = time.Now()
	err = d.executor.ExecuteTask(ctx, executorclient.ExecuteTaskRequest{
		ExecutorURL:     executorURL,
		SessionID:       claimed.SessionID,
		RunID:           claimed.RunID,
		Prompt:          claimed.Prompt,
		CallbackURL:     d.cfg.CallbackBaseURL + "/api/v1/callback",
		CallbackToken:   d.cfg.CallbackToken,
		CallbackBaseURL: d.cfg.CallbackBaseURL,
		Config:          resolvedConfig,
		SDKSessionID:    claimed.SDKSessionID,
	})
	logTiming(log, "executor_execute_task", stepStarted, zap.String("container_id", provisionedID))
	if err != nil {
		log.Error("executor call failed", zap.Error(err))
		_ = d.backend.FailRun(ctx, claimed.RunID, d.cfg.WorkerID, err.Error())
		_ = d.pool.CancelTask(ctx, claimed.SessionID)
		return
	}

	logTiming(log, "dispatch_total", started, zap.String("container_id", provisionedID), zap.String("container_mode", string(containerMode)))
}

func (d *Dispatcher) stageAttachments(ctx context.Context, claimed *backendclient.ClaimedRun, log *logger.Logger, resolvedConfig map[string]any) error {
	rawInputs, _ := resolvedConfig["input_files"].([]any)
	inputs := make([]staging.AttachmentInput, 0, len(rawInputs))
	for _, raw := range rawInputs {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["id"].(string)
		name, _ := entry["name"].(string)
		key, _ := entry["s3_key"].(string)
		inputs = append(inputs, staging.AttachmentInput{ID: id, Name: name, Key: key})
	}

	stepStarted := time.Now()
	staged, err := d.attachStager.StageInputs(ctx, claimed.UserID, claimed.SessionID, inputs)
	logTiming(log, "stage_attachments", stepStarted, zap.Int("inputs_staged", len(staged)))
	if err != nil {
		return err
	}
	resolvedConfig["input_files"] = staged
	return nil
}

func (d *Dispatcher) stageSlashCommands(ctx context.Context, claimed *backendclient.ClaimedRun, log *logger.Logger, resolvedConfig map[string]any) error {
	resolvedCommands, err := d.backend.ResolveSlashCommands(ctx, claimed.UserID)
	if err != nil {
		return err
	}
	stepStarted := time.Now()
	staged, err := d.cmdStager.StageCommands(claimed.UserID, claimed.SessionID, resolvedCommands)
	logTiming(log, "stage_slash_commands", stepStarted, zap.Int("commands_staged", len(staged)))
	if err != nil {
		return err
	}
	resolvedConfig["slash_commands"] = staged
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, claimed *backendclient.ClaimedRun, log *logger.Logger, step string, err error) {
	log.Error("dispatch failed", zap.String("step", step), zap.Error(err))
	if failErr := d.backend.FailRun(ctx, claimed.RunID, d.cfg.WorkerID, fmt.Sprintf("%s: %v", step, err)); failErr != nil {
		log.Error("fail run RPC failed", zap.Error(failErr))
	}
	_ = d.pool.CancelTask(ctx, claimed.SessionID)
}

func (d *Dispatcher) timedStep(log *logger.Logger, step string, fn func() (map[string]any, error)) (map[string]any, error) {
	started := time.Now()
	out, err := fn()
	logTiming(log, step, started)
	return out, err
}

func logTiming(log *logger.Logger, step string, started time.Time, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("step", step),
		zap.Int64("duration_ms", time.Since(started).Milliseconds()),
	}, extra...)
	log.Info("timing", fields...)
}
