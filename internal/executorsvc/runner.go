package executorsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/agentctl/server/adapter"
	"github.com/runflow/orchestrator/internal/agentctl/types"
	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/pkg/agent"
)

// userInputPollInterval is the executor's poll cadence against the
// Manager's user-input-request proxy, spec.md §4.8.
const userInputPollInterval = 500 * time.Millisecond

// Task describes a single turn to run for a session.
type Task struct {
	SessionID       string
	RunID           string
	Prompt          string
	CallbackURL     string
	CallbackToken   string
	CallbackBaseURL string
	Config          map[string]any
	SDKSessionID    *string
	McpServers      []types.McpServer
}

// Runner drives one Claude Code subprocess through a single turn.
type Runner struct {
	cfg  Config
	log  *logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, log *logger.Logger) *Runner {
	if cfg.AgentBinary == "" {
		cfg.AgentBinary = "claude"
	}
	return &Runner{cfg: cfg, log: log.WithFields(zap.String("component", "executor-runner"))}
}

// Run spawns the agent process, drives it through one prompt, and posts a
// callback for every agent event plus a final completed/failed callback.
// It never returns an error to the caller directly — every failure is
// reported as a "failed" callback, since by the time Run is invoked the
// HTTP handler has already accepted the task asynchronously.
func (r *Runner) Run(ctx context.Context, task Task, poster *CallbackPoster) {
	log := r.log.WithFields(zap.String("session_id", task.SessionID), zap.String("run_id", task.RunID))

	sharedCfg := (&adapter.Config{
		WorkDir:        r.cfg.WorkDir,
		AutoApprove:    r.cfg.AutoApprove,
		ApprovalPolicy: "never",
		AgentID:        "claude-code",
		AgentName:      "Claude Code",
	})

	ad, err := adapter.NewAdapter(agent.ProtocolClaudeCode, sharedCfg, log)
	if err != nil {
		r.fail(ctx, poster, task, fmt.Errorf("create adapter: %w", err))
		return
	}
	var uiClient *UserInputClient
	if task.CallbackBaseURL != "" {
		uiClient = NewUserInputClient(task.CallbackBaseURL)
	}
	ad.SetPermissionHandler(r.permissionHandler(task, uiClient))

	env, err := ad.PrepareEnvironment()
	if err != nil {
		log.Warn("prepare environment failed", zap.Error(err))
	}

	cmdArgs := ad.PrepareCommandArgs()
	cmd := exec.Command(r.cfg.AgentBinary, cmdArgs...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = append(os.Environ(), envSlice(env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		r.fail(ctx, poster, task, fmt.Errorf("stdin pipe: %w", err))
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.fail(ctx, poster, task, fmt.Errorf("stdout pipe: %w", err))
		return
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		r.fail(ctx, poster, task, fmt.Errorf("start agent process: %w", err))
		return
	}
	defer func() {
		_ = ad.Close()
		if !ad.RequiresProcessKill() {
			return
		}
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}()

	if err := ad.Connect(stdin, stdout); err != nil {
		r.fail(ctx, poster, task, fmt.Errorf("connect adapter: %w", err))
		return
	}
	if err := ad.Initialize(ctx); err != nil {
		r.fail(ctx, poster, task, fmt.Errorf("initialize agent: %w", err))
		return
	}

	if task.SDKSessionID != nil && *task.SDKSessionID != "" {
		if err := ad.LoadSession(ctx, *task.SDKSessionID); err != nil {
			log.Warn("resume session failed, starting fresh", zap.Error(err))
			if _, err := ad.NewSession(ctx, task.McpServers); err != nil {
				r.fail(ctx, poster, task, fmt.Errorf("create session: %w", err))
				return
			}
		}
	} else if _, err := ad.NewSession(ctx, task.McpServers); err != nil {
		r.fail(ctx, poster, task, fmt.Errorf("create session: %w", err))
		return
	}

	done := make(chan struct{})
	go r.pumpEvents(ctx, ad, task, poster, done)

	if err := ad.Prompt(ctx, task.Prompt); err != nil {
		r.fail(ctx, poster, task, fmt.Errorf("send prompt: %w", err))
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
		_ = ad.Cancel(context.Background())
	}
}

// pumpEvents relays adapter.Updates() as progress callbacks until the
// channel reports completion, error, or closes.
func (r *Runner) pumpEvents(ctx context.Context, ad adapter.AgentAdapter, task Task, poster *CallbackPoster, done chan struct{}) {
	defer close(done)
	progress := 0
	for evt := range ad.Updates() {
		progress = nextProgress(progress, evt.Type)
		req := eventToRequest(task, evt, progress, ad.GetSessionID())
		if err := poster.Post(ctx, task.CallbackURL, task.CallbackToken, req); err != nil {
			r.log.Error("callback post failed", zap.Error(err), zap.String("event_type", evt.Type))
		}
		if evt.Type == adapter.EventTypeComplete || evt.Type == adapter.EventTypeError {
			return
		}
	}
}

func (r *Runner) fail(ctx context.Context, poster *CallbackPoster, task Task, err error) {
	r.log.Error("task failed", zap.Error(err))
	req := Request{
		SessionID: task.SessionID,
		Time:      time.Now().UTC(),
		Status:    StatusFailed,
		Progress:  100,
		Error:     err.Error(),
	}
	if postErr := poster.Post(ctx, task.CallbackURL, task.CallbackToken, req); postErr != nil {
		r.log.Error("failure callback post failed", zap.Error(postErr))
	}
}

// permissionHandler auto-approves any action the adapter already flags as
// allowed, and escalates everything else — the agent has no pre-approved
// option and is genuinely asking — to a mid-run UserInputRequest against the
// Backend, polled through uiClient until a human answers or it expires. With
// no uiClient configured (CallbackBaseURL unset, e.g. in tests) it falls
// back to picking the first offered option.
func (r *Runner) permissionHandler(task Task, uiClient *UserInputClient) types.PermissionHandler {
	return func(ctx context.Context, req *types.PermissionRequest) (*types.PermissionResponse, error) {
		for _, opt := range req.Options {
			if strings.HasPrefix(opt.Kind, "allow") {
				return &types.PermissionResponse{OptionID: opt.OptionID}, nil
			}
		}
		if uiClient == nil {
			return fallbackOption(req), nil
		}
		return r.askUser(ctx, task, uiClient, req)
	}
}

// askUser creates a UserInputRequest describing req and blocks (via polling)
// until it is answered or expires, translating the answer back into the
// option it names. Any broker failure falls back to the first offered
// option rather than stalling the run indefinitely.
func (r *Runner) askUser(ctx context.Context, task Task, uiClient *UserInputClient, req *types.PermissionRequest) (*types.PermissionResponse, error) {
	toolInput, err := json.Marshal(map[string]any{
		"title":          req.Title,
		"options":        req.Options,
		"action_type":    req.ActionType,
		"action_details": req.ActionDetails,
	})
	if err != nil {
		r.log.Error("marshal user input tool_input failed", zap.Error(err))
		return fallbackOption(req), nil
	}

	created, err := uiClient.Create(ctx, task.SessionID, permissionToolName(req), toolInput)
	if err != nil {
		r.log.Error("create user input request failed", zap.Error(err))
		return fallbackOption(req), nil
	}

	answered, err := uiClient.PollUntilDone(ctx, created.ID, userInputPollInterval)
	if err != nil {
		r.log.Warn("poll user input request failed", zap.Error(err), zap.String("request_id", created.ID))
		return fallbackOption(req), nil
	}
	if answered.Status != "answered" {
		return &types.PermissionResponse{Cancelled: true}, nil
	}

	var answer struct {
		OptionID string `json:"option_id"`
	}
	if err := json.Unmarshal(answered.Answers, &answer); err != nil || answer.OptionID == "" {
		return fallbackOption(req), nil
	}
	return &types.PermissionResponse{OptionID: answer.OptionID}, nil
}

// permissionToolName derives a tool_name for the UserInputRequest from
// whichever field req actually carries: an MCP tool's name, else its
// action type, else its title.
func permissionToolName(req *types.PermissionRequest) string {
	if tool, ok := req.ActionDetails["tool"].(string); ok && tool != "" {
		return tool
	}
	if req.ActionType != "" {
		return req.ActionType
	}
	return req.Title
}

func fallbackOption(req *types.PermissionRequest) *types.PermissionResponse {
	if len(req.Options) > 0 {
		return &types.PermissionResponse{OptionID: req.Options[0].OptionID}
	}
	return &types.PermissionResponse{Cancelled: true}
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// nextProgress advances a coarse progress counter; it is not meant to be
// precise, only monotonically non-decreasing for the UI's progress bar.
func nextProgress(current int, eventType string) int {
	if eventType == adapter.EventTypeComplete {
		return 100
	}
	if current >= 95 {
		return current
	}
	return current + 1
}
