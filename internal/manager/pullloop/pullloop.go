// Package pullloop implements the Executor Manager's pull loop: it decides
// when to call claim and for which schedule modes, driven by interval
// rules, time-bounded window rules, and explicit triggers, all gated by a
// global concurrency semaphore.
package pullloop

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/runflow/orchestrator/internal/common/logger"
	"go.uber.org/zap"
)

// TriggerDebounce coalesces triggers for the same schedule modes arriving
// within this window into a single poll.
const TriggerDebounce = 50 * time.Millisecond

// IntervalRule polls for a fixed set of schedule modes on a fixed period.
type IntervalRule struct {
	ScheduleModes []string
	Interval      time.Duration
}

// Config configures a Loop.
type Config struct {
	WorkerID          string
	LeaseSeconds      int
	MaxConcurrentRuns int64
	IntervalRules     []IntervalRule
}

// Loop is the Manager's claim scheduler.
type Loop struct {
	cfg    Config
	sem    *semaphore.Weighted
	log    *logger.Logger
	claim  func(ctx context.Context, workerID string, leaseSeconds int, modes []string) (any, error)
	dispatch func(ctx context.Context, run any)

	windowMu     sync.Mutex
	windowsUntil map[string]time.Time

	triggerMu      sync.Mutex
	pendingModes   map[string]struct{}
	debounceTimer  *time.Timer

	shutdownOnce sync.Once
	shutdown     chan struct{}
	wg           sync.WaitGroup
}

// New creates a Loop. claim performs the Backend claim RPC and returns a
// claimed-run value (or nil if nothing was claimable); dispatch is invoked
// in its own goroutine per claimed run and must release no semaphore itself
// — the Loop releases it once dispatch returns.
func New(cfg Config, log *logger.Logger, claim func(ctx context.Context, workerID string, leaseSeconds int, modes []string) (any, error), dispatch func(ctx context.Context, run any)) *Loop {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 8
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = 30
	}
	return &Loop{
		cfg:          cfg,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		log:          log.WithFields(zap.String("component", "pull-loop")),
		claim:        claim,
		dispatch:     dispatch,
		windowsUntil: make(map[string]time.Time),
		pendingModes: make(map[string]struct{}),
		shutdown:     make(chan struct{}),
	}
}

// Start launches the interval-rule tickers. Call Stop to drain.
func (l *Loop) Start(ctx context.Context) {
	l.log.Info("pull loop starting",
		zap.String("worker_id", l.cfg.WorkerID),
		zap.Int64("max_concurrent", l.cfg.MaxConcurrentRuns))

	for _, rule := range l.cfg.IntervalRules {
		l.wg.Add(1)
		go l.runIntervalRule(ctx, rule)
	}
}

// Rules returns the configured interval rules, exposed for the /schedules
// read endpoint the UI polls.
func (l *Loop) Rules() []IntervalRule {
	return l.cfg.IntervalRules
}

// Stop signals shutdown and waits for interval-rule goroutines and any
// in-flight Poll to settle. It does not cancel already-dispatched runs;
// the caller's ctx cancellation does that.
func (l *Loop) Stop() {
	l.shutdownOnce.Do(func() { close(l.shutdown) })
	l.wg.Wait()
	l.log.Info("pull loop stopped")
}

func (l *Loop) runIntervalRule(ctx context.Context, rule IntervalRule) {
	defer l.wg.Done()
	ticker := time.NewTicker(rule.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		case <-ticker.C:
			l.Poll(ctx, rule.ScheduleModes)
		}
	}
}

// Poll acquires the concurrency semaphore and claims runs under modes until
// the queue is empty or the semaphore is exhausted, spawning a dispatch
// goroutine per claimed run. It is safe to call concurrently (window polls,
// trigger polls, and interval polls all funnel through it).
func (l *Loop) Poll(ctx context.Context, modes []string) {
	select {
	case <-l.shutdown:
		return
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		default:
		}

		if !l.sem.TryAcquire(1) {
			return
		}

		run, err := l.claim(ctx, l.cfg.WorkerID, l.cfg.LeaseSeconds, modes)
		if err != nil {
			l.log.Error("claim failed", zap.Error(err))
			l.sem.Release(1)
			return
		}
		if run == nil {
			l.sem.Release(1)
			return
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sem.Release(1)
			l.dispatch(ctx, run)
		}()
	}
}

// Trigger requests an out-of-band poll for modes, coalescing concurrent
// triggers arriving within TriggerDebounce into a single invocation whose
// modes are the union of all coalesced requests. Returns accepted=false,
// reason="debounced" when folded into an already-pending trigger.
func (l *Loop) Trigger(ctx context.Context, modes []string, reason string) (accepted bool, debounceReason string) {
	l.triggerMu.Lock()
	defer l.triggerMu.Unlock()

	alreadyPending := len(l.pendingModes) > 0
	for _, m := range modes {
		l.pendingModes[m] = struct{}{}
	}

	if alreadyPending {
		return false, "debounced"
	}

	l.debounceTimer = time.AfterFunc(TriggerDebounce, func() {
		l.triggerMu.Lock()
		union := make([]string, 0, len(l.pendingModes))
		for m := range l.pendingModes {
			union = append(union, m)
		}
		l.pendingModes = make(map[string]struct{})
		l.triggerMu.Unlock()

		l.log.Debug("firing debounced trigger", zap.Strings("schedule_modes", union), zap.String("reason", reason))
		l.Poll(ctx, union)
	})
	return true, ""
}

// OpenWindow records windows_until[id]=now+windowMinutes and fires an
// immediate poll for modes. A companion interval rule should call PollWindow
// repeatedly while the window may still be open; it becomes a no-op once
// the window has closed.
func (l *Loop) OpenWindow(ctx context.Context, windowID string, modes []string, windowMinutes int) {
	windowID = trimOrDefault(windowID)
	if windowID == "" {
		return
	}
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	until := time.Now().UTC().Add(time.Duration(windowMinutes) * time.Minute)

	l.windowMu.Lock()
	l.windowsUntil[windowID] = until
	l.windowMu.Unlock()

	l.log.Info("window opened", zap.String("window_id", windowID), zap.Time("until", until), zap.Strings("schedule_modes", modes))
	l.Poll(ctx, modes)
}

// PollWindow polls for modes only while windowID's window is still open,
// clearing the window once it has expired.
func (l *Loop) PollWindow(ctx context.Context, windowID string, modes []string) {
	windowID = trimOrDefault(windowID)
	if windowID == "" {
		return
	}

	l.windowMu.Lock()
	until, ok := l.windowsUntil[windowID]
	if ok && !time.Now().UTC().Before(until) {
		delete(l.windowsUntil, windowID)
		ok = false
	}
	l.windowMu.Unlock()

	if !ok {
		return
	}
	l.Poll(ctx, modes)
}

func trimOrDefault(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// MaxConcurrentTasksFromEnv reads MAX_CONCURRENT_TASKS, defaulting to 8.
func MaxConcurrentTasksFromEnv() int64 {
	v := os.Getenv("MAX_CONCURRENT_TASKS")
	if v == "" {
		return 8
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 8
	}
	return n
}
