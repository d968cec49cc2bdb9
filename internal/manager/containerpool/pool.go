// Package containerpool manages the Docker-backed execution endpoints that
// back dispatched runs: ephemeral containers created fresh per run and torn
// down on completion, and persistent containers reused across sessions.
package containerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/config"
	"github.com/runflow/orchestrator/internal/common/logger"
)

// Mode is the container's lifecycle policy.
type Mode string

const (
	ModeEphemeral  Mode = "ephemeral"
	ModePersistent Mode = "persistent"
)

// State is a tracked container's lifecycle state.
type State string

const (
	StateProvisioning State = "provisioning"
	StateRunning      State = "running"
	StateIdle         State = "idle"
	StateDeleting     State = "deleting"
)

// binding is the pool's record of a session_id -> container_id assignment.
// At most one binding exists per session at any time.
type binding struct {
	mu          sync.Mutex
	containerID string
	executorURL string
	userID      string
	mode        Mode
	state       State
}

// Stats mirrors get_container_stats(): a snapshot of pool occupancy.
type Stats struct {
	TotalActive     int             `json:"total_active"`
	PersistentCount int             `json:"persistent_count"`
	EphemeralCount  int             `json:"ephemeral_count"`
	Containers      []ContainerStat `json:"containers"`
}

// ContainerStat is one row of Stats.Containers.
type ContainerStat struct {
	SessionID   string `json:"session_id"`
	ContainerID string `json:"container_id"`
	Mode        Mode   `json:"mode"`
	State       State  `json:"state"`
}

// Pool tracks the session_id -> container_id binding invariant and the
// ephemeral/persistent lifecycle policy for each bound container. A single
// mutex protects the binding map; provisioning and delete calls are I/O and
// run while holding only the per-session binding's own lock, not the pool
// lock, so concurrent sessions never block each other on Docker calls.
type Pool struct {
	docker *dockerClient
	log    *logger.Logger
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*binding
}

// Config configures container provisioning defaults.
type Config struct {
	Image          string
	NetworkMode    string
	MemoryBytes    int64
	CPUQuota       int64
	ExecutorPort   int
	IdleExpiry     time.Duration
	ContainerLabel string
}

// New creates a Pool backed by the Docker daemon described by dockerCfg.
func New(dockerCfg config.DockerConfig, cfg Config, log *logger.Logger) (*Pool, error) {
	dc, err := newDockerClient(dockerCfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.IdleExpiry <= 0 {
		cfg.IdleExpiry = 30 * time.Minute
	}
	if cfg.ExecutorPort <= 0 {
		cfg.ExecutorPort = 8090
	}
	return &Pool{
		docker:   dc,
		log:      log.WithFields(zap.String("component", "container-pool")),
		cfg:      cfg,
		sessions: make(map[string]*binding),
	}, nil
}

// Close releases the pool's Docker client.
func (p *Pool) Close() error {
	return p.docker.Close()
}

// GetOrCreateContainer implements get_or_create_container: for persistent
// mode with a known containerID it reuses the existing container; for
// persistent mode without one it provisions and registers a new one; for
// ephemeral mode it always provisions a fresh container bound to sessionID.
func (p *Pool) GetOrCreateContainer(ctx context.Context, sessionID, userID string, mode Mode, containerID string) (executorURL string, boundContainerID string, err error) {
	b := p.bindingFor(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if mode == ModePersistent && containerID != "" && b.containerID == containerID {
		state, stateErr := p.docker.ContainerState(ctx, containerID)
		if stateErr == nil && state == "running" {
			b.mode, b.state, b.userID = mode, StateRunning, userID
			return b.executorURL, b.containerID, nil
		}
	}

	if mode == ModePersistent && containerID != "" {
		if startErr := p.docker.StartContainer(ctx, containerID); startErr != nil {
			return "", "", fmt.Errorf("restart persistent container %s: %w", containerID, startErr)
		}
		ip, ipErr := p.docker.ContainerIP(ctx, containerID)
		if ipErr != nil {
			return "", "", fmt.Errorf("resolve IP for container %s: %w", containerID, ipErr)
		}
		url := fmt.Sprintf("http://%s:%d", ip, p.cfg.ExecutorPort)
		b.containerID, b.executorURL, b.userID, b.mode, b.state = containerID, url, userID, mode, StateRunning
		p.registerSession(sessionID, b)
		return url, containerID, nil
	}

	newID, url, provErr := p.provision(ctx, sessionID, userID, mode)
	if provErr != nil {
		return "", "", provErr
	}
	b.containerID, b.executorURL, b.userID, b.mode, b.state = newID, url, userID, mode, StateRunning
	p.registerSession(sessionID, b)
	return url, newID, nil
}

func (p *Pool) provision(ctx context.Context, sessionID, userID string, mode Mode) (string, string, error) {
	name := fmt.Sprintf("runflow-exec-%s", sessionID)
	spec := containerSpec{
		Name:        name,
		Image:       p.cfg.Image,
		NetworkMode: p.cfg.NetworkMode,
		Memory:      p.cfg.MemoryBytes,
		CPUQuota:    p.cfg.CPUQuota,
		Labels: map[string]string{
			p.cfg.ContainerLabel: "true",
			"session_id":         sessionID,
			"user_id":            userID,
			"mode":               string(mode),
		},
	}

	containerID, err := p.docker.CreateContainer(ctx, spec)
	if err != nil {
		return "", "", fmt.Errorf("provision container for session %s: %w", sessionID, err)
	}
	if err := p.docker.StartContainer(ctx, containerID); err != nil {
		_ = p.docker.RemoveContainer(ctx, containerID, true)
		return "", "", fmt.Errorf("start container for session %s: %w", sessionID, err)
	}
	ip, err := p.docker.ContainerIP(ctx, containerID)
	if err != nil {
		_ = p.docker.RemoveContainer(ctx, containerID, true)
		return "", "", fmt.Errorf("resolve IP for session %s container: %w", sessionID, err)
	}

	p.log.Info("container provisioned",
		zap.String("session_id", sessionID),
		zap.String("container_id", containerID),
		zap.String("mode", string(mode)))
	return containerID, fmt.Sprintf("http://%s:%d", ip, p.cfg.ExecutorPort), nil
}

// CancelTask implements cancel_task: terminates the session's running task
// and, if the bound container is ephemeral, deletes it immediately.
func (p *Pool) CancelTask(ctx context.Context, sessionID string) error {
	b := p.takeBinding(sessionID)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == ModeEphemeral {
		return p.destroy(ctx, sessionID, b)
	}
	b.state = StateIdle
	p.registerSession(sessionID, b)
	return nil
}

// OnTaskComplete implements on_task_complete: ephemeral containers are
// scheduled for delete, persistent containers are marked idle and left
// running for reuse.
func (p *Pool) OnTaskComplete(ctx context.Context, sessionID string) error {
	b := p.takeBinding(sessionID)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == ModeEphemeral {
		return p.destroy(ctx, sessionID, b)
	}
	b.state = StateIdle
	p.registerSession(sessionID, b)
	return nil
}

// destroy stops and removes the binding's container. A stop failure is
// logged and ignored; a remove failure is logged and returned.
func (p *Pool) destroy(ctx context.Context, sessionID string, b *binding) error {
	b.state = StateDeleting
	if err := p.docker.StopContainer(ctx, b.containerID, 10*time.Second); err != nil {
		p.log.Warn("stop container failed, will retry on sweep", zap.String("container_id", b.containerID), zap.Error(err))
	}
	if err := p.docker.RemoveContainer(ctx, b.containerID, true); err != nil {
		p.log.Warn("remove container failed, will retry on sweep", zap.String("container_id", b.containerID), zap.Error(err))
		return err
	}
	p.log.Info("ephemeral container deleted", zap.String("session_id", sessionID), zap.String("container_id", b.containerID))
	return nil
}

// DeleteContainer implements delete_container: force-delete by id,
// regardless of any session binding.
func (p *Pool) DeleteContainer(ctx context.Context, containerID string) error {
	if err := p.docker.StopContainer(ctx, containerID, 10*time.Second); err != nil {
		p.log.Warn("stop container failed", zap.String("container_id", containerID), zap.Error(err))
	}
	return p.docker.RemoveContainer(ctx, containerID, true)
}

// Stats implements get_container_stats.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	sessions := make(map[string]*binding, len(p.sessions))
	for k, v := range p.sessions {
		sessions[k] = v
	}
	p.mu.Unlock()

	stats := Stats{Containers: make([]ContainerStat, 0, len(sessions))}
	for sessionID, b := range sessions {
		b.mu.Lock()
		stats.Containers = append(stats.Containers, ContainerStat{
			SessionID:   sessionID,
			ContainerID: b.containerID,
			Mode:        b.mode,
			State:       b.state,
		})
		if b.mode == ModePersistent {
			stats.PersistentCount++
		} else {
			stats.EphemeralCount++
		}
		b.mu.Unlock()
	}
	stats.TotalActive = len(stats.Containers)
	return stats
}

func (p *Pool) bindingFor(sessionID string) *binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.sessions[sessionID]; ok {
		return b
	}
	return &binding{state: StateProvisioning}
}

func (p *Pool) registerSession(sessionID string, b *binding) {
	p.mu.Lock()
	p.sessions[sessionID] = b
	p.mu.Unlock()
}

// takeBinding removes and returns sessionID's binding, enforcing that an
// ephemeral container lives strictly while its session is bound.
func (p *Pool) takeBinding(sessionID string) *binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(p.sessions, sessionID)
	return b
}
