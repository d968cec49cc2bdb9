package wsgateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/model"
	"github.com/runflow/orchestrator/internal/workspace"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client wraps one UI WebSocket connection. Beyond tracking which hub keys
// it was registered under (so Hub can clean up on disconnect), it answers a
// session-scoped connection's inbound requests (snapshot/workspace lookups)
// using deps.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	logger *logger.Logger

	deps      Deps
	sessionID string

	mu       sync.Mutex
	sessions map[string]bool
	users    map[string]bool
	closed   bool
}

// NewClient creates a Client bound to conn and hub. sessionID is the session
// this connection was upgraded for ("" for a /ws/user connection), used to
// answer inbound session/workspace requests without re-deriving it.
func NewClient(conn *websocket.Conn, hub *Hub, deps Deps, sessionID string, log *logger.Logger) *Client {
	return &Client{
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, 64),
		logger:    log.WithFields(zap.String("component", "ws-client")),
		deps:      deps,
		sessionID: sessionID,
		sessions:  make(map[string]bool),
		users:     make(map[string]bool),
	}
}

func (c *Client) addSessionKey(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = true
}

func (c *Client) addUserKey(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[userID] = true
}

func (c *Client) sessionKeys() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.sessions))
	for k := range c.sessions {
		out[k] = true
	}
	return out
}

func (c *Client) userKeys() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.users))
	for k := range c.users {
		out[k] = true
	}
	return out
}

// trySend enqueues buf without blocking; it reports false if the client's
// send buffer is full or already closed, signaling the hub to drop it.
func (c *Client) trySend(buf []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- buf:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// inboundMessage is a client->server protocol frame: `ping`,
// `session.snapshot.request`, `workspace.files.request`, and
// `workspace.file.url.request` (payload `{path}`).
type inboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ReadPump handles inbound protocol frames and WS-level keepalive. The
// subscription target is fixed at upgrade time (see handler.go); inbound
// requests answer against that same session, never a different one.
func (c *Client) ReadPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleInbound(data)
	}
}

func (c *Client) handleInbound(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("discarding malformed inbound frame", zap.Error(err))
		return
	}

	ctx := context.Background()
	switch msg.Event {
	case "ping":
		c.sendEnvelope(Envelope{Event: "pong"})
	case "session.snapshot.request":
		c.sendSnapshot(ctx)
	case "workspace.files.request":
		c.sendWorkspaceFiles(ctx)
	case "workspace.file.url.request":
		var payload struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Path == "" {
			return
		}
		c.sendWorkspaceFileURL(ctx, payload.Path)
	default:
		c.logger.Warn("discarding unknown inbound event", zap.String("event", msg.Event))
	}
}

// sendSnapshot answers a session-scoped connection's initial (or
// re-requested) state: the session itself, any pending user input request,
// and the workspace file tree if the export has completed.
func (c *Client) sendSnapshot(ctx context.Context) {
	if c.sessionID == "" || c.deps.Repo == nil {
		return
	}
	session, err := c.deps.Repo.GetSession(ctx, c.sessionID)
	if err != nil {
		c.logger.Warn("snapshot: load session failed", zap.Error(err))
		return
	}
	c.sendEnvelope(Envelope{Event: "session.snapshot", SessionID: c.sessionID, Payload: session})

	pending, err := c.deps.Repo.ListPendingUserInputRequests(ctx, c.sessionID)
	if err != nil {
		c.logger.Warn("snapshot: list pending user input requests failed", zap.Error(err))
	} else if len(pending) > 0 {
		c.sendEnvelope(Envelope{Event: "user_input.update", SessionID: c.sessionID, Payload: pending})
	}

	if session.WorkspaceExportStatus == model.ExportReady {
		c.sendWorkspaceFiles(ctx)
	}
}

// sendWorkspaceFiles fetches the session's exported manifest and sends its
// file tree, resolving either manifest shape (see workspace.ResolveTree).
func (c *Client) sendWorkspaceFiles(ctx context.Context) {
	if c.sessionID == "" || c.deps.Repo == nil || c.deps.Store == nil {
		return
	}
	session, err := c.deps.Repo.GetSession(ctx, c.sessionID)
	if err != nil || session.WorkspaceManifestKey == "" {
		return
	}
	tree, err := fetchWorkspaceTree(ctx, c.deps.Store, session.WorkspaceManifestKey)
	if err != nil {
		c.logger.Warn("fetch workspace manifest failed", zap.Error(err))
		return
	}
	c.sendEnvelope(Envelope{Event: "workspace.files", SessionID: c.sessionID, Payload: map[string]any{"nodes": tree}})
}

// sendWorkspaceFileURL presigns a GET URL for one exported file and sends it
// back as a `workspace.file.url` event.
func (c *Client) sendWorkspaceFileURL(ctx context.Context, path string) {
	if c.sessionID == "" || c.deps.Repo == nil || c.deps.Store == nil {
		return
	}
	normalized := workspace.NormalizeManifestPath(path)
	if normalized == "" {
		return
	}
	session, err := c.deps.Repo.GetSession(ctx, c.sessionID)
	if err != nil || session.WorkspaceFilesPrefix == "" {
		return
	}
	url, err := c.deps.Store.PresignGetURL(ctx, session.WorkspaceFilesPrefix+normalized)
	if err != nil {
		c.logger.Warn("presign workspace file url failed", zap.Error(err))
		return
	}
	c.sendEnvelope(Envelope{Event: "workspace.file.url", SessionID: c.sessionID, Payload: map[string]any{"path": path, "url": url}})
}

func (c *Client) sendEnvelope(env Envelope) {
	buf, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("marshal envelope failed", zap.Error(err))
		return
	}
	c.trySend(buf)
}

// WritePump drains c.send to the connection and pings on an interval,
// exiting (and closing the connection) when send is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
