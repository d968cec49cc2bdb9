// Package wsgateway is the Backend's WebSocket fan-out: UI clients subscribe
// to a session (`/ws/sessions/{session_id}`) or to their own user channel
// (`/ws/user`), and the Hub relays callback-processor events to every
// client registered for that key, pruning dead connections as it goes.
package wsgateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/logger"
)

// Envelope is the JSON frame pushed to a subscribed client.
type Envelope struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Payload   any    `json:"payload"`
}

type registration struct {
	client    *Client
	sessionID string
	userID    string
}

// Hub keyes registered clients by session and by user, so a callback for
// session S only wakes clients watching S (or S's owning user).
type Hub struct {
	register   chan registration
	unregister chan *Client

	sessionBroadcast chan sessionMessage
	userBroadcast    chan userMessage

	mu             sync.RWMutex
	sessionClients map[string]map[*Client]bool
	userClients    map[string]map[*Client]bool

	// nats, when set via AttachNATS, carries broadcasts across Backend
	// replicas instead of delivering them purely in-process.
	nats *nats.Conn

	logger *logger.Logger
}

type sessionMessage struct {
	SessionID string   `json:"session_id"`
	Envelope  Envelope `json:"envelope"`
	reply     chan int
}

type userMessage struct {
	UserID   string   `json:"user_id"`
	Envelope Envelope `json:"envelope"`
	reply    chan int
}

// NewHub creates a Hub. Call Run in its own goroutine before registering
// any clients.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		register:         make(chan registration),
		unregister:       make(chan *Client),
		sessionBroadcast: make(chan sessionMessage, 256),
		userBroadcast:    make(chan userMessage, 256),
		sessionClients:   make(map[string]map[*Client]bool),
		userClients:      make(map[string]map[*Client]bool),
		logger:           log.WithFields(zap.String("component", "ws-hub")),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case reg := <-h.register:
			h.addClient(reg)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.sessionBroadcast:
			h.deliverSession(msg)
		case msg := <-h.userBroadcast:
			h.deliverUser(msg)
		}
	}
}

// RegisterSession subscribes client to sessionID's events.
func (h *Hub) RegisterSession(client *Client, sessionID string) {
	h.register <- registration{client: client, sessionID: sessionID}
}

// RegisterUser subscribes client to userID's events.
func (h *Hub) RegisterUser(client *Client, userID string) {
	h.register <- registration{client: client, userID: userID}
}

// Unregister removes a client from every key it was subscribed under.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) addClient(reg registration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if reg.sessionID != "" {
		set, ok := h.sessionClients[reg.sessionID]
		if !ok {
			set = make(map[*Client]bool)
			h.sessionClients[reg.sessionID] = set
		}
		set[reg.client] = true
		reg.client.addSessionKey(reg.sessionID)
	}
	if reg.userID != "" {
		set, ok := h.userClients[reg.userID]
		if !ok {
			set = make(map[*Client]bool)
			h.userClients[reg.userID] = set
		}
		set[reg.client] = true
		reg.client.addUserKey(reg.userID)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID := range client.sessionKeys() {
		if set, ok := h.sessionClients[sessionID]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(h.sessionClients, sessionID)
			}
		}
	}
	for userID := range client.userKeys() {
		if set, ok := h.userClients[userID]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(h.userClients, userID)
			}
		}
	}
	client.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[*Client]bool)
	for _, set := range h.sessionClients {
		for c := range set {
			seen[c] = true
		}
	}
	for _, set := range h.userClients {
		for c := range set {
			seen[c] = true
		}
	}
	for c := range seen {
		c.close()
	}
	h.sessionClients = make(map[string]map[*Client]bool)
	h.userClients = make(map[string]map[*Client]bool)
}

func (h *Hub) deliverSession(msg sessionMessage) {
	h.mu.RLock()
	set := h.sessionClients[msg.SessionID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	buf, err := json.Marshal(msg.Envelope)
	if err != nil {
		h.logger.Error("marshal session envelope failed", zap.Error(err))
		h.reply(msg.reply, 0)
		return
	}
	sent := 0
	for _, c := range clients {
		if c.trySend(buf) {
			sent++
		} else {
			h.removeClient(c)
		}
	}
	h.reply(msg.reply, sent)
}

func (h *Hub) deliverUser(msg userMessage) {
	h.mu.RLock()
	set := h.userClients[msg.UserID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	buf, err := json.Marshal(msg.Envelope)
	if err != nil {
		h.logger.Error("marshal user envelope failed", zap.Error(err))
		h.reply(msg.reply, 0)
		return
	}
	sent := 0
	for _, c := range clients {
		if c.trySend(buf) {
			sent++
		} else {
			h.removeClient(c)
		}
	}
	h.reply(msg.reply, sent)
}

// reply delivers a broadcast's send count to its caller, if one is waiting.
// ch is nil for NATS-sourced deliveries (AttachNATS's subscription callbacks
// have no caller left to report to).
func (h *Hub) reply(ch chan int, count int) {
	if ch != nil {
		ch <- count
	}
}

// BroadcastSession implements callback.Broadcaster: it fans event/payload
// out to every client subscribed to sessionID, returning the number of
// successful sends. Non-blocking — a full hub channel drops the broadcast
// rather than stalling the callback processor, and reports 0 sends.
// When AttachNATS has been called, the broadcast is published on NATS
// instead of enqueued locally; the subject's own subscription (see
// AttachNATS) delivers it back to this replica's local clients too, so the
// count returned here is only this replica's currently-registered
// subscriber count, not a cross-replica confirmation.
func (h *Hub) BroadcastSession(sessionID, event string, payload any) int {
	msg := sessionMessage{SessionID: sessionID, Envelope: Envelope{Event: event, SessionID: sessionID, Payload: payload}}
	if h.nats != nil {
		h.publishNATS(sessionSubject, msg, sessionID)
		h.mu.RLock()
		n := len(h.sessionClients[sessionID])
		h.mu.RUnlock()
		return n
	}

	reply := make(chan int, 1)
	msg.reply = reply
	select {
	case h.sessionBroadcast <- msg:
	default:
		h.logger.Warn("session broadcast dropped, hub channel full", zap.String("session_id", sessionID))
		return 0
	}
	return <-reply
}

// BroadcastUser fans event/payload out to every client subscribed to
// userID's user channel (`/ws/user`), returning the number of successful
// sends (see BroadcastSession for the NATS-attached caveat).
func (h *Hub) BroadcastUser(userID, event string, payload any) int {
	msg := userMessage{UserID: userID, Envelope: Envelope{Event: event, UserID: userID, Payload: payload}}
	if h.nats != nil {
		h.publishNATS(userSubject, msg, userID)
		h.mu.RLock()
		n := len(h.userClients[userID])
		h.mu.RUnlock()
		return n
	}

	reply := make(chan int, 1)
	msg.reply = reply
	select {
	case h.userBroadcast <- msg:
	default:
		h.logger.Warn("user broadcast dropped, hub channel full", zap.String("user_id", userID))
		return 0
	}
	return <-reply
}

func (h *Hub) publishNATS(subject string, msg any, key string) {
	buf, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal nats broadcast failed", zap.Error(err), zap.String("key", key))
		return
	}
	if err := h.nats.Publish(subject, buf); err != nil {
		h.logger.Error("nats publish failed", zap.Error(err), zap.String("key", key))
	}
}
