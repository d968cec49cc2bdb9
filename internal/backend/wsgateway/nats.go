package wsgateway

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/logger"
)

const (
	sessionSubject = "runflow.ws.session"
	userSubject    = "runflow.ws.user"
)

// AttachNATS makes the Hub fan out through a NATS connection instead of
// delivering purely in-process, so a callback processed on one Backend
// replica reaches a UI client's WebSocket held open on another. Every
// replica (including the one that published) subscribes and delivers
// locally, so call this before Run.
func (h *Hub) AttachNATS(nc *nats.Conn, log *logger.Logger) error {
	h.nats = nc
	sublog := log.WithFields(zap.String("component", "ws-hub-nats"))

	if _, err := nc.Subscribe(sessionSubject, func(msg *nats.Msg) {
		var m sessionMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			sublog.Error("decode session broadcast failed", zap.Error(err))
			return
		}
		h.deliverSession(m)
	}); err != nil {
		return err
	}

	if _, err := nc.Subscribe(userSubject, func(msg *nats.Msg) {
		var m userMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			sublog.Error("decode user broadcast failed", zap.Error(err))
			return
		}
		h.deliverUser(m)
	}); err != nil {
		return err
	}

	return nil
}
