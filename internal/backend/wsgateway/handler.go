package wsgateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SetupRoutes registers the two UI-facing upgrade endpoints on router. deps
// backs the ownership check and snapshot/request answering a session
// connection does; a zero Deps skips both (used by tests).
func SetupRoutes(router gin.IRouter, hub *Hub, deps Deps, log *logger.Logger) {
	router.GET("/ws/sessions/:session_id", func(c *gin.Context) {
		serveSession(c, hub, deps, log)
	})
	router.GET("/ws/user", func(c *gin.Context) {
		userID := c.Query("user_id")
		serve(c, hub, deps, log, registration{userID: userID}, "")
	})
}

// serveSession upgrades a /ws/sessions/{id} connection, refusing it with
// close code 1008 (policy violation) unless the caller's user_id query
// param matches the session's owner — Testable Property P7: a mismatched
// owner gets no events, not even the upgrade response body.
func serveSession(c *gin.Context, hub *Hub, deps Deps, log *logger.Logger) {
	sessionID := c.Param("session_id")
	callerUserID := c.Query("user_id")

	if deps.Repo != nil {
		session, err := deps.Repo.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "message": "session not found"})
			return
		}
		if callerUserID == "" || callerUserID != session.UserID {
			conn, upErr := upgrader.Upgrade(c.Writer, c.Request, nil)
			if upErr != nil {
				log.Warn("websocket upgrade failed", zap.Error(upErr))
				return
			}
			closeRefused(conn, "user_id does not own this session")
			return
		}
	}

	serve(c, hub, deps, log, registration{sessionID: sessionID}, sessionID)
}

// closeRefused sends a close-code-1008 frame and tears the connection down
// without registering the client or delivering any event.
func closeRefused(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}

func serve(c *gin.Context, hub *Hub, deps Deps, log *logger.Logger, reg registration, clientSessionID string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, hub, deps, clientSessionID, log)
	reg.client = client
	if reg.sessionID != "" {
		hub.RegisterSession(client, reg.sessionID)
		client.sendSnapshot(c.Request.Context())
	}
	if reg.userID != "" {
		hub.RegisterUser(client, reg.userID)
	}

	go client.WritePump()
	client.ReadPump()
}
