package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/log"
)

// heartbeatInterval is the cadence at which the agent WebSocket pushes a
// liveness frame, per spec.
const heartbeatInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleAgentWS authenticates via the ?token= query parameter (a bearer
// token cannot ride in a WebSocket handshake header from a browser client),
// stamps last_contact on connect, sends {"type":"connected"} and then a
// heartbeat frame every 5s until the connection drops.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, brokererr.NewAuthentication("missing token query parameter"))
		return
	}
	agent, err := s.broker.VerifyAgentToken(token)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithAgentID(agent.UID).Warn().Err(err).Msg("agent websocket upgrade failed")
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "connected"}); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	go drainClientFrames(conn)

	for range ticker.C {
		if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
			return
		}
	}
}

// drainClientFrames discards anything the client sends, purely to detect a
// closed connection (ReadMessage returns an error once the peer hangs up).
func drainClientFrames(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
