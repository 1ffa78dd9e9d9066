package http

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/examwatch/examwatch/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The exam clients connect from the platform's web origin; origin
	// checks belong to the deployment proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay is the companion signaling endpoint: it forwards each envelope
// to every other connection registered under its targetSessionId. Both
// halves of a monitoring session connect with the same session id.
type Relay struct {
	log zerolog.Logger

	mu    sync.Mutex
	conns map[domain.SessionID][]*relayConn
}

type relayConn struct {
	sessionID domain.SessionID
	conn      *websocket.Conn
	wmu       sync.Mutex
}

func (rc *relayConn) send(msg domain.SignalMessage) error {
	rc.wmu.Lock()
	defer rc.wmu.Unlock()
	return rc.conn.WriteJSON(msg)
}

func NewRelay(log zerolog.Logger) *Relay {
	return &Relay{
		log:   log.With().Str("component", "relay").Logger(),
		conns: make(map[domain.SessionID][]*relayConn),
	}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := domain.SessionID(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Relay.log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	h.Relay.serve(&relayConn{sessionID: sessionID, conn: conn})
}

func (rl *Relay) serve(rc *relayConn) {
	rl.register(rc)
	l := rl.log.With().Str("session_id", rc.sessionID.String()).Logger()
	l.Info().Msg("Signaling client connected")

	defer func() {
		rl.unregister(rc)
		rc.conn.Close()
		l.Info().Msg("Signaling client disconnected")
	}()

	for {
		_, data, err := rc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		msg, err := domain.DecodeSignal(data)
		if err != nil {
			l.Warn().Err(err).Msg("Dropping undecodable signal")
			continue
		}

		if msg.SessionID == "" {
			msg.SessionID = rc.sessionID
		}
		if msg.TargetSessionID == "" {
			msg.TargetSessionID = rc.sessionID
		}

		rl.forward(rc, msg)
	}
}

func (rl *Relay) forward(from *relayConn, msg domain.SignalMessage) {
	rl.mu.Lock()
	targets := make([]*relayConn, 0, 2)
	for _, c := range rl.conns[msg.TargetSessionID] {
		if c != from {
			targets = append(targets, c)
		}
	}
	rl.mu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			rl.log.Warn().Err(err).
				Str("target", msg.TargetSessionID.String()).
				Msg("Failed to forward signal")
		}
	}
}

func (rl *Relay) register(rc *relayConn) {
	rl.mu.Lock()
	rl.conns[rc.sessionID] = append(rl.conns[rc.sessionID], rc)
	rl.mu.Unlock()
}

func (rl *Relay) unregister(rc *relayConn) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	peers := rl.conns[rc.sessionID]
	for i, c := range peers {
		if c == rc {
			rl.conns[rc.sessionID] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(rl.conns[rc.sessionID]) == 0 {
		delete(rl.conns, rc.sessionID)
	}
}
