// Package gateway implements the realtime session/room transport
// (spec §4.8): WebSocket session multiplexing, room membership,
// heartbeat enforcement, and the three delivery primitives
// (to_session, to_room, to_room_except). Grounded on the pack's
// WebSocket hub idiom.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lkarbiter/core/internal/events"
	"github.com/lkarbiter/core/internal/jitter"
)

const (
	heartbeatInterval = 3 * time.Second
	pingTimeout       = 10 * time.Second
	writeWait         = 10 * time.Second
	readLimit         = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session is one client's transport-level connection, bound to an
// account once authenticated (spec §3 PlayerConnection lifecycle).
type Session struct {
	ID        string
	AccountID string
	conn      *websocket.Conn
	send      chan []byte
	gw        *Gateway
	monitor   *jitter.Monitor

	mu            sync.Mutex
	lastHeartbeat time.Time
	rooms         map[string]bool
}

// Handler is the application callback invoked for each decoded inbound
// envelope; the gateway itself knows nothing about match/ludo
// semantics (spec §4.8: "dispatch named events to C7/C6 handlers").
type Handler func(session *Session, env events.Envelope)

// DisconnectFunc is invoked once a session's heartbeat watchdog trips
// the ping timeout, carrying the connection's own jitter state so the
// caller can run spec §4.4's disconnect classification.
type DisconnectFunc func(accountID string, flagged bool, recentSpikes int)

// ReconnectFunc is invoked whenever an account establishes a new
// session, so a caller tracking a pending disconnect grace timer can
// clear it.
type ReconnectFunc func(accountID string)

// Gateway owns the set of live sessions and room memberships.
type Gateway struct {
	logger  *slog.Logger
	handler Handler
	jitter  jitter.Config

	onDisconnect DisconnectFunc
	onReconnect  ReconnectFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session // roomID -> sessionID -> Session
}

// New builds a Gateway that dispatches inbound events to handler.
func New(logger *slog.Logger, handler Handler, jitterCfg jitter.Config) *Gateway {
	return &Gateway{
		logger:   logger,
		handler:  handler,
		jitter:   jitterCfg,
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

// SetDisconnectHandler wires the callback invoked when a session's
// heartbeat watchdog trips. Must be called before any session connects.
func (gw *Gateway) SetDisconnectHandler(fn DisconnectFunc) { gw.onDisconnect = fn }

// SetReconnectHandler wires the callback invoked whenever an account
// opens a new session.
func (gw *Gateway) SetReconnectHandler(fn ReconnectFunc) { gw.onReconnect = fn }

// ServeHTTP upgrades the connection and spawns the session's read/write
// pumps.
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request, sessionID, accountID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s := &Session{
		ID:            sessionID,
		AccountID:     accountID,
		conn:          conn,
		send:          make(chan []byte, 128),
		gw:            gw,
		monitor:       jitter.NewMonitor(gw.jitter),
		lastHeartbeat: time.Now(),
		rooms:         make(map[string]bool),
	}

	gw.mu.Lock()
	gw.sessions[sessionID] = s
	gw.mu.Unlock()

	env, _ := events.New(events.TypeConnected, map[string]string{"session_id": sessionID})
	s.deliver(env)

	go s.writePump()
	go s.readPump()
	go s.heartbeatWatchdog()

	if gw.onReconnect != nil {
		gw.onReconnect(accountID)
	}
}

// JoinRoom adds a session to a room's membership set.
func (gw *Gateway) JoinRoom(roomID string, s *Session) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	members, ok := gw.rooms[roomID]
	if !ok {
		members = make(map[string]*Session)
		gw.rooms[roomID] = members
	}
	members[s.ID] = s
	s.mu.Lock()
	s.rooms[roomID] = true
	s.mu.Unlock()
}

// LeaveRoom removes a session from a room's membership set.
func (gw *Gateway) LeaveRoom(roomID string, s *Session) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if members, ok := gw.rooms[roomID]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(gw.rooms, roomID)
		}
	}
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// ToSession delivers an envelope to exactly one session (spec §4.8).
func (gw *Gateway) ToSession(sessionID string, env events.Envelope) {
	gw.mu.RLock()
	s, ok := gw.sessions[sessionID]
	gw.mu.RUnlock()
	if ok {
		s.deliver(env)
	}
}

// ToAccount delivers an envelope to every connected session belonging
// to accountID (an account may hold more than one open session, e.g.
// a reconnect racing the old socket's teardown).
func (gw *Gateway) ToAccount(accountID string, env events.Envelope) {
	gw.mu.RLock()
	targets := make([]*Session, 0, 1)
	for _, s := range gw.sessions {
		if s.AccountID == accountID {
			targets = append(targets, s)
		}
	}
	gw.mu.RUnlock()
	for _, s := range targets {
		s.deliver(env)
	}
}

// ToRoom delivers an envelope to every session in a room (spec §4.8).
func (gw *Gateway) ToRoom(roomID string, env events.Envelope) {
	gw.mu.RLock()
	members := gw.rooms[roomID]
	targets := make([]*Session, 0, len(members))
	for _, s := range members {
		targets = append(targets, s)
	}
	gw.mu.RUnlock()
	for _, s := range targets {
		s.deliver(env)
	}
}

// ToRoomExcept delivers to every session in a room except the given
// session id (spec §4.8).
func (gw *Gateway) ToRoomExcept(roomID, exceptSessionID string, env events.Envelope) {
	gw.mu.RLock()
	members := gw.rooms[roomID]
	targets := make([]*Session, 0, len(members))
	for id, s := range members {
		if id != exceptSessionID {
			targets = append(targets, s)
		}
	}
	gw.mu.RUnlock()
	for _, s := range targets {
		s.deliver(env)
	}
}

func (s *Session) deliver(env events.Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case s.send <- body:
	default:
		s.gw.logger.Warn("session send buffer full, dropping event", "session_id", s.ID)
	}
}

// Deliver sends env directly to this session, bypassing room/account
// lookups. Used by the application-level dispatch handler to reply
// in-place to the envelope it just received.
func (s *Session) Deliver(env events.Envelope) {
	s.deliver(env)
}

func (s *Session) close() {
	s.gw.mu.Lock()
	delete(s.gw.sessions, s.ID)
	for roomID, members := range s.gw.rooms {
		if _, ok := members[s.ID]; ok {
			delete(members, s.ID)
			if len(members) == 0 {
				delete(s.gw.rooms, roomID)
			}
		}
	}
	s.gw.mu.Unlock()
	close(s.send)
	_ = s.conn.Close()
}

func (s *Session) readPump() {
	defer s.close()
	s.conn.SetReadLimit(readLimit)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var env events.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.gw.logger.Warn("malformed envelope", "session_id", s.ID, "error", err)
			continue
		}
		if env.Type == events.TypeHeartbeat {
			s.handleHeartbeat(env)
			continue
		}
		if s.gw.handler != nil {
			s.gw.handler(s, env)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type heartbeatPayload struct {
	ClientTimestamp time.Time `json:"client_timestamp"`
	Sequence        uint64    `json:"sequence"`
	GameState       string    `json:"game_state"`
}

// handleHeartbeat feeds C4 (internal/jitter) and replies with
// heartbeat_ack (spec §6).
func (s *Session) handleHeartbeat(env events.Envelope) {
	var payload heartbeatPayload
	_ = json.Unmarshal(env.Payload, &payload)

	now := time.Now().UTC()
	rtt := now.Sub(payload.ClientTimestamp)
	if rtt < 0 {
		rtt = 0
	}
	classification := s.monitor.Observe(rtt, now, jitter.GameStateTag(payload.GameState))

	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()

	ack, err := events.New(events.TypeHeartbeatAck, map[string]any{
		"server_timestamp":   now,
		"sequence":           payload.Sequence,
		"connection_quality": classification,
	})
	if err != nil {
		return
	}
	s.deliver(ack)
}

// heartbeatWatchdog enforces the 10s ping timeout, feeding every missed
// interval into C4 and handing off to the disconnect handler once the
// timeout trips (spec §4.4, §4.8).
func (s *Session) heartbeatWatchdog() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		since := time.Since(s.lastHeartbeat)
		s.mu.Unlock()
		if since > heartbeatInterval {
			s.monitor.RecordMissedHeartbeat()
		}
		if since > pingTimeout {
			s.monitor.MarkDisconnected(time.Now().UTC())
			if s.gw.onDisconnect != nil {
				snap := s.monitor.Snapshot()
				s.gw.onDisconnect(s.AccountID, snap.Flagged, snap.SpikesInWindow)
			}
			return
		}
		if _, stillOpen := s.gw.sessionByID(s.ID); !stillOpen {
			return
		}
	}
}

func (gw *Gateway) sessionByID(id string) (*Session, bool) {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	s, ok := gw.sessions[id]
	return s, ok
}
