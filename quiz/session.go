/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultReconnectGrace = 5 * time.Minute
	DefaultSessionMaxAge  = 60 * time.Minute
)

type SessionStatus string

const (
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
	SessionInvalid      SessionStatus = "invalid"
)

// Session lets a player resume their seat in a room from a new connection.
type Session struct {
	Token          string        `json:"token"`
	Conn           ConnID        `json:"conn"`
	RoomCode       string        `json:"roomCode"`
	Player         Player        `json:"player"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivity   time.Time     `json:"lastActivity"`
	DisconnectedAt time.Time     `json:"disconnectedAt,omitzero"`
	ReconnectCount int           `json:"reconnectCount"`
}

// SessionManager tracks reconnection tokens apart from any live connection.
// Its tables are guarded by their own lock so the periodic sweep never
// touches a room.
type SessionManager struct {
	mu sync.Mutex

	byToken map[string]*Session
	byConn  map[ConnID]string
	byRoom  map[string]map[string]struct{}

	grace  time.Duration
	maxAge time.Duration

	now      func() time.Time
	newToken func() string
}

type SessionOption func(*SessionManager)

// WithSessionClock replaces time.Now, for tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithTokenSource replaces the random token generator, for tests.
func WithTokenSource(newToken func() string) SessionOption {
	return func(m *SessionManager) {
		m.newToken = newToken
	}
}

func NewSessionManager(grace, maxAge time.Duration, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		byToken:  make(map[string]*Session),
		byConn:   make(map[ConnID]string),
		byRoom:   make(map[string]map[string]struct{}),
		grace:    grace,
		maxAge:   maxAge,
		now:      time.Now,
		newToken: uuid.NewString,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *SessionManager) Create(conn ConnID, code string, p Player) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	s := &Session{
		Token:        m.newToken(),
		Conn:         conn,
		RoomCode:     code,
		Player:       p,
		Status:       SessionConnected,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.byToken[s.Token] = s
	m.byConn[conn] = s.Token

	if m.byRoom[code] == nil {
		m.byRoom[code] = make(map[string]struct{})
	}
	m.byRoom[code][s.Token] = struct{}{}

	return *s
}

// Get looks a token up by exact match and marks it active.
func (m *SessionManager) Get(token string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byToken[token]
	if !ok || s.Status == SessionInvalid {
		return Session{}, false
	}

	s.LastActivity = m.now()

	return *s, true
}

// Rebind moves a token onto a new connection after a reconnect.
func (m *SessionManager) Rebind(token string, conn ConnID) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byToken[token]
	if !ok || s.Status == SessionInvalid {
		return Session{}, false
	}

	if m.byConn[s.Conn] == token {
		delete(m.byConn, s.Conn)
	}

	now := m.now()

	s.Conn = conn
	s.Status = SessionConnected
	s.LastActivity = now
	s.DisconnectedAt = time.Time{}
	s.ReconnectCount++

	m.byConn[conn] = token

	return *s, true
}

// MarkDisconnected records that conn dropped, along with the player's state
// at that moment so it can be restored on resume.
func (m *SessionManager) MarkDisconnected(conn ConnID, p Player) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.byConn[conn]
	if !ok {
		return false
	}

	s := m.byToken[token]

	now := m.now()

	s.Player = p
	s.Status = SessionDisconnected
	s.DisconnectedAt = now
	s.LastActivity = now

	return true
}

func (m *SessionManager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invalidateLocked(token)
}

// InvalidateRoom drops every session of a room and returns how many there were.
func (m *SessionManager) InvalidateRoom(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := m.byRoom[code]
	n := len(tokens)

	for token := range tokens {
		m.invalidateLocked(token)
	}

	delete(m.byRoom, code)

	return n
}

func (m *SessionManager) invalidateLocked(token string) {
	s, ok := m.byToken[token]
	if !ok {
		return
	}

	s.Status = SessionInvalid

	delete(m.byToken, token)

	if m.byConn[s.Conn] == token {
		delete(m.byConn, s.Conn)
	}

	if tokens, ok := m.byRoom[s.RoomCode]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(m.byRoom, s.RoomCode)
		}
	}
}

func (m *SessionManager) FindByConnection(conn ConnID) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.byConn[conn]
	if !ok {
		return Session{}, false
	}

	return *m.byToken[token], true
}

// FindByRoomPlayer finds the most recently disconnected session for a name
// in a room, for clients that lost their token.
func (m *SessionManager) FindByRoomPlayer(code, name string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *Session

	for token := range m.byRoom[code] {
		s := m.byToken[token]
		if s.Player.Name != name || s.Status != SessionDisconnected {
			continue
		}

		if found == nil || s.DisconnectedAt.After(found.DisconnectedAt) {
			found = s
		}
	}

	if found == nil {
		return Session{}, false
	}

	return *found, true
}

// Sweep invalidates sessions that stayed disconnected past the grace period
// or outlived the maximum age, and returns them.
func (m *SessionManager) Sweep() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	var swept []Session

	for token, s := range m.byToken {
		expired := now.Sub(s.CreatedAt) > m.maxAge
		abandoned := s.Status == SessionDisconnected && now.Sub(s.DisconnectedAt) > m.grace

		if !expired && !abandoned {
			continue
		}

		m.invalidateLocked(token)

		swept = append(swept, *s)
	}

	return swept
}

// Run sweeps every interval until ctx is done. onSweep, if set, receives
// each non-empty batch of invalidated sessions.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration, onSweep func([]Session)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept := m.Sweep()
			if len(swept) > 0 && onSweep != nil {
				onSweep(swept)
			}
		}
	}
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.byToken)
}
