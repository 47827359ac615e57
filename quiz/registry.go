/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	// CodeDigits is the fixed width of a room code.
	CodeDigits = 6

	codeSpace = 1_000_000
)

// RandomCode draws a uniformly random, zero-padded room code.
func RandomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	return fmt.Sprintf("%0*d", CodeDigits, n.Int64())
}

// Registry maps room codes to rooms and is the entry point for every
// inbound action. Each call runs to completion under one lock, so actions
// never interleave; returned envelopes are delivered by the caller after
// the lock is released.
type Registry struct {
	mu sync.Mutex

	rooms   map[string]*Room
	hosts   map[ConnID]string
	members map[ConnID]string

	sessions *SessionManager

	newCode func() string
	now     func() time.Time
}

type Option func(*Registry)

// WithCodeSource replaces RandomCode, for tests.
func WithCodeSource(newCode func() string) Option {
	return func(r *Registry) {
		r.newCode = newCode
	}
}

// WithClock replaces time.Now as the scoring clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(sessions *SessionManager, opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*Room),
		hosts:    make(map[ConnID]string),
		members:  make(map[ConnID]string),
		sessions: sessions,
		newCode:  RandomCode,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// roomOf returns the room conn hosts or last joined.
func (r *Registry) roomOf(conn ConnID) (*Room, bool) {
	code, ok := r.hosts[conn]
	if !ok {
		code, ok = r.members[conn]
	}
	if !ok {
		return nil, false
	}

	room, ok := r.rooms[code]

	return room, ok
}

// CreateRoom opens a room hosted by conn. Calling it again from the same
// host returns the room it already has.
func (r *Registry) CreateRoom(conn ConnID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if code, ok := r.hosts[conn]; ok {
		return code, nil
	}

	if _, ok := r.members[conn]; ok {
		return "", ErrAlreadyInRoom
	}

	if len(r.rooms) >= codeSpace {
		return "", ErrCodeSpaceExhausted
	}

	var code string
	for {
		code = r.newCode()
		if _, taken := r.rooms[code]; !taken {
			break
		}
	}

	r.rooms[code] = newRoom(code, conn, r.now)
	r.hosts[conn] = code

	return code, nil
}

func (r *Registry) RoomExists(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[code]

	return ok
}

// Resolve returns a copy of the room's current state.
func (r *Registry) Resolve(code string) (RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return RoomInfo{}, false
	}

	return room.info(), true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms)
}

// Join adds conn to the room as a player and hands it a session token.
func (r *Registry) Join(conn ConnID, code, name, character string) ([]Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	if _, ok := r.roomOf(conn); ok {
		return nil, ErrAlreadyInRoom
	}

	envs, err := room.join(conn, name, character)
	if err != nil {
		return nil, err
	}

	r.members[conn] = code

	s := r.sessions.Create(conn, code, *room.players[conn])

	return append(envs, Envelope{
		To:    conn,
		Event: EventSession,
		Data:  SessionNotice{Token: s.Token, Code: code},
	}), nil
}

func (r *Registry) ShowQuestion(conn ConnID, q Question) ([]Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.roomOf(conn)
	if !ok {
		return nil, ErrRoomNotFound
	}

	return room.showQuestion(conn, q)
}

func (r *Registry) SubmitAnswer(conn ConnID, selected []int) ([]Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.roomOf(conn)
	if !ok {
		return nil, ErrRoomNotFound
	}

	return room.submit(conn, selected)
}

func (r *Registry) SkipQuestion(conn ConnID) ([]Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.roomOf(conn)
	if !ok {
		return nil, ErrRoomNotFound
	}

	return room.skip(conn)
}

// EndGame finishes the host's room, returning the host's report and the
// final message for each player.
func (r *Registry) EndGame(conn ConnID) (Report, []Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.roomOf(conn)
	if !ok {
		return Report{}, nil, ErrRoomNotFound
	}

	report, envs, err := room.end(conn)
	if err != nil {
		return Report{}, nil, err
	}

	r.removeLocked(room)

	return report, envs, nil
}

// Disconnect handles a dropped connection. A host leaving ends the game
// exactly as EndGame would; a player leaving keeps the game going and
// leaves their session resumable.
func (r *Registry) Disconnect(conn ConnID) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.roomOf(conn)
	if !ok {
		return nil
	}

	// roomOf only finds hosts and current players.
	switch role := room.RoleOf(conn).(type) {
	case HostRole:
		_, envs := room.teardown()
		r.removeLocked(room)

		return envs
	case PlayerRole:
		envs := room.leave(conn)
		delete(r.members, conn)
		r.sessions.MarkDisconnected(conn, *role.Player)

		return envs
	}

	return nil
}

// Resume puts conn back into a room using a session token, or, when the
// token was lost, the room code and player name of a disconnected session.
func (r *Registry) Resume(conn ConnID, token, code, name string) (Session, []Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roomOf(conn); ok {
		return Session{}, nil, ErrAlreadyInRoom
	}

	var (
		s  Session
		ok bool
	)
	if token != "" {
		s, ok = r.sessions.Get(token)
	} else {
		s, ok = r.sessions.FindByRoomPlayer(code, name)
	}
	if !ok {
		return Session{}, nil, ErrSessionNotFound
	}

	if s.Status != SessionDisconnected {
		return Session{}, nil, ErrSessionActive
	}

	room, ok := r.rooms[s.RoomCode]
	if !ok {
		r.sessions.Invalidate(s.Token)

		return Session{}, nil, ErrRoomNotFound
	}

	envs, err := room.rejoin(conn, s.Conn, s.Player)
	if err != nil {
		return Session{}, nil, err
	}

	r.members[conn] = room.code

	s, _ = r.sessions.Rebind(s.Token, conn)

	envs = append(envs, Envelope{
		To:    conn,
		Event: EventSession,
		Data:  SessionNotice{Token: s.Token, Code: room.code},
	})

	return s, envs, nil
}

func (r *Registry) removeLocked(room *Room) {
	for conn := range room.players {
		delete(r.members, conn)
	}

	delete(r.hosts, room.host)
	delete(r.rooms, room.code)

	r.sessions.InvalidateRoom(room.code)
}
