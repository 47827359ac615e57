// Quizbox live quiz
//
// One connection creates a room and becomes its host; players join with the
// room's six-digit code, a name and a character. The host shows questions,
// players answer once each, and points are awarded for correct answers with
// a bonus for speed. The host may reveal the answer early, and ends the game
// to receive the full history; each player gets only their own answers.
//
// Features:
// - One WebSocket per connection at /quiz/ws, JSON frames with ack ids
// - Actions without an ack id are dropped unexecuted
// - Payloads are validated and rate limited before reaching a room
// - Host disconnect ends the game; player disconnect is resumable by token
// - Room existence check and join QR code over plain HTTP

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	"github.com/Seednode/quizbox/quiz"
)

const (
	actionCreateRoom   = "CREATE_ROOM"
	actionCheckRoom    = "CHECK_ROOM"
	actionJoinRoom     = "JOIN_ROOM"
	actionShowQuestion = "SHOW_QUESTION"
	actionSubmitAnswer = "SUBMIT_ANSWER"
	actionSkipQuestion = "SKIP_QUESTION"
	actionEndGame      = "END_GAME"
	actionResume       = "RESUME"

	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// Messages coming from clients
type ClientMessage struct {
	Ack    *int            `json:"ack"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ReplyMessage answers exactly one ClientMessage.
type ReplyMessage struct {
	Ack   int    `json:"ack"`
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// EventMessage is pushed by the server.
type EventMessage struct {
	Event quiz.Event `json:"event"`
	Data  any        `json:"data,omitempty"`
}

// ResumeReply tells a resumed player where they are.
type ResumeReply struct {
	Code   string      `json:"code"`
	Player quiz.Player `json:"player"`
}

type Client struct {
	id      quiz.ConnID
	conn    *websocket.Conn
	send    chan any
	limiter *rate.Limiter
}

// Hub owns the live connections and feeds their actions into the registry.
type Hub struct {
	cfg      *Config
	registry *quiz.Registry
	gate     *gate

	// actions is held from the start of an action until its reply and
	// envelopes are queued, so frames leave in the order rooms changed.
	actions sync.Mutex

	mu      sync.Mutex
	clients map[quiz.ConnID]*Client
}

func newHub(cfg *Config, registry *quiz.Registry) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: registry,
		gate:     newGate(),
		clients:  make(map[quiz.ConnID]*Client),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
}

func (h *Hub) unregister(c *Client) {
	h.actions.Lock()
	defer h.actions.Unlock()

	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		h.dropLocked(c)
	}
	h.mu.Unlock()

	envs := h.registry.Disconnect(c.id)
	if len(envs) > 0 {
		logf(h.cfg, "GAMES: %s disconnected, notifying %d connection(s)", c.id, len(envs))
	}

	h.deliver(envs)
}

// dropLocked assumes h.mu is already held. The write pump flushes whatever
// is queued and then closes the socket.
func (h *Hub) dropLocked(c *Client) {
	delete(h.clients, c.id)
	close(c.send)
}

func (h *Hub) sendLocked(c *Client, msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		h.dropLocked(c)
		return false
	}
}

func (h *Hub) reply(c *Client, msg ReplyMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.id]; ok && cur == c {
		h.sendLocked(c, msg)
	}
}

// deliver sends envelopes in order, closing connections that asked for it.
func (h *Hub) deliver(envs []quiz.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, env := range envs {
		c, ok := h.clients[env.To]
		if !ok {
			continue
		}

		if !h.sendLocked(c, EventMessage{Event: env.Event, Data: env.Data}) {
			continue
		}

		if env.Close {
			h.dropLocked(c)
		}
	}
}

// dispatch runs one action and queues everything it produced before the
// next action from any connection starts.
func (h *Hub) dispatch(c *Client, msg ClientMessage) {
	h.actions.Lock()
	defer h.actions.Unlock()

	reply, envs := h.handle(c, msg)

	h.reply(c, reply)
	h.deliver(envs)
}

// handle runs one acknowledged action and returns its reply along with the
// envelopes to deliver afterwards.
func (h *Hub) handle(c *Client, msg ClientMessage) (ReplyMessage, []quiz.Envelope) {
	reply := ReplyMessage{Ack: *msg.Ack}

	if !c.limiter.Allow() {
		reply.Error = ErrRateLimited.Error()

		return reply, nil
	}

	var (
		data any
		envs []quiz.Envelope
		err  error
	)

	switch msg.Action {
	case actionCreateRoom:
		var code string
		code, err = h.registry.CreateRoom(c.id)
		if err == nil {
			data = code
			logf(h.cfg, "GAMES: Room %s hosted by %s", code, c.id)
		}

	case actionCheckRoom:
		var req checkRoomRequest
		if err = h.gate.decode(msg.Data, &req); err == nil {
			data = h.registry.RoomExists(req.Code)
		}

	case actionJoinRoom:
		var req joinRoomRequest
		if err = h.gate.decode(msg.Data, &req); err == nil {
			envs, err = h.registry.Join(c.id, req.Code, req.Name, req.Character)
		}
		if err == nil {
			logf(h.cfg, "GAMES: Player %q joined %s", req.Name, req.Code)
		}

	case actionShowQuestion:
		var req showQuestionRequest
		if err = h.gate.decode(msg.Data, &req); err == nil {
			envs, err = h.registry.ShowQuestion(c.id, req.Question)
		}

	case actionSubmitAnswer:
		var req submitAnswerRequest
		if err = h.gate.decode(msg.Data, &req); err == nil {
			envs, err = h.registry.SubmitAnswer(c.id, req.Answers)
		}

	case actionSkipQuestion:
		envs, err = h.registry.SkipQuestion(c.id)

	case actionEndGame:
		var report quiz.Report
		report, envs, err = h.registry.EndGame(c.id)
		if err == nil {
			data = report
			logf(h.cfg, "GAMES: Game hosted by %s ended after %d question(s)", c.id, len(report.Questions))
		}

	case actionResume:
		var req resumeRequest
		if err = h.gate.decode(msg.Data, &req); err == nil {
			var s quiz.Session
			s, envs, err = h.registry.Resume(c.id, req.Token, req.Code, req.Name)
			if err == nil {
				data = ResumeReply{Code: s.RoomCode, Player: s.Player}
				logf(h.cfg, "GAMES: Player %q resumed %s (reconnect #%d)", s.Player.Name, s.RoomCode, s.ReconnectCount)
			}
		}

	default:
		err = ErrUnknownAction
	}

	if err != nil {
		reply.Error = err.Error()

		return reply, nil
	}

	reply.OK = true
	reply.Data = data

	return reply, envs
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: upgrade failed for %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			id:      quiz.ConnID(uuid.NewString()),
			conn:    conn,
			send:    make(chan any, sendBuffer),
			limiter: rate.NewLimiter(rate.Limit(cfg.actionRate), cfg.actionBurst),
		}

		h.register(client)

		logf(cfg, "SERVE: Connection %s from %s", client.id, realIP(r))

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		// Nobody would see the outcome, so don't act on it.
		if msg.Ack == nil {
			logf(h.cfg, "GAMES: Dropped %s from %s without ack", msg.Action, c.id)
			continue
		}

		h.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func serveRoomCheck(cfg *Config, registry *quiz.Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		if !registry.RoomExists(ps.ByName("code")) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		if _, err := w.Write([]byte("Ok\n")); err != nil {
			errs <- err
		}
	}
}

// qrHandler generates a PNG QR code that opens the quiz page with the room
// code filled in.
func qrHandler(cfg *Config, registry *quiz.Registry, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if !registry.RoomExists(code) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		joinURL := url.URL{
			Scheme:   scheme,
			Host:     r.Host,
			Path:     cfg.prefix + path,
			RawQuery: url.Values{"code": {code}}.Encode(),
		}

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(joinURL.String(), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func serveQuizPage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/quiz/index.html")
		if err != nil {
			errs <- err
			http.Error(w, "page unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		if _, err := w.Write(data); err != nil {
			errs <- err
		}
	}
}

// registerQuizGame sets up routes so that:
//   - $path                  → quiz client page
//   - $path/ws               → WebSocket for hosts and players
//   - $path/rooms/:code      → 200 if the room exists, 404 otherwise
//   - $path/rooms/:code/qr   → PNG QR code for joining that room
//
// Expired sessions are swept until ctx is done.
func registerQuizGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *Hub {
	sessions := quiz.NewSessionManager(cfg.reconnectGrace, cfg.sessionMaxAge)
	registry := quiz.NewRegistry(sessions)
	hub := newHub(cfg, registry)

	go sessions.Run(ctx, cfg.sweepInterval, func(swept []quiz.Session) {
		logf(cfg, "SESSIONS: Expired %d session(s)", len(swept))
	})

	mux.GET(cfg.prefix+path, serveQuizPage(cfg, errs))
	mux.GET(cfg.prefix+path+"/ws", serveWS(cfg, hub))
	mux.GET(cfg.prefix+path+"/rooms/:code", serveRoomCheck(cfg, registry, errs))
	mux.GET(cfg.prefix+path+"/rooms/:code/qr", qrHandler(cfg, registry, path))

	return hub
}
