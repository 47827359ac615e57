/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Seednode/quizbox/quiz"
)

type testFrame struct {
	Ack   *int            `json:"ack"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Event quiz.Event      `json:"event"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	ack  int
}

func newTestServer(t *testing.T, mutate func(*Config)) *httptest.Server {
	t.Helper()

	cfg := validConfig()
	cfg.actionRate = 1000
	cfg.actionBurst = 1000
	if mutate != nil {
		mutate(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 16)

	srv := httptest.NewServer(newRouter(ctx, &cfg, errs))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return srv
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+quizPath+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) next() testFrame {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var f testFrame
	require.NoError(c.t, c.conn.ReadJSON(&f))

	return f
}

// do sends an acknowledged action and returns its reply.
func (c *wsClient) do(action string, data any) testFrame {
	c.t.Helper()

	c.ack++
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"ack": c.ack, "action": action, "data": data}))

	f := c.next()
	require.NotNil(c.t, f.Ack, "expected a reply to %s, got event %q", action, f.Event)
	require.Equal(c.t, c.ack, *f.Ack)

	return f
}

func (c *wsClient) expect(event quiz.Event) testFrame {
	c.t.Helper()

	f := c.next()
	require.Equal(c.t, event, f.Event)

	return f
}

func decodeInto[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(raw, &v))

	return v
}

func roomStatus(t *testing.T, srv *httptest.Server, code string) int {
	t.Helper()

	resp, err := http.Get(srv.URL + quizPath + "/rooms/" + code)
	require.NoError(t, err)
	_ = resp.Body.Close()

	return resp.StatusCode
}

// startRoom creates a room and joins each named player, returning the host,
// the players in order, and their session tokens.
func startRoom(t *testing.T, srv *httptest.Server, names ...string) (*wsClient, string, []*wsClient, []string) {
	t.Helper()

	host := dial(t, srv)

	f := host.do("CREATE_ROOM", nil)
	require.True(t, f.OK, f.Error)
	code := decodeInto[string](t, f.Data)

	var (
		players []*wsClient
		tokens  []string
	)
	for _, name := range names {
		p := dial(t, srv)

		f := p.do("JOIN_ROOM", map[string]string{"code": code, "name": name, "character": "cat"})
		require.True(t, f.OK, f.Error)

		s := decodeInto[quiz.SessionNotice](t, p.expect(quiz.EventSession).Data)
		assert.Equal(t, code, s.Code)

		joined := decodeInto[quiz.PlayerNotice](t, host.expect(quiz.EventPlayerJoined).Data)
		assert.Equal(t, name, joined.Player.Name)

		players = append(players, p)
		tokens = append(tokens, s.Token)
	}

	return host, code, players, tokens
}

var twoPlusTwo = map[string]any{
	"question": map[string]any{
		"title": "2 + 2?",
		"answers": []map[string]any{
			{"content": "3"},
			{"content": "4", "correct": true},
		},
		"time": 20,
	},
}

func TestQuizGameOverWebSocket(t *testing.T) {
	srv := newTestServer(t, nil)

	host, code, players, _ := startRoom(t, srv, "alice", "bob")
	alice, bob := players[0], players[1]

	assert.Equal(t, http.StatusOK, roomStatus(t, srv, code))

	// Without an ack id nobody would see the result, so nothing happens.
	require.NoError(t, host.conn.WriteJSON(map[string]any{"action": "END_GAME"}))
	f := host.do("CHECK_ROOM", map[string]string{"code": code})
	require.True(t, f.OK)
	assert.True(t, decodeInto[bool](t, f.Data))

	f = host.do("SHOW_QUESTION", twoPlusTwo)
	require.True(t, f.OK, f.Error)
	host.expect(quiz.EventQuestion)

	for _, p := range players {
		q := p.expect(quiz.EventQuestion)
		assert.NotContains(t, string(q.Data), "correct")

		pub := decodeInto[quiz.PublicQuestion](t, q.Data)
		assert.Equal(t, 0, pub.Index)
		assert.Equal(t, []string{"3", "4"}, pub.Answers)
		assert.Equal(t, quiz.KindSingle, pub.Kind)
	}

	f = alice.do("SUBMIT_ANSWER", map[string]any{"answers": []int{1}})
	require.True(t, f.OK, f.Error)

	f = alice.do("SUBMIT_ANSWER", map[string]any{"answers": []int{0}})
	assert.False(t, f.OK)
	assert.Equal(t, quiz.ErrAlreadyAnswered.Error(), f.Error)

	f = bob.do("SUBMIT_ANSWER", map[string]any{"answers": []int{0}})
	require.True(t, f.OK, f.Error)

	all := decodeInto[quiz.AllAnswered](t, host.expect(quiz.EventAllAnswered).Data)
	require.Len(t, all.Scoreboard, 2)
	for id, p := range all.Scoreboard {
		switch p.Name {
		case "alice":
			assert.Greater(t, p.Points, quiz.BaseAward)
			assert.Equal(t, []int{1}, all.Answers[id])
		case "bob":
			assert.Zero(t, p.Points)
			assert.Equal(t, []int{0}, all.Answers[id])
		default:
			t.Errorf("unexpected player %q", p.Name)
		}
	}

	carol := dial(t, srv)
	f = carol.do("JOIN_ROOM", map[string]string{"code": code, "name": ""})
	assert.False(t, f.OK)
	assert.Contains(t, f.Error, "name must satisfy required")

	f = host.do("END_GAME", nil)
	require.True(t, f.OK, f.Error)

	report := decodeInto[quiz.Report](t, f.Data)
	assert.Len(t, report.Questions, 1)
	require.Len(t, report.History, 1)
	assert.Len(t, report.History[0], 2)

	for _, p := range players {
		pr := decodeInto[quiz.PlayerReport](t, p.expect(quiz.EventGameEnded).Data)
		require.Len(t, pr.Answers, 1)
		assert.Equal(t, "2 + 2?", pr.Answers[0].Question.Title)

		_, _, err := p.conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	}

	assert.Equal(t, http.StatusNotFound, roomStatus(t, srv, code))
}

func TestHostDisconnectEndsGame(t *testing.T) {
	srv := newTestServer(t, nil)

	host, code, players, _ := startRoom(t, srv, "alice")

	require.NoError(t, host.conn.Close())

	pr := decodeInto[quiz.PlayerReport](t, players[0].expect(quiz.EventGameEnded).Data)
	assert.Equal(t, "alice", pr.Player.Name)
	assert.Empty(t, pr.Answers)

	assert.Equal(t, http.StatusNotFound, roomStatus(t, srv, code))
}

func TestResumeAfterDrop(t *testing.T) {
	srv := newTestServer(t, nil)

	host, code, players, tokens := startRoom(t, srv, "alice", "bob")

	f := host.do("SHOW_QUESTION", twoPlusTwo)
	require.True(t, f.OK, f.Error)
	host.expect(quiz.EventQuestion)
	for _, p := range players {
		p.expect(quiz.EventQuestion)
	}

	require.NoError(t, players[0].conn.Close())

	left := decodeInto[quiz.PlayerNotice](t, host.expect(quiz.EventPlayerLeft).Data)
	assert.Equal(t, "alice", left.Player.Name)

	back := dial(t, srv)
	f = back.do("RESUME", map[string]string{"token": tokens[0]})
	require.True(t, f.OK, f.Error)

	resumed := decodeInto[ResumeReply](t, f.Data)
	assert.Equal(t, code, resumed.Code)
	assert.Equal(t, "alice", resumed.Player.Name)

	// The open question is replayed since it was never answered.
	back.expect(quiz.EventQuestion)
	s := decodeInto[quiz.SessionNotice](t, back.expect(quiz.EventSession).Data)
	assert.Equal(t, tokens[0], s.Token)

	rejoined := decodeInto[quiz.PlayerNotice](t, host.expect(quiz.EventPlayerRejoined).Data)
	assert.Equal(t, "alice", rejoined.Player.Name)

	f = back.do("SUBMIT_ANSWER", map[string]any{"answers": []int{1}})
	assert.True(t, f.OK, f.Error)

	// A token cannot be used twice while its seat is taken.
	again := dial(t, srv)
	f = again.do("RESUME", map[string]string{"token": tokens[0]})
	assert.False(t, f.OK)
	assert.Equal(t, quiz.ErrSessionActive.Error(), f.Error)
}

func TestUnknownAndRateLimitedActions(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.actionRate = 0.001
		cfg.actionBurst = 2
	})

	c := dial(t, srv)

	f := c.do("DANCE", nil)
	assert.False(t, f.OK)
	assert.Equal(t, ErrUnknownAction.Error(), f.Error)

	f = c.do("CHECK_ROOM", map[string]string{"code": "123456"})
	require.True(t, f.OK, f.Error)
	assert.False(t, decodeInto[bool](t, f.Data))

	f = c.do("CHECK_ROOM", map[string]string{"code": "123456"})
	assert.False(t, f.OK)
	assert.Equal(t, ErrRateLimited.Error(), f.Error)
}

func TestRoomQRCode(t *testing.T) {
	srv := newTestServer(t, nil)

	_, code, _, _ := startRoom(t, srv)

	resp, err := http.Get(srv.URL + quizPath + "/rooms/" + code + "/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))

	missing, err := http.Get(srv.URL + quizPath + "/rooms/000000/qr")
	require.NoError(t, err)
	_ = missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestStaticRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	cases := []struct {
		path        string
		status      int
		contentType string
	}{
		{"/", http.StatusSeeOther, ""},
		{"/healthz", http.StatusOK, "text/plain; charset=utf-8"},
		{"/version", http.StatusOK, "text/plain; charset=utf-8"},
		{"/robots.txt", http.StatusOK, "text/plain; charset=utf-8"},
		{quizPath, http.StatusOK, "text/html; charset=utf-8"},
		{"/assets/quiz/app.js", http.StatusOK, "text/javascript; charset=utf-8"},
		{"/assets/quiz/app.css", http.StatusOK, "text/css; charset=utf-8"},
		{"/assets/quiz/missing.js", http.StatusNotFound, ""},
		{"/favicon.svg", http.StatusOK, "image/svg+xml"},
		{"/favicons/site.webmanifest", http.StatusOK, "application/manifest+json"},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := client.Get(srv.URL + tc.path)
			require.NoError(t, err)
			_ = resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.contentType != "" {
				assert.Equal(t, tc.contentType, resp.Header.Get("Content-Type"))
			}
			if tc.status == http.StatusSeeOther {
				assert.Equal(t, quizPath, resp.Header.Get("Location"))
			}
		})
	}
}

// attach registers a socketless client whose queued frames can be read
// straight from its send channel.
func attach(h *Hub, id string) *Client {
	c := &Client{
		id:      quiz.ConnID(id),
		send:    make(chan any, sendBuffer),
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	h.register(c)

	return c
}

func act(t *testing.T, h *Hub, c *Client, ack int, action string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	h.dispatch(c, ClientMessage{Ack: &ack, Action: action, Data: raw})
}

// queuedEvents drains c and names each event with the question index it
// refers to.
func queuedEvents(c *Client) []string {
	var out []string

	for {
		select {
		case msg := <-c.send:
			ev, ok := msg.(EventMessage)
			if !ok {
				continue
			}

			switch data := ev.Data.(type) {
			case quiz.PublicQuestion:
				out = append(out, fmt.Sprintf("%s:%d", ev.Event, data.Index))
			case quiz.AllAnswered:
				out = append(out, fmt.Sprintf("%s:%d", ev.Event, data.Index))
			default:
				out = append(out, string(ev.Event))
			}
		default:
			return out
		}
	}
}

func TestFramesFollowTransitionOrder(t *testing.T) {
	cfg := validConfig()

	for range 200 {
		h := newHub(&cfg, quiz.NewRegistry(quiz.NewSessionManager(cfg.reconnectGrace, cfg.sessionMaxAge)))

		host, alice, bob := attach(h, "host"), attach(h, "alice"), attach(h, "bob")

		act(t, h, host, 1, actionCreateRoom, nil)
		created := (<-host.send).(ReplyMessage)
		require.True(t, created.OK, created.Error)
		code := created.Data.(string)

		act(t, h, alice, 1, actionJoinRoom, map[string]string{"code": code, "name": "alice"})
		act(t, h, bob, 1, actionJoinRoom, map[string]string{"code": code, "name": "bob"})
		act(t, h, host, 2, actionShowQuestion, twoPlusTwo)
		act(t, h, alice, 2, actionSubmitAnswer, map[string]any{"answers": []int{1}})

		// Bob's last answer to question 0 races the host moving on.
		var wg sync.WaitGroup
		wg.Go(func() { act(t, h, bob, 2, actionSubmitAnswer, map[string]any{"answers": []int{0}}) })
		wg.Go(func() { act(t, h, host, 3, actionShowQuestion, twoPlusTwo) })
		wg.Wait()

		events := queuedEvents(host)
		require.Contains(t, events, "question:1")

		if done := slices.Index(events, "allAnswered:0"); done >= 0 {
			require.Less(t, done, slices.Index(events, "question:1"), "host saw %v", events)
		}
	}
}
