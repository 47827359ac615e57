/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"maps"
	"slices"
	"time"

	"github.com/samber/lo"
)

// State is the lifecycle phase of a room. An ended room is removed from the
// registry rather than kept in a terminal state.
type State int

const (
	Waiting State = iota
	InGame
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case InGame:
		return "ingame"
	default:
		return "unknown"
	}
}

// Player holds the data we store server-side for each joined connection.
type Player struct {
	Name      string `json:"name"`
	Character string `json:"character"`
	Points    int    `json:"points"`
}

// Report is handed to the host when the game ends.
type Report struct {
	Questions  []Question        `json:"questions"`
	History    []AnswerSet       `json:"history"`
	Scoreboard map[ConnID]Player `json:"scoreboard"`
}

// PlayerReport is each player's personal slice of the game.
type PlayerReport struct {
	Player  Player         `json:"player"`
	Answers []PlayerAnswer `json:"answers"`
}

// RoomInfo is a read-only copy of a room.
type RoomInfo struct {
	Code      string            `json:"code"`
	Host      ConnID            `json:"host"`
	State     string            `json:"state"`
	Players   map[ConnID]Player `json:"players"`
	Questions int               `json:"questions"`
}

// Room is the state machine of one live quiz. It is not safe for concurrent
// use; the registry serializes every call.
type Room struct {
	code  string
	host  ConnID
	state State

	players map[ConnID]*Player

	current       *Question
	questions     []Question
	answers       aggregator
	questionStart time.Time

	now func() time.Time
}

func newRoom(code string, host ConnID, now func() time.Time) *Room {
	return &Room{
		code:    code,
		host:    host,
		state:   Waiting,
		players: make(map[ConnID]*Player),
		now:     now,
	}
}

// RoleOf resolves what conn is to this room.
func (r *Room) RoleOf(conn ConnID) Role {
	if conn == r.host {
		return HostRole{}
	}

	if p, ok := r.players[conn]; ok {
		return PlayerRole{Player: p}
	}

	return OutsiderRole{}
}

func (r *Room) playerIDs() []ConnID {
	return slices.Sorted(maps.Keys(r.players))
}

func (r *Room) toHost(event Event, data any) Envelope {
	return Envelope{To: r.host, Event: event, Data: data}
}

// broadcast addresses the host and every player.
func (r *Room) broadcast(event Event, data any) []Envelope {
	out := make([]Envelope, 0, len(r.players)+1)

	out = append(out, r.toHost(event, data))

	for _, conn := range r.playerIDs() {
		out = append(out, Envelope{To: conn, Event: event, Data: data})
	}

	return out
}

func (r *Room) scoreboard() map[ConnID]Player {
	return lo.MapValues(r.players, func(p *Player, _ ConnID) Player { return *p })
}

func (r *Room) nameTaken(name string) bool {
	return lo.SomeBy(lo.Values(r.players), func(p *Player) bool { return p.Name == name })
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		Code:      r.code,
		Host:      r.host,
		State:     r.state.String(),
		Players:   r.scoreboard(),
		Questions: len(r.questions),
	}
}

func (r *Room) join(conn ConnID, name, character string) ([]Envelope, error) {
	if r.state != Waiting {
		return nil, ErrWrongState
	}

	switch r.RoleOf(conn).(type) {
	case HostRole, PlayerRole:
		return nil, ErrAlreadyInRoom
	case OutsiderRole:
	}

	if r.nameTaken(name) {
		return nil, ErrNameTaken
	}

	p := &Player{Name: name, Character: character}
	r.players[conn] = p

	return []Envelope{r.toHost(EventPlayerJoined, PlayerNotice{ID: conn, Player: *p})}, nil
}

func (r *Room) showQuestion(conn ConnID, q Question) ([]Envelope, error) {
	switch r.RoleOf(conn).(type) {
	case HostRole:
	case PlayerRole, OutsiderRole:
		return nil, ErrNotHost
	}

	if len(r.players) < 2 {
		return nil, ErrTooFewPlayers
	}

	q.Answers = slices.Clone(q.Answers)

	r.state = InGame
	r.current = &q
	r.questions = append(r.questions, q)
	r.answers.open()
	r.questionStart = r.now()

	return r.broadcast(EventQuestion, q.Public(len(r.questions)-1)), nil
}

func (r *Room) submit(conn ConnID, selected []int) ([]Envelope, error) {
	var player *Player

	switch role := r.RoleOf(conn).(type) {
	case PlayerRole:
		player = role.Player
	case HostRole, OutsiderRole:
		return nil, ErrNotPlayer
	}

	if r.state != InGame || r.current == nil {
		return nil, ErrNoQuestion
	}

	if !r.answers.record(conn, selected) {
		return nil, ErrAlreadyAnswered
	}

	elapsed := r.now().Sub(r.questionStart)
	player.Points += Score(r.current.Tally(selected), elapsed)

	if !r.answers.complete(r.players) {
		return nil, nil
	}

	set, _ := r.answers.latest()

	return []Envelope{r.toHost(EventAllAnswered, AllAnswered{
		Index:      len(r.questions) - 1,
		Answers:    set.clone(),
		Scoreboard: r.scoreboard(),
	})}, nil
}

func (r *Room) skip(conn ConnID) ([]Envelope, error) {
	switch r.RoleOf(conn).(type) {
	case HostRole:
	case PlayerRole, OutsiderRole:
		return nil, ErrNotHost
	}

	if r.state != InGame || r.current == nil {
		return nil, ErrWrongState
	}

	return r.broadcast(EventCorrectAnswers, Correctness{
		Index:   len(r.questions) - 1,
		Correct: r.current.Correctness(),
	}), nil
}

func (r *Room) end(conn ConnID) (Report, []Envelope, error) {
	switch r.RoleOf(conn).(type) {
	case HostRole:
	case PlayerRole, OutsiderRole:
		return Report{}, nil, ErrNotHost
	}

	if r.state != InGame {
		return Report{}, nil, ErrWrongState
	}

	report, envs := r.teardown()

	return report, envs, nil
}

// teardown builds the host report and, for every player, a final message
// carrying only their own answers that also closes their connection.
func (r *Room) teardown() (Report, []Envelope) {
	report := Report{
		Questions:  slices.Clone(r.questions),
		History:    r.answers.snapshot(),
		Scoreboard: r.scoreboard(),
	}

	envs := make([]Envelope, 0, len(r.players))

	for _, conn := range r.playerIDs() {
		envs = append(envs, Envelope{
			To:    conn,
			Event: EventGameEnded,
			Data: PlayerReport{
				Player:  *r.players[conn],
				Answers: r.answers.sliceFor(conn, r.questions),
			},
			Close: true,
		})
	}

	return report, envs
}

// leave removes a player. The host is told; the game carries on.
func (r *Room) leave(conn ConnID) []Envelope {
	p, ok := r.players[conn]
	if !ok {
		return nil
	}

	delete(r.players, conn)

	return []Envelope{r.toHost(EventPlayerLeft, PlayerNotice{ID: conn, Player: *p})}
}

// rejoin restores a player that left under the connection id from.
func (r *Room) rejoin(conn, from ConnID, p Player) ([]Envelope, error) {
	switch r.RoleOf(conn).(type) {
	case HostRole, PlayerRole:
		return nil, ErrAlreadyInRoom
	case OutsiderRole:
	}

	if r.nameTaken(p.Name) {
		return nil, ErrNameTaken
	}

	restored := p
	r.players[conn] = &restored
	r.answers.rekey(from, conn)

	envs := []Envelope{r.toHost(EventPlayerRejoined, PlayerNotice{ID: conn, Player: restored})}

	if r.state == InGame && r.current != nil && !r.answers.answered(conn) {
		envs = append(envs, Envelope{
			To:    conn,
			Event: EventQuestion,
			Data:  r.current.Public(len(r.questions) - 1),
		})
	}

	return envs, nil
}
