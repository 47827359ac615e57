/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

// ConnID identifies one live client connection.
type ConnID string

// Event names an outbound, server-initiated message.
type Event string

const (
	EventSession        Event = "session"
	EventPlayerJoined   Event = "playerJoined"
	EventPlayerLeft     Event = "playerLeft"
	EventPlayerRejoined Event = "playerRejoined"
	EventQuestion       Event = "question"
	EventAllAnswered    Event = "allAnswered"
	EventCorrectAnswers Event = "correctAnswers"
	EventGameEnded      Event = "gameEnded"
)

// Envelope is one outbound message addressed to a single connection.
// Transitions return envelopes instead of sending them; the transport
// delivers them in order once the transition has completed.
type Envelope struct {
	To    ConnID
	Event Event
	Data  any

	// Close asks the transport to sever the connection after delivery.
	Close bool
}

// PlayerNotice is sent to the host when membership changes.
type PlayerNotice struct {
	ID     ConnID `json:"id"`
	Player Player `json:"player"`
}

// SessionNotice hands a player the token needed to resume later.
type SessionNotice struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

// AllAnswered is sent to the host once every player has answered.
type AllAnswered struct {
	Index      int               `json:"index"`
	Answers    AnswerSet         `json:"answers"`
	Scoreboard map[ConnID]Player `json:"scoreboard"`
}

// Correctness reveals the answer to a question.
type Correctness struct {
	Index   int    `json:"index"`
	Correct []bool `json:"correct"`
}
