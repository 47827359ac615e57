/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrAlreadyInRoom      = errors.New("connection is already in a room")
	ErrNameTaken          = errors.New("name is already taken in this room")
	ErrNotHost            = errors.New("only the host may do that")
	ErrNotPlayer          = errors.New("only players may do that")
	ErrWrongState         = errors.New("action not allowed in the current room state")
	ErrTooFewPlayers      = errors.New("at least two players are required")
	ErrNoQuestion         = errors.New("no question is open")
	ErrAlreadyAnswered    = errors.New("answer already submitted for this question")
	ErrCodeSpaceExhausted = errors.New("no free room codes")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionActive      = errors.New("session is still connected")
)
