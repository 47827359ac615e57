/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

// Role is what a connection is to a given room. Exactly one of HostRole,
// PlayerRole or OutsiderRole.
type Role interface {
	isRole()
}

type HostRole struct{}

type PlayerRole struct {
	Player *Player
}

type OutsiderRole struct{}

func (HostRole) isRole()     {}
func (PlayerRole) isRole()   {}
func (OutsiderRole) isRole() {}
