// Package chat holds the room presence and message broadcast core: who is
// connected, who is in which room, and which connections must receive each
// notification.
//
// Nothing in this package is synchronised. A State is owned by a single
// goroutine (the server's hub loop) and every mutation goes through it.
package chat

import (
	"time"
	"unicode/utf8"
)

// Options tunes the membership policy.
type Options struct {
	// MaxRoomsPerConnection caps how many rooms one connection may hold at
	// once. Zero or less means no cap.
	MaxRoomsPerConnection int
	// RequireMembership refuses messages from connections that have not
	// joined the target room.
	RequireMembership bool
	// Now is the message clock. Defaults to time.Now.
	Now func() time.Time
}

// State groups the connection registry and the room directory.
type State struct {
	Conns *Registry
	Rooms *Directory
}

func NewState() *State {
	return &State{Conns: NewRegistry(), Rooms: NewDirectory()}
}

// Stats is a read-only view of a State.
type Stats struct {
	Connections int         `json:"connections"`
	Rooms       []Occupancy `json:"rooms"`
}

func (s *State) Stats() Stats {
	return Stats{Connections: s.Conns.Len(), Rooms: s.Rooms.Snapshot()}
}

// PlaceholderName is the display name used when a client supplies none.
func PlaceholderName(id ConnID) string {
	prefix := string(id)
	if utf8.RuneCountInString(prefix) > 4 {
		prefix = string([]rune(prefix)[:4])
	}
	return "User-" + prefix
}
