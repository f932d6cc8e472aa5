//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_sink.go -package=mocks

package chat

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

// ConnID identifies one live transport session.
type ConnID string

// Sink is the transport handle of a connection. Send must not block: it
// queues the payload or fails.
type Sink interface {
	Send(payload []byte) error
	Close() error
}

// Membership is one room held by a connection, with the display name it
// joined under.
type Membership struct {
	Room        string
	DisplayName string
}

type session struct {
	sink  Sink
	rooms map[string]string
}

// Registry maps connection ids to their transport handles and keeps the
// rooms each connection has joined.
type Registry struct {
	sessions map[ConnID]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[ConnID]*session)}
}

// Register records a live connection. It returns false and leaves the
// existing entry untouched when the id is already known.
func (r *Registry) Register(id ConnID, sink Sink) bool {
	if _, ok := r.sessions[id]; ok {
		return false
	}
	r.sessions[id] = &session{sink: sink, rooms: make(map[string]string)}
	return true
}

// Unregister removes the connection and returns the rooms it still held,
// sorted by name. Unknown ids return nil.
func (r *Registry) Unregister(id ConnID) []Membership {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return memberships(s.rooms)
}

func (r *Registry) Has(id ConnID) bool {
	_, ok := r.sessions[id]
	return ok
}

func (r *Registry) Sink(id ConnID) (Sink, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.sink, true
}

// Rooms lists the rooms held by id, sorted by name.
func (r *Registry) Rooms(id ConnID) []Membership {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return memberships(s.rooms)
}

// Track records that id is in room under name. Unknown ids are ignored.
func (r *Registry) Track(id ConnID, room, name string) {
	if s, ok := r.sessions[id]; ok {
		s.rooms[room] = name
	}
}

func (r *Registry) Untrack(id ConnID, room string) {
	if s, ok := r.sessions[id]; ok {
		delete(s.rooms, room)
	}
}

// IDs lists every registered connection, sorted.
func (r *Registry) IDs() []ConnID {
	ids := lo.Keys(r.sessions)
	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

func memberships(rooms map[string]string) []Membership {
	res := lo.MapToSlice(rooms, func(room, name string) Membership {
		return Membership{Room: room, DisplayName: name}
	})
	slices.SortFunc(res, func(a, b Membership) int {
		return strings.Compare(a.Room, b.Room)
	})
	return res
}
