package chat

import (
	"log/slog"
	"strings"

	"github.com/samber/lo"
)

// Coordinator applies join, leave and disconnect transitions to a State and
// computes the resulting presence notifications.
type Coordinator struct {
	state    *State
	maxRooms int
	log      *slog.Logger
}

func NewCoordinator(log *slog.Logger, state *State, opts Options) *Coordinator {
	return &Coordinator{state: state, maxRooms: opts.MaxRoomsPerConnection, log: log}
}

// Join puts id in room under username, or under its placeholder name when
// username is blank. Joining a room already held only updates the name.
func (c *Coordinator) Join(id ConnID, room, username string) ([]Delivery, error) {
	room, err := NormalizeRoomName(room)
	if err != nil {
		return nil, err
	}
	if !c.state.Conns.Has(id) {
		return nil, ErrUnknownConnection
	}

	name := displayName(id, username)
	previous, rejoin := c.state.Rooms.DisplayName(room, id)
	if !rejoin && c.maxRooms > 0 && len(c.state.Conns.Rooms(id)) >= c.maxRooms {
		return nil, ErrTooManyRooms
	}

	count, err := c.state.Rooms.AddMember(room, id, name)
	if err != nil {
		return nil, err
	}
	c.state.Conns.Track(id, room, name)

	ack := Delivery{To: []ConnID{id}, Event: RoomJoined{Room: room, Username: name, Count: count}}
	if rejoin && previous == name {
		return []Delivery{ack}, nil
	}

	c.log.Info("user joined", "room", room, "connId", id, "username", name, "count", count)
	others := lo.Without(c.state.Rooms.Members(room), id)
	return []Delivery{
		ack,
		{To: others, Event: UserJoined{Room: room, Username: name, Count: count}},
	}, nil
}

// Leave takes id out of room. Leaving a room that is not held returns
// ErrNotMember and changes nothing.
func (c *Coordinator) Leave(id ConnID, room string) ([]Delivery, error) {
	room, err := NormalizeRoomName(room)
	if err != nil {
		return nil, err
	}
	name, ok := c.state.Rooms.DisplayName(room, id)
	if !ok {
		return nil, ErrNotMember
	}

	deliveries, err := c.remove(id, room, name)
	if err != nil {
		return nil, err
	}
	ack := Delivery{To: []ConnID{id}, Event: RoomLeft{Room: room, Count: c.state.Rooms.MemberCount(room)}}
	return append(deliveries, ack), nil
}

// Disconnect forgets id and notifies every room it still held, using the
// name it joined each room under. Unknown ids produce nothing.
func (c *Coordinator) Disconnect(id ConnID) []Delivery {
	var deliveries []Delivery
	for _, m := range c.state.Conns.Unregister(id) {
		if !c.state.Rooms.IsMember(m.Room, id) {
			continue
		}
		ds, err := c.remove(id, m.Room, m.DisplayName)
		if err != nil {
			c.log.Debug("room already gone on disconnect", "room", m.Room, "connId", id, "error", err)
			continue
		}
		deliveries = append(deliveries, ds...)
	}
	return deliveries
}

func (c *Coordinator) remove(id ConnID, room, name string) ([]Delivery, error) {
	count, err := c.state.Rooms.RemoveMember(room, id)
	if err != nil {
		return nil, err
	}
	c.state.Conns.Untrack(id, room)
	c.log.Info("user left", "room", room, "connId", id, "username", name, "count", count)

	if count == 0 {
		c.log.Debug("room removed", "room", room)
		return nil, nil
	}
	return []Delivery{{
		To:    c.state.Rooms.Members(room),
		Event: UserLeft{Room: room, Username: name, Count: count},
	}}, nil
}

func displayName(id ConnID, username string) string {
	name := strings.TrimSpace(username)
	return lo.Ternary(name != "", name, PlaceholderName(id))
}
