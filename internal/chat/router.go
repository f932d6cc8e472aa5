package chat

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// Router forwards chat messages to the other members of a room.
type Router struct {
	state             *State
	requireMembership bool
	now               func() time.Time
}

func NewRouter(state *State, opts Options) *Router {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{state: state, requireMembership: opts.RequireMembership, now: now}
}

// Route builds the broadcast of body from sender to room. claimedName is
// only used when the sender is not a member of the room. The returned
// delivery never includes the sender and is empty when the room does not
// exist.
func (r *Router) Route(sender ConnID, room, body, claimedName string) (Delivery, error) {
	room, err := NormalizeRoomName(room)
	if err != nil {
		return Delivery{}, err
	}
	if strings.TrimSpace(body) == "" {
		return Delivery{}, ErrEmptyMessage
	}
	if !r.state.Conns.Has(sender) {
		return Delivery{}, ErrUnknownConnection
	}

	name, member := r.state.Rooms.DisplayName(room, sender)
	if !member {
		if r.requireMembership {
			return Delivery{}, ErrNotInRoom
		}
		name = displayName(sender, claimedName)
	}

	return Delivery{
		To: lo.Without(r.state.Rooms.Members(room), sender),
		Event: ChatMessage{
			Room:      room,
			Message:   body,
			Timestamp: r.now().UTC(),
			Sender:    name,
			SenderID:  sender,
		},
	}, nil
}
