package chat

import "time"

// Outbound event names.
const (
	EventConnected      = "connected"
	EventReceiveMessage = "receive-message"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventRoomJoined     = "room-joined"
	EventRoomLeft       = "room-left"
	EventError          = "error"
)

// Event is a server to client notification.
type Event interface {
	EventName() string
}

// Delivery pairs an event with the connections that must receive it.
type Delivery struct {
	To    []ConnID
	Event Event
}

// Connected tells a freshly upgraded connection its own identifier.
type Connected struct {
	ID ConnID `json:"id"`
}

func (Connected) EventName() string { return EventConnected }

// ChatMessage is the broadcast form of a message. It only lives for the
// duration of one routing call.
type ChatMessage struct {
	Room      string    `json:"room"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	SenderID  ConnID    `json:"senderId"`
}

func (ChatMessage) EventName() string { return EventReceiveMessage }

// UserJoined is sent to the other members of a room when someone joins.
type UserJoined struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Count    int    `json:"count"`
}

func (UserJoined) EventName() string { return EventUserJoined }

// UserLeft is sent to the remaining members when someone leaves or drops.
type UserLeft struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Count    int    `json:"count"`
}

func (UserLeft) EventName() string { return EventUserLeft }

// RoomJoined acknowledges a join to the joiner.
type RoomJoined struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Count    int    `json:"count"`
}

func (RoomJoined) EventName() string { return EventRoomJoined }

// RoomLeft acknowledges an explicit leave to the leaver.
type RoomLeft struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

func (RoomLeft) EventName() string { return EventRoomLeft }

// Rejected reports a refused inbound event back to its originator.
type Rejected struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

func (Rejected) EventName() string { return EventError }
