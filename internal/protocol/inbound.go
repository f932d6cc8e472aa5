package protocol

import (
	"encoding/json"
	"strings"
)

// JoinRoom asks to enter a room. The data may also be a bare JSON string
// naming the room.
type JoinRoom struct {
	Room     string `json:"room" validate:"notblank"`
	Username string `json:"username"`
}

func (JoinRoom) EventName() string { return EventJoinRoom }

func (j *JoinRoom) UnmarshalJSON(data []byte) error {
	type plain JoinRoom
	room, p, err := roomOrObject[plain](data)
	if err != nil {
		return err
	}
	if room != nil {
		*j = JoinRoom{Room: *room}
		return nil
	}
	*j = JoinRoom(p)
	return nil
}

// LeaveRoom asks to exit a room. The username is accepted for compatibility
// but the server announces the name recorded at join time.
type LeaveRoom struct {
	Room     string `json:"room" validate:"notblank"`
	Username string `json:"username"`
}

func (LeaveRoom) EventName() string { return EventLeaveRoom }

func (l *LeaveRoom) UnmarshalJSON(data []byte) error {
	type plain LeaveRoom
	room, p, err := roomOrObject[plain](data)
	if err != nil {
		return err
	}
	if room != nil {
		*l = LeaveRoom{Room: *room}
		return nil
	}
	*l = LeaveRoom(p)
	return nil
}

// SendMessage carries a chat message. SenderID and Timestamp are accepted
// but never trusted.
type SendMessage struct {
	Room      string          `json:"room" validate:"notblank"`
	Message   string          `json:"message" validate:"notblank"`
	Sender    string          `json:"sender"`
	SenderID  string          `json:"senderId"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func (SendMessage) EventName() string { return EventMessage }

func roomOrObject[T any](data []byte) (*string, T, error) {
	var zero T
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, `"`) {
		var room string
		if err := json.Unmarshal(data, &room); err != nil {
			return nil, zero, err
		}
		return &room, zero, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, zero, err
	}
	return nil, v, nil
}
