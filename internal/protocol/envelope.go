// Package protocol defines the WebSocket wire format: every frame is one JSON
// envelope naming an event and carrying its payload.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Inbound event names.
const (
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"
	EventMessage   = "message"
)

// Envelope is the frame layout in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is a decoded and validated client event.
type Inbound interface {
	EventName() string
}

// Decode parses one frame into its typed inbound event. Failures wrap
// chat.ErrValidation.
func Decode(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", chat.ErrValidation, err)
	}

	var in Inbound
	switch strings.TrimSpace(env.Event) {
	case EventJoinRoom:
		in = &JoinRoom{}
	case EventLeaveRoom:
		in = &LeaveRoom{}
	case EventMessage:
		in = &SendMessage{}
	case "":
		return nil, fmt.Errorf("%w: missing event name", chat.ErrValidation)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", chat.ErrValidation, env.Event)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s: missing data", chat.ErrValidation, env.Event)
	}
	if err := json.Unmarshal(env.Data, in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", chat.ErrValidation, env.Event, err)
	}
	if err := validateStruct(in); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Event, err)
	}
	return in, nil
}

// Encode wraps an outbound event in an envelope.
func Encode(evt chat.Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: evt.EventName(), Data: data})
}

// EventOf returns the event name of a frame without validating its payload.
// Used to label rejections of frames that failed to decode.
func EventOf(frame []byte) string {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return ""
	}
	return env.Event
}
