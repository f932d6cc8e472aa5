package chat

import "fmt"

// Error kinds. Every error returned by this package wraps exactly one of them,
// so callers classify with errors.Is.
var (
	ErrValidation = fmt.Errorf("validation failed")
	ErrNotFound   = fmt.Errorf("not found")
	ErrTransport  = fmt.Errorf("transport failure")
)

var (
	ErrEmptyRoomName = fmt.Errorf("%w: room name must not be empty", ErrValidation)
	ErrEmptyMessage  = fmt.Errorf("%w: message must not be empty", ErrValidation)
	ErrTooManyRooms  = fmt.Errorf("%w: too many rooms joined", ErrValidation)
	ErrNotInRoom     = fmt.Errorf("%w: join the room before sending to it", ErrValidation)

	ErrRoomNotFound      = fmt.Errorf("%w: room", ErrNotFound)
	ErrNotMember         = fmt.Errorf("%w: not a member of the room", ErrNotFound)
	ErrUnknownConnection = fmt.Errorf("%w: connection", ErrNotFound)

	ErrSendBufferFull   = fmt.Errorf("%w: send buffer full", ErrTransport)
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", ErrTransport)
)
