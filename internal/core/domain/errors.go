package domain

import "errors"

const (
	CodeNotInRoom           = 201
	CodeBroadcasterConflict = 202
)

// RoomError is a hub error caused by client misuse. Its code is reported
// back to the offending connection.
type RoomError struct {
	Code    int
	Message string
}

func (e *RoomError) Error() string {
	return e.Message
}

var (
	ErrNotInRoom = &RoomError{
		Code:    CodeNotInRoom,
		Message: "you cannot send messages to a room you're not logged into",
	}
	ErrBroadcasterConflict = &RoomError{
		Code:    CodeBroadcasterConflict,
		Message: "that room already has a broadcaster",
	}
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrHubStopped   = errors.New("hub stopped")

	ErrAlreadyWatching = errors.New("already watching a broadcast")
	ErrNoBroadcaster   = errors.New("no broadcaster to watch")
	ErrInvalidSource   = errors.New("a valid media source is required to broadcast")
)

// CodeOf extracts the wire code of a RoomError, or 0.
func CodeOf(err error) int {
	var re *RoomError
	if errors.As(err, &re) {
		return re.Code
	}
	return 0
}
