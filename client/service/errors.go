package service

import (
	"errors"
	"fmt"
)

// ErrRoomNotReady is returned when a room send is attempted before the
// server-assigned room id has been resolved.
var ErrRoomNotReady = errors.New("room channel not yet resolved")

// APIError is a typed HTTP failure: the status code plus the server's message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}
