package wschan

import (
	"errors"
	"fmt"
)

// Reply error codes that cross the wire.
const (
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
	CodeEventNotExists      = "EVENT_NOT_EXISTS"
	CodeWrongJSON           = "Wrong JSON"
)

// Close signal understood by client channels: a close with code 1000 and this
// reason means the session was rejected and must not be retried.
const (
	CloseInvalidSessionCode   = 1000
	CloseInvalidSessionReason = "SESSIONID_NOT_VALID"
)

var (
	ErrChannelClosed        = errors.New("channel closed")
	ErrNotConnected         = errors.New("channel is not connected")
	ErrAlreadyConnected     = errors.New("channel already connected")
	ErrHandlerExists        = errors.New("handler already exists")
	ErrServerAlreadyRunning = errors.New("server already running")
)

// Code is a bare error code. Returned from a handler it is sent as the reply
// error with no description.
type Code string

func (c Code) Error() string {
	return string(c)
}

// Error is a domain error. Returned from a handler its code, description and
// data are sent to the caller verbatim; Ask returns it for every failed reply.
type Error struct {
	Code        string
	Description string
	Data        any
}

// NewError returns a domain error.
func NewError(code, description string, data any) *Error {
	return &Error{Code: code, Description: description, Data: data}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}
