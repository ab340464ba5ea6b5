package protocol

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrSerialization = errors.New("payload not serializable")
	ErrMalformed     = errors.New("malformed message")
)

// Wire error codes. These form a fixed numeric taxonomy carried in error
// payloads so clients can branch without parsing message text.
const (
	CodeInvalidMessage      = 4001
	CodeContextNotFound     = 4002
	CodeClientNotFound      = 4003
	CodeRoomNotFound        = 4004
	CodePermissionDenied    = 4005
	CodeRateLimited         = 4006
	CodeInvalidContextType  = 4007
	CodeContextSwitchFailed = 4008
	CodeBusinessEventFailed = 4009
	CodeConnectionTimeout   = 4010
)

// Error is a protocol-level failure carrying its wire error code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// NewError creates a protocol error with the given wire code.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the wire error code from err, or CodeInvalidMessage
// if err carries no code.
func CodeOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInvalidMessage
}

// NewErrorMessage builds the structured error message sent back to the
// originating connection when its own request is rejected or fails.
func NewErrorMessage(code int, errorMessage string, original *Message) *Message {
	data := map[string]any{
		"errorCode":    code,
		"errorMessage": errorMessage,
	}
	if original != nil {
		data["originalMessage"] = original
	}
	msg := NewMessage(TypeError, data)
	if original != nil {
		msg.CorrelationID = original.MessageID
	}
	return msg
}
