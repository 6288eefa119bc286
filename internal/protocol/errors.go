package protocol

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeGMNotConnected   ErrorCode = "GM_NOT_CONNECTED"
	CodeRequestTimeout   ErrorCode = "REQUEST_TIMEOUT"
	CodeVersionConflict  ErrorCode = "VERSION_CONFLICT"
	CodeHashMismatch     ErrorCode = "HASH_MISMATCH"
	CodeGMDisconnected   ErrorCode = "GM_DISCONNECTED"
	CodeRoutingError     ErrorCode = "ROUTING_ERROR"

	// CodeActionRejected is returned by the authority when its action handler
	// refuses a request. The sync layer never produces it.
	CodeActionRejected ErrorCode = "ACTION_REJECTED"
)

// Error is the typed failure carried over the wire and through reply callbacks.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from err, defaulting to ROUTING_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeRoutingError
}

// AsError converts any error into a protocol error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeRoutingError, Message: err.Error()}
}

// RequiresResync reports whether a receiver must fetch a full snapshot after
// seeing this code.
func RequiresResync(code ErrorCode) bool {
	return code == CodeVersionConflict || code == CodeHashMismatch
}
