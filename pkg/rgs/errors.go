package rgs

import (
	"errors"
	"fmt"
)

// Error is the single failure shape returned by every Client operation.
// It either comes from the server's error envelope, in which case Code and
// Message are exactly what the server sent, or it is produced locally with
// one of the ErrCode constants.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	declared bool
	cause    error
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying transport error, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// ServerDeclared reports whether the server returned this error object
func (e *Error) ServerDeclared() bool {
	return e.declared
}

// IsTimeout reports whether err is a client-side timeout
func IsTimeout(err error) bool {
	return HasCode(err, ErrCodeTimeout)
}

// HasCode reports whether err is an *Error carrying code
func HasCode(err error, code string) bool {
	var rgsErr *Error
	return errors.As(err, &rgsErr) && rgsErr.Code == code
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}
