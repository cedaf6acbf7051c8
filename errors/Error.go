// Package errors provides coded errors. Is matches on the code, so a sentinel such as ErrRPCNotAttached
// identifies every error of that kind anywhere in a wrap chain.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

type Error struct {
	code    ERR
	message string
	wrapped error
}

// New creates a coded error. A trailing error param is wrapped, the other params format the message.
func New(code ERR, message string, params ...interface{}) *Error {
	var wrapped error

	if n := len(params); n > 0 {
		if err, ok := params[n-1].(error); ok {
			wrapped = err
			params = params[:n-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	if _, ok := ERR_name[int32(code)]; !ok {
		message = "invalid error code"
	}

	return &Error{code: code, message: message, wrapped: wrapped}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "%s (%d): %s", e.code.Enum(), int32(e.code), e.message)

	if e.wrapped != nil {
		sb.WriteString(": ")
		sb.WriteString(e.wrapped.Error())
	}

	return sb.String()
}

// Is reports whether target is an *Error with the same code. errors.Is applies it along the chain.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}

	return e.code == t.code
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrapped
}

func (e *Error) Code() ERR {
	if e == nil {
		return ERR_UNKNOWN
	}

	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}

	return e.message
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join returns nil when every err is nil. The joined error matches each of its parts with Is.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
