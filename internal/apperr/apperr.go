// Package apperr classifies gateway failures so the HTTP layer can map them
// to a status code without inspecting message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindExecution is the zero-value fallback for unclassified errors.
	KindExecution Kind = iota
	KindValidation
	KindNotFound
	KindSessionTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindSessionTimeout:
		return "session_timeout"
	default:
		return "execution"
	}
}

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Msg == "" && e.Err != nil:
		return e.Err.Error()
	case e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...any) error {
	return &Error{Kind: KindSessionTimeout, Msg: fmt.Sprintf(format, args...)}
}

// Execution wraps cause with msg. A nil cause yields a message-only error.
func Execution(cause error, format string, args ...any) error {
	return &Error{Kind: KindExecution, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExecution
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Status maps err to the HTTP status the dispatcher responds with.
func Status(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindValidation, KindNotFound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
