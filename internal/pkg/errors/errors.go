package errors

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide between degrade, retry and surface.
type Kind string

const (
	KindConnectivity      Kind = "connectivity"
	KindGradingFailure    Kind = "grading_failure"
	KindGenerationFailure Kind = "generation_failure"
	KindDurableWrite      Kind = "durable_write"
	KindInvalidArgument   Kind = "invalid_argument"
	KindSuperseded        Kind = "superseded"
	KindViewClosed        Kind = "view_closed"
	KindNotFound          Kind = "not_found"
)

var (
	ErrConnectivity      = &Error{Kind: KindConnectivity}
	ErrGradingFailure    = &Error{Kind: KindGradingFailure}
	ErrGenerationFailure = &Error{Kind: KindGenerationFailure}
	ErrDurableWrite      = &Error{Kind: KindDurableWrite}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	// ErrSuperseded is returned to a submission whose result was replaced by a newer one.
	ErrSuperseded = &Error{Kind: KindSuperseded}
	// ErrViewClosed is returned when the originating view was torn down before the result arrived.
	ErrViewClosed = &Error{Kind: KindViewClosed}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, ErrConnectivity) holds for any connectivity error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return ""
}
