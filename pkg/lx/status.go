package lx

import (
	"errors"
	"fmt"
)

// StatusKind is the active variant of a Status.
type StatusKind uint8

const (
	StatusIdle    StatusKind = iota // Not started, or reset
	StatusWaiting                   // A run is in flight
	StatusSuccess                   // Last run produced a value
	StatusError                     // Last run failed
)

// String returns the variant name.
func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusWaiting:
		return "waiting"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint8(k))
	}
}

// Status is the value of an async node: exactly one of Idle, Waiting,
// Success or Error. Idle, Waiting and Error may carry the last successful
// value so consumers can keep showing it.
type Status[T any] struct {
	kind    StatusKind
	value   T // the Success value, or the last value when hasLast
	hasLast bool
	err     error
	trace   []byte
}

// Idle returns an Idle status with no last value.
func Idle[T any]() Status[T] { return Status[T]{kind: StatusIdle} }

// IdleWith returns an Idle status carrying last.
func IdleWith[T any](last T) Status[T] {
	return Status[T]{kind: StatusIdle, value: last, hasLast: true}
}

// Waiting returns a Waiting status with no last value.
func Waiting[T any]() Status[T] { return Status[T]{kind: StatusWaiting} }

// WaitingWith returns a Waiting status carrying last.
func WaitingWith[T any](last T) Status[T] {
	return Status[T]{kind: StatusWaiting, value: last, hasLast: true}
}

// Success returns a Success status holding v.
func Success[T any](v T) Status[T] {
	return Status[T]{kind: StatusSuccess, value: v}
}

// Failed returns an Error status with no last value.
func Failed[T any](err error) Status[T] {
	return Status[T]{kind: StatusError, err: err}
}

// FailedWith returns an Error status carrying last.
func FailedWith[T any](err error, last T) Status[T] {
	return Status[T]{kind: StatusError, err: err, value: last, hasLast: true}
}

// WithTrace returns s with trace attached. Only Error statuses keep it.
func (s Status[T]) WithTrace(trace []byte) Status[T] {
	if s.kind == StatusError {
		s.trace = trace
	}
	return s
}

// WithLast returns s carrying last. A Success status is returned unchanged.
func (s Status[T]) WithLast(last T) Status[T] {
	if s.kind != StatusSuccess {
		s.value, s.hasLast = last, true
	}
	return s
}

func (s Status[T]) Kind() StatusKind { return s.kind }
func (s Status[T]) IsIdle() bool     { return s.kind == StatusIdle }
func (s Status[T]) IsWaiting() bool  { return s.kind == StatusWaiting }
func (s Status[T]) IsSuccess() bool  { return s.kind == StatusSuccess }
func (s Status[T]) IsError() bool    { return s.kind == StatusError }

// IsTerminal reports whether s is Success or Error.
func (s Status[T]) IsTerminal() bool {
	return s.kind == StatusSuccess || s.kind == StatusError
}

// Value returns the Success value.
func (s Status[T]) Value() (T, bool) {
	if s.kind != StatusSuccess {
		var zero T
		return zero, false
	}
	return s.value, true
}

// LastValue returns the last value carried by an Idle, Waiting or Error
// status.
func (s Status[T]) LastValue() (T, bool) {
	if s.kind == StatusSuccess || !s.hasLast {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Latest returns the Success value or, failing that, the last value.
func (s Status[T]) Latest() (T, bool) {
	if s.kind == StatusSuccess {
		return s.value, true
	}
	return s.LastValue()
}

// ValueOr returns the Success value or fallback.
func (s Status[T]) ValueOr(fallback T) T {
	if v, ok := s.Value(); ok {
		return v
	}
	return fallback
}

// Err returns the error of an Error status.
func (s Status[T]) Err() error { return s.err }

// Trace returns the stack captured with the error, if any.
func (s Status[T]) Trace() []byte { return s.trace }

// Unwrap returns the Success value, the error of an Error status, or
// ErrNotAvailable while Idle or Waiting.
func (s Status[T]) Unwrap() (T, error) {
	switch s.kind {
	case StatusSuccess:
		return s.value, nil
	case StatusError:
		var zero T
		return zero, s.err
	default:
		var zero T
		return zero, ErrNotAvailable
	}
}

// Must returns the Success value and panics with the error otherwise.
func (s Status[T]) Must() T {
	v, err := s.Unwrap()
	if err != nil {
		panic(err)
	}
	return v
}

// String formats the status for logs.
func (s Status[T]) String() string {
	switch s.kind {
	case StatusSuccess:
		return fmt.Sprintf("success(%v)", s.value)
	case StatusError:
		if s.hasLast {
			return fmt.Sprintf("error(%v, last: %v)", s.err, s.value)
		}
		return fmt.Sprintf("error(%v)", s.err)
	default:
		if s.hasLast {
			return fmt.Sprintf("%s(last: %v)", s.kind, s.value)
		}
		return s.kind.String()
	}
}

// statusEquals compares variants and payloads. Errors match only when a is
// b, or wraps it, per errors.Is; two separate failures with the same message
// are different statuses. Traces are ignored.
func statusEquals[T any](a, b Status[T]) bool {
	if a.kind != b.kind || a.hasLast != b.hasLast {
		return false
	}
	if (a.kind == StatusSuccess || a.hasLast) && !defaultEquals(a.value, b.value) {
		return false
	}
	return errors.Is(a.err, b.err)
}

// =============================================================================
// Match
// =============================================================================

// Case handles some variants of a Status in Match.
type Case[T, R any] interface {
	handle(s Status[T]) (R, bool)
}

type caseFunc[T, R any] func(s Status[T]) (R, bool)

func (f caseFunc[T, R]) handle(s Status[T]) (R, bool) { return f(s) }

// Match returns the result of the first case that handles s, or the zero R.
//
// Example:
//
//	label := lx.Match(user.Get(),
//	    lx.OnPending(func(last *User, ok bool) string { return "loading..." }),
//	    lx.OnSuccess(func(u *User) string { return u.Name }),
//	    lx.OnError(func(err error, last *User, ok bool) string { return err.Error() }),
//	)
func Match[T, R any](s Status[T], cases ...Case[T, R]) R {
	for _, c := range cases {
		if r, ok := c.handle(s); ok {
			return r
		}
	}
	var zero R
	return zero
}

// OnIdle handles Idle.
func OnIdle[T, R any](fn func(last T, ok bool) R) Case[T, R] {
	return caseFunc[T, R](func(s Status[T]) (R, bool) {
		if s.kind != StatusIdle {
			var zero R
			return zero, false
		}
		last, ok := s.LastValue()
		return fn(last, ok), true
	})
}

// OnWaiting handles Waiting.
func OnWaiting[T, R any](fn func(last T, ok bool) R) Case[T, R] {
	return caseFunc[T, R](func(s Status[T]) (R, bool) {
		if s.kind != StatusWaiting {
			var zero R
			return zero, false
		}
		last, ok := s.LastValue()
		return fn(last, ok), true
	})
}

// OnPending handles both Idle and Waiting.
func OnPending[T, R any](fn func(last T, ok bool) R) Case[T, R] {
	return caseFunc[T, R](func(s Status[T]) (R, bool) {
		if s.IsTerminal() {
			var zero R
			return zero, false
		}
		last, ok := s.LastValue()
		return fn(last, ok), true
	})
}

// OnSuccess handles Success.
func OnSuccess[T, R any](fn func(v T) R) Case[T, R] {
	return caseFunc[T, R](func(s Status[T]) (R, bool) {
		if s.kind != StatusSuccess {
			var zero R
			return zero, false
		}
		return fn(s.value), true
	})
}

// OnError handles Error.
func OnError[T, R any](fn func(err error, last T, ok bool) R) Case[T, R] {
	return caseFunc[T, R](func(s Status[T]) (R, bool) {
		if s.kind != StatusError {
			var zero R
			return zero, false
		}
		last, ok := s.LastValue()
		return fn(s.err, last, ok), true
	})
}
