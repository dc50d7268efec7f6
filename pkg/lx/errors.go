package lx

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

// ErrDisposed is returned by checked accessors and writes on a closed node.
var ErrDisposed = errors.New("lx: node is disposed")

// ErrNotAvailable is returned when a status holds no value to hand out,
// for example Wait on an Idle async node that never produced one.
var ErrNotAvailable = errors.New("lx: value not available")

// ErrCycle is reported to the pipeline error hook when a derivation reads
// itself, directly or through other derivations. The read that closes the
// cycle observes the cached value.
var ErrCycle = errors.New("lx: dependency cycle")

// ErrOwnerSet is returned by SetOwnerID when the owner was already assigned.
var ErrOwnerSet = errors.New("lx: owner already set")

// ErrDivideByZero is returned by DivExact for a zero divisor.
var ErrDivideByZero = errors.New("lx: division by zero")

// ErrInexactDivision is returned by DivExact when the divisor does not
// divide the current value.
var ErrInexactDivision = errors.New("lx: inexact division")

// =============================================================================
// Typed Errors
// =============================================================================

// NodeError describes a failed operation on a specific node.
type NodeError struct {
	Node NodeInfo // Node the operation targeted
	Op   string   // Operation name, e.g. "get" or "set"
	Err  error    // Underlying error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("lx: %s %s: %v", e.Op, e.Node, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// DerivationError is produced when a computed or async derivation returns
// an error or panics.
type DerivationError struct {
	Node  NodeInfo
	Err   error
	Panic any    // Recovered value when the derivation panicked
	Trace []byte // Stack at the failure; only captured when enabled
}

// Error implements the error interface.
func (e *DerivationError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("lx: derivation %s panicked: %v", e.Node, e.Panic)
	}
	return fmt.Sprintf("lx: derivation %s: %v", e.Node, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DerivationError) Unwrap() error {
	return e.Err
}

// ListenerError is produced when a listener returns an error or panics.
type ListenerError struct {
	Node  NodeInfo
	Err   error
	Panic any
	Trace []byte
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("lx: listener on %s panicked: %v", e.Node, e.Panic)
	}
	return fmt.Sprintf("lx: listener on %s: %v", e.Node, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// panicError wraps a recovered value that is not itself an error so the
// Err field of the typed errors is never nil.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func errorFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return panicError{value: r}
}
