package lx

import (
	"fmt"
	"reflect"
)

// Cell is a mutable observable value.
//
// Reading a Cell with Get while an observer is active registers the cell as
// a dependency of that observer. Set notifies listeners, directly or at the
// end of the enclosing batch, and marks dependent derivations dirty.
type Cell[T any] struct {
	source[T]
	site writeSite
}

// NewCell creates a cell holding initial.
func NewCell[T any](initial T, opts ...Option) *Cell[T] {
	return newCell(KindCell, initial, opts)
}

func newCell[T any](kind NodeKind, initial T, opts []Option) *Cell[T] {
	o := collectOptions(opts)
	c := &Cell[T]{}
	c.value = initial
	c.init(kind, c, c, o)
	c.register()
	return c
}

// WithEquals replaces the equality used to suppress no-op writes and
// returns c for chaining.
func (c *Cell[T]) WithEquals(eq func(a, b T) bool) *Cell[T] {
	graphMu.Lock()
	c.equal = eq
	graphMu.Unlock()
	return c
}

// Get returns the current value and registers c with the active observer.
// After Close it returns the final value without tracking; TryGet reports
// ErrDisposed instead.
func (c *Cell[T]) Get() T {
	if !c.closed.Load() {
		track(&c.node)
	}
	return c.peek()
}

// TryGet is Get that fails with ErrDisposed after Close.
func (c *Cell[T]) TryGet() (T, error) {
	if c.closed.Load() {
		var zero T
		return zero, c.disposedErr("get")
	}
	return c.Get(), nil
}

// Peek returns the current value without tracking.
func (c *Cell[T]) Peek() T {
	return c.peek()
}

// Set stores v. Writing a value equal to the current one does nothing.
// The returned error joins the failures of listeners notified by this write;
// inside a batch those surface from Batch instead.
func (c *Cell[T]) Set(v T) error {
	if c.closed.Load() {
		return c.disposedErr("set")
	}
	h := c.pipe.hooks()
	if len(h.wrappers) == 0 {
		return c.commit(v)
	}
	write := c.site.chain(h, c.write)
	return write(&WriteEvent{Node: c.info(), Old: c.peek(), New: v, BatchID: currentBatchID()})
}

// write is the innermost WriteFunc of the cell's chain.
func (c *Cell[T]) write(ev *WriteEvent) error {
	if c.closed.Load() {
		return c.disposedErr("set")
	}
	v, ok := ev.New.(T)
	if !ok && ev.New != nil {
		return &NodeError{
			Node: c.info(),
			Op:   "set",
			Err:  fmt.Errorf("cannot assign %T to %s", ev.New, reflect.TypeFor[T]()),
		}
	}
	return c.commit(v)
}

// Update sets the value to fn applied to the current value.
func (c *Cell[T]) Update(fn func(T) T) error {
	return c.Set(fn(c.peek()))
}

// Subscribe calls fn after every change of the value.
func (c *Cell[T]) Subscribe(fn func(Change[T]) error, opts ...ListenerOption) *Subscription {
	return c.subscribe(fn, opts, nil)
}

// Watch calls fn after every change of the value.
func (c *Cell[T]) Watch(fn func() error, opts ...ListenerOption) *Subscription {
	return c.Subscribe(func(Change[T]) error { return fn() }, opts...)
}

// Unsubscribe cancels sub.
func (c *Cell[T]) Unsubscribe(sub *Subscription) {
	sub.Cancel()
}

// Close disposes the cell and drops its listeners.
func (c *Cell[T]) Close() {
	c.closeSource()
}

func (c *Cell[T]) refresh() {}

func (c *Cell[T]) flush(e *entry) error {
	return c.notifyWritten(e)
}
