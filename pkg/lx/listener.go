package lx

import (
	"errors"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
)

// Change is the record delivered to listeners: the node and its value
// before and after.
type Change[T any] struct {
	Node NodeInfo
	Old  T
	New  T
}

// ValueType returns the declared value type of the node.
func (c Change[T]) ValueType() reflect.Type {
	return reflect.TypeFor[T]()
}

// ListenerContext is opaque correlation metadata carried by a subscription
// and handed to middleware on add, remove and notify.
type ListenerContext struct {
	Type    string
	ID      string
	Payload any
}

// ListenerOption configures a subscription.
type ListenerOption func(*listenerOptions)

type listenerOptions struct {
	ctx ListenerContext
}

// WithListenerContext attaches ctx to the subscription.
func WithListenerContext(ctx ListenerContext) ListenerOption {
	return func(o *listenerOptions) { o.ctx = ctx }
}

// Subscription is the handle returned by Subscribe and Watch.
type Subscription struct {
	id        uint64
	n         *node
	ctx       ListenerContext
	cancelled atomic.Bool
	detach    func() bool
}

// ID returns the subscription id.
func (s *Subscription) ID() uint64 { return s.id }

// Context returns the listener context given at subscription time.
func (s *Subscription) Context() ListenerContext { return s.ctx }

// Active reports whether the listener will still be notified.
func (s *Subscription) Active() bool {
	return s != nil && !s.cancelled.Load()
}

// Cancel removes the listener. It is idempotent, and a no-op on a nil
// subscription.
func (s *Subscription) Cancel() {
	if s == nil || s.cancelled.Swap(true) {
		return
	}
	if s.detach != nil && s.detach() {
		s.n.pipe.listenerEvent(ListenerEvent{Op: ListenerRemoved, Node: s.n.info(), Context: s.ctx})
	}
}

// listener is an element of an intrusive doubly linked list.
type listener[T any] struct {
	sub        *Subscription
	fn         func(Change[T]) error
	list       *listenerList[T]
	prev, next *listener[T]
}

// listenerList keeps listeners in subscription order. Guarded by graphMu.
type listenerList[T any] struct {
	head, tail *listener[T]
	n          int
}

func (ls *listenerList[T]) pushLocked(l *listener[T]) {
	l.list = ls
	l.prev = ls.tail
	if ls.tail != nil {
		ls.tail.next = l
	} else {
		ls.head = l
	}
	ls.tail = l
	ls.n++
}

func (ls *listenerList[T]) removeLocked(l *listener[T]) bool {
	if l.list != ls {
		return false
	}
	if l.prev != nil {
		l.prev.next = l.next
	} else {
		ls.head = l.next
	}
	if l.next != nil {
		l.next.prev = l.prev
	} else {
		ls.tail = l.prev
	}
	l.prev, l.next, l.list = nil, nil, nil
	ls.n--
	return true
}

func (ls *listenerList[T]) clearLocked() {
	for l := ls.head; l != nil; {
		next := l.next
		l.sub.cancelled.Store(true)
		l.prev, l.next, l.list = nil, nil, nil
		l = next
	}
	ls.head, ls.tail, ls.n = nil, nil, 0
}

// listenerSnapshot is the set of listeners for one notification pass.
// A single listener is held without allocating a slice.
type listenerSnapshot[T any] struct {
	one  *listener[T]
	many []*listener[T]
}

func (ls *listenerList[T]) snapshotLocked() listenerSnapshot[T] {
	switch ls.n {
	case 0:
		return listenerSnapshot[T]{}
	case 1:
		return listenerSnapshot[T]{one: ls.head}
	}
	many := make([]*listener[T], 0, ls.n)
	for l := ls.head; l != nil; l = l.next {
		many = append(many, l)
	}
	return listenerSnapshot[T]{many: many}
}

// subscribe adds fn to ls. attachLocked runs under graphMu right after the
// listener is linked, with first set when it is the node's only listener.
func subscribe[T any](n *node, ls *listenerList[T], fn func(Change[T]) error, opts []ListenerOption, attachLocked func(first bool)) *Subscription {
	var lo listenerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&lo)
		}
	}
	if lo.ctx.ID == "" && Correlation() {
		if id, err := uuid.NewV7(); err == nil {
			lo.ctx.ID = id.String()
		}
	}

	sub := &Subscription{id: nextID(), n: n, ctx: lo.ctx}
	l := &listener[T]{sub: sub, fn: fn}
	sub.detach = func() bool {
		graphMu.Lock()
		defer graphMu.Unlock()
		if !ls.removeLocked(l) {
			return false
		}
		n.listeners--
		return true
	}

	graphMu.Lock()
	if n.closed.Load() {
		graphMu.Unlock()
		sub.cancelled.Store(true)
		return sub
	}
	ls.pushLocked(l)
	n.listeners++
	if attachLocked != nil {
		attachLocked(n.listeners == 1)
	}
	graphMu.Unlock()

	n.pipe.listenerEvent(ListenerEvent{Op: ListenerAdded, Node: n.info(), Context: sub.ctx})
	return sub
}

// notifyAll calls every listener of snap with ch. Failures do not stop the
// pass; they are reported to the error hook and returned joined.
func notifyAll[T any](n *node, snap listenerSnapshot[T], ch Change[T]) error {
	if snap.one != nil {
		return deliver(n, snap.one, ch)
	}
	var errs []error
	for _, l := range snap.many {
		if err := deliver(n, l, ch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver[T any](n *node, l *listener[T], ch Change[T]) error {
	if l.sub.cancelled.Load() {
		return nil
	}
	if n.pipe.wantsListenerEvents() {
		n.pipe.listenerEvent(ListenerEvent{Op: ListenerNotified, Node: ch.Node, Context: l.sub.ctx})
	}
	lerr := invokeListener(l.fn, ch)
	if lerr == nil {
		return nil
	}
	lerr.Node = ch.Node
	n.pipe.reportError(ErrorEvent{Node: ch.Node, Err: lerr, Trace: lerr.Trace})
	return lerr
}

func invokeListener[T any](fn func(Change[T]) error, ch Change[T]) (lerr *ListenerError) {
	defer func() {
		if r := recover(); r != nil {
			lerr = &ListenerError{Err: errorFromPanic(r), Panic: r, Trace: captureTrace()}
		}
	}()
	if err := fn(ch); err != nil {
		return &ListenerError{Err: err, Trace: captureTrace()}
	}
	return nil
}
