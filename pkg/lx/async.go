package lx

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Async derives a Status[T] from a function that may block.
//
// Every run increments a generation, cancels the context of the previous
// run and publishes Waiting carrying the last value. The derivation runs on
// its own goroutine; its result is committed only if no newer run started
// in the meantime, otherwise it is discarded without notification.
//
// Reads made by the derivation are tracked through the context it receives:
// a later change to any of them starts a new run.
type Async[T any] struct {
	source[Status[T]]

	prepare    func(force bool) (body func(context.Context) (T, error), skip bool)
	lazy       bool
	dispatch   func(func())
	retries    int
	retryDelay time.Duration

	// guarded by graphMu
	started bool
	gen     uint64
	cancel  context.CancelFunc
	waiters []chan Status[T]
}

// NewAsync creates an async node running fn. Unless Lazy is given the first
// run starts immediately, so the status is Waiting on return.
//
// Example:
//
//	user := lx.NewAsync(func(ctx context.Context) (*User, error) {
//	    return api.FetchUser(ctx, userID.Get())
//	})
func NewAsync[T any](fn func(ctx context.Context) (T, error), opts ...Option) *Async[T] {
	return newAsync(func(bool) (func(context.Context) (T, error), bool) {
		return fn, false
	}, opts)
}

// NewAsyncKeyed creates an async node that fetches by key. key runs
// synchronously and is tracked; a change that leaves the key equal does not
// start a new run.
func NewAsyncKeyed[K, T any](key func() K, fetch func(ctx context.Context, key K) (T, error), opts ...Option) *Async[T] {
	var (
		mu   sync.Mutex
		last K
		has  bool
	)
	return newAsync(func(force bool) (func(context.Context) (T, error), bool) {
		k := key()
		mu.Lock()
		defer mu.Unlock()
		if has && !force && defaultEquals(k, last) {
			return nil, true
		}
		last, has = k, true
		return func(ctx context.Context) (T, error) { return fetch(ctx, k) }, false
	}, opts)
}

func newAsync[T any](prepare func(bool) (func(context.Context) (T, error), bool), opts []Option) *Async[T] {
	o := collectOptions(opts)
	a := &Async[T]{
		prepare:    prepare,
		lazy:       o.lazy,
		dispatch:   o.dispatch,
		retries:    o.retries,
		retryDelay: o.retryDelay,
	}
	a.value = Idle[T]()
	a.equal = statusEquals[T]
	a.init(KindAsync, a, a, o)
	a.drv = &derivation{static: o.static, eager: true}
	a.register()
	if !a.lazy {
		a.started = true
		a.start(true)
	}
	return a
}

// Get returns the current status and registers a with the active observer.
// A lazy node starts its first run here. After Close it returns the final
// status without tracking; TryGet reports ErrDisposed instead.
func (a *Async[T]) Get() Status[T] {
	if a.closed.Load() {
		return a.peek()
	}
	a.ensureStarted()
	track(&a.node)
	return a.peek()
}

// Peek returns the current status without tracking or starting.
func (a *Async[T]) Peek() Status[T] {
	return a.peek()
}

// TryGet is Get that fails with ErrDisposed after Close.
func (a *Async[T]) TryGet() (Status[T], error) {
	if a.closed.Load() {
		return a.peek(), a.disposedErr("get")
	}
	return a.Get(), nil
}

// Refresh starts a new run even if no dependency changed. It does nothing
// after Close.
func (a *Async[T]) Refresh() {
	graphMu.Lock()
	a.started = true
	graphMu.Unlock()
	a.start(true)
}

// Wait blocks until the status is terminal and returns its value or error.
// It returns immediately when the status already is terminal, and with
// ErrNotAvailable when the node is Idle without a last value. Wait never
// starts a lazy node.
func (a *Async[T]) Wait(ctx context.Context) (T, error) {
	graphMu.Lock()
	if a.closed.Load() {
		graphMu.Unlock()
		var zero T
		return zero, a.disposedErr("wait")
	}
	if st := a.value; st.kind != StatusWaiting {
		graphMu.Unlock()
		return waitResult(st)
	}
	ch := make(chan Status[T], 1)
	a.waiters = append(a.waiters, ch)
	graphMu.Unlock()

	select {
	case st := <-ch:
		return waitResult(st)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func waitResult[T any](st Status[T]) (T, error) {
	if st.kind == StatusIdle {
		if last, ok := st.LastValue(); ok {
			return last, nil
		}
	}
	return st.Unwrap()
}

// Commit writes st from outside, e.g. a timeout. In-flight work is
// superseded and its result will be discarded.
func (a *Async[T]) Commit(st Status[T]) error {
	if a.closed.Load() {
		return a.disposedErr("commit")
	}
	graphMu.Lock()
	a.gen++
	a.started = true
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	p := a.setLocked(st)
	var waiters []chan Status[T]
	if st.kind != StatusWaiting {
		waiters = a.takeWaitersLocked()
	}
	graphMu.Unlock()
	release(waiters, st)
	return p.schedule()
}

// Subscribe calls fn after every status change. A lazy node is started.
func (a *Async[T]) Subscribe(fn func(Change[Status[T]]) error, opts ...ListenerOption) *Subscription {
	sub := a.subscribe(fn, opts, nil)
	a.ensureStarted()
	return sub
}

// Watch calls fn after every status change.
func (a *Async[T]) Watch(fn func() error, opts ...ListenerOption) *Subscription {
	return a.Subscribe(func(Change[Status[T]]) error { return fn() }, opts...)
}

// Unsubscribe cancels sub.
func (a *Async[T]) Unsubscribe(sub *Subscription) {
	sub.Cancel()
}

// Close cancels in-flight work and disposes the node. Pending Wait calls
// return ErrDisposed.
func (a *Async[T]) Close() {
	graphMu.Lock()
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	waiters := a.takeWaitersLocked()
	graphMu.Unlock()
	a.closeSource()
	release(waiters, Failed[T](a.disposedErr("wait")))
}

func (a *Async[T]) ensureStarted() {
	graphMu.Lock()
	need := !a.started && !a.closed.Load()
	a.started = true
	graphMu.Unlock()
	if need {
		a.start(true)
	}
}

func (a *Async[T]) takeWaitersLocked() []chan Status[T] {
	w := a.waiters
	a.waiters = nil
	return w
}

func release[T any](waiters []chan Status[T], st Status[T]) {
	for _, ch := range waiters {
		select {
		case ch <- st:
		default:
		}
	}
}

func (a *Async[T]) refresh() {}

func (a *Async[T]) flush(e *entry) error {
	err := a.notifyWritten(e)
	if e.pending && !a.closed.Load() && a.stale() {
		a.start(false)
	}
	return err
}

// asyncRun is one generation of an async node and the nodes it read.
type asyncRun struct {
	gen   uint64
	reads []*node
}

func (r *asyncRun) note(n *node) {
	for _, m := range r.reads {
		if m == n {
			return
		}
	}
	r.reads = append(r.reads, n)
}

// collector gathers the reads of the synchronous part of a run, before a
// generation is assigned.
type collector struct {
	nodes []*node
}

func (c *collector) observe(n *node) {
	for _, m := range c.nodes {
		if m == n {
			return
		}
	}
	c.nodes = append(c.nodes, n)
}

// runObserver tracks reads of the run it belongs to and ignores them once
// the run is stale.
type runObserver[T any] struct {
	a   *Async[T]
	run *asyncRun
}

func (o runObserver[T]) observe(src *node) {
	a := o.a
	graphMu.Lock()
	if a.gen != o.run.gen || a.closed.Load() || !a.drv.collecting() {
		graphMu.Unlock()
		return
	}
	o.run.note(src)
	added := a.addDepLocked(src)
	graphMu.Unlock()
	if added {
		a.pipe.graphChanged(GraphChange{Node: a.info(), Added: []NodeInfo{src.info()}})
	}
}

// start begins a new run. Unless force is set, a keyed node whose key did
// not change keeps its current run.
func (a *Async[T]) start(force bool) {
	if a.closed.Load() {
		return
	}
	col := &collector{}
	var (
		body func(context.Context) (T, error)
		skip bool
		perr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				perr = &DerivationError{Node: a.info(), Err: errorFromPanic(r), Panic: r, Trace: captureTrace()}
			}
		}()
		withFrame(frame{obs: col}, func() { body, skip = a.prepare(force) })
	}()

	graphMu.Lock()
	if a.closed.Load() {
		graphMu.Unlock()
		return
	}
	d := a.drv
	var added []NodeInfo
	if d.collecting() {
		for _, src := range col.nodes {
			if a.addDepLocked(src) {
				added = append(added, src.info())
			}
		}
	}
	d.syncVersionsLocked()
	d.state = stateClean
	if skip && perr == nil {
		graphMu.Unlock()
		a.announce(added, nil)
		return
	}

	a.gen++
	run := &asyncRun{gen: a.gen, reads: col.nodes}
	if a.cancel != nil {
		a.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	last, hasLast := a.value.Latest()

	var (
		next    Status[T]
		waiters []chan Status[T]
	)
	if perr != nil {
		next = Failed[T](perr).WithTrace(perr.(*DerivationError).Trace)
		waiters = a.takeWaitersLocked()
		a.cancel = nil
		cancel()
	} else {
		next = Waiting[T]()
	}
	if hasLast {
		next = next.WithLast(last)
	}
	p := a.setLocked(next)
	graphMu.Unlock()

	a.announce(added, nil)
	release(waiters, next)
	if err := p.schedule(); err != nil {
		Logger().Debug("lx: async status listeners failed", "node", a.info().String(), "error", err)
	}
	if perr != nil {
		a.pipe.reportError(ErrorEvent{Node: a.info(), Err: perr, Trace: next.Trace()})
		return
	}

	runCtx := context.WithValue(ctx, observerKey{}, observer(runObserver[T]{a: a, run: run}))
	go a.run(runCtx, cancel, run, body)
}

func (a *Async[T]) run(ctx context.Context, cancel context.CancelFunc, run *asyncRun, body func(context.Context) (T, error)) {
	defer cancel()
	var (
		v   T
		err error
	)
	for attempt := 0; ; attempt++ {
		v, err = a.invoke(ctx, body)
		if err == nil || attempt >= a.retries || ctx.Err() != nil {
			break
		}
		timer := time.NewTimer(a.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	a.settle(run, v, err)
}

// invoke runs body inside the run's tracking frame and converts failures
// into *DerivationError.
func (a *Async[T]) invoke(ctx context.Context, body func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DerivationError{Node: a.info(), Err: errorFromPanic(r), Panic: r, Trace: captureTrace()}
		}
	}()
	Within(ctx, func() { v, err = body(ctx) })
	var de *DerivationError
	if err != nil && !errors.As(err, &de) {
		err = &DerivationError{Node: a.info(), Err: err, Trace: captureTrace()}
	}
	return v, err
}

// settle commits the outcome of run if it is still the latest generation.
func (a *Async[T]) settle(run *asyncRun, v T, err error) {
	commit := func() {
		graphMu.Lock()
		if a.gen != run.gen || a.closed.Load() {
			graphMu.Unlock()
			Logger().Debug("lx: discarded stale async result",
				"node", a.info().String(), "generation", run.gen)
			return
		}
		a.cancel = nil
		d := a.drv
		var removed []NodeInfo
		if d.collecting() {
			removed = a.pruneLocked(run.reads)
			if d.static {
				d.locked = true
			}
		}
		var next Status[T]
		if err != nil {
			var trace []byte
			if de, ok := err.(*DerivationError); ok {
				trace = de.Trace
			}
			next = Failed[T](err).WithTrace(trace)
			if last, ok := a.value.Latest(); ok {
				next = next.WithLast(last)
			}
		} else {
			next = Success(v)
		}
		p := a.setLocked(next)
		waiters := a.takeWaitersLocked()
		graphMu.Unlock()

		a.announce(nil, removed)
		release(waiters, next)
		if err != nil {
			a.pipe.reportError(ErrorEvent{Node: a.info(), Err: err, Trace: next.Trace()})
		}
		if lerr := p.schedule(); lerr != nil {
			Logger().Debug("lx: async status listeners failed", "node", a.info().String(), "error", lerr)
		}
	}
	if a.dispatch != nil {
		a.dispatch(commit)
		return
	}
	commit()
}

// pruneLocked drops dependencies the settled run did not read.
func (a *Async[T]) pruneLocked(reads []*node) []NodeInfo {
	d := a.drv
	var removed []NodeInfo
	kept := d.deps[:0]
	for _, dp := range d.deps {
		read := false
		for _, n := range reads {
			if n == dp.src {
				read = true
				break
			}
		}
		if read {
			kept = append(kept, dp)
			continue
		}
		dp.src.removeSubLocked(&a.node)
		removed = append(removed, dp.src.info())
	}
	d.deps = kept
	return removed
}

func (a *Async[T]) announce(added, removed []NodeInfo) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	a.pipe.graphChanged(GraphChange{Node: a.info(), Added: added, Removed: removed})
}
