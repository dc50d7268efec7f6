package lx

import "github.com/petermattis/goid"

// Computed is a cached derivation over other nodes.
//
// It is lazy: fn first runs on the first read or the first Subscribe. A
// write to a direct source marks the computed dirty; a write further
// upstream marks it check, and it only recomputes if one of its sources
// actually moved. Computeds with listeners are refreshed during the flush
// and notify when their value changed.
//
// Errors returned or panics raised by fn are captured. Get keeps returning
// the last good value; Err, Status and TryGet expose the failure.
type Computed[T any] struct {
	source[T]

	fn        func() (T, error)
	err       error
	evaluated bool
	gid       int64 // goroutine running fn while drv.computing

	// Baseline of the last notification, used to compute Change.Old.
	notified        T
	notifiedVersion uint64
}

// NewComputed creates a derivation from fn.
//
// Example:
//
//	doubled := lx.NewComputed(func() int { return count.Get() * 2 })
func NewComputed[T any](fn func() T, opts ...Option) *Computed[T] {
	return NewComputedErr(func() (T, error) { return fn(), nil }, opts...)
}

// NewComputedErr creates a derivation from a function that can fail.
func NewComputedErr[T any](fn func() (T, error), opts ...Option) *Computed[T] {
	o := collectOptions(opts)
	c := &Computed[T]{fn: fn}
	c.init(KindComputed, c, c, o)
	c.drv = &derivation{state: stateDirty, static: o.static}
	c.register()
	return c
}

// WithEquals replaces the equality that decides whether a recomputation
// changed the value. Returns c for chaining.
func (c *Computed[T]) WithEquals(eq func(a, b T) bool) *Computed[T] {
	graphMu.Lock()
	c.equal = eq
	graphMu.Unlock()
	return c
}

// Get returns the up-to-date value and registers c with the active
// observer. After Close it returns the final value without tracking or
// recomputing; TryGet reports ErrDisposed instead.
func (c *Computed[T]) Get() T {
	if c.closed.Load() {
		return c.peek()
	}
	c.refresh()
	track(&c.node)
	return c.peek()
}

// Peek returns the up-to-date value without tracking.
func (c *Computed[T]) Peek() T {
	c.refresh()
	return c.peek()
}

// TryGet returns the value and the current derivation error, or
// ErrDisposed after Close.
func (c *Computed[T]) TryGet() (T, error) {
	if c.closed.Load() {
		var zero T
		return zero, c.disposedErr("get")
	}
	c.refresh()
	track(&c.node)
	graphMu.Lock()
	defer graphMu.Unlock()
	return c.value, c.err
}

// Err returns the error of the last evaluation, if any.
func (c *Computed[T]) Err() error {
	c.refresh()
	graphMu.Lock()
	defer graphMu.Unlock()
	return c.err
}

// Status returns the last evaluation as a Status: Success, or Error
// carrying the last good value.
func (c *Computed[T]) Status() Status[T] {
	c.refresh()
	track(&c.node)
	graphMu.Lock()
	defer graphMu.Unlock()
	if c.err != nil {
		return FailedWith(c.err, c.value)
	}
	return Success(c.value)
}

// Dependencies returns the sources read by the last evaluation.
func (c *Computed[T]) Dependencies() []NodeInfo {
	graphMu.Lock()
	deps := make([]*node, 0, len(c.drv.deps))
	for _, dp := range c.drv.deps {
		deps = append(deps, dp.src)
	}
	graphMu.Unlock()
	infos := make([]NodeInfo, len(deps))
	for i, n := range deps {
		infos[i] = n.info()
	}
	return infos
}

// Subscribe evaluates c if needed and calls fn whenever its value changes.
func (c *Computed[T]) Subscribe(fn func(Change[T]) error, opts ...ListenerOption) *Subscription {
	c.refresh()
	return c.subscribe(fn, opts, func(first bool) {
		if first {
			c.notified = c.value
			c.notifiedVersion = c.version
		}
	})
}

// Watch calls fn whenever the value changes.
func (c *Computed[T]) Watch(fn func() error, opts ...ListenerOption) *Subscription {
	return c.Subscribe(func(Change[T]) error { return fn() }, opts...)
}

// Unsubscribe cancels sub.
func (c *Computed[T]) Unsubscribe(sub *Subscription) {
	sub.Cancel()
}

// Close disposes c, detaching it from its sources and dependents.
func (c *Computed[T]) Close() {
	c.closeSource()
}

func (c *Computed[T]) refresh() {
	if c.closed.Load() {
		return
	}
	graphMu.Lock()
	cycle := c.drv.computing && c.gid == goid.Get()
	graphMu.Unlock()
	if cycle {
		c.pipe.reportError(ErrorEvent{
			Node: c.info(),
			Err:  &NodeError{Node: c.info(), Op: "compute", Err: ErrCycle},
		})
		return
	}
	if c.stale() {
		c.recompute()
	}
}

func (c *Computed[T]) recompute() {
	graphMu.Lock()
	d := c.drv
	if d.computing {
		// Another goroutine is evaluating; keep the cached value.
		graphMu.Unlock()
		return
	}
	d.computing = true
	c.gid = goid.Get()
	collect := d.collecting()
	var prev []dep
	if collect {
		prev = d.deps
		d.deps = nil
	} else {
		d.syncVersionsLocked()
	}
	// Writes that land while fn runs mark the node again.
	d.state = stateClean
	graphMu.Unlock()

	value, err := c.evaluate()

	graphMu.Lock()
	d.computing = false
	var added, removed []NodeInfo
	if collect {
		var gone []*node
		added, removed, gone = diffDeps(prev, d.deps)
		for _, src := range gone {
			src.removeSubLocked(&c.node)
		}
		if d.static {
			d.locked = true
		}
	}
	changed := false
	var eqErr error
	if err != nil {
		c.err = err
		changed = true
	} else {
		if c.err != nil {
			c.err = nil
			changed = true
		}
		eq := false
		if c.evaluated {
			eq, eqErr = c.equals(c.value, value)
		}
		if !eq {
			c.value = value
			changed = true
		}
	}
	c.evaluated = true
	if changed {
		c.version++
	}
	graphMu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		c.pipe.graphChanged(GraphChange{Node: c.info(), Added: added, Removed: removed})
	}
	if err != nil {
		var trace []byte
		if de, ok := err.(*DerivationError); ok {
			trace = de.Trace
		}
		c.pipe.reportError(ErrorEvent{Node: c.info(), Err: err, Trace: trace})
	}
	if eqErr != nil {
		c.pipe.reportError(ErrorEvent{Node: c.info(), Err: eqErr})
	}
}

// evaluate runs fn inside c's tracking frame and converts failures into
// *DerivationError.
func (c *Computed[T]) evaluate() (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DerivationError{Node: c.info(), Err: errorFromPanic(r), Panic: r, Trace: captureTrace()}
		}
	}()
	withFrame(frame{obs: derivedObserver{n: &c.node}}, func() { v, err = c.fn() })
	if err != nil {
		err = &DerivationError{Node: c.info(), Err: err, Trace: captureTrace()}
	}
	return v, err
}

func (c *Computed[T]) flush(e *entry) error {
	if !e.pending {
		return nil
	}
	c.refresh()
	graphMu.Lock()
	if c.listeners == 0 || c.version == c.notifiedVersion {
		graphMu.Unlock()
		return nil
	}
	old, cur := c.notified, c.value
	c.notified, c.notifiedVersion = cur, c.version
	snap := c.ls.snapshotLocked()
	graphMu.Unlock()
	if eq, _ := c.equals(old, cur); eq {
		return nil
	}
	return notifyAll(&c.node, snap, Change[T]{Node: c.info(), Old: old, New: cur})
}

// derivedObserver registers reads as dependencies of n.
type derivedObserver struct {
	n *node
}

func (o derivedObserver) observe(src *node) {
	graphMu.Lock()
	defer graphMu.Unlock()
	if o.n.closed.Load() || !o.n.drv.collecting() {
		return
	}
	o.n.addDepLocked(src)
}
