package lx

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BatchInfo describes a batch to middleware.
type BatchInfo struct {
	ID    uint64
	Name  string
	Size  int  // Distinct nodes flushed; zero in OnBatchStart
	Async bool // Started by BatchAsync
}

// entry is what a batch collected for one node: a net value change to
// notify, a derived node to refresh, or both.
type entry struct {
	n       *node
	old     any
	new     any
	written bool
	pending bool
}

// batch buffers changes until its outermost scope exits. Goroutines that
// joined it through Within record concurrently, hence the mutex.
type batch struct {
	id   uint64
	name string
	pipe *Pipeline

	mu      sync.Mutex
	closed  bool
	entries []*entry
	index   map[*node]*entry
}

func newBatch(p *Pipeline, name string) *batch {
	return &batch{id: nextID(), name: name, pipe: p}
}

func (b *batch) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *batch) entryLocked(n *node) *entry {
	if e, ok := b.index[n]; ok {
		return e
	}
	if b.index == nil {
		b.index = make(map[*node]*entry)
	}
	e := &entry{n: n}
	b.index[n] = e
	b.entries = append(b.entries, e)
	return e
}

// record merges p into the batch. The first old value and the latest new
// value win. It reports false once the batch has been drained.
func (b *batch) record(p pending) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if p.notify {
		e := b.entryLocked(p.n)
		if !e.written {
			e.old = p.old
			e.written = true
		}
		e.new = p.new
	}
	for _, q := range p.queue {
		b.entryLocked(q).pending = true
	}
	return true
}

// drain closes the batch and returns its entries in first-touched order.
func (b *batch) drain() []*entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	es := b.entries
	b.entries, b.index = nil, nil
	return es
}

// flushEntries delivers every entry and keeps going past failures.
func flushEntries(es []*entry) error {
	var errs []error
	for _, e := range es {
		if e.n.closed.Load() {
			continue
		}
		if err := e.n.impl.flush(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// currentBatchID returns the id of the calling goroutine's open batch, or 0.
func currentBatchID() uint64 {
	if s := peekState(); s != nil && s.batch != nil {
		return s.batch.id
	}
	return 0
}

// =============================================================================
// Public Batch API
// =============================================================================

// Batch runs fn with writes buffered. Nested calls join the enclosing batch;
// the outermost exit flushes once, notifying each changed node with its net
// change. Nodes whose final value equals their value before the batch are not
// notified.
//
// If fn fails or panics, what was collected is still flushed. The returned
// error joins fn's error with listener errors, and a panic is re-raised
// after the flush.
//
// Example:
//
//	lx.Batch(func() error {
//	    first.Set("John")
//	    last.Set("Doe")
//	    return nil
//	})
func Batch(fn func() error, opts ...Option) error {
	return runBatch(opts, false, func(*batch) error { return fn() })
}

// BatchAsync is Batch for work that blocks. The batch stays open while fn
// runs and travels in the context passed to fn, so writes made on other
// goroutines inside Within(ctx, ...) join the same flush.
func BatchAsync(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	return runBatch(opts, true, func(b *batch) error {
		return fn(context.WithValue(ctx, batchKey{}, b))
	})
}

// TxNamed runs fn as a named batch. Start and end are logged at debug level.
func TxNamed(name string, fn func() error) error {
	log := Logger()
	log.Debug("lx: tx start", "tx", name)
	start := time.Now()
	err := Batch(fn, WithName(name))
	log.Debug("lx: tx end", "tx", name, "duration", time.Since(start), "error", err)
	return err
}

// InBatch reports whether the calling goroutine is inside an open batch.
func InBatch() bool {
	s := peekState()
	return s != nil && s.batch != nil && s.batch.open()
}

func runBatch(opts []Option, async bool, fn func(b *batch) error) (err error) {
	s := stateFor()
	if b := s.batch; b != nil && b.open() {
		return fn(b)
	}

	o := collectOptions(opts)
	b := newBatch(o.pipe, o.name)
	prev := s.batch
	s.batch = b
	info := BatchInfo{ID: b.id, Name: b.name, Async: async}
	b.pipe.batchStarted(info)

	var fnErr error
	defer func() {
		r := recover()
		s.batch = prev
		s.release()

		entries := b.drain()
		info.Size = len(entries)
		flushErr := flushEntries(entries)
		if r != nil {
			fnErr = errors.Join(fnErr, errorFromPanic(r))
		}
		err = errors.Join(fnErr, flushErr)
		b.pipe.batchEnded(info, err)
		if r != nil {
			panic(r)
		}
	}()
	fnErr = fn(b)
	return nil
}
