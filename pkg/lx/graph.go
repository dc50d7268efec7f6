package lx

import (
	"errors"
	"sync"
)

// graphMu guards dependency edges, versions, derivation states and
// listener lists of every node. It is never held while derivations,
// listeners or middleware run.
var graphMu sync.Mutex

type depState uint8

const (
	stateClean depState = iota
	stateCheck          // a transitive source changed; sources must be refreshed first
	stateDirty          // a direct source changed
)

// dep is one dependency edge with the source version seen when it was last
// evaluated against.
type dep struct {
	src     *node
	version uint64
}

// derivation is the bookkeeping shared by computed and async nodes.
type derivation struct {
	state     depState
	deps      []dep
	static    bool
	locked    bool // static dependency set frozen
	computing bool
	eager     bool // async nodes restart on change instead of waiting for a read
}

func (d *derivation) collecting() bool {
	return !d.static || !d.locked
}

// addDepLocked records src as a dependency of n at its current version and
// reports whether the edge is new.
func (n *node) addDepLocked(src *node) bool {
	d := n.drv
	if src == n || src.closed.Load() {
		return false
	}
	for i := range d.deps {
		if d.deps[i].src == src {
			d.deps[i].version = src.version
			return false
		}
	}
	d.deps = append(d.deps, dep{src: src, version: src.version})
	src.addSubLocked(n)
	return true
}

func (n *node) addSubLocked(sub *node) {
	for _, s := range n.subs {
		if s == sub {
			return
		}
	}
	n.subs = append(n.subs, sub)
}

func (n *node) removeSubLocked(sub *node) {
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			return
		}
	}
}

func (n *node) removeDepLocked(src *node) {
	d := n.drv
	if d == nil {
		return
	}
	for i, dp := range d.deps {
		if dp.src == src {
			d.deps = append(d.deps[:i], d.deps[i+1:]...)
			return
		}
	}
}

// syncVersionsLocked records the current version of every dependency.
func (d *derivation) syncVersionsLocked() {
	for i := range d.deps {
		d.deps[i].version = d.deps[i].src.version
	}
}

// diffDeps returns the sources present only in next and only in prev.
func diffDeps(prev, next []dep) (added, removed []NodeInfo, gone []*node) {
	in := func(list []dep, n *node) bool {
		for _, dp := range list {
			if dp.src == n {
				return true
			}
		}
		return false
	}
	for _, dp := range next {
		if !in(prev, dp.src) {
			added = append(added, dp.src.info())
		}
	}
	for _, dp := range prev {
		if !in(next, dp.src) {
			removed = append(removed, dp.src.info())
			gone = append(gone, dp.src)
		}
	}
	return added, removed, gone
}

// markSubsLocked marks the direct dependents of n dirty and their
// dependents check. It returns queue extended with the derived nodes that
// must be visited when the change is flushed: those with listeners, and
// async nodes.
func (n *node) markSubsLocked(queue []*node) []*node {
	for _, sub := range n.subs {
		queue = sub.markLocked(stateDirty, queue)
	}
	return queue
}

func (n *node) markLocked(st depState, queue []*node) []*node {
	d := n.drv
	if d == nil {
		return queue
	}
	prev := d.state
	if st > d.state {
		d.state = st
	}
	if prev != stateClean {
		return queue
	}
	if d.eager || n.listeners > 0 {
		queue = append(queue, n)
	}
	if d.eager {
		// Async values only change when a run commits.
		return queue
	}
	for _, sub := range n.subs {
		queue = sub.markLocked(stateCheck, queue)
	}
	return queue
}

// stale reports whether the derived node n must recompute. A node in the
// check state refreshes its sources in order and stays clean when none of
// their versions moved.
func (n *node) stale() bool {
	graphMu.Lock()
	d := n.drv
	switch d.state {
	case stateClean:
		graphMu.Unlock()
		return false
	case stateDirty:
		graphMu.Unlock()
		return true
	}
	deps := append([]dep(nil), d.deps...)
	graphMu.Unlock()

	for _, dp := range deps {
		dp.src.impl.refresh()
		graphMu.Lock()
		moved := dp.src.version != dp.version
		if moved {
			d.state = stateDirty
		}
		graphMu.Unlock()
		if moved {
			return true
		}
	}

	graphMu.Lock()
	defer graphMu.Unlock()
	if d.state == stateCheck {
		d.state = stateClean
	}
	return d.state == stateDirty
}

// pending is a value change made under graphMu that still has to be
// handed to the batch or flushed.
type pending struct {
	n       *node
	old     any
	new     any
	changed bool
	notify  bool
	queue   []*node
	err     error // equality failure, reported once the lock is released
}

// schedule buffers p in the goroutine's batch, or flushes it right away
// when no batch is open.
func (p pending) schedule() error {
	if p.err != nil {
		p.n.pipe.reportError(ErrorEvent{Node: p.n.info(), Err: p.err})
	}
	if !p.changed || (!p.notify && len(p.queue) == 0) {
		return p.err
	}
	if st := peekState(); st != nil && st.batch != nil {
		if st.batch.record(p) {
			return p.err
		}
	}
	b := newBatch(p.n.pipe, "")
	b.record(p)
	return errors.Join(p.err, flushEntries(b.drain()))
}
