package lx

// source provides the value slot, equality and listener list shared by
// every node kind. It is embedded in Cell[T], Computed[T] and Async[T].
type source[T any] struct {
	node

	// value, ls and the notified baseline are guarded by graphMu.
	value T
	ls    listenerList[T]

	// equal decides whether a write changes the value. If nil, the default
	// equality is used.
	equal func(T, T) bool
}

// equals runs the node's equality. A panicking equality counts as a change
// and is returned as err. Safe to call with graphMu held.
func (s *source[T]) equals(a, b T) (eq bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			eq, err = false, &NodeError{Node: s.info(), Op: "equal", Err: errorFromPanic(r)}
		}
	}()
	if s.equal != nil {
		return s.equal(a, b), nil
	}
	return defaultEquals(a, b), nil
}

// peek returns the stored value without tracking.
func (s *source[T]) peek() T {
	graphMu.Lock()
	defer graphMu.Unlock()
	return s.value
}

// setLocked stores v and marks dependents. The returned pending change
// must be scheduled after graphMu is released.
func (s *source[T]) setLocked(v T) pending {
	old := s.value
	eq, err := s.equals(old, v)
	if eq {
		return pending{}
	}
	s.value = v
	s.version++
	p := pending{n: &s.node, changed: true, notify: s.listeners > 0, err: err}
	p.queue = s.markSubsLocked(nil)
	if p.notify || len(p.queue) > 0 {
		p.old, p.new = old, v
	}
	return p
}

// commit stores v and delivers or buffers the change.
func (s *source[T]) commit(v T) error {
	return s.store(v).schedule()
}

func (s *source[T]) store(v T) pending {
	graphMu.Lock()
	defer graphMu.Unlock()
	return s.setLocked(v)
}

// notifyWritten delivers a buffered net change. Equal net changes are
// dropped.
func (s *source[T]) notifyWritten(e *entry) error {
	if !e.written {
		return nil
	}
	old, _ := e.old.(T)
	cur, _ := e.new.(T)
	// A failing equality was already reported when the value was stored.
	if eq, _ := s.equals(old, cur); eq {
		return nil
	}
	graphMu.Lock()
	snap := s.ls.snapshotLocked()
	graphMu.Unlock()
	return notifyAll(&s.node, snap, Change[T]{Node: s.info(), Old: old, New: cur})
}

func (s *source[T]) subscribe(fn func(Change[T]) error, opts []ListenerOption, attachLocked func(first bool)) *Subscription {
	return subscribe(&s.node, &s.ls, fn, opts, attachLocked)
}

func (s *source[T]) closeSource() bool {
	return s.close(s.ls.clearLocked)
}
