package lx

import (
	"context"
	"sync"

	"github.com/petermattis/goid"
)

// Observer receives the nodes read while it is the active tracking frame.
type Observer interface {
	Observe(n Node)
}

// observer is the internal form of Observer. Derivations implement it
// directly; public observers are adapted.
type observer interface {
	observe(n *node)
}

type publicObserver struct {
	o Observer
}

func (p publicObserver) observe(n *node) { p.o.Observe(n.self) }

// frame is one entry of a goroutine's tracking stack. A nil observer makes
// reads untracked. A chained frame forwards reads to the frame below it.
type frame struct {
	obs     observer
	chained bool
}

// goroutineState holds the reactive state of one goroutine.
type goroutineState struct {
	frames []frame
	batch  *batch
}

// goroutineStates maps goid.Get() to *goroutineState. Entries are removed
// as soon as a goroutine has neither frames nor a batch.
var goroutineStates sync.Map

// stateFor returns the state of the calling goroutine, creating it.
func stateFor() *goroutineState {
	gid := goid.Get()
	if v, ok := goroutineStates.Load(gid); ok {
		return v.(*goroutineState)
	}
	s := &goroutineState{}
	goroutineStates.Store(gid, s)
	return s
}

// peekState returns the state of the calling goroutine, or nil.
func peekState() *goroutineState {
	if v, ok := goroutineStates.Load(goid.Get()); ok {
		return v.(*goroutineState)
	}
	return nil
}

func (s *goroutineState) release() {
	if len(s.frames) == 0 && s.batch == nil {
		goroutineStates.Delete(goid.Get())
	}
}

func pushFrame(f frame) *goroutineState {
	s := stateFor()
	s.frames = append(s.frames, f)
	return s
}

func (s *goroutineState) popFrame() {
	s.frames[len(s.frames)-1] = frame{}
	s.frames = s.frames[:len(s.frames)-1]
	s.release()
}

// track registers n with the innermost frame, and with enclosing frames
// for as long as frames are chained.
func track(n *node) {
	s := peekState()
	if s == nil {
		return
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		if f.obs == nil {
			return
		}
		f.obs.observe(n)
		if !f.chained {
			return
		}
	}
}

// withFrame runs fn inside f. The frame is popped even if fn panics.
func withFrame(f frame, fn func()) {
	s := pushFrame(f)
	defer s.popFrame()
	fn()
}

// =============================================================================
// Public Tracking API
// =============================================================================

// RunTracked runs fn with obs as the active observer and returns its result.
func RunTracked[T any](obs Observer, fn func() T) T {
	var v T
	withFrame(frame{obs: publicObserver{obs}}, func() { v = fn() })
	return v
}

// Track runs fn with obs as the active observer.
func Track(obs Observer, fn func()) {
	withFrame(frame{obs: publicObserver{obs}}, fn)
}

// RunChained runs fn with obs as the active observer. Reads are also
// forwarded to the enclosing frame.
func RunChained(obs Observer, fn func()) {
	withFrame(frame{obs: publicObserver{obs}, chained: true}, fn)
}

// Untracked runs fn without any observer; reads inside register nowhere.
func Untracked[T any](fn func() T) T {
	var v T
	withFrame(frame{}, func() { v = fn() })
	return v
}

type observerKey struct{}

type batchKey struct{}

// WithTracking returns a context carrying obs. Within re-installs it on
// whatever goroutine continues the computation.
func WithTracking(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, observer(publicObserver{obs}))
}

// Within runs fn on the current goroutine with the observer and batch carried
// by ctx. Async derivations receive a ctx that carries their run observer,
// and BatchAsync passes a ctx that carries its batch.
func Within(ctx context.Context, fn func()) {
	s := stateFor()
	prevBatch := s.batch
	if b, ok := ctx.Value(batchKey{}).(*batch); ok && prevBatch == nil && b.open() {
		s.batch = b
	}
	obs, hasObs := ctx.Value(observerKey{}).(observer)
	if hasObs {
		s.frames = append(s.frames, frame{obs: obs})
	}
	defer func() {
		if hasObs {
			s.frames[len(s.frames)-1] = frame{}
			s.frames = s.frames[:len(s.frames)-1]
		}
		s.batch = prevBatch
		s.release()
	}()
	fn()
}

// =============================================================================
// Tracker
// =============================================================================

// Tracker is a ready-made Observer that records the nodes read in first-read
// order, for bindings that re-run a function whenever its inputs change.
type Tracker struct {
	mu    sync.Mutex
	nodes []Node
	seen  map[uint64]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[uint64]struct{})}
}

// Observe implements Observer.
func (t *Tracker) Observe(n Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen == nil {
		t.seen = make(map[uint64]struct{})
	}
	if _, ok := t.seen[n.ID()]; ok {
		return
	}
	t.seen[n.ID()] = struct{}{}
	t.nodes = append(t.nodes, n)
}

// Nodes returns the observed nodes, deduplicated, in first-read order.
func (t *Tracker) Nodes() []Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Node(nil), t.nodes...)
}

// Watch subscribes fn to every observed node and returns a function that
// cancels all of those subscriptions.
func (t *Tracker) Watch(fn func() error, opts ...ListenerOption) func() {
	nodes := t.Nodes()
	subs := make([]*Subscription, 0, len(nodes))
	for _, n := range nodes {
		subs = append(subs, n.Watch(fn, opts...))
	}
	return func() {
		for _, s := range subs {
			s.Cancel()
		}
	}
}

// Reset forgets every observed node.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = nil
	t.seen = make(map[uint64]struct{})
}
