package lx

import (
	"sync"
	"sync/atomic"
)

// WriteEvent is the mutable record passed down a write chain. Middleware may
// replace New before calling next, or return without calling next to
// suppress the write.
type WriteEvent struct {
	Node    NodeInfo
	Old     any
	New     any
	BatchID uint64 // Open batch of the writing goroutine, 0 if none
}

// WriteFunc performs, or continues, a write.
type WriteFunc func(ev *WriteEvent) error

// GraphChange reports the dependency set of a derived node changing.
type GraphChange struct {
	Node    NodeInfo
	Added   []NodeInfo
	Removed []NodeInfo
}

// ErrorEvent reports a derivation or listener failure.
type ErrorEvent struct {
	Node  NodeInfo
	Err   error
	Trace []byte
}

// ListenerOp is the kind of listener event.
type ListenerOp uint8

const (
	ListenerAdded ListenerOp = iota
	ListenerRemoved
	ListenerNotified
)

// String returns the operation name.
func (op ListenerOp) String() string {
	switch op {
	case ListenerAdded:
		return "add"
	case ListenerRemoved:
		return "remove"
	case ListenerNotified:
		return "notify"
	default:
		return "unknown"
	}
}

// ListenerEvent reports a subscription being added, removed or notified.
type ListenerEvent struct {
	Op      ListenerOp
	Node    NodeInfo
	Context ListenerContext
}

// Middleware is a set of optional hooks. A nil field is skipped.
type Middleware struct {
	// Name identifies the middleware for Remove.
	Name string

	OnRegister func(NodeInfo)

	// WrapWrite decorates the write chain of source nodes. The first
	// middleware in the pipeline is the outermost wrapper.
	WrapWrite func(next WriteFunc) WriteFunc

	OnBatchStart  func(BatchInfo)
	OnBatchEnd    func(BatchInfo, error)
	OnDispose     func(NodeInfo)
	OnGraphChange func(GraphChange)
	OnError       func(ErrorEvent)
	OnListener    func(ListenerEvent)
}

// hooks is the compiled form of a pipeline at one version.
type hooks struct {
	version    uint64
	register   []func(NodeInfo)
	wrappers   []func(WriteFunc) WriteFunc
	batchStart []func(BatchInfo)
	batchEnd   []func(BatchInfo, error)
	dispose    []func(NodeInfo)
	graph      []func(GraphChange)
	errs       []func(ErrorEvent)
	listener   []func(ListenerEvent)
}

var emptyHooks = &hooks{}

func compile(version uint64, mws []Middleware) *hooks {
	h := &hooks{version: version}
	for _, m := range mws {
		if m.OnRegister != nil {
			h.register = append(h.register, m.OnRegister)
		}
		if m.WrapWrite != nil {
			h.wrappers = append(h.wrappers, m.WrapWrite)
		}
		if m.OnBatchStart != nil {
			h.batchStart = append(h.batchStart, m.OnBatchStart)
		}
		if m.OnBatchEnd != nil {
			h.batchEnd = append(h.batchEnd, m.OnBatchEnd)
		}
		if m.OnDispose != nil {
			h.dispose = append(h.dispose, m.OnDispose)
		}
		if m.OnGraphChange != nil {
			h.graph = append(h.graph, m.OnGraphChange)
		}
		if m.OnError != nil {
			h.errs = append(h.errs, m.OnError)
		}
		if m.OnListener != nil {
			h.listener = append(h.listener, m.OnListener)
		}
	}
	return h
}

// compose wraps base so that wrappers[0] runs first.
func (h *hooks) compose(base WriteFunc) WriteFunc {
	fn := base
	for i := len(h.wrappers) - 1; i >= 0; i-- {
		fn = h.wrappers[i](fn)
	}
	return fn
}

// Pipeline is an ordered list of middleware shared by the nodes bound to it.
// It is safe for concurrent use; changes apply to subsequent operations.
type Pipeline struct {
	mu       sync.Mutex
	mws      []Middleware
	version  uint64
	compiled atomic.Pointer[hooks]
}

// NewPipeline returns a pipeline running mws in order.
func NewPipeline(mws ...Middleware) *Pipeline {
	p := &Pipeline{mws: append([]Middleware(nil), mws...)}
	p.compiled.Store(compile(0, p.mws))
	return p
}

var defaultPipeline = NewPipeline()

// DefaultPipeline returns the pipeline nodes use unless WithPipeline is given.
func DefaultPipeline() *Pipeline {
	return defaultPipeline
}

// Use appends middleware.
func (p *Pipeline) Use(mws ...Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mws = append(p.mws, mws...)
	p.bumpLocked()
}

// Remove drops every middleware named name and reports whether any was found.
func (p *Pipeline) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.mws[:0:0]
	for _, m := range p.mws {
		if m.Name != name {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(p.mws) {
		return false
	}
	p.mws = kept
	p.bumpLocked()
	return true
}

// Len returns the number of installed middleware.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mws)
}

// Version increments every time the middleware list changes.
func (p *Pipeline) Version() uint64 {
	return p.hooks().version
}

func (p *Pipeline) bumpLocked() {
	p.version++
	p.compiled.Store(compile(p.version, p.mws))
}

func (p *Pipeline) hooks() *hooks {
	if p == nil {
		return emptyHooks
	}
	if h := p.compiled.Load(); h != nil {
		return h
	}
	return emptyHooks
}

func (p *Pipeline) registered(info NodeInfo) {
	for _, fn := range p.hooks().register {
		fn(info)
	}
}

func (p *Pipeline) disposed(info NodeInfo) {
	for _, fn := range p.hooks().dispose {
		fn(info)
	}
}

func (p *Pipeline) batchStarted(info BatchInfo) {
	for _, fn := range p.hooks().batchStart {
		fn(info)
	}
}

func (p *Pipeline) batchEnded(info BatchInfo, err error) {
	for _, fn := range p.hooks().batchEnd {
		fn(info, err)
	}
}

func (p *Pipeline) graphChanged(gc GraphChange) {
	for _, fn := range p.hooks().graph {
		fn(gc)
	}
}

// reportError routes ev to the error hooks, or logs it when there are none.
func (p *Pipeline) reportError(ev ErrorEvent) {
	h := p.hooks()
	if len(h.errs) == 0 {
		Logger().Debug("lx: unhandled error", "node", ev.Node.String(), "error", ev.Err)
		return
	}
	for _, fn := range h.errs {
		fn(ev)
	}
}

func (p *Pipeline) listenerEvent(ev ListenerEvent) {
	for _, fn := range p.hooks().listener {
		fn(ev)
	}
}

func (p *Pipeline) wantsListenerEvents() bool {
	return len(p.hooks().listener) > 0
}

// writeSite caches the composed write chain of one node and recomposes it
// when the pipeline version moves.
type writeSite struct {
	mu      sync.Mutex
	version uint64
	fn      WriteFunc
}

func (w *writeSite) chain(h *hooks, base WriteFunc) WriteFunc {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fn == nil || w.version != h.version {
		w.fn = h.compose(base)
		w.version = h.version
	}
	return w.fn
}
