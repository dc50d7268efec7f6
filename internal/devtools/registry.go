package devtools

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vango-dev/lx/pkg/lx"
)

// EventType identifies a devtools event.
type EventType string

const (
	EventRegister EventType = "register"
	EventDispose  EventType = "dispose"
	EventWrite    EventType = "write"
	EventBatch    EventType = "batch"
	EventGraph    EventType = "graph"
	EventError    EventType = "error"
	EventListener EventType = "listener"
)

// Event is one pipeline event as streamed to clients.
type Event struct {
	Type  EventType    `json:"type"`
	Node  *lx.NodeInfo `json:"node,omitempty"`
	Batch uint64       `json:"batch,omitempty"`
	Size  int          `json:"size,omitempty"`
	Value string       `json:"value,omitempty"`
	Error string       `json:"error,omitempty"`
	Time  time.Time    `json:"time"`
}

// NodeView is the registry's record of a live node.
type NodeView struct {
	lx.NodeInfo
	Listeners  int      `json:"listeners"`
	Writes     uint64   `json:"writes"`
	Deps       []uint64 `json:"deps,omitempty"`
	Dependents []uint64 `json:"dependents,omitempty"`
	LastError  string   `json:"lastError,omitempty"`
}

// Edge is a dependency: From reads To.
type Edge struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

type nodeRecord struct {
	info      lx.NodeInfo
	listeners int
	writes    uint64
	deps      map[uint64]struct{}
	lastError string
}

type subscriber struct {
	ch      chan Event
	dropped uint64
}

// Registry records the live graph of the pipelines it is installed on.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[uint64]*nodeRecord
	subs   map[string]*subscriber
	values bool
	now    func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithValues includes written values in write events.
func WithValues(include bool) RegistryOption {
	return func(r *Registry) {
		r.values = include
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		nodes: make(map[uint64]*nodeRecord),
		subs:  make(map[string]*subscriber),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Middleware returns the hooks that feed r.
func (r *Registry) Middleware() lx.Middleware {
	return lx.Middleware{
		Name:       "devtools",
		OnRegister: r.register,
		OnDispose:  r.dispose,
		WrapWrite: func(next lx.WriteFunc) lx.WriteFunc {
			return func(ev *lx.WriteEvent) error {
				err := next(ev)
				r.write(ev, err)
				return err
			}
		},
		OnBatchEnd: func(info lx.BatchInfo, err error) {
			e := Event{Type: EventBatch, Batch: info.ID, Size: info.Size}
			if info.Name != "" {
				e.Value = info.Name
			}
			if err != nil {
				e.Error = err.Error()
			}
			r.publish(e)
		},
		OnGraphChange: r.graphChange,
		OnError:       r.nodeError,
		OnListener:    r.listener,
	}
}

func (r *Registry) register(info lx.NodeInfo) {
	r.mu.Lock()
	r.nodes[info.ID] = &nodeRecord{info: info, deps: make(map[uint64]struct{})}
	r.mu.Unlock()
	r.publish(Event{Type: EventRegister, Node: &info})
}

func (r *Registry) dispose(info lx.NodeInfo) {
	r.mu.Lock()
	delete(r.nodes, info.ID)
	r.mu.Unlock()
	r.publish(Event{Type: EventDispose, Node: &info})
}

func (r *Registry) write(ev *lx.WriteEvent, err error) {
	info := ev.Node
	r.mu.Lock()
	if rec, ok := r.nodes[info.ID]; ok && err == nil {
		rec.writes++
	}
	r.mu.Unlock()

	e := Event{Type: EventWrite, Node: &info, Batch: ev.BatchID}
	if r.values {
		e.Value = fmt.Sprintf("%v", ev.New)
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.publish(e)
}

func (r *Registry) graphChange(gc lx.GraphChange) {
	r.mu.Lock()
	if rec, ok := r.nodes[gc.Node.ID]; ok {
		for _, d := range gc.Removed {
			delete(rec.deps, d.ID)
		}
		for _, d := range gc.Added {
			rec.deps[d.ID] = struct{}{}
		}
	}
	r.mu.Unlock()
	r.publish(Event{Type: EventGraph, Node: &gc.Node})
}

func (r *Registry) nodeError(ev lx.ErrorEvent) {
	r.mu.Lock()
	if rec, ok := r.nodes[ev.Node.ID]; ok {
		rec.lastError = ev.Err.Error()
	}
	r.mu.Unlock()
	r.publish(Event{Type: EventError, Node: &ev.Node, Error: ev.Err.Error()})
}

func (r *Registry) listener(ev lx.ListenerEvent) {
	r.mu.Lock()
	if rec, ok := r.nodes[ev.Node.ID]; ok {
		switch ev.Op {
		case lx.ListenerAdded:
			rec.listeners++
		case lx.ListenerRemoved:
			rec.listeners--
		}
	}
	r.mu.Unlock()
	r.publish(Event{Type: EventListener, Node: &ev.Node, Value: ev.Op.String()})
}

// Nodes returns the live nodes sorted by id.
func (r *Registry) Nodes() []NodeView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dependents := r.dependentsLocked()
	views := make([]NodeView, 0, len(r.nodes))
	for _, rec := range r.nodes {
		views = append(views, r.viewLocked(rec, dependents))
	}
	slices.SortFunc(views, func(a, b NodeView) int { return cmp.Compare(a.ID, b.ID) })
	return views
}

// Node returns the live node with id.
func (r *Registry) Node(id uint64) (NodeView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.nodes[id]
	if !ok {
		return NodeView{}, false
	}
	return r.viewLocked(rec, r.dependentsLocked()), true
}

// Edges returns the dependency edges between live nodes, sorted.
func (r *Registry) Edges() []Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var edges []Edge
	for id, rec := range r.nodes {
		for dep := range rec.deps {
			if _, live := r.nodes[dep]; live {
				edges = append(edges, Edge{From: id, To: dep})
			}
		}
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		return cmp.Or(cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To))
	})
	return edges
}

func (r *Registry) dependentsLocked() map[uint64][]uint64 {
	out := make(map[uint64][]uint64)
	for id, rec := range r.nodes {
		for dep := range rec.deps {
			out[dep] = append(out[dep], id)
		}
	}
	return out
}

func (r *Registry) viewLocked(rec *nodeRecord, dependents map[uint64][]uint64) NodeView {
	v := NodeView{
		NodeInfo:   rec.info,
		Listeners:  rec.listeners,
		Writes:     rec.writes,
		LastError:  rec.lastError,
		Dependents: slices.Sorted(slices.Values(dependents[rec.info.ID])),
	}
	for dep := range rec.deps {
		if _, live := r.nodes[dep]; live {
			v.Deps = append(v.Deps, dep)
		}
	}
	slices.Sort(v.Deps)
	return v
}

// Subscribe registers an event stream with room for buffer pending
// events. Events that do not fit are dropped for that subscriber. The
// returned cancel closes the channel.
func (r *Registry) Subscribe(buffer int) (id string, events <-chan Event, cancel func()) {
	if buffer <= 0 {
		buffer = 1
	}
	id = uuid.NewString()
	sub := &subscriber{ch: make(chan Event, buffer)}

	r.mu.Lock()
	r.subs[id] = sub
	r.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(sub.ch)
		})
	}
	return id, sub.ch, cancel
}

// SubscriberCount returns the number of open event streams.
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dropped returns how many events subscriber id has missed.
func (r *Registry) Dropped(id string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sub, ok := r.subs[id]; ok {
		return sub.dropped
	}
	return 0
}

// publish holds the write lock so cancel cannot close a channel mid-send.
func (r *Registry) publish(e Event) {
	e.Time = r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
		}
	}
}
