package lx

import (
	"fmt"
	"sync/atomic"
)

// NodeKind identifies the concrete type behind a Node.
type NodeKind uint8

const (
	KindCell NodeKind = iota
	KindComputed
	KindAsync
	KindList
	KindMap
	KindSet
)

// String returns the lowercase kind name.
func (k NodeKind) String() string {
	switch k {
	case KindCell:
		return "cell"
	case KindComputed:
		return "computed"
	case KindAsync:
		return "async"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText encodes the kind by name.
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *NodeKind) UnmarshalText(text []byte) error {
	for c := KindCell; c <= KindSet; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("lx: unknown node kind %q", text)
}

// NodeInfo is the identity of a node as carried by events and errors.
type NodeInfo struct {
	ID      uint64   `json:"id"`
	Name    string   `json:"name,omitempty"`
	OwnerID string   `json:"owner,omitempty"`
	Kind    NodeKind `json:"kind"`
}

// String formats the node as kind#id or kind#id(name).
func (i NodeInfo) String() string {
	if i.Name != "" {
		return fmt.Sprintf("%s#%d(%s)", i.Kind, i.ID, i.Name)
	}
	return fmt.Sprintf("%s#%d", i.Kind, i.ID)
}

// Node is implemented by every reactive value. The set of implementations
// is closed: only this package can produce nodes.
type Node interface {
	ID() uint64
	Name() string
	Kind() NodeKind
	OwnerID() string
	// SetOwnerID assigns the owner once. Further calls return ErrOwnerSet.
	SetOwnerID(id string) error
	Info() NodeInfo
	// Watch subscribes fn to every change without exposing the value type.
	Watch(fn func() error, opts ...ListenerOption) *Subscription
	// Close disposes the node. It is idempotent and safe from any goroutine.
	Close()
	Closed() bool

	base() *node
}

// nodeImpl is the per-kind behavior the graph drives during a flush.
type nodeImpl interface {
	// refresh brings a derived value up to date. Sources do nothing.
	refresh()
	// flush delivers what the batch collected for this node.
	flush(e *entry) error
}

// node is the state shared by all node kinds. Fields below the divider
// are guarded by graphMu.
type node struct {
	id     uint64
	name   string
	kind   NodeKind
	owner  atomic.Pointer[string]
	pipe   *Pipeline
	self   Node
	impl   nodeImpl
	closed atomic.Bool

	// ---- graphMu ----

	version   uint64  // bumped on every observable value change
	subs      []*node // dependents
	listeners int
	drv       *derivation // nil for sources
}

func (n *node) init(kind NodeKind, self Node, impl nodeImpl, o options) {
	n.id = nextID()
	n.kind = kind
	n.name = o.name
	n.self = self
	n.impl = impl
	n.pipe = o.pipe
	if o.owner != "" {
		owner := o.owner
		n.owner.Store(&owner)
	}
}

// ID returns the node's unique id.
func (n *node) ID() uint64 { return n.id }

// Name returns the debug name, if any.
func (n *node) Name() string { return n.name }

// Kind returns the node kind.
func (n *node) Kind() NodeKind { return n.kind }

// OwnerID returns the owner id, or "" when unowned.
func (n *node) OwnerID() string {
	if p := n.owner.Load(); p != nil {
		return *p
	}
	return ""
}

// SetOwnerID assigns the owner id. It can only be set once.
func (n *node) SetOwnerID(id string) error {
	if !n.owner.CompareAndSwap(nil, &id) {
		return &NodeError{Node: n.info(), Op: "set owner", Err: ErrOwnerSet}
	}
	return nil
}

// Info returns the node identity.
func (n *node) Info() NodeInfo { return n.info() }

// Closed reports whether Close was called.
func (n *node) Closed() bool { return n.closed.Load() }

func (n *node) base() *node { return n }

func (n *node) info() NodeInfo {
	return NodeInfo{ID: n.id, Name: n.name, OwnerID: n.OwnerID(), Kind: n.kind}
}

func (n *node) disposedErr(op string) error {
	return &NodeError{Node: n.info(), Op: op, Err: ErrDisposed}
}

// register announces a fully constructed node to the pipeline.
func (n *node) register() {
	n.pipe.registered(n.info())
}

// close severs every edge of n and runs clearLocked under graphMu so the
// caller can drop its listeners. It reports false if n was already closed.
func (n *node) close(clearLocked func()) bool {
	if n.closed.Swap(true) {
		return false
	}
	graphMu.Lock()
	for _, sub := range n.subs {
		sub.removeDepLocked(n)
	}
	n.subs = nil
	if d := n.drv; d != nil {
		for _, dp := range d.deps {
			dp.src.removeSubLocked(n)
		}
		d.deps = nil
	}
	n.listeners = 0
	if clearLocked != nil {
		clearLocked()
	}
	graphMu.Unlock()
	n.pipe.disposed(n.info())
	return true
}
