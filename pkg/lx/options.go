package lx

import "time"

// Option configures a node or a batch.
type Option func(*options)

type options struct {
	name     string
	owner    string
	pipe     *Pipeline
	static   bool
	lazy     bool
	dispatch func(func())

	retries    int
	retryDelay time.Duration
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.pipe == nil {
		o.pipe = DefaultPipeline()
	}
	return o
}

// WithName sets a debug name. Names show up in NodeInfo, in error messages
// and in middleware events.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithOwner assigns the owner id at construction time. It counts as the
// one allowed SetOwnerID call.
func WithOwner(id string) Option {
	return func(o *options) { o.owner = id }
}

// WithPipeline binds the node (or batch) to p instead of DefaultPipeline().
func WithPipeline(p *Pipeline) Option {
	return func(o *options) { o.pipe = p }
}

// Static locks the dependency set of a derivation after its first
// evaluation. Later reads of other nodes are not tracked, and the locked
// dependencies keep triggering recomputation even when the branch taken no
// longer reads them.
func Static() Option {
	return func(o *options) { o.static = true }
}

// Lazy makes an async node start Idle and run on first Get, Subscribe or Refresh
// instead of at construction.
func Lazy() Option {
	return func(o *options) { o.lazy = true }
}

// WithDispatcher hands async commits to dispatch instead of running them on
// the worker goroutine, e.g. to serialize them on an event loop.
func WithDispatcher(dispatch func(func())) Option {
	return func(o *options) { o.dispatch = dispatch }
}

// WithRetry re-runs a failed async derivation up to attempts more times,
// sleeping delay in between. A superseded run stops retrying.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *options) {
		o.retries = attempts
		o.retryDelay = delay
	}
}
