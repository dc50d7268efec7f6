package lx

import "sync/atomic"

// idCounter is the source of ids for nodes, batches and subscriptions.
var idCounter atomic.Uint64

// nextID returns the next unique id. Ids are never reused.
func nextID() uint64 {
	return idCounter.Add(1)
}
