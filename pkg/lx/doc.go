// Package lx is a reactive dependency-tracking and notification engine.
//
// Reactivity is fine-grained and tracked at runtime: reading a Cell or
// Computed while an observer is active registers a dependency edge, and a
// later write marks dependents dirty and notifies listeners.
//
// # Core Types
//
// Cell[T] is a mutable observable value:
//
//	count := lx.NewCell(0)
//	count.Get()     // read (tracked)
//	count.Set(5)    // write (notifies listeners)
//
// Computed[T] is a cached, lazily evaluated derivation:
//
//	doubled := lx.NewComputed(func() int { return count.Get() * 2 })
//	doubled.Subscribe(func(c lx.Change[int]) error {
//	    fmt.Println(c.Old, "->", c.New)
//	    return nil
//	})
//
// Async[T] derives a Status[T] from a function that may block:
//
//	user := lx.NewAsync(func(ctx context.Context) (*User, error) {
//	    return api.FetchUser(ctx, id.Get())
//	})
//	switch st := user.Get(); st.Kind() { ... }
//
// # Batching
//
// Writes inside Batch are coalesced into one notification pass:
//
//	lx.Batch(func() error {
//	    first.Set("John")
//	    last.Set("Doe")
//	    return nil
//	})
//
// # Tracking across goroutines
//
// Tracking state and the active batch are goroutine-local. Work that hops
// goroutines carries them in a context.Context and re-enters them with
// Within.
//
// # Middleware
//
// A Pipeline of Middleware values observes node registration, writes,
// batches, disposal, dependency changes and errors. With no middleware
// installed the engine takes a direct path.
package lx
