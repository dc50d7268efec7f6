package lx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingWrap(name string, log *[]string) Middleware {
	return Middleware{
		Name: name,
		WrapWrite: func(next WriteFunc) WriteFunc {
			return func(ev *WriteEvent) error {
				*log = append(*log, name+":before")
				err := next(ev)
				*log = append(*log, name+":after")
				return err
			}
		},
	}
}

func TestPipelineWrapWriteOrder(t *testing.T) {
	var log []string
	p := NewPipeline(recordingWrap("outer", &log), recordingWrap("inner", &log))
	c := NewCell(0, WithPipeline(p))

	require.NoError(t, c.Set(1))
	assert.Equal(t, []string{"outer:before", "inner:before", "inner:after", "outer:after"}, log)
	assert.Equal(t, 1, c.Get())
}

func TestWrapWriteCanModifyAndSuppress(t *testing.T) {
	p := NewPipeline(
		Middleware{
			Name: "clamp",
			WrapWrite: func(next WriteFunc) WriteFunc {
				return func(ev *WriteEvent) error {
					if ev.New.(int) < 0 {
						return nil
					}
					return next(ev)
				}
			},
		},
		Middleware{
			Name: "double",
			WrapWrite: func(next WriteFunc) WriteFunc {
				return func(ev *WriteEvent) error {
					ev.New = ev.New.(int) * 2
					return next(ev)
				}
			},
		},
	)
	c := NewCell(0, WithPipeline(p))

	require.NoError(t, c.Set(4))
	assert.Equal(t, 8, c.Get())

	require.NoError(t, c.Set(-1))
	assert.Equal(t, 8, c.Get(), "suppressed write")
}

func TestWriteEventCarriesOldValue(t *testing.T) {
	var got WriteEvent
	p := NewPipeline(Middleware{
		WrapWrite: func(next WriteFunc) WriteFunc {
			return func(ev *WriteEvent) error {
				got = *ev
				return next(ev)
			}
		},
	})
	c := NewCell("a", WithPipeline(p), WithName("letter"))
	require.NoError(t, c.Set("b"))
	assert.Equal(t, "a", got.Old)
	assert.Equal(t, "b", got.New)
	assert.Equal(t, "letter", got.Node.Name)
	assert.Zero(t, got.BatchID)

	require.NoError(t, Batch(func() error { return c.Set("c") }))
	assert.NotZero(t, got.BatchID)
}

func TestWriteChainCachedUntilPipelineChanges(t *testing.T) {
	composed := 0
	counting := Middleware{
		Name: "counting",
		WrapWrite: func(next WriteFunc) WriteFunc {
			composed++
			return next
		},
	}
	p := NewPipeline(counting)
	c := NewCell(0, WithPipeline(p))

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Set(i))
	}
	assert.Equal(t, 1, composed)

	v := p.Version()
	p.Use(Middleware{Name: "noop"})
	assert.Greater(t, p.Version(), v)
	require.NoError(t, c.Set(10))
	assert.Equal(t, 2, composed)

	assert.True(t, p.Remove("noop"))
	assert.False(t, p.Remove("noop"))
	assert.Equal(t, 1, p.Len())
}

func TestWriteTypeMismatchFails(t *testing.T) {
	p := NewPipeline(Middleware{
		WrapWrite: func(next WriteFunc) WriteFunc {
			return func(ev *WriteEvent) error {
				ev.New = "not an int"
				return next(ev)
			}
		},
	})
	c := NewCell(1, WithPipeline(p))
	var nerr *NodeError
	require.ErrorAs(t, c.Set(2), &nerr)
	assert.Equal(t, 1, c.Get())
}

func TestRegisterAndDisposeHooks(t *testing.T) {
	var registered, disposed []NodeInfo
	p := NewPipeline(Middleware{
		OnRegister: func(info NodeInfo) { registered = append(registered, info) },
		OnDispose:  func(info NodeInfo) { disposed = append(disposed, info) },
	})

	c := NewCell(0, WithPipeline(p), WithName("c"))
	d := NewComputed(func() int { return c.Get() }, WithPipeline(p))
	require.Len(t, registered, 2)
	assert.Equal(t, KindCell, registered[0].Kind)
	assert.Equal(t, "c", registered[0].Name)
	assert.Equal(t, d.ID(), registered[1].ID)

	c.Close()
	c.Close()
	require.Len(t, disposed, 1)
	assert.Equal(t, c.ID(), disposed[0].ID)
}

func TestGraphChangeHook(t *testing.T) {
	var changes []GraphChange
	p := NewPipeline(Middleware{
		OnGraphChange: func(gc GraphChange) { changes = append(changes, gc) },
	})
	cond := NewCell(true)
	a := NewCell(1)
	b := NewCell(2)
	pick := NewComputed(func() int {
		if cond.Get() {
			return a.Get()
		}
		return b.Get()
	}, WithPipeline(p))

	_ = pick.Get()
	require.Len(t, changes, 1)
	assert.Equal(t, []uint64{cond.ID(), a.ID()}, infoIDs(changes[0].Added))
	assert.Empty(t, changes[0].Removed)

	require.NoError(t, cond.Set(false))
	_ = pick.Get()
	require.Len(t, changes, 2)
	assert.Equal(t, pick.ID(), changes[1].Node.ID)
	assert.Equal(t, []uint64{b.ID()}, infoIDs(changes[1].Added))
	assert.Equal(t, []uint64{a.ID()}, infoIDs(changes[1].Removed))

	// Same dependency set, no event.
	require.NoError(t, b.Set(3))
	_ = pick.Get()
	assert.Len(t, changes, 2)
}

func TestErrorHookReceivesListenerFailures(t *testing.T) {
	SetCaptureStackTraces(true)
	t.Cleanup(func() { SetCaptureStackTraces(false) })

	boom := errors.New("boom")
	var events []ErrorEvent
	p := NewPipeline(Middleware{
		OnError: func(ev ErrorEvent) { events = append(events, ev) },
	})
	c := NewCell(0, WithPipeline(p))
	c.Subscribe(func(Change[int]) error { return boom })

	err := c.Set(1)
	require.ErrorIs(t, err, boom)
	require.Len(t, events, 1)
	assert.Equal(t, c.ID(), events[0].Node.ID)
	assert.ErrorIs(t, events[0].Err, boom)
	assert.NotEmpty(t, events[0].Trace)
}

func TestListenerHooks(t *testing.T) {
	var ops []ListenerOp
	var ids []string
	p := NewPipeline(Middleware{
		OnListener: func(ev ListenerEvent) {
			ops = append(ops, ev.Op)
			ids = append(ids, ev.Context.ID)
		},
	})
	c := NewCell(0, WithPipeline(p))
	sub := c.Subscribe(func(Change[int]) error { return nil },
		WithListenerContext(ListenerContext{Type: "ui", ID: "counter-label"}))

	require.NoError(t, c.Set(1))
	sub.Cancel()
	sub.Cancel()

	assert.Equal(t, []ListenerOp{ListenerAdded, ListenerNotified, ListenerRemoved}, ops)
	assert.Equal(t, []string{"counter-label", "counter-label", "counter-label"}, ids)
	assert.Equal(t, "notify", ListenerNotified.String())
}

func TestDefaultPipelineIsShared(t *testing.T) {
	assert.Same(t, DefaultPipeline(), DefaultPipeline())
	c := NewCell(0)
	assert.Same(t, DefaultPipeline(), c.pipe)
}
