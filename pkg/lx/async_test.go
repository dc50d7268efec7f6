package lx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAsyncDelayedValue(t *testing.T) {
	a := NewAsync(func(ctx context.Context) (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 42, nil
	})

	st := a.Get()
	assert.True(t, st.IsWaiting())
	_, hasLast := st.LastValue()
	assert.False(t, hasLast)

	v, err := a.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	st = a.Get()
	require.True(t, st.IsSuccess())
	assert.Equal(t, 42, st.Must())
	assert.Equal(t, KindAsync, a.Kind())
}

func TestAsyncStaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	commits := make(chan struct{}, 4)
	var calls atomic.Int32
	var slowErr error

	// The key runs synchronously, so it numbers the runs in start order.
	a := NewAsyncKeyed(func() int32 { return calls.Add(1) }, func(ctx context.Context, run int32) (string, error) {
		if run == 1 {
			<-release
			slowErr = ctx.Err()
			return "slow", nil
		}
		return "fast", nil
	}, WithDispatcher(func(commit func()) {
		commit()
		commits <- struct{}{}
	}))

	a.Refresh()
	<-commits
	v, ok := a.Peek().Value()
	require.True(t, ok)
	assert.Equal(t, "fast", v)

	close(release)
	<-commits
	v, ok = a.Peek().Value()
	require.True(t, ok)
	assert.Equal(t, "fast", v, "the superseded run must not overwrite the newer result")
	assert.ErrorIs(t, slowErr, context.Canceled)
}

func TestAsyncRestartsOnDependencyChange(t *testing.T) {
	id := NewCell(1)
	var mu sync.Mutex
	var seen []Status[int]
	a := NewAsync(func(ctx context.Context) (int, error) {
		return id.Get() * 10, nil
	}, Lazy())
	a.Subscribe(func(c Change[Status[int]]) error {
		mu.Lock()
		seen = append(seen, c.New)
		mu.Unlock()
		return nil
	})

	v, err := a.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, id.Set(2))
	v, err = a.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen[0].IsWaiting())
	assert.Equal(t, 10, seen[1].Must())
	assert.True(t, seen[2].IsWaiting())
	last, ok := seen[2].LastValue()
	assert.True(t, ok, "waiting carries the last value")
	assert.Equal(t, 10, last)
	assert.Equal(t, 20, seen[3].Must())
}

func TestAsyncKeyedSkipsEqualKey(t *testing.T) {
	type user struct {
		ID   int
		Name string
	}
	current := NewCell(user{ID: 1, Name: "ada"})
	var fetches atomic.Int32
	profile := NewAsyncKeyed(func() int { return current.Get().ID },
		func(ctx context.Context, id int) (string, error) {
			fetches.Add(1)
			return fmt.Sprintf("profile-%d", id), nil
		})

	v, err := profile.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "profile-1", v)

	require.NoError(t, current.Set(user{ID: 1, Name: "grace"}))
	assert.True(t, profile.Peek().IsSuccess(), "an equal key keeps the current result")
	assert.Equal(t, int32(1), fetches.Load())

	require.NoError(t, current.Set(user{ID: 2, Name: "grace"}))
	v, err = profile.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "profile-2", v)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestAsyncLazy(t *testing.T) {
	var calls atomic.Int32
	a := NewAsync(func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 7, nil
	}, Lazy())

	assert.True(t, a.Peek().IsIdle())
	assert.Equal(t, int32(0), calls.Load())

	_, err := a.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.True(t, a.Peek().IsIdle())
	assert.Equal(t, int32(0), calls.Load())

	assert.False(t, a.Get().IsIdle())
	v, err := a.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAsyncErrorKeepsLastValue(t *testing.T) {
	boom := errors.New("boom")
	fail := NewCell(false)
	a := NewAsync(func(ctx context.Context) (int, error) {
		if fail.Get() {
			return 0, boom
		}
		return 1, nil
	})

	_, err := a.Wait(waitCtx(t))
	require.NoError(t, err)

	require.NoError(t, fail.Set(true))
	_, err = a.Wait(waitCtx(t))
	require.ErrorIs(t, err, boom)
	var derr *DerivationError
	require.ErrorAs(t, err, &derr)

	st := a.Peek()
	require.True(t, st.IsError())
	last, ok := st.LastValue()
	assert.True(t, ok)
	assert.Equal(t, 1, last)
}

func TestAsyncPanicBecomesError(t *testing.T) {
	a := NewAsync(func(ctx context.Context) (int, error) {
		panic("fetch exploded")
	})
	_, err := a.Wait(waitCtx(t))
	var derr *DerivationError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "fetch exploded", derr.Panic)
	assert.True(t, a.Peek().IsError())
}

func TestAsyncCommitSupersedesInFlightRun(t *testing.T) {
	timeout := errors.New("timed out")
	release := make(chan struct{})
	commits := make(chan struct{}, 2)
	a := NewAsync(func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}, WithDispatcher(func(commit func()) {
		commit()
		commits <- struct{}{}
	}))

	require.NoError(t, a.Commit(Failed[int](timeout)))
	_, err := a.Wait(waitCtx(t))
	assert.ErrorIs(t, err, timeout)

	close(release)
	<-commits
	assert.ErrorIs(t, a.Peek().Err(), timeout)
}

func TestAsyncWaitOnIdle(t *testing.T) {
	a := NewAsync(func(ctx context.Context) (int, error) { return 3, nil })
	_, err := a.Wait(waitCtx(t))
	require.NoError(t, err)

	require.NoError(t, a.Commit(Idle[int]()))
	_, err = a.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrNotAvailable)

	require.NoError(t, a.Commit(IdleWith(5)))
	v, err := a.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestAsyncRepeatedFailuresNotify(t *testing.T) {
	a := NewAsync(func(ctx context.Context) (int, error) { return 1, nil })
	_, err := a.Wait(waitCtx(t))
	require.NoError(t, err)

	var seen []error
	a.Subscribe(func(c Change[Status[int]]) error {
		seen = append(seen, c.New.Err())
		return nil
	})

	first, second := errors.New("unavailable"), errors.New("unavailable")
	require.NoError(t, a.Commit(Failed[int](first)))
	require.NoError(t, a.Commit(Failed[int](second)))
	require.NoError(t, a.Commit(Failed[int](second)))
	require.Len(t, seen, 2)
	assert.Same(t, first, seen[0])
	assert.Same(t, second, seen[1])
}

func TestAsyncWaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	a := NewAsync(func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAsyncClose(t *testing.T) {
	release := make(chan struct{})
	commits := make(chan struct{}, 1)
	a := NewAsync(func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}, WithDispatcher(func(commit func()) {
		commit()
		commits <- struct{}{}
	}))

	a.Close()
	a.Close()
	_, err := a.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrDisposed)

	close(release)
	<-commits
	assert.True(t, a.Peek().IsWaiting(), "results after close are discarded")
	assert.True(t, a.Get().IsWaiting(), "Get after close keeps the final status")
	_, err = a.TryGet()
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, a.Commit(Success(2)), ErrDisposed)
}

func TestAsyncRetry(t *testing.T) {
	var calls atomic.Int32
	a := NewAsync(func(ctx context.Context) (int, error) {
		if calls.Add(1) < 3 {
			return 0, errors.New("flaky")
		}
		return 9, nil
	}, WithRetry(2, time.Millisecond))

	v, err := a.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComputedOverAsync(t *testing.T) {
	a := NewAsync(func(ctx context.Context) (int, error) { return 42, nil })
	label := NewComputed(func() string {
		return Match(a.Get(),
			OnPending(func(int, bool) string { return "loading" }),
			OnSuccess(func(v int) string { return fmt.Sprint(v) }),
		)
	})

	_, err := a.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return label.Get() == "42" }, time.Second, time.Millisecond)
}
