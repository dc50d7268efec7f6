package lx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusVariants(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		status   Status[int]
		kind     StatusKind
		terminal bool
		str      string
	}{
		{"idle", Idle[int](), StatusIdle, false, "idle"},
		{"idle with last", IdleWith(1), StatusIdle, false, "idle(last: 1)"},
		{"waiting", Waiting[int](), StatusWaiting, false, "waiting"},
		{"waiting with last", WaitingWith(2), StatusWaiting, false, "waiting(last: 2)"},
		{"success", Success(3), StatusSuccess, true, "success(3)"},
		{"error", Failed[int](boom), StatusError, true, "error(boom)"},
		{"error with last", FailedWith(boom, 4), StatusError, true, "error(boom, last: 4)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.status.Kind())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.str, tt.status.String())
		})
	}
}

func TestStatusAccessors(t *testing.T) {
	boom := errors.New("boom")

	v, ok := Success(5).Value()
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	_, ok = Success(5).LastValue()
	assert.False(t, ok)

	last, ok := WaitingWith(7).LastValue()
	assert.True(t, ok)
	assert.Equal(t, 7, last)

	latest, ok := FailedWith(boom, 8).Latest()
	assert.True(t, ok)
	assert.Equal(t, 8, latest)

	assert.Equal(t, 9, Failed[int](boom).ValueOr(9))
	assert.Equal(t, boom, Failed[int](boom).Err())
}

func TestStatusUnwrapAndMust(t *testing.T) {
	boom := errors.New("boom")

	v, err := Success("ok").Unwrap()
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = Failed[string](boom).Unwrap()
	assert.ErrorIs(t, err, boom)

	_, err = Waiting[string]().Unwrap()
	assert.ErrorIs(t, err, ErrNotAvailable)

	assert.Equal(t, "ok", Success("ok").Must())
	assert.PanicsWithError(t, "boom", func() { Failed[string](boom).Must() })
}

func TestStatusTraceOnlyOnErrors(t *testing.T) {
	trace := []byte("goroutine 1 [running]")
	assert.Equal(t, trace, Failed[int](errors.New("x")).WithTrace(trace).Trace())
	assert.Nil(t, Success(1).WithTrace(trace).Trace())
	assert.False(t, Success(1).WithLast(2).IsError())
}

func TestStatusEquals(t *testing.T) {
	boom := errors.New("boom")
	assert.True(t, statusEquals(WaitingWith(1), WaitingWith(1)))
	assert.False(t, statusEquals(WaitingWith(1), WaitingWith(2)))
	assert.False(t, statusEquals(Waiting[int](), WaitingWith(0)))
	assert.False(t, statusEquals(Success(1), WaitingWith(1)))
	assert.True(t, statusEquals(Failed[int](boom), Failed[int](boom)))
	assert.False(t, statusEquals(Failed[int](errors.New("boom")), Failed[int](errors.New("boom"))))
	assert.True(t, statusEquals(Failed[int](fmt.Errorf("wrapped: %w", boom)), Failed[int](boom)))
	assert.True(t, statusEquals(Idle[int](), Idle[int]()))
}

func TestMatch(t *testing.T) {
	label := func(s Status[int]) string {
		return Match(s,
			OnIdle(func(int, bool) string { return "idle" }),
			OnWaiting(func(last int, ok bool) string {
				if ok {
					return "refreshing"
				}
				return "loading"
			}),
			OnSuccess(func(v int) string { return "value" }),
			OnError(func(err error, last int, ok bool) string { return "failed: " + err.Error() }),
		)
	}

	assert.Equal(t, "idle", label(Idle[int]()))
	assert.Equal(t, "loading", label(Waiting[int]()))
	assert.Equal(t, "refreshing", label(WaitingWith(1)))
	assert.Equal(t, "value", label(Success(1)))
	assert.Equal(t, "failed: boom", label(Failed[int](errors.New("boom"))))

	pending := Match(Idle[int](), OnPending(func(int, bool) string { return "pending" }))
	assert.Equal(t, "pending", pending)
	assert.Equal(t, "", Match(Success(1), OnPending(func(int, bool) string { return "pending" })))
}
