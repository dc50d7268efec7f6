package middleware

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/lx/pkg/lx"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func newTestMetrics(t *testing.T) (*Metrics, *lx.Pipeline) {
	t.Helper()
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	return m, lx.NewPipeline(m.Middleware())
}

func TestMetrics_NodeLifecycle(t *testing.T) {
	m, pipe := newTestMetrics(t)

	c := lx.NewCell(1, lx.WithPipeline(pipe))
	d := lx.NewComputed(func() int { return c.Get() * 2 }, lx.WithPipeline(pipe))
	_ = d

	if got := metricCounterValue(t, m.nodesCreated.WithLabelValues("cell")); got != 1 {
		t.Fatalf("cells created = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.nodesCreated.WithLabelValues("computed")); got != 1 {
		t.Fatalf("computeds created = %v, want 1", got)
	}

	c.Close()
	if got := metricGaugeValue(t, m.nodesLive.WithLabelValues("cell")); got != 0 {
		t.Fatalf("live cells = %v, want 0", got)
	}
	if got := metricGaugeValue(t, m.nodesLive.WithLabelValues("computed")); got != 1 {
		t.Fatalf("live computeds = %v, want 1", got)
	}
}

func TestMetrics_WritesAndBatches(t *testing.T) {
	m, pipe := newTestMetrics(t)
	c := lx.NewCell(1, lx.WithPipeline(pipe))

	if err := c.Set(2); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	err := lx.Batch(func() error {
		_ = c.Set(3)
		return c.Set(4)
	}, lx.WithPipeline(pipe))
	if err != nil {
		t.Fatalf("Batch() error: %v", err)
	}

	if got := metricCounterValue(t, m.writes.WithLabelValues("cell")); got != 3 {
		t.Fatalf("writes = %v, want 3", got)
	}
	if got := metricCounterValue(t, m.batches.WithLabelValues("success")); got != 1 {
		t.Fatalf("successful batches = %v, want 1", got)
	}
	if got := metricHistogramCount(t, m.batchSize); got != 1 {
		t.Fatalf("batch size samples = %v, want 1", got)
	}
	if got := metricHistogramCount(t, m.batchDuration); got != 1 {
		t.Fatalf("batch duration samples = %v, want 1", got)
	}

	wantErr := errors.New("boom")
	_ = lx.Batch(func() error { return wantErr }, lx.WithPipeline(pipe))
	if got := metricCounterValue(t, m.batches.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed batches = %v, want 1", got)
	}
}

func TestMetrics_WriteErrors(t *testing.T) {
	m, pipe := newTestMetrics(t)
	c := lx.NewCell(1, lx.WithPipeline(pipe))
	c.Close()

	if err := c.Set(2); !errors.Is(err, lx.ErrDisposed) {
		t.Fatalf("Set() on closed cell = %v, want ErrDisposed", err)
	}
	// Closed cells reject writes before the chain runs.
	if got := metricCounterValue(t, m.writes.WithLabelValues("cell")); got != 0 {
		t.Fatalf("writes = %v, want 0", got)
	}
}

func TestMetrics_ListenersGraphAndErrors(t *testing.T) {
	m, pipe := newTestMetrics(t)
	c := lx.NewCell(1, lx.WithPipeline(pipe))
	d := lx.NewComputed(func() int { return c.Get() * 2 }, lx.WithPipeline(pipe))

	sub := d.Subscribe(func(lx.Change[int]) error { return errors.New("listener failed") })
	if got := metricGaugeValue(t, m.listenersActive); got != 1 {
		t.Fatalf("active listeners = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.graphChanges); got != 1 {
		t.Fatalf("graph changes = %v, want 1", got)
	}

	if err := c.Set(5); err == nil {
		t.Fatal("expected listener error from Set()")
	}
	if got := metricCounterValue(t, m.listenerEvents.WithLabelValues("notify")); got != 1 {
		t.Fatalf("notifications = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.errors.WithLabelValues("computed", "listener")); got != 1 {
		t.Fatalf("listener errors = %v, want 1", got)
	}

	sub.Cancel()
	if got := metricGaugeValue(t, m.listenersActive); got != 0 {
		t.Fatalf("active listeners after cancel = %v, want 0", got)
	}
}

func TestPrometheus_SharesGlobalMetrics(t *testing.T) {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
	t.Cleanup(func() {
		globalMetricsMu.Lock()
		globalMetrics = nil
		globalMetricsMu.Unlock()
	})

	reg := prometheus.NewRegistry()
	first := Prometheus(WithRegistry(reg))
	// A second call must not register the collectors again.
	second := Prometheus(WithRegistry(reg))
	if first.Name != "prometheus" || second.Name != "prometheus" {
		t.Fatalf("unexpected middleware names %q, %q", first.Name, second.Name)
	}

	first.OnRegister(lx.NodeInfo{ID: 1, Kind: lx.KindCell})
	second.OnRegister(lx.NodeInfo{ID: 2, Kind: lx.KindCell})
	if got := metricCounterValue(t, globalMetrics.nodesCreated.WithLabelValues("cell")); got != 2 {
		t.Fatalf("cells created = %v, want 2", got)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&lx.NodeError{Op: "compute", Err: lx.ErrCycle}, "cycle"},
		{lx.ErrDisposed, "disposed"},
		{&lx.DerivationError{Err: errors.New("x")}, "derivation"},
		{&lx.DerivationError{Err: errors.New("x"), Panic: "x"}, "panic"},
		{&lx.ListenerError{Err: errors.New("x")}, "listener"},
		{errors.New("other"), "internal"},
	}
	for _, tt := range tests {
		if got := categorizeError(tt.err); got != tt.want {
			t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
