package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vango-dev/lx/internal/devtools"
	"github.com/vango-dev/lx/pkg/lx"
	"github.com/vango-dev/lx/pkg/middleware"
)

func inspectCmd(a *app) *cobra.Command {
	var (
		addr string
		tick time.Duration
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Serve a demo graph behind the devtools inspector",
		Long: `Run a small live graph and serve it through the devtools inspector.

A counter ticks on an interval; derived values, a filtered history list
and a simulated async fetch follow it. Open /graph.dot or stream /events
to watch propagation.

Examples:
  lx inspect
  lx inspect --addr=127.0.0.1:9000 --tick=250ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Devtools.Addr = addr
			}
			if tick <= 0 {
				tick = time.Second
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runInspect(ctx, a, tick)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().DurationVarP(&tick, "tick", "t", time.Second, "Counter tick interval")

	return cmd
}

func runInspect(ctx context.Context, a *app, tick time.Duration) error {
	reg := devtools.NewRegistry(devtools.WithValues(true))
	mws := []lx.Middleware{reg.Middleware(), middleware.Logging(a.logger)}
	opts := []devtools.ServerOption{
		devtools.WithLogger(a.logger),
		devtools.WithEventBuffer(a.cfg.Devtools.EventBuffer),
	}
	if a.cfg.Devtools.Metrics {
		promReg := prometheus.NewRegistry()
		mws = append(mws, middleware.NewMetrics(middleware.WithRegistry(promReg)).Middleware())
		opts = append(opts, devtools.WithGatherer(promReg))
	}
	pipe := lx.NewPipeline(mws...)

	d := newDemo(pipe)
	defer d.close()

	srv := devtools.NewServer(reg, opts...)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx, a.cfg.Devtools.Addr) }()

	out := os.Stdout
	success(out, "Inspecting %d nodes", len(reg.Nodes()))
	info(out, "http://%s/nodes", a.cfg.Devtools.Addr)
	info(out, "http://%s/graph.dot", a.cfg.Devtools.Addr)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case err := <-errc:
			return err
		case <-ticker.C:
			if err := d.tick(); err != nil {
				a.logger.Warn("demo tick failed", "error", err)
			}
		case <-ctx.Done():
			return <-errc
		}
	}
}

// demo is the graph served by inspect.
type demo struct {
	pipe    *lx.Pipeline
	count   *lx.Cell[int]
	history *lx.List[int]
	seen    *lx.Set[string]
	doubled *lx.Computed[int]
	parity  *lx.Computed[string]
	label   *lx.Computed[string]
	fetch   *lx.Async[string]
	subs    []*lx.Subscription
}

func newDemo(pipe *lx.Pipeline) *demo {
	on := lx.WithPipeline(pipe)
	d := &demo{
		pipe:    pipe,
		count:   lx.NewCell(0, on, lx.WithName("count")),
		history: lx.NewList[int](nil, on, lx.WithName("history")),
		seen:    lx.NewSet[string](nil, on, lx.WithName("seen")),
	}
	d.doubled = lx.NewComputed(func() int { return d.count.Get() * 2 }, on, lx.WithName("doubled"))
	d.parity = lx.Select[int](d.count, func(n int) string {
		if n%2 == 0 {
			return "even"
		}
		return "odd"
	}, on, lx.WithName("parity"))
	d.label = lx.NewComputed(func() string {
		return fmt.Sprintf("%d is %s (x2 = %d, %d remembered)", d.count.Get(), d.parity.Get(), d.doubled.Get(), d.history.Len())
	}, on, lx.WithName("label"))
	d.fetch = lx.NewAsyncKeyed(func() int { return d.count.Get() / 5 }, func(ctx context.Context, bucket int) (string, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return "bucket " + strconv.Itoa(bucket), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}, on, lx.WithName("fetch"))

	d.subs = append(d.subs,
		d.label.Subscribe(func(c lx.Change[string]) error {
			lx.Logger().Debug("demo label", "label", c.New)
			return nil
		}, lx.WithListenerContext(lx.ListenerContext{Type: "demo"})),
		d.parity.Watch(func() error {
			return d.seen.Add(d.parity.Peek())
		}),
		d.fetch.Subscribe(func(c lx.Change[lx.Status[string]]) error {
			lx.Logger().Debug("demo fetch", "status", c.New.String())
			return nil
		}),
	)
	return d
}

// tick advances the counter and records it, keeping the last ten.
func (d *demo) tick() error {
	return lx.Batch(func() error {
		if err := lx.Inc(d.count); err != nil {
			return err
		}
		if err := d.history.Append(d.count.Peek()); err != nil {
			return err
		}
		if len(d.history.Peek()) > 10 {
			return d.history.RemoveAt(0)
		}
		return nil
	}, lx.WithPipeline(d.pipe), lx.WithName("tick"))
}

func (d *demo) close() {
	for _, s := range d.subs {
		s.Cancel()
	}
	for _, n := range []lx.Node{d.fetch, d.label, d.parity, d.doubled, d.seen, d.history, d.count} {
		n.Close()
	}
}
