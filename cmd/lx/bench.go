package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vango-dev/lx/internal/errors"
	"github.com/vango-dev/lx/pkg/lx"
	"github.com/vango-dev/lx/pkg/middleware"
)

type benchResult struct {
	Scenario      string
	Nodes         int
	Writes        int
	Evaluations   int64
	Notifications int64
	Duration      time.Duration
}

func (r benchResult) perWrite() time.Duration {
	if r.Writes == 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Writes)
}

// counters are shared by a scenario's derivations and listeners.
type counters struct {
	evals   atomic.Int64
	notifies atomic.Int64
}

type scenario struct {
	name string
	desc string
	run  func(pipe *lx.Pipeline, nodes, writes int, c *counters) (int, error)
}

var scenarios = []scenario{
	{
		name: "diamond",
		desc: "one cell, N middle computeds, one sink with a listener",
		run:  runDiamond,
	},
	{
		name: "fanout",
		desc: "one cell, N computeds with a listener each, batched writes",
		run:  runFanout,
	},
	{
		name: "batch",
		desc: "N cells summed by one listened computed, every cell written per batch",
		run:  runBatchStorm,
	},
}

func lookupScenario(name string) (scenario, bool) {
	i := slices.IndexFunc(scenarios, func(s scenario) bool { return s.name == name })
	if i < 0 {
		return scenario{}, false
	}
	return scenarios[i], true
}

func benchCmd(a *app) *cobra.Command {
	var (
		nodes  int
		writes int
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "bench [scenario...]",
		Short: "Benchmark propagation on synthetic graphs",
		Long: `Build synthetic graphs and measure how writes propagate.

Each scenario runs on a private pipeline with Prometheus metrics on a
private registry. Results are logged and printed as a table.

Examples:
  lx bench
  lx bench diamond --nodes=5000
  lx bench --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				for _, s := range scenarios {
					info(out, "%-8s %s", s.name, s.desc)
				}
				return nil
			}
			if nodes == 0 {
				nodes = a.cfg.Bench.Nodes
			}
			if writes == 0 {
				writes = a.cfg.Bench.Writes
			}
			if nodes < 1 || writes < 1 {
				return errors.New("E200").WithDetail("--nodes and --writes must be positive")
			}

			selected := scenarios
			if len(args) > 0 {
				selected = nil
				for _, name := range args {
					s, ok := lookupScenario(name)
					if !ok {
						return errors.New("E201").
							WithDetail(fmt.Sprintf("No scenario named %q", name)).
							WithSuggestion("Run 'lx bench --list'")
					}
					selected = append(selected, s)
				}
			}

			results := make([]benchResult, 0, len(selected))
			for _, s := range selected {
				r, err := runScenario(s, nodes, writes, a.logger)
				if err != nil {
					return err
				}
				results = append(results, r)
			}
			printResults(out, results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&nodes, "nodes", "n", 0, "Graph width (default from config)")
	cmd.Flags().IntVarP(&writes, "writes", "w", 0, "Number of writes (default from config)")
	cmd.Flags().BoolVar(&list, "list", false, "List scenarios")

	return cmd
}

func runScenario(s scenario, nodes, writes int, logger *slog.Logger) (benchResult, error) {
	metrics := middleware.NewMetrics(middleware.WithRegistry(prometheus.NewRegistry()))
	pipe := lx.NewPipeline(metrics.Middleware())

	var c counters
	start := time.Now()
	done, err := s.run(pipe, nodes, writes, &c)
	r := benchResult{
		Scenario:      s.name,
		Nodes:         nodes,
		Writes:        done,
		Evaluations:   c.evals.Load(),
		Notifications: c.notifies.Load(),
		Duration:      time.Since(start),
	}
	if err != nil {
		return r, fmt.Errorf("bench %s: %w", s.name, err)
	}
	logger.Info("bench finished",
		"scenario", r.Scenario,
		"nodes", r.Nodes,
		"writes", r.Writes,
		"evaluations", r.Evaluations,
		"notifications", r.Notifications,
		"duration", r.Duration,
		"per_write", r.perWrite(),
	)
	return r, nil
}

func runDiamond(pipe *lx.Pipeline, nodes, writes int, c *counters) (int, error) {
	src := lx.NewCell(0, lx.WithPipeline(pipe))
	mids := make([]*lx.Computed[int], nodes)
	for i := range mids {
		mids[i] = lx.NewComputed(func() int {
			c.evals.Add(1)
			return src.Get() + i
		}, lx.WithPipeline(pipe))
	}
	sink := lx.NewComputed(func() int {
		c.evals.Add(1)
		sum := 0
		for _, m := range mids {
			sum += m.Get()
		}
		return sum
	}, lx.WithPipeline(pipe))
	sub := sink.Watch(func() error {
		c.notifies.Add(1)
		return nil
	})
	defer sub.Cancel()

	for i := 1; i <= writes; i++ {
		if err := src.Set(i); err != nil {
			return i - 1, err
		}
	}
	return writes, nil
}

func runFanout(pipe *lx.Pipeline, nodes, writes int, c *counters) (int, error) {
	src := lx.NewCell(0, lx.WithPipeline(pipe))
	subs := make([]*lx.Subscription, 0, nodes)
	for i := 0; i < nodes; i++ {
		d := lx.NewComputed(func() int {
			c.evals.Add(1)
			return src.Get() + i
		}, lx.WithPipeline(pipe))
		subs = append(subs, d.Watch(func() error {
			c.notifies.Add(1)
			return nil
		}))
	}
	defer func() {
		for _, s := range subs {
			s.Cancel()
		}
	}()

	const perBatch = 10
	done := 0
	for done < writes {
		n := min(perBatch, writes-done)
		err := lx.Batch(func() error {
			for j := 0; j < n; j++ {
				if err := lx.Inc(src); err != nil {
					return err
				}
			}
			return nil
		}, lx.WithPipeline(pipe))
		if err != nil {
			return done, err
		}
		done += n
	}
	return done, nil
}

func runBatchStorm(pipe *lx.Pipeline, nodes, writes int, c *counters) (int, error) {
	cells := make([]*lx.Cell[int], nodes)
	for i := range cells {
		cells[i] = lx.NewCell(0, lx.WithPipeline(pipe))
	}
	total := lx.NewComputed(func() int {
		c.evals.Add(1)
		sum := 0
		for _, cell := range cells {
			sum += cell.Get()
		}
		return sum
	}, lx.WithPipeline(pipe))
	sub := total.Watch(func() error {
		c.notifies.Add(1)
		return nil
	})
	defer sub.Cancel()

	rounds := max(1, writes/nodes)
	for r := 1; r <= rounds; r++ {
		err := lx.Batch(func() error {
			for _, cell := range cells {
				if err := cell.Set(r); err != nil {
					return err
				}
			}
			return nil
		}, lx.WithPipeline(pipe))
		if err != nil {
			return (r - 1) * nodes, err
		}
	}
	return rounds * nodes, nil
}

func printResults(w io.Writer, results []benchResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join([]string{"SCENARIO", "NODES", "WRITES", "EVALS", "NOTIFY", "TIME", "PER WRITE"}, "\t"))
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Scenario, r.Nodes, r.Writes, r.Evaluations, r.Notifications,
			r.Duration.Round(time.Microsecond), r.perWrite())
	}
	tw.Flush()
}
