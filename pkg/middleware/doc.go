// Package middleware provides production middleware for lx pipelines.
//
// This package includes:
//   - Prometheus metrics for nodes, writes, batches and listeners
//   - OpenTelemetry tracing of batches and writes
//   - Structured logging through log/slog
//
// Each constructor returns an lx.Middleware value that is installed on a
// pipeline:
//
//	lx.DefaultPipeline().Use(
//	    middleware.Logging(slog.Default()),
//	    middleware.Prometheus(),
//	    middleware.OpenTelemetry(),
//	)
//
// # Prometheus Metrics
//
// Prometheus uses one process-wide Metrics registered on the default
// registerer. Use NewMetrics with WithRegistry to keep collectors apart:
//
//	reg := prometheus.NewRegistry()
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//	pipe := lx.NewPipeline(m.Middleware())
//
// Then expose metrics:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # OpenTelemetry
//
// Batches must run on the pipeline carrying the tracing middleware for
// their spans to be created:
//
//	lx.Batch(fn, lx.WithPipeline(pipe))
package middleware
