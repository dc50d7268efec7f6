// Package devtools implements the lx graph inspector.
//
// A Registry is installed as middleware on a pipeline and keeps a live
// picture of the graph: nodes, dependency edges, listener counts and
// write totals. A Server exposes that picture over HTTP:
//
//	GET /nodes        JSON list of live nodes
//	GET /nodes/{id}   one node with its dependencies and dependents
//	GET /graph.dot    Graphviz rendering of the graph
//	GET /events       websocket stream of pipeline events
//	GET /metrics      Prometheus metrics, when a gatherer is configured
//
// Usage:
//
//	reg := devtools.NewRegistry()
//	lx.DefaultPipeline().Use(reg.Middleware())
//	srv := devtools.NewServer(reg, devtools.WithLogger(logger))
//	go srv.ListenAndServe(ctx, "127.0.0.1:7070")
package devtools
