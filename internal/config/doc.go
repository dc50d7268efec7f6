// Package config provides configuration parsing for the lx command.
//
// The configuration is stored in lx.yaml (or lx.yml / lx.json) in the
// working directory or one of its parents.
//
// # Configuration File Structure
//
//	devtools:
//	  addr: 127.0.0.1:7070
//	  metrics: true
//	  eventBuffer: 256
//	log:
//	  level: info
//	  format: text
//	engine:
//	  captureStackTraces: false
//	  correlation: true
//	bench:
//	  nodes: 1000
//	  writes: 10000
//
// LX_ADDR, LX_LOG_LEVEL and LX_LOG_FORMAT override the file.
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	lx.Configure(cfg.Engine(cfg.NewLogger(os.Stderr)))
package config
