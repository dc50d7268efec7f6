package lx

import (
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// Config holds the process-wide engine knobs. The zero value is the
// default: no stack traces, no correlation ids, slog.Default().
type Config struct {
	// CaptureStackTraces records a stack trace for derivation and listener
	// failures. Off by default because debug.Stack is expensive.
	CaptureStackTraces bool

	// Correlation assigns a UUIDv7 to listener contexts created without an
	// explicit ID, so middleware can correlate add, notify and remove.
	Correlation bool

	// Logger receives the engine's own diagnostics.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

var (
	captureTraces atomic.Bool
	correlation   atomic.Bool
	logger        atomic.Pointer[slog.Logger]
)

// Configure applies cfg to every knob at once.
func Configure(cfg Config) {
	captureTraces.Store(cfg.CaptureStackTraces)
	correlation.Store(cfg.Correlation)
	logger.Store(cfg.Logger)
}

// SetCaptureStackTraces toggles stack capture for failures.
func SetCaptureStackTraces(on bool) { captureTraces.Store(on) }

// CaptureStackTraces reports whether stack capture is enabled.
func CaptureStackTraces() bool { return captureTraces.Load() }

// SetCorrelation toggles automatic correlation ids on listener contexts.
func SetCorrelation(on bool) { correlation.Store(on) }

// Correlation reports whether correlation ids are assigned.
func Correlation() bool { return correlation.Load() }

// SetLogger replaces the engine logger. Passing nil restores slog.Default().
func SetLogger(l *slog.Logger) { logger.Store(l) }

// Logger returns the engine logger.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func captureTrace() []byte {
	if !captureTraces.Load() {
		return nil
	}
	return debug.Stack()
}
