package middleware

import (
	"context"
	"log/slog"

	"github.com/vango-dev/lx/pkg/lx"
)

// LoggingConfig configures the logging middleware.
type LoggingConfig struct {
	// Level is the level for node lifecycle, write and batch records
	// (default: slog.LevelDebug). Failures are always logged at error level.
	Level slog.Level

	// IncludeValues logs old and new values of writes.
	IncludeValues bool

	// Listeners logs listener additions, removals and notifications.
	Listeners bool
}

// LoggingOption configures the logging middleware.
type LoggingOption func(*LoggingConfig)

// WithLogLevel sets the level of non-failure records.
func WithLogLevel(level slog.Level) LoggingOption {
	return func(c *LoggingConfig) {
		c.Level = level
	}
}

// WithLogValues enables logging written values.
func WithLogValues(include bool) LoggingOption {
	return func(c *LoggingConfig) {
		c.IncludeValues = include
	}
}

// WithLogListeners enables listener records.
func WithLogListeners(include bool) LoggingOption {
	return func(c *LoggingConfig) {
		c.Listeners = include
	}
}

// Logging returns middleware that writes graph activity to logger. A nil
// logger uses lx.Logger().
func Logging(logger *slog.Logger, opts ...LoggingOption) lx.Middleware {
	config := LoggingConfig{Level: slog.LevelDebug}
	for _, opt := range opts {
		opt(&config)
	}
	if logger == nil {
		logger = lx.Logger()
	}
	ctx := context.Background()
	level := config.Level

	mw := lx.Middleware{
		Name: "logging",
		OnRegister: func(info lx.NodeInfo) {
			logger.Log(ctx, level, "lx: node registered", "node", info.String())
		},
		OnDispose: func(info lx.NodeInfo) {
			logger.Log(ctx, level, "lx: node disposed", "node", info.String())
		},
		WrapWrite: func(next lx.WriteFunc) lx.WriteFunc {
			return func(ev *lx.WriteEvent) error {
				err := next(ev)
				attrs := []any{"node", ev.Node.String(), "batch", ev.BatchID}
				if config.IncludeValues {
					attrs = append(attrs, "old", ev.Old, "new", ev.New)
				}
				if err != nil {
					logger.Error("lx: write failed", append(attrs, "error", err)...)
					return err
				}
				logger.Log(ctx, level, "lx: write", attrs...)
				return nil
			}
		},
		OnBatchStart: func(info lx.BatchInfo) {
			logger.Log(ctx, level, "lx: batch start", "batch", batchLabel(info), "async", info.Async)
		},
		OnBatchEnd: func(info lx.BatchInfo, err error) {
			if err != nil {
				logger.Error("lx: batch failed", "batch", batchLabel(info), "size", info.Size, "error", err)
				return
			}
			logger.Log(ctx, level, "lx: batch end", "batch", batchLabel(info), "size", info.Size)
		},
		OnGraphChange: func(gc lx.GraphChange) {
			logger.Log(ctx, level, "lx: dependencies changed",
				"node", gc.Node.String(),
				"added", infoStrings(gc.Added),
				"removed", infoStrings(gc.Removed),
			)
		},
		OnError: func(ev lx.ErrorEvent) {
			logger.Error("lx: node error", "node", ev.Node.String(), "error", ev.Err)
		},
	}
	if config.Listeners {
		mw.OnListener = func(ev lx.ListenerEvent) {
			logger.Log(ctx, level, "lx: listener "+ev.Op.String(),
				"node", ev.Node.String(),
				"context", ev.Context.Type,
			)
		}
	}
	return mw
}

func infoStrings(infos []lx.NodeInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.String()
	}
	return out
}
