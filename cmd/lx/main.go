package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vango-dev/lx/internal/config"
	"github.com/vango-dev/lx/internal/errors"
	"github.com/vango-dev/lx/pkg/lx"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app holds what the persistent pre-run resolved for the subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "lx",
		Short: "Tools for the lx reactive engine",
		Long: `lx is a reactive dependency-tracking and notification engine for Go.

This command ships tools around it:

  • bench    measure propagation on synthetic graphs
  • inspect  run a demo graph behind the devtools inspector
  • nodes    list the live nodes of a running inspector
  • init     write a default lx.yaml
  • version  print build information`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: lx.yaml found from the working directory)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		benchCmd(a),
		inspectCmd(a),
		nodesCmd(a),
		initCmd(a),
		versionCmd(),
	)
	return rootCmd
}

// setup loads configuration, builds the logger and configures the engine.
func (a *app) setup(stderr io.Writer) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.LoadOrDefault(".")
	}
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	a.cfg = cfg
	a.logger = cfg.NewLogger(stderr)
	lx.Configure(cfg.Engine(a.logger))
	return nil
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}
