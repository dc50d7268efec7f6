package config

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/vango-dev/lx/internal/errors"
	"github.com/vango-dev/lx/pkg/lx"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the preferred name of the configuration file.
	ConfigFileName = "lx.yaml"

	// DefaultAddr is the default devtools listen address.
	DefaultAddr = "127.0.0.1:7070"

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log format.
	DefaultLogFormat = "text"

	// DefaultEventBuffer is the default per-client event queue length.
	DefaultEventBuffer = 256

	// DefaultBenchNodes is the default width of the bench graph.
	DefaultBenchNodes = 1000

	// DefaultBenchWrites is the default number of bench writes.
	DefaultBenchWrites = 10000
)

// fileNames are searched in order.
var fileNames = []string{ConfigFileName, "lx.yml", "lx.json"}

// Environment overrides.
const (
	EnvAddr      = "LX_ADDR"
	EnvLogLevel  = "LX_LOG_LEVEL"
	EnvLogFormat = "LX_LOG_FORMAT"
)

// Config represents the complete lx configuration.
type Config struct {
	// Devtools contains inspector server configuration.
	Devtools DevtoolsConfig `yaml:"devtools" json:"devtools"`

	// Log contains logging configuration.
	Log LogConfig `yaml:"log" json:"log"`

	// Debug contains engine knobs applied with lx.Configure.
	Debug DebugConfig `yaml:"engine" json:"engine"`

	// Bench contains default bench sizes.
	Bench BenchConfig `yaml:"bench" json:"bench"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// DevtoolsConfig contains inspector server settings.
type DevtoolsConfig struct {
	// Addr is the host:port to listen on.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`

	// Metrics exposes /metrics on the devtools server.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// EventBuffer is the per-client event queue length. Events are
	// dropped for clients that fall further behind.
	EventBuffer int `yaml:"eventBuffer,omitempty" json:"eventBuffer,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// Format is text or json.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// DebugConfig contains engine settings.
type DebugConfig struct {
	// CaptureStackTraces records stacks on derivation and listener failures.
	CaptureStackTraces bool `yaml:"captureStackTraces,omitempty" json:"captureStackTraces,omitempty"`

	// Correlation assigns UUIDs to subscriptions without an id.
	Correlation bool `yaml:"correlation,omitempty" json:"correlation,omitempty"`
}

// BenchConfig contains bench defaults.
type BenchConfig struct {
	Nodes  int `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	Writes int `yaml:"writes,omitempty" json:"writes,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{Devtools: DevtoolsConfig{Metrics: true}}
	c.applyDefaults()
	return c
}

// Load reads configuration from the first config file found in dir.
func Load(dir string) (*Config, error) {
	path, ok := find(dir)
	if !ok {
		return nil, errors.New("E102").
			WithDetail("No lx.yaml, lx.yml or lx.json found in " + dir).
			WithSuggestion("Create lx.yaml or run without --config to use defaults")
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the specified file path. The format
// follows the extension; anything but .json is parsed as YAML.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E102").
				WithDetail("No configuration file at " + path)
		}
		return nil, errors.New("E100").Wrap(err)
	}

	cfg := &Config{Devtools: DevtoolsConfig{Metrics: true}}
	if isJSON(path) {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("E100").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
			WithSuggestion("Check the file syntax")
	}

	cfg.configPath = path
	cfg.applyDefaults()
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the config found from dir upwards, or returns the
// defaults with environment overrides applied when there is none.
func LoadOrDefault(dir string) (*Config, error) {
	root, err := FindProjectRoot(dir)
	if err != nil {
		cfg := New()
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, cfg.Validate()
	}
	return Load(root)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return errors.New("E103").Wrap(err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E103").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Devtools.Addr == "" {
		c.Devtools.Addr = DefaultAddr
	}
	if c.Devtools.EventBuffer == 0 {
		c.Devtools.EventBuffer = DefaultEventBuffer
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Bench.Nodes == 0 {
		c.Bench.Nodes = DefaultBenchNodes
	}
	if c.Bench.Writes == 0 {
		c.Bench.Writes = DefaultBenchWrites
	}
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Devtools.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Log.Format = strings.ToLower(v)
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Devtools.Addr); err != nil {
		return errors.New("E101").
			WithDetail("devtools.addr must be host:port, got " + c.Devtools.Addr).
			Wrap(err)
	}
	if _, ok := parseLevel(c.Log.Level); !ok {
		return errors.New("E101").
			WithDetail("log.level must be one of debug, info, warn, error").
			WithSuggestion(`Set "log.level: info" in lx.yaml`)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("E101").
			WithDetail("log.format must be text or json")
	}
	if c.Devtools.EventBuffer < 0 || c.Bench.Nodes < 0 || c.Bench.Writes < 0 {
		return errors.New("E101").
			WithDetail("devtools.eventBuffer and bench sizes must not be negative")
	}
	return nil
}

// SlogLevel returns the configured level. Unknown levels map to info.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

// NewLogger builds a logger writing to w in the configured format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Engine returns the engine settings to pass to lx.Configure.
func (c *Config) Engine(logger *slog.Logger) lx.Config {
	return lx.Config{
		CaptureStackTraces: c.Debug.CaptureStackTraces,
		Correlation:        c.Debug.Correlation,
		Logger:             logger,
	}
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func find(dir string) (string, bool) {
	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, ok := find(dir)
	return ok
}

// FindProjectRoot walks up directories to find the directory containing
// a config file.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E102").
				WithDetail("No lx.yaml found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}
