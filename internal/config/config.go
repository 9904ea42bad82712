// Package config provides configuration management for tdaemon.
//
// Configuration is loaded from three sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (TDAEMON_ prefix)
//  3. Config file (.tdaemon.yaml)
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/hupe1980/tdaemon/internal/ignore"
	"github.com/hupe1980/tdaemon/internal/version"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Supported fingerprint modes.
const (
	FingerprintStat = "stat"
	FingerprintHash = "hash"
)

// Watch defaults.
const (
	DefaultInterval      = time.Second
	DefaultMaxSize       = "25Mi"
	DefaultHotLimit      = 20
	DefaultFullScanEvery = 1
)

// Config represents the global configuration for tdaemon.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet"`

	// Verbose is the -V count. 1 lists changed paths, 2 adds scan
	// statistics, manifest diffs and debug logging.
	Verbose int `mapstructure:"verbose" json:"verbose"`

	// Path is the watch root.
	Path string `mapstructure:"path" json:"path"`

	// Ignore is the comma-separated list of extra ignore patterns.
	Ignore string `mapstructure:"ignore" json:"ignore"`

	// IgnoreSyntax selects glob or gitignore pattern semantics.
	IgnoreSyntax string `mapstructure:"ignore-syntax" json:"ignoreSyntax"`

	// NoGitignore skips reading .gitignore from the watch root.
	NoGitignore bool `mapstructure:"no-gitignore" json:"noGitignore"`

	// Interval is the poll cadence.
	Interval time.Duration `mapstructure:"interval" json:"interval"`

	// MaxSize is the watched-volume threshold as a quantity ("25Mi",
	// "100M", "0" to disable).
	MaxSize string `mapstructure:"max-size" json:"maxSize"`

	// Fingerprint selects stat (size + mtime) or hash (size + SHA-256).
	Fingerprint string `mapstructure:"fingerprint" json:"fingerprint"`

	// FullScanEvery makes every Nth poll a full scan; the others refresh
	// only hot paths. 1 means every poll is a full scan.
	FullScanEvery int `mapstructure:"full-scan-every" json:"fullScanEvery"`

	// HotLimit caps the number of tracked hot paths.
	HotLimit int `mapstructure:"hot-limit" json:"hotLimit"`

	// StateFile is where hot paths persist between sessions. Relative
	// paths resolve against the watch root; empty disables persistence.
	StateFile string `mapstructure:"state-file" json:"stateFile"`

	// Notify enables filesystem notifications as early wake-ups.
	Notify bool `mapstructure:"notify" json:"notify"`

	// Workdir is the command's working directory. Empty means the
	// directory tdaemon was started from.
	Workdir string `mapstructure:"workdir" json:"workdir"`

	// RerunOnChange compares the next poll against the tree as it was
	// before the command ran, so files saved during a run trigger another.
	RerunOnChange bool `mapstructure:"rerun-on-change" json:"rerunOnChange"`

	// Yes answers the large-tree confirmation automatically.
	Yes bool `mapstructure:"yes" json:"yes"`

	// RequireVersion is an optional semver constraint the running binary
	// must satisfy (config file only).
	RequireVersion string `mapstructure:"require-version" json:"requireVersion"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load(); never read from the config itself.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:      LogLevelInfo,
		LogFormat:     LogFormatText,
		Path:          ".",
		IgnoreSyntax:  string(ignore.SyntaxGlob),
		Interval:      DefaultInterval,
		MaxSize:       DefaultMaxSize,
		Fingerprint:   FingerprintStat,
		FullScanEvery: DefaultFullScanEvery,
		HotLimit:      DefaultHotLimit,
		StateFile:     ignore.StateFileName,
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	switch c.Fingerprint {
	case FingerprintStat, FingerprintHash:
		// valid
	default:
		return fmt.Errorf("invalid fingerprint %q: must be one of stat, hash", c.Fingerprint)
	}

	switch ignore.Syntax(c.IgnoreSyntax) {
	case ignore.SyntaxGlob, ignore.SyntaxGitignore:
		// valid
	default:
		return fmt.Errorf("invalid ignore syntax %q: must be one of glob, gitignore", c.IgnoreSyntax)
	}

	if c.Interval <= 0 {
		return fmt.Errorf("invalid interval %s: must be positive", c.Interval)
	}

	if _, err := c.MaxSizeBytes(); err != nil {
		return err
	}

	if c.FullScanEvery < 1 {
		return fmt.Errorf("invalid full-scan-every %d: must be at least 1", c.FullScanEvery)
	}

	if c.HotLimit < 0 {
		return fmt.Errorf("invalid hot-limit %d: must not be negative", c.HotLimit)
	}

	if _, err := c.IgnorePatterns(); err != nil {
		return fmt.Errorf("invalid --ignore value: %w", err)
	}

	if c.RequireVersion != "" {
		info := version.GetInfo()

		ok, err := info.Satisfies(c.RequireVersion)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("tdaemon %s does not satisfy require-version %q", info.Version, c.RequireVersion)
		}
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel; a
// verbosity of 2 or more forces "debug".
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	if c.Verbose >= 2 {
		return LogLevelDebug
	}

	return c.LogLevel
}

// MaxSizeBytes parses MaxSize. Zero disables the volume check.
func (c *Config) MaxSizeBytes() (int64, error) {
	if strings.TrimSpace(c.MaxSize) == "" {
		return 0, nil
	}

	q, err := resource.ParseQuantity(c.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max-size %q: %w", c.MaxSize, err)
	}

	if q.Sign() < 0 {
		return 0, fmt.Errorf("invalid max-size %q: must not be negative", c.MaxSize)
	}

	return q.Value(), nil
}

// IgnorePatterns splits the --ignore list.
func (c *Config) IgnorePatterns() ([]string, error) {
	return ignore.SplitList(c.Ignore)
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store the resolved config file path so downstream code can locate it.
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("no-color", false)
	v.SetDefault("quiet", false)
	v.SetDefault("verbose", 0)
	v.SetDefault("path", d.Path)
	v.SetDefault("ignore", "")
	v.SetDefault("ignore-syntax", d.IgnoreSyntax)
	v.SetDefault("no-gitignore", false)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("max-size", d.MaxSize)
	v.SetDefault("fingerprint", d.Fingerprint)
	v.SetDefault("full-scan-every", d.FullScanEvery)
	v.SetDefault("hot-limit", d.HotLimit)
	v.SetDefault("state-file", d.StateFile)
	v.SetDefault("notify", false)
	v.SetDefault("workdir", "")
	v.SetDefault("rerun-on-change", false)
	v.SetDefault("yes", false)
	v.SetDefault("require-version", "")
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("TDAEMON")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// configureFile sets up the config file source.
func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	// Auto-discovery mode.
	v.SetConfigName(".tdaemon")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "tdaemon"))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found → perfectly fine in auto-discovery.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}

		// Found a file but it was malformed.
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	// Bind the current command's own flags.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	// Walk up to root and bind all persistent flags at each level.
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}
