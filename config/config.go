// Package config handles p4bridge daemon configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded via go:embed from default.toml)
//  2. Overlay with config file values (if file exists)
//  3. CLI flags and environment variables override at runtime (handled by CLI layer)
//
// The TOML decoder only sets fields present in the file, leaving
// unspecified fields at their default values. If the config file
// exists but is invalid, Load returns an error rather than silently
// falling back to defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/frobware/go-p4bridge/logging"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is the default path to the p4bridge config file.
const DefaultConfigPath = "/etc/p4bridge/p4bridge.toml"

// Config is the top-level p4bridge configuration.
type Config struct {
	Bridge  BridgeConfig  `toml:"bridge"`
	Switch  SwitchConfig  `toml:"switch"`
	Logging LoggingConfig `toml:"logging"`
}

// BridgeConfig configures the P4Runtime side and the evaluator.
type BridgeConfig struct {
	DeviceID uint64 `toml:"device_id"`
	// Listen is a TCP host:port or "unix:/path".
	Listen string `toml:"listen"`
	// P4Info is installed at startup when set. Controllers may
	// replace it with SetForwardingPipelineConfig.
	P4Info string `toml:"p4info"`
	// Program is the evaluator SQL program. Empty selects the
	// built-in multicast program.
	Program      string `toml:"program"`
	FlowRelation string `toml:"flow_relation"`
	// Database is ":memory:" or a file path. A file is recreated
	// on every start.
	Database string `toml:"database"`
}

// SwitchConfig configures the OpenFlow connection.
type SwitchConfig struct {
	// Target is "tcp:host:port" or "unix:/path".
	Target         string   `toml:"target"`
	ProbeInterval  Duration `toml:"probe_interval"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g., "info" or "info,manager=debug").
	Level string `toml:"level"`
	// Format is the output format: "text" or "json".
	Format string `toml:"format"`
	// Components provides an alternative way to specify per-component levels.
	Components map[string]string `toml:"components"`
}

// ToSpec converts the LoggingConfig to a log spec string.
// If Level is set, it takes precedence. Otherwise, Components are used.
func (c *LoggingConfig) ToSpec() string {
	if c.Level != "" {
		return c.Level
	}
	if len(c.Components) == 0 {
		return ""
	}

	parts := []string{"info"}
	for _, component := range slices.Sorted(maps.Keys(c.Components)) {
		parts = append(parts, component+"="+c.Components[component])
	}
	return strings.Join(parts, ",")
}

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the default configuration from the embedded default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded default.toml: %v", err))
	}
	return cfg
}

// Load reads configuration from a file path with overlay semantics.
//
// Behaviour:
//   - File missing: returns default configuration (no error)
//   - File exists and valid: overlays file values onto defaults
//   - File exists but invalid: returns error (fail fast)
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Bridge.Listen == "" {
		errs = append(errs, errors.New("bridge.listen must be set"))
	}
	if c.Bridge.FlowRelation == "" {
		errs = append(errs, errors.New("bridge.flow_relation must be set"))
	}
	if c.Switch.Target == "" {
		errs = append(errs, errors.New("switch.target must be set"))
	}
	if c.Switch.ProbeInterval.Duration <= 0 {
		errs = append(errs, errors.New("switch.probe_interval must be positive"))
	}
	if c.Switch.InitialBackoff.Duration <= 0 {
		errs = append(errs, errors.New("switch.initial_backoff must be positive"))
	}
	if c.Switch.MaxBackoff.Duration < c.Switch.InitialBackoff.Duration {
		errs = append(errs, fmt.Errorf("switch.max_backoff %v is below initial_backoff %v",
			c.Switch.MaxBackoff.Duration, c.Switch.InitialBackoff.Duration))
	}
	if _, err := logging.ParseSpec(c.Logging.ToSpec()); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	}
	return errors.Join(errs...)
}
