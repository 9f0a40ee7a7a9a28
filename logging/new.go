package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar is the environment variable holding a log spec.
const EnvVar = "P4BRIDGE_LOG"

// Format is the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses "text" (the default) or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %q", s)
}

// Options configures New. Specs are consulted in the order CLISpec,
// EnvSpec, ConfigSpec; the first non-empty one wins.
type Options struct {
	CLISpec    string
	EnvSpec    string
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New creates a logger with per-component filtering.
func New(opts Options) (*slog.Logger, error) {
	specStr := opts.ConfigSpec
	switch {
	case opts.CLISpec != "":
		specStr = opts.CLISpec
	case opts.EnvSpec != "":
		specStr = opts.EnvSpec
	}
	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	// The inner handler accepts everything; filtering is per component.
	hopts := &slog.HandlerOptions{Level: LevelTrace.ToSlog(), ReplaceAttr: ReplaceLevel}
	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(out, hopts)
	default:
		inner = slog.NewTextHandler(out, hopts)
	}
	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// Default returns an info level text logger on stderr.
func Default() *slog.Logger {
	logger, _ := New(Options{})
	return logger
}
