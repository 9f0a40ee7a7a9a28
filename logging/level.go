// Package logging builds the bridge's slog loggers. A log spec sets a
// base level and optional per-component levels, where a component is
// the "component" attribute a logger was derived with:
//
//	info
//	warn,reconciler=debug,transport=trace
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level extends slog's levels with trace, below debug.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

// ParseLevel parses trace, debug, info, warn or error, ignoring case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// ToSlog converts Level to slog.Level.
func (l Level) ToSlog() slog.Level {
	return slog.Level(l)
}

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ReplaceLevel renders LevelTrace as "TRACE" instead of "DEBUG-4".
func ReplaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace.ToSlog() {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
