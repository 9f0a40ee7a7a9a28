package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Spec is a parsed log spec.
type Spec struct {
	BaseLevel  Level
	Components map[string]Level
}

// ParseSpec parses "<base>[,<component>=<level>]...". The base level
// is optional and, when present, must come first. An empty spec means
// info for everything.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{BaseLevel: LevelInfo, Components: make(map[string]Level)}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		component, levelStr, isOverride := strings.Cut(part, "=")
		if !isOverride {
			if i != 0 {
				return spec, fmt.Errorf("base level %q must be first in spec", part)
			}
			level, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.BaseLevel = level
			continue
		}
		component = strings.TrimSpace(component)
		if component == "" {
			return spec, fmt.Errorf("empty component name in %q", part)
		}
		level, err := ParseLevel(levelStr)
		if err != nil {
			return spec, fmt.Errorf("component %q: %w", component, err)
		}
		spec.Components[component] = level
	}
	return spec, nil
}

// LevelFor returns the level of a component, falling back to the
// base level.
func (s *Spec) LevelFor(component string) Level {
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.BaseLevel
}

// String renders the spec with components in sorted order.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	for _, c := range slices.Sorted(maps.Keys(s.Components)) {
		parts = append(parts, c+"="+s.Components[c].String())
	}
	return strings.Join(parts, ",")
}
