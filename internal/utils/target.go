package utils

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ParseTargetFilter splits a comma-separated --only value into target id
// globs (e.g. "desktop/*,browser")
func ParseTargetFilter(s string) ([]string, error) {
	patterns := make([]string, 0)

	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid target filter %q", p)
		}

		patterns = append(patterns, p)
	}

	return patterns, nil
}

// MatchTarget reports whether id matches any pattern. No patterns match
// every id.
func MatchTarget(patterns []string, id string) bool {
	if len(patterns) == 0 {
		return true
	}

	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, id); ok {
			return true
		}
	}

	return false
}
