// Package defines builds the compile-time constant table substituted into
// bundle sources before compilation. Every value is a literal source
// fragment, so strings arrive quoted and booleans as bare true/false.
package defines

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"
)

// Table maps define names to literal source fragments. Treat it as
// immutable; use With to derive per-target tables.
type Table map[string]string

// Identity is the build identity shared by every target of one invocation
type Identity struct {
	Version   string
	Timestamp int64
	GitHash   string
	GitRemote string
}

// Flags are the invocation-wide feature toggles
type Flags struct {
	Standalone      bool
	Dev             bool
	Reporter        bool
	CompanionTest   bool
	UpdaterDisabled bool
}

// Build computes the base table for one invocation
func Build(id Identity, flags Flags) (Table, error) {
	return FromValues(map[string]any{
		"IS_STANDALONE":       flags.Standalone,
		"IS_DEV":              flags.Dev,
		"IS_REPORTER":         flags.Reporter,
		"IS_COMPANION_TEST":   flags.CompanionTest,
		"IS_UPDATER_DISABLED": flags.UpdaterDisabled,
		"IS_WEB":              false,
		"IS_EXTENSION":        false,
		"IS_USERSCRIPT":       false,
		"VERSION":             id.Version,
		"BUILD_TIMESTAMP":     id.Timestamp,
		"GIT_HASH":            id.GitHash,
		"GIT_REMOTE":          id.GitRemote,
	})
}

// FromValues renders every value of m as a literal
func FromValues(m map[string]any) (Table, error) {
	t := make(Table, len(m))

	for k, v := range m {
		lit, err := Literal(v)
		if err != nil {
			return nil, fmt.Errorf("define %s: %w", k, err)
		}

		t[k] = lit
	}

	return t, nil
}

// With returns a copy of t with overrides applied. Override keys win; t is
// left untouched.
func (t Table) With(overrides map[string]any) (Table, error) {
	rendered, err := FromValues(overrides)
	if err != nil {
		return nil, err
	}

	out := maps.Clone(t)
	if out == nil {
		out = make(Table, len(rendered))
	}

	maps.Copy(out, rendered)

	return out, nil
}

// Literal renders v as a source literal
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case bool:
		if x {
			return "true", nil
		}

		return "false", nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("non-finite number %v has no literal form", x)
		}
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return "", fmt.Errorf("non-finite number %v has no literal form", x)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("cannot render %T as literal: %w", v, err)
	}

	// encoding/json escapes U+2028 and U+2029, which are line terminators
	// in older JavaScript engines
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// MustLiteral is Literal for values known to be renderable
func MustLiteral(v any) string {
	lit, err := Literal(v)
	if err != nil {
		panic(err)
	}

	return lit
}

// Parse reads a literal produced by Literal back into a Go value.
// Numbers decode as float64.
func Parse(lit string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(lit), &v); err != nil {
		return nil, fmt.Errorf("invalid literal %q: %w", lit, err)
	}

	return v, nil
}

// PlatformLiteral maps a GOOS value to the matching process.platform string
func PlatformLiteral(goos string) string {
	switch goos {
	case "windows":
		return MustLiteral("win32")
	default:
		return MustLiteral(goos)
	}
}
