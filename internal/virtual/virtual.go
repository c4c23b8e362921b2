// Package virtual renders the synthetic modules that bundles import through
// reserved specifiers. The modules never exist in the source tree; the
// compiler materializes their text per compilation pass.
package virtual

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/Norgate-AV/pbuild/internal/scanner"
)

const (
	// NativesSpecifier is the import name of the native companion registry.
	// Only privileged targets resolve it.
	NativesSpecifier = "~pluginNatives"

	// PluginsSpecifier is the import name of the plugin registry
	PluginsSpecifier = "~plugins"
)

// DuplicateNameError is returned when two native modules resolve to the same
// plugin display name
type DuplicateNameError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate native module name %q: %s and %s", e.Name, e.First, e.Second)
}

// Natives renders the native registry module. Each module is imported under
// a private alias and re-exported in a default object keyed by display name.
// importBase is prepended to every module path (e.g. "." or "../../src").
func Natives(mods []scanner.NativeModule, importBase string) (string, error) {
	var (
		imports strings.Builder
		exports strings.Builder
	)

	seen := make(map[string]string, len(mods))

	for i, mod := range mods {
		if first, ok := seen[mod.DisplayName]; ok {
			return "", &DuplicateNameError{Name: mod.DisplayName, First: first, Second: mod.File}
		}

		seen[mod.DisplayName] = mod.File

		alias := fmt.Sprintf("p%d", i)
		fmt.Fprintf(&imports, "import * as %s from %s;\n", alias, quote(importPath(importBase, mod.ModulePath)))
		fmt.Fprintf(&exports, "%s:%s,\n", quote(mod.DisplayName), alias)
	}

	return imports.String() + "export default {\n" + exports.String() + "};\n", nil
}

func importPath(base, modulePath string) string {
	if base == "" {
		base = "."
	}

	p := path.Join(base, modulePath)
	if !strings.HasPrefix(p, ".") && !strings.HasPrefix(p, "/") {
		p = "./" + p
	}

	return p
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// Marshalling a string cannot fail
		panic(err)
	}

	return string(b)
}
