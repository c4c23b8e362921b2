package virtual

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Norgate-AV/pbuild/internal/scanner"
)

// Plugin kinds a registry can be rendered for
const (
	KindDiscordDesktop = "discordDesktop"
	KindEquibop        = "equibop"
	KindWeb            = "web"
)

// Filter controls which plugins a registry includes
type Filter struct {
	// Kind is the host flavour the bundle runs in
	Kind string

	// Dev includes ".dev" plugins
	Dev bool

	// Reporter includes every plugin regardless of its target suffix
	Reporter bool

	// UserRoots lists roots whose plugins are flagged as user plugins
	UserRoots []string
}

// Excluded reports whether a plugin with the given target suffix is left out
// of a registry rendered for f
func (f Filter) Excluded(target string) bool {
	if target == "" || f.Reporter {
		return false
	}

	switch target {
	case "dev":
		return !f.Dev
	case "web":
		// Equibop hosts the web client, so only the stock desktop drops web plugins
		return f.Kind == KindDiscordDesktop
	case "desktop":
		return f.Kind == KindWeb
	case KindDiscordDesktop:
		return f.Kind != KindDiscordDesktop
	case KindEquibop, "vesktop":
		// Equibop is a Vesktop fork and takes Vesktop plugins too
		return f.Kind != KindEquibop
	}

	return false
}

// PluginSource resolves display names for excluded plugins
type PluginSource interface {
	ResolveName(entry scanner.Entry) (string, error)
}

// Plugins renders the plugin registry module from scanned entries. The
// default export maps plugin name to module; PluginMeta and ExcludedPlugins
// carry folder metadata and the names left out by the filter.
func Plugins(entries []scanner.Entry, src PluginSource, f Filter, importBase string) (string, error) {
	var (
		imports  strings.Builder
		plugins  strings.Builder
		meta     strings.Builder
		excluded strings.Builder
	)

	i := 0
	for _, entry := range entries {
		if !IsPlugin(entry) {
			continue
		}

		if target := scanner.Target(entry.Name); f.Excluded(target) {
			name, err := src.ResolveName(entry)
			if err != nil {
				return "", err
			}

			fmt.Fprintf(&excluded, "%s:%s,\n", quote(name), quote(target))
			continue
		}

		alias := fmt.Sprintf("p%d", i)
		modulePath := entry.Path()
		if !entry.Dir {
			modulePath = strings.TrimSuffix(strings.TrimSuffix(modulePath, ".tsx"), ".ts")
		}

		folderName := strings.TrimPrefix(entry.Path(), "plugins/")
		metaJSON := fmt.Sprintf(`{"folderName":%s,"userPlugin":%t}`, quote(folderName), slices.Contains(f.UserRoots, entry.Root))

		fmt.Fprintf(&imports, "import %s from %s;\n", alias, quote(importPath(importBase, modulePath)))
		fmt.Fprintf(&plugins, "[%s.name]:%s,\n", alias, alias)
		fmt.Fprintf(&meta, "[%s.name]:%s,\n", alias, metaJSON)
		i++
	}

	var out strings.Builder
	out.WriteString(imports.String())
	out.WriteString("export default {\n" + plugins.String() + "};\n")
	out.WriteString("export const PluginMeta = {\n" + meta.String() + "};\n")
	out.WriteString("export const ExcludedPlugins = {\n" + excluded.String() + "};\n")

	return out.String(), nil
}

// IsPlugin reports whether a scanned entry is registered as a plugin.
// Hidden and underscore-prefixed entries, index files and non-script files
// are skipped.
func IsPlugin(entry scanner.Entry) bool {
	return !isSkipped(entry)
}

func isSkipped(entry scanner.Entry) bool {
	if strings.HasPrefix(entry.Name, "_") || strings.HasPrefix(entry.Name, ".") {
		return true
	}

	if entry.Dir {
		return false
	}

	switch entry.Name {
	case "index.ts", "index.tsx":
		return true
	}

	// Only script files are single-file plugins
	return !strings.HasSuffix(entry.Name, ".ts") && !strings.HasSuffix(entry.Name, ".tsx")
}
