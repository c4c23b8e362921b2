// Package target turns the declarative artifact catalog into fully
// materialized build targets.
package target

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"unicode"

	"github.com/Norgate-AV/pbuild/internal/defines"
	"github.com/Norgate-AV/pbuild/internal/scanner"
	"github.com/Norgate-AV/pbuild/internal/virtual"
)

// Source map modes
const (
	SourcemapInline   = "inline"
	SourcemapExternal = "external"
)

// nodeExternals are provided by the host process at runtime
var nodeExternals = []string{"electron", "original-fs"}

// VirtualModule binds a reserved import specifier to generated source.
// Render is called once per compilation pass.
type VirtualModule struct {
	Specifier string
	Render    func(importBase string) (string, error)
}

// Target is one fully materialized compilation job
type Target struct {
	ID         string
	Entry      string
	Outfile    string
	Format     string
	Platform   string
	Privileged bool
	External   []string
	Defines    defines.Table
	Sourcemap  string
	Footer     string
	GlobalName string
	Minify     bool

	JSXFactory  string
	JSXFragment string
	Inject      []string

	Modules []VirtualModule
}

// Module returns the virtual module bound to specifier, if any
func (t Target) Module(specifier string) (VirtualModule, bool) {
	for _, m := range t.Modules {
		if m.Specifier == specifier {
			return m, true
		}
	}

	return VirtualModule{}, false
}

// Options carry invocation-wide settings shared by every target
type Options struct {
	// Watch inlines source maps and disables minification
	Watch bool

	// Standalone leaves the platform define generic on every target
	Standalone bool

	Dev      bool
	Reporter bool

	// GOOS is the host platform pinned into local builds
	GOOS string

	External    []string
	Inject      []string
	JSXFactory  string
	JSXFragment string

	// SourceMapScheme is the logical scheme of external source map URLs
	SourceMapScheme string

	// SourceURLPrefix prefixes the sourceURL footer of every bundle
	SourceURLPrefix string

	// Natives scans native companion roots; only privileged targets use it
	Natives *scanner.Scanner

	// Plugins scans plugin registry roots
	Plugins *scanner.Scanner

	// UserRoots are registry roots whose plugins are user plugins
	UserRoots []string
}

// ConfigError reports an invalid catalog
type ConfigError struct {
	ID     string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.ID == "" {
		return "invalid target catalog: " + e.Reason
	}

	return fmt.Sprintf("invalid target %q: %s", e.ID, e.Reason)
}

// Generate produces one target per catalog entry, in catalog order
func Generate(specs []Spec, base defines.Table, opts Options) ([]Target, error) {
	ids := make(map[string]bool, len(specs))
	outfiles := make(map[string]string, len(specs))
	targets := make([]Target, 0, len(specs))

	for _, spec := range specs {
		if err := validate(spec); err != nil {
			return nil, err
		}

		if ids[spec.ID] {
			return nil, &ConfigError{ID: spec.ID, Reason: "duplicate target id"}
		}

		ids[spec.ID] = true

		out := path.Clean(spec.Outfile)
		if other, ok := outfiles[out]; ok {
			return nil, &ConfigError{ID: spec.ID, Reason: fmt.Sprintf("output %s already used by %q", out, other)}
		}

		outfiles[out] = spec.ID

		t, err := build(spec, base, opts)
		if err != nil {
			return nil, err
		}

		targets = append(targets, t)
	}

	return targets, nil
}

// Verify renders every virtual module of targets once and returns the first
// failure. A one-shot build calls it so that a broken source tree or
// colliding native names stop the build before any target compiles.
func Verify(targets []Target) error {
	for _, t := range targets {
		for _, m := range t.Modules {
			if _, err := m.Render("."); err != nil {
				return fmt.Errorf("%s: %s: %w", t.ID, m.Specifier, err)
			}
		}
	}

	return nil
}

func validate(spec Spec) error {
	if spec.ID == "" {
		return &ConfigError{Reason: "target without id"}
	}

	if spec.Entry == "" {
		return &ConfigError{ID: spec.ID, Reason: "missing entry"}
	}

	if spec.Outfile == "" {
		return &ConfigError{ID: spec.ID, Reason: "missing outfile"}
	}

	switch spec.Format {
	case FormatCJS, FormatIIFE, FormatESM:
	default:
		return &ConfigError{ID: spec.ID, Reason: fmt.Sprintf("unknown format %q", spec.Format)}
	}

	switch spec.Platform {
	case PlatformNode, PlatformBrowser, PlatformNeutral:
	default:
		return &ConfigError{ID: spec.ID, Reason: fmt.Sprintf("unknown platform %q", spec.Platform)}
	}

	return nil
}

func build(spec Spec, base defines.Table, opts Options) (Target, error) {
	pinned := base
	if !opts.Standalone && !spec.Redistributable && opts.GOOS != "" {
		var err error
		pinned, err = base.With(nil)
		if err != nil {
			return Target{}, err
		}

		pinned["process.platform"] = defines.PlatformLiteral(opts.GOOS)
	}

	table, err := pinned.With(spec.Defines)
	if err != nil {
		return Target{}, &ConfigError{ID: spec.ID, Reason: err.Error()}
	}

	external := slices.Clone(opts.External)
	if spec.Platform == PlatformNode {
		external = append(external, nodeExternals...)
	}

	t := Target{
		ID:          spec.ID,
		Entry:       spec.Entry,
		Outfile:     path.Clean(spec.Outfile),
		Format:      spec.Format,
		Platform:    spec.Platform,
		Privileged:  spec.Privileged,
		External:    external,
		Defines:     table,
		GlobalName:  spec.GlobalName,
		Minify:      !opts.Watch && !opts.Reporter,
		JSXFactory:  opts.JSXFactory,
		JSXFragment: opts.JSXFragment,
		Inject:      slices.Clone(opts.Inject),
	}

	t.Sourcemap, t.Footer = footer(spec, opts)

	if spec.Privileged && opts.Natives != nil {
		t.Modules = append(t.Modules, nativesModule(opts.Natives))
	}

	if spec.PluginKind != "" && opts.Plugins != nil {
		filter := virtual.Filter{
			Kind:      spec.PluginKind,
			Dev:       opts.Dev,
			Reporter:  opts.Reporter,
			UserRoots: opts.UserRoots,
		}

		t.Modules = append(t.Modules, pluginsModule(opts.Plugins, filter))
	}

	return t, nil
}

// footer picks the source map mode and the bundle footer. External maps are
// referenced through a logical URL so no local path leaks into the bundle.
func footer(spec Spec, opts Options) (string, string) {
	name := spec.SourceName
	if name == "" {
		name = strings.TrimSuffix(path.Base(spec.Outfile), path.Ext(spec.Outfile))
	}

	lines := []string{"//# sourceURL=file:///" + opts.SourceURLPrefix + capitalize(name)}

	if opts.Watch {
		return SourcemapInline, strings.Join(lines, "\n")
	}

	scheme := opts.SourceMapScheme
	if scheme == "" {
		scheme = "pbuild"
	}

	lines = append(lines, fmt.Sprintf("//# sourceMappingURL=%s://%s.js.map", scheme, name))

	return SourcemapExternal, strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])

	return string(r)
}

func nativesModule(s *scanner.Scanner) VirtualModule {
	return VirtualModule{
		Specifier: virtual.NativesSpecifier,
		Render: func(importBase string) (string, error) {
			mods, err := s.Natives()
			if err != nil {
				return "", err
			}

			return virtual.Natives(mods, importBase)
		},
	}
}

func pluginsModule(s *scanner.Scanner, f virtual.Filter) VirtualModule {
	return VirtualModule{
		Specifier: virtual.PluginsSpecifier,
		Render: func(importBase string) (string, error) {
			var entries []scanner.Entry
			for entry, err := range s.Entries() {
				if err != nil {
					return "", err
				}

				entries = append(entries, entry)
			}

			return virtual.Plugins(entries, s, f, importBase)
		},
	}
}
