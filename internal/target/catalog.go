package target

import "github.com/Norgate-AV/pbuild/internal/virtual"

// Module formats
const (
	FormatCJS  = "cjs"
	FormatIIFE = "iife"
	FormatESM  = "esm"
)

// Platforms
const (
	PlatformNode    = "node"
	PlatformBrowser = "browser"
	PlatformNeutral = "neutral"
)

// Spec declares one desired artifact
type Spec struct {
	// ID uniquely names the target (e.g. "desktop/patcher")
	ID string `mapstructure:"id"`

	// Entry is the entry point relative to the project root
	Entry string `mapstructure:"entry"`

	// Outfile is the output file relative to the project root
	Outfile string `mapstructure:"outfile"`

	Format   string `mapstructure:"format"`
	Platform string `mapstructure:"platform"`

	// Privileged targets may import native companion modules
	Privileged bool `mapstructure:"privileged"`

	// Redistributable targets never pin the host platform
	Redistributable bool `mapstructure:"redistributable"`

	// GlobalName is the global variable an iife bundle assigns to
	GlobalName string `mapstructure:"global_name"`

	// SourceName is the logical name used in sourceURL and source map footers
	SourceName string `mapstructure:"source_name"`

	// PluginKind selects the plugin registry flavour; empty disables the registry
	PluginKind string `mapstructure:"plugin_kind"`

	// Defines are target identity overrides applied over the base table
	Defines map[string]any `mapstructure:"defines"`
}

// Package declares an archive built from a finished output directory
type Package struct {
	// Dir is the output directory relative to the project root
	Dir string `mapstructure:"dir"`

	// Archive is the archive file relative to the project root
	Archive string `mapstructure:"archive"`

	// Name and Main are written to the directory's package.json
	Name string `mapstructure:"name"`
	Main string `mapstructure:"main"`
}

func desktopDefines(discord, equibop bool) map[string]any {
	return map[string]any{
		"IS_DISCORD_DESKTOP": discord,
		"IS_VESKTOP":         false,
		"IS_EQUIBOP":         equibop,
	}
}

// DefaultCatalog returns the built-in target catalog: main, renderer and
// preload bundles for both desktop hosts plus a browser bundle
func DefaultCatalog() []Spec {
	return []Spec{
		{
			ID:         "desktop/patcher",
			Entry:      "src/main/index.ts",
			Outfile:    "dist/desktop/patcher.js",
			Format:     FormatCJS,
			Platform:   PlatformNode,
			Privileged: true,
			SourceName: "patcher",
			Defines:    desktopDefines(true, false),
		},
		{
			ID:         "desktop/renderer",
			Entry:      "src/Vencord.ts",
			Outfile:    "dist/desktop/renderer.js",
			Format:     FormatIIFE,
			Platform:   PlatformBrowser,
			GlobalName: "Vencord",
			SourceName: "renderer",
			PluginKind: virtual.KindDiscordDesktop,
			Defines:    desktopDefines(true, false),
		},
		{
			ID:         "desktop/preload",
			Entry:      "src/preload.ts",
			Outfile:    "dist/desktop/preload.js",
			Format:     FormatCJS,
			Platform:   PlatformNode,
			SourceName: "preload",
			Defines:    desktopDefines(true, false),
		},
		{
			ID:         "equibop/main",
			Entry:      "src/main/index.ts",
			Outfile:    "dist/equibop/main.js",
			Format:     FormatCJS,
			Platform:   PlatformNode,
			Privileged: true,
			SourceName: "main",
			Defines:    desktopDefines(false, true),
		},
		{
			ID:         "equibop/renderer",
			Entry:      "src/Vencord.ts",
			Outfile:    "dist/equibop/renderer.js",
			Format:     FormatIIFE,
			Platform:   PlatformBrowser,
			GlobalName: "Vencord",
			SourceName: "renderer",
			PluginKind: virtual.KindEquibop,
			Defines:    desktopDefines(false, true),
		},
		{
			ID:         "equibop/preload",
			Entry:      "src/preload.ts",
			Outfile:    "dist/equibop/preload.js",
			Format:     FormatCJS,
			Platform:   PlatformNode,
			SourceName: "preload",
			Defines:    desktopDefines(false, true),
		},
		{
			ID:              "browser",
			Entry:           "browser/index.ts",
			Outfile:         "dist/browser/browser.js",
			Format:          FormatIIFE,
			Platform:        PlatformBrowser,
			Redistributable: true,
			GlobalName:      "Vencord",
			SourceName:      "browser",
			PluginKind:      virtual.KindWeb,
			Defines: map[string]any{
				"IS_WEB":             true,
				"IS_DISCORD_DESKTOP": false,
				"IS_VESKTOP":         false,
				"IS_EQUIBOP":         false,
			},
		},
	}
}

// DefaultPackages returns the archives built from the desktop output directories
func DefaultPackages() []Package {
	return []Package{
		{Dir: "dist/desktop", Archive: "dist/desktop.asar", Name: "equicord", Main: "patcher.js"},
		{Dir: "dist/equibop", Archive: "dist/equibop.asar", Name: "equicord", Main: "main.js"},
	}
}
