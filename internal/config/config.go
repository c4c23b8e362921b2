package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"github.com/Norgate-AV/pbuild/internal/cache"
	"github.com/Norgate-AV/pbuild/internal/target"
	"github.com/Norgate-AV/pbuild/internal/utils"
	"github.com/Norgate-AV/pbuild/internal/watch"
)

// Default configuration values
const (
	DefaultESBuildPath     = "esbuild"
	DefaultSourceDir       = "src"
	DefaultSourceMapScheme = "vencord"
	DefaultSourceURLPrefix = "Vencord"
	DefaultJobs            = 0
	DefaultVerbose         = false
)

// Default scan roots, relative to the source directory
var (
	DefaultNativeRoots = []string{"plugins", "userplugins", "equicordplugins", "chyzcordplugins"}
	DefaultPluginRoots = []string{"plugins/_api", "plugins/_core", "plugins", "equicordplugins", "userplugins"}
	DefaultUserRoots   = []string{"userplugins"}
	DefaultExternal    = []string{"/assets/*"}
)

// Holds the configuration options for pbuild
type Config struct {
	// Project root; every other path is relative to it
	Root string

	// Path to the esbuild executable
	ESBuildPath string

	// Source root the scan roots live under
	SourceDir string

	// Cache and virtual module directory
	CacheDir string

	// Invocation flags
	Watch           bool
	Dev             bool
	Reporter        bool
	Standalone      bool
	UpdaterDisabled bool
	CompanionTest   bool
	NoCache         bool
	Verbose         bool

	// Target id globs selected with --only
	Only []string

	// Maximum concurrent compilations; zero is unbounded
	Jobs int

	// Build identity
	Version         string
	Timestamp       int64
	TimestampPinned bool

	// Scan roots
	NativeRoots []string
	PluginRoots []string
	UserRoots   []string

	// Bundler settings shared by every target
	External        []string
	Inject          []string
	JSXFactory      string
	JSXFragment     string
	SourceMapScheme string
	SourceURLPrefix string

	// Watch settings
	WatchPatterns []string
	WatchIgnore   []string
	WatchDebounce time.Duration

	// Catalog
	Targets  []target.Spec
	Packages []target.Package
}

// Error reports an invalid configuration
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Load builds the configuration from the current viper state
func Load() (*Config, error) {
	return load(nil)
}

// load builds the configuration; files are the config files viper read, in
// increasing precedence
func load(files []string) (*Config, error) {
	cfg := &Config{
		Root:            viper.GetString("root"),
		ESBuildPath:     viper.GetString("esbuild"),
		SourceDir:       viper.GetString("source_dir"),
		CacheDir:        viper.GetString("cache_dir"),
		Watch:           viper.GetBool("watch"),
		Dev:             viper.GetBool("dev"),
		Reporter:        viper.GetBool("reporter"),
		Standalone:      viper.GetBool("standalone"),
		UpdaterDisabled: viper.GetBool("disable_updater"),
		CompanionTest:   viper.GetBool("companion_test"),
		NoCache:         viper.GetBool("no_cache"),
		Verbose:         viper.GetBool("verbose"),
		Jobs:            viper.GetInt("jobs"),
		Version:         viper.GetString("version"),
		NativeRoots:     viper.GetStringSlice("native_roots"),
		PluginRoots:     viper.GetStringSlice("plugin_roots"),
		UserRoots:       viper.GetStringSlice("user_roots"),
		External:        viper.GetStringSlice("external"),
		Inject:          viper.GetStringSlice("inject"),
		JSXFactory:      viper.GetString("jsx_factory"),
		JSXFragment:     viper.GetString("jsx_fragment"),
		SourceMapScheme: viper.GetString("sourcemap_scheme"),
		SourceURLPrefix: viper.GetString("source_url_prefix"),
		WatchPatterns:   viper.GetStringSlice("watch_patterns"),
		WatchIgnore:     viper.GetStringSlice("watch_ignore"),
		WatchDebounce:   viper.GetDuration("watch_debounce"),
	}

	only, err := utils.ParseTargetFilter(viper.GetString("only"))
	if err != nil {
		return nil, &Error{Err: err}
	}

	cfg.Only = only

	if err := loadCatalog(cfg, files); err != nil {
		return nil, &Error{Err: err}
	}

	if err := loadTimestamp(cfg, viper.GetString("source_date_epoch")); err != nil {
		return nil, &Error{Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &Error{Err: err}
	}

	return cfg, nil
}

// loadTimestamp pins the build timestamp to SOURCE_DATE_EPOCH when set,
// otherwise uses the current time in milliseconds
func loadTimestamp(cfg *Config, epoch string) error {
	if epoch == "" {
		cfg.Timestamp = time.Now().UnixMilli()
		return nil
	}

	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid SOURCE_DATE_EPOCH %q: %w", epoch, err)
	}

	cfg.Timestamp = ts
	cfg.TimestampPinned = true

	return nil
}

func (c *Config) Validate() error {
	if c.Root == "" {
		c.Root = "."
	}

	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("invalid root path: %v", err)
	}

	c.Root = abs

	if c.SourceDir == "" {
		c.SourceDir = DefaultSourceDir
	}

	if c.CacheDir == "" {
		c.CacheDir = cache.DefaultCacheDir
	}

	c.SourceDir = c.resolve(c.SourceDir)
	c.CacheDir = c.resolve(c.CacheDir)

	if c.ESBuildPath == "" {
		c.ESBuildPath = DefaultESBuildPath
	}

	// A relative executable path with a separator is project-relative;
	// a bare name is looked up on PATH
	if filepath.Base(c.ESBuildPath) != c.ESBuildPath {
		c.ESBuildPath = c.resolve(c.ESBuildPath)
	}

	if c.Jobs < 0 {
		return fmt.Errorf("invalid jobs: %d", c.Jobs)
	}

	if c.WatchDebounce < 0 {
		return fmt.Errorf("invalid watch debounce: %s", c.WatchDebounce)
	}

	if len(c.Targets) == 0 {
		return errors.New("no targets configured")
	}

	for _, pattern := range c.Only {
		if !c.matchesAny(pattern) {
			return fmt.Errorf("--only %q matches no target", pattern)
		}
	}

	if c.Version == "" {
		version, err := packageVersion(c.Root)
		if err != nil {
			return err
		}

		c.Version = version
	}

	return nil
}

// Selected returns the catalog entries chosen by --only
func (c *Config) Selected() []target.Spec {
	var specs []target.Spec
	for _, spec := range c.Targets {
		if utils.MatchTarget(c.Only, spec.ID) {
			specs = append(specs, spec)
		}
	}

	return specs
}

// WatchConfig returns the watcher settings for this project. Without
// explicit patterns, the defaults are extended with the directory of every
// selected entry point they do not already cover.
func (c *Config) WatchConfig() watch.Config {
	patterns := c.WatchPatterns
	if len(patterns) == 0 {
		patterns = entryPatterns(watch.DefaultPatterns, c.Selected())
	}

	return watch.Config{
		Root:     c.Root,
		Patterns: patterns,
		Ignore:   c.WatchIgnore,
		Debounce: c.WatchDebounce,
	}
}

// entryPatterns appends a pattern for each entry that base does not match
func entryPatterns(base []string, specs []target.Spec) []string {
	patterns := slices.Clone(base)

	for _, spec := range specs {
		entry := path.Clean(filepath.ToSlash(spec.Entry))
		if matchesPattern(patterns, entry) {
			continue
		}

		dir := path.Dir(entry)
		if dir == "." {
			patterns = append(patterns, entry)
			continue
		}

		patterns = append(patterns, dir+"/**")
	}

	return patterns
}

func matchesPattern(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}

	return false
}

func (c *Config) matchesAny(pattern string) bool {
	for _, spec := range c.Targets {
		if utils.MatchTarget([]string{pattern}, spec.ID) {
			return true
		}
	}

	return false
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.Root, p)
}

// packageVersion reads the version field of the project's package.json
func packageVersion(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.New("no version configured and no package.json found")
		}

		return "", fmt.Errorf("failed to read package.json: %w", err)
	}

	var pkg struct {
		Version string `json:"version"`
	}

	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", fmt.Errorf("invalid package.json: %w", err)
	}

	if pkg.Version == "" {
		return "", errors.New("package.json has no version")
	}

	return pkg.Version, nil
}
