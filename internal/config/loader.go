package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Norgate-AV/pbuild/internal/cache"
)

// EnvPrefix prefixes environment overrides (e.g. PBUILD_JOBS)
const EnvPrefix = "PBUILD"

// Loader handles configuration loading from various sources
type Loader struct {
	// files are the config files read, in increasing precedence
	files []string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForBuild loads configuration for build, watch and plugin commands.
// Sources apply in increasing precedence: defaults, global config, local
// config, environment, flags.
func (l *Loader) LoadForBuild(cmd *cobra.Command) (*Config, error) {
	l.files = nil
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig(startDir(cmd))
	l.bindEnvironment()
	l.bindCommandFlags(cmd)

	return load(l.files)
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("esbuild", DefaultESBuildPath)
	viper.SetDefault("source_dir", DefaultSourceDir)
	viper.SetDefault("cache_dir", cache.DefaultCacheDir)
	viper.SetDefault("jobs", DefaultJobs)
	viper.SetDefault("verbose", DefaultVerbose)
	viper.SetDefault("native_roots", DefaultNativeRoots)
	viper.SetDefault("plugin_roots", DefaultPluginRoots)
	viper.SetDefault("user_roots", DefaultUserRoots)
	viper.SetDefault("external", DefaultExternal)
	viper.SetDefault("sourcemap_scheme", DefaultSourceMapScheme)
	viper.SetDefault("source_url_prefix", DefaultSourceURLPrefix)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(configDir, "pbuild")

	for _, ext := range configExtensions {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				l.files = append(l.files, globalPath)
				break
			}
		}
	}
}

// loadLocalConfig merges the nearest project config over the global one.
// Without an explicit root, the project root is the config's directory.
func (l *Loader) loadLocalConfig(dir string) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return // silently ignore, config.Load() will handle validation
	}

	localPath := FindLocalConfig(absDir)
	if localPath == "" {
		viper.SetDefault("root", absDir)
		return
	}

	viper.SetDefault("root", filepath.Dir(localPath))
	viper.SetConfigFile(localPath)
	if err := viper.MergeInConfig(); err == nil {
		l.files = append(l.files, localPath)
	}
}

// bindEnvironment maps PBUILD_* variables and SOURCE_DATE_EPOCH
func (l *Loader) bindEnvironment() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("source_date_epoch", "SOURCE_DATE_EPOCH")
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	for key, flag := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

// flagKeys maps config keys to the flags that override them
var flagKeys = map[string]string{
	"root":            "root",
	"esbuild":         "esbuild",
	"watch":           "watch",
	"dev":             "dev",
	"reporter":        "reporter",
	"standalone":      "standalone",
	"disable_updater": "disable-updater",
	"companion_test":  "companion-test",
	"only":            "only",
	"jobs":            "jobs",
	"no_cache":        "no-cache",
	"verbose":         "verbose",
}

// startDir is where the local config search begins
func startDir(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("root"); f != nil && f.Changed {
		return f.Value.String()
	}

	return "."
}
