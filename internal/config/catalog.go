package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Norgate-AV/pbuild/internal/target"
)

// loadCatalog fills the target and package catalogs. Viper folds nested map
// keys to lower case, which would turn define names such as IS_WEB into
// is_web, so a catalog declared in a config file is decoded from the file
// itself. files are the config files read, in increasing precedence.
func loadCatalog(cfg *Config, files []string) error {
	cfg.Targets = target.DefaultCatalog()
	if viper.IsSet("targets") {
		cfg.Targets = nil
		if err := decodeKey("targets", files, &cfg.Targets); err != nil {
			return fmt.Errorf("invalid targets: %w", err)
		}
	}

	cfg.Packages = target.DefaultPackages()
	if viper.IsSet("packages") {
		cfg.Packages = nil
		if err := decodeKey("packages", files, &cfg.Packages); err != nil {
			return fmt.Errorf("invalid packages: %w", err)
		}
	}

	return nil
}

// decodeKey decodes key from the highest-precedence file declaring it, or
// from viper when no file does (e.g. a value set in code)
func decodeKey(key string, files []string, out any) error {
	for _, file := range slices.Backward(files) {
		raw, err := readRaw(file)
		if err != nil {
			return err
		}

		for k, v := range raw {
			if strings.EqualFold(k, key) {
				return mapstructure.Decode(v, out)
			}
		}
	}

	return viper.UnmarshalKey(key, out)
}

// readRaw parses a config file without altering key case
func readRaw(file string) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}

	raw := make(map[string]any)

	switch ext := strings.TrimPrefix(filepath.Ext(file), "."); ext {
	case "yml", "yaml":
		err = yaml.Unmarshal(data, &raw)
	case "json":
		err = json.Unmarshal(data, &raw)
	case "toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}

	return raw, nil
}
