package codes

import (
	"errors"

	"github.com/Norgate-AV/pbuild/internal/config"
	"github.com/Norgate-AV/pbuild/internal/executor"
	"github.com/Norgate-AV/pbuild/internal/packager"
	"github.com/Norgate-AV/pbuild/internal/scanner"
	"github.com/Norgate-AV/pbuild/internal/target"
	"github.com/Norgate-AV/pbuild/internal/virtual"
)

// Process exit codes
const (
	OK          = 0
	BuildFailed = 1
	Config      = 2
	Environment = 3
	Packaging   = 4
)

// Descriptions maps exit codes to their descriptions
var Descriptions = map[int]string{
	OK:          "Success",
	BuildFailed: "One or more targets failed to build",
	Config:      "Invalid configuration",
	Environment: "Environment error",
	Packaging:   "Packaging failed",
}

// ForError returns the exit code for an error returned by a command.
// When several kinds are joined, the most fundamental one wins.
func ForError(err error) int {
	if err == nil {
		return OK
	}

	var envErr *scanner.EnvironmentError
	if errors.As(err, &envErr) {
		return Environment
	}

	var (
		dupErr    *virtual.DuplicateNameError
		targetErr *target.ConfigError
		cfgErr    *config.Error
	)

	if errors.As(err, &dupErr) || errors.As(err, &targetErr) || errors.As(err, &cfgErr) {
		return Config
	}

	var buildErr *executor.BuildError
	if errors.As(err, &buildErr) {
		return BuildFailed
	}

	var packErr *packager.Error
	if errors.As(err, &packErr) {
		return Packaging
	}

	return BuildFailed
}

// GetErrorMessage returns the description for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := Descriptions[code]; ok {
		return msg
	}

	return "Unknown error"
}
