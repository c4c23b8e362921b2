package codes

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/config"
	"github.com/Norgate-AV/pbuild/internal/executor"
	"github.com/Norgate-AV/pbuild/internal/packager"
	"github.com/Norgate-AV/pbuild/internal/scanner"
	"github.com/Norgate-AV/pbuild/internal/target"
	"github.com/Norgate-AV/pbuild/internal/virtual"
)

func TestForError(t *testing.T) {
	buildErr := &executor.BuildError{
		Failed: []compiler.Result{{Target: target.Target{ID: "desktop/renderer"}}},
		Total:  7,
	}
	envErr := &scanner.EnvironmentError{Path: "plugins", Err: fs.ErrPermission}
	dupErr := &virtual.DuplicateNameError{Name: "Foo", First: "plugins/a", Second: "userplugins/b"}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, OK},
		{"one target failed", buildErr, BuildFailed},
		{"environment", envErr, Environment},
		{"wrapped environment", fmt.Errorf("generating targets: %w", envErr), Environment},
		{"duplicate native name", dupErr, Config},
		{"catalog", &target.ConfigError{ID: "web", Reason: "missing entry"}, Config},
		{"configuration", &config.Error{Err: errors.New("no targets configured")}, Config},
		{"packaging", &packager.Error{Archive: "dist/desktop.asar", Err: fs.ErrExist}, Packaging},
		{"fatal joined before build failure", errors.Join(dupErr, buildErr), Config},
		{"environment beats configuration", errors.Join(dupErr, envErr, buildErr), Environment},
		{"build failure beats packaging", errors.Join(buildErr, &packager.Error{Archive: "a", Err: fs.ErrExist}), BuildFailed},
		{"unknown", errors.New("boom"), BuildFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForError(tt.err))
		})
	}
}

func TestForError_ReportWithOneFailure(t *testing.T) {
	report := executor.Report{
		Results: []compiler.Result{
			{Target: target.Target{ID: "desktop/patcher"}, Success: true},
			compiler.Failed(target.Target{ID: "desktop/renderer"}, "syntax error"),
			{Target: target.Target{ID: "browser"}, Success: true},
		},
	}

	err := report.Err()
	assert.Error(t, err)
	assert.NotEqual(t, OK, ForError(err))
	assert.Equal(t, BuildFailed, ForError(err))
}

func TestGetErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"success", OK, "Success"},
		{"build failed", BuildFailed, "One or more targets failed to build"},
		{"config", Config, "Invalid configuration"},
		{"unknown", 99, "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorMessage(tt.code))
		})
	}
}
