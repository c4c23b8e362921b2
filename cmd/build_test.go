package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/pbuild/internal/codes"
	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/config"
	"github.com/Norgate-AV/pbuild/internal/packager"
	"github.com/Norgate-AV/pbuild/internal/target"
	"github.com/Norgate-AV/pbuild/internal/virtual"
)

// writingCompiler writes a stub bundle for every target it does not fail
type writingCompiler struct {
	root    string
	failing map[string]bool
}

func (c *writingCompiler) Compile(_ context.Context, t target.Target) compiler.Result {
	if c.failing[t.ID] {
		return compiler.Failed(t, "unexpected token")
	}

	out := filepath.Join(c.root, filepath.FromSlash(t.Outfile))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return compiler.Failed(t, "%v", err)
	}

	if err := os.WriteFile(out, []byte("// "+t.ID+"\n"), 0o644); err != nil {
		return compiler.Failed(t, "%v", err)
	}

	return compiler.Result{Target: t, Success: true}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Root:            t.TempDir(),
		Version:         "1.12.3",
		Timestamp:       1700000000,
		NoCache:         true,
		NativeRoots:     config.DefaultNativeRoots,
		PluginRoots:     config.DefaultPluginRoots,
		UserRoots:       config.DefaultUserRoots,
		SourceURLPrefix: config.DefaultSourceURLPrefix,
		Targets:         target.DefaultCatalog(),
		Packages:        target.DefaultPackages(),
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

func testSession(t *testing.T, cfg *config.Config, failing ...string) (*session, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	s, err := newSession(cfg, log.New(io.Discard), &out)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	fail := make(map[string]bool)
	for _, id := range failing {
		fail[id] = true
	}

	s.compiler = &writingCompiler{root: cfg.Root, failing: fail}

	return s, &out
}

func TestSession_Build(t *testing.T) {
	cfg := testConfig(t)
	s, out := testSession(t, cfg)

	require.Len(t, s.targets, 7)

	err := s.build(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "7 targets built")

	files, err := packager.List(filepath.Join(cfg.Root, "dist", "desktop.asar"))
	require.NoError(t, err)
	assert.Equal(t, []string{"package.json", "patcher.js", "preload.js", "renderer.js"}, files)

	files, err = packager.List(filepath.Join(cfg.Root, "dist", "equibop.asar"))
	require.NoError(t, err)
	assert.Equal(t, []string{"main.js", "package.json", "preload.js", "renderer.js"}, files)
}

func TestSession_Build_OneTargetFails(t *testing.T) {
	cfg := testConfig(t)
	s, out := testSession(t, cfg, "desktop/renderer")

	err := s.build(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.BuildFailed, codes.ForError(err))
	assert.Contains(t, err.Error(), "1 of 7 targets failed: desktop/renderer")

	// Siblings still built
	assert.FileExists(t, filepath.Join(cfg.Root, "dist", "desktop", "patcher.js"))
	assert.FileExists(t, filepath.Join(cfg.Root, "dist", "browser", "browser.js"))

	// The incomplete directory is not packaged; the complete one is
	assert.NoFileExists(t, filepath.Join(cfg.Root, "dist", "desktop.asar"))
	assert.FileExists(t, filepath.Join(cfg.Root, "dist", "equibop.asar"))

	assert.Contains(t, out.String(), "unexpected token")
}

func TestSession_Build_OnlySubsetSkipsPackages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Only = []string{"browser"}

	s, _ := testSession(t, cfg)
	require.Len(t, s.targets, 1)

	require.NoError(t, s.build(context.Background()))
	assert.FileExists(t, filepath.Join(cfg.Root, "dist", "browser", "browser.js"))
	assert.NoFileExists(t, filepath.Join(cfg.Root, "dist", "desktop.asar"))
}

func TestSession_Build_AbortsBeforeCompiling(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		wantCode int
	}{
		{
			name:     "plugin root is a file",
			files:    map[string]string{"src/plugins": "not a directory"},
			wantCode: codes.Environment,
		},
		{
			name: "duplicate native names",
			files: map[string]string{
				"src/plugins/alpha/index.ts":      `export default definePlugin({ name: "Alpha" });`,
				"src/plugins/alpha/native.ts":     `export function ping() {}`,
				"src/userplugins/alpha/index.ts":  `export default definePlugin({ name: "Alpha" });`,
				"src/userplugins/alpha/native.ts": `export function pong() {}`,
			},
			wantCode: codes.Config,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			for name, content := range tt.files {
				path := filepath.Join(cfg.Root, filepath.FromSlash(name))
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
				require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			}

			s, out := testSession(t, cfg)

			err := s.build(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, codes.ForError(err))

			// No sibling compiled and nothing was packaged
			assert.NoFileExists(t, filepath.Join(cfg.Root, "dist", "desktop", "preload.js"))
			assert.NoFileExists(t, filepath.Join(cfg.Root, "dist", "browser", "browser.js"))
			assert.NoFileExists(t, filepath.Join(cfg.Root, "dist", "desktop.asar"))
			assert.Empty(t, out.String())
		})
	}
}

func TestGenerateTargets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dev = true

	targets, err := generateTargets(cfg, log.New(io.Discard))
	require.NoError(t, err)
	require.Len(t, targets, 7)

	for _, tg := range targets {
		assert.Equal(t, `"1.12.3"`, tg.Defines["VERSION"], tg.ID)
		assert.Equal(t, "true", tg.Defines["IS_DEV"], tg.ID)
		assert.Equal(t, "1700000000", tg.Defines["BUILD_TIMESTAMP"], tg.ID)
	}

	assert.Equal(t, "desktop/patcher", targets[0].ID)
	_, ok := targets[0].Module(virtual.NativesSpecifier)
	assert.True(t, ok, "privileged targets import the native registry")

	_, ok = targets[6].Module(virtual.NativesSpecifier)
	assert.False(t, ok)

	_, ok = targets[6].Module(virtual.PluginsSpecifier)
	assert.True(t, ok)
}

func TestGenerateTargets_InvalidCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets = append(cfg.Targets, target.DefaultCatalog()[0])

	_, err := generateTargets(cfg, log.New(io.Discard))
	require.Error(t, err)
	assert.Equal(t, codes.Config, codes.ForError(err))
}

func TestOutfiles(t *testing.T) {
	specs := []target.Spec{
		{ID: "a", Outfile: "dist/a.js"},
		{ID: "b", Outfile: "dist/sub/b.js"},
	}

	assert.Equal(t, []string{"dist/a.js", "dist/sub/b.js"}, outfiles(specs))
}

func TestListPlugins(t *testing.T) {
	fsys := fstest.MapFS{
		"plugins/_api/badges.ts":         {Data: []byte(`export default definePlugin({ name: "BadgeAPI" });`)},
		"plugins/alpha/index.ts":         {Data: []byte(`export default definePlugin({ name: "Alpha" });`)},
		"plugins/alpha/native.ts":        {Data: []byte(`export function ping() {}`)},
		"plugins/beta.ts":                {Data: []byte(`export default definePlugin({ name: 'Beta' });`)},
		"plugins/index.ts":               {Data: []byte(`export {};`)},
		"plugins/README.md":              {Data: []byte(`# plugins`)},
		"userplugins/gamma/index.tsx":    {Data: []byte(`export default definePlugin({ name: "Gamma" });`)},
		"userplugins/.hidden/index.ts":   {Data: []byte(`export default definePlugin({ name: "Hidden" });`)},
		"equicordplugins/delta/index.ts": {Data: []byte(`export default {};`)},
	}

	cfg := &config.Config{
		NativeRoots: config.DefaultNativeRoots,
		PluginRoots: config.DefaultPluginRoots,
		UserRoots:   config.DefaultUserRoots,
	}

	plugins, err := listPlugins(fsys, cfg)
	require.NoError(t, err)

	var names []string
	for _, p := range plugins {
		names = append(names, p.Name)

		switch p.Name {
		case "Alpha":
			assert.True(t, p.Native)
			assert.Equal(t, "plugins/alpha", p.Path)
		case "Gamma":
			assert.True(t, p.User)
		default:
			assert.False(t, p.Native, p.Name)
			assert.False(t, p.User, p.Name)
		}
	}

	assert.Equal(t, "BadgeAPI,Alpha,Beta,delta,Gamma", strings.Join(names, ","))
}
