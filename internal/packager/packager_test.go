package packager

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/target"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// readTree returns every file under root keyed by slash path
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()

	files := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)

	return files
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "desktop")

	writeTree(t, dir, map[string]string{
		"patcher.js":         "console.log('patcher')",
		"patcher.js.map":     `{"version":3}`,
		"renderer.js":        "odd length!",
		"renderer.css":       "",
		"nested/deep/x.json": `{"x":1}`,
	})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))
	require.NoError(t, WriteManifest(dir, Manifest{Name: "equicord", Main: "patcher.js"}))

	archive := filepath.Join(root, "desktop.asar")
	require.NoError(t, Pack(dir, archive))

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Unpack(archive, dest))

	assert.Equal(t, readTree(t, dir), readTree(t, dest))
	assert.DirExists(t, filepath.Join(dest, "empty"))

	manifest, err := os.ReadFile(filepath.Join(dest, ManifestFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"equicord","main":"patcher.js"}`, string(manifest))
}

func TestPack_HeaderLayout(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "d")
	writeTree(t, dir, map[string]string{"a.js": "abc"})

	archive := filepath.Join(root, "d.asar")
	require.NoError(t, Pack(dir, archive))

	data, err := os.ReadFile(archive)
	require.NoError(t, err)

	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(data[0:]))

	headerSize := binary.LittleEndian.Uint32(data[4:])
	assert.Zero(t, headerSize%4, "header pickle is 4-byte aligned")
	assert.Equal(t, headerSize-4, binary.LittleEndian.Uint32(data[8:]))

	jsonLen := binary.LittleEndian.Uint32(data[12:])
	assert.JSONEq(t, `{"files":{"a.js":{"size":3,"offset":"0"}}}`, string(data[16:16+jsonLen]))

	assert.Equal(t, "abc", string(data[8+headerSize:]))
}

func TestList(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "d")
	writeTree(t, dir, map[string]string{
		"b.js":     "b",
		"a/c.js":   "c",
		"a.txt":    "a",
		"a/b/d.js": "d",
	})

	archive := filepath.Join(root, "d.asar")
	require.NoError(t, Pack(dir, archive))

	names, err := List(archive)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "a/b/d.js", "a/c.js", "b.js"}, names)
}

func TestUnpack_RejectsGarbage(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bad.asar")
	require.NoError(t, os.WriteFile(archive, []byte("definitely not an archive"), 0o644))

	err := Unpack(archive, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an asar archive")
}

func TestUnpack_RejectsTraversal(t *testing.T) {
	index := []byte(`{"files":{"..":{"files":{"evil.js":{"size":1,"offset":"0"}}}}}`)
	archive := filepath.Join(t.TempDir(), "evil.asar")
	require.NoError(t, os.WriteFile(archive, append(encodeHeader(index), 'x'), 0o644))

	err := Unpack(archive, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid entry name")
}

func result(outfile string, ok bool) compiler.Result {
	return compiler.Result{Target: target.Target{ID: outfile, Outfile: outfile}, Success: ok}
}

func TestPackager_Run(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"dist/desktop/patcher.js":  "p",
		"dist/desktop/renderer.js": "r",
		"dist/equibop/main.js":     "m",
		"dist/equibop/renderer.js": "r",
	})

	p := &Packager{
		Root: root,
		Outfiles: []string{
			"dist/desktop/patcher.js",
			"dist/desktop/renderer.js",
			"dist/equibop/main.js",
			"dist/equibop/renderer.js",
			"dist/browser.js",
		},
		Logger: log.New(io.Discard),
	}

	packages := []target.Package{
		{Dir: "dist/desktop", Archive: "dist/desktop.asar", Name: "equicord", Main: "patcher.js"},
		{Dir: "dist/equibop", Archive: "dist/equibop.asar", Name: "equicord", Main: "main.js"},
	}

	results := []compiler.Result{
		result("dist/desktop/patcher.js", true),
		result("dist/desktop/renderer.js", true),
		result("dist/equibop/main.js", true),
		result("dist/equibop/renderer.js", false),
		result("dist/browser.js", true),
	}

	require.NoError(t, p.Run(results, packages))

	names, err := List(filepath.Join(root, "dist", "desktop.asar"))
	require.NoError(t, err)
	assert.Equal(t, []string{"package.json", "patcher.js", "renderer.js"}, names)

	// A failed target keeps its directory from being packaged
	assert.NoFileExists(t, filepath.Join(root, "dist", "equibop.asar"))
	assert.NoFileExists(t, filepath.Join(root, "dist", "equibop", ManifestFile))
}

func TestPackager_RunSkipsUnbuiltDirectories(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"dist/desktop/patcher.js": "p"})

	p := &Packager{
		Root:     root,
		Outfiles: []string{"dist/desktop/patcher.js", "dist/desktop/renderer.js"},
		Logger:   log.New(io.Discard),
	}

	packages := []target.Package{{Dir: "dist/desktop", Archive: "dist/desktop.asar", Name: "equicord", Main: "patcher.js"}}

	require.NoError(t, p.Run([]compiler.Result{result("dist/desktop/patcher.js", true)}, packages))
	assert.NoFileExists(t, filepath.Join(root, "dist", "desktop.asar"))
}

func TestPackager_RunIsolatesFailures(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"dist/desktop/patcher.js": "p",
		"dist/equibop/main.js":    "m",
	})

	// A directory in the archive's place makes the final rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist", "desktop.asar", "occupied"), 0o755))

	p := &Packager{
		Root:     root,
		Outfiles: []string{"dist/desktop/patcher.js", "dist/equibop/main.js"},
		Logger:   log.New(io.Discard),
	}

	packages := []target.Package{
		{Dir: "dist/desktop", Archive: "dist/desktop.asar", Name: "equicord", Main: "patcher.js"},
		{Dir: "dist/equibop", Archive: "dist/equibop.asar", Name: "equicord", Main: "main.js"},
	}

	err := p.Run([]compiler.Result{
		result("dist/desktop/patcher.js", true),
		result("dist/equibop/main.js", true),
	}, packages)
	require.Error(t, err)

	var pkgErr *Error
	require.True(t, errors.As(err, &pkgErr))
	assert.Equal(t, "dist/desktop.asar", pkgErr.Archive)

	// The other archive still completes
	names, err := List(filepath.Join(root, "dist", "equibop.asar"))
	require.NoError(t, err)
	assert.Equal(t, []string{"main.js", "package.json"}, names)
}
