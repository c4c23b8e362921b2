package compiler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Norgate-AV/pbuild/internal/target"
)

// Commander interface for testing
type Commander interface {
	Run() error
}

// CommandBuilder handles building bundler commands
type CommandBuilder struct {
	execCommand func(ctx context.Context, dir string, stderr io.Writer, name string, args ...string) Commander
}

// NewCommandBuilder creates a new command builder
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{
		execCommand: func(ctx context.Context, dir string, stderr io.Writer, name string, args ...string) Commander {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Dir = dir
			cmd.Stdout = io.Discard
			cmd.Stderr = stderr
			return cmd
		},
	}
}

// BuildCommandArgs builds the esbuild arguments for a target. outfile is
// where esbuild writes; aliases map reserved specifiers to module files.
func (cb *CommandBuilder) BuildCommandArgs(t target.Target, outfile string, aliases map[string]string) []string {
	cmdArgs := []string{
		t.Entry,
		"--bundle",
		"--outfile=" + outfile,
		"--format=" + t.Format,
		"--platform=" + t.Platform,
		"--target=esnext",
		"--sourcemap=" + t.Sourcemap,
		"--log-level=warning",
		"--color=false",
	}

	if t.Minify {
		cmdArgs = append(cmdArgs, "--minify")
	}

	if t.GlobalName != "" {
		cmdArgs = append(cmdArgs, "--global-name="+t.GlobalName)
	}

	if t.JSXFactory != "" {
		cmdArgs = append(cmdArgs, "--jsx-factory="+t.JSXFactory)
	}

	if t.JSXFragment != "" {
		cmdArgs = append(cmdArgs, "--jsx-fragment="+t.JSXFragment)
	}

	for _, inject := range t.Inject {
		cmdArgs = append(cmdArgs, "--inject:"+inject)
	}

	for _, ext := range t.External {
		cmdArgs = append(cmdArgs, "--external:"+ext)
	}

	// Sorted so identical targets produce identical command lines
	for _, key := range slices.Sorted(maps.Keys(t.Defines)) {
		cmdArgs = append(cmdArgs, fmt.Sprintf("--define:%s=%s", key, t.Defines[key]))
	}

	for _, spec := range slices.Sorted(maps.Keys(aliases)) {
		cmdArgs = append(cmdArgs, fmt.Sprintf("--alias:%s=%s", spec, aliases[spec]))
	}

	if t.Footer != "" {
		cmdArgs = append(cmdArgs, "--footer:js="+t.Footer)
	}

	return cmdArgs
}

// ExecuteCommand runs the bundler and returns its log output
func (cb *CommandBuilder) ExecuteCommand(ctx context.Context, dir, bundlerPath string, cmdArgs []string) (string, error) {
	var stderr bytes.Buffer

	c := cb.execCommand(ctx, dir, &stderr, bundlerPath, cmdArgs...)
	err := c.Run()

	return stderr.String(), err
}

// ESBuild compiles targets with the esbuild executable
type ESBuild struct {
	// Path to the esbuild executable
	Path string

	// Root is the project root; target paths are relative to it
	Root string

	// SourceDir is the plugin source root virtual modules import from
	SourceDir string

	// WorkDir holds virtual modules and staged outputs
	WorkDir string

	builder *CommandBuilder
}

// NewESBuild creates an esbuild-backed compiler
func NewESBuild(path, root, sourceDir, workDir string) *ESBuild {
	return &ESBuild{
		Path:      path,
		Root:      root,
		SourceDir: sourceDir,
		WorkDir:   workDir,
		builder:   NewCommandBuilder(),
	}
}

// Compile builds t into a staging directory and promotes the outputs into
// place only after esbuild succeeds
func (e *ESBuild) Compile(ctx context.Context, t target.Target) Result {
	start := time.Now()

	result := e.compile(ctx, t)
	result.Duration = time.Since(start)

	return result
}

func (e *ESBuild) compile(ctx context.Context, t target.Target) Result {
	key := workKey(t.ID)

	aliases, err := e.writeModules(t, filepath.Join(e.WorkDir, "virtual", key))
	if err != nil {
		result := Failed(t, "%v", err)
		result.Fatal = err
		return result
	}

	staging := filepath.Join(e.WorkDir, "staging", key)
	if err := os.RemoveAll(staging); err != nil {
		return Failed(t, "failed to clear staging directory: %v", err)
	}

	if err := os.MkdirAll(staging, 0o755); err != nil {
		return Failed(t, "failed to create staging directory: %v", err)
	}

	outfile := filepath.Join(staging, filepath.Base(filepath.FromSlash(t.Outfile)))
	cmdArgs := e.builder.BuildCommandArgs(t, outfile, aliases)

	output, err := e.builder.ExecuteCommand(ctx, e.Root, e.Path, cmdArgs)
	diags := ParseDiagnostics(output)

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Failed(t, "failed to run %s: %v", e.Path, err)
		}

		if len(diags) == 0 {
			diags = []Diagnostic{{
				Severity: SeverityError,
				Message:  fmt.Sprintf("esbuild exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(output)),
			}}
		}

		return Result{Target: t, Diagnostics: diags}
	}

	if _, err := os.Stat(outfile); err != nil {
		diags = append(diags, Diagnostic{Severity: SeverityError, Message: fmt.Sprintf("esbuild reported success but wrote no %s", t.Outfile)})
		return Result{Target: t, Diagnostics: diags}
	}

	dest := filepath.Join(e.Root, filepath.FromSlash(t.Outfile))
	if err := promote(staging, dest); err != nil {
		diags = append(diags, Diagnostic{Severity: SeverityError, Message: err.Error()})
		return Result{Target: t, Diagnostics: diags}
	}

	return Result{Target: t, Success: true, Diagnostics: diags}
}

// writeModules renders the target's virtual modules into dir and returns the
// alias flags binding each specifier to its file
func (e *ESBuild) writeModules(t target.Target, dir string) (map[string]string, error) {
	if len(t.Modules) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create virtual module directory: %w", err)
	}

	importBase, err := filepath.Rel(dir, e.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}

	aliases := make(map[string]string, len(t.Modules))
	for _, mod := range t.Modules {
		code, err := mod.Render(filepath.ToSlash(importBase))
		if err != nil {
			return nil, err
		}

		file := filepath.Join(dir, safeName(mod.Specifier)+".ts")
		if err := os.WriteFile(file, []byte(code), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write virtual module %s: %w", mod.Specifier, err)
		}

		rel, err := filepath.Rel(e.Root, file)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve virtual module %s: %w", mod.Specifier, err)
		}

		// esbuild resolves alias targets from the working directory
		aliases[mod.Specifier] = "./" + filepath.ToSlash(rel)
	}

	return aliases, nil
}

// promote moves every staged file next to outfile. Each file is replaced
// with a rename, so readers see either the old or the new file. Companion
// outputs of outfile that this build did not produce are removed.
func promote(staging, outfile string) error {
	destDir := filepath.Dir(outfile)
	produced := make(map[string]bool)

	err := filepath.WalkDir(staging, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}

		dst := filepath.Join(destDir, rel)
		produced[dst] = true

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		if err := os.Rename(path, dst); err == nil {
			return nil
		}

		// Staging and output may live on different filesystems
		if err := copyAtomic(path, dst); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", rel, err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, stale := range companions(outfile) {
		if produced[stale] {
			continue
		}

		if err := os.Remove(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale %s: %w", filepath.Base(stale), err)
		}
	}

	return nil
}

// companions lists the files esbuild may write beside outfile: its source
// map and the extracted stylesheet with its map
func companions(outfile string) []string {
	stem := strings.TrimSuffix(outfile, filepath.Ext(outfile))

	return []string{
		outfile + ".map",
		stem + ".css",
		stem + ".css.map",
	}
}

// copyAtomic copies src next to dst and renames it over dst
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}

	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".pbuild-*")
	if err != nil {
		return err
	}

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), dst)
}

// workKey names the per-target work directories. The hash keeps ids that
// sanitize alike (x/main and x_main) apart.
func workKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return safeName(id) + "-" + hex.EncodeToString(sum[:4])
}

// safeName turns a target id or specifier into a file name
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimPrefix(s, "~"))
}
