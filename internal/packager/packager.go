// Package packager turns finished output directories into single-file
// archives for the desktop hosts.
package packager

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/target"
)

// Error reports a failure packaging one archive
type Error struct {
	Archive string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to package %s: %v", e.Archive, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Packager packages output directories after a build pass
type Packager struct {
	// Root is the project root package paths are relative to
	Root string

	// Outfiles are the outputs of every target in the catalog. A package
	// is only built when each of these inside its directory was built
	// successfully in the same pass.
	Outfiles []string

	Logger *log.Logger
}

// Run writes the manifest and archive of every package whose directory is
// complete. A failing package does not stop the others; their errors are
// joined.
func (p *Packager) Run(results []compiler.Result, packages []target.Package) error {
	built := make(map[string]bool, len(results))
	for _, res := range results {
		built[path.Clean(res.Target.Outfile)] = res.Success
	}

	errs := make([]error, len(packages))

	var g errgroup.Group
	for i, pkg := range packages {
		if reason := p.incomplete(pkg, built); reason != "" {
			p.Logger.Warn("Skipping package", "archive", pkg.Archive, "reason", reason)
			continue
		}

		g.Go(func() error {
			if err := p.pack(pkg); err != nil {
				errs[i] = &Error{Archive: pkg.Archive, Err: err}
				p.Logger.Error("Packaging failed", "archive", pkg.Archive, "err", err)
				return nil
			}

			p.Logger.Info("Packaged", "archive", pkg.Archive)
			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(errs...)
}

// incomplete explains why pkg cannot be packaged from this pass, or
// returns an empty string
func (p *Packager) incomplete(pkg target.Package, built map[string]bool) string {
	dir := path.Clean(pkg.Dir)
	owned := 0

	for _, out := range p.Outfiles {
		out = path.Clean(out)
		if !strings.HasPrefix(out, dir+"/") {
			continue
		}

		owned++

		ok, ran := built[out]
		switch {
		case !ran:
			return out + " was not built"
		case !ok:
			return out + " failed to build"
		}
	}

	if owned == 0 {
		return "no targets write into " + dir
	}

	return ""
}

func (p *Packager) pack(pkg target.Package) error {
	dir := filepath.Join(p.Root, filepath.FromSlash(pkg.Dir))
	archive := filepath.Join(p.Root, filepath.FromSlash(pkg.Archive))

	if err := WriteManifest(dir, Manifest{Name: pkg.Name, Main: pkg.Main}); err != nil {
		return err
	}

	return Pack(dir, archive)
}
