package cache

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// CopyArtifacts copies bundle outputs from root into the cache
func CopyArtifacts(root, destDir string, outputs []string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	for _, output := range outputs {
		src := filepath.Join(root, filepath.FromSlash(output))
		dst := filepath.Join(destDir, filepath.FromSlash(output))

		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to copy %s: %w", output, err)
		}
	}

	return nil
}

// RestoreArtifacts copies cached outputs back under root
func RestoreArtifacts(cacheDir, root string, outputs []string) error {
	for _, output := range outputs {
		src := filepath.Join(cacheDir, filepath.FromSlash(output))
		dst := filepath.Join(root, filepath.FromSlash(output))

		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to restore %s: %w", output, err)
		}
	}

	return nil
}

// CollectOutputs lists the files a bundle produced next to its outfile:
// the bundle itself, an extracted stylesheet, and their source maps.
// Results are slash paths relative to root.
func CollectOutputs(root, outfile string) ([]string, error) {
	dir := path.Dir(outfile)
	stem := strings.TrimSuffix(path.Base(outfile), path.Ext(outfile))

	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(dir)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var outputs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if isOutputFor(entry.Name(), stem) {
			outputs = append(outputs, path.Join(dir, entry.Name()))
		}
	}

	return outputs, nil
}

// isOutputFor reports whether name is one of the files esbuild writes for
// a bundle named stem
func isOutputFor(name, stem string) bool {
	rest, ok := strings.CutPrefix(name, stem+".")
	if !ok {
		return false
	}

	rest = strings.TrimSuffix(rest, ".map")

	return rest == "js" || rest == "css"
}

// copyFile copies src over dst. The copy is written beside dst and renamed
// into place so dst is never observed half-written.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".pbuild-*")
	if err != nil {
		return err
	}

	if _, err := io.Copy(tmp, srcFile); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	// Preserve file permissions
	srcInfo, err := os.Stat(src)
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Chmod(tmp.Name(), srcInfo.Mode()); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), dst)
}
