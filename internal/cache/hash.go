package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"maps"
	"slices"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Norgate-AV/pbuild/internal/target"
)

// DefaultInputs are the source globs hashed into every fingerprint
var DefaultInputs = []string{
	"src/**/*.{ts,tsx,js,jsx,mts,cts,css,json}",
	"browser/**/*.{ts,tsx,js,jsx,json}",
	"package.json",
	"tsconfig.json",
}

// Fingerprint hashes a target together with the source files it may read.
// salt carries anything outside the tree that affects output, such as the
// bundler version.
func Fingerprint(t target.Target, fsys fs.FS, patterns []string, salt string) (string, error) {
	h := sha256.New()

	writeField(h, "salt", salt)
	writeField(h, "id", t.ID)
	writeField(h, "entry", t.Entry)
	writeField(h, "outfile", t.Outfile)
	writeField(h, "format", t.Format)
	writeField(h, "platform", t.Platform)
	writeField(h, "sourcemap", t.Sourcemap)
	writeField(h, "footer", t.Footer)
	writeField(h, "global", t.GlobalName)
	writeField(h, "minify", strconv.FormatBool(t.Minify))
	writeField(h, "jsx", t.JSXFactory+"|"+t.JSXFragment)

	for _, inject := range t.Inject {
		writeField(h, "inject", inject)
	}

	for _, ext := range t.External {
		writeField(h, "external", ext)
	}

	// Defines sorted for consistency
	for _, key := range slices.Sorted(maps.Keys(t.Defines)) {
		writeField(h, "define", key+"="+t.Defines[key])
	}

	for _, mod := range t.Modules {
		code, err := mod.Render(".")
		if err != nil {
			return "", err
		}

		writeField(h, "module", mod.Specifier+"\n"+code)
	}

	files, err := matchInputs(fsys, patterns)
	if err != nil {
		return "", err
	}

	for _, name := range files {
		if err := hashFile(h, fsys, name); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// matchInputs expands the globs into a sorted, de-duplicated file list
func matchInputs(fsys fs.FS, patterns []string) ([]string, error) {
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", pattern, err)
		}

		for _, m := range matches {
			seen[m] = true
		}
	}

	return slices.Sorted(maps.Keys(seen)), nil
}

func hashFile(h hash.Hash, fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}

	defer f.Close()

	writeField(h, "file", name)
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash %s: %w", name, err)
	}

	writeField(h, "end", name)

	return nil
}

// writeField writes a length-prefixed field so adjacent values cannot
// collide
func writeField(h hash.Hash, name, value string) {
	fmt.Fprintf(h, "%s:%d:%s\n", name, len(value), value)
}
