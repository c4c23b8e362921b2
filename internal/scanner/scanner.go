// Package scanner discovers plugin folders across a fixed, ordered set of
// plugin roots and records which of them ship a native companion module.
//
// The scanner works on an fs.FS rooted at the source directory so the same
// code runs against the real tree (os.DirFS) and in-memory trees in tests.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path"
	"regexp"
	"strings"
)

// Conventional native entry locations, relative to a plugin folder.
// The direct file takes precedence over the folder form when both exist.
var nativeCandidates = []string{
	"native.ts",
	"native/index.ts",
}

var indexCandidates = []string{"index.ts", "index.tsx", "index.js", "index.jsx"}

var pluginNameRe = regexp.MustCompile(`name:\s*(?:"((?:[^"\\\n]|\\.)*)"|'((?:[^'\\\n]|\\.)*)')`)

// Entry is a single child of a plugin root
type Entry struct {
	// Root is the plugin root the entry was found in (e.g. "plugins")
	Root string

	// Name is the file or folder name inside Root
	Name string

	// Dir reports whether the entry is a folder plugin
	Dir bool
}

// Path returns the slash-separated path of the entry relative to the source root
func (e Entry) Path() string {
	return path.Join(e.Root, e.Name)
}

// NativeModule records that a plugin folder ships a privileged companion module
type NativeModule struct {
	Entry Entry

	// DisplayName is the plugin name the module is exported under
	DisplayName string

	// ModulePath is the import path relative to the source root, without extension
	ModulePath string

	// File is the discovered native file relative to the source root
	File string
}

// EnvironmentError reports a filesystem failure other than "not found".
// It aborts the whole build.
type EnvironmentError struct {
	Path string
	Err  error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("scanning %s: %v", e.Path, e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// Scanner walks plugin roots inside a source tree
type Scanner struct {
	FS    fs.FS
	Roots []string
}

// New creates a scanner over fsys for the given roots
func New(fsys fs.FS, roots []string) *Scanner {
	return &Scanner{FS: fsys, Roots: roots}
}

// Entries lazily yields every immediate child of every root, roots in
// declared order and children in directory listing order. Missing roots are
// skipped. The sequence stops after the first environment error.
func (s *Scanner) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, root := range s.Roots {
			dirents, err := fs.ReadDir(s.FS, root)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}

				yield(Entry{Root: root}, &EnvironmentError{Path: root, Err: err})
				return
			}

			for _, d := range dirents {
				if !yield(Entry{Root: root, Name: d.Name(), Dir: d.IsDir()}, nil) {
					return
				}
			}
		}
	}
}

// Natives returns every plugin folder with a native companion, in scan order
func (s *Scanner) Natives() ([]NativeModule, error) {
	var natives []NativeModule

	for entry, err := range s.Entries() {
		if err != nil {
			return nil, err
		}

		if !entry.Dir {
			continue
		}

		file, ok, err := s.findNative(entry)
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		name, err := s.ResolveName(entry)
		if err != nil {
			return nil, err
		}

		natives = append(natives, NativeModule{
			Entry:       entry,
			DisplayName: name,
			ModulePath:  strings.TrimSuffix(file, path.Ext(file)),
			File:        file,
		})
	}

	return natives, nil
}

// findNative checks the conventional native locations of a plugin folder
func (s *Scanner) findNative(entry Entry) (string, bool, error) {
	for _, candidate := range nativeCandidates {
		file := path.Join(entry.Path(), candidate)

		ok, err := s.exists(file)
		if err != nil {
			return "", false, err
		}

		if ok {
			return file, true, nil
		}
	}

	return "", false, nil
}

func (s *Scanner) exists(name string) (bool, error) {
	info, err := fs.Stat(s.FS, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, &EnvironmentError{Path: name, Err: err}
	}

	return !info.IsDir(), nil
}

// ResolveName extracts the plugin's declared name from its entry module.
// Falls back to the file or folder name when no declaration is found.
func (s *Scanner) ResolveName(entry Entry) (string, error) {
	content, err := s.readEntryModule(entry)
	if err != nil {
		return "", err
	}

	if m := pluginNameRe.FindSubmatch(content); m != nil {
		if m[1] != nil {
			return string(m[1]), nil
		}

		return string(m[2]), nil
	}

	return trimScriptExt(entry.Name), nil
}

func (s *Scanner) readEntryModule(entry Entry) ([]byte, error) {
	if !entry.Dir {
		return s.readOptional(entry.Path())
	}

	for _, index := range indexCandidates {
		content, err := s.readOptional(path.Join(entry.Path(), index))
		if err != nil {
			return nil, err
		}

		if content != nil {
			return content, nil
		}
	}

	return nil, nil
}

func (s *Scanner) readOptional(name string) ([]byte, error) {
	content, err := fs.ReadFile(s.FS, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, &EnvironmentError{Path: name, Err: err}
	}

	return content, nil
}

// Target returns the platform suffix encoded in a plugin name
// ("foo.desktop" -> "desktop", "foo.web.tsx" -> "web"), or "" for none.
func Target(name string) string {
	name = trimScriptExt(name)

	parts := strings.Split(name, ".")
	if len(parts) == 1 {
		return ""
	}

	return parts[len(parts)-1]
}

// trimScriptExt strips a TypeScript or JavaScript extension from a file name
func trimScriptExt(name string) string {
	for _, ext := range []string{".tsx", ".ts", ".jsx", ".js"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}

	return name
}
