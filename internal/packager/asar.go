package packager

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// An asar archive is a pickled JSON index followed by the concatenated
// file bodies:
//
//	uint32 4 | uint32 headerSize | header pickle | bodies...
//
// The header pickle is uint32 payloadSize | uint32 jsonLen | json | padding
// to a 4-byte boundary. File offsets in the index are decimal strings
// relative to the first body byte.

// maxHeaderSize bounds the index read from an untrusted archive
const maxHeaderSize = 64 << 20

// node is one index entry. Directories have a non-nil files map.
type node struct {
	Files      map[string]*node `json:"files,omitempty"`
	Size       int64            `json:"size"`
	Offset     string           `json:"offset,omitempty"`
	Executable bool             `json:"executable,omitempty"`
	Unpacked   bool             `json:"unpacked,omitempty"`
	Link       string           `json:"link,omitempty"`
}

func (n *node) isDir() bool {
	return n.Files != nil
}

// MarshalJSON writes directories as {"files":{...}} even when empty
func (n *node) MarshalJSON() ([]byte, error) {
	if n.isDir() {
		return json.Marshal(struct {
			Files map[string]*node `json:"files"`
		}{n.Files})
	}

	type file node
	return json.Marshal((*file)(n))
}

// packedFile is a file body in archive order
type packedFile struct {
	src  string
	size int64
}

// Pack snapshots dir into a single archive file. The archive is written to
// a temporary file beside archive and renamed into place.
func Pack(dir, archive string) error {
	root := &node{Files: make(map[string]*node)}

	var files []packedFile
	var offset int64

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		parent := lookupDir(root, path.Dir(filepath.ToSlash(rel)))
		name := d.Name()

		if d.IsDir() {
			parent.Files[name] = &node{Files: make(map[string]*node)}
			return nil
		}

		if !d.Type().IsRegular() {
			return fmt.Errorf("unsupported file type: %s", rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		parent.Files[name] = &node{
			Size:       info.Size(),
			Offset:     strconv.FormatInt(offset, 10),
			Executable: info.Mode()&0o111 != 0,
		}

		files = append(files, packedFile{src: p, size: info.Size()})
		offset += info.Size()

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	index, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to encode archive index: %w", err)
	}

	return writeAtomic(archive, func(w io.Writer) error {
		if _, err := w.Write(encodeHeader(index)); err != nil {
			return err
		}

		for _, f := range files {
			if err := copyBody(w, f); err != nil {
				return err
			}
		}

		return nil
	})
}

// lookupDir returns the directory node for a slash path already added by
// the lexical walk
func lookupDir(root *node, dir string) *node {
	if dir == "." {
		return root
	}

	n := root
	for _, part := range strings.Split(dir, "/") {
		n = n.Files[part]
	}

	return n
}

func copyBody(w io.Writer, f packedFile) error {
	in, err := os.Open(f.src)
	if err != nil {
		return err
	}

	defer in.Close()

	// The index already records the size; a file that changed size
	// mid-pack would corrupt every later offset
	n, err := io.Copy(w, io.LimitReader(in, f.size))
	if err != nil {
		return err
	}

	if n != f.size {
		return fmt.Errorf("%s changed while packing", f.src)
	}

	return nil
}

func encodeHeader(index []byte) []byte {
	padded := (len(index) + 3) &^ 3
	payload := 4 + padded

	buf := make([]byte, 8+4+payload)
	binary.LittleEndian.PutUint32(buf[0:], 4)
	binary.LittleEndian.PutUint32(buf[4:], uint32(4+payload))
	binary.LittleEndian.PutUint32(buf[8:], uint32(payload))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(index)))
	copy(buf[16:], index)

	return buf
}

// readIndex parses the archive index and returns it with the offset of
// the first file body
func readIndex(r io.ReaderAt) (*node, int64, error) {
	var size [8]byte
	if _, err := r.ReadAt(size[:], 0); err != nil {
		return nil, 0, fmt.Errorf("failed to read archive header: %w", err)
	}

	headerSize := binary.LittleEndian.Uint32(size[4:])
	if binary.LittleEndian.Uint32(size[:4]) != 4 || headerSize < 8 || headerSize > maxHeaderSize {
		return nil, 0, errors.New("not an asar archive")
	}

	header := make([]byte, headerSize)
	if _, err := r.ReadAt(header, 8); err != nil {
		return nil, 0, fmt.Errorf("failed to read archive index: %w", err)
	}

	jsonLen := binary.LittleEndian.Uint32(header[4:])
	if uint64(jsonLen) > uint64(headerSize)-8 {
		return nil, 0, errors.New("corrupt archive index")
	}

	var root node
	if err := json.Unmarshal(header[8:8+jsonLen], &root); err != nil {
		return nil, 0, fmt.Errorf("corrupt archive index: %w", err)
	}

	if !root.isDir() {
		return nil, 0, errors.New("corrupt archive index: root is not a directory")
	}

	return &root, 8 + int64(headerSize), nil
}

// visit walks the index depth-first in name order
func visit(n *node, dir string, fn func(name string, n *node) error) error {
	for _, name := range slices.Sorted(maps.Keys(n.Files)) {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("invalid entry name %q", name)
		}

		child := n.Files[name]
		full := path.Join(dir, name)

		if err := fn(full, child); err != nil {
			return err
		}

		if child.isDir() {
			if err := visit(child, full, fn); err != nil {
				return err
			}
		}
	}

	return nil
}

// List returns every file path in the archive, slash-separated and sorted
func List(archive string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	root, _, err := readIndex(f)
	if err != nil {
		return nil, err
	}

	var names []string
	err = visit(root, "", func(name string, n *node) error {
		if !n.isDir() {
			names = append(names, name)
		}

		return nil
	})

	slices.Sort(names)

	return names, err
}

// Unpack recreates the archived directory tree under dest
func Unpack(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}

	defer f.Close()

	root, base, err := readIndex(f)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	return visit(root, "", func(name string, n *node) error {
		target := filepath.Join(dest, filepath.FromSlash(name))

		if n.isDir() {
			return os.MkdirAll(target, 0o755)
		}

		if n.Unpacked || n.Link != "" {
			return fmt.Errorf("%s: unpacked and linked entries are not supported", name)
		}

		offset, err := strconv.ParseInt(n.Offset, 10, 64)
		if err != nil || offset < 0 || n.Size < 0 {
			return fmt.Errorf("%s: invalid offset %q", name, n.Offset)
		}

		mode := os.FileMode(0o644)
		if n.Executable {
			mode = 0o755
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return err
		}

		written, copyErr := io.Copy(out, io.NewSectionReader(f, base+offset, n.Size))
		if copyErr == nil && written != n.Size {
			copyErr = io.ErrUnexpectedEOF
		}

		if err := out.Close(); copyErr == nil {
			copyErr = err
		}

		if copyErr != nil {
			return fmt.Errorf("failed to extract %s: %w", name, copyErr)
		}

		return nil
	})
}
