package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dir implements Source backed by a directory on the local file system.
type Dir struct {
	root string // absolute path
	ext  string
}

// NewDir creates a Dir source rooted at the given directory. Only files with
// ext are listed; an empty ext lists every regular file.
// The directory must already exist.
func NewDir(root, ext string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("source: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: root is not a directory: %s", abs)
	}
	return &Dir{root: abs, ext: ext}, nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string { return d.root }

func (d *Dir) String() string { return "dir:" + d.root }

// safePath resolves a relative path against the root and rejects
// any result that escapes it (directory traversal).
func (d *Dir) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if rel == "" || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("source: invalid path: %q", rel)
	}
	abs, err := filepath.Abs(filepath.Join(d.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("source: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("source: path escapes root: %s", rel)
	}
	return abs, nil
}

// List returns the matching files directly under the root, sorted by name.
// Subdirectories are reported as EntryDir and never descended into.
func (d *Dir) List(_ context.Context) ([]Entry, error) {
	items, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("source: list: %w", err)
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		name := it.Name()
		if hidden(name) {
			continue
		}
		if it.IsDir() {
			out = append(out, Entry{Name: name, Path: name, Type: EntryDir})
			continue
		}
		if !it.Type().IsRegular() || !matchExt(name, d.ext) {
			continue
		}
		out = append(out, Entry{Name: name, Path: name, Type: EntryFile})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Fetch returns the raw bytes of the entry's file.
func (d *Dir) Fetch(_ context.Context, e Entry) ([]byte, error) {
	abs, err := d.safePath(e.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", e.Path, err)
	}
	return data, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// matchExt reports whether name ends in ext; an empty ext matches everything.
func matchExt(name, ext string) bool {
	return strings.HasSuffix(name, ext)
}
