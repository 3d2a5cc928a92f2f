package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DirStore keeps one file per package. Open searches Dirs in order; Save
// always writes to the first directory.
type DirStore struct {
	Dirs      []string
	Extension string
}

// NewDirStore creates a store over dirs. An empty extension selects
// DefaultExtension.
func NewDirStore(ext string, dirs ...string) *DirStore {
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &DirStore{Dirs: dirs, Extension: ext}
}

func (s *DirStore) fileName(name string) string {
	return name + s.Extension
}

// Path returns the file a package would be read from, or "" when none of the
// directories holds it.
func (s *DirStore) Path(name string) string {
	if validName(name) != nil {
		return ""
	}
	for _, dir := range s.Dirs {
		if p, ok := s.lookup(dir, name); ok {
			return p
		}
	}
	return ""
}

// lookup finds name in dir. An exact file name wins; otherwise the directory
// is scanned for a case-insensitive match.
func (s *DirStore) lookup(dir, name string) (string, bool) {
	p := filepath.Join(dir, s.fileName(name))
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		return p, true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	want := key(s.fileName(name))
	for _, e := range entries {
		if e.Type().IsRegular() && key(e.Name()) == want {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// Open reads the package called name.
func (s *DirStore) Open(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	p := s.Path(name)
	if p == "" {
		return nil, notFound(name)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", p, err)
	}
	return data, nil
}

// Save writes data next to a temporary name and renames it into place, so a
// reader never sees a partial package.
func (s *DirStore) Save(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if len(s.Dirs) == 0 {
		return fmt.Errorf("store: no directory to save %s into", name)
	}
	dir := s.Dirs[0]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	dst := filepath.Join(dir, s.fileName(name))
	if p, ok := s.lookup(dir, name); ok {
		dst = p
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// List returns every package name found on the search path, first spelling
// wins.
func (s *DirStore) List() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, dir := range s.Dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		for _, e := range entries {
			n := e.Name()
			if !e.Type().IsRegular() || strings.HasPrefix(n, ".") || !strings.EqualFold(filepath.Ext(n), s.Extension) {
				continue
			}
			n = n[:len(n)-len(s.Extension)]
			if !seen[key(n)] {
				seen[key(n)] = true
				out = append(out, n)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}
