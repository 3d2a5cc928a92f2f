// Package manifest handles strata.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/strata/store"
	"github.com/chazu/strata/vm"
	"github.com/tliron/commonlog"
)

// FileName is the manifest looked up by Load and FindAndLoad.
const FileName = "strata.toml"

// Store kinds.
const (
	StoreDir  = "dir"
	StoreBolt = "bolt"
	StoreMem  = "mem"
)

// Manifest represents a strata.toml project configuration.
type Manifest struct {
	Runtime RuntimeConfig `toml:"runtime"`
	GC      GCConfig      `toml:"gc"`
	Store   StoreConfig   `toml:"store"`
	Log     LogConfig     `toml:"log"`

	// Dir is the directory containing the strata.toml file (set at load time).
	Dir string `toml:"-"`
}

// RuntimeConfig sizes the runtime.
type RuntimeConfig struct {
	MaxObjects   int      `toml:"max_objects"`
	RootPackages []string `toml:"root_packages"`
}

// GCConfig selects the collector's roots.
type GCConfig struct {
	// KeepFlags names the object flags whose holders are roots.
	KeepFlags []string `toml:"keep_flags"`
}

// StoreConfig says where packages are kept.
type StoreConfig struct {
	Kind      string   `toml:"kind"`
	Dirs      []string `toml:"dirs"`
	BoltPath  string   `toml:"bolt_path"`
	Extension string   `toml:"extension"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the manifest used when no strata.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if len(m.GC.KeepFlags) == 0 {
		m.GC.KeepFlags = []string{"standalone"}
	}
	if m.Store.Kind == "" {
		m.Store.Kind = StoreDir
	}
	if len(m.Store.Dirs) == 0 {
		m.Store.Dirs = []string{"packages"}
	}
	if m.Store.BoltPath == "" {
		m.Store.BoltPath = "packages.db"
	}
	if m.Store.Extension == "" {
		m.Store.Extension = store.DefaultExtension
	}
}

// Load parses a strata.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults()

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Runtime.MaxObjects < 0 {
		return fmt.Errorf("runtime.max_objects must not be negative, got %d", m.Runtime.MaxObjects)
	}
	if _, err := vm.ParseObjectFlags(m.GC.KeepFlags); err != nil {
		return fmt.Errorf("gc.keep_flags: %w", err)
	}
	switch m.Store.Kind {
	case StoreDir, StoreBolt, StoreMem:
	default:
		return fmt.Errorf("store.kind must be %q, %q or %q, got %q", StoreDir, StoreBolt, StoreMem, m.Store.Kind)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a strata.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// StoreDirPaths returns absolute paths for the configured package directories.
func (m *Manifest) StoreDirPaths() []string {
	var paths []string
	for _, d := range m.Store.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// GCOptions converts the gc section.
func (m *Manifest) GCOptions() (vm.GCOptions, error) {
	keep, err := vm.ParseObjectFlags(m.GC.KeepFlags)
	if err != nil {
		return vm.GCOptions{}, err
	}
	return vm.GCOptions{Required: keep}, nil
}

// RuntimeOptions converts the manifest to runtime options using s as the
// package store.
func (m *Manifest) RuntimeOptions(s vm.PackageStore) (vm.Options, error) {
	gc, err := m.GCOptions()
	if err != nil {
		return vm.Options{}, err
	}
	return vm.Options{
		MaxObjects: m.Runtime.MaxObjects,
		Store:      s,
		GC:         gc,
	}, nil
}

// OpenStore builds the configured package store. The returned close
// function releases it and is never nil.
func (m *Manifest) OpenStore() (vm.PackageStore, func() error, error) {
	noop := func() error { return nil }
	switch m.Store.Kind {
	case StoreBolt:
		s, err := store.OpenBolt(m.resolve(m.Store.BoltPath), store.BoltOptions{})
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case StoreMem:
		return store.NewMemStore(), noop, nil
	default:
		return store.NewDirStore(m.Store.Extension, m.StoreDirPaths()...), noop, nil
	}
}

// ConfigureLog applies the log section to commonlog.
func (m *Manifest) ConfigureLog() {
	if m.Log.File == "" {
		commonlog.Configure(m.Log.Verbosity, nil)
		return
	}
	path := m.resolve(m.Log.File)
	commonlog.Configure(m.Log.Verbosity, &path)
}

// NewRuntime opens the store, creates a runtime and loads the root packages.
func (m *Manifest) NewRuntime() (*vm.Runtime, func() error, error) {
	s, closeStore, err := m.OpenStore()
	if err != nil {
		return nil, nil, err
	}
	opts, err := m.RuntimeOptions(s)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	rt := vm.NewRuntime(opts)
	for _, name := range m.Runtime.RootPackages {
		pkg, err := rt.LoadPackage(name)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("root package %s: %w", name, err)
		}
		rt.AddToRoot(pkg)
	}
	return rt, closeStore, nil
}
