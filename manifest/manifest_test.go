package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/strata/store"
	"github.com/chazu/strata/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[runtime]
max_objects = 4096
root_packages = ["Game"]

[gc]
keep_flags = ["standalone", "public"]

[store]
kind = "bolt"
bolt_path = "data/packages.db"
extension = ".pkg"

[log]
verbosity = 2
file = "strata.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Runtime.MaxObjects != 4096 {
		t.Errorf("max_objects = %d, want 4096", m.Runtime.MaxObjects)
	}
	if len(m.Runtime.RootPackages) != 1 || m.Runtime.RootPackages[0] != "Game" {
		t.Errorf("root_packages = %v, want [Game]", m.Runtime.RootPackages)
	}
	if m.Store.Kind != StoreBolt {
		t.Errorf("store kind = %q, want bolt", m.Store.Kind)
	}
	if m.Store.Extension != ".pkg" {
		t.Errorf("extension = %q, want .pkg", m.Store.Extension)
	}
	if m.Log.Verbosity != 2 || m.Log.File != "strata.log" {
		t.Errorf("log = %+v", m.Log)
	}

	gc, err := m.GCOptions()
	if err != nil {
		t.Fatal(err)
	}
	if gc.Required != vm.FlagStandalone|vm.FlagPublic {
		t.Errorf("keep flags = %s, want standalone|public", gc.Required)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[runtime]\nmax_objects = 100\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Store.Kind != StoreDir {
		t.Errorf("default store kind = %q, want dir", m.Store.Kind)
	}
	if len(m.Store.Dirs) != 1 || m.Store.Dirs[0] != "packages" {
		t.Errorf("default store dirs = %v, want [packages]", m.Store.Dirs)
	}
	if m.Store.Extension != store.DefaultExtension {
		t.Errorf("default extension = %q", m.Store.Extension)
	}
	gc, err := m.GCOptions()
	if err != nil {
		t.Fatal(err)
	}
	if gc.Required != vm.FlagStandalone {
		t.Errorf("default keep flags = %s, want standalone", gc.Required)
	}
}

func TestLoadManifestRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad flag", "[gc]\nkeep_flags = [\"sticky\"]\n"},
		{"bad kind", "[store]\nkind = \"s3\"\n"},
		{"negative size", "[runtime]\nmax_objects = -1\n"},
		{"bad toml", "[runtime\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("Load accepted an invalid manifest")
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[runtime]\nmax_objects = 77\n")

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Runtime.MaxObjects != 77 {
		t.Errorf("max_objects = %d, want 77", m.Runtime.MaxObjects)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no strata.toml exists")
	}
}

func TestStoreDirPaths(t *testing.T) {
	m := &Manifest{
		Dir:   "/app",
		Store: StoreConfig{Dirs: []string{"packages", "/shared/packages"}},
	}

	paths := m.StoreDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/packages" {
		t.Errorf("paths[0] = %q, want /app/packages", paths[0])
	}
	if paths[1] != "/shared/packages" {
		t.Errorf("paths[1] = %q, want /shared/packages", paths[1])
	}
}

func TestNewRuntimeLoadsRoots(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[runtime]\nroot_packages = [\"Town\"]\n")
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	// Save a package with a first runtime over the same store.
	s, closeStore, err := m.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore()
	rt := vm.NewRuntime(vm.Options{Store: s})
	pkg, err := rt.NewPackage("Town")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.NewClass(pkg, vm.ClassSpec{Name: "House"}); err != nil {
		t.Fatal(err)
	}
	if err := rt.SavePackage(pkg, vm.SaveOptions{}); err != nil {
		t.Fatal(err)
	}

	rt2, closeStore2, err := m.NewRuntime()
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore2()
	town := rt2.FindPackage("Town")
	if town == nil {
		t.Fatal("root package was not loaded")
	}
	if !town.HasFlags(vm.FlagRootSet) {
		t.Error("root package is not pinned")
	}
	if rt2.FindPath("Town.House") == nil {
		t.Error("Town.House missing")
	}

	if _, _, err := Default(dir).NewRuntime(); err != nil {
		t.Errorf("default manifest: %v", err)
	}
}
