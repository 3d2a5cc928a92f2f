package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/chazu/strata/vm"
)

// buildPackage saves a small package through a throwaway runtime and
// returns the container bytes.
func buildPackage(t *testing.T, name string) []byte {
	t.Helper()
	rt := vm.NewRuntime(vm.Options{})
	pkg, err := rt.NewPackage(name)
	if err != nil {
		t.Fatal(err)
	}
	c, err := rt.NewClass(pkg, vm.ClassSpec{
		Name:       "Note",
		Properties: []vm.PropertySpec{{Name: "Text", Kind: vm.KindStr}},
	})
	if err != nil {
		t.Fatal(err)
	}
	o, err := rt.NewObject(c, pkg, "First", vm.FlagStandalone, nil)
	if err != nil {
		t.Fatal(err)
	}
	o.Base().Props().SetString("Text", 0, "hello")
	data, err := rt.BuildPackage(pkg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func openBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "packages.db"), BoltOptions{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T) vm.PackageStore
	}{
		{"dir", func(t *testing.T) vm.PackageStore { return NewDirStore("", t.TempDir()) }},
		{"bolt", func(t *testing.T) vm.PackageStore { return openBolt(t) }},
		{"mem", func(t *testing.T) vm.PackageStore { return NewMemStore() }},
	}
	for _, tt := range stores {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.open(t)
			data := buildPackage(t, "Notes")

			if _, err := s.Open("Notes"); !errors.Is(err, vm.ErrPackageNotFound) {
				t.Fatalf("open before save: got %v, want ErrPackageNotFound", err)
			}
			if err := s.Save("Notes", data); err != nil {
				t.Fatal(err)
			}
			got, err := s.Open("notes")
			if err != nil {
				t.Fatalf("open ignoring case: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("stored bytes differ")
			}

			second := buildPackage(t, "Notes")
			if err := s.Save("NOTES", second); err != nil {
				t.Fatal(err)
			}
			got, _ = s.Open("Notes")
			if !bytes.Equal(got, second) {
				t.Error("save did not replace the previous generation")
			}

			if err := s.Save("../escape", data); err == nil {
				t.Error("a path-like name was accepted")
			}

			names, err := s.(Lister).List()
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(names, []string{"Notes"}) {
				t.Errorf("List: got %v, want [Notes]", names)
			}
		})
	}
}

func TestStoreLoadsThroughRuntime(t *testing.T) {
	s := NewDirStore("pkg", t.TempDir())
	rt := vm.NewRuntime(vm.Options{Store: s})
	pkg, err := rt.NewPackage("Journal")
	if err != nil {
		t.Fatal(err)
	}
	c, err := rt.NewClass(pkg, vm.ClassSpec{
		Name:       "Entry",
		Properties: []vm.PropertySpec{{Name: "Day", Kind: vm.KindInt}},
	})
	if err != nil {
		t.Fatal(err)
	}
	o, err := rt.NewObject(c, pkg, "Monday", vm.FlagStandalone, nil)
	if err != nil {
		t.Fatal(err)
	}
	o.Base().Props().SetInt("Day", 0, 1)
	if err := rt.SavePackage(pkg, vm.SaveOptions{}); err != nil {
		t.Fatal(err)
	}
	if p := s.Path("Journal"); filepath.Ext(p) != ".pkg" {
		t.Errorf("saved to %q, want a .pkg file", p)
	}

	rt2 := vm.NewRuntime(vm.Options{Store: s})
	if _, err := rt2.LoadPackage("Journal"); err != nil {
		t.Fatal(err)
	}
	if got := rt2.FindPath("Journal.Monday").Base().Props().GetInt("Day", 0); got != 1 {
		t.Errorf("Day: got %d, want 1", got)
	}
}

func TestDirStoreSearchPath(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	data := buildPackage(t, "Shared")
	if err := os.WriteFile(filepath.Join(second, "Shared.stp"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewDirStore("", first, second)
	got, err := s.Open("shared")
	if err != nil {
		t.Fatalf("open from the second directory: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("wrong bytes from the search path")
	}

	// Saves go to the first directory and then shadow the second.
	if err := s.Save("Shared", data); err != nil {
		t.Fatal(err)
	}
	if p := s.Path("Shared"); filepath.Dir(p) != first {
		t.Errorf("resolved %q, want a file in %q", p, first)
	}
	leftovers, _ := filepath.Glob(filepath.Join(first, ".*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestBoltRecord(t *testing.T) {
	s := openBolt(t)
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }

	data := buildPackage(t, "Ledger")
	if err := s.Save("Ledger", data); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Record("ledger")
	if err != nil {
		t.Fatal(err)
	}
	sum, err := vm.ReadSummary(data)
	if err != nil {
		t.Fatal(err)
	}
	if rec.GUID != sum.GUID.String() {
		t.Errorf("GUID: got %s, want %s", rec.GUID, sum.GUID)
	}
	if !rec.Saved().Equal(stamp) {
		t.Errorf("saved at %v, want %v", rec.Saved(), stamp)
	}
	if rec.Generations != 1 {
		t.Errorf("generations: got %d, want 1", rec.Generations)
	}

	if err := s.Save("Broken", []byte("not a package")); err == nil {
		t.Error("saved bytes without a summary")
	}
	if err := s.Delete("Ledger"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("Ledger"); !IsNotFound(err) {
		t.Errorf("second delete: got %v, want not found", err)
	}
}
