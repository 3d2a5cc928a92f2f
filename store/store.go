// Package store provides the places saved packages live: a search path of
// directories, a bbolt database and an in-memory map. Every store satisfies
// vm.PackageStore.
package store

import (
	"fmt"
	"strings"

	"github.com/chazu/strata/vm"
)

// DefaultExtension is appended to package names by DirStore.
const DefaultExtension = ".stp"

// Lister is implemented by stores that can enumerate their packages.
type Lister interface {
	List() ([]string, error)
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", vm.ErrPackageNotFound, name)
}

// validName rejects names that would escape a directory or a bucket key
// space.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\:`) || name == "." || name == ".." {
		return fmt.Errorf("store: invalid package name %q", name)
	}
	return nil
}

func key(name string) string {
	return strings.ToLower(name)
}
