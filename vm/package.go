package vm

import (
	"fmt"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Package: top-level container mapped to one saved file
// ---------------------------------------------------------------------------

// Package is a top-level object. Every object saved with a package is
// transitively owned by it.
type Package struct {
	Object

	PackageFlags PackageFlags
	// GUID identifies the generation the package was last loaded from or
	// saved as.
	GUID uuid.UUID
	// Generations is the save history, oldest first.
	Generations []Generation

	linker *Linker
}

// Linker returns the linker the package was loaded through, if any.
func (p *Package) Linker() *Linker {
	return p.linker
}

// IsResident reports whether p is still installed in its runtime.
func (p *Package) IsResident() bool {
	return p.rt != nil && p.index >= 0 && !p.HasFlags(FlagDestroyed)
}

// NewPackage creates an empty package.
func (rt *Runtime) NewPackage(name string) (*Package, error) {
	if name == "" {
		return nil, fmt.Errorf("new package: empty name")
	}
	o, err := rt.NewObject(rt.core.PackageClass, nil, name, FlagPublic|FlagStandalone, nil)
	if err != nil {
		return nil, err
	}
	return o.(*Package), nil
}

// Contents returns every live object whose outermost object is p, in table
// order.
func (p *Package) Contents() []Obj {
	var out []Obj
	p.rt.ForEachObject(func(o Obj) bool {
		b := o.Base()
		if b != &p.Object && !b.HasFlags(FlagDestroyed) && b.IsIn(p) {
			out = append(out, o)
		}
		return true
	})
	return out
}

// Serialize walks the package header. Traces also visit the name table of the
// generation the package was loaded from, so those names stay interned while
// the package is resident.
func (p *Package) Serialize(ar Archive) {
	p.Object.Serialize(ar)
	if ar.Flags()&(ArLoading|ArSaving) != 0 || p.linker == nil {
		return
	}
	for i := range p.linker.Names {
		ar.SerializeName(&p.linker.Names[i])
	}
}
