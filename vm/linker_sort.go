package vm

import "fmt"

// ---------------------------------------------------------------------------
// Export ordering
// ---------------------------------------------------------------------------

// forcedDeps returns the objects that must be created before o can be
// populated: a type's super and the struct types of its properties, an
// instance's class and archetype.
func forcedDeps(o Obj) []Obj {
	if s := asStruct(o); s != nil {
		var deps []Obj
		if s.Super != nil {
			deps = append(deps, s.Super.self)
		}
		for _, p := range s.Props {
			if p.Kind == KindStruct && p.Struct != nil {
				deps = append(deps, p.Struct.self)
			}
		}
		return deps
	}
	b := o.Base()
	var deps []Obj
	if b.class != nil {
		deps = append(deps, b.class)
	}
	if b.archetype != nil {
		deps = append(deps, b.archetype)
	}
	return deps
}

// sortExports orders exports so that every forced dependency inside the
// package comes first. Types are placed before instances; ties keep
// ascending object index. A class default object follows its class like any
// other instance.
func (l *Linker) sortExports(objs []Obj) ([]Obj, error) {
	const (
		visiting = 1
		placed   = 2
	)
	state := make(map[*Object]int, len(objs))
	inSet := make(map[*Object]bool, len(objs))
	for _, o := range objs {
		inSet[o.Base()] = true
	}

	order := make([]Obj, 0, len(objs))
	var place func(o Obj) error
	place = func(o Obj) error {
		b := o.Base()
		switch state[b] {
		case placed:
			return nil
		case visiting:
			return fmt.Errorf("%w: through %s", ErrDependencyCycle, b.PathName())
		}
		state[b] = visiting
		for _, dep := range forcedDeps(o) {
			if inSet[dep.Base()] {
				if err := place(dep); err != nil {
					return err
				}
			}
		}
		state[b] = placed
		order = append(order, o)
		return nil
	}

	for _, types := range []bool{true, false} {
		for _, o := range objs {
			if isTypeObject(o) != types {
				continue
			}
			if err := place(o); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// exportOrder returns the final export positions. With a conform generation,
// objects keep their previous positions, new objects are appended, and
// positions whose object is gone are nil (placeholders).
func (l *Linker) exportOrder(conform *Linker) ([]Obj, error) {
	order, err := l.sortExports(l.exportObjs)
	if err != nil {
		return nil, err
	}
	if conform != nil {
		if order, err = l.conformTo(conform, order); err != nil {
			return nil, err
		}
	}
	if err := l.checkOrder(order, conform != nil); err != nil {
		return nil, err
	}
	return order, nil
}

func (l *Linker) conformTo(base *Linker, sorted []Obj) ([]Obj, error) {
	byPath := make(map[string]int, len(base.Exports))
	for i := range base.Exports {
		if !base.Exports[i].IsPlaceholder() {
			byPath[lowerPath(base.ExportPath(i))] = i
		}
	}

	positions := make([]Obj, len(base.Exports))
	var extra []Obj
	for _, o := range sorted {
		path := relPath(l.pkg, o)
		i, ok := byPath[path]
		if !ok {
			extra = append(extra, o)
			continue
		}
		delete(byPath, path)
		want := lowerPath(base.IndexPath(base.Exports[i].ClassIndex))
		got := l.identityPath(o.Base().class)
		if want != got {
			return nil, fmt.Errorf("%w: %s was a %s, now a %s", ErrConformMismatch, path, want, got)
		}
		positions[i] = o
	}

	removed := make(map[string]int)
	for i, o := range positions {
		if o != nil {
			continue
		}
		l.noteName(base.Exports[i].ObjectName)
		if base.Exports[i].IsPlaceholder() {
			continue
		}
		removed[lowerPath(base.ExportPath(i))] = i
		l.rt.log.Warningf("conform %s: export %d (%s) is gone, keeping a placeholder", l.pkg.NameString(), i, base.ExportPath(i))
	}

	// A removed export is only fatal when a surviving object still has to
	// load it first. Stale class or archetype indices in the old record do
	// not count.
	placed := make(map[*Object]bool, len(sorted))
	for _, o := range sorted {
		placed[o.Base()] = true
	}
	all := append(positions, extra...)
	for _, o := range all {
		if o == nil {
			continue
		}
		for _, dep := range forcedDeps(o) {
			if placed[dep.Base()] || !dep.Base().IsIn(l.pkg) {
				continue
			}
			if i, ok := removed[relPath(l.pkg, dep)]; ok {
				return nil, fmt.Errorf("%w: %s still needs the removed type %s", ErrConformMismatch, o.Base().PathName(), base.ExportPath(i))
			}
		}
	}

	return all, nil
}

// checkOrder verifies that every forced dependency inside the package sits
// at an earlier position.
func (l *Linker) checkOrder(order []Obj, conforming bool) error {
	pos := make(map[*Object]int, len(order))
	for i, o := range order {
		if o != nil {
			pos[o.Base()] = i
		}
	}
	for i, o := range order {
		if o == nil {
			continue
		}
		for _, dep := range forcedDeps(o) {
			j, ok := pos[dep.Base()]
			if !ok || j < i {
				continue
			}
			err := fmt.Errorf("%s at %d depends on %s at %d", o.Base().PathName(), i, dep.Base().PathName(), j)
			if conforming {
				return fmt.Errorf("%w: %v", ErrConformMismatch, err)
			}
			return fmt.Errorf("%w: %v", ErrDependencyCycle, err)
		}
	}
	return nil
}

func lowerPath(p string) string {
	return nameKey(p)
}
