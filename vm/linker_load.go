package vm

import "fmt"

// ---------------------------------------------------------------------------
// Load guard
// ---------------------------------------------------------------------------

// loaderState tracks nested loads. Objects created by any linker are queued
// and populated when the outermost EndLoad runs.
type loaderState struct {
	depth    int
	queue    []Obj
	postLoad []Obj
	linkers  []*Linker
}

// IsLoading reports whether a load is in progress.
func (rt *Runtime) IsLoading() bool {
	return rt.loader.depth > 0
}

// BeginLoad opens a load. Calls nest; only the outermost EndLoad populates
// objects.
func (rt *Runtime) BeginLoad() {
	rt.loader.depth++
}

// EndLoad closes a load. The outermost call populates every queued object,
// runs post-load hooks and either finishes every linker of the load or, when
// one of them failed, frees everything the load created.
func (rt *Runtime) EndLoad() error {
	if rt.loader.depth == 0 {
		panic(fatalf("EndLoad without BeginLoad"))
	}
	rt.loader.depth--
	if rt.loader.depth > 0 {
		return nil
	}
	// Keep the guard up while flushing so imports loaded from inside
	// Serialize join this load.
	rt.loader.depth++

	// Post-load hooks may load more packages; their exports join this load,
	// so flush and run hooks until neither leaves work behind.
	var err error
	ran := 0
	for {
		for len(rt.loader.queue) > 0 {
			o := rt.loader.queue[0]
			rt.loader.queue = rt.loader.queue[1:]
			rt.preload(o)
		}

		for _, l := range rt.loader.linkers {
			if e := l.Err(); e != nil && err == nil {
				err = packageErrf(l.pkgName(), "load", e)
			}
		}
		if err != nil || ran == len(rt.loader.postLoad) {
			break
		}

		for ; ran < len(rt.loader.postLoad); ran++ {
			o := rt.loader.postLoad[ran]
			b := o.Base()
			if !b.HasFlags(FlagNeedPostLoad) {
				continue
			}
			b.ClearFlags(FlagNeedPostLoad)
			if pl, ok := o.(PostLoader); ok {
				pl.PostLoad()
			}
		}
	}

	linkers := rt.loader.linkers
	rt.loader = loaderState{}
	for i := len(linkers) - 1; i >= 0; i-- {
		if err != nil {
			linkers[i].rollback()
		} else {
			linkers[i].finish()
		}
	}
	return err
}

// ---------------------------------------------------------------------------
// Package loading
// ---------------------------------------------------------------------------

// LoadPackage returns the resident package called name, loading it from the
// store first when needed.
func (rt *Runtime) LoadPackage(name string) (*Package, error) {
	if pkg := rt.FindPackage(name); pkg != nil {
		return pkg, nil
	}
	if rt.store == nil {
		return nil, packageErrf(name, "load", ErrNoStore)
	}
	data, err := rt.store.Open(name)
	if err != nil {
		return nil, packageErrf(name, "load", err)
	}
	return rt.LoadPackageData(name, data)
}

// LoadPackageData loads a package from container bytes. Every export is
// created up front; fields are populated when the outermost load ends. A
// failed load leaves no object behind.
func (rt *Runtime) LoadPackageData(name string, data []byte) (*Package, error) {
	if rt.FindObject(nil, name) != nil {
		return nil, packageErrf(name, "load", fmt.Errorf("%w: package is already resident", ErrNameCollision))
	}
	l, err := OpenLinker(rt, data)
	if err != nil {
		return nil, packageErrf(name, "load", err)
	}

	rt.BeginLoad()
	outermost := rt.loader.depth == 1

	pkg, err := rt.NewPackage(name)
	if err != nil {
		if endErr := rt.EndLoad(); endErr != nil {
			rt.log.Warningf("load %s: %v", name, endErr)
		}
		return nil, packageErrf(name, "load", err)
	}
	pkg.PackageFlags = l.Summary.Flags &^ (PkgTransient | PkgNative)
	pkg.GUID = l.Summary.GUID
	pkg.Generations = l.Summary.Generations
	pkg.linker = l
	l.pkg = pkg
	l.resolving = make(map[int]bool)
	l.creating = make(map[int]bool)
	l.importing = make(map[int]bool)
	rt.loader.linkers = append(rt.loader.linkers, l)

	for i := range l.Exports {
		l.CreateExport(i)
		if l.Err() != nil {
			break
		}
	}

	if !outermost {
		// The outermost EndLoad rolls this linker back if it failed.
		rt.EndLoad()
		if err := l.Err(); err != nil {
			return nil, packageErrf(name, "load", err)
		}
		return pkg, nil
	}

	if err := rt.EndLoad(); err != nil {
		rt.log.Warningf("load %s rolled back: %v", name, err)
		return nil, err
	}
	rt.log.Infof("loaded package %s: %d exports, %d imports, %d names",
		name, len(l.Exports), len(l.Imports), len(l.Names))
	return pkg, nil
}

// ---------------------------------------------------------------------------
// Lazy creation
// ---------------------------------------------------------------------------

// CreateExport returns the object of export i, allocating it on first use.
// The object is queued for population; its class is populated first so the
// layout is known. Placeholders and failed exports yield nil.
func (l *Linker) CreateExport(i int) Obj {
	if i < 0 || i >= len(l.Exports) || l.pkg == nil {
		return nil
	}
	exp := &l.Exports[i]
	if exp.Object != nil || exp.IsPlaceholder() || l.Err() != nil {
		return exp.Object
	}
	if l.resolving[i] {
		l.fail(fmt.Errorf("%w: export %d (%s) is its own class", ErrDependencyCycle, i, l.ExportPath(i)))
		return nil
	}
	l.resolving[i] = true
	class, _ := l.indexToObject(exp.ClassIndex).(*Class)
	delete(l.resolving, i)
	if class == nil {
		l.rt.log.Warningf("load %s: export %s has no usable class %s", l.pkgName(), l.ExportPath(i), l.IndexPath(exp.ClassIndex))
		return nil
	}
	l.rt.preload(class)
	// Populating the class may have created this export already, as it
	// does for a class default object.
	if exp.Object != nil || l.Err() != nil {
		return exp.Object
	}
	if !class.IsLinked() {
		l.fail(fmt.Errorf("%w: class %s of %s", ErrNotLinked, class.PathName(), l.ExportPath(i)))
		return nil
	}

	if l.creating[i] {
		l.fail(fmt.Errorf("%w: export %d (%s) is its own outer or archetype", ErrDependencyCycle, i, l.ExportPath(i)))
		return nil
	}
	l.creating[i] = true
	defer delete(l.creating, i)

	outer := Obj(l.pkg)
	if exp.OuterIndex != 0 {
		if exp.OuterIndex < 0 {
			l.fail(fmt.Errorf("%w: export %d is owned by an import", ErrInvalidObjectIndex, i))
			return nil
		}
		if outer = l.CreateExport(int(exp.OuterIndex - 1)); outer == nil {
			l.rt.log.Warningf("load %s: outer of %s is missing", l.pkgName(), l.ExportPath(i))
			return nil
		}
		if exp.Object != nil {
			return exp.Object
		}
	}

	archetype := l.indexToObject(exp.ArchetypeIndex)
	if exp.Object != nil {
		return exp.Object
	}

	o, err := l.rt.allocate(class, outer, exp.ObjectName, exp.Flags&persistentFlags|FlagNeedLoad, archetype)
	if err != nil {
		l.fail(fmt.Errorf("export %s: %w", l.ExportPath(i), err))
		return nil
	}
	b := o.Base()
	b.linker, b.linkerIndex = l, i
	exp.Object = o
	l.created = append(l.created, o)
	l.rt.loader.queue = append(l.rt.loader.queue, o)
	return o
}

// CreateImport resolves import j, loading its package when it is not
// resident. Missing imports are logged and yield nil.
func (l *Linker) CreateImport(j int) Obj {
	if j < 0 || j >= len(l.Imports) {
		return nil
	}
	imp := &l.Imports[j]
	if imp.Object != nil {
		return imp.Object
	}
	if l.importing[j] {
		return nil
	}
	l.importing[j] = true
	defer delete(l.importing, j)

	var o Obj
	if imp.OuterIndex == 0 {
		pkg, err := l.rt.LoadPackage(l.rt.Names.String(imp.ObjectName))
		if err != nil {
			l.rt.log.Warningf("load %s: import %s: %v", l.pkgName(), l.ImportPath(j), err)
			return nil
		}
		o = pkg
	} else {
		outer := l.CreateImport(int(-imp.OuterIndex - 1))
		if outer == nil {
			return nil
		}
		o = l.rt.findObject(outer, imp.ObjectName)
	}
	if o == nil {
		l.rt.log.Warningf("load %s: missing import %s", l.pkgName(), l.ImportPath(j))
		return nil
	}
	if c := o.Base().class; c != nil && c.name != imp.ClassName {
		l.rt.log.Warningf("load %s: import %s is a %s, expected a %s",
			l.pkgName(), l.ImportPath(j), c.NameString(), l.rt.Names.String(imp.ClassName))
	}
	imp.Object = o
	return o
}

// preload populates o if a linker created it and its fields are still
// pending.
func (rt *Runtime) preload(o Obj) {
	if o == nil {
		return
	}
	b := o.Base()
	if !b.HasFlags(FlagNeedLoad) || b.linker == nil {
		return
	}
	b.linker.Preload(o)
}

// Preload reads o's payload. The reader position is restored afterwards so
// preloads can nest inside another object's payload.
func (l *Linker) Preload(o Obj) {
	b := o.Base()
	if !b.HasFlags(FlagNeedLoad) {
		return
	}
	b.ClearFlags(FlagNeedLoad)
	if l.Err() != nil {
		return
	}
	exp := &l.Exports[b.linkerIndex]

	if b.class != nil {
		l.rt.preload(b.class)
		var tmpl *Block
		if t := b.Template(); t != nil {
			l.rt.preload(t)
			tmpl = t.Base().props
		}
		b.class.InitializeValue(b.props, 0, tmpl, 0)
	}

	r := l.reader
	saved := r.Tell()
	r.Seek(int64(exp.SerialOffset))
	o.Serialize(r)
	if r.Err() == nil {
		if got := r.Tell() - int64(exp.SerialOffset); got != int64(exp.SerialSize) {
			r.SetErr(fmt.Errorf("%w: %s read %d bytes, payload has %d", ErrCorruptData, l.ExportPath(b.linkerIndex), got, exp.SerialSize))
		}
	}
	if err := r.Err(); err != nil {
		l.rt.log.Warningf("load %s: %s: %v", l.pkgName(), l.ExportPath(b.linkerIndex), err)
		return
	}
	r.Seek(saved)

	b.SetFlags(FlagNeedPostLoad)
	l.rt.loader.postLoad = append(l.rt.loader.postLoad, o)
}

// rollback frees every object the linker created, newest first, then the
// package itself.
func (l *Linker) rollback() {
	if l.rolledBack {
		return
	}
	l.rolledBack = true
	for i := len(l.created) - 1; i >= 0; i-- {
		l.rt.freeObject(l.created[i])
	}
	for i := range l.Exports {
		l.Exports[i].Object = nil
	}
	for i := range l.Imports {
		l.Imports[i].Object = nil
	}
	l.created = nil
	if l.pkg != nil {
		l.pkg.linker = nil
		l.rt.freeObject(l.pkg)
	}
}

// finish drops load-only state once every object is populated.
func (l *Linker) finish() {
	l.created = nil
	l.resolving = nil
	l.creating = nil
	l.importing = nil
}

func (l *Linker) pkgName() string {
	if l.pkg == nil {
		return "<unnamed>"
	}
	return l.pkg.NameString()
}
