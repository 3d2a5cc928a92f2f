package vm

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

// SaveOptions control SavePackage.
type SaveOptions struct {
	// Conform keeps the table positions of the generation currently in the
	// store, so unchanged objects keep their export indices.
	Conform bool
}

// SavePackage writes pkg to the runtime's store. Nothing reaches the store
// unless the whole container was built.
func (rt *Runtime) SavePackage(pkg *Package, opts SaveOptions) error {
	name := pkg.NameString()
	if rt.store == nil {
		return packageErrf(name, "save", ErrNoStore)
	}

	var base *Linker
	if opts.Conform {
		data, err := rt.store.Open(name)
		switch {
		case err == nil:
			if base, err = OpenLinker(rt, data); err != nil {
				return packageErrf(name, "conform", err)
			}
		case errors.Is(err, ErrPackageNotFound):
		default:
			return packageErrf(name, "conform", err)
		}
	}

	l, data, err := rt.buildPackage(pkg, base)
	if err != nil {
		rt.log.Warningf("save %s aborted: %v", name, err)
		return packageErrf(name, "save", err)
	}
	if err := rt.store.Save(name, data); err != nil {
		return packageErrf(name, "save", err)
	}
	pkg.GUID = l.Summary.GUID
	pkg.Generations = l.Summary.Generations
	rt.log.Infof("saved package %s: %d exports, %d imports, %d names, %d bytes",
		name, len(l.Exports), len(l.Imports), len(l.Names), len(data))
	return nil
}

// BuildPackage serializes pkg into container bytes without touching the
// store. conform, when not nil, is the previous generation to conform to.
func (rt *Runtime) BuildPackage(pkg *Package, conform *Linker) ([]byte, error) {
	_, data, err := rt.buildPackage(pkg, conform)
	if err != nil {
		return nil, packageErrf(pkg.NameString(), "save", err)
	}
	return data, nil
}

func (rt *Runtime) buildPackage(pkg *Package, conform *Linker) (*Linker, []byte, error) {
	if pkg.PackageFlags&(PkgTransient|PkgNative) != 0 {
		return nil, nil, ErrTransientPackage
	}
	if rt.loader.depth > 0 {
		return nil, nil, fmt.Errorf("save during load")
	}

	l := &Linker{
		rt:          rt,
		pkg:         pkg,
		nameUsage:   make(map[Name]int),
		exportIndex: make(map[*Object]int32),
		importIndex: make(map[*Object]int32),
		exportDeps:  make(map[*Object][]Obj),
	}
	defer l.clearSaveTags()

	if err := l.tagExports(); err != nil {
		return nil, nil, err
	}
	if err := l.tagImports(); err != nil {
		return nil, nil, err
	}
	order, err := l.exportOrder(conform)
	if err != nil {
		return nil, nil, err
	}
	l.buildNameTable(conform)
	l.buildImportTable()
	l.buildExportTable(order, conform)

	data, err := l.emit(conform)
	if err != nil {
		return nil, nil, err
	}
	return l, data, nil
}

func (l *Linker) clearSaveTags() {
	for _, o := range l.exportObjs {
		o.Base().ClearFlags(FlagTagExp)
	}
	for _, o := range l.importObjs {
		o.Base().ClearFlags(FlagTagImp)
	}
}

// ---------------------------------------------------------------------------
// Save-side archive
// ---------------------------------------------------------------------------

type collectMode int

const (
	modeTagExports collectMode = iota
	modeCollect
)

// linkerCollector walks exports without producing output. In tagging mode it
// pulls referenced in-package objects into the export set; in collect mode
// it tags imports, counts name usage and records per-export dependencies. It
// pretends to be seekable so tagged records are measured in place.
type linkerCollector struct {
	ArchiveState
	l    *Linker
	mode collectMode
	pos  int64
	size int64

	from Obj
	deps []Obj
	seen map[*Object]bool
}

func newLinkerCollector(l *Linker, mode collectMode) *linkerCollector {
	flags := ArSaving | ArPersistent
	if mode == modeCollect {
		flags |= ArCollector
	}
	return &linkerCollector{ArchiveState: newArchiveState(l.rt, flags), l: l, mode: mode}
}

func (c *linkerCollector) Serialize(p []byte) {
	c.pos += int64(len(p))
	c.size = max(c.size, c.pos)
}

func (c *linkerCollector) SerializeName(n *Name)  { c.encodeName(c, n) }
func (c *linkerCollector) SerializeObject(o *Obj) { c.encodeObject(c, o) }

func (c *linkerCollector) Tell() int64      { return c.pos }
func (c *linkerCollector) Seek(pos int64)   { c.pos = pos }
func (c *linkerCollector) CanSeek() bool    { return true }
func (c *linkerCollector) TotalSize() int64 { return c.size }

func (c *linkerCollector) encodeName(dst Archive, n *Name) {
	if c.mode == modeCollect {
		c.l.noteName(*n)
	}
	var zero int32
	SerializeCompact(dst, &zero)
}

func (c *linkerCollector) encodeObject(dst Archive, o *Obj) {
	switch c.mode {
	case modeTagExports:
		c.l.considerExport(*o)
	case modeCollect:
		if err := c.noteRef(*o); err != nil {
			c.SetErr(err)
		}
	}
	var zero int32
	SerializeCompact(dst, &zero)
}

// begin starts collecting the dependencies of export o.
func (c *linkerCollector) begin(o Obj) {
	c.from = o
	c.deps = nil
	c.seen = make(map[*Object]bool)
	c.pos, c.size = 0, 0
}

// noteRef classifies a reference made by the current export.
func (c *linkerCollector) noteRef(o Obj) error {
	if o == nil {
		return nil
	}
	l := c.l
	b := o.Base()
	if b == &l.pkg.Object {
		return nil
	}
	switch {
	case b.flags&FlagTagExp != 0:
	case b.IsIn(l.pkg):
		// Transient objects in the package are saved as nil.
		return nil
	case b.flags&FlagTransient != 0 && b.flags&FlagNative == 0:
		return nil
	case !b.flags.Any(FlagPublic | FlagNative):
		return fmt.Errorf("%w: %s references %s", ErrPrivateReference, c.from.Base().PathName(), b.PathName())
	default:
		l.tagImport(o)
	}
	if !c.seen[b] {
		c.seen[b] = true
		c.deps = append(c.deps, o)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tagging
// ---------------------------------------------------------------------------

func (l *Linker) considerExport(o Obj) {
	if o == nil {
		return
	}
	b := o.Base()
	if b == &l.pkg.Object || b.flags&(FlagTagExp|FlagTransient|FlagDestroyed) != 0 || !b.IsIn(l.pkg) {
		return
	}
	b.SetFlags(FlagTagExp)
	l.exportObjs = append(l.exportObjs, o)
}

// tagExports marks the package's standalone and public objects and,
// transitively, every in-package object they reference, including classes,
// outers and archetypes.
func (l *Linker) tagExports() error {
	for _, o := range l.pkg.Contents() {
		if o.Base().flags.Any(FlagStandalone | FlagPublic) {
			l.considerExport(o)
		}
	}

	c := newLinkerCollector(l, modeTagExports)
	for i := 0; i < len(l.exportObjs); i++ {
		o := l.exportObjs[i]
		b := o.Base()
		if b.class != nil {
			l.considerExport(b.class)
		}
		l.considerExport(b.outer)
		l.considerExport(b.archetype)
		o.Serialize(c)
		if err := c.Err(); err != nil {
			return fmt.Errorf("tag exports: %s: %w", b.PathName(), err)
		}
	}

	slices.SortFunc(l.exportObjs, func(a, b Obj) int {
		return int(a.Base().index) - int(b.Base().index)
	})
	return nil
}

// tagImport marks o, its outer chain and their classes as imports.
func (l *Linker) tagImport(o Obj) {
	for ; o != nil; o = o.Base().outer {
		b := o.Base()
		if b.flags&FlagTagImp != 0 {
			return
		}
		b.SetFlags(FlagTagImp)
		l.importObjs = append(l.importObjs, o)
		l.noteName(b.name)
		if c := b.class; c != nil {
			l.noteName(c.name)
			if cp := c.Package(); cp != nil {
				l.noteName(cp.name)
			}
			if c.flags&(FlagTagExp|FlagTagImp) == 0 && !c.IsIn(l.pkg) {
				l.tagImport(c)
			}
		}
	}
}

func (l *Linker) noteName(n Name) {
	l.nameUsage[n]++
}

// tagImports walks every export once, collecting imports, name usage and the
// dependency list of each export.
func (l *Linker) tagImports() error {
	c := newLinkerCollector(l, modeCollect)
	for _, o := range l.exportObjs {
		b := o.Base()
		c.begin(o)
		l.noteName(b.name)
		refs := []Obj{b.outer, b.archetype}
		if b.class != nil {
			refs = append(refs, b.class)
		}
		for _, ref := range refs {
			if err := c.noteRef(ref); err != nil {
				return err
			}
		}
		o.Serialize(c)
		if err := c.Err(); err != nil {
			return fmt.Errorf("collect %s: %w", b.PathName(), err)
		}
		l.exportDeps[b] = c.deps
	}

	slices.SortFunc(l.importObjs, func(a, b Obj) int {
		return int(a.Base().index) - int(b.Base().index)
	})
	return nil
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

// buildNameTable orders names by usage, most used first, keeping the longest
// prefix of the conform generation whose names are all still in use.
func (l *Linker) buildNameTable(conform *Linker) {
	l.Names = l.Names[:0]
	l.nameIndex = make(map[Name]int32, len(l.nameUsage))
	add := func(n Name) {
		l.nameIndex[n] = int32(len(l.Names))
		l.Names = append(l.Names, n)
	}

	if conform != nil {
		for _, n := range conform.Names {
			if _, used := l.nameUsage[n]; !used {
				break
			}
			if _, dup := l.nameIndex[n]; dup {
				break
			}
			add(n)
		}
	}

	rest := make([]Name, 0, len(l.nameUsage))
	for n := range l.nameUsage {
		if _, placed := l.nameIndex[n]; !placed {
			rest = append(rest, n)
		}
	}
	slices.SortFunc(rest, func(a, b Name) int {
		if d := l.nameUsage[b] - l.nameUsage[a]; d != 0 {
			return d
		}
		return strings.Compare(nameKey(l.rt.Names.String(a)), nameKey(l.rt.Names.String(b)))
	})
	for _, n := range rest {
		add(n)
	}
}

func (l *Linker) buildImportTable() {
	l.Imports = make([]ImportRecord, len(l.importObjs))
	for j, o := range l.importObjs {
		l.importIndex[o.Base()] = int32(j)
	}
	for j, o := range l.importObjs {
		b := o.Base()
		rec := ImportRecord{ObjectName: b.name, Object: o}
		if b.class != nil {
			rec.ClassName = b.class.name
			if cp := b.class.Package(); cp != nil {
				rec.ClassPackage = cp.name
			}
		}
		if b.outer != nil {
			rec.OuterIndex = l.objectToIndex(b.outer)
		}
		l.Imports[j] = rec
	}
}

// buildExportTable fills one record per position of order; nil positions
// become placeholders that keep the conform generation's index.
func (l *Linker) buildExportTable(order []Obj, conform *Linker) {
	l.Exports = make([]ExportRecord, len(order))
	for i, o := range order {
		if o != nil {
			l.exportIndex[o.Base()] = int32(i)
		}
	}
	l.Depends = make([][]int32, len(order))
	for i, o := range order {
		if o == nil {
			rec := ExportRecord{NetIndex: -1}
			if conform != nil && i < len(conform.Exports) {
				rec.ObjectName = conform.Exports[i].ObjectName
			}
			l.Exports[i] = rec
			continue
		}
		b := o.Base()
		rec := ExportRecord{
			ObjectName: b.name,
			Flags:      b.flags & persistentFlags,
			NetIndex:   int32(i),
			Object:     o,
		}
		if b.class != nil {
			rec.ClassIndex = l.objectToIndex(b.class)
		}
		if s := asStruct(o); s != nil && s.Super != nil {
			rec.SuperIndex = l.objectToIndex(s.Super.self)
		}
		rec.OuterIndex = l.objectToIndex(b.outer)
		rec.ArchetypeIndex = l.objectToIndex(b.archetype)
		l.Exports[i] = rec

		for _, d := range l.exportDeps[b] {
			if idx := l.objectToIndex(d); idx != 0 {
				l.Depends[i] = append(l.Depends[i], idx)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Emit
// ---------------------------------------------------------------------------

// emit writes summary, names, imports, exports, payloads and dependencies,
// then rewrites the summary and export table with the final offsets.
func (l *Linker) emit(conform *Linker) ([]byte, error) {
	w := &linkerWriter{
		MemoryWriter: NewMemoryWriter(l.rt, ArPersistent),
		linkerRefs:   linkerRefs{l},
	}

	s := &l.Summary
	*s = Summary{
		Magic:       PackageMagic,
		Version:     PackageVersion,
		Flags:       l.pkg.PackageFlags &^ (PkgTransient | PkgNative),
		NameCount:   int32(len(l.Names)),
		ImportCount: int32(len(l.Imports)),
		ExportCount: int32(len(l.Exports)),
		GUID:        uuid.New(),
	}
	if conform != nil {
		s.Generations = append(s.Generations, conform.Summary.Generations...)
	}
	s.Generations = append(s.Generations, Generation{ExportCount: s.ExportCount, NameCount: s.NameCount})
	s.serialize(w)

	s.NameOffset = int32(w.Tell())
	for _, n := range l.Names {
		text := l.rt.Names.String(n)
		var flags uint32
		SerializeString(w, &text)
		SerializeUint32(w, &flags)
	}

	s.ImportOffset = int32(w.Tell())
	for i := range l.Imports {
		l.Imports[i].serialize(w)
	}

	s.ExportOffset = int32(w.Tell())
	for i := range l.Exports {
		l.Exports[i].serialize(w)
	}

	for i := range l.Exports {
		e := &l.Exports[i]
		if e.Object == nil {
			continue
		}
		start := w.Tell()
		e.Object.Serialize(w)
		if err := w.Err(); err != nil {
			return nil, fmt.Errorf("export %s: %w", e.Object.Base().PathName(), err)
		}
		if w.Tell() > math.MaxInt32 {
			return nil, fmt.Errorf("container exceeds %d bytes", math.MaxInt32)
		}
		e.SerialOffset = int32(start)
		e.SerialSize = int32(w.Tell() - start)
	}

	s.DependsOffset = int32(w.Tell())
	for _, deps := range l.Depends {
		n := int32(len(deps))
		SerializeCompact(w, &n)
		for k := range deps {
			SerializeCompact(w, &deps[k])
		}
	}
	end := w.Tell()

	w.Seek(int64(s.ExportOffset))
	for i := range l.Exports {
		l.Exports[i].serialize(w)
	}
	w.Seek(0)
	s.serialize(w)
	if err := w.Err(); err != nil {
		return nil, err
	}
	if int64(len(w.Bytes())) != end {
		return nil, fmt.Errorf("container size changed while patching: %d != %d", len(w.Bytes()), end)
	}
	return w.Bytes(), nil
}
