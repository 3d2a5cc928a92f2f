package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Linker: persistence session for one package
// ---------------------------------------------------------------------------

// Linker holds the tables of one saved package. A saving linker builds them
// from the live graph; a loading linker reads them and creates the package's
// objects lazily; an inspecting linker (OpenLinker) only reads them.
type Linker struct {
	rt  *Runtime
	pkg *Package

	Summary Summary
	Names   []Name
	Imports []ImportRecord
	Exports []ExportRecord
	Depends [][]int32

	// save state
	nameUsage   map[Name]int
	nameIndex   map[Name]int32
	exportIndex map[*Object]int32
	importIndex map[*Object]int32
	exportObjs  []Obj
	importObjs  []Obj
	exportDeps  map[*Object][]Obj

	// load state
	reader     *linkerReader
	created    []Obj
	resolving  map[int]bool
	creating   map[int]bool
	importing  map[int]bool
	rolledBack bool
}

// Runtime returns the runtime the linker works in.
func (l *Linker) Runtime() *Runtime { return l.rt }

// Package returns the package being saved or loaded, or nil for an
// inspecting linker.
func (l *Linker) Package() *Package { return l.pkg }

// Err returns the first load error recorded by the linker.
func (l *Linker) Err() error {
	if l.reader == nil {
		return nil
	}
	return l.reader.Err()
}

func (l *Linker) fail(err error) {
	if l.reader != nil {
		l.reader.SetErr(err)
	}
}

// ---------------------------------------------------------------------------
// Reference encoding
// ---------------------------------------------------------------------------

// linkerRefs encodes names as name table indices and objects as linker
// indices.
type linkerRefs struct {
	l *Linker
}

func (r linkerRefs) encodeName(dst Archive, n *Name) {
	if isLoading(dst) {
		var i int32
		SerializeCompact(dst, &i)
		*n = NameNone
		if dst.Err() != nil {
			return
		}
		if i < 0 || int(i) >= len(r.l.Names) {
			dst.SetErr(fmt.Errorf("%w: %d of %d", ErrInvalidNameIndex, i, len(r.l.Names)))
			return
		}
		*n = r.l.Names[i]
		return
	}

	i, ok := r.l.nameIndex[*n]
	if !ok {
		dst.SetErr(fmt.Errorf("%w: %q is not in the name table", ErrInvalidNameIndex, r.l.rt.Names.String(*n)))
	}
	SerializeCompact(dst, &i)
}

func (r linkerRefs) encodeObject(dst Archive, o *Obj) {
	if isLoading(dst) {
		var i int32
		SerializeCompact(dst, &i)
		*o = nil
		if dst.Err() != nil {
			return
		}
		if !r.l.validIndex(i) {
			dst.SetErr(fmt.Errorf("%w: %d", ErrInvalidObjectIndex, i))
			return
		}
		*o = r.l.indexToObject(i)
		return
	}

	i := r.l.objectToIndex(*o)
	SerializeCompact(dst, &i)
}

// linkerReader loads through the linker's tables. Preload populates objects
// created by any linker of the current load.
type linkerReader struct {
	*MemoryReader
	linkerRefs
}

func (r *linkerReader) SerializeName(n *Name)  { r.encodeName(r, n) }
func (r *linkerReader) SerializeObject(o *Obj) { r.encodeObject(r, o) }
func (r *linkerReader) Preload(o Obj)          { r.l.rt.preload(o) }

// linkerWriter saves through the linker's tables.
type linkerWriter struct {
	*MemoryWriter
	linkerRefs
}

func (w *linkerWriter) SerializeName(n *Name)  { w.encodeName(w, n) }
func (w *linkerWriter) SerializeObject(o *Obj) { w.encodeObject(w, o) }

// ---------------------------------------------------------------------------
// Index helpers
// ---------------------------------------------------------------------------

func (l *Linker) validIndex(i int32) bool {
	return i >= -int32(len(l.Imports)) && i <= int32(len(l.Exports))
}

// objectToIndex returns the linker index of o while saving. The package
// itself and objects outside both tables map to zero.
func (l *Linker) objectToIndex(o Obj) int32 {
	if o == nil {
		return 0
	}
	b := o.Base()
	if i, ok := l.exportIndex[b]; ok {
		return i + 1
	}
	if i, ok := l.importIndex[b]; ok {
		return -i - 1
	}
	return 0
}

// indexToObject resolves a linker index while loading, creating the object
// on first use.
func (l *Linker) indexToObject(i int32) Obj {
	switch {
	case i > 0:
		return l.CreateExport(int(i - 1))
	case i < 0:
		return l.CreateImport(int(-i - 1))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

// ExportPath returns the dotted path of export i inside its package.
func (l *Linker) ExportPath(i int) string {
	var parts []string
	for steps := 0; i >= 0 && i < len(l.Exports) && steps <= len(l.Exports); steps++ {
		e := &l.Exports[i]
		parts = append(parts, l.rt.Names.String(e.ObjectName))
		if e.OuterIndex <= 0 {
			break
		}
		i = int(e.OuterIndex - 1)
	}
	return joinReversed(parts)
}

// ImportPath returns the full dotted path of import i.
func (l *Linker) ImportPath(i int) string {
	var parts []string
	for steps := 0; i >= 0 && i < len(l.Imports) && steps <= len(l.Imports); steps++ {
		imp := &l.Imports[i]
		parts = append(parts, l.rt.Names.String(imp.ObjectName))
		if imp.OuterIndex >= 0 {
			break
		}
		i = int(-imp.OuterIndex - 1)
	}
	return joinReversed(parts)
}

// IndexPath describes a linker index: in-package exports get a leading dot,
// imports their full path.
func (l *Linker) IndexPath(i int32) string {
	switch {
	case i > 0:
		return "." + l.ExportPath(int(i-1))
	case i < 0:
		return l.ImportPath(int(-i - 1))
	}
	return ""
}

func joinReversed(parts []string) string {
	for a, b := 0, len(parts)-1; a < b; a, b = a+1, b-1 {
		parts[a], parts[b] = parts[b], parts[a]
	}
	return strings.Join(parts, ".")
}

// relPath returns o's path inside pkg, lower-cased.
func relPath(pkg *Package, o Obj) string {
	full := strings.ToLower(o.Base().PathName())
	prefix := strings.ToLower(pkg.PathName()) + "."
	return strings.TrimPrefix(full, prefix)
}

// identityPath names o the way IndexPath names a linker index.
func (l *Linker) identityPath(o Obj) string {
	if o == nil {
		return ""
	}
	if o.Base().IsIn(l.pkg) {
		return "." + relPath(l.pkg, o)
	}
	return strings.ToLower(o.Base().PathName())
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// OpenLinker parses the summary and tables of a saved package without
// creating any object.
func OpenLinker(rt *Runtime, data []byte) (*Linker, error) {
	l := &Linker{rt: rt}
	l.reader = &linkerReader{
		MemoryReader: NewMemoryReader(rt, data, ArPersistent),
		linkerRefs:   linkerRefs{l},
	}
	if err := l.readTables(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Linker) readTables() error {
	r := l.reader
	s := &l.Summary
	s.serialize(r)
	if err := r.Err(); err != nil {
		return err
	}
	if err := s.validate(r.TotalSize()); err != nil {
		return err
	}
	// Smallest encodings: a name is a compact length and a flag word, an
	// import four compact fields, an export four compacts, a name and four
	// fixed words.
	for _, t := range []struct {
		count, min int64
		what       string
	}{
		{int64(s.NameCount), 5, "names"},
		{int64(s.ImportCount), 4, "imports"},
		{int64(s.ExportCount), 21, "exports"},
	} {
		if t.count*t.min > r.TotalSize() {
			return fmt.Errorf("%w: %d %s cannot fit in %d bytes", ErrCorruptHeader, t.count, t.what, r.TotalSize())
		}
	}

	r.Seek(int64(s.NameOffset))
	l.Names = make([]Name, s.NameCount)
	for i := range l.Names {
		var text string
		var flags uint32
		SerializeString(r, &text)
		SerializeUint32(r, &flags)
		if r.Err() != nil {
			return fmt.Errorf("name %d: %w", i, r.Err())
		}
		l.Names[i] = l.rt.Names.Intern(text)
	}

	r.Seek(int64(s.ImportOffset))
	l.Imports = make([]ImportRecord, s.ImportCount)
	for i := range l.Imports {
		l.Imports[i].serialize(r)
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("import table: %w", err)
	}

	r.Seek(int64(s.ExportOffset))
	l.Exports = make([]ExportRecord, s.ExportCount)
	for i := range l.Exports {
		l.Exports[i].serialize(r)
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("export table: %w", err)
	}

	r.Seek(int64(s.DependsOffset))
	l.Depends = make([][]int32, s.ExportCount)
	for i := range l.Depends {
		var n int32
		SerializeCompact(r, &n)
		if rem := remaining(r); n < 0 || int64(n) > rem {
			r.SetErr(fmt.Errorf("%w: export %d lists %d dependencies", ErrCorruptData, i, n))
			break
		}
		deps := make([]int32, n)
		for k := range deps {
			SerializeCompact(r, &deps[k])
		}
		l.Depends[i] = deps
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("depends table: %w", err)
	}

	return l.validateTables()
}

func (l *Linker) validateTables() error {
	size := l.reader.TotalSize()
	for i := range l.Imports {
		imp := &l.Imports[i]
		if imp.OuterIndex > 0 || !l.validIndex(imp.OuterIndex) || int(-imp.OuterIndex-1) == i {
			return fmt.Errorf("%w: import %d has outer %d", ErrInvalidObjectIndex, i, imp.OuterIndex)
		}
	}
	for i := range l.Exports {
		e := &l.Exports[i]
		for _, idx := range []int32{e.ClassIndex, e.SuperIndex, e.OuterIndex, e.ArchetypeIndex} {
			if !l.validIndex(idx) {
				return fmt.Errorf("%w: export %d references %d", ErrInvalidObjectIndex, i, idx)
			}
		}
		if e.OuterIndex == int32(i+1) {
			return fmt.Errorf("%w: export %d is its own outer", ErrInvalidObjectIndex, i)
		}
		if e.SerialSize < 0 || e.SerialOffset < 0 || int64(e.SerialOffset)+int64(e.SerialSize) > size {
			return fmt.Errorf("%w: export %d payload [%d, +%d) outside container", ErrCorruptData, i, e.SerialOffset, e.SerialSize)
		}
		for _, d := range l.Depends[i] {
			if !l.validIndex(d) {
				return fmt.Errorf("%w: export %d depends on %d", ErrInvalidObjectIndex, i, d)
			}
		}
	}
	return nil
}
