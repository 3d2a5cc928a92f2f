package vm

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Runtime: owner of every global table
// ---------------------------------------------------------------------------

// DefaultMaxObjects is the object table capacity used when Options leaves it
// unset.
const DefaultMaxObjects = 1 << 20

// PackageStore is the byte-level home of saved packages. Open returns an error
// wrapping ErrPackageNotFound when no package of that name exists. Save must
// replace the previous generation atomically.
type PackageStore interface {
	Open(name string) ([]byte, error)
	Save(name string, data []byte) error
}

// Options configure a Runtime.
type Options struct {
	// MaxObjects caps the object table. Exceeding it is fatal.
	MaxObjects int
	// Store resolves package names to bytes. It may be nil for runtimes
	// that never load or save.
	Store PackageStore
	// GC holds the options used by Collect.
	GC GCOptions
}

type hashKey struct {
	outer int32 // outer's index plus one, zero for top-level objects
	name  Name
}

type coreTypes struct {
	Package *Package

	Object       *Class
	Struct       *Class
	Class        *Class
	PackageClass *Class
}

// Runtime is the explicit context owning the name table, the dense object
// table with its free list and name index, the loader state and the package
// store. Everything in this package runs on a single logical thread; a
// Runtime must not be shared between goroutines without external locking.
type Runtime struct {
	Names *NameTable

	log   commonlog.Logger
	opts  Options
	store PackageStore

	objects  []Obj
	versions []uint32
	free     []int32
	hash     map[hashKey]Obj
	live     int

	core      coreTypes
	kindNames [KindStruct + 1]Name

	loader     loaderState
	txn        *Transaction
	nameSerial int
	tracing    bool
}

// NewRuntime creates a runtime and bootstraps the Core package.
func NewRuntime(opts Options) *Runtime {
	if opts.MaxObjects <= 0 {
		opts.MaxObjects = DefaultMaxObjects
	}
	rt := &Runtime{
		Names: NewNameTable(),
		log:   commonlog.GetLogger("strata.vm"),
		opts:  opts,
		store: opts.Store,
		hash:  make(map[hashKey]Obj),
	}
	for k := KindByte; k <= KindStruct; k++ {
		rt.kindNames[k] = rt.Names.InternPermanent(k.TypeName())
	}
	rt.bootstrap()
	return rt
}

// Log returns the runtime's logger.
func (rt *Runtime) Log() commonlog.Logger { return rt.log }

// Store returns the package store, or nil.
func (rt *Runtime) Store() PackageStore { return rt.store }

// SetStore replaces the package store.
func (rt *Runtime) SetStore(s PackageStore) { rt.store = s }

// Options returns the options the runtime was created with.
func (rt *Runtime) Options() Options { return rt.opts }

// Core accessors.
func (rt *Runtime) CorePackage() *Package { return rt.core.Package }
func (rt *Runtime) ObjectClass() *Class   { return rt.core.Object }
func (rt *Runtime) StructClass() *Class   { return rt.core.Struct }
func (rt *Runtime) ClassClass() *Class    { return rt.core.Class }
func (rt *Runtime) PackageClass() *Class  { return rt.core.PackageClass }

// NumObjects returns the number of live table entries.
func (rt *Runtime) NumObjects() int {
	return rt.live
}

// ---------------------------------------------------------------------------
// Object table
// ---------------------------------------------------------------------------

func (rt *Runtime) keyOf(outer Obj, name Name) hashKey {
	k := hashKey{name: name}
	if outer != nil {
		k.outer = outer.Base().index + 1
	}
	return k
}

// install places obj in the table and the name index. The header is filled
// from the arguments; obj's storage is sized by class when class is set.
func (rt *Runtime) install(obj Obj, class *Class, outer Obj, name Name, flags ObjectFlags, archetype Obj) error {
	if rt.tracing {
		panic(fatalf("object allocated during a trace"))
	}
	if !name.IsNone() {
		if _, taken := rt.hash[rt.keyOf(outer, name)]; taken {
			return fmt.Errorf("%w: %s in %s", ErrNameCollision, rt.Names.String(name), pathOf(outer))
		}
	}

	var idx int32
	if k := len(rt.free); k > 0 {
		idx = rt.free[k-1]
		rt.free = rt.free[:k-1]
	} else {
		if len(rt.objects) >= rt.opts.MaxObjects {
			panic(fatalf("object table exhausted at %d entries", rt.opts.MaxObjects))
		}
		idx = int32(len(rt.objects))
		rt.objects = append(rt.objects, nil)
		rt.versions = append(rt.versions, 1)
	}

	b := obj.Base()
	*b = Object{
		self:      obj,
		rt:        rt,
		index:     idx,
		version:   rt.versions[idx],
		class:     class,
		outer:     outer,
		name:      name,
		flags:     flags,
		archetype: archetype,
	}
	if class != nil {
		b.props = NewBlock(class.PropertiesSize)
	}
	rt.objects[idx] = obj
	rt.live++
	if !name.IsNone() {
		rt.hash[rt.keyOf(outer, name)] = obj
	}
	return nil
}

// allocate creates and installs an instance of class, then fills its
// storage from its template when the template is populated.
func (rt *Runtime) allocate(class *Class, outer Obj, name Name, flags ObjectFlags, archetype Obj) (Obj, error) {
	obj := class.newInstance()
	if err := rt.install(obj, class, outer, name, flags, archetype); err != nil {
		return nil, err
	}
	b := obj.Base()
	if t := b.Template(); t != nil && !t.Base().HasFlags(FlagNeedLoad) {
		class.InitializeValue(b.props, 0, t.Base().props, 0)
	}
	return obj, nil
}

// runtimeOnlyFlags can never be requested by a caller.
const runtimeOnlyFlags = epochFlags | FlagTagExp | FlagTagImp | FlagNeedLoad | FlagNeedPostLoad | FlagDestroyed | FlagClassDefault

// NewObject creates an instance of class inside outer. An empty name is
// replaced by a generated unique one. archetype, when set, supplies the
// default values and must be an instance of class or of a super class.
func (rt *Runtime) NewObject(class *Class, outer Obj, name string, flags ObjectFlags, archetype Obj) (Obj, error) {
	if class == nil {
		return nil, fmt.Errorf("new object %q: nil class", name)
	}
	if !class.IsLinked() {
		return nil, fmt.Errorf("new %s: %w", class.NameString(), ErrNotLinked)
	}
	if class.IsAbstract() {
		return nil, fmt.Errorf("new %s: %w", class.NameString(), ErrAbstractClass)
	}
	if outer == nil && !class.IsChildOfClass(rt.core.PackageClass) {
		return nil, fmt.Errorf("new %s %q: %w: only packages are top-level", class.NameString(), name, ErrWrongOuter)
	}
	if within := class.WithinClass(); within != nil && (outer == nil || !outer.Base().IsA(within)) {
		return nil, fmt.Errorf("new %s %q: %w: outer must be a %s", class.NameString(), name, ErrWrongOuter, within.NameString())
	}
	if archetype != nil {
		ac := archetype.Base().class
		if ac == nil || !class.IsChildOfClass(ac) {
			return nil, fmt.Errorf("new %s %q: archetype %s has an unrelated class", class.NameString(), name, archetype.Base().FullName())
		}
	}
	if class.ClassFlags&ClassTransient != 0 {
		flags |= FlagTransient
	}
	if name == "" {
		name = rt.uniqueName(class, outer)
	}
	return rt.allocate(class, outer, rt.Names.Intern(name), flags&^runtimeOnlyFlags, archetype)
}

func (rt *Runtime) uniqueName(class *Class, outer Obj) string {
	for {
		name := fmt.Sprintf("%s_%d", class.NameString(), rt.nameSerial)
		rt.nameSerial++
		n, ok := rt.Names.Lookup(name)
		if !ok {
			return name
		}
		if _, taken := rt.hash[rt.keyOf(outer, n)]; !taken {
			return name
		}
	}
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// FindObject returns the live object called name inside outer (nil for
// top-level objects).
func (rt *Runtime) FindObject(outer Obj, name string) Obj {
	n, ok := rt.Names.Lookup(name)
	if !ok {
		return nil
	}
	return rt.findObject(outer, n)
}

func (rt *Runtime) findObject(outer Obj, name Name) Obj {
	return rt.hash[rt.keyOf(outer, name)]
}

// FindPackage returns the resident package called name.
func (rt *Runtime) FindPackage(name string) *Package {
	pkg, _ := rt.FindObject(nil, name).(*Package)
	return pkg
}

// FindPath resolves a dotted path such as "Game.Hero.Weapon".
func (rt *Runtime) FindPath(path string) Obj {
	var cur Obj
	for _, part := range strings.Split(path, ".") {
		cur = rt.FindObject(cur, part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Packages returns every resident package in table order.
func (rt *Runtime) Packages() []*Package {
	var out []*Package
	for _, o := range rt.objects {
		if pkg, ok := o.(*Package); ok && pkg.outer == nil {
			out = append(out, pkg)
		}
	}
	return out
}

// ForEachObject calls fn for every live object in ascending index order
// until fn returns false.
func (rt *Runtime) ForEachObject(fn func(Obj) bool) {
	for _, o := range rt.objects {
		if o != nil && !fn(o) {
			return
		}
	}
}

// ObjectAt returns the object in table slot i, or nil.
func (rt *Runtime) ObjectAt(i int) Obj {
	if i < 0 || i >= len(rt.objects) {
		return nil
	}
	return rt.objects[i]
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// RefOf returns the stored form of a reference to o.
func (rt *Runtime) RefOf(o Obj) ObjectRef {
	if o == nil {
		return ObjectRef{}
	}
	b := o.Base()
	if b.rt != rt || b.index < 0 || rt.objects[b.index] != b.self {
		return ObjectRef{}
	}
	return ObjectRef{Slot: uint32(b.index) + 1, Version: b.version}
}

// Resolve returns the object ref points at, or nil when the slot was freed or
// reused since the reference was taken.
func (rt *Runtime) Resolve(ref ObjectRef) Obj {
	if ref.Slot == 0 || int(ref.Slot) > len(rt.objects) {
		return nil
	}
	i := ref.Slot - 1
	if rt.versions[i] != ref.Version {
		return nil
	}
	return rt.objects[i]
}

// resolveField resolves a reference read from property memory, logging
// references that no longer resolve.
func (rt *Runtime) resolveField(ref ObjectRef, p *Property) Obj {
	o := rt.Resolve(ref)
	if o == nil && ref.Slot != 0 {
		rt.log.Warningf("stale reference in property %s (slot %d, version %d)", rt.Names.String(p.Name), ref.Slot, ref.Version)
	}
	return o
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// AddToRoot pins o so the collector always keeps it.
func (rt *Runtime) AddToRoot(o Obj) { o.Base().SetFlags(FlagRootSet) }

// RemoveFromRoot unpins o.
func (rt *Runtime) RemoveFromRoot(o Obj) { o.Base().ClearFlags(FlagRootSet) }

// Rename moves o to a new name and, when newOuter is not nil, a new outer.
func (rt *Runtime) Rename(o Obj, name string, newOuter Obj) error {
	b := o.Base()
	if b.HasFlags(FlagDestroyed) {
		return fmt.Errorf("rename %s: object is destroyed", b.FullName())
	}
	outer := b.outer
	if newOuter != nil {
		if newOuter.Base() == b || newOuter.Base().IsIn(o) {
			return fmt.Errorf("rename %s: outer %s is inside the object", b.FullName(), newOuter.Base().PathName())
		}
		outer = newOuter
	}
	n := rt.Names.Intern(name)
	if n.IsNone() {
		return fmt.Errorf("rename %s: empty name", b.FullName())
	}
	key := rt.keyOf(outer, n)
	if other, taken := rt.hash[key]; taken && other.Base() != b {
		return fmt.Errorf("%w: %s in %s", ErrNameCollision, name, pathOf(outer))
	}
	if !b.name.IsNone() {
		delete(rt.hash, rt.keyOf(b.outer, b.name))
	}
	b.name, b.outer = n, outer
	rt.hash[key] = o
	return nil
}

// ConditionalDestroy runs o's destroy hook and releases its property side
// storage. It returns false when o was already destroyed. The table slot is
// returned only when the collector frees the object.
func (rt *Runtime) ConditionalDestroy(o Obj) bool {
	b := o.Base()
	if b.HasFlags(FlagDestroyed) {
		return false
	}
	b.SetFlags(FlagDestroyed)
	if d, ok := o.(Destroyer); ok {
		d.Destroy()
	}
	if b.class != nil && b.props != nil {
		b.class.DestroyValue(b.props, 0)
	}
	if !b.name.IsNone() {
		key := rt.keyOf(b.outer, b.name)
		if cur, ok := rt.hash[key]; ok && cur.Base() == b {
			delete(rt.hash, key)
		}
	}
	return true
}

// freeObject destroys o if needed and returns its slot to the free list. The
// slot version is bumped so outstanding references go stale.
func (rt *Runtime) freeObject(o Obj) {
	b := o.Base()
	if b.rt != rt || b.index < 0 || rt.objects[b.index] != b.self {
		return
	}
	rt.ConditionalDestroy(o)
	idx := b.index
	rt.objects[idx] = nil
	rt.versions[idx]++
	rt.free = append(rt.free, idx)
	rt.live--
	b.props = nil
	b.index = -1
}

// Duplicate copies src into a new object called name inside outer, using the
// fixed-order codec. Types cannot be duplicated.
func (rt *Runtime) Duplicate(src Obj, outer Obj, name string) (Obj, error) {
	if isTypeObject(src) {
		return nil, fmt.Errorf("duplicate %s: types cannot be duplicated", src.Base().FullName())
	}
	sb := src.Base()
	dst, err := rt.NewObject(sb.class, outer, name, sb.flags&(persistentFlags|FlagTransient)&^FlagClassDefault, sb.archetype)
	if err != nil {
		return nil, err
	}
	w := NewMemoryWriter(rt, ArDuplicating)
	src.Serialize(w)
	r := NewMemoryReader(rt, w.Bytes(), ArDuplicating)
	dst.Serialize(r)
	if err := firstErr(w.Err(), r.Err()); err != nil {
		rt.freeObject(dst)
		return nil, fmt.Errorf("duplicate %s: %w", sb.FullName(), err)
	}
	return dst, nil
}

// Checksum returns a case-insensitive checksum of o's property values.
func (rt *Runtime) Checksum(o Obj) uint64 {
	c := NewChecksumArchive(rt)
	o.Serialize(c)
	return c.Sum64()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func pathOf(o Obj) string {
	if o == nil {
		return "<top level>"
	}
	return o.Base().PathName()
}
