package vm

import "strings"

// ---------------------------------------------------------------------------
// Object: a reflected instance
// ---------------------------------------------------------------------------

// Obj is implemented by every reflected instance. Go types extend Object by
// embedding it; Serialize is the polymorphic graph walk used for saving,
// loading, counting and tracing alike.
type Obj interface {
	Base() *Object
	Serialize(ar Archive)
}

// Destroyer is implemented by objects that release resources when they are
// destroyed. Destroy runs at most once.
type Destroyer interface {
	Destroy()
}

// PostLoader is implemented by objects that need fix-up after a linker has
// populated their fields.
type PostLoader interface {
	PostLoad()
}

// Object is the header shared by every reflected instance. Property values
// live in a Block laid out by the object's class.
type Object struct {
	self      Obj
	rt        *Runtime
	index     int32
	version   uint32
	class     *Class
	outer     Obj
	name      Name
	flags     ObjectFlags
	archetype Obj
	props     *Block

	linker      *Linker
	linkerIndex int
}

// Base returns o itself; it lets code holding an Obj reach the header.
func (o *Object) Base() *Object { return o }

// Self returns the outermost Go value wrapping this header.
func (o *Object) Self() Obj { return o.self }

func (o *Object) Runtime() *Runtime  { return o.rt }
func (o *Object) Index() int         { return int(o.index) }
func (o *Object) Class() *Class      { return o.class }
func (o *Object) Outer() Obj         { return o.outer }
func (o *Object) Name() Name         { return o.name }
func (o *Object) Flags() ObjectFlags { return o.flags }
func (o *Object) Archetype() Obj     { return o.archetype }
func (o *Object) Block() *Block      { return o.props }

// Linker returns the linker that loaded o and o's export index in it.
func (o *Object) Linker() (*Linker, int) { return o.linker, o.linkerIndex }

// SetFlags sets bits in o's flag word.
func (o *Object) SetFlags(f ObjectFlags) { o.flags |= f }

// ClearFlags clears bits in o's flag word.
func (o *Object) ClearFlags(f ObjectFlags) { o.flags &^= f }

// HasFlags reports whether every bit of f is set.
func (o *Object) HasFlags(f ObjectFlags) bool { return o.flags.Has(f) }

// NameString returns o's name text.
func (o *Object) NameString() string {
	if o.rt == nil {
		return ""
	}
	return o.rt.Names.String(o.name)
}

// PathName returns the dotted path of o from its top-level package.
func (o *Object) PathName() string {
	var parts []string
	for cur := Obj(o.self); cur != nil; cur = cur.Base().outer {
		parts = append(parts, cur.Base().NameString())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// FullName returns the class name followed by the path name.
func (o *Object) FullName() string {
	if o.class == nil {
		return o.PathName()
	}
	return o.class.NameString() + " " + o.PathName()
}

// IsA reports whether o's class is c or derives from it.
func (o *Object) IsA(c *Class) bool {
	return o.class != nil && o.class.IsChildOf(&c.Struct)
}

// IsIn reports whether o is transitively owned by outer.
func (o *Object) IsIn(outer Obj) bool {
	if outer == nil {
		return false
	}
	target := outer.Base()
	for cur := o.outer; cur != nil; cur = cur.Base().outer {
		if cur.Base() == target {
			return true
		}
	}
	return false
}

// Outermost returns the top-level object owning o (o itself when it has no
// outer).
func (o *Object) Outermost() Obj {
	cur := o.self
	for cur.Base().outer != nil {
		cur = cur.Base().outer
	}
	return cur
}

// Package returns the package owning o.
func (o *Object) Package() *Package {
	pkg, _ := o.Outermost().(*Package)
	return pkg
}

// Template returns the object whose values are o's defaults: the explicit
// archetype, the super class's default object for a class default object, or
// the class default object.
func (o *Object) Template() Obj {
	if o.archetype != nil {
		return o.archetype
	}
	if o.class == nil {
		return nil
	}
	if o.flags&FlagClassDefault != 0 {
		if super := o.class.SuperClass(); super != nil && super.Default != nil {
			return super.Default
		}
		return nil
	}
	if o.class.Default == nil || o.class.Default.Base() == o {
		return nil
	}
	return o.class.Default
}

// Props returns a handle for reading and writing o's property values.
func (o *Object) Props() Value {
	if o.class == nil {
		return Value{}
	}
	return Value{rt: o.rt, strct: &o.class.Struct, blk: o.props}
}

// ---------------------------------------------------------------------------
// Default graph walk
// ---------------------------------------------------------------------------

// Serialize is the data-driven walk over the class's property metadata.
// Archives that neither load nor save (tracers, counters) also see the header
// references. Persistent archives use the tagged codec against the template;
// the rest use the fixed-order binary codec.
func (o *Object) Serialize(ar Archive) {
	if ar.Flags()&(ArLoading|ArSaving) == 0 {
		ar.SerializeName(&o.name)
		outer, class, arch := o.outer, Obj(nil), o.archetype
		if o.class != nil {
			class = o.class
		}
		ar.SerializeObject(&outer)
		ar.SerializeObject(&class)
		ar.SerializeObject(&arch)
	}

	if o.class == nil {
		return
	}

	if ar.Flags()&ArPersistent != 0 {
		var defaults *Block
		if t := o.Template(); t != nil {
			if isLoading(ar) {
				ar.Preload(t)
			}
			defaults = t.Base().props
		}
		o.class.SerializeTaggedProperties(ar, o.props, 0, defaults, 0)
		return
	}
	o.class.SerializeBin(ar, o.props, 0)
}
