package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Class: a Struct with a default object and instancing rules
// ---------------------------------------------------------------------------

// ClassFlags describe how a class may be instantiated.
type ClassFlags uint32

const (
	// ClassAbstract classes cannot be instantiated.
	ClassAbstract ClassFlags = 1 << iota
	// ClassNative classes are registered from Go.
	ClassNative
	// ClassTransient classes produce transient instances.
	ClassTransient
)

// Factory creates the Go value for a new instance. The runtime fills in the
// embedded Object header.
type Factory func() Obj

// Class is a reflected class. Its default object (CDO) holds the default
// property values of every instance and exists before any instance does.
type Class struct {
	Struct

	ClassFlags ClassFlags
	// Within restricts the class of an instance's outer.
	Within *Class
	// Default is the class default object.
	Default Obj

	factory Factory
}

// SuperClass returns the class c derives from, or nil.
func (c *Class) SuperClass() *Class {
	if c.Super == nil {
		return nil
	}
	sc, _ := c.Super.self.(*Class)
	return sc
}

// IsChildOfClass reports whether c is other or derives from it.
func (c *Class) IsChildOfClass(other *Class) bool {
	return other != nil && c.IsChildOf(&other.Struct)
}

// WithinClass returns the effective within restriction, inherited from the
// super class when c declares none.
func (c *Class) WithinClass() *Class {
	for cur := c; cur != nil; cur = cur.SuperClass() {
		if cur.Within != nil {
			return cur.Within
		}
	}
	return nil
}

// IsAbstract reports whether c refuses instantiation.
func (c *Class) IsAbstract() bool {
	return c.ClassFlags&ClassAbstract != 0
}

// newInstance runs the nearest factory up the super chain.
func (c *Class) newInstance() Obj {
	for cur := c; cur != nil; cur = cur.SuperClass() {
		if cur.factory != nil {
			return cur.factory()
		}
	}
	return &Object{}
}

// Serialize transfers the struct part, then the class's own fields. The struct
// part links the layout on load, so the default object reference can be
// resolved (and the default object allocated) afterwards.
func (c *Class) Serialize(ar Archive) {
	c.Struct.Serialize(ar)

	flags := uint32(c.ClassFlags &^ ClassNative)
	SerializeUint32(ar, &flags)

	within := Obj(nil)
	if c.Within != nil {
		within = c.Within
	}
	ar.SerializeObject(&within)

	def := c.Default
	ar.SerializeObject(&def)

	if isLoading(ar) {
		c.ClassFlags = ClassFlags(flags) | c.ClassFlags&ClassNative
		c.Within, _ = within.(*Class)
		c.Default = def
	}
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// PropertySpec declares one property of a struct or class.
type PropertySpec struct {
	Name     string
	Kind     PropertyKind
	ArrayDim int
	Flags    PropertyFlags
	Struct   *Struct
	Class    *Class
	Enum     string
}

// StructSpec declares a struct type.
type StructSpec struct {
	// Package names the native package for RegisterStruct; it defaults to
	// Core. It is ignored by NewStruct.
	Package    string
	Name       string
	Super      *Struct
	Properties []PropertySpec
}

// ClassSpec declares a class.
type ClassSpec struct {
	// Package names the native package for RegisterClass; it defaults to
	// Core. It is ignored by NewClass.
	Package    string
	Name       string
	Super      *Class
	Within     *Class
	Flags      ClassFlags
	Properties []PropertySpec

	// New creates instances. Script classes and classes without a factory
	// use the nearest super class factory.
	New Factory
	// Defaults fills the class default object after it has copied the super
	// class defaults.
	Defaults func(v Value)
}

func (rt *Runtime) newProperties(specs []PropertySpec) ([]*Property, error) {
	props := make([]*Property, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, ps := range specs {
		if ps.Name == "" {
			return nil, fmt.Errorf("property with empty name")
		}
		key := nameKey(ps.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate property %q", ps.Name)
		}
		seen[key] = true
		if !ps.Kind.valid() {
			return nil, fmt.Errorf("property %q: invalid kind %d", ps.Name, ps.Kind)
		}
		if ps.Kind == KindStruct && ps.Struct == nil {
			return nil, fmt.Errorf("property %q: struct kind needs a struct type", ps.Name)
		}
		if ps.Struct != nil && !ps.Struct.IsLinked() {
			return nil, fmt.Errorf("property %q: %w: %s", ps.Name, ErrNotLinked, ps.Struct.debugName())
		}
		p := &Property{
			Name:     rt.Names.Intern(ps.Name),
			Kind:     ps.Kind,
			ArrayDim: max(ps.ArrayDim, 1),
			Flags:    ps.Flags &^ PropNeedCtorLink,
			Class:    ps.Class,
			Enum:     rt.Names.Intern(ps.Enum),
		}
		if ps.Kind == KindStruct {
			p.Struct = ps.Struct
		}
		props = append(props, p)
	}
	return props, nil
}

func (rt *Runtime) nativePackage(name string) (*Package, error) {
	if name == "" {
		return rt.core.Package, nil
	}
	if pkg := rt.FindPackage(name); pkg != nil {
		if pkg.PackageFlags&PkgNative == 0 {
			return nil, fmt.Errorf("package %s is not native", name)
		}
		return pkg, nil
	}
	pkg, err := rt.NewPackage(name)
	if err != nil {
		return nil, err
	}
	pkg.PackageFlags |= PkgNative
	pkg.SetFlags(FlagNative | FlagPermanent)
	return pkg, nil
}

const nativeTypeFlags = FlagNative | FlagPermanent | FlagPublic | FlagStandalone

// RegisterStruct links a native struct type.
func (rt *Runtime) RegisterStruct(spec StructSpec) (*Struct, error) {
	pkg, err := rt.nativePackage(spec.Package)
	if err != nil {
		return nil, err
	}
	s, err := rt.defineStruct(pkg, spec, nativeTypeFlags)
	if err != nil {
		return nil, err
	}
	s.StructFlags |= StructNative
	s.Link(true)
	return s, nil
}

// NewStruct creates a script struct type inside pkg. Script types are saved
// with their package.
func (rt *Runtime) NewStruct(pkg *Package, spec StructSpec) (*Struct, error) {
	s, err := rt.defineStruct(pkg, spec, FlagPublic|FlagStandalone)
	if err != nil {
		return nil, err
	}
	s.Link(true)
	return s, nil
}

func (rt *Runtime) defineStruct(pkg *Package, spec StructSpec, flags ObjectFlags) (*Struct, error) {
	if spec.Super != nil && !spec.Super.IsLinked() {
		return nil, fmt.Errorf("struct %s: %w: super %s", spec.Name, ErrNotLinked, spec.Super.debugName())
	}
	props, err := rt.newProperties(spec.Properties)
	if err != nil {
		return nil, fmt.Errorf("struct %s: %w", spec.Name, err)
	}
	o, err := rt.NewObject(rt.core.Struct, pkg, spec.Name, flags, nil)
	if err != nil {
		return nil, err
	}
	s := o.(*Struct)
	s.Super = spec.Super
	s.Props = props
	return s, nil
}

// RegisterClass links a native class and creates its default object.
func (rt *Runtime) RegisterClass(spec ClassSpec) (*Class, error) {
	pkg, err := rt.nativePackage(spec.Package)
	if err != nil {
		return nil, err
	}
	spec.Flags |= ClassNative
	return rt.defineClass(pkg, spec, nativeTypeFlags)
}

// NewClass creates a script class inside pkg together with its default
// object.
func (rt *Runtime) NewClass(pkg *Package, spec ClassSpec) (*Class, error) {
	spec.Flags &^= ClassNative
	spec.New = nil
	return rt.defineClass(pkg, spec, FlagPublic|FlagStandalone)
}

func (rt *Runtime) defineClass(pkg *Package, spec ClassSpec, flags ObjectFlags) (*Class, error) {
	super := spec.Super
	if super == nil {
		super = rt.core.Object
	}
	if !super.IsLinked() {
		return nil, fmt.Errorf("class %s: %w: super %s", spec.Name, ErrNotLinked, super.NameString())
	}
	props, err := rt.newProperties(spec.Properties)
	if err != nil {
		return nil, fmt.Errorf("class %s: %w", spec.Name, err)
	}
	o, err := rt.NewObject(rt.core.Class, pkg, spec.Name, flags, nil)
	if err != nil {
		return nil, err
	}
	c := o.(*Class)
	c.Super = &super.Struct
	c.Props = props
	c.ClassFlags = spec.Flags
	c.Within = spec.Within
	c.factory = spec.New
	if flags&FlagNative != 0 {
		c.StructFlags |= StructNative
	}
	c.Link(true)

	if err := rt.createDefaultObject(c, flags&(FlagNative|FlagPermanent)); err != nil {
		rt.ConditionalDestroy(c)
		return nil, err
	}
	if spec.Defaults != nil {
		spec.Defaults(c.Default.Base().Props())
	}
	return c, nil
}

// DefaultObjectName returns the name of a class default object.
func DefaultObjectName(className string) string {
	return "Default__" + className
}

func (rt *Runtime) createDefaultObject(c *Class, extra ObjectFlags) error {
	name := DefaultObjectName(c.NameString())
	cdo, err := rt.allocate(c, c.outer, rt.Names.Intern(name), FlagClassDefault|FlagPublic|extra, nil)
	if err != nil {
		return err
	}
	c.Default = cdo
	return nil
}

// isTypeObject reports whether o is a struct or class descriptor.
func isTypeObject(o Obj) bool {
	return asStruct(o) != nil
}

type structer interface {
	structBase() *Struct
}

func (s *Struct) structBase() *Struct { return s }

// asStruct returns the struct descriptor behind o, or nil.
func asStruct(o Obj) *Struct {
	if s, ok := o.(structer); ok {
		return s.structBase()
	}
	return nil
}

// classPath is the identity of a class across generations.
func classPath(c *Class) string {
	if c == nil {
		return ""
	}
	return strings.ToLower(c.PathName())
}
