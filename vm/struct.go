package vm

// ---------------------------------------------------------------------------
// Struct: ordered, inheritable field container
// ---------------------------------------------------------------------------

// StructFlags describe a struct type.
type StructFlags uint32

const (
	// StructNative structs are registered from Go and may use a native layout
	// override.
	StructNative StructFlags = 1 << iota
)

// Struct is a reflected record type. Its own properties are laid out after the
// (aligned) size of its super struct; the layout is append-only.
type Struct struct {
	Object

	Super       *Struct
	Props       []*Property // own properties in declaration order
	StructFlags StructFlags
	Script      []Instr

	// PropertiesSize and MinAlign are computed by Link.
	PropertiesSize int
	MinAlign       int

	// Defaults holds default values used as the comparison baseline when a
	// value of this struct is nested in another value.
	Defaults *Block

	propertyLink []*Property // every property, super's first
	ctorLink     []*Property // properties needing construction
	linked       bool
}

// layoutOverride pins the size and alignment of vector-like native structs to
// match their native memory shape.
type layoutOverride struct {
	Size  int
	Align int
}

var nativeLayouts = map[string]layoutOverride{
	"vector":  {Size: 12, Align: 4},
	"rotator": {Size: 12, Align: 4},
	"color":   {Size: 4, Align: 4},
	"plane":   {Size: 16, Align: 16},
	"quat":    {Size: 16, Align: 16},
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// IsLinked reports whether Link has run at least once.
func (s *Struct) IsLinked() bool {
	return s.linked
}

// PropertyLink returns every property, inherited ones first, in declaration
// order. The slice must not be modified.
func (s *Struct) PropertyLink() []*Property {
	return s.propertyLink
}

// ConstructorLink returns the properties that need construction, in the same
// order as PropertyLink.
func (s *Struct) ConstructorLink() []*Property {
	return s.ctorLink
}

// FindProperty returns the property called name, searching inherited
// properties too.
func (s *Struct) FindProperty(name Name) *Property {
	for _, p := range s.propertyLink {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// IsChildOf reports whether s is other or derives from it.
func (s *Struct) IsChildOf(other *Struct) bool {
	for cur := s; cur != nil; cur = cur.Super {
		if cur == other {
			return true
		}
	}
	return false
}

func (s *Struct) debugName() string {
	if s == nil {
		return "<nil>"
	}
	if s.rt != nil {
		if str := s.rt.Names.String(s.name); str != "" {
			return str
		}
	}
	return "<struct>"
}

// ---------------------------------------------------------------------------
// Link: layout computation
// ---------------------------------------------------------------------------

// Link computes property offsets and the total size of s, then rebuilds the
// property and constructor chains. With computeLayout false the committed
// offsets and bit masks are kept and only the size metadata is recomputed, so
// existing instances stay valid. The super struct must already be linked.
func (s *Struct) Link(computeLayout bool) {
	for cur := s.Super; cur != nil; cur = cur.Super {
		if cur == s {
			panic(fatalf("inheritance cycle through %s", s.debugName()))
		}
	}

	if computeLayout {
		s.computeLayout()
	} else {
		s.recomputeSize()
	}

	for _, p := range s.Props {
		if p.Kind == KindBool && p.BitMask == 0 {
			panic(fatalf("bool property %s.%s has a zero bit mask", s.debugName(), s.propName(p)))
		}
	}

	s.rebuildChains()
	s.linked = true

	if s.Defaults == nil {
		s.Defaults = NewBlock(s.PropertiesSize)
	} else {
		s.Defaults.resize(s.PropertiesSize)
	}
}

func (s *Struct) baseLayout() (cursor, align int) {
	align = 1
	if s.Super != nil {
		cursor = s.Super.PropertiesSize
		align = max(align, s.Super.MinAlign)
	}
	return cursor, align
}

func (s *Struct) computeLayout() {
	cursor, align := s.baseLayout()
	var lastBool *Property

	for _, p := range s.Props {
		p.owner = s
		if p.ArrayDim <= 0 {
			p.ArrayDim = 1
		}
		size, a := p.nativeSize()
		p.ElementSize = size

		if p.Kind == KindBool {
			if p.ArrayDim != 1 {
				panic(fatalf("bool property %s.%s cannot be an array", s.debugName(), s.propName(p)))
			}
			if lastBool != nil && lastBool.BitMask < 1<<31 {
				p.Offset = lastBool.Offset
				p.BitMask = lastBool.BitMask << 1
			} else {
				cursor = alignUp(cursor, a)
				p.Offset = cursor
				p.BitMask = 1
				cursor += size
			}
			lastBool = p
		} else {
			cursor = alignUp(cursor, a)
			p.Offset = cursor
			cursor += p.Size()
			lastBool = nil
		}
		align = max(align, a)
	}

	s.MinAlign, s.PropertiesSize = s.applyOverride(align, cursor)
}

func (s *Struct) recomputeSize() {
	end, align := s.baseLayout()
	superEnd := end

	for _, p := range s.Props {
		p.owner = s
		if p.ArrayDim <= 0 {
			p.ArrayDim = 1
		}
		size, a := p.nativeSize()
		p.ElementSize = size
		if p.Offset < superEnd {
			panic(fatalf("property %s.%s at %d overlaps super struct of size %d", s.debugName(), s.propName(p), p.Offset, superEnd))
		}
		if p.Offset%a != 0 {
			panic(fatalf("property %s.%s at %d violates alignment %d", s.debugName(), s.propName(p), p.Offset, a))
		}
		end = max(end, p.Offset+p.Size())
		align = max(align, a)
	}

	s.MinAlign, s.PropertiesSize = s.applyOverride(align, end)
}

func (s *Struct) applyOverride(align, size int) (int, int) {
	if s.StructFlags&StructNative != 0 {
		if o, ok := nativeLayouts[nameKey(s.debugName())]; ok {
			align = o.Align
			size = max(size, o.Size)
		}
	}
	return align, alignUp(size, align)
}

func (s *Struct) rebuildChains() {
	var superProps, superCtors []*Property
	if s.Super != nil {
		superProps = s.Super.propertyLink
		superCtors = s.Super.ctorLink
	}

	s.propertyLink = make([]*Property, 0, len(superProps)+len(s.Props))
	s.propertyLink = append(s.propertyLink, superProps...)
	s.propertyLink = append(s.propertyLink, s.Props...)

	s.ctorLink = make([]*Property, 0, len(superCtors))
	s.ctorLink = append(s.ctorLink, superCtors...)
	for _, p := range s.Props {
		if p.needsCtor() {
			p.Flags |= PropNeedCtorLink
			s.ctorLink = append(s.ctorLink, p)
		} else {
			p.Flags &^= PropNeedCtorLink
		}
	}
}

func (s *Struct) propName(p *Property) string {
	if s.rt != nil {
		return s.rt.Names.String(p.Name)
	}
	return "?"
}
