package vm

import "fmt"

// ---------------------------------------------------------------------------
// Property: one reflected field
// ---------------------------------------------------------------------------

// PropertyKind selects a property's storage and codec.
type PropertyKind uint8

const (
	KindByte PropertyKind = iota + 1
	KindInt
	KindBool
	KindFloat
	KindName
	KindStr
	KindObject
	KindStruct
)

var kindTypeNames = [...]string{
	KindByte:   "Byte",
	KindInt:    "Int",
	KindBool:   "Bool",
	KindFloat:  "Float",
	KindName:   "Name",
	KindStr:    "Str",
	KindObject: "Object",
	KindStruct: "Struct",
}

// TypeName is the name written into property tags.
func (k PropertyKind) TypeName() string {
	if int(k) < len(kindTypeNames) && kindTypeNames[k] != "" {
		return kindTypeNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

func (k PropertyKind) String() string {
	return k.TypeName()
}

func (k PropertyKind) valid() bool {
	return k >= KindByte && k <= KindStruct
}

// kindForTypeName maps a tag type name back to a kind.
func kindForTypeName(s string) (PropertyKind, bool) {
	for k, name := range kindTypeNames {
		if name != "" && name == s {
			return PropertyKind(k), true
		}
	}
	return 0, false
}

// PropertyFlags modify how a property is stored and serialized.
type PropertyFlags uint32

const (
	// PropTransient properties are skipped by persistent archives.
	PropTransient PropertyFlags = 1 << iota
	// PropDuplicateTransient properties are skipped when duplicating.
	PropDuplicateTransient
	// PropNative properties are owned by Go code.
	PropNative
	// PropConst properties are read-only through the accessors.
	PropConst
	// PropNeedCtorLink is computed by Link for properties needing non-trivial
	// construction or destruction.
	PropNeedCtorLink
)

// Property describes one field of a Struct. Offset and BitMask are assigned by
// Link; everything else is declared.
type Property struct {
	Name     Name
	Kind     PropertyKind
	ArrayDim int
	Flags    PropertyFlags

	// Struct is the value type of a KindStruct property.
	Struct *Struct
	// Class restricts a KindObject property; nil accepts any object.
	Class *Class
	// Enum names the enumeration of a KindByte property, if any.
	Enum Name

	Offset      int
	ElementSize int
	BitMask     uint32

	owner *Struct
}

// Owner returns the struct that declared p.
func (p *Property) Owner() *Struct {
	return p.owner
}

// Size is the total byte size of the property including every array element.
func (p *Property) Size() int {
	return p.ElementSize * p.ArrayDim
}

// nativeSize returns the element size and alignment p requires.
func (p *Property) nativeSize() (size, align int) {
	switch p.Kind {
	case KindByte:
		return 1, 1
	case KindInt, KindFloat, KindName, KindStr, KindBool:
		return 4, 4
	case KindObject:
		return objectRefSize, 4
	case KindStruct:
		if p.Struct == nil {
			panic(fatalf("struct property %d has no struct type", p.Name))
		}
		if !p.Struct.linked {
			panic(fatalf("struct property type %s is not linked", p.Struct.debugName()))
		}
		return p.Struct.PropertiesSize, p.Struct.MinAlign
	default:
		panic(fatalf("invalid property kind %d", p.Kind))
	}
}

// needsCtor reports whether p needs construction or destruction beyond
// zeroing its bytes.
func (p *Property) needsCtor() bool {
	switch p.Kind {
	case KindStr:
		return true
	case KindStruct:
		return p.Struct != nil && len(p.Struct.ctorLink) > 0
	}
	return false
}

// ShouldSerializeValue reports whether p takes part in transfers through ar.
func (p *Property) ShouldSerializeValue(ar Archive) bool {
	f := ar.Flags()
	if p.Flags&PropTransient != 0 && f&ArPersistent != 0 {
		return false
	}
	if p.Flags&PropDuplicateTransient != 0 && f&ArDuplicating != 0 {
		return false
	}
	return true
}

// elementOffset returns the absolute offset of element idx inside a value
// that starts at base.
func (p *Property) elementOffset(base, idx int) int {
	return base + p.Offset + idx*p.ElementSize
}
