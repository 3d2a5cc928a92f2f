package vm

import "fmt"

// ---------------------------------------------------------------------------
// Struct descriptor serialization
// ---------------------------------------------------------------------------

// Bounds applied to loaded descriptors.
const (
	maxDescriptorProperties = 1 << 16
	maxArrayDim             = 1 << 12
	maxLoadedStructSize     = 1 << 24
)

// Serialize transfers the struct descriptor: super, property declarations,
// script and defaults. On load, struct-typed properties and the super struct
// are preloaded and the layout is linked before the defaults are read.
func (s *Struct) Serialize(ar Archive) {
	s.Object.Serialize(ar)

	loading := isLoading(ar)

	super := Obj(nil)
	if s.Super != nil {
		super = s.Super.self
	}
	ar.SerializeObject(&super)
	if loading {
		s.Super = nil
		if super != nil {
			ar.Preload(super)
			if s.Super = asStruct(super); s.Super == nil {
				ar.SetErr(fmt.Errorf("%w: super of %s is not a struct", ErrCorruptData, s.debugName()))
			}
		}
	}

	flags := uint32(s.StructFlags)
	SerializeUint32(ar, &flags)

	count := int32(len(s.Props))
	SerializeCompact(ar, &count)
	if loading {
		if rem := remaining(ar); count < 0 || count > maxDescriptorProperties || (rem >= 0 && int64(count) > rem) {
			ar.SetErr(fmt.Errorf("%w: %s declares %d properties", ErrCorruptData, s.debugName(), count))
			return
		}
		s.Props = make([]*Property, count)
		for i := range s.Props {
			s.Props[i] = &Property{}
		}
	}
	for _, p := range s.Props {
		serializeDescriptor(ar, p)
		if ar.Err() != nil {
			return
		}
	}

	serializeScript(ar, &s.Script)

	if loading {
		if ar.Err() != nil {
			return
		}
		s.StructFlags = StructFlags(flags)
		for _, p := range s.Props {
			if p.Kind == KindStruct {
				if !p.Struct.IsLinked() {
					ar.SetErr(fmt.Errorf("%w: %s: property type %s is not linked", ErrCorruptData, s.debugName(), p.Struct.debugName()))
					return
				}
			}
		}
		if s.Super != nil && !s.Super.IsLinked() {
			ar.SetErr(fmt.Errorf("%w: %s: super %s is not linked", ErrCorruptData, s.debugName(), s.Super.debugName()))
			return
		}
		if bound := s.sizeBound(); bound > maxLoadedStructSize {
			ar.SetErr(fmt.Errorf("%w: %s needs up to %d bytes per value", ErrCorruptData, s.debugName(), bound))
			return
		}
		s.Defaults = nil
		s.Link(true)
	}

	if s.Defaults == nil {
		return
	}
	if ar.Flags()&ArPersistent != 0 {
		s.SerializeTaggedProperties(ar, s.Defaults, 0, nil, 0)
	} else {
		s.SerializeBin(ar, s.Defaults, 0)
	}
}

// serializeDescriptor transfers one property declaration. Offsets are not
// stored; the loader links the layout again.
func serializeDescriptor(ar Archive, p *Property) {
	loading := isLoading(ar)

	ar.SerializeName(&p.Name)

	kind := byte(p.Kind)
	SerializeByte(ar, &kind)

	dim := int32(p.ArrayDim)
	SerializeCompact(ar, &dim)

	flags := uint32(p.Flags &^ PropNeedCtorLink)
	SerializeUint32(ar, &flags)

	ar.SerializeName(&p.Enum)

	if loading {
		p.Kind = PropertyKind(kind)
		p.ArrayDim = int(dim)
		p.Flags = PropertyFlags(flags)
		if !p.Kind.valid() || dim < 1 || dim > maxArrayDim || (p.Kind == KindBool && dim != 1) {
			ar.SetErr(fmt.Errorf("%w: property declaration kind %d dim %d", ErrCorruptData, kind, dim))
			return
		}
	}

	switch p.Kind {
	case KindStruct:
		o := Obj(nil)
		if p.Struct != nil {
			o = p.Struct.self
		}
		ar.SerializeObject(&o)
		if loading {
			if o != nil {
				ar.Preload(o)
			}
			if p.Struct = asStruct(o); p.Struct == nil {
				ar.SetErr(fmt.Errorf("%w: struct property without a struct type", ErrCorruptData))
			}
		}
	case KindObject:
		o := Obj(nil)
		if p.Class != nil {
			o = p.Class
		}
		ar.SerializeObject(&o)
		if loading {
			p.Class, _ = o.(*Class)
		}
	}
}

// sizeBound is an upper limit on the size Link would compute, counting the
// worst alignment padding for every property.
func (s *Struct) sizeBound() int64 {
	var n int64
	if s.Super != nil {
		n = int64(s.Super.PropertiesSize)
	}
	for _, p := range s.Props {
		elem := int64(objectRefSize)
		if p.Kind == KindStruct && p.Struct != nil {
			elem = int64(p.Struct.PropertiesSize) + int64(p.Struct.MinAlign)
		}
		n += elem*int64(p.ArrayDim) + 16
	}
	return n
}
