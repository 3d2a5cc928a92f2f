package vm

// ---------------------------------------------------------------------------
// Per-kind element codecs
// ---------------------------------------------------------------------------

// serializeItem transfers one element of p stored at absolute offset off.
// dblk at doff is the saving baseline of the element; only nested structs
// use it, falling back to the struct's own defaults when dblk is nil.
func (p *Property) serializeItem(ar Archive, blk *Block, off int, dblk *Block, doff int) {
	loading := isLoading(ar)

	switch p.Kind {
	case KindByte:
		SerializeByte(ar, &blk.Data[off])

	case KindInt, KindFloat:
		v := blk.uint32At(off)
		SerializeUint32(ar, &v)
		if loading {
			blk.putUint32(off, v)
		}

	case KindBool:
		var b byte
		if blk.uint32At(off)&p.BitMask != 0 {
			b = 1
		}
		SerializeByte(ar, &b)
		if loading {
			p.setBit(blk, off, b != 0)
		}

	case KindName:
		n := Name(blk.int32At(off))
		ar.SerializeName(&n)
		if loading {
			blk.putInt32(off, int32(n))
		}

	case KindStr:
		s := blk.textAt(off)
		SerializeString(ar, &s)
		if loading {
			blk.putText(off, s)
		}

	case KindObject:
		rt := ar.Runtime()
		var o Obj
		if rt != nil {
			o = rt.resolveField(blk.refAt(off), p)
		}
		ar.SerializeObject(&o)
		if loading {
			var ref ObjectRef
			if rt != nil {
				if o != nil && p.Class != nil && !o.Base().IsA(p.Class) {
					rt.log.Warningf("property %s: %s is not a %s, cleared", rt.Names.String(p.Name), o.Base().FullName(), p.Class.NameString())
					o = nil
				}
				ref = rt.RefOf(o)
			}
			blk.putRef(off, ref)
		}

	case KindStruct:
		if ar.Flags()&ArPersistent != 0 {
			if dblk == nil {
				dblk, doff = p.Struct.Defaults, 0
			}
			p.Struct.SerializeTaggedProperties(ar, blk, off, dblk, doff)
		} else {
			p.Struct.SerializeBin(ar, blk, off)
		}
	}
}

func (p *Property) setBit(blk *Block, off int, on bool) {
	word := blk.uint32At(off)
	if on {
		word |= p.BitMask
	} else {
		word &^= p.BitMask
	}
	blk.putUint32(off, word)
}

// identical compares one element of p in a (at aOff) with b (at bOff). A nil
// b stands for the zero value.
func (p *Property) identical(rt *Runtime, a *Block, aOff int, b *Block, bOff int) bool {
	switch p.Kind {
	case KindByte:
		var bv byte
		if b != nil {
			bv = b.Data[bOff]
		}
		return a.Data[aOff] == bv

	case KindInt, KindFloat, KindName:
		var bv uint32
		if b != nil {
			bv = b.uint32At(bOff)
		}
		return a.uint32At(aOff) == bv

	case KindBool:
		var bv bool
		if b != nil {
			bv = b.uint32At(bOff)&p.BitMask != 0
		}
		return (a.uint32At(aOff)&p.BitMask != 0) == bv

	case KindStr:
		var bv string
		if b != nil {
			bv = b.textAt(bOff)
		}
		return a.textAt(aOff) == bv

	case KindObject:
		var ao, bo Obj
		if rt != nil {
			ao = rt.Resolve(a.refAt(aOff))
			if b != nil {
				bo = rt.Resolve(b.refAt(bOff))
			}
		}
		return ao == bo

	case KindStruct:
		for _, sp := range p.Struct.propertyLink {
			for i := 0; i < sp.ArrayDim; i++ {
				ao := sp.elementOffset(aOff, i)
				bo := sp.elementOffset(bOff, i)
				if !sp.identical(rt, a, ao, b, bo) {
					return false
				}
			}
		}
		return true
	}
	return false
}

// copyElement copies one element of p from src to dst.
func (p *Property) copyElement(dst *Block, dOff int, src *Block, sOff int) {
	switch p.Kind {
	case KindBool:
		p.setBit(dst, dOff, src.uint32At(sOff)&p.BitMask != 0)
	case KindStr:
		dst.putText(dOff, src.textAt(sOff))
	case KindStruct:
		copy(dst.Data[dOff:dOff+p.ElementSize], src.Data[sOff:sOff+p.ElementSize])
		for _, sp := range p.Struct.ctorLink {
			for i := 0; i < sp.ArrayDim; i++ {
				sp.copyElement(dst, sp.elementOffset(dOff, i), src, sp.elementOffset(sOff, i))
			}
		}
	default:
		copy(dst.Data[dOff:dOff+p.ElementSize], src.Data[sOff:sOff+p.ElementSize])
	}
}

// destroyValue releases side storage held by every element of p.
func (p *Property) destroyValue(blk *Block, base int) {
	for i := 0; i < p.ArrayDim; i++ {
		off := p.elementOffset(base, i)
		switch p.Kind {
		case KindStr:
			blk.putText(off, "")
		case KindStruct:
			for _, sp := range p.Struct.ctorLink {
				sp.destroyValue(blk, off)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Struct-wide value helpers
// ---------------------------------------------------------------------------

// InitializeValue fills a value of s at base from template (which must be a
// value of s or of a super struct of s), or zeroes it when template is nil.
func (s *Struct) InitializeValue(dst *Block, base int, template *Block, tBase int) {
	s.DestroyValue(dst, base)
	clear(dst.Data[base : base+s.PropertiesSize])
	if template == nil {
		return
	}
	n := min(s.PropertiesSize, template.Len()-tBase)
	copy(dst.Data[base:base+n], template.Data[tBase:tBase+n])
	for off, text := range template.text {
		if off >= tBase && off < tBase+n {
			dst.putText(base+off-tBase, text)
		}
	}
}

// DestroyValue releases side storage owned by a value of s at base.
func (s *Struct) DestroyValue(blk *Block, base int) {
	for _, p := range s.ctorLink {
		p.destroyValue(blk, base)
	}
}

// CopyValue copies every property of s from src to dst.
func (s *Struct) CopyValue(dst *Block, dBase int, src *Block, sBase int) {
	for _, p := range s.propertyLink {
		for i := 0; i < p.ArrayDim; i++ {
			p.copyElement(dst, p.elementOffset(dBase, i), src, p.elementOffset(sBase, i))
		}
	}
}

// IdenticalValue reports whether two values of s hold the same data.
func (s *Struct) IdenticalValue(rt *Runtime, a *Block, aBase int, b *Block, bBase int) bool {
	for _, p := range s.propertyLink {
		for i := 0; i < p.ArrayDim; i++ {
			if !p.identical(rt, a, p.elementOffset(aBase, i), b, p.elementOffset(bBase, i)) {
				return false
			}
		}
	}
	return true
}
