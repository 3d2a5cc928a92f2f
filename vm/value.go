package vm

import "fmt"

// ---------------------------------------------------------------------------
// Value: typed access to property memory
// ---------------------------------------------------------------------------

// Value addresses one value of a struct type inside a Block. Accessors panic
// when the property does not exist or has another kind; that is a programming
// error, not a data error.
type Value struct {
	rt    *Runtime
	strct *Struct
	blk   *Block
	base  int
}

// NewValue wraps storage of s at base.
func NewValue(rt *Runtime, s *Struct, blk *Block, base int) Value {
	return Value{rt: rt, strct: s, blk: blk, base: base}
}

// IsValid reports whether v addresses storage.
func (v Value) IsValid() bool {
	return v.strct != nil && v.blk != nil
}

// Struct returns the type of v.
func (v Value) Struct() *Struct { return v.strct }

func (v Value) field(name string, kind PropertyKind, idx int) (*Property, int) {
	if !v.IsValid() {
		panic(fmt.Errorf("property %q accessed on an invalid value", name))
	}
	n, ok := v.rt.Names.Lookup(name)
	var p *Property
	if ok {
		p = v.strct.FindProperty(n)
	}
	if p == nil {
		panic(fmt.Errorf("%s has no property %q", v.strct.debugName(), name))
	}
	if p.Kind != kind {
		panic(fmt.Errorf("%s.%s is %s, not %s", v.strct.debugName(), name, p.Kind, kind))
	}
	if idx < 0 || idx >= p.ArrayDim {
		panic(fmt.Errorf("%s.%s index %d out of range [0, %d)", v.strct.debugName(), name, idx, p.ArrayDim))
	}
	return p, p.elementOffset(v.base, idx)
}

func (v Value) GetByte(name string, idx int) byte {
	_, off := v.field(name, KindByte, idx)
	return v.blk.Data[off]
}

func (v Value) SetByte(name string, idx int, b byte) {
	_, off := v.field(name, KindByte, idx)
	v.blk.Data[off] = b
}

func (v Value) GetInt(name string, idx int) int32 {
	_, off := v.field(name, KindInt, idx)
	return v.blk.int32At(off)
}

func (v Value) SetInt(name string, idx int, i int32) {
	_, off := v.field(name, KindInt, idx)
	v.blk.putInt32(off, i)
}

func (v Value) GetFloat(name string, idx int) float32 {
	_, off := v.field(name, KindFloat, idx)
	return v.blk.float32At(off)
}

func (v Value) SetFloat(name string, idx int, f float32) {
	_, off := v.field(name, KindFloat, idx)
	v.blk.putFloat32(off, f)
}

func (v Value) GetBool(name string) bool {
	p, off := v.field(name, KindBool, 0)
	return v.blk.uint32At(off)&p.BitMask != 0
}

func (v Value) SetBool(name string, b bool) {
	p, off := v.field(name, KindBool, 0)
	p.setBit(v.blk, off, b)
}

func (v Value) GetName(name string, idx int) Name {
	_, off := v.field(name, KindName, idx)
	return Name(v.blk.int32At(off))
}

func (v Value) SetName(name string, idx int, n Name) {
	_, off := v.field(name, KindName, idx)
	v.blk.putInt32(off, int32(n))
}

func (v Value) GetString(name string, idx int) string {
	_, off := v.field(name, KindStr, idx)
	return v.blk.textAt(off)
}

func (v Value) SetString(name string, idx int, s string) {
	_, off := v.field(name, KindStr, idx)
	v.blk.putText(off, s)
}

func (v Value) GetObject(name string, idx int) Obj {
	_, off := v.field(name, KindObject, idx)
	return v.rt.Resolve(v.blk.refAt(off))
}

// SetObject stores a reference. o must satisfy the property's class
// restriction.
func (v Value) SetObject(name string, idx int, o Obj) {
	p, off := v.field(name, KindObject, idx)
	if o != nil && p.Class != nil && !o.Base().IsA(p.Class) {
		panic(fmt.Errorf("%s.%s requires %s, got %s", v.strct.debugName(), name, p.Class.NameString(), o.Base().FullName()))
	}
	v.blk.putRef(off, v.rt.RefOf(o))
}

// StructAt returns the nested struct value of a struct property.
func (v Value) StructAt(name string, idx int) Value {
	p, off := v.field(name, KindStruct, idx)
	return Value{rt: v.rt, strct: p.Struct, blk: v.blk, base: off}
}
