package vm

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Tagged property codec
// ---------------------------------------------------------------------------
//
// A tagged stream is a sequence of records
//
//	name, type, size:i32, arrayIndex:i32,
//	[struct name if Struct], [enum name if Byte], [bit if Bool]
//
// each followed by size payload bytes, and ends with a record whose name is
// NameNone. Readers skip records they cannot apply by their size, so fields
// may be added, removed or retyped between generations.

// PropertyTag is the header of one tagged record.
type PropertyTag struct {
	Name       Name
	Type       Name
	Size       int32
	ArrayIndex int32
	StructName Name
	EnumName   Name
	BoolVal    byte
}

// serialize transfers the tag and returns the position of its size field.
// When loading a sentinel only the name is read.
func (t *PropertyTag) serialize(ar Archive, rt *Runtime) (sizePos int64) {
	ar.SerializeName(&t.Name)
	if t.Name.IsNone() {
		return -1
	}
	ar.SerializeName(&t.Type)
	sizePos = ar.Tell()
	SerializeInt32(ar, &t.Size)
	SerializeInt32(ar, &t.ArrayIndex)

	switch t.Type {
	case rt.kindNames[KindStruct]:
		ar.SerializeName(&t.StructName)
	case rt.kindNames[KindByte]:
		if ar.Version() >= versionEnumTags {
			ar.SerializeName(&t.EnumName)
		}
	case rt.kindNames[KindBool]:
		SerializeByte(ar, &t.BoolVal)
	}
	return sizePos
}

// SerializeTaggedProperties transfers the value of s stored in data at base.
// When saving, values identical to the value of s in defaults at dBase are
// left out; a nil defaults block stands for zero values. data may be nil, in
// which case an empty stream is written and every record read is skipped.
func (s *Struct) SerializeTaggedProperties(ar Archive, data *Block, base int, defaults *Block, dBase int) {
	rt := ar.Runtime()
	if rt == nil {
		rt = s.rt
	}
	if isLoading(ar) {
		s.loadTagged(ar, rt, data, base)
	} else {
		s.saveTagged(ar, rt, data, base, defaults, dBase)
	}
}

func (s *Struct) saveTagged(ar Archive, rt *Runtime, data *Block, base int, defaults *Block, dBase int) {
	if data != nil {
		for _, p := range s.propertyLink {
			if !p.ShouldSerializeValue(ar) {
				continue
			}
			for idx := 0; idx < p.ArrayDim; idx++ {
				off := p.elementOffset(base, idx)
				dblk, doff := defaultsFor(p, defaults, dBase, idx)
				if p.identical(rt, data, off, dblk, doff) {
					continue
				}
				s.saveRecord(ar, rt, p, idx, data, off, dblk, doff)
				if ar.Err() != nil {
					return
				}
			}
		}
	}
	end := NameNone
	ar.SerializeName(&end)
}

// defaultsFor returns the baseline block and offset for element idx of p, or
// a nil block when the baseline does not cover p.
func defaultsFor(p *Property, defaults *Block, dBase, idx int) (*Block, int) {
	if defaults == nil {
		return nil, 0
	}
	off := p.elementOffset(dBase, idx)
	if off+p.ElementSize > defaults.Len() {
		return nil, 0
	}
	return defaults, off
}

func (s *Struct) saveRecord(ar Archive, rt *Runtime, p *Property, idx int, data *Block, off int, dblk *Block, doff int) {
	tag := PropertyTag{
		Name:       p.Name,
		Type:       rt.kindNames[p.Kind],
		ArrayIndex: int32(idx),
		EnumName:   p.Enum,
	}
	switch p.Kind {
	case KindStruct:
		tag.StructName = p.Struct.name
	case KindBool:
		if data.uint32At(off)&p.BitMask != 0 {
			tag.BoolVal = 1
		}
	}

	if p.Kind == KindBool {
		tag.serialize(ar, rt)
		return
	}

	if !ar.CanSeek() {
		rb := newRecordBuffer(ar)
		p.serializeItem(rb, data, off, dblk, doff)
		tag.Size = int32(len(rb.Bytes()))
		tag.serialize(ar, rt)
		rb.flush()
		return
	}

	sizePos := tag.serialize(ar, rt)
	start := ar.Tell()
	p.serializeItem(ar, data, off, dblk, doff)
	end := ar.Tell()
	tag.Size = int32(end - start)
	ar.Seek(sizePos)
	SerializeInt32(ar, &tag.Size)
	ar.Seek(end)
}

func (s *Struct) loadTagged(ar Archive, rt *Runtime, data *Block, base int) {
	for ar.Err() == nil {
		var tag PropertyTag
		tag.serialize(ar, rt)
		if ar.Err() != nil || tag.Name.IsNone() {
			return
		}
		if tag.Size < 0 {
			ar.SetErr(fmt.Errorf("%w: tag %s has negative size %d", ErrCorruptData, rt.Names.String(tag.Name), tag.Size))
			return
		}
		if rem := remaining(ar); rem >= 0 && int64(tag.Size) > rem {
			ar.SetErr(fmt.Errorf("%w: tag %s size %d exceeds %d remaining bytes", ErrCorruptData, rt.Names.String(tag.Name), tag.Size, rem))
			return
		}

		p, reason := s.matchTag(ar, rt, &tag, data)
		if p == nil {
			if reason != "" {
				rt.log.Warningf("%s: skipping property %s: %s", s.debugName(), rt.Names.String(tag.Name), reason)
			}
			skipBytes(ar, int64(tag.Size))
			continue
		}

		off := p.elementOffset(base, int(tag.ArrayIndex))
		if p.Kind == KindBool {
			p.setBit(data, off, tag.BoolVal != 0)
			skipBytes(ar, int64(tag.Size))
			continue
		}

		start := ar.Tell()
		p.serializeItem(ar, data, off, nil, 0)
		if ar.Err() != nil {
			return
		}
		if ar.CanSeek() {
			if used := ar.Tell() - start; used != int64(tag.Size) {
				rt.log.Warningf("%s: property %s used %d bytes of a %d byte record", s.debugName(), rt.Names.String(tag.Name), used, tag.Size)
				ar.Seek(start + int64(tag.Size))
			}
		}
	}
}

// matchTag resolves tag against s. It returns nil and a reason when the
// record has to be skipped; the reason is empty for silent skips.
func (s *Struct) matchTag(ar Archive, rt *Runtime, tag *PropertyTag, data *Block) (*Property, string) {
	if data == nil {
		return nil, ""
	}
	p := s.FindProperty(tag.Name)
	if p == nil {
		return nil, "unknown property"
	}
	if rt.kindNames[p.Kind] != tag.Type {
		return nil, fmt.Sprintf("type %s does not match %s", rt.Names.String(tag.Type), p.Kind)
	}
	if p.Kind == KindStruct && tag.StructName != p.Struct.name {
		return nil, fmt.Sprintf("struct %s does not match %s", rt.Names.String(tag.StructName), p.Struct.debugName())
	}
	if tag.ArrayIndex < 0 || int(tag.ArrayIndex) >= p.ArrayDim {
		return nil, fmt.Sprintf("array index %d outside [0, %d)", tag.ArrayIndex, p.ArrayDim)
	}
	if !p.ShouldSerializeValue(ar) {
		return nil, ""
	}
	return p, ""
}

// skipBytes advances a loading archive by n bytes.
func skipBytes(ar Archive, n int64) {
	if n <= 0 {
		return
	}
	if ar.CanSeek() {
		ar.Seek(ar.Tell() + n)
		return
	}
	var scratch [256]byte
	for n > 0 && ar.Err() == nil {
		k := min(n, int64(len(scratch)))
		ar.Serialize(scratch[:k])
		n -= k
	}
}

// ---------------------------------------------------------------------------
// Stream reader
// ---------------------------------------------------------------------------

// StreamReader loads from an io.Reader that cannot seek. It shares the
// in-process reference encoding of StreamWriter.
type StreamReader struct {
	ArchiveState
	inProcessRefs
	r   io.Reader
	pos int64
}

// NewStreamReader creates a non-seekable loading archive.
func NewStreamReader(rt *Runtime, r io.Reader, flags ArchiveFlags) *StreamReader {
	return &StreamReader{
		ArchiveState:  newArchiveState(rt, (flags|ArLoading)&^ArSaving),
		inProcessRefs: inProcessRefs{rt},
		r:             r,
	}
}

func (s *StreamReader) Serialize(p []byte) {
	if s.err != nil {
		clear(p)
		return
	}
	n, err := io.ReadFull(s.r, p)
	s.pos += int64(n)
	if err != nil {
		s.SetErr(fmt.Errorf("%w: %v", ErrUnexpectedEOF, err))
		clear(p)
	}
}

func (s *StreamReader) SerializeName(n *Name)  { s.encodeName(s, n) }
func (s *StreamReader) SerializeObject(o *Obj) { s.encodeObject(s, o) }

func (s *StreamReader) Tell() int64      { return s.pos }
func (s *StreamReader) CanSeek() bool    { return false }
func (s *StreamReader) TotalSize() int64 { return -1 }

func (s *StreamReader) Seek(pos int64) {
	s.SetErr(fmt.Errorf("stream archive cannot seek to %d", pos))
}
