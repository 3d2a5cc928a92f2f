package vm

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Block: layout-addressed property storage
// ---------------------------------------------------------------------------

// Block is the backing storage of a reflected value. Fixed-size fields live in
// Data at the offsets computed by Link; text fields keep their characters in a
// side map keyed by absolute offset, because Go strings cannot live in bytes.
type Block struct {
	Data []byte
	text map[int]string
}

// NewBlock returns zeroed storage of the given size.
func NewBlock(size int) *Block {
	return &Block{Data: make([]byte, size)}
}

// Len returns the size of the fixed-layout part.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Clone returns a deep copy.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	c := &Block{Data: make([]byte, len(b.Data))}
	copy(c.Data, b.Data)
	if len(b.text) > 0 {
		c.text = make(map[int]string, len(b.text))
		for k, v := range b.text {
			c.text[k] = v
		}
	}
	return c
}

// resize grows or shrinks Data, preserving the common prefix.
func (b *Block) resize(size int) {
	if size == len(b.Data) {
		return
	}
	data := make([]byte, size)
	copy(data, b.Data)
	b.Data = data
	for off := range b.text {
		if off >= size {
			delete(b.text, off)
		}
	}
}

func (b *Block) uint32At(off int) uint32 {
	return binary.LittleEndian.Uint32(b.Data[off:])
}

func (b *Block) putUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(b.Data[off:], v)
}

func (b *Block) int32At(off int) int32 {
	return int32(b.uint32At(off))
}

func (b *Block) putInt32(off int, v int32) {
	b.putUint32(off, uint32(v))
}

func (b *Block) float32At(off int) float32 {
	return math.Float32frombits(b.uint32At(off))
}

func (b *Block) putFloat32(off int, v float32) {
	b.putUint32(off, math.Float32bits(v))
}

func (b *Block) textAt(off int) string {
	return b.text[off]
}

func (b *Block) putText(off int, s string) {
	if s == "" {
		delete(b.text, off)
		return
	}
	if b.text == nil {
		b.text = make(map[int]string)
	}
	b.text[off] = s
}

// ---------------------------------------------------------------------------
// ObjectRef: generation-checked object handle stored in a Block
// ---------------------------------------------------------------------------

// ObjectRef is how an object reference is stored inside property memory: the
// table index plus one (zero means nil) and the slot version at the time the
// reference was taken. A reference whose version no longer matches its slot is
// stale and resolves to nil.
type ObjectRef struct {
	Slot    uint32
	Version uint32
}

const objectRefSize = 8

func (b *Block) refAt(off int) ObjectRef {
	return ObjectRef{
		Slot:    binary.LittleEndian.Uint32(b.Data[off:]),
		Version: binary.LittleEndian.Uint32(b.Data[off+4:]),
	}
}

func (b *Block) putRef(off int, r ObjectRef) {
	binary.LittleEndian.PutUint32(b.Data[off:], r.Slot)
	binary.LittleEndian.PutUint32(b.Data[off+4:], r.Version)
}
