package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Archive: directional transfer cursor
// ---------------------------------------------------------------------------

// ArchiveFlags select an archive's direction and side effects. They are
// independent and set once when the archive is created.
type ArchiveFlags uint32

const (
	// ArLoading archives read into memory. With neither ArLoading nor ArSaving
	// set the archive only observes values (counting, tracing).
	ArLoading ArchiveFlags = 1 << iota
	// ArSaving archives write values out.
	ArSaving
	// ArPersistent archives target storage outliving the process: names and
	// objects are written as table indices and transient properties are skipped.
	ArPersistent
	// ArCollector archives record dependencies as a side effect of reference
	// transfer.
	ArCollector
	// ArTransacting archives feed or replay the undo buffer.
	ArTransacting
	// ArDuplicating archives copy objects; duplicate-transient properties are
	// skipped.
	ArDuplicating
)

// Has reports whether every bit of v is set.
func (f ArchiveFlags) Has(v ArchiveFlags) bool {
	return f&v == v
}

// Archive is one code path for saving, loading, counting and tracing. A
// concrete archive must implement raw byte transfer; name and object transfer
// may add side effects.
type Archive interface {
	Flags() ArchiveFlags
	Version() int32
	Runtime() *Runtime

	// Err returns the first error recorded on the archive. Once set, loads
	// yield zero values.
	Err() error
	SetErr(err error)

	// Serialize transfers len(p) raw bytes.
	Serialize(p []byte)
	SerializeName(n *Name)
	SerializeObject(o *Obj)

	Tell() int64
	Seek(pos int64)
	CanSeek() bool
	TotalSize() int64

	// Preload makes sure o's fields are populated before they are used. It is
	// a no-op outside a loading linker.
	Preload(o Obj)
}

// refEncoder lets a buffered record reproduce an archive's encoding of names
// and object references.
type refEncoder interface {
	encodeName(dst Archive, n *Name)
	encodeObject(dst Archive, o *Obj)
}

// ArchiveState implements the bookkeeping shared by every archive.
type ArchiveState struct {
	flags   ArchiveFlags
	version int32
	rt      *Runtime
	err     error
}

func newArchiveState(rt *Runtime, flags ArchiveFlags) ArchiveState {
	return ArchiveState{flags: flags, version: PackageVersion, rt: rt}
}

func (a *ArchiveState) Flags() ArchiveFlags { return a.flags }
func (a *ArchiveState) Version() int32      { return a.version }
func (a *ArchiveState) Runtime() *Runtime   { return a.rt }
func (a *ArchiveState) Err() error          { return a.err }
func (a *ArchiveState) Preload(Obj)         {}

// SetVersion changes the format version used for version-gated fields.
func (a *ArchiveState) SetVersion(v int32) {
	a.version = v
}

func (a *ArchiveState) SetErr(err error) {
	if a.err == nil && err != nil {
		a.err = err
	}
}

func (a *ArchiveState) loading() bool {
	return a.flags&ArLoading != 0
}

// ---------------------------------------------------------------------------
// Primitive transfers
// ---------------------------------------------------------------------------

func isLoading(ar Archive) bool {
	return ar.Flags()&ArLoading != 0
}

// SerializeByte transfers one byte.
func SerializeByte(ar Archive, v *byte) {
	var b [1]byte
	b[0] = *v
	ar.Serialize(b[:])
	if isLoading(ar) {
		*v = b[0]
	}
}

// SerializeUint32 transfers a little-endian 32-bit value.
func SerializeUint32(ar Archive, v *uint32) {
	var b [4]byte
	if isLoading(ar) {
		ar.Serialize(b[:])
		*v = binary.LittleEndian.Uint32(b[:])
		return
	}
	binary.LittleEndian.PutUint32(b[:], *v)
	ar.Serialize(b[:])
}

// SerializeInt32 transfers a little-endian signed 32-bit value.
func SerializeInt32(ar Archive, v *int32) {
	u := uint32(*v)
	SerializeUint32(ar, &u)
	*v = int32(u)
}

// SerializeFloat32 transfers an IEEE-754 single.
func SerializeFloat32(ar Archive, v *float32) {
	u := math.Float32bits(*v)
	SerializeUint32(ar, &u)
	*v = math.Float32frombits(u)
}

// remaining returns how many bytes a loading archive can still supply, or -1
// when unknown.
func remaining(ar Archive) int64 {
	if !ar.CanSeek() {
		return -1
	}
	return ar.TotalSize() - ar.Tell()
}

// SerializeString transfers length-prefixed text. A positive compact length
// counts 8-bit characters, a negative one 16-bit characters; both include a
// terminating zero. Empty text is a zero length with no characters.
//
// Invalid UTF-8 and embedded zeros do not come back unchanged. A persistent
// save of such text fails the archive with ErrInvalidText; in-memory archives
// (checksums, undo buffers) transfer it lossily.
func SerializeString(ar Archive, s *string) {
	if isLoading(ar) {
		loadString(ar, s)
		return
	}
	if ar.Flags()&(ArSaving|ArPersistent) == ArSaving|ArPersistent && (!utf8.ValidString(*s) || strings.IndexByte(*s, 0) >= 0) {
		ar.SetErr(fmt.Errorf("%w: %q", ErrInvalidText, *s))
		return
	}

	if *s == "" {
		var n int32
		SerializeCompact(ar, &n)
		return
	}

	runes := []rune(*s)
	wide := false
	for _, r := range runes {
		if r > 0xFF {
			wide = true
			break
		}
	}

	if !wide {
		buf := make([]byte, len(runes)+1)
		for i, r := range runes {
			buf[i] = byte(r)
		}
		n := int32(len(buf))
		SerializeCompact(ar, &n)
		ar.Serialize(buf)
		return
	}

	units := append(utf16.Encode(runes), 0)
	n := -int32(len(units))
	SerializeCompact(ar, &n)
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	ar.Serialize(buf)
}

func loadString(ar Archive, s *string) {
	var n int32
	SerializeCompact(ar, &n)
	if ar.Err() != nil || n == 0 {
		*s = ""
		return
	}
	if n == math.MinInt32 {
		ar.SetErr(fmt.Errorf("%w: text length %d", ErrCorruptData, n))
		*s = ""
		return
	}

	count, width := int64(n), int64(1)
	if n < 0 {
		count, width = int64(-n), 2
	}
	if rem := remaining(ar); rem >= 0 && count*width > rem {
		ar.SetErr(fmt.Errorf("%w: text of %d characters exceeds %d remaining bytes", ErrCorruptData, count, rem))
		*s = ""
		return
	}

	buf := make([]byte, count*width)
	ar.Serialize(buf)
	if ar.Err() != nil {
		*s = ""
		return
	}

	if width == 1 {
		runes := make([]rune, 0, count)
		for _, b := range buf {
			if b == 0 {
				break
			}
			runes = append(runes, rune(b))
		}
		*s = string(runes)
		return
	}

	units := make([]uint16, 0, count)
	for i := int64(0); i < count; i++ {
		u := binary.LittleEndian.Uint16(buf[2*i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	*s = string(utf16.Decode(units))
}
