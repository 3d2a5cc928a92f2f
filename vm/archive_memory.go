package vm

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// In-process reference encoding
// ---------------------------------------------------------------------------

// inProcessRefs encodes names as raw name indices and objects as table
// handles. Both ends must share one Runtime.
type inProcessRefs struct {
	rt *Runtime
}

func (r inProcessRefs) encodeName(dst Archive, n *Name) {
	v := int32(*n)
	SerializeInt32(dst, &v)
	if isLoading(dst) {
		if dst.Err() != nil {
			*n = NameNone
			return
		}
		if r.rt != nil && !r.rt.Names.Valid(Name(v)) {
			dst.SetErr(fmt.Errorf("%w: %d", ErrInvalidNameIndex, v))
			*n = NameNone
			return
		}
		*n = Name(v)
	}
}

func (r inProcessRefs) encodeObject(dst Archive, o *Obj) {
	var ref ObjectRef
	if !isLoading(dst) && r.rt != nil {
		ref = r.rt.RefOf(*o)
	}
	SerializeUint32(dst, &ref.Slot)
	SerializeUint32(dst, &ref.Version)
	if isLoading(dst) {
		*o = nil
		if dst.Err() == nil && r.rt != nil {
			*o = r.rt.Resolve(ref)
		}
	}
}

// ---------------------------------------------------------------------------
// MemoryWriter: seekable in-memory sink
// ---------------------------------------------------------------------------

// MemoryWriter saves into a growable byte slice. Writes after a Seek overwrite
// existing bytes, which is what size back-patching relies on.
type MemoryWriter struct {
	ArchiveState
	inProcessRefs
	buf []byte
	pos int64
}

// NewMemoryWriter creates a saving archive. ArSaving is always added to flags.
func NewMemoryWriter(rt *Runtime, flags ArchiveFlags) *MemoryWriter {
	return &MemoryWriter{
		ArchiveState:  newArchiveState(rt, (flags|ArSaving)&^ArLoading),
		inProcessRefs: inProcessRefs{rt},
	}
}

func (w *MemoryWriter) Serialize(p []byte) {
	end := w.pos + int64(len(p))
	if end > int64(len(w.buf)) {
		w.buf = append(w.buf, make([]byte, end-int64(len(w.buf)))...)
	}
	copy(w.buf[w.pos:end], p)
	w.pos = end
}

func (w *MemoryWriter) SerializeName(n *Name)  { w.encodeName(w, n) }
func (w *MemoryWriter) SerializeObject(o *Obj) { w.encodeObject(w, o) }

func (w *MemoryWriter) Tell() int64      { return w.pos }
func (w *MemoryWriter) CanSeek() bool    { return true }
func (w *MemoryWriter) TotalSize() int64 { return int64(len(w.buf)) }

func (w *MemoryWriter) Seek(pos int64) {
	if pos < 0 || pos > int64(len(w.buf)) {
		w.SetErr(fmt.Errorf("seek to %d outside [0, %d]", pos, len(w.buf)))
		return
	}
	w.pos = pos
}

// Bytes returns the written data.
func (w *MemoryWriter) Bytes() []byte {
	return w.buf
}

// ---------------------------------------------------------------------------
// MemoryReader: seekable in-memory source
// ---------------------------------------------------------------------------

// MemoryReader loads from a byte slice. Reading past the end records
// ErrUnexpectedEOF and yields zeros.
type MemoryReader struct {
	ArchiveState
	inProcessRefs
	data []byte
	pos  int64
}

// NewMemoryReader creates a loading archive over data.
func NewMemoryReader(rt *Runtime, data []byte, flags ArchiveFlags) *MemoryReader {
	return &MemoryReader{
		ArchiveState:  newArchiveState(rt, (flags|ArLoading)&^ArSaving),
		inProcessRefs: inProcessRefs{rt},
		data:          data,
	}
}

func (r *MemoryReader) Serialize(p []byte) {
	if r.err != nil {
		clear(p)
		return
	}
	end := r.pos + int64(len(p))
	if end > int64(len(r.data)) {
		r.SetErr(fmt.Errorf("%w: need %d bytes at %d, have %d", ErrUnexpectedEOF, len(p), r.pos, len(r.data)))
		clear(p)
		return
	}
	copy(p, r.data[r.pos:end])
	r.pos = end
}

func (r *MemoryReader) SerializeName(n *Name)  { r.encodeName(r, n) }
func (r *MemoryReader) SerializeObject(o *Obj) { r.encodeObject(r, o) }

func (r *MemoryReader) Tell() int64      { return r.pos }
func (r *MemoryReader) CanSeek() bool    { return true }
func (r *MemoryReader) TotalSize() int64 { return int64(len(r.data)) }

func (r *MemoryReader) Seek(pos int64) {
	if pos < 0 || pos > int64(len(r.data)) {
		r.SetErr(fmt.Errorf("%w: seek to %d outside [0, %d]", ErrCorruptData, pos, len(r.data)))
		return
	}
	r.pos = pos
}

// ---------------------------------------------------------------------------
// StreamWriter: append-only sink
// ---------------------------------------------------------------------------

// StreamWriter saves to an io.Writer that cannot seek. Tagged records written
// through it are buffered whole so their size is known before emission.
type StreamWriter struct {
	ArchiveState
	inProcessRefs
	w   io.Writer
	pos int64
}

// NewStreamWriter creates a non-seekable saving archive.
func NewStreamWriter(rt *Runtime, w io.Writer, flags ArchiveFlags) *StreamWriter {
	return &StreamWriter{
		ArchiveState:  newArchiveState(rt, (flags|ArSaving)&^ArLoading),
		inProcessRefs: inProcessRefs{rt},
		w:             w,
	}
}

func (s *StreamWriter) Serialize(p []byte) {
	if s.err != nil {
		return
	}
	n, err := s.w.Write(p)
	s.pos += int64(n)
	s.SetErr(err)
}

func (s *StreamWriter) SerializeName(n *Name)  { s.encodeName(s, n) }
func (s *StreamWriter) SerializeObject(o *Obj) { s.encodeObject(s, o) }

func (s *StreamWriter) Tell() int64      { return s.pos }
func (s *StreamWriter) CanSeek() bool    { return false }
func (s *StreamWriter) TotalSize() int64 { return s.pos }

func (s *StreamWriter) Seek(pos int64) {
	s.SetErr(fmt.Errorf("stream archive cannot seek to %d", pos))
}

// ---------------------------------------------------------------------------
// CountingArchive: measures what a parent archive would write
// ---------------------------------------------------------------------------

// CountingArchive is neither loading nor saving: it only measures. When a
// parent is given, names and objects are counted with the parent's encoding.
type CountingArchive struct {
	ArchiveState
	enc refEncoder
	n   int64
}

// NewCountingArchive creates a counter mirroring parent's flags and
// reference encoding. parent may be nil.
func NewCountingArchive(rt *Runtime, parent Archive) *CountingArchive {
	c := &CountingArchive{enc: inProcessRefs{rt}}
	var flags ArchiveFlags
	if parent != nil {
		flags = parent.Flags()
		if e, ok := parent.(refEncoder); ok {
			c.enc = e
		}
	}
	c.ArchiveState = newArchiveState(rt, flags&^(ArLoading|ArSaving))
	if parent != nil {
		c.version = parent.Version()
	}
	return c
}

func (c *CountingArchive) Serialize(p []byte)     { c.n += int64(len(p)) }
func (c *CountingArchive) SerializeName(n *Name)  { c.enc.encodeName(c, n) }
func (c *CountingArchive) SerializeObject(o *Obj) { c.enc.encodeObject(c, o) }

func (c *CountingArchive) Tell() int64      { return c.n }
func (c *CountingArchive) Seek(int64)       {}
func (c *CountingArchive) CanSeek() bool    { return false }
func (c *CountingArchive) TotalSize() int64 { return c.n }

// Count returns the number of bytes seen.
func (c *CountingArchive) Count() int64 {
	return c.n
}

// ---------------------------------------------------------------------------
// recordBuffer: one buffered record for a non-seekable parent
// ---------------------------------------------------------------------------

// recordBuffer collects one record in memory using the parent's reference
// encoding, so the record can be measured before it is emitted.
type recordBuffer struct {
	MemoryWriter
	parent Archive
	enc    refEncoder
}

func newRecordBuffer(parent Archive) *recordBuffer {
	rb := &recordBuffer{
		MemoryWriter: *NewMemoryWriter(parent.Runtime(), parent.Flags()),
		parent:       parent,
		enc:          inProcessRefs{parent.Runtime()},
	}
	rb.version = parent.Version()
	if e, ok := parent.(refEncoder); ok {
		rb.enc = e
	}
	return rb
}

func (rb *recordBuffer) SerializeName(n *Name)  { rb.enc.encodeName(rb, n) }
func (rb *recordBuffer) SerializeObject(o *Obj) { rb.enc.encodeObject(rb, o) }

// flush writes the buffered bytes to the parent and propagates errors.
func (rb *recordBuffer) flush() {
	rb.parent.SetErr(rb.Err())
	rb.parent.Serialize(rb.Bytes())
}
