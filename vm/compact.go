package vm

// ---------------------------------------------------------------------------
// Compact index: variable-length signed integer
// ---------------------------------------------------------------------------
//
// Byte 0:    [sign][more][6 payload bits]
// Byte 1..3: [more][7 payload bits]
// Byte 4:    [8 payload bits]
//
// Payload groups are little-end first on the wire; decoding folds them from the
// last byte back to the first.

// MaxCompactSize is the longest encoding of a 32-bit value.
const MaxCompactSize = 5

// AppendCompact appends the compact encoding of v to buf.
func AppendCompact(buf []byte, v int32) []byte {
	mag := uint32(v)
	var b0 byte
	if v < 0 {
		mag = -mag
		b0 = 0x80
	}

	if mag < 0x40 {
		return append(buf, b0|byte(mag))
	}
	buf = append(buf, b0|0x40|byte(mag&0x3f))
	mag >>= 6

	for i := 1; i < 4; i++ {
		if mag < 0x80 {
			return append(buf, byte(mag))
		}
		buf = append(buf, 0x80|byte(mag&0x7f))
		mag >>= 7
	}
	return append(buf, byte(mag))
}

// CompactSize returns the encoded length of v.
func CompactSize(v int32) int {
	var tmp [MaxCompactSize]byte
	return len(AppendCompact(tmp[:0], v))
}

// DecodeCompact decodes a compact index from the start of data and returns
// the value and bytes consumed. n is 0 when data is too short.
func DecodeCompact(data []byte) (v int32, n int) {
	if len(data) == 0 {
		return 0, 0
	}
	var bytes [MaxCompactSize]byte
	bytes[0] = data[0]
	n = 1
	more := data[0]&0x40 != 0
	for more && n < MaxCompactSize {
		if n >= len(data) {
			return 0, 0
		}
		bytes[n] = data[n]
		more = n < 4 && data[n]&0x80 != 0
		n++
	}
	return foldCompact(bytes[:n]), n
}

func foldCompact(b []byte) int32 {
	var mag uint32
	for i := len(b) - 1; i >= 1; i-- {
		if i == 4 {
			mag = uint32(b[i])
		} else {
			mag = mag<<7 | uint32(b[i]&0x7f)
		}
	}
	mag = mag<<6 | uint32(b[0]&0x3f)
	if b[0]&0x80 != 0 {
		return int32(-mag)
	}
	return int32(mag)
}

// SerializeCompact transfers a compact index.
func SerializeCompact(ar Archive, v *int32) {
	if !isLoading(ar) {
		var tmp [MaxCompactSize]byte
		ar.Serialize(AppendCompact(tmp[:0], *v))
		return
	}

	var b [MaxCompactSize]byte
	ar.Serialize(b[:1])
	n := 1
	more := b[0]&0x40 != 0
	for more && n < MaxCompactSize {
		ar.Serialize(b[n : n+1])
		more = n < 4 && b[n]&0x80 != 0
		n++
	}
	if ar.Err() != nil {
		*v = 0
		return
	}
	*v = foldCompact(b[:n])
}
