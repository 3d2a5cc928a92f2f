package vm

// SerializeBin transfers every property of s in declaration order with no
// self-description. Both ends must share one layout, which holds for undo
// snapshots, duplication, checksums and traces within one process.
func (s *Struct) SerializeBin(ar Archive, data *Block, base int) {
	if data == nil {
		return
	}
	for _, p := range s.propertyLink {
		if !p.ShouldSerializeValue(ar) {
			continue
		}
		for idx := 0; idx < p.ArrayDim; idx++ {
			p.serializeItem(ar, data, p.elementOffset(base, idx), nil, 0)
		}
		if ar.Err() != nil {
			return
		}
	}
}
