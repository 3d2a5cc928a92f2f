package vm

import (
	"fmt"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Container Format Constants
// ---------------------------------------------------------------------------

// PackageMagic identifies a saved package.
var PackageMagic = [4]byte{'S', 'T', 'R', 'A'}

// Package format version
// v1: initial format
// v2: byte tags carry their enum name
// v3: generation history in the summary
const PackageVersion int32 = 3

// MinPackageVersion is the oldest version the loader accepts.
const MinPackageVersion int32 = 1

const (
	versionEnumTags    int32 = 2
	versionGenerations int32 = 3
)

// maxTableEntries bounds every table count accepted on load.
const maxTableEntries = 1 << 24

// Generation records the table sizes of one saved generation.
type Generation struct {
	ExportCount int32
	NameCount   int32
}

// Summary is the fixed header of a saved package. Offsets are absolute byte
// positions in the container.
type Summary struct {
	Magic         [4]byte
	Version       int32
	Flags         PackageFlags
	NameCount     int32
	NameOffset    int32
	ImportCount   int32
	ImportOffset  int32
	ExportCount   int32
	ExportOffset  int32
	DependsOffset int32
	GUID          uuid.UUID
	Generations   []Generation
}

func (s *Summary) serialize(ar Archive) {
	ar.Serialize(s.Magic[:])
	SerializeInt32(ar, &s.Version)
	if isLoading(ar) {
		if ar.Err() != nil {
			return
		}
		if s.Magic != PackageMagic {
			ar.SetErr(ErrInvalidMagic)
			return
		}
		if s.Version < MinPackageVersion || s.Version > PackageVersion {
			ar.SetErr(fmt.Errorf("%w: got %d, support %d..%d", ErrVersionMismatch, s.Version, MinPackageVersion, PackageVersion))
			return
		}
		if a, ok := ar.(interface{ SetVersion(int32) }); ok {
			a.SetVersion(s.Version)
		}
	}

	flags := uint32(s.Flags)
	SerializeUint32(ar, &flags)
	s.Flags = PackageFlags(flags)

	for _, v := range []*int32{
		&s.NameCount, &s.NameOffset,
		&s.ImportCount, &s.ImportOffset,
		&s.ExportCount, &s.ExportOffset,
		&s.DependsOffset,
	} {
		SerializeInt32(ar, v)
	}
	ar.Serialize(s.GUID[:])

	if s.Version < versionGenerations {
		return
	}
	n := int32(len(s.Generations))
	SerializeCompact(ar, &n)
	if isLoading(ar) {
		rem := remaining(ar)
		if ar.Err() != nil || n < 0 || n > maxTableEntries || (rem >= 0 && int64(n)*8 > rem) {
			ar.SetErr(fmt.Errorf("%w: %d generations", ErrCorruptHeader, n))
			return
		}
		s.Generations = make([]Generation, n)
	}
	for i := range s.Generations {
		SerializeInt32(ar, &s.Generations[i].ExportCount)
		SerializeInt32(ar, &s.Generations[i].NameCount)
	}
}

// ReadSummary parses only the summary of a saved package.
func ReadSummary(data []byte) (Summary, error) {
	var s Summary
	r := NewMemoryReader(nil, data, ArPersistent)
	s.serialize(r)
	if err := r.Err(); err != nil {
		return Summary{}, err
	}
	if err := s.validate(int64(len(data))); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// validate checks table counts and offsets against the container size.
func (s *Summary) validate(size int64) error {
	counts := []int32{s.NameCount, s.ImportCount, s.ExportCount}
	for _, c := range counts {
		if c < 0 || c > maxTableEntries {
			return fmt.Errorf("%w: table count %d", ErrCorruptHeader, c)
		}
	}
	offsets := []int32{s.NameOffset, s.ImportOffset, s.ExportOffset, s.DependsOffset}
	for _, off := range offsets {
		if off < 0 || int64(off) > size {
			return fmt.Errorf("%w: offset %d outside container of %d bytes", ErrCorruptHeader, off, size)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Table records
// ---------------------------------------------------------------------------

// Linker indices address both tables: zero is nil (or the package itself as
// an outer), i > 0 is export i-1 and i < 0 is import -i-1.

// ImportRecord references an object outside the package.
type ImportRecord struct {
	ClassPackage Name
	ClassName    Name
	OuterIndex   int32
	ObjectName   Name

	// Object is the resolved object, set on save and after CreateImport.
	Object Obj
}

func (r *ImportRecord) serialize(ar Archive) {
	ar.SerializeName(&r.ClassPackage)
	ar.SerializeName(&r.ClassName)
	SerializeCompact(ar, &r.OuterIndex)
	ar.SerializeName(&r.ObjectName)
}

// ExportRecord describes one object saved in the package.
type ExportRecord struct {
	ClassIndex     int32 // zero marks a placeholder
	SuperIndex     int32
	OuterIndex     int32
	ArchetypeIndex int32
	ObjectName     Name
	Flags          ObjectFlags
	SerialOffset   int32
	SerialSize     int32
	NetIndex       int32

	// Object is the live object, set on save and after CreateExport.
	Object Obj
}

// IsPlaceholder reports whether the record only holds a table position.
func (r *ExportRecord) IsPlaceholder() bool {
	return r.ClassIndex == 0
}

// serialize uses fixed widths for every field patched after the payloads
// are written, so the table can be rewritten in place.
func (r *ExportRecord) serialize(ar Archive) {
	SerializeCompact(ar, &r.ClassIndex)
	SerializeCompact(ar, &r.SuperIndex)
	SerializeCompact(ar, &r.OuterIndex)
	SerializeCompact(ar, &r.ArchetypeIndex)
	ar.SerializeName(&r.ObjectName)
	flags := uint32(r.Flags & persistentFlags)
	SerializeUint32(ar, &flags)
	r.Flags = ObjectFlags(flags) & persistentFlags
	SerializeInt32(ar, &r.SerialOffset)
	SerializeInt32(ar, &r.SerialSize)
	SerializeInt32(ar, &r.NetIndex)
}
