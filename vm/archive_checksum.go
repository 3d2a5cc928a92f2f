package vm

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ChecksumArchive hashes everything an object writes. Names and object
// references are hashed by lower-cased text and path, so the sum is stable
// across runtimes and ignores name case.
type ChecksumArchive struct {
	ArchiveState
	h *xxhash.Digest
	n int64
}

// NewChecksumArchive creates a saving archive that only hashes.
func NewChecksumArchive(rt *Runtime) *ChecksumArchive {
	return &ChecksumArchive{
		ArchiveState: newArchiveState(rt, ArSaving),
		h:            xxhash.New(),
	}
}

func (c *ChecksumArchive) Serialize(p []byte) {
	c.h.Write(p)
	c.n += int64(len(p))
}

func (c *ChecksumArchive) SerializeName(n *Name) {
	c.encodeName(c, n)
}

func (c *ChecksumArchive) SerializeObject(o *Obj) {
	c.encodeObject(c, o)
}

func (c *ChecksumArchive) encodeName(dst Archive, n *Name) {
	s := ""
	if rt := c.Runtime(); rt != nil {
		s = strings.ToLower(rt.Names.String(*n))
	}
	SerializeString(dst, &s)
}

func (c *ChecksumArchive) encodeObject(dst Archive, o *Obj) {
	s := ""
	if *o != nil {
		s = strings.ToLower((*o).Base().PathName())
	}
	SerializeString(dst, &s)
}

func (c *ChecksumArchive) Tell() int64      { return c.n }
func (c *ChecksumArchive) Seek(int64)       {}
func (c *ChecksumArchive) CanSeek() bool    { return false }
func (c *ChecksumArchive) TotalSize() int64 { return c.n }

// Sum64 returns the checksum of everything seen so far.
func (c *ChecksumArchive) Sum64() uint64 {
	return c.h.Sum64()
}
