package vm

import (
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Name: Interned, case-insensitive identifiers
// ---------------------------------------------------------------------------

// Name is a stable index into a NameTable. Two names compare equal when their
// text matches case-insensitively. The zero Name is NameNone.
type Name int32

// NameNone is the empty name. It terminates tagged property streams.
const NameNone Name = 0

// IsNone reports whether n is the empty name.
func (n Name) IsNone() bool {
	return n == NameNone
}

// NameFlags hold per-name lifecycle bits.
type NameFlags uint8

const (
	// NamePermanent names are never purged by the collector.
	NamePermanent NameFlags = 1 << iota
	// NameUnreachable is the reachability tag set at the start of a trace epoch.
	NameUnreachable
)

type nameEntry struct {
	text  string
	flags NameFlags
	live  bool
}

// NameTable interns name strings to stable indices. Lookup ignores case; the
// first spelling seen is the one returned by String.
type NameTable struct {
	mu      sync.RWMutex
	byKey   map[string]Name
	entries []nameEntry
	free    []Name
}

// NewNameTable creates a table holding only NameNone.
func NewNameTable() *NameTable {
	nt := &NameTable{
		byKey:   make(map[string]Name),
		entries: make([]nameEntry, 1, 256),
	}
	nt.entries[0] = nameEntry{text: "None", flags: NamePermanent, live: true}
	nt.byKey["none"] = NameNone
	return nt
}

func nameKey(s string) string {
	return strings.ToLower(s)
}

// Intern returns the name for s, creating it if needed. The empty string and
// "None" both map to NameNone.
func (nt *NameTable) Intern(s string) Name {
	if s == "" {
		return NameNone
	}
	key := nameKey(s)

	nt.mu.RLock()
	if n, ok := nt.byKey[key]; ok {
		nt.mu.RUnlock()
		return n
	}
	nt.mu.RUnlock()

	nt.mu.Lock()
	defer nt.mu.Unlock()

	if n, ok := nt.byKey[key]; ok {
		return n
	}

	var n Name
	if k := len(nt.free); k > 0 {
		n = nt.free[k-1]
		nt.free = nt.free[:k-1]
		nt.entries[n] = nameEntry{text: s, live: true}
	} else {
		n = Name(len(nt.entries))
		nt.entries = append(nt.entries, nameEntry{text: s, live: true})
	}
	nt.byKey[key] = n
	return n
}

// InternPermanent interns s and protects it from purging.
func (nt *NameTable) InternPermanent(s string) Name {
	n := nt.Intern(s)
	nt.mu.Lock()
	nt.entries[n].flags |= NamePermanent
	nt.mu.Unlock()
	return n
}

// Lookup returns the name for s without creating it.
func (nt *NameTable) Lookup(s string) (Name, bool) {
	if s == "" {
		return NameNone, true
	}
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	n, ok := nt.byKey[nameKey(s)]
	return n, ok
}

// String returns the text of n, or "" if n is not a live name.
func (nt *NameTable) String(n Name) string {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	if n < 0 || int(n) >= len(nt.entries) || !nt.entries[n].live {
		return ""
	}
	return nt.entries[n].text
}

// Valid reports whether n refers to a live entry.
func (nt *NameTable) Valid(n Name) bool {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return n >= 0 && int(n) < len(nt.entries) && nt.entries[n].live
}

// Len returns the number of live names including NameNone.
func (nt *NameTable) Len() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return len(nt.entries) - len(nt.free)
}

// ---------------------------------------------------------------------------
// Reachability tagging (used by the collector only)
// ---------------------------------------------------------------------------

// tagAllUnreachable marks every live, non-permanent name unreachable.
func (nt *NameTable) tagAllUnreachable() {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	for i := range nt.entries {
		e := &nt.entries[i]
		if e.live && e.flags&NamePermanent == 0 {
			e.flags |= NameUnreachable
		}
	}
}

// markReachable clears the unreachable tag on n.
func (nt *NameTable) markReachable(n Name) {
	nt.mu.Lock()
	if n > 0 && int(n) < len(nt.entries) {
		nt.entries[n].flags &^= NameUnreachable
	}
	nt.mu.Unlock()
}

// clearTags removes the reachability tag from every name without purging.
func (nt *NameTable) clearTags() {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	for i := range nt.entries {
		nt.entries[i].flags &^= NameUnreachable
	}
}

// purgeUnreachable frees every name still tagged unreachable and returns how
// many were freed. Freed indices are recycled by Intern.
func (nt *NameTable) purgeUnreachable() int {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	purged := 0
	for i := range nt.entries {
		e := &nt.entries[i]
		if !e.live || e.flags&NameUnreachable == 0 {
			continue
		}
		delete(nt.byKey, nameKey(e.text))
		*e = nameEntry{}
		nt.free = append(nt.free, Name(i))
		purged++
	}
	return purged
}
