package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// ObjectFlags: per-object lifecycle and persistence bits
// ---------------------------------------------------------------------------

// ObjectFlags is the flag word carried by every Object. Persistent flags are
// written to the export table; the rest are runtime-only.
type ObjectFlags uint32

const (
	FlagTransient   ObjectFlags = 1 << iota // never saved
	FlagPublic                              // may be imported by other packages
	FlagStandalone                          // kept by the collector's default keep flags
	FlagNative                              // defined by Go code
	FlagPermanent                           // protected from non-final sweeps
	FlagRootSet                             // explicitly pinned root
	FlagClassDefault                        // class default object
	FlagUnreachable                         // trace epoch: not yet reached
	FlagTraceable                           // trace epoch: not yet walked
	FlagTagExp                              // save session: export
	FlagTagImp                              // save session: import
	FlagNeedLoad                            // allocated by a linker, fields not populated
	FlagNeedPostLoad                        // populated, post-load hook pending
	FlagDestroyed                           // ConditionalDestroy has run
)

// persistentFlags are the bits recorded in an export.
const persistentFlags = FlagPublic | FlagStandalone | FlagClassDefault

// epochFlags are cleared once a trace is over.
const epochFlags = FlagUnreachable | FlagTraceable

var objectFlagNames = []struct {
	flag ObjectFlags
	name string
}{
	{FlagTransient, "transient"},
	{FlagPublic, "public"},
	{FlagStandalone, "standalone"},
	{FlagNative, "native"},
	{FlagPermanent, "permanent"},
	{FlagRootSet, "rootset"},
	{FlagClassDefault, "classdefault"},
	{FlagUnreachable, "unreachable"},
	{FlagTraceable, "traceable"},
	{FlagTagExp, "tagexp"},
	{FlagTagImp, "tagimp"},
	{FlagNeedLoad, "needload"},
	{FlagNeedPostLoad, "needpostload"},
	{FlagDestroyed, "destroyed"},
}

// Has reports whether every bit of v is set.
func (f ObjectFlags) Has(v ObjectFlags) bool {
	return f&v == v
}

// Any reports whether any bit of v is set.
func (f ObjectFlags) Any(v ObjectFlags) bool {
	return f&v != 0
}

func (f ObjectFlags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	for _, fn := range objectFlagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseObjectFlags converts flag names (as used in strata.toml) to a flag word.
func ParseObjectFlags(names []string) (ObjectFlags, error) {
	var f ObjectFlags
outer:
	for _, name := range names {
		for _, fn := range objectFlagNames {
			if strings.EqualFold(fn.name, name) {
				f |= fn.flag
				continue outer
			}
		}
		return 0, fmt.Errorf("unknown object flag %q", name)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// PackageFlags
// ---------------------------------------------------------------------------

// PackageFlags are persisted in a container summary.
type PackageFlags uint32

const (
	// PkgTransient packages exist only in memory and refuse to save.
	PkgTransient PackageFlags = 1 << iota
	// PkgNative packages hold Go-registered types and are never saved.
	PkgNative
)
