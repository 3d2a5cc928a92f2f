package vm

import (
	"errors"
	"time"
)

// ---------------------------------------------------------------------------
// Garbage collection
// ---------------------------------------------------------------------------

// ErrCollectorBusy is returned when a collection is requested while a load or
// a transaction is in progress.
var ErrCollectorBusy = errors.New("collection refused while loading or inside a transaction")

// GCOptions choose the root set of a collection.
type GCOptions struct {
	// Required selects roots: an object whose flags contain every bit of
	// Required is a root. Zero makes every live object a root.
	Required ObjectFlags
	// Exclude removes objects carrying any of these bits from the root set.
	Exclude ObjectFlags
	// Final ignores every root and protection; used for teardown.
	Final bool
}

// DefaultGCOptions keeps standalone objects and everything they reach.
func DefaultGCOptions() GCOptions {
	return GCOptions{Required: FlagStandalone}
}

// GCStats holds statistics from a single collection.
type GCStats struct {
	Objects     int // live objects before the sweep
	Roots       int
	Reached     int
	Protected   int // permanent or native objects kept as roots
	Swept       int
	NamesPurged int
	InvalidRefs int
	Duration    time.Duration
	Timestamp   time.Time
}

func (opts GCOptions) isRoot(b *Object) bool {
	if opts.Final || b.flags&FlagDestroyed != 0 {
		return false
	}
	if b.flags&FlagRootSet != 0 {
		return true
	}
	return b.flags&opts.Required == opts.Required && b.flags&opts.Exclude == 0
}

// markPhase tags every object and name, then clears the tag on everything
// reachable from the roots. hidden is never used as a root.
func (rt *Runtime) markPhase(opts GCOptions, hidden Obj, stats *GCStats) {
	rt.tracing = true
	defer func() { rt.tracing = false }()

	for _, o := range rt.objects {
		if o != nil {
			o.Base().flags |= epochFlags
		}
	}
	rt.Names.tagAllUnreachable()

	t := newTracer(rt)
	for _, o := range rt.objects {
		if o == nil || (hidden != nil && o.Base() == hidden.Base()) {
			continue
		}
		b := o.Base()
		protected := !opts.Final && b.flags.Any(FlagPermanent|FlagNative) && b.flags&FlagDestroyed == 0
		if !protected && !opts.isRoot(b) {
			continue
		}
		if protected {
			stats.Protected++
		}
		stats.Roots++
		t.mark(o)
		t.drain()
	}

	stats.Reached = t.reached
	stats.InvalidRefs = t.invalid
}

func (rt *Runtime) clearEpoch() {
	for _, o := range rt.objects {
		if o != nil {
			o.Base().flags &^= epochFlags
		}
	}
}

// CollectGarbage frees every object not reachable from the roots selected by
// opts, in ascending table order, and purges unreferenced names.
func (rt *Runtime) CollectGarbage(opts GCOptions) (GCStats, error) {
	stats := GCStats{Timestamp: time.Now(), Objects: rt.live}
	if rt.loader.depth > 0 || rt.txn != nil {
		return stats, ErrCollectorBusy
	}

	rt.markPhase(opts, nil, &stats)

	for i := 0; i < len(rt.objects); i++ {
		o := rt.objects[i]
		if o == nil {
			continue
		}
		b := o.Base()
		if b.flags&FlagUnreachable == 0 {
			b.flags &^= epochFlags
			continue
		}
		rt.freeObject(o)
		stats.Swept++
	}
	stats.NamesPurged = rt.Names.purgeUnreachable()

	stats.Duration = time.Since(stats.Timestamp)
	rt.log.Debugf("gc: %d objects, %d roots, %d swept, %d names purged in %s",
		stats.Objects, stats.Roots, stats.Swept, stats.NamesPurged, stats.Duration)
	return stats, nil
}

// Collect runs a collection with the runtime's configured options.
func (rt *Runtime) Collect() (GCStats, error) {
	return rt.CollectGarbage(rt.opts.GC)
}

// IsReferenced reports whether anything other than obj's own root status
// keeps obj alive under opts. The live graph is not changed. While a load or
// a transaction is open it answers true with ErrCollectorBusy, so callers
// gating a deletion on it keep the object.
func (rt *Runtime) IsReferenced(obj Obj, opts GCOptions) (bool, error) {
	if rt.loader.depth > 0 || rt.txn != nil {
		return true, ErrCollectorBusy
	}
	b := obj.Base()
	pinned := b.flags & FlagRootSet
	b.flags &^= FlagRootSet

	var stats GCStats
	rt.markPhase(opts, obj, &stats)
	referenced := b.flags&FlagUnreachable == 0

	rt.clearEpoch()
	rt.Names.clearTags()
	b.flags |= pinned
	return referenced, nil
}

// Shutdown destroys and frees every object, protected ones included. The
// runtime cannot be used afterwards.
func (rt *Runtime) Shutdown() GCStats {
	stats := GCStats{Timestamp: time.Now(), Objects: rt.live}
	rt.txn = nil
	rt.loader = loaderState{}
	for i := 0; i < len(rt.objects); i++ {
		if o := rt.objects[i]; o != nil {
			rt.freeObject(o)
			stats.Swept++
		}
	}
	stats.Duration = time.Since(stats.Timestamp)
	return stats
}
