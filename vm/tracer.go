package vm

// ---------------------------------------------------------------------------
// Tracer: iterative reachability walk
// ---------------------------------------------------------------------------

// tracer is an archive that neither loads nor saves. Every object reference
// it sees clears the reference's unreachable tag and, the first time, queues
// the object for its own walk. The work list keeps the walk off the Go stack.
type tracer struct {
	ArchiveState
	work    []Obj
	reached int
	invalid int
}

func newTracer(rt *Runtime) *tracer {
	return &tracer{ArchiveState: newArchiveState(rt, 0)}
}

func (t *tracer) Serialize([]byte) {}

func (t *tracer) SerializeName(n *Name) {
	t.rt.Names.markReachable(*n)
}

func (t *tracer) SerializeObject(o *Obj) {
	if *o != nil {
		t.mark(*o)
	}
}

func (t *tracer) Tell() int64      { return 0 }
func (t *tracer) Seek(int64)       {}
func (t *tracer) CanSeek() bool    { return false }
func (t *tracer) TotalSize() int64 { return 0 }

// mark records that o is reachable. References to objects this runtime does
// not own, or that are no longer installed, are logged and ignored.
func (t *tracer) mark(o Obj) {
	b := o.Base()
	if b.rt != t.rt || b.index < 0 || int(b.index) >= len(t.rt.objects) || t.rt.objects[b.index] != b.self {
		t.invalid++
		t.rt.log.Warningf("trace: ignoring reference to %s, not installed in this runtime", b.PathName())
		return
	}
	if b.flags&FlagDestroyed != 0 || b.flags&FlagUnreachable == 0 {
		return
	}
	b.flags &^= FlagUnreachable
	t.reached++
	if b.flags&FlagTraceable != 0 {
		t.work = append(t.work, b.self)
	}
}

// drain walks queued objects until the work list is empty.
func (t *tracer) drain() {
	for len(t.work) > 0 {
		n := len(t.work) - 1
		o := t.work[n]
		t.work[n] = nil
		t.work = t.work[:n]

		b := o.Base()
		if b.flags&FlagTraceable == 0 {
			continue
		}
		b.flags &^= FlagTraceable
		o.Serialize(t)
	}
}
