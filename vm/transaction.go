package vm

import "fmt"

// ---------------------------------------------------------------------------
// Transactions: undo snapshots
// ---------------------------------------------------------------------------

type txRecord struct {
	obj     Obj
	version uint32
	data    []byte
	sum     uint64
}

// Transaction records the state of objects before they are modified, so the
// modifications can be rolled back. Snapshots use the fixed-order codec.
type Transaction struct {
	Title string

	rt      *Runtime
	records []*txRecord
	seen    map[*Object]bool
	done    bool
}

// BeginTransaction opens the runtime's transaction. Only one may be open.
func (rt *Runtime) BeginTransaction(title string) (*Transaction, error) {
	if rt.txn != nil {
		return nil, fmt.Errorf("begin %q: transaction %q is still open", title, rt.txn.Title)
	}
	t := &Transaction{Title: title, rt: rt, seen: make(map[*Object]bool)}
	rt.txn = t
	return t, nil
}

// Transaction returns the open transaction, or nil.
func (rt *Runtime) Transaction() *Transaction {
	return rt.txn
}

// Modify snapshots o the first time it is called for o in this transaction.
// Call it before changing o.
func (t *Transaction) Modify(o Obj) error {
	if t.done {
		return fmt.Errorf("modify in closed transaction %q", t.Title)
	}
	b := o.Base()
	if t.seen[b] {
		return nil
	}
	w := NewMemoryWriter(t.rt, ArTransacting)
	o.Serialize(w)
	if err := w.Err(); err != nil {
		return fmt.Errorf("snapshot %s: %w", b.FullName(), err)
	}
	t.seen[b] = true
	t.records = append(t.records, &txRecord{
		obj:     o,
		version: b.version,
		data:    w.Bytes(),
		sum:     t.rt.Checksum(o),
	})
	return nil
}

// Len returns the number of snapshots held.
func (t *Transaction) Len() int {
	return len(t.records)
}

// Objects returns the snapshotted objects in the order they were recorded.
func (t *Transaction) Objects() []Obj {
	out := make([]Obj, len(t.records))
	for i, r := range t.records {
		out[i] = r.obj
	}
	return out
}

func (t *Transaction) close() {
	t.done = true
	if t.rt.txn == t {
		t.rt.txn = nil
	}
}

// Cancel restores every snapshot, newest first, and closes the transaction.
// Objects freed since their snapshot are skipped.
func (t *Transaction) Cancel() error {
	if t.done {
		return fmt.Errorf("cancel closed transaction %q", t.Title)
	}
	defer t.close()

	var errs []error
	for i := len(t.records) - 1; i >= 0; i-- {
		r := t.records[i]
		b := r.obj.Base()
		if b.index < 0 || b.version != r.version {
			t.rt.log.Warningf("undo %q: %s no longer exists", t.Title, b.PathName())
			continue
		}
		rd := NewMemoryReader(t.rt, r.data, ArTransacting)
		r.obj.Serialize(rd)
		if err := rd.Err(); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", b.FullName(), err))
		}
	}
	t.records = nil
	return firstErr(errs...)
}

// End commits the transaction. Snapshots of objects whose checksum did not
// change are dropped; the remaining ones are returned in record order.
func (t *Transaction) End() []Obj {
	if t.done {
		return nil
	}
	defer t.close()

	kept := t.records[:0]
	for _, r := range t.records {
		b := r.obj.Base()
		if b.index < 0 || b.version != r.version {
			continue
		}
		if t.rt.Checksum(r.obj) == r.sum {
			continue
		}
		kept = append(kept, r)
	}
	t.records = kept
	return t.Objects()
}
