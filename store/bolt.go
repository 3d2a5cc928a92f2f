package store

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/chazu/strata/vm"
	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

var packagesBucket = []byte("packages")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Record is what BoltStore keeps per package: the container bytes plus the
// bookkeeping needed to list packages without parsing them.
type Record struct {
	Name        string `cbor:"1,keyasint"`
	Data        []byte `cbor:"2,keyasint"`
	GUID        string `cbor:"3,keyasint"`
	SavedAt     int64  `cbor:"4,keyasint"` // unix nanoseconds
	Generations int    `cbor:"5,keyasint"`
}

// Saved returns the save time of the record.
func (r *Record) Saved() time.Time {
	return time.Unix(0, r.SavedAt)
}

func marshalRecord(r *Record) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

func unmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("store: unmarshal record: %w", err)
	}
	return &r, nil
}

// BoltOptions configure OpenBolt.
type BoltOptions struct {
	// Timeout bounds the wait for the database file lock.
	Timeout time.Duration
	// NoSync trades durability for speed; meant for tests.
	NoSync bool
	// Now stamps saved records; defaults to time.Now.
	Now func() time.Time
}

// BoltStore keeps every package as one record in a bbolt database.
type BoltStore struct {
	bdb *bbolt.DB
	now func() time.Time
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string, opt BoltOptions) (*BoltStore, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	bopt.NoSync = opt.NoSync
	if opt.NoSync {
		bopt.NoFreelistSync = true
	}

	bdb, err := bbolt.Open(path, 0o666, bopt)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(packagesBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	s := &BoltStore{bdb: bdb, now: opt.Now}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Close releases the database.
func (s *BoltStore) Close() error {
	return s.bdb.Close()
}

// Bolt exposes the underlying database.
func (s *BoltStore) Bolt() *bbolt.DB {
	return s.bdb
}

// Record returns the stored record of name.
func (s *BoltStore) Record(name string) (*Record, error) {
	var rec *Record
	err := s.bdb.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(packagesBucket).Get([]byte(key(name)))
		if v == nil {
			return notFound(name)
		}
		var err error
		rec, err = unmarshalRecord(v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) Open(name string) ([]byte, error) {
	rec, err := s.Record(name)
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// Save replaces the record of name in one bbolt transaction. The container
// summary must parse; its GUID and generation count are copied into the
// record.
func (s *BoltStore) Save(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	sum, err := vm.ReadSummary(data)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", name, err)
	}
	rec := &Record{
		Name:        name,
		Data:        data,
		GUID:        sum.GUID.String(),
		SavedAt:     s.now().UnixNano(),
		Generations: len(sum.Generations),
	}
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(packagesBucket)
		k := []byte(key(name))
		// The first spelling of a name sticks, as it does for interned names.
		if old := b.Get(k); old != nil {
			if prev, err := unmarshalRecord(old); err == nil {
				rec.Name = prev.Name
			}
		}
		v, err := marshalRecord(rec)
		if err != nil {
			return fmt.Errorf("store: save %s: %w", name, err)
		}
		return b.Put(k, v)
	})
}

// Delete removes name. Deleting a missing package is an error wrapping
// vm.ErrPackageNotFound.
func (s *BoltStore) Delete(name string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(packagesBucket)
		k := []byte(key(name))
		if b.Get(k) == nil {
			return notFound(name)
		}
		return b.Delete(k)
	})
}

func (s *BoltStore) List() ([]string, error) {
	var out []string
	err := s.bdb.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(packagesBucket).ForEach(func(k, v []byte) error {
			rec, err := unmarshalRecord(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			out = append(out, rec.Name)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// IsNotFound reports whether err means a package is missing from a store.
func IsNotFound(err error) bool {
	return errors.Is(err, vm.ErrPackageNotFound)
}
