package store

import (
	"bytes"
	"slices"
	"sync"
)

// MemStore holds packages in memory. It is safe for concurrent use.
type MemStore struct {
	mu    sync.RWMutex
	names map[string]string
	data  map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		names: make(map[string]string),
		data:  make(map[string][]byte),
	}
}

func (s *MemStore) Open(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[key(name)]
	if !ok {
		return nil, notFound(name)
	}
	return bytes.Clone(d), nil
}

func (s *MemStore) Save(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(name)
	if _, ok := s.names[k]; !ok {
		s.names[k] = name
	}
	s.data[k] = bytes.Clone(data)
	return nil
}

func (s *MemStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out, nil
}
