package cache

import (
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory Store. It backs tests and one-shot runs where
// persisting across processes is not wanted.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func memKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (s *MemoryStore) Get(namespace, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[memKey(namespace, key)]
	if !ok || !json.Valid(rec.Payload) {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[memKey(rec.Namespace, rec.Key)] = *rec
	return nil
}

func (s *MemoryStore) Clear(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if namespace == "" {
		s.recs = make(map[string]Record)
		return nil
	}
	for k := range s.recs {
		if s.recs[k].Namespace == namespace {
			delete(s.recs, k)
		}
	}
	return nil
}
