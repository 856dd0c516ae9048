// Package buildindex persists the incremental build index: the record of
// every node's last-known hashes, dependencies and compiled outputs, used to
// decide what must be recompiled.
package buildindex

import (
	"errors"
	"sort"
	"sync"
)

// Sentinel errors for index access.
var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrCorruptedIndex = errors.New("build index corrupted")
)

// Store is the KV backing of the index. Implementations must return copied
// values that remain valid after subsequent mutations.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// All iterates every key/value pair in ascending key order.
	All() (Iterator, error)

	Flush() error
	Close() error
}

// Iterator walks key/value pairs. Callers must Close it.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// MemoryStore is an in-process Store for tests and ephemeral builds.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(key, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = stored
	return nil
}

func (s *MemoryStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *MemoryStore) All() (Iterator, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2][]byte, 0, len(keys))
	for _, k := range keys {
		v := make([]byte, len(s.data[k]))
		copy(v, s.data[k])
		pairs = append(pairs, [2][]byte{[]byte(k), v})
	}
	s.mu.RUnlock()

	return &memoryIterator{pairs: pairs, pos: -1}, nil
}

func (s *MemoryStore) Flush() error { return nil }
func (s *MemoryStore) Close() error { return nil }

type memoryIterator struct {
	pairs [][2][]byte
	pos   int
}

func (it *memoryIterator) Next() bool {
	it.pos++
	return it.pos < len(it.pairs)
}

func (it *memoryIterator) Key() []byte   { return it.pairs[it.pos][0] }
func (it *memoryIterator) Value() []byte { return it.pairs[it.pos][1] }
func (it *memoryIterator) Err() error    { return nil }
func (it *memoryIterator) Close() error  { return nil }

var _ Store = (*MemoryStore)(nil)
