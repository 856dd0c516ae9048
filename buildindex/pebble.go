package buildindex

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore persists the index in a pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble-backed store at dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()

	res := make([]byte, len(v))
	copy(res, v)
	return res, nil
}

func (s *PebbleStore) Set(key, value []byte) error {
	return s.db.Set(key, value, &pebble.WriteOptions{Sync: false})
}

func (s *PebbleStore) Delete(key []byte) error {
	return s.db.Delete(key, &pebble.WriteOptions{})
}

func (s *PebbleStore) All() (Iterator, error) {
	return &pebbleIterator{iter: s.db.NewIter(nil)}, nil
}

func (s *PebbleStore) Flush() error {
	return s.db.Flush()
}

func (s *PebbleStore) Close() error {
	if err := s.db.Flush(); err != nil {
		return err
	}
	return s.db.Close()
}

// pebbleIterator wraps pebble.Iterator to implement the Iterator interface.
type pebbleIterator struct {
	iter    *pebble.Iterator
	started bool
	valid   bool
	err     error
}

func (it *pebbleIterator) Next() bool {
	if it.err != nil {
		return false
	}

	if !it.started {
		it.started = true
		it.valid = it.iter.First()
	} else {
		it.valid = it.iter.Next()
	}

	if !it.valid {
		it.err = it.iter.Error()
		return false
	}
	return true
}

func (it *pebbleIterator) Key() []byte {
	if !it.valid {
		return nil
	}
	// Make a copy to avoid data races
	key := it.iter.Key()
	result := make([]byte, len(key))
	copy(result, key)
	return result
}

func (it *pebbleIterator) Value() []byte {
	if !it.valid {
		return nil
	}
	value, err := it.iter.ValueAndErr()
	if err != nil {
		it.err = err
		return nil
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result
}

func (it *pebbleIterator) Err() error {
	return it.err
}

func (it *pebbleIterator) Close() error {
	return it.iter.Close()
}

var _ Store = (*PebbleStore)(nil)
