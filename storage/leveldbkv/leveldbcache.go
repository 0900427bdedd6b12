// Package leveldbkv provides a kv.Store backed by github.com/syndtr/goleveldb/leveldb.
package leveldbkv

import (
	"context"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store is a kv.Store backed by an embedded LevelDB database.
type Store struct {
	db *leveldb.DB
}

// Get returns the value stored for key, if present.
// The context parameter is accepted for interface compliance but not used for LevelDB operations.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Set stores data under key.
// The context parameter is accepted for interface compliance but not used for LevelDB operations.
func (s *Store) Set(_ context.Context, key string, data []byte) error {
	if err := s.db.Put([]byte(key), data, nil); err != nil {
		return fmt.Errorf("leveldb set failed for key %q: %w", key, err)
	}
	return nil
}

// Delete removes key from the store.
// The context parameter is accepted for interface compliance but not used for LevelDB operations.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldb delete failed for key %q: %w", key, err)
	}
	return nil
}

// Close compacts the full keyspace before releasing the database handle,
// matching the spider-close behavior of a crawler that expects the on-disk
// cache to be defragmented between runs.
func (s *Store) Close() error {
	if err := s.db.CompactRange(util.Range{}); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("leveldb compaction failed: %w", err)
	}
	return s.db.Close()
}

// New opens (or creates) a LevelDB database at path.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open leveldb.DB.
func NewWithDB(db *leveldb.DB) *Store {
	return &Store{db: db}
}
