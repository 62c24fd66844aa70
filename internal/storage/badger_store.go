package storage

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store on an embedded Badger database.
// Keys are "<session>/<key>", so a session can be cleared with a prefix scan.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a Badger database in dir. An empty dir runs in memory.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(sessionID, key string) []byte {
	return []byte(sessionID + "/" + key)
}

func (s *BadgerStore) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(sessionID, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session value: %w", err)
	}
	return value, nil
}

func (s *BadgerStore) Set(_ context.Context, sessionID, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(sessionID, key), value)
	})
	if err != nil {
		return fmt.Errorf("writing session value: %w", err)
	}
	return nil
}

func (s *BadgerStore) Remove(_ context.Context, sessionID, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(sessionID, key))
	})
	if err != nil {
		return fmt.Errorf("deleting session value: %w", err)
	}
	return nil
}

func (s *BadgerStore) Clear(_ context.Context, sessionID string) error {
	prefix := []byte(sessionID + "/")
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning session keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
