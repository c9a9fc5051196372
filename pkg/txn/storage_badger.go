package txn

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"dal/runtime-go/pkg/runtime"
)

// BadgerStorage keeps committed state in a badger key-value store.
type BadgerStorage struct {
	db *badger.DB
}

// OpenBadgerStorage opens a badger directory; an empty dir runs in memory.
func OpenBadgerStorage(dir string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger storage: open %q: %w", dir, err)
	}
	return &BadgerStorage{db: db}, nil
}

func (s *BadgerStorage) Get(key string) (runtime.Value, bool, error) {
	var encoded []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		encoded, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger storage: get %s: %w", key, err)
	}
	v, err := runtime.DecodeJSON(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("badger storage: decode %s: %w", key, err)
	}
	return v, true, nil
}

func (s *BadgerStorage) Apply(batch []Write) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, w := range batch {
			if w.Delete {
				if err := txn.Delete([]byte(w.Key)); err != nil {
					return err
				}
				continue
			}
			encoded, err := runtime.EncodeJSON(w.Value)
			if err != nil {
				return fmt.Errorf("encode %s: %w", w.Key, err)
			}
			if err := txn.Set([]byte(w.Key), encoded); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger storage: apply: %w", err)
	}
	return nil
}

func (s *BadgerStorage) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger storage: keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
