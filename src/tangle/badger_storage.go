package tangle

import (
	"context"
	"runtime"

	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/tanglesync/src/common"
)

// BadgerStorage is a Storage backed by a Badger database.
type BadgerStorage struct {
	db     *badger.DB
	path   string
	budget int
}

// NewBadgerStorage opens an existing database or creates a new one if nothing
// is found in path.
func NewBadgerStorage(path string, budget int, logger *logrus.Entry) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	if budget <= 0 {
		budget = DefaultIterationBudget
	}

	return &BadgerStorage{
		db:     handle,
		path:   path,
		budget: budget,
	}, nil
}

// Path ...
func (s *BadgerStorage) Path() string {
	return s.path
}

// Get ...
func (s *BadgerStorage) Get(key []byte) ([]byte, error) {
	var res []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		res, err = item.ValueCopy(nil)
		return err
	})

	return res, mapError(err, string(key))
}

// Put ...
func (s *BadgerStorage) Put(key, value []byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(key, value); err != nil {
		return err
	}

	return tx.Commit()
}

// Has ...
func (s *BadgerStorage) Has(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Iterate runs inside a single read transaction. The transaction is held
// across the yields.
func (s *BadgerStorage) Iterate(ctx context.Context, prefix []byte, fn IterateFunc) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		i := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if i > 0 && i%s.budget == 0 {
				runtime.Gosched()
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			i++

			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if !fn(item.Key(), v) {
				return nil
			}
		}
		return nil
	})
}

// Close ...
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func mapError(err error, key string) error {
	if err == badger.ErrKeyNotFound {
		return common.NewStoreErr("BadgerStorage", common.KeyNotFound, key)
	}
	return err
}
