package tangle

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/mosaicnetworks/tanglesync/src/common"
)

// DefaultIterationBudget is the number of items Iterate visits before
// yielding to the scheduler.
const DefaultIterationBudget = 512

// IterateFunc is called for every key/value pair visited by Iterate. Returning
// false stops the iteration. The slices are only valid during the call.
type IterateFunc func(key, value []byte) bool

// Storage is a key-value store.
type Storage interface {
	// Get returns a common.StoreErr of type KeyNotFound for missing keys.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Has(key []byte) (bool, error)
	// Iterate visits the keys starting with prefix in ascending order.
	Iterate(ctx context.Context, prefix []byte, fn IterateFunc) error
	Close() error
}

// InmemStorage is a Storage backed by a map. It is used by tests and by nodes
// started without a data directory.
type InmemStorage struct {
	sync.RWMutex
	items  map[string][]byte
	budget int
	closed bool
}

// NewInmemStorage ...
func NewInmemStorage(budget int) *InmemStorage {
	if budget <= 0 {
		budget = DefaultIterationBudget
	}
	return &InmemStorage{
		items:  make(map[string][]byte),
		budget: budget,
	}
}

// Get ...
func (s *InmemStorage) Get(key []byte) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	if s.closed {
		return nil, common.NewStoreErr("InmemStorage", common.Closed, string(key))
	}

	v, ok := s.items[string(key)]
	if !ok {
		return nil, common.NewStoreErr("InmemStorage", common.KeyNotFound, string(key))
	}

	return append([]byte(nil), v...), nil
}

// Put ...
func (s *InmemStorage) Put(key, value []byte) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return common.NewStoreErr("InmemStorage", common.Closed, string(key))
	}

	s.items[string(key)] = append([]byte(nil), value...)
	return nil
}

// Has ...
func (s *InmemStorage) Has(key []byte) (bool, error) {
	s.RLock()
	defer s.RUnlock()

	if s.closed {
		return false, common.NewStoreErr("InmemStorage", common.Closed, string(key))
	}

	_, ok := s.items[string(key)]
	return ok, nil
}

// Iterate works on a snapshot of the matching keys taken when it starts.
func (s *InmemStorage) Iterate(ctx context.Context, prefix []byte, fn IterateFunc) error {
	s.RLock()
	if s.closed {
		s.RUnlock()
		return common.NewStoreErr("InmemStorage", common.Closed, string(prefix))
	}
	keys := []string{}
	for k := range s.items {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	s.RUnlock()

	sort.Strings(keys)

	for i, k := range keys {
		if i > 0 && i%s.budget == 0 {
			runtime.Gosched()
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		s.RLock()
		v, ok := s.items[k]
		s.RUnlock()

		if !ok {
			continue
		}

		if !fn([]byte(k), v) {
			return nil
		}
	}

	return nil
}

// Close ...
func (s *InmemStorage) Close() error {
	s.Lock()
	defer s.Unlock()

	s.closed = true
	return nil
}
