package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemStore is a store kept in memory.
// Writes of a transaction become visible on commit.
type MemStore struct {
	Name string

	mu    sync.RWMutex
	store map[string][]byte
}

func NewMemStore(name string) *MemStore {
	return &MemStore{
		Name:  name,
		store: make(map[string][]byte),
	}
}

func (s *MemStore) View(f func(tx ReadOnlyTx) error) error {
	return DoView(s, f)
}

func (s *MemStore) Update(f func(tx Tx) error) error {
	return DoUpdate(s, f)
}

func (s *MemStore) BeginTx() (Tx, error) {
	s.mu.Lock()
	return &memTx{s: s, write: true, changes: make(map[string][]byte)}, nil
}

func (s *MemStore) BeginReadOnlyTx() (ReadOnlyTx, error) {
	s.mu.RLock()
	return &memTx{s: s}, nil
}

// memTx holds the store lock until it is committed or rolled back.
type memTx struct {
	s       *MemStore
	write   bool
	done    bool
	changes map[string][]byte // nil value is a deletion
}

func (t *memTx) lookup(key string) ([]byte, bool) {
	if v, ok := t.changes[key]; ok {
		return v, v != nil
	}
	v, ok := t.s.store[key]
	return v, ok
}

func (t *memTx) Get(key string) (*KeyValue, error) {
	v, ok := t.lookup(key)
	if !ok {
		return nil, ErrNoKeyExists
	}
	return &KeyValue{Key: key, Value: append([]byte(nil), v...)}, nil
}

func (t *memTx) Exists(key string) (bool, error) {
	_, ok := t.lookup(key)
	return ok, nil
}

func (t *memTx) List(prefix string) ([]*KeyValue, error) {
	keys := make(map[string]bool)
	for k := range t.s.store {
		keys[k] = true
	}
	for k := range t.changes {
		keys[k] = true
	}
	var kvs []*KeyValue
	for k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if v, ok := t.lookup(k); ok {
			kvs = append(kvs, &KeyValue{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, nil
}

func (t *memTx) Put(key string, value []byte) error {
	if !t.write {
		return errReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	t.changes[key] = append([]byte(nil), value...)
	return nil
}

func (t *memTx) Delete(key string) error {
	if !t.write {
		return errReadOnly
	}
	t.changes[key] = nil
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	for k, v := range t.changes {
		if v == nil {
			delete(t.s.store, k)
			continue
		}
		t.s.store[k] = v
	}
	return t.Rollback()
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.write {
		t.s.mu.Unlock()
	} else {
		t.s.mu.RUnlock()
	}
	return nil
}
