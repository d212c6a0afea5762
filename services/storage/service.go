package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type Diagnostic interface {
	Opened(path string)
	Error(msg string, err error)
}

// Service owns the database and hands out namespaced stores.
type Service struct {
	c    Config
	diag Diagnostic

	mu     sync.Mutex
	db     *bolt.DB
	stores map[string]Interface
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		c:      c,
		diag:   d,
		stores: make(map[string]Interface),
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c.InMemory {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.c.BoltDBPath), 0755); err != nil {
		return errors.Wrapf(err, "mkdir dirs %q", s.c.BoltDBPath)
	}
	db, err := bolt.Open(s.c.BoltDBPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return errors.Wrapf(err, "open boltdb @ %q", s.c.BoltDBPath)
	}
	s.db = db
	s.diag.Opened(s.c.BoltDBPath)
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.stores = make(map[string]Interface)
	return err
}

// Store returns the store of a namespace.
// Calling Store with the same namespace returns the same store.
func (s *Service) Store(namespace string) Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores[namespace]; ok {
		return store
	}
	var store Interface
	if s.db == nil {
		store = NewMemStore(namespace)
	} else {
		store = NewBolt(s.db, namespace)
	}
	s.stores[namespace] = store
	return store
}
