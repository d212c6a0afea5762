// Package registry maps operation kinds to the factories creating them.
//
// A Registry is an explicit value handed to the engine, there is no
// process wide registration.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
)

// ErrClosed is returned by New once the registry is closed.
var ErrClosed = errors.New("registry is closed")

// Factory creates a new operation. It is called once per copy.
type Factory func() kettle.Operation

// UnknownKindError is returned by New for a kind with no factory.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown operation kind %q", e.Kind)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	closed    bool
}

func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for kind. A kind can only be registered once.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" {
		return errors.New("operation kind must not be empty")
	}
	if f == nil {
		return fmt.Errorf("nil factory for operation kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[kind]; ok {
		return fmt.Errorf("operation kind %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// New creates an operation of the given kind.
func (r *Registry) New(kind string) (kettle.Operation, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, &UnknownKindError{Kind: kind}
	}
	op := f()
	if op == nil {
		return nil, fmt.Errorf("factory for operation kind %q returned nil", kind)
	}
	return op, nil
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	r.mu.RUnlock()
	sort.Strings(kinds)
	return kinds
}

func (r *Registry) Open() error {
	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()
	return nil
}

// Close rejects further calls to New. Registered kinds are kept.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
