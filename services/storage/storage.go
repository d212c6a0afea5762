// Package storage provides transactional key/value stores, backed by bbolt
// or kept in memory.
package storage

import "errors"

var (
	ErrNoKeyExists = errors.New("no key exists")

	errReadOnly = errors.New("write in read only transaction")
)

type KeyValue struct {
	Key   string
	Value []byte
}

// ReadOperator provides the read operations of a store.
type ReadOperator interface {
	Get(key string) (*KeyValue, error)
	Exists(key string) (bool, error)
	// List returns every key value pair whose key has the prefix, ordered by key.
	List(prefix string) ([]*KeyValue, error)
}

// WriteOperator provides the write operations of a store.
type WriteOperator interface {
	Put(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// ReadOnlyTx is a read only transaction. Rollback must always be called.
type ReadOnlyTx interface {
	ReadOperator
	Rollback() error
}

// Tx is a read-write transaction.
// Rollback after Commit has no effect.
type Tx interface {
	ReadOnlyTx
	WriteOperator
	Commit() error
}

type TxOperator interface {
	BeginReadOnlyTx() (ReadOnlyTx, error)
	BeginTx() (Tx, error)
}

// Interface is a namespaced key/value store.
type Interface interface {
	// View runs f in a read only transaction.
	View(func(ReadOnlyTx) error) error
	// Update runs f in a read-write transaction, committed when f returns nil.
	Update(func(Tx) error) error
}

// DoView implements Interface.View for a TxOperator.
func DoView(o TxOperator, f func(ReadOnlyTx) error) error {
	tx, err := o.BeginReadOnlyTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

// DoUpdate implements Interface.Update for a TxOperator.
func DoUpdate(o TxOperator, f func(Tx) error) error {
	tx, err := o.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}
