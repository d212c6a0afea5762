package storage

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// Bolt is a store kept in one bucket of a bbolt database.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

func NewBolt(db *bolt.DB, bucket string) *Bolt {
	return &Bolt{
		db:     db,
		bucket: []byte(bucket),
	}
}

func (b *Bolt) View(f func(tx ReadOnlyTx) error) error {
	return DoView(b, f)
}

func (b *Bolt) Update(f func(tx Tx) error) error {
	return DoUpdate(b, f)
}

func (b *Bolt) BeginTx() (Tx, error) {
	tx, err := b.db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &boltTx{bucket: b.bucket, tx: tx}, nil
}

func (b *Bolt) BeginReadOnlyTx() (ReadOnlyTx, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &boltTx{bucket: b.bucket, tx: tx}, nil
}

type boltTx struct {
	bucket []byte
	tx     *bolt.Tx
	done   bool
}

func (t *boltTx) Get(key string) (*KeyValue, error) {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return nil, ErrNoKeyExists
	}
	val := bucket.Get([]byte(key))
	if val == nil {
		return nil, ErrNoKeyExists
	}
	// Values are only valid for the life of the transaction.
	return &KeyValue{Key: key, Value: append([]byte(nil), val...)}, nil
}

func (t *boltTx) Exists(key string) (bool, error) {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return false, nil
	}
	return bucket.Get([]byte(key)) != nil, nil
}

func (t *boltTx) List(prefix string) ([]*KeyValue, error) {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return nil, nil
	}
	var kvs []*KeyValue
	p := []byte(prefix)
	c := bucket.Cursor()
	for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
		kvs = append(kvs, &KeyValue{
			Key:   string(k),
			Value: append([]byte(nil), v...),
		})
	}
	return kvs, nil
}

func (t *boltTx) Put(key string, value []byte) error {
	bucket, err := t.tx.CreateBucketIfNotExists(t.bucket)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), value)
}

func (t *boltTx) Delete(key string) error {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return nil
	}
	return bucket.Delete([]byte(key))
}

func (t *boltTx) Commit() error {
	t.done = true
	return t.tx.Commit()
}

func (t *boltTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
