package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/services/storage"
)

var ErrNoResultExists = errors.New("no run result exists")

// Data access object for run results.
type ResultDAO interface {
	// Retrieve the result of a run.
	Get(run string) (Record, error)
	// Save a result, replacing any previous result of the same run.
	Put(r Record) error
	// Delete a result. It is not an error to delete a missing result.
	Delete(run string) error
	// List results whose pipeline name matches the glob pattern, newest first.
	// The pattern is shell/glob matching see https://golang.org/pkg/path/#Match
	// Offset and limit are pagination bounds, a limit <= 0 returns all results.
	List(pattern string, offset, limit int) ([]Record, error)
}

// Record is a stored run result. Records are stored as JSON.
type Record struct {
	// Seq orders records by save time.
	Seq    int64         `json:"seq"`
	Saved  time.Time     `json:"saved"`
	Result kettle.Result `json:"result"`
}

const (
	resultPrefix = "result/"
	seqKey       = "seq"
)

type resultKV struct {
	store storage.Interface
}

func newResultKV(store storage.Interface) *resultKV {
	return &resultKV{store: store}
}

func resultKey(run string) string {
	return resultPrefix + run
}

func (d *resultKV) Get(run string) (Record, error) {
	var rec Record
	err := d.store.View(func(tx storage.ReadOnlyTx) error {
		kv, err := tx.Get(resultKey(run))
		if err == storage.ErrNoKeyExists {
			return ErrNoResultExists
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(kv.Value, &rec)
	})
	return rec, err
}

// Put assigns the next sequence number to r.
func (d *resultKV) Put(r Record) error {
	return d.store.Update(func(tx storage.Tx) error {
		next := int64(1)
		if kv, err := tx.Get(seqKey); err == nil {
			n, err := strconv.ParseInt(string(kv.Value), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt sequence: %v", err)
			}
			next = n + 1
		} else if err != storage.ErrNoKeyExists {
			return err
		}
		r.Seq = next
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := tx.Put(resultKey(r.Result.RunID), data); err != nil {
			return err
		}
		return tx.Put(seqKey, []byte(strconv.FormatInt(next, 10)))
	})
}

func (d *resultKV) Delete(run string) error {
	return d.store.Update(func(tx storage.Tx) error {
		return tx.Delete(resultKey(run))
	})
}

func (d *resultKV) List(pattern string, offset, limit int) ([]Record, error) {
	var recs []Record
	err := d.store.View(func(tx storage.ReadOnlyTx) error {
		kvs, err := tx.List(resultPrefix)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			var rec Record
			if err := json.Unmarshal(kv.Value, &rec); err != nil {
				return err
			}
			if pattern != "" {
				if ok, err := path.Match(pattern, rec.Result.Pipeline); err != nil {
					return err
				} else if !ok {
					continue
				}
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq > recs[j].Seq })
	if offset >= len(recs) {
		return nil, nil
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs, nil
}
