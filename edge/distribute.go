package edge

import (
	"fmt"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"
	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// Distributor decides which consumer lanes receive the rows of a batch.
// Distribute returns exactly lanes batches; empty batches are not sent.
// Implementations must be safe for concurrent use since several producer
// copies share an edge.
type Distributor interface {
	Distribute(b models.Batch, lanes int) []models.Batch
}

// Distribution strategy names as found in operation configuration.
const (
	RoundRobinDistribution = "roundrobin"
	HashDistribution       = "hash"
)

type roundRobin struct {
	next uint64
}

// NewRoundRobin returns a distributor dealing rows to the lanes in turn.
// The row cursor is shared by all producers of the edge.
func NewRoundRobin() Distributor {
	return &roundRobin{}
}

func (r *roundRobin) Distribute(b models.Batch, lanes int) []models.Batch {
	out := make([]models.Batch, lanes)
	n := uint64(len(b.Rows))
	first := atomic.AddUint64(&r.next, n) - n
	for i, row := range b.Rows {
		lane := (first + uint64(i)) % uint64(lanes)
		out[lane].Schema = b.Schema
		out[lane].Rows = append(out[lane].Rows, row)
	}
	return out
}

type hashPartition struct {
	fields []string

	mu      sync.Mutex
	schema  *models.Schema
	indexes []int
}

// NewHashPartition returns a distributor that sends every row to the lane
// selected by the hash of its key fields, so equal keys always meet the same copy.
func NewHashPartition(fields ...string) (Distributor, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("hash distribution requires at least one partition field")
	}
	return &hashPartition{fields: fields}, nil
}

// NewDistributor creates the named strategy.
func NewDistributor(name string, fields []string) (Distributor, error) {
	switch name {
	case "", RoundRobinDistribution:
		return NewRoundRobin(), nil
	case HashDistribution:
		return NewHashPartition(fields...)
	default:
		return nil, fmt.Errorf("unknown distribution %q", name)
	}
}

func (h *hashPartition) keyIndexes(s *models.Schema) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.schema == s && h.indexes != nil {
		return h.indexes, nil
	}
	idx := make([]int, len(h.fields))
	for i, f := range h.fields {
		idx[i] = s.Index(f)
		if idx[i] < 0 {
			return nil, fmt.Errorf("partition field %q not found in %s", f, s)
		}
	}
	h.schema = s
	h.indexes = idx
	return idx, nil
}

func (h *hashPartition) Distribute(b models.Batch, lanes int) []models.Batch {
	out := make([]models.Batch, lanes)
	idx, err := h.keyIndexes(b.Schema)
	if err != nil {
		// Unknown key fields degrade to a single lane instead of dropping rows.
		out[0] = b
		return out
	}
	d := xxhash.New()
	for _, r := range b.Rows {
		d.Reset()
		for _, i := range idx {
			writeKey(d, r.Value(i))
		}
		lane := d.Sum64() % uint64(lanes)
		out[lane].Schema = b.Schema
		out[lane].Rows = append(out[lane].Rows, r)
	}
	return out
}

func writeKey(w io.Writer, v interface{}) {
	switch x := v.(type) {
	case nil:
		_, _ = w.Write([]byte{0})
	case string:
		_, _ = io.WriteString(w, x)
	case []byte:
		_, _ = w.Write(x)
	case time.Time:
		_, _ = io.WriteString(w, x.UTC().Format(time.RFC3339Nano))
	case *big.Float:
		_, _ = io.WriteString(w, x.Text('g', -1))
	default:
		_, _ = fmt.Fprint(w, x)
	}
	_, _ = w.Write([]byte{0xff})
}
