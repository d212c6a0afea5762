// Package operations provides the built-in operation kinds.
package operations

import (
	"sort"
	"sync"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/models"
	"github.com/pentaho/pentaho-kettle-sub148/registry"
)

// Kinds of the built-in operations.
const (
	GenerateKind = "generate"
	DummyKind    = "dummy"
	FilterKind   = "filter"
	ValidateKind = "validate"
	LogKind      = "log"
	AbortKind    = "abort"
	MappingKind  = "mapping"
	InjectKind   = "inject"
	CollectKind  = "collect"
)

// Register adds every built-in kind to r. Rows reaching collect operations
// are kept by c, which may be nil to discard them.
func Register(r *registry.Registry, c *Collector) error {
	if c == nil {
		c = NewCollector(0)
	}
	factories := map[string]registry.Factory{
		GenerateKind: func() kettle.Operation { return new(Generate) },
		DummyKind:    func() kettle.Operation { return new(Dummy) },
		FilterKind:   func() kettle.Operation { return new(Filter) },
		ValidateKind: func() kettle.Operation { return new(Validate) },
		LogKind:      func() kettle.Operation { return new(Log) },
		AbortKind:    func() kettle.Operation { return new(Abort) },
		MappingKind:  func() kettle.Operation { return new(Mapping) },
		InjectKind:   func() kettle.Operation { return new(Inject) },
		CollectKind:  func() kettle.Operation { return &Collect{c: c} },
	}
	for _, kind := range []string{
		GenerateKind, DummyKind, FilterKind, ValidateKind, LogKind,
		AbortKind, MappingKind, InjectKind, CollectKind,
	} {
		if err := r.Register(kind, factories[kind]); err != nil {
			return err
		}
	}
	return nil
}

// Collector keeps the rows received by collect operations, by operation name.
type Collector struct {
	mu    sync.Mutex
	limit int
	rows  map[string]models.Batch
}

// NewCollector creates a collector keeping at most limit rows per operation.
// A limit of zero or less keeps every row.
func NewCollector(limit int) *Collector {
	return &Collector{
		limit: limit,
		rows:  make(map[string]models.Batch),
	}
}

func (c *Collector) add(op string, s *models.Schema, r models.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.rows[op]
	if c.limit > 0 && len(b.Rows) >= c.limit {
		return
	}
	if b.Schema == nil {
		b.Schema = s
	}
	b.Rows = append(b.Rows, r)
	c.rows[op] = b
}

// Rows returns the rows collected by the named operation.
func (c *Collector) Rows(op string) models.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.rows[op]
	b.Rows = append([]models.Row(nil), b.Rows...)
	return b
}

// Operations returns the names of the operations that collected rows.
func (c *Collector) Operations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.rows))
	for n := range c.rows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reset drops every collected row.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.rows = make(map[string]models.Batch)
	c.mu.Unlock()
}

// passThrough is embedded by operations forwarding their input.
type passThrough struct {
	rc *kettle.RuntimeContext
}

func (p *passThrough) Init(rc *kettle.RuntimeContext) error {
	p.rc = rc
	return nil
}

func (p *passThrough) Dispose(*kettle.RuntimeContext) {}

func (p *passThrough) forward(r models.Row) (kettle.CycleResult, error) {
	if err := p.rc.PutRow(r); err != nil {
		return kettle.Failed, err
	}
	return kettle.Continue, nil
}

// Dummy forwards every row unchanged.
type Dummy struct {
	passThrough
}

func (d *Dummy) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := d.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	return d.forward(r)
}

// Collect hands every row to the collector and forwards it.
type Collect struct {
	passThrough
	c *Collector
}

func (c *Collect) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := c.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	c.c.add(c.rc.Name(), c.rc.InputSchema(), r)
	return c.forward(r)
}
