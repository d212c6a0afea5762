package edge

import (
	"sync/atomic"

	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// Diagnostic receives edge lifecycle events.
type Diagnostic interface {
	ClosingEdge(collected, emitted int64)
}

// StatsEdge is an edge that tracks the number of rows passing through it.
type StatsEdge interface {
	Edge
	// Collected returns the number of rows collected by this edge.
	Collected() int64
	// Emitted returns the number of rows emitted by this edge.
	Emitted() int64
}

type statsEdge struct {
	edge Edge
	diag Diagnostic

	collected int64
	emitted   int64
}

// NewStatsEdge creates an edge that tracks statistics about the rows passing through the edge.
// d may be nil.
func NewStatsEdge(e Edge, d Diagnostic) StatsEdge {
	return &statsEdge{
		edge: e,
		diag: d,
	}
}

func (e *statsEdge) Collected() int64 {
	return atomic.LoadInt64(&e.collected)
}

func (e *statsEdge) Emitted() int64 {
	return atomic.LoadInt64(&e.emitted)
}

func (e *statsEdge) Name() string {
	return e.edge.Name()
}

func (e *statsEdge) Open() bool {
	return e.edge.Open()
}

func (e *statsEdge) Collect(b models.Batch) error {
	if err := e.edge.Collect(b); err != nil {
		return err
	}
	atomic.AddInt64(&e.collected, int64(len(b.Rows)))
	return nil
}

func (e *statsEdge) Consumer(i int) Emitter {
	return &statsEmitter{e: e, em: e.edge.Consumer(i)}
}

func (e *statsEdge) Close() error {
	if err := e.edge.Close(); err != nil {
		return err
	}
	if e.diag != nil && !e.edge.Open() {
		e.diag.ClosingEdge(e.Collected(), e.Emitted())
	}
	return nil
}

func (e *statsEdge) Abort() {
	e.edge.Abort()
}

type statsEmitter struct {
	e  *statsEdge
	em Emitter
}

func (s *statsEmitter) Emit() (b models.Batch, ok bool) {
	b, ok = s.em.Emit()
	if ok {
		atomic.AddInt64(&s.e.emitted, int64(len(b.Rows)))
	}
	return
}
