package edge

import (
	"fmt"
	"sync"

	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// Edge represents the connection between the copies of two operations.
// Edge communication is unidirectional and asynchronous.
// Edges are safe for concurrent use.
type Edge interface {
	// Collect instructs the edge to accept a new batch.
	// Collect blocks while the destination lane is full.
	Collect(models.Batch) error
	// Consumer returns the endpoint read by consumer copy i.
	Consumer(i int) Emitter
	// Close is called once by every producer when it has no more batches to send.
	// Once all producers have closed, buffered batches are still delivered and
	// consumers then observe end of stream.
	Close() error
	// Abort immediately stops the edge and all currently buffered batches are dropped.
	// Pending and future calls to Collect return the error ErrAborted.
	Abort()
	// Open reports whether at least one producer has not closed the edge yet.
	Open() bool
	// Name identifies the edge in diagnostics, usually "from->to".
	Name() string
}

// Emitter is the consumer side of an edge.
type Emitter interface {
	// Emit blocks until a batch is available and returns it or returns false if
	// the edge has been closed and drained or aborted.
	Emit() (models.Batch, bool)
}

type edgeState int

const (
	edgeOpen edgeState = iota
	edgeClosed
	edgeAborted
)

// channelEdge is an implementation of Edge using one channel per consumer lane.
type channelEdge struct {
	name     string
	aborting chan struct{}
	lanes    []chan models.Batch
	dist     Distributor

	mu        sync.Mutex
	state     edgeState
	producers int
}

// NewChannelEdge returns a new edge that uses channels as the underlying transport.
// producers is the number of Close calls that end the stream, lanes the number of
// consumer copies and size the capacity of each lane in batches.
// A nil distributor selects round robin distribution.
func NewChannelEdge(name string, producers, lanes, size int, d Distributor) Edge {
	if producers < 1 {
		producers = 1
	}
	if lanes < 1 {
		lanes = 1
	}
	if size < 1 {
		size = 1
	}
	if d == nil {
		d = NewRoundRobin()
	}
	e := &channelEdge{
		name:      name,
		aborting:  make(chan struct{}),
		lanes:     make([]chan models.Batch, lanes),
		dist:      d,
		state:     edgeOpen,
		producers: producers,
	}
	for i := range e.lanes {
		e.lanes[i] = make(chan models.Batch, size)
	}
	return e
}

func (e *channelEdge) Name() string {
	return e.name
}

func (e *channelEdge) Collect(b models.Batch) error {
	if len(b.Rows) == 0 {
		return nil
	}
	if len(e.lanes) == 1 {
		return e.send(e.lanes[0], b)
	}
	parts := e.dist.Distribute(b, len(e.lanes))
	for i, p := range parts {
		if len(p.Rows) == 0 {
			continue
		}
		if err := e.send(e.lanes[i], p); err != nil {
			return err
		}
	}
	return nil
}

func (e *channelEdge) send(lane chan models.Batch, b models.Batch) error {
	// Aborted edges never accept batches, even when the lane has room.
	select {
	case <-e.aborting:
		return ErrAborted
	default:
	}
	select {
	case lane <- b:
		return nil
	case <-e.aborting:
		return ErrAborted
	}
}

func (e *channelEdge) Consumer(i int) Emitter {
	if i < 0 || i >= len(e.lanes) {
		panic(fmt.Sprintf("edge %s has no consumer lane %d", e.name, i))
	}
	return &laneEmitter{lane: e.lanes[i], aborting: e.aborting}
}

func (e *channelEdge) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != edgeOpen {
		if e.state == edgeAborted {
			return nil
		}
		return ErrNotOpen
	}
	e.producers--
	if e.producers > 0 {
		return nil
	}
	for _, l := range e.lanes {
		close(l)
	}
	e.state = edgeClosed
	return nil
}

func (e *channelEdge) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == edgeAborted {
		//nothing to do, already aborted
		return
	}
	close(e.aborting)
	e.state = edgeAborted
}

func (e *channelEdge) Open() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == edgeOpen
}

type laneEmitter struct {
	lane     chan models.Batch
	aborting chan struct{}
}

func (l *laneEmitter) Emit() (b models.Batch, ok bool) {
	select {
	case <-l.aborting:
		return
	default:
	}
	select {
	case b, ok = <-l.lane:
	case <-l.aborting:
	}
	return
}
