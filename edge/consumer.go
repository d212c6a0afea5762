package edge

import (
	"sync"

	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// Sourced is a batch tagged with the index of the inbound edge it was read from.
type Sourced struct {
	Src   int
	Batch models.Batch
}

// MultiEmitter reads batches from several inbound edges.
// Batches of one edge keep their order, batches of different edges interleave
// in arrival order.
type MultiEmitter interface {
	// Emit blocks until a batch is available from any edge. It returns false
	// once every edge has been closed and drained or aborted, or after Stop.
	Emit() (Sourced, bool)
	// Stop releases the reading goroutines. It is safe to call more than once.
	Stop()
}

// NewMultiEmitter creates an emitter merging ins.
func NewMultiEmitter(ins []Emitter) MultiEmitter {
	switch len(ins) {
	case 0:
		return noEmitter{}
	case 1:
		return &singleEmitter{in: ins[0]}
	}
	return &multiEmitter{
		ins:      ins,
		messages: make(chan Sourced),
		stopping: make(chan struct{}),
	}
}

type noEmitter struct{}

func (noEmitter) Emit() (Sourced, bool) { return Sourced{}, false }
func (noEmitter) Stop()                 {}

type singleEmitter struct {
	in Emitter
}

func (s *singleEmitter) Emit() (Sourced, bool) {
	b, ok := s.in.Emit()
	return Sourced{Batch: b}, ok
}

func (s *singleEmitter) Stop() {}

type multiEmitter struct {
	ins []Emitter

	start    sync.Once
	stop     sync.Once
	messages chan Sourced
	stopping chan struct{}
}

func (m *multiEmitter) run() {
	var wg sync.WaitGroup
	wg.Add(len(m.ins))
	for i, in := range m.ins {
		go func(src int, in Emitter) {
			defer wg.Done()
			m.readEdge(src, in)
		}(i, in)
	}
	go func() {
		wg.Wait()
		// Close messages now that all readEdge goroutines have finished.
		close(m.messages)
	}()
}

func (m *multiEmitter) readEdge(src int, in Emitter) {
	for b, ok := in.Emit(); ok; b, ok = in.Emit() {
		select {
		case m.messages <- Sourced{Src: src, Batch: b}:
		case <-m.stopping:
			return
		}
	}
}

func (m *multiEmitter) Emit() (s Sourced, ok bool) {
	m.start.Do(m.run)
	select {
	case s, ok = <-m.messages:
	case <-m.stopping:
	}
	return
}

func (m *multiEmitter) Stop() {
	m.stop.Do(func() {
		close(m.stopping)
	})
}
