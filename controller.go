package kettle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/pentaho/pentaho-kettle-sub148/edge"
)

var (
	// ErrStopped is returned by runtime context calls once the run is stopping.
	ErrStopped = errors.New("run is stopping")
	// ErrCancelled is the stop cause of a run stopped by RequestStop.
	ErrCancelled = errors.New("run cancelled")
	// ErrTimeout is the stop cause of a run that exceeded its timeout.
	ErrTimeout = errors.New("run timed out")
)

type stopReason int

const (
	notStopped stopReason = iota
	stoppedByFault
	stoppedByCancel
)

// controller owns the stop flag of a run and decides how the run ended.
// The first stop request wins: a run cancelled before any fault ends
// CANCELLED, a run whose first stop came from a fault ends FAILURE.
type controller struct {
	stopped int32

	mu     sync.Mutex
	reason stopReason
	cause  error
	fault  *Fault

	edges  []edge.Edge
	cancel context.CancelFunc
	onStop func()
	diag   RunDiagnostic
}

func newController(d RunDiagnostic) *controller {
	return &controller{diag: d}
}

// isStopped is the memory visible stop flag checked by every unit.
func (c *controller) isStopped() bool {
	return atomic.LoadInt32(&c.stopped) == 1
}

// requestStop stops the run on behalf of the caller, a context or a timeout.
func (c *controller) requestStop(cause error) {
	c.stop(stoppedByCancel, cause, nil)
}

// fail records an operation fault and stops the run.
func (c *controller) fail(f *Fault) {
	c.stop(stoppedByFault, f, f)
}

func (c *controller) stop(reason stopReason, cause error, f *Fault) {
	c.mu.Lock()
	if c.reason == notStopped {
		c.reason = reason
		c.cause = cause
	}
	if f != nil && c.fault == nil {
		c.fault = f
	}
	first := atomic.CompareAndSwapInt32(&c.stopped, 0, 1)
	edges := c.edges
	c.mu.Unlock()
	if !first {
		return
	}
	if c.onStop != nil {
		c.onStop()
	}
	c.diag.StoppingRun(cause)
	// Aborting the queues wakes every unit blocked on a push or a pull.
	for _, e := range edges {
		e.Abort()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// watch registers e to be aborted on stop. An edge registered after the
// stop is aborted right away.
func (c *controller) watch(e edge.Edge) {
	c.mu.Lock()
	c.edges = append(c.edges, e)
	stopped := c.isStopped()
	c.mu.Unlock()
	if stopped {
		e.Abort()
	}
}

// stopInduced reports whether err is only a consequence of the run stopping.
func (c *controller) stopInduced(err error) bool {
	if !c.isStopped() {
		return false
	}
	return errors.Is(err, edge.ErrAborted) ||
		errors.Is(err, ErrStopped) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// status returns the final status and the first fault.
func (c *controller) status(errorCount int64) (Status, *Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.reason == stoppedByCancel:
		return StatusCancelled, c.fault
	case c.fault != nil:
		return StatusFailure, c.fault
	case errorCount > 0:
		return StatusPartial, nil
	default:
		return StatusSuccess, nil
	}
}
