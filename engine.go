package kettle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/pentaho/pentaho-kettle-sub148/edge"
	"github.com/pentaho/pentaho-kettle-sub148/models"
	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
)

const (
	// DefaultQueueCapacity is the number of batches a queue lane holds.
	DefaultQueueCapacity = 100
	// DefaultBatchSize is the number of rows grouped into one queue batch.
	DefaultBatchSize = 50
)

var ErrEngineClosed = errors.New("engine is closed")

type Diagnostic interface {
	WithRunContext(run, pipeline string) RunDiagnostic

	EngineClosed(stopped int)
	Error(msg string, err error)
}

type RunDiagnostic interface {
	WithUnitContext(operation string, copy int) UnitDiagnostic
	WithEdgeContext(from, to string) edge.Diagnostic

	StartingRun(operations, units int)
	StartedRun(units int)
	InitFailed(err error)
	StoppingRun(cause error)
	FinishedRun(status Status, elapsed time.Duration)
}

type UnitDiagnostic interface {
	UnitFault(err error)
	RoutedError(err *RowError, total int64)
	LogRow(level, prefix string, s *models.Schema, r models.Row)
	Error(msg string, err error)
}

// Options tune a run. Zero values select the engine defaults.
type Options struct {
	// QueueCapacity is the number of batches each queue lane buffers.
	QueueCapacity int
	// BatchSize is the maximum number of rows in a batch.
	BatchSize int
	// Timeout cancels the run after the given duration, zero disables it.
	Timeout time.Duration
	// Clock measures elapsed time and drives the timeout.
	Clock clock.Clock
	// Inject hands rows to operations by name, see RuntimeContext.Injected.
	Inject map[string]models.Batch
	// Listener receives the rows written by operations without outbound hops.
	Listener RowListener
}

func (o Options) withDefaults(d Options) Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = d.QueueCapacity
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Engine executes compiled graphs and keeps track of the active runs.
type Engine struct {
	// RunStore persists the results of terminated runs, optional.
	RunStore interface {
		SaveResult(Result) error
	}
	// Metrics observes runs, optional.
	Metrics interface {
		RunStarted(pipeline string)
		RunTerminated(Result)
	}

	registry Registry
	defaults Options
	diag     Diagnostic

	mu     sync.RWMutex
	runs   map[string]*Run
	closed bool
	wg     sync.WaitGroup
}

// NewEngine creates an engine creating operations from r.
// A nil diagnostic discards all events.
func NewEngine(r Registry, defaults Options, d Diagnostic) *Engine {
	if d == nil {
		d = nopDiagnostic{}
	}
	return &Engine{
		registry: r,
		defaults: defaults,
		diag:     d,
		runs:     make(map[string]*Run),
	}
}

// Start builds and initializes a run of g and schedules its units.
//
// When building or initializing fails the returned run is already
// terminated with a FAILURE result and the error is returned as well.
func (e *Engine) Start(ctx context.Context, g *pipeline.CompiledGraph, opts Options) (*Run, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	opts = opts.withDefaults(e.defaults)
	r := newRun(e, g, opts)
	e.runs[r.id] = r
	e.wg.Add(1)
	e.mu.Unlock()

	if e.Metrics != nil {
		e.Metrics.RunStarted(g.Name())
	}
	r.bind(ctx)
	if err := r.build(); err != nil {
		r.terminate(err)
		return r, errors.Wrap(err, "build run")
	}
	r.diag.StartingRun(len(r.ops), len(r.units))
	if err := r.init(); err != nil {
		r.terminate(err)
		return r, errors.Wrap(err, "init run")
	}
	r.start()
	return r, nil
}

// terminated is called once by every run when its result is final.
func (e *Engine) terminated(r *Run) {
	if e.RunStore != nil {
		if err := e.RunStore.SaveResult(r.result); err != nil {
			e.diag.Error("failed to save run result", err)
		}
	}
	if e.Metrics != nil {
		e.Metrics.RunTerminated(r.result)
	}
	e.mu.Lock()
	delete(e.runs, r.id)
	e.mu.Unlock()
	e.wg.Done()
}

// Run returns the active run with the given id.
func (e *Engine) Run(id string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	return r, ok
}

// Runs returns the active runs ordered by id.
func (e *Engine) Runs() []*Run {
	e.mu.RLock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].id < runs[j].id })
	return runs
}

// Close stops every active run and waits for them to terminate.
// Starting a run on a closed engine fails with ErrEngineClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.RequestStop()
	}
	e.wg.Wait()
	e.diag.EngineClosed(len(runs))
	return nil
}

type nopDiagnostic struct{}

func (nopDiagnostic) WithRunContext(string, string) RunDiagnostic       { return nopDiagnostic{} }
func (nopDiagnostic) WithUnitContext(string, int) UnitDiagnostic        { return nopDiagnostic{} }
func (nopDiagnostic) WithEdgeContext(string, string) edge.Diagnostic    { return nil }
func (nopDiagnostic) EngineClosed(int)                                  {}
func (nopDiagnostic) Error(string, error)                               {}
func (nopDiagnostic) StartingRun(int, int)                              {}
func (nopDiagnostic) StartedRun(int)                                    {}
func (nopDiagnostic) InitFailed(error)                                  {}
func (nopDiagnostic) StoppingRun(error)                                 {}
func (nopDiagnostic) FinishedRun(Status, time.Duration)                 {}
func (nopDiagnostic) UnitFault(error)                                   {}
func (nopDiagnostic) RoutedError(*RowError, int64)                      {}
func (nopDiagnostic) LogRow(string, string, *models.Schema, models.Row) {}
