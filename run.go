package kettle

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pentaho/pentaho-kettle-sub148/edge"
	"github.com/pentaho/pentaho-kettle-sub148/models"
	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
	"github.com/pentaho/pentaho-kettle-sub148/timer"
)

// State is the lifecycle state of a run.
type State int32

const (
	// StateBuilding is the state while units and queues are created and initialized.
	StateBuilding State = iota
	// StateRunning is the state while units process rows.
	StateRunning
	// StateFinishing is the state once every source finished and the
	// remaining rows drain through the graph.
	StateFinishing
	// StateStopping is the state after a stop was requested or a fault occurred.
	StateStopping
	// StateTerminated is the final state; the result is available.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateRunning:
		return "running"
	case StateFinishing:
		return "finishing"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RunStatus is a live view of a run.
type RunStatus struct {
	ID       string        `json:"id"`
	Pipeline string        `json:"pipeline"`
	State    State         `json:"state"`
	Units    []UnitReport  `json:"units"`
	Elapsed  time.Duration `json:"elapsedNs"`
}

// Run is one execution of a compiled graph.
type Run struct {
	id     string
	engine *Engine
	graph  *pipeline.CompiledGraph
	opts   Options
	diag   RunDiagnostic
	clock  clock.Clock

	state int32
	ctrl  *controller

	ops   []*opState
	units []*unit
	edges []edge.StatsEdge

	ctx    context.Context
	cancel context.CancelFunc
	tmr    *clock.Timer

	started time.Time
	sources int32
	reports chan UnitReport
	done    chan struct{}
	result  Result
}

func newRun(e *Engine, g *pipeline.CompiledGraph, opts Options) *Run {
	id := uuid.New().String()
	d := e.diag.WithRunContext(id, g.Name())
	r := &Run{
		id:     id,
		engine: e,
		graph:  g,
		opts:   opts,
		diag:   d,
		clock:  opts.Clock,
		ctrl:   newController(d),
		done:   make(chan struct{}),
	}
	r.ctrl.onStop = r.markStopping
	return r
}

// ID returns the unique id of the run.
func (r *Run) ID() string {
	return r.id
}

// Pipeline returns the name of the pipeline being run.
func (r *Run) Pipeline() string {
	return r.graph.Name()
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *Run) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}

// Done is closed once the run is terminated.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// build creates one queue per hop and the units of every operation.
func (r *Run) build() error {
	byID := make(map[pipeline.OperationID]*opState)
	for _, d := range r.graph.Operations() {
		op := &opState{desc: d}
		byID[d.ID] = op
		r.ops = append(r.ops, op)
	}

	for _, h := range r.graph.Hops() {
		from, to := byID[h.From], byID[h.To]
		dist, err := distributorFor(to.desc)
		if err != nil {
			return &Fault{Operation: to.desc.Name, Copy: -1, Err: err}
		}
		name := from.desc.Name + "->" + to.desc.Name
		e := edge.NewStatsEdge(
			edge.NewChannelEdge(name, from.desc.Copies, to.desc.Copies, r.opts.QueueCapacity, dist),
			r.diag.WithEdgeContext(from.desc.Name, to.desc.Name),
		)
		r.edges = append(r.edges, e)
		r.ctrl.watch(e)
		to.ins = append(to.ins, e)
		if h.Kind == pipeline.ErrorHop {
			from.errEdge = e
		} else {
			from.normal = append(from.normal, e)
			from.targets = append(from.targets, to.desc.Name)
		}
	}

	for _, op := range r.ops {
		for c := 0; c < op.desc.Copies; c++ {
			impl, err := r.engine.registry.New(op.desc.Kind)
			if err != nil {
				return &Fault{Operation: op.desc.Name, Copy: c, Err: err}
			}
			u, err := r.newUnit(op, c, impl)
			if err != nil {
				return &Fault{Operation: op.desc.Name, Copy: c, Err: err}
			}
			op.units = append(op.units, u)
			r.units = append(r.units, u)
			if len(op.ins) == 0 {
				r.sources++
			}
		}
	}
	r.reports = make(chan UnitReport, len(r.units))
	return nil
}

func (r *Run) newUnit(op *opState, c int, impl Operation) (*unit, error) {
	cfg, ok := r.graph.Operation(op.desc.ID)
	if !ok {
		return nil, fmt.Errorf("operation %d missing from graph", op.desc.ID)
	}
	u := &unit{
		run:        r,
		op:         op,
		copy:       c,
		impl:       impl,
		diag:       r.diag.WithUnitContext(op.desc.Name, c),
		routable:   supportsErrorRouting(impl),
		errSchemas: make(map[*models.Schema]*models.Schema),
	}
	u.timer = timer.New(cycleTimerSampleRate, cycleTimerAvgSize, &u.avgCycle, r.clock)
	u.rc = &RuntimeContext{u: u, config: cfg.Config}

	ins := make([]edge.Emitter, len(op.ins))
	for i, e := range op.ins {
		ins[i] = e.Consumer(c)
	}
	u.lanes = ins
	u.in = edge.NewMultiEmitter(ins)
	for i, e := range op.normal {
		u.outs = append(u.outs, &output{target: op.targets[i], edge: e, size: r.opts.BatchSize})
	}
	if op.errEdge != nil {
		u.errOut = &output{edge: op.errEdge, size: r.opts.BatchSize}
	}
	return u, nil
}

func distributorFor(d pipeline.OperationDesc) (edge.Distributor, error) {
	var cfg struct {
		Distribution    string   `mapstructure:"distribution"`
		PartitionFields []string `mapstructure:"partitionFields"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(d.Config); err != nil {
		return nil, errors.Wrap(err, "invalid distribution")
	}
	return edge.NewDistributor(cfg.Distribution, cfg.PartitionFields)
}

// init calls Init on every unit concurrently. When any unit fails to
// initialize every unit is disposed and no unit is started.
func (r *Run) init() error {
	var g errgroup.Group
	for _, u := range r.units {
		u := u
		g.Go(u.init)
	}
	if err := g.Wait(); err != nil {
		for _, u := range r.units {
			u.dispose()
			if u.getState() != UnitFailed {
				u.setState(UnitStopped)
			}
		}
		return err
	}
	return nil
}

// bind derives the run context, cancelled when the run stops.
func (r *Run) bind(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.ctrl.cancel = r.cancel
}

// start schedules every unit.
func (r *Run) start() {
	r.started = r.clock.Now()
	r.setState(StateRunning)
	if r.ctrl.isStopped() {
		r.markStopping()
	}
	r.diag.StartedRun(len(r.units))

	go func() {
		select {
		case <-r.ctx.Done():
			select {
			case <-r.done:
				return
			default:
			}
			r.ctrl.requestStop(errors.Wrap(r.ctx.Err(), "context done"))
		case <-r.done:
		}
	}()
	if r.opts.Timeout > 0 {
		r.tmr = r.clock.AfterFunc(r.opts.Timeout, func() {
			r.ctrl.requestStop(ErrTimeout)
		})
	}

	for _, u := range r.units {
		go u.loop()
	}
	go r.collect()
}

// collect receives the final report of every unit exactly once.
func (r *Run) collect() {
	reports := make([]UnitReport, 0, len(r.units))
	for range r.units {
		reports = append(reports, <-r.reports)
	}
	r.finish(reports, nil)
}

// terminate ends a run that never started, err being the build or init failure.
func (r *Run) terminate(err error) {
	r.started = r.clock.Now()
	reports := make([]UnitReport, 0, len(r.units))
	for _, u := range r.units {
		reports = append(reports, u.report())
	}
	for _, e := range r.edges {
		e.Abort()
	}
	r.diag.InitFailed(err)
	r.finish(reports, err)
}

func (r *Run) finish(reports []UnitReport, buildErr error) {
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Operation != reports[j].Operation {
			return r.order(reports[i].Operation) < r.order(reports[j].Operation)
		}
		return reports[i].Copy < reports[j].Copy
	})
	res := Result{
		RunID:    r.id,
		Pipeline: r.graph.Name(),
		Units:    reports,
		Elapsed:  r.clock.Now().Sub(r.started),
	}
	for _, u := range reports {
		res.RowsRead += u.RowsRead
		res.RowsWritten += u.RowsWritten
		res.Errors += u.Errors
	}
	if buildErr != nil {
		res.Status = StatusFailure
		f, ok := buildErr.(*Fault)
		if !ok {
			f = &Fault{Copy: -1, Err: buildErr}
		}
		res.Fault = f
	} else {
		res.Status, res.Fault = r.ctrl.status(res.Errors)
	}
	if r.tmr != nil {
		r.tmr.Stop()
	}
	r.result = res
	r.setState(StateTerminated)
	r.diag.FinishedRun(res.Status, res.Elapsed)
	r.engine.terminated(r)
	close(r.done)
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Run) order(operation string) int {
	for i, op := range r.ops {
		if op.desc.Name == operation {
			return i
		}
	}
	return len(r.ops)
}

func (r *Run) sourceFinished() {
	if atomic.AddInt32(&r.sources, -1) == 0 {
		atomic.CompareAndSwapInt32(&r.state, int32(StateRunning), int32(StateFinishing))
	}
}

// RequestStop stops the run. It is idempotent and safe for concurrent use;
// units blocked on a queue wake up and terminate.
func (r *Run) RequestStop() {
	if r.State() == StateTerminated {
		return
	}
	r.ctrl.requestStop(ErrCancelled)
}

func (r *Run) markStopping() {
	for {
		s := r.State()
		if s != StateRunning && s != StateFinishing {
			return
		}
		if atomic.CompareAndSwapInt32(&r.state, int32(s), int32(StateStopping)) {
			return
		}
	}
}

// AwaitCompletion blocks until the run is terminated and returns its result.
// It returns early with the context error if ctx is done first.
func (r *Run) AwaitCompletion(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Status returns a live view of the run.
func (r *Run) Status() RunStatus {
	st := RunStatus{
		ID:       r.id,
		Pipeline: r.graph.Name(),
		State:    r.State(),
	}
	select {
	case <-r.done:
		st.Units = r.result.Units
		st.Elapsed = r.result.Elapsed
		return st
	default:
	}
	for _, u := range r.units {
		st.Units = append(st.Units, u.report())
	}
	if st.State != StateBuilding {
		st.Elapsed = r.clock.Now().Sub(r.started)
	}
	return st
}

func durationOf(ns int64) time.Duration {
	return time.Duration(ns)
}
