package kettle

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/pentaho/pentaho-kettle-sub148/edge"
	"github.com/pentaho/pentaho-kettle-sub148/models"
	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
	"github.com/pentaho/pentaho-kettle-sub148/timer"
)

const (
	cycleTimerSampleRate = 0.1
	cycleTimerAvgSize    = 100
)

// opState is shared by the copies of one operation.
type opState struct {
	desc  pipeline.OperationDesc
	units []*unit

	ins     []edge.Edge
	normal  []edge.Edge
	targets []string
	errEdge edge.Edge

	// errors counts rows routed along the error hop by all copies.
	errors int64
}

// unit is one running copy of an operation.
type unit struct {
	run  *Run
	op   *opState
	copy int
	impl Operation
	rc   *RuntimeContext
	diag UnitDiagnostic

	state       int32
	rowsRead    int64
	rowsWritten int64
	errors      int64
	avgCycle    durationVar
	timer       timer.Timer

	in       edge.MultiEmitter
	lanes    []edge.Emitter
	outs     []*output
	errOut   *output
	routable bool

	cur        models.Batch
	pos        int
	inSchema   *models.Schema
	outSchema  *models.Schema
	errSchemas map[*models.Schema]*models.Schema
	pending    error
}

type durationVar struct {
	v int64
}

func (d *durationVar) Set(v int64) {
	atomic.StoreInt64(&d.v, v)
}

func (d *durationVar) Get() int64 {
	return atomic.LoadInt64(&d.v)
}

// output buffers the rows of one outbound queue into batches.
type output struct {
	target string
	edge   edge.Edge
	size   int
	schema *models.Schema
	rows   []models.Row
}

func (o *output) put(s *models.Schema, r models.Row) error {
	if len(o.rows) > 0 && o.schema != s {
		if err := o.flush(); err != nil {
			return err
		}
	}
	o.schema = s
	o.rows = append(o.rows, r)
	if len(o.rows) >= o.size {
		return o.flush()
	}
	return nil
}

func (o *output) flush() error {
	if len(o.rows) == 0 {
		return nil
	}
	b := models.Batch{Schema: o.schema, Rows: o.rows}
	o.rows = make([]models.Row, 0, o.size)
	return o.edge.Collect(b)
}

func (u *unit) setState(s UnitState) {
	atomic.StoreInt32(&u.state, int32(s))
}

func (u *unit) getState() UnitState {
	return UnitState(atomic.LoadInt32(&u.state))
}

func (u *unit) init() (err error) {
	u.setState(UnitInitializing)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v: Trace:%s", r, stack())
		}
		if err != nil {
			u.setState(UnitFailed)
			err = &Fault{Operation: u.op.desc.Name, Copy: u.copy, Err: errors.Wrap(err, "init")}
		}
	}()
	return u.impl.Init(u.rc)
}

// loop drives the operation until it finishes, fails or the run stops.
// Outbound queues are always closed and the operation always disposed.
func (u *unit) loop() {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v: Trace:%s", r, stack())
		}
		if err == nil {
			err = u.flushAll()
		}
		failed := err != nil && !u.run.ctrl.stopInduced(err)
		if failed {
			u.diag.UnitFault(err)
			u.run.ctrl.fail(&Fault{Operation: u.op.desc.Name, Copy: u.copy, Err: err})
		}
		u.closeOutputs()
		u.in.Stop()

		state := UnitFinished
		switch {
		case failed:
			state = UnitFailed
		case u.run.ctrl.isStopped():
			state = UnitStopped
		default:
			u.drainInputs()
		}
		u.dispose()
		u.setState(state)
		if u.isSource() && state == UnitFinished {
			u.run.sourceFinished()
		}
		u.run.reports <- u.report()
	}()

	u.setState(UnitRunning)
	for {
		if u.run.ctrl.isStopped() {
			return
		}
		u.timer.Start()
		res, cerr := u.impl.ProcessOneCycle()
		u.timer.Stop()
		if u.pending != nil {
			err = u.pending
			return
		}
		if cerr != nil || res == Failed {
			var re *RowError
			if errors.As(cerr, &re) {
				if err = u.routeError(re); err != nil {
					return
				}
				continue
			}
			if cerr == nil {
				cerr = errors.New("operation reported failure")
			}
			err = cerr
			return
		}
		switch res {
		case Continue:
		case Finished:
			return
		default:
			err = fmt.Errorf("unknown cycle result %d", res)
			return
		}
	}
}

func (u *unit) dispose() {
	defer func() {
		if r := recover(); r != nil {
			u.diag.Error("panic while disposing", fmt.Errorf("%v: Trace:%s", r, stack()))
		}
	}()
	u.impl.Dispose(u.rc)
}

func (u *unit) isSource() bool {
	return len(u.op.ins) == 0
}

func (u *unit) report() UnitReport {
	return UnitReport{
		Operation:   u.op.desc.Name,
		Copy:        u.copy,
		State:       u.getState(),
		RowsRead:    atomic.LoadInt64(&u.rowsRead),
		RowsWritten: atomic.LoadInt64(&u.rowsWritten),
		Errors:      atomic.LoadInt64(&u.errors),
		AvgCycle:    durationOf(u.avgCycle.Get()),
	}
}

// getRow returns the next input row, flushing pending output before it blocks.
func (u *unit) getRow() (models.Row, bool) {
	for u.pos >= len(u.cur.Rows) {
		if u.run.ctrl.isStopped() {
			return models.Row{}, false
		}
		if err := u.flushAll(); err != nil {
			u.pending = err
			return models.Row{}, false
		}
		s, ok := u.in.Emit()
		if !ok {
			return models.Row{}, false
		}
		u.cur, u.pos = s.Batch, 0
		u.inSchema = s.Batch.Schema
	}
	r := u.cur.Rows[u.pos]
	u.pos++
	atomic.AddInt64(&u.rowsRead, 1)
	return r, true
}

func (u *unit) outputSchema() (*models.Schema, error) {
	if u.outSchema != nil {
		return u.outSchema, nil
	}
	if u.inSchema != nil {
		return u.inSchema, nil
	}
	return nil, fmt.Errorf("operation %s has no output schema", u.op.desc.Name)
}

func (u *unit) putRow(r models.Row) error {
	if u.run.ctrl.isStopped() {
		return ErrStopped
	}
	s, err := u.outputSchema()
	if err != nil {
		return err
	}
	for _, o := range u.outs {
		if err := o.put(s, r); err != nil {
			return err
		}
	}
	if len(u.outs) == 0 && u.run.opts.Listener != nil {
		u.run.opts.Listener(u.op.desc.Name, s, r)
	}
	atomic.AddInt64(&u.rowsWritten, 1)
	return nil
}

func (u *unit) putRowTo(target string, r models.Row) error {
	if u.run.ctrl.isStopped() {
		return ErrStopped
	}
	s, err := u.outputSchema()
	if err != nil {
		return err
	}
	for _, o := range u.outs {
		if o.target == target {
			if err := o.put(s, r); err != nil {
				return err
			}
			atomic.AddInt64(&u.rowsWritten, 1)
			return nil
		}
	}
	return fmt.Errorf("operation %s has no hop to %q", u.op.desc.Name, target)
}

// routeError sends a failed row along the error hop, or returns the error
// that stops the run when the row cannot be routed.
func (u *unit) routeError(re *RowError) error {
	atomic.AddInt64(&u.errors, 1)
	if !u.routable || u.errOut == nil {
		return errors.Wrap(re, "no error hop")
	}
	total := atomic.AddInt64(&u.op.errors, 1)
	if max := u.op.desc.MaxErrors; max > 0 && total > max {
		return errors.Wrapf(re, "maximum number of errors (%d) exceeded", max)
	}
	if u.run.ctrl.isStopped() {
		return ErrStopped
	}
	base := u.inSchema
	if base == nil {
		base = u.outSchema
	}
	if base == nil {
		return errors.Wrap(re, "no schema for error row")
	}
	es, ok := u.errSchemas[base]
	if !ok {
		var err error
		es, err = u.op.desc.ErrorFields.Extend(base, u.op.desc.Name)
		if err != nil {
			return errors.Wrap(err, "extend error schema")
		}
		u.errSchemas[base] = es
	}
	row := u.op.desc.ErrorFields.Augment(re.Row, models.ErrorInfo{
		Operation:   u.op.desc.Name,
		Copy:        u.copy,
		Count:       1,
		Description: re.Description,
		Fields:      re.Fields,
		Code:        re.Code,
	})
	u.diag.RoutedError(re, total)
	return u.errOut.put(es, row)
}

func (u *unit) flushAll() error {
	for _, o := range u.outs {
		if err := o.flush(); err != nil {
			return err
		}
	}
	if u.errOut != nil {
		return u.errOut.flush()
	}
	return nil
}

func (u *unit) closeOutputs() {
	for _, o := range u.outs {
		o.edge.Close()
	}
	if u.errOut != nil {
		u.errOut.edge.Close()
	}
}

// drainInputs discards the rows still queued for this copy so producers
// never block on a lane nobody reads. Each reader ends when its queue is
// closed or aborted.
func (u *unit) drainInputs() {
	for _, l := range u.lanes {
		go func(l edge.Emitter) {
			for _, ok := l.Emit(); ok; _, ok = l.Emit() {
			}
		}(l)
	}
}

func stack() []byte {
	trace := make([]byte, 4096)
	n := runtime.Stack(trace, false)
	return trace[:n]
}
