package kettle

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/pentaho/pentaho-kettle-sub148/models"
	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
)

// RowListener receives the rows written by operations without outbound hops.
// It is called concurrently from the units of a run.
type RowListener func(operation string, s *models.Schema, r models.Row)

// RuntimeContext is the view a unit has of its run.
// It must only be used from the goroutine driving the operation.
type RuntimeContext struct {
	u      *unit
	config map[string]interface{}
}

// RunID returns the id of the run.
func (rc *RuntimeContext) RunID() string {
	return rc.u.run.id
}

// Name returns the operation name.
func (rc *RuntimeContext) Name() string {
	return rc.u.op.desc.Name
}

// Copy returns the index of this copy, starting at 0.
func (rc *RuntimeContext) Copy() int {
	return rc.u.copy
}

// Copies returns the number of copies of the operation.
func (rc *RuntimeContext) Copies() int {
	return rc.u.op.desc.Copies
}

// Descriptor returns the compiled descriptor of the operation.
func (rc *RuntimeContext) Descriptor() pipeline.OperationDesc {
	d := rc.u.op.desc
	d.Config = rc.Config()
	return d
}

// Config returns the configuration of this copy. Each copy owns its map.
func (rc *RuntimeContext) Config() map[string]interface{} {
	return rc.config
}

// DecodeConfig decodes the configuration into v, which must be a pointer.
// Loosely typed values such as numbers written as strings are converted.
func (rc *RuntimeContext) DecodeConfig(v interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(rc.config); err != nil {
		return errors.Wrapf(err, "decode configuration of %s", rc.Name())
	}
	return nil
}

// GetRow blocks until a row is available on any inbound hop.
// It returns false at end of input or once the run is stopping.
func (rc *RuntimeContext) GetRow() (models.Row, bool) {
	return rc.u.getRow()
}

// InputSchema returns the schema of the row last returned by GetRow.
func (rc *RuntimeContext) InputSchema() *models.Schema {
	return rc.u.inSchema
}

// SetOutputSchema sets the schema of the rows written by PutRow.
// Without it output rows are assumed to have the input schema.
func (rc *RuntimeContext) SetOutputSchema(s *models.Schema) {
	rc.u.outSchema = s
}

// OutputSchema returns the schema used for output rows, or nil.
func (rc *RuntimeContext) OutputSchema() *models.Schema {
	s, _ := rc.u.outputSchema()
	return s
}

// PutRow writes r to every normal outbound hop.
// It blocks while a downstream queue is full.
func (rc *RuntimeContext) PutRow(r models.Row) error {
	return rc.u.putRow(r)
}

// PutRowTo writes r to the normal outbound hop leading to target only.
func (rc *RuntimeContext) PutRowTo(target string, r models.Row) error {
	return rc.u.putRowTo(target, r)
}

// Targets returns the names of the operations reached by normal outbound hops.
func (rc *RuntimeContext) Targets() []string {
	return append([]string(nil), rc.u.op.targets...)
}

// HasErrorHop reports whether failed rows of this operation can be routed.
func (rc *RuntimeContext) HasErrorHop() bool {
	return rc.u.routable && rc.u.errOut != nil
}

// PutError routes r along the error hop, described by err.
// When the row cannot be routed the returned error must be returned from
// ProcessOneCycle, which stops the run.
func (rc *RuntimeContext) PutError(r models.Row, err error) error {
	re, ok := err.(*RowError)
	if !ok {
		re = &RowError{Description: err.Error()}
	}
	re.Row = r
	return rc.u.routeError(re)
}

// Stopped reports whether the run is stopping.
func (rc *RuntimeContext) Stopped() bool {
	return rc.u.run.ctrl.isStopped()
}

// Context returns a context cancelled when the run stops.
func (rc *RuntimeContext) Context() context.Context {
	return rc.u.run.ctx
}

// Clock returns the clock of the run.
func (rc *RuntimeContext) Clock() clock.Clock {
	return rc.u.run.opts.Clock
}

// Diag returns the diagnostic of this unit.
func (rc *RuntimeContext) Diag() UnitDiagnostic {
	return rc.u.diag
}

// Injected returns the rows handed to this operation by the caller of the
// run, see Options.Inject.
func (rc *RuntimeContext) Injected() (models.Batch, bool) {
	b, ok := rc.u.run.opts.Inject[rc.Name()]
	return b, ok
}

// SubPipeline returns the compiled sub-pipeline referenced by path.
func (rc *RuntimeContext) SubPipeline(path string) (*pipeline.CompiledGraph, bool) {
	return rc.u.run.graph.SubPipeline(path)
}

// RunSubPipeline executes the sub-pipeline referenced by path as a nested run
// and waits for it. The nested run stops when this run stops.
func (rc *RuntimeContext) RunSubPipeline(path string, inject map[string]models.Batch, l RowListener) (Result, error) {
	g, ok := rc.SubPipeline(path)
	if !ok {
		return Result{}, fmt.Errorf("unknown sub-pipeline %q", path)
	}
	opts := rc.u.run.opts
	opts.Inject = inject
	opts.Listener = l
	opts.Timeout = 0
	r, err := rc.u.run.engine.Start(rc.u.run.ctx, g, opts)
	if err != nil {
		if r != nil {
			return r.result, err
		}
		return Result{}, err
	}
	return r.AwaitCompletion(context.Background())
}
