package operations

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// MappingConfig configures a mapping operation.
type MappingConfig struct {
	// Input names the inject operation of the sub-pipeline receiving the
	// input rows.
	Input string `mapstructure:"input"`
	// Output restricts the forwarded rows to one terminal operation of the
	// sub-pipeline. By default the rows of every terminal operation are forwarded.
	Output string `mapstructure:"output"`
}

// Mapping runs the sub-pipeline referenced by the operation once all input
// rows are read, and forwards the rows produced by the sub-pipeline.
type Mapping struct {
	passThrough
	c    MappingConfig
	path string
	in   models.Batch
}

func (m *Mapping) Init(rc *kettle.RuntimeContext) error {
	m.rc = rc
	m.c.Input = "input"
	if err := rc.DecodeConfig(&m.c); err != nil {
		return err
	}
	m.path = rc.Descriptor().SubPipeline
	if m.path == "" {
		return errors.New("mapping requires a sub-pipeline")
	}
	if _, ok := rc.SubPipeline(m.path); !ok {
		return fmt.Errorf("unknown sub-pipeline %q", m.path)
	}
	return nil
}

func (m *Mapping) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := m.rc.GetRow()
	if ok {
		if m.in.Schema == nil {
			m.in.Schema = m.rc.InputSchema()
		}
		m.in.Rows = append(m.in.Rows, r)
		return kettle.Continue, nil
	}
	if m.rc.Stopped() {
		return kettle.Finished, nil
	}
	if err := m.run(); err != nil {
		return kettle.Failed, err
	}
	return kettle.Finished, nil
}

type mappedRow struct {
	schema *models.Schema
	row    models.Row
}

func (m *Mapping) run() error {
	var (
		mu  sync.Mutex
		out []mappedRow
	)
	listener := func(op string, s *models.Schema, r models.Row) {
		if m.c.Output != "" && op != m.c.Output {
			return
		}
		mu.Lock()
		out = append(out, mappedRow{schema: s, row: r})
		mu.Unlock()
	}
	res, err := m.rc.RunSubPipeline(m.path, map[string]models.Batch{m.c.Input: m.in}, listener)
	if err != nil {
		return errors.Wrapf(err, "sub-pipeline %s", m.path)
	}
	switch res.Status {
	case kettle.StatusSuccess, kettle.StatusPartial:
	case kettle.StatusCancelled:
		return kettle.ErrStopped
	default:
		if res.Fault != nil {
			return errors.Wrapf(res.Fault, "sub-pipeline %s failed", m.path)
		}
		return fmt.Errorf("sub-pipeline %s ended %s", m.path, res.Status)
	}
	for _, o := range out {
		m.rc.SetOutputSchema(o.schema)
		if err := m.rc.PutRow(o.row); err != nil {
			return err
		}
	}
	return nil
}

// Inject is the source of a sub-pipeline emitting the rows handed over by
// the mapping running it.
type Inject struct {
	rc   *kettle.RuntimeContext
	rows []models.Row
	i    int
}

func (in *Inject) Init(rc *kettle.RuntimeContext) error {
	in.rc = rc
	b, ok := rc.Injected()
	if !ok {
		return nil
	}
	// Copies share the injected rows.
	for i := rc.Copy(); i < len(b.Rows); i += rc.Copies() {
		in.rows = append(in.rows, b.Rows[i])
	}
	if b.Schema != nil {
		rc.SetOutputSchema(b.Schema)
	}
	return nil
}

func (in *Inject) ProcessOneCycle() (kettle.CycleResult, error) {
	if in.i >= len(in.rows) {
		return kettle.Finished, nil
	}
	r := in.rows[in.i]
	in.i++
	if err := in.rc.PutRow(r); err != nil {
		return kettle.Failed, err
	}
	return kettle.Continue, nil
}

func (in *Inject) Dispose(*kettle.RuntimeContext) {}
