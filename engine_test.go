package kettle_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/models"
	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
)

var sourceSchema = models.MustSchema(
	models.Field{Name: "id", Type: models.TypeInteger},
	models.Field{Name: "key", Type: models.TypeString},
)

type testRegistry map[string]func() kettle.Operation

func (r testRegistry) New(kind string) (kettle.Operation, error) {
	f, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return f(), nil
}

// sourceOp emits rows copies apart, a negative row count never finishes.
type sourceOp struct {
	rc   *kettle.RuntimeContext
	rows int64
	keys int64
	i    int64
}

func (s *sourceOp) Init(rc *kettle.RuntimeContext) error {
	s.rc = rc
	var cfg struct {
		Rows int64 `mapstructure:"rows"`
		Keys int64 `mapstructure:"keys"`
	}
	if err := rc.DecodeConfig(&cfg); err != nil {
		return err
	}
	s.rows, s.keys = cfg.Rows, cfg.Keys
	if s.keys <= 0 {
		s.keys = 1
	}
	rc.SetOutputSchema(sourceSchema)
	return nil
}

func (s *sourceOp) ProcessOneCycle() (kettle.CycleResult, error) {
	if s.rows >= 0 && s.i >= s.rows {
		return kettle.Finished, nil
	}
	id := int64(s.rc.Copy())*s.rows + s.i
	if s.rows < 0 {
		id = s.i
	}
	s.i++
	if err := s.rc.PutRow(models.NewRow(id, fmt.Sprintf("k%d", id%s.keys))); err != nil {
		return kettle.Failed, err
	}
	return kettle.Continue, nil
}

func (s *sourceOp) Dispose(*kettle.RuntimeContext) {}

type passOp struct {
	rc *kettle.RuntimeContext
}

func (p *passOp) Init(rc *kettle.RuntimeContext) error {
	p.rc = rc
	return nil
}

func (p *passOp) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := p.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	if err := p.rc.PutRow(r); err != nil {
		return kettle.Failed, err
	}
	return kettle.Continue, nil
}

func (p *passOp) Dispose(*kettle.RuntimeContext) {}

// headOp passes on the first rows of its input and finishes early.
type headOp struct {
	passOp
	limit int
	seen  int
}

func (h *headOp) Init(rc *kettle.RuntimeContext) error {
	h.rc = rc
	var cfg struct {
		Rows int `mapstructure:"rows"`
	}
	if err := rc.DecodeConfig(&cfg); err != nil {
		return err
	}
	h.limit = cfg.Rows
	return nil
}

func (h *headOp) ProcessOneCycle() (kettle.CycleResult, error) {
	if h.seen >= h.limit {
		return kettle.Finished, nil
	}
	r, ok := h.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	h.seen++
	if err := h.rc.PutRow(r); err != nil {
		return kettle.Failed, err
	}
	return kettle.Continue, nil
}

type received struct {
	copy   int
	schema *models.Schema
	row    models.Row
}

type sink struct {
	mu   sync.Mutex
	rows map[string][]received
}

func newSink() *sink {
	return &sink{rows: make(map[string][]received)}
}

func (s *sink) get(op string) []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]received(nil), s.rows[op]...)
}

func (s *sink) count(op string) int {
	return len(s.get(op))
}

type sinkOp struct {
	rc   *kettle.RuntimeContext
	sink *sink
}

func (s *sinkOp) Init(rc *kettle.RuntimeContext) error {
	s.rc = rc
	return nil
}

func (s *sinkOp) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := s.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	s.sink.mu.Lock()
	s.sink.rows[s.rc.Name()] = append(s.sink.rows[s.rc.Name()], received{copy: s.rc.Copy(), schema: s.rc.InputSchema(), row: r})
	s.sink.mu.Unlock()
	return kettle.Continue, nil
}

func (s *sinkOp) Dispose(*kettle.RuntimeContext) {}

// evenOp fails every row with an even id.
type evenOp struct {
	passOp
	routing bool
}

func (e *evenOp) SupportsErrorRouting() bool { return e.routing }

func (e *evenOp) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := e.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	if r.Value(0).(int64)%2 == 0 {
		return kettle.Failed, &kettle.RowError{Row: r, Description: "even id", Fields: []string{"id"}, Code: "E1"}
	}
	if err := e.rc.PutRow(r); err != nil {
		return kettle.Failed, err
	}
	return kettle.Continue, nil
}

type faultOp struct {
	passOp
	seen int
}

func (f *faultOp) ProcessOneCycle() (kettle.CycleResult, error) {
	if _, ok := f.rc.GetRow(); !ok {
		return kettle.Finished, nil
	}
	f.seen++
	if f.seen == 5 {
		return kettle.Failed, errors.New("boom")
	}
	return kettle.Continue, nil
}

type panicOp struct {
	passOp
}

func (p *panicOp) ProcessOneCycle() (kettle.CycleResult, error) {
	if _, ok := p.rc.GetRow(); !ok {
		return kettle.Finished, nil
	}
	panic("bad row")
}

type initFailOp struct {
	passOp
}

func (initFailOp) Init(*kettle.RuntimeContext) error {
	return errors.New("no connection")
}

type disposeCounter struct {
	kettle.Operation
	n *int64
}

func (d disposeCounter) Dispose(rc *kettle.RuntimeContext) {
	atomic.AddInt64(d.n, 1)
	d.Operation.Dispose(rc)
}

func newRegistry(s *sink) testRegistry {
	return testRegistry{
		"source":   func() kettle.Operation { return &sourceOp{} },
		"pass":     func() kettle.Operation { return &passOp{} },
		"head":     func() kettle.Operation { return &headOp{} },
		"sink":     func() kettle.Operation { return &sinkOp{sink: s} },
		"even":     func() kettle.Operation { return &evenOp{routing: true} },
		"evenOnly": func() kettle.Operation { return &evenOp{} },
		"fault":    func() kettle.Operation { return &faultOp{} },
		"panic":    func() kettle.Operation { return &panicOp{} },
		"initFail": func() kettle.Operation { return &initFailOp{} },
	}
}

type hop struct {
	from, to string
	kind     pipeline.HopKind
}

func compile(t *testing.T, ops []pipeline.Operation, hops ...hop) *pipeline.CompiledGraph {
	t.Helper()
	p := pipeline.New("test")
	for _, op := range ops {
		_, err := p.AddOperation(op)
		require.NoError(t, err)
	}
	for _, h := range hops {
		_, err := p.AddHop(h.from, h.to, h.kind)
		require.NoError(t, err)
	}
	g, err := pipeline.Compile(p)
	require.NoError(t, err)
	return g
}

func await(t *testing.T, r *kettle.Run) kettle.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := r.AwaitCompletion(ctx)
	require.NoError(t, err, "run did not terminate")
	return res
}

func source(name string, rows int, copies int) pipeline.Operation {
	return pipeline.Operation{Name: name, Kind: "source", Copies: copies, Config: map[string]interface{}{"rows": rows}}
}

func TestEngine_NoRowLoss(t *testing.T) {
	testCases := []struct {
		name                string
		src, middle, target int
		batch               int
	}{
		{name: "single copies", src: 1, middle: 1, target: 1},
		{name: "fan out", src: 1, middle: 4, target: 1},
		{name: "fan in", src: 3, middle: 1, target: 1},
		{name: "many to many", src: 2, middle: 3, target: 2},
		{name: "row batches", src: 2, middle: 3, target: 2, batch: 1},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := newSink()
			e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
			defer e.Close()
			g := compile(t,
				[]pipeline.Operation{
					source("read", 100, tc.src),
					{Name: "work", Kind: "pass", Copies: tc.middle},
					{Name: "write", Kind: "sink", Copies: tc.target},
				},
				hop{from: "read", to: "work"},
				hop{from: "work", to: "write"},
			)
			r, err := e.Start(context.Background(), g, kettle.Options{QueueCapacity: 2, BatchSize: tc.batch})
			require.NoError(t, err)
			res := await(t, r)

			assert.Equal(t, kettle.StatusSuccess, res.Status)
			assert.Nil(t, res.Fault)
			got := s.get("write")
			require.Len(t, got, 100*tc.src)
			ids := make([]int, len(got))
			for i, rec := range got {
				ids[i] = int(rec.row.Value(0).(int64))
			}
			sort.Ints(ids)
			for i := range ids {
				assert.Equal(t, i, ids[i])
			}
			assert.Equal(t, int64(100*tc.src), res.Operation("read").RowsWritten)
			assert.Equal(t, int64(100*tc.src), res.Operation("work").RowsRead)
			assert.Equal(t, int64(100*tc.src), res.Operation("write").RowsRead)
			assert.Len(t, res.Units, tc.src+tc.middle+tc.target)
			for _, u := range res.Units {
				assert.Equal(t, kettle.UnitFinished, u.State, "%s.%d", u.Operation, u.Copy)
			}
		})
	}
}

func TestEngine_FinishWithUnreadInput(t *testing.T) {
	testCases := []struct {
		name   string
		copies int
	}{
		{name: "single copy", copies: 1},
		{name: "two copies", copies: 2},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := newSink()
			e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
			defer e.Close()
			g := compile(t,
				[]pipeline.Operation{
					source("read", 100000, 1),
					{Name: "head", Kind: "head", Copies: tc.copies, Config: map[string]interface{}{"rows": 1}},
					{Name: "write", Kind: "sink"},
				},
				hop{from: "read", to: "head"},
				hop{from: "head", to: "write"},
			)
			r, err := e.Start(context.Background(), g, kettle.Options{QueueCapacity: 2, BatchSize: 10})
			require.NoError(t, err)
			res := await(t, r)

			assert.Equal(t, kettle.StatusSuccess, res.Status)
			assert.Nil(t, res.Fault)
			assert.Equal(t, int64(100000), res.Operation("read").RowsWritten)
			for c := 0; c < tc.copies; c++ {
				u, ok := res.Unit("head", c)
				require.True(t, ok)
				assert.Equal(t, kettle.UnitFinished, u.State)
				assert.Equal(t, int64(1), u.RowsRead)
			}
			assert.Equal(t, tc.copies, s.count("write"))
			for _, u := range res.Units {
				assert.Equal(t, kettle.UnitFinished, u.State, "%s.%d", u.Operation, u.Copy)
			}
		})
	}
}

func TestEngine_RoundRobinRows(t *testing.T) {
	s := newSink()
	e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{
			source("read", 10, 1),
			{Name: "work", Kind: "pass", Copies: 2},
			{Name: "write", Kind: "sink"},
		},
		hop{from: "read", to: "work"},
		hop{from: "work", to: "write"},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{BatchSize: 50})
	require.NoError(t, err)
	res := await(t, r)

	assert.Equal(t, kettle.StatusSuccess, res.Status)
	for c := 0; c < 2; c++ {
		u, ok := res.Unit("work", c)
		require.True(t, ok)
		assert.Equal(t, int64(5), u.RowsRead, "copy %d", c)
	}
	assert.Equal(t, 10, s.count("write"))
}

func TestEngine_MultipleInbound(t *testing.T) {
	s := newSink()
	e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{
			source("a", 30, 1),
			source("b", 20, 1),
			{Name: "write", Kind: "sink"},
		},
		hop{from: "a", to: "write"},
		hop{from: "b", to: "write"},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	res := await(t, r)
	assert.Equal(t, kettle.StatusSuccess, res.Status)
	assert.Equal(t, 50, s.count("write"))
	assert.Equal(t, int64(100), res.RowsRead+res.RowsWritten)
}

func TestEngine_Listener(t *testing.T) {
	var (
		mu   sync.Mutex
		rows []models.Row
	)
	e := kettle.NewEngine(newRegistry(newSink()), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{source("read", 10, 1), {Name: "last", Kind: "pass"}},
		hop{from: "read", to: "last"},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{
		Listener: func(op string, s *models.Schema, r models.Row) {
			assert.Equal(t, "last", op)
			assert.Equal(t, sourceSchema, s)
			mu.Lock()
			rows = append(rows, r)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	res := await(t, r)
	assert.Equal(t, kettle.StatusSuccess, res.Status)
	assert.Len(t, rows, 10)
}

func TestEngine_ErrorRouting(t *testing.T) {
	s := newSink()
	e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{
			source("read", 100, 1),
			{Name: "check", Kind: "even", Copies: 2},
			{Name: "ok", Kind: "sink"},
			{Name: "rejects", Kind: "sink"},
		},
		hop{from: "read", to: "check"},
		hop{from: "check", to: "ok"},
		hop{from: "check", to: "rejects", kind: pipeline.ErrorHop},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	res := await(t, r)

	assert.Equal(t, kettle.StatusPartial, res.Status)
	assert.Nil(t, res.Fault)
	assert.Equal(t, int64(50), res.Errors)
	assert.Equal(t, int64(50), res.Operation("check").Errors)
	assert.Equal(t, 50, s.count("ok"))

	rejects := s.get("rejects")
	require.Len(t, rejects, 50)
	schema := rejects[0].schema
	require.Equal(t, 6, schema.Len())
	assert.Equal(t, "check", schema.Field(2).Origin)
	for _, rec := range rejects {
		id, _ := rec.row.Get(schema, "id")
		assert.Equal(t, int64(0), id.(int64)%2)
		count, _ := rec.row.Get(schema, "error_count")
		assert.Equal(t, int64(1), count)
		desc, _ := rec.row.Get(schema, "error_description")
		assert.Equal(t, "even id", desc)
		fields, _ := rec.row.Get(schema, "error_fields")
		assert.Equal(t, "id", fields)
		code, _ := rec.row.Get(schema, "error_code")
		assert.Equal(t, "E1", code)
	}
}

func TestEngine_ErrorRouting_CustomFields(t *testing.T) {
	s := newSink()
	e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{
			source("read", 10, 1),
			{Name: "check", Kind: "even", ErrorHandling: &pipeline.ErrorHandling{
				Fields: models.ErrorFields{Description: "why"},
			}},
			{Name: "rejects", Kind: "sink"},
		},
		hop{from: "read", to: "check"},
		hop{from: "check", to: "rejects", kind: pipeline.ErrorHop},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	res := await(t, r)
	assert.Equal(t, kettle.StatusPartial, res.Status)

	rejects := s.get("rejects")
	require.Len(t, rejects, 5)
	assert.Equal(t, "[id:integer key:string why:string]", rejects[0].schema.String())
}

func TestEngine_MaxErrors(t *testing.T) {
	s := newSink()
	e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{
			source("read", 100, 1),
			{Name: "check", Kind: "even", ErrorHandling: &pipeline.ErrorHandling{MaxErrors: 3}},
			{Name: "rejects", Kind: "sink"},
		},
		hop{from: "read", to: "check"},
		hop{from: "check", to: "rejects", kind: pipeline.ErrorHop},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	res := await(t, r)

	assert.Equal(t, kettle.StatusFailure, res.Status)
	require.NotNil(t, res.Fault)
	assert.Equal(t, "check", res.Fault.Operation)
	assert.Contains(t, res.Fault.Error(), "maximum number of errors (3) exceeded")
	var re *kettle.RowError
	assert.True(t, errors.As(res.Fault, &re))
}

func TestEngine_Faults(t *testing.T) {
	testCases := []struct {
		name    string
		kind    string
		message string
	}{
		{name: "operation error", kind: "fault", message: "boom"},
		{name: "unrouted row error", kind: "even", message: "no error hop"},
		{name: "routing unsupported", kind: "evenOnly", message: "no error hop"},
		{name: "panic", kind: "panic", message: "bad row: Trace:"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := newSink()
			e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
			defer e.Close()
			ops := []pipeline.Operation{
				source("read", -1, 1),
				{Name: "step", Kind: tc.kind},
				{Name: "write", Kind: "sink"},
			}
			hops := []hop{{from: "read", to: "step"}, {from: "step", to: "write"}}
			if tc.kind == "evenOnly" {
				ops = append(ops, pipeline.Operation{Name: "rejects", Kind: "sink"})
				hops = append(hops, hop{from: "step", to: "rejects", kind: pipeline.ErrorHop})
			}
			r, err := e.Start(context.Background(), compile(t, ops, hops...), kettle.Options{})
			require.NoError(t, err)
			res := await(t, r)

			assert.Equal(t, kettle.StatusFailure, res.Status)
			require.NotNil(t, res.Fault)
			assert.Equal(t, "step", res.Fault.Operation)
			assert.Equal(t, 0, res.Fault.Copy)
			assert.Contains(t, res.Fault.Error(), tc.message)
			u, ok := res.Unit("step", 0)
			require.True(t, ok)
			assert.Equal(t, kettle.UnitFailed, u.State)
			for _, u := range res.Units {
				assert.NotEqual(t, kettle.UnitRunning, u.State)
			}
			assert.Equal(t, 0, s.count("rejects"))
		})
	}
}

func TestEngine_InitFailure(t *testing.T) {
	var disposed int64
	s := newSink()
	reg := newRegistry(s)
	for kind, f := range reg {
		f := f
		reg[kind] = func() kettle.Operation { return disposeCounter{Operation: f(), n: &disposed} }
	}
	e := kettle.NewEngine(reg, kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{
			source("read", 10, 2),
			{Name: "connect", Kind: "initFail"},
			{Name: "write", Kind: "sink", Copies: 3},
		},
		hop{from: "read", to: "connect"},
		hop{from: "connect", to: "write"},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.Error(t, err)
	require.NotNil(t, r)
	assert.Contains(t, err.Error(), "no connection")

	res := await(t, r)
	assert.Equal(t, kettle.StatusFailure, res.Status)
	require.NotNil(t, res.Fault)
	assert.Equal(t, "connect", res.Fault.Operation)
	assert.Equal(t, int64(6), atomic.LoadInt64(&disposed))
	assert.Equal(t, 0, s.count("write"))
	assert.Equal(t, int64(0), res.RowsWritten)
	for _, u := range res.Units {
		if u.Operation == "connect" {
			assert.Equal(t, kettle.UnitFailed, u.State)
		} else {
			assert.Equal(t, kettle.UnitStopped, u.State)
		}
	}
	assert.Equal(t, kettle.StateTerminated, r.State())
}

func TestEngine_UnknownKind(t *testing.T) {
	e := kettle.NewEngine(newRegistry(newSink()), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t, []pipeline.Operation{{Name: "x", Kind: "nope"}})
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.Error(t, err)
	res := await(t, r)
	assert.Equal(t, kettle.StatusFailure, res.Status)
	assert.Equal(t, "x", res.Fault.Operation)
	assert.Empty(t, e.Runs())
}

func TestEngine_Cancellation(t *testing.T) {
	testCases := []struct {
		name string
		stop func(r *kettle.Run, cancel context.CancelFunc, mock *clock.Mock)
	}{
		{
			name: "request stop",
			stop: func(r *kettle.Run, _ context.CancelFunc, _ *clock.Mock) {
				var wg sync.WaitGroup
				for i := 0; i < 4; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						r.RequestStop()
					}()
				}
				wg.Wait()
			},
		},
		{
			name: "context",
			stop: func(_ *kettle.Run, cancel context.CancelFunc, _ *clock.Mock) { cancel() },
		},
		{
			name: "timeout",
			stop: func(_ *kettle.Run, _ context.CancelFunc, mock *clock.Mock) { mock.Add(time.Minute) },
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := newSink()
			mock := clock.NewMock()
			e := kettle.NewEngine(newRegistry(s), kettle.Options{Clock: mock}, nil)
			defer e.Close()

			ops := []pipeline.Operation{source("read", -1, 1)}
			var hops []hop
			prev := "read"
			for i := 0; i < 120; i++ {
				name := fmt.Sprintf("step%d", i)
				ops = append(ops, pipeline.Operation{Name: name, Kind: "pass", Copies: 1 + i%2})
				hops = append(hops, hop{from: prev, to: name})
				prev = name
			}
			ops = append(ops, pipeline.Operation{Name: "write", Kind: "sink"})
			hops = append(hops, hop{from: prev, to: "write"})
			g := compile(t, ops, hops...)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			r, err := e.Start(ctx, g, kettle.Options{Timeout: time.Minute, QueueCapacity: 1, BatchSize: 1})
			require.NoError(t, err)
			require.Eventually(t, func() bool { return s.count("write") > 0 }, 10*time.Second, time.Millisecond)

			tc.stop(r, cancel, mock)
			res := await(t, r)

			assert.Equal(t, kettle.StatusCancelled, res.Status)
			assert.Nil(t, res.Fault)
			assert.Len(t, res.Units, 1+180+1)
			for _, u := range res.Units {
				assert.Equal(t, kettle.UnitStopped, u.State, "%s.%d", u.Operation, u.Copy)
			}
			assert.Equal(t, kettle.StateTerminated, r.State())
			r.RequestStop()
		})
	}
}

func TestEngine_CancelAfterFault(t *testing.T) {
	s := newSink()
	e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{source("read", -1, 1), {Name: "step", Kind: "fault"}},
		hop{from: "read", to: "step"},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	<-r.Done()
	r.RequestStop()
	res := await(t, r)
	assert.Equal(t, kettle.StatusFailure, res.Status)
}

func TestEngine_HashDistribution(t *testing.T) {
	s := newSink()
	e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{
			{Name: "read", Kind: "source", Config: map[string]interface{}{"rows": 300, "keys": 7}},
			{Name: "group", Kind: "sink", Copies: 3, Config: map[string]interface{}{
				"distribution":    "hash",
				"partitionFields": "key",
			}},
		},
		hop{from: "read", to: "group"},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{BatchSize: 16})
	require.NoError(t, err)
	res := await(t, r)
	require.Equal(t, kettle.StatusSuccess, res.Status)

	got := s.get("group")
	require.Len(t, got, 300)
	owner := make(map[string]int)
	for _, rec := range got {
		key := rec.row.Value(1).(string)
		if c, ok := owner[key]; ok {
			assert.Equal(t, c, rec.copy, "key %s seen by two copies", key)
			continue
		}
		owner[key] = rec.copy
	}
	assert.Len(t, owner, 7)
}

func TestEngine_InvalidDistribution(t *testing.T) {
	e := kettle.NewEngine(newRegistry(newSink()), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{
			source("read", 1, 1),
			{Name: "group", Kind: "sink", Config: map[string]interface{}{"distribution": "random"}},
		},
		hop{from: "read", to: "group"},
	)
	_, err := e.Start(context.Background(), g, kettle.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown distribution "random"`)
}

func TestEngine_Status(t *testing.T) {
	s := newSink()
	e := kettle.NewEngine(newRegistry(s), kettle.Options{}, nil)
	defer e.Close()
	g := compile(t,
		[]pipeline.Operation{source("read", -1, 1), {Name: "write", Kind: "sink"}},
		hop{from: "read", to: "write"},
	)
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.count("write") > 10 }, 10*time.Second, time.Millisecond)

	st := r.Status()
	assert.Equal(t, r.ID(), st.ID)
	assert.Equal(t, "test", st.Pipeline)
	assert.Equal(t, kettle.StateRunning, st.State)
	require.Len(t, st.Units, 2)
	assert.Equal(t, kettle.UnitRunning, st.Units[0].State)

	active, ok := e.Run(r.ID())
	require.True(t, ok)
	assert.Same(t, r, active)
	assert.Len(t, e.Runs(), 1)

	r.RequestStop()
	res := await(t, r)
	st = r.Status()
	assert.Equal(t, kettle.StateTerminated, st.State)
	assert.Equal(t, res.Units, st.Units)
	assert.Empty(t, e.Runs())
}

type resultStore struct {
	mu      sync.Mutex
	results []kettle.Result
}

func (s *resultStore) SaveResult(r kettle.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func TestEngine_Close(t *testing.T) {
	store := new(resultStore)
	e := kettle.NewEngine(newRegistry(newSink()), kettle.Options{}, nil)
	e.RunStore = store
	g := compile(t,
		[]pipeline.Operation{source("read", -1, 1), {Name: "write", Kind: "sink"}},
		hop{from: "read", to: "write"},
	)
	r1, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	r2, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID(), r2.ID())

	require.NoError(t, e.Close())
	for _, r := range []*kettle.Run{r1, r2} {
		res := await(t, r)
		assert.Equal(t, kettle.StatusCancelled, res.Status)
	}
	assert.Len(t, store.results, 2)

	_, err = e.Start(context.Background(), g, kettle.Options{})
	assert.Equal(t, kettle.ErrEngineClosed, err)
	require.NoError(t, e.Close())
}

func TestEngine_EmptyGraph(t *testing.T) {
	e := kettle.NewEngine(newRegistry(newSink()), kettle.Options{}, nil)
	defer e.Close()
	g, err := pipeline.Compile(pipeline.New("empty"))
	require.NoError(t, err)
	r, err := e.Start(context.Background(), g, kettle.Options{})
	require.NoError(t, err)
	res := await(t, r)
	assert.Equal(t, kettle.StatusSuccess, res.Status)
	assert.Empty(t, res.Units)
}

func TestResult_WriteJSON(t *testing.T) {
	res := kettle.Result{
		RunID:    "r1",
		Pipeline: "p",
		Status:   kettle.StatusFailure,
		Fault:    &kettle.Fault{Operation: "step", Copy: 1, Err: errors.New("boom")},
		Units:    []kettle.UnitReport{{Operation: "step", Copy: 1, State: kettle.UnitFailed}},
	}
	var b strings.Builder
	require.NoError(t, res.WriteJSON(&b))
	assert.Contains(t, b.String(), `"status": "FAILURE"`)
	assert.Contains(t, b.String(), `"message": "boom"`)
	assert.Contains(t, b.String(), `"state": "failed"`)
}
