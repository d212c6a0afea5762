package operations_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/models"
	"github.com/pentaho/pentaho-kettle-sub148/operations"
	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
	"github.com/pentaho/pentaho-kettle-sub148/registry"
	"github.com/pentaho/pentaho-kettle-sub148/services/diagnostic"
)

func newEngine(t *testing.T, c *operations.Collector, d kettle.Diagnostic) *kettle.Engine {
	t.Helper()
	reg := registry.New()
	require.NoError(t, operations.Register(reg, c))
	e := kettle.NewEngine(reg, kettle.Options{}, d)
	t.Cleanup(func() { e.Close() })
	return e
}

func start(t *testing.T, e *kettle.Engine, doc string) (*kettle.Run, error) {
	t.Helper()
	p, err := pipeline.ParseDocument([]byte(doc))
	require.NoError(t, err)
	g, err := pipeline.Compile(p)
	require.NoError(t, err)
	return e.Start(context.Background(), g, kettle.Options{})
}

func run(t *testing.T, e *kettle.Engine, doc string) kettle.Result {
	t.Helper()
	r, err := start(t, e, doc)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := r.AwaitCompletion(ctx)
	require.NoError(t, err)
	return res
}

func ids(t *testing.T, b models.Batch) []int64 {
	t.Helper()
	out := make([]int64, 0, len(b.Rows))
	for _, r := range b.Rows {
		v, ok := r.Get(b.Schema, "id")
		require.True(t, ok)
		out = append(out, v.(int64))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestRegister(t *testing.T) {
	reg := registry.New()
	require.NoError(t, operations.Register(reg, nil))
	assert.Equal(t, []string{
		"abort", "collect", "dummy", "filter", "generate",
		"inject", "log", "mapping", "validate",
	}, reg.Kinds())
	assert.Error(t, operations.Register(reg, nil))
}

func TestGenerate(t *testing.T) {
	c := operations.NewCollector(0)
	e := newEngine(t, c, nil)
	res := run(t, e, `
name: generate
operations:
  - name: read
    kind: generate
    copies: 2
    config:
      limit: 5
      sequence: id
      fields:
        - {name: greeting, value: hi}
        - {name: "n", type: integer, value: "42"}
  - name: pass
    kind: dummy
  - name: out
    kind: collect
hops:
  - {from: read, to: pass}
  - {from: pass, to: out}
`)
	require.Equal(t, kettle.StatusSuccess, res.Status)

	b := c.Rows("out")
	assert.Equal(t, "[id:integer greeting:string n:integer]", b.Schema.String())
	assert.Equal(t, "read", b.Schema.Field(0).Origin)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids(t, b))
	for _, r := range b.Rows {
		assert.Equal(t, "hi", r.Value(1))
		assert.Equal(t, int64(42), r.Value(2))
	}
	assert.Equal(t, []string{"out"}, c.Operations())
	assert.Equal(t, int64(10), res.Operation("out").RowsWritten)
}

func TestGenerate_InvalidConfig(t *testing.T) {
	e := newEngine(t, nil, nil)
	testCases := map[string]string{
		"no fields":  `{name: p, operations: [{name: read, kind: generate, config: {limit: 1}}]}`,
		"bad type":   `{name: p, operations: [{name: read, kind: generate, config: {fields: [{name: a, type: color}]}}]}`,
		"bad value":  `{name: p, operations: [{name: read, kind: generate, config: {fields: [{name: a, type: integer, value: x}]}}]}`,
		"bad limit":  `{name: p, operations: [{name: read, kind: generate, config: {limit: many, sequence: id}}]}`,
		"duplicates": `{name: p, operations: [{name: read, kind: generate, config: {sequence: a, fields: [{name: a}]}}]}`,
	}
	for name, doc := range testCases {
		doc := doc
		t.Run(name, func(t *testing.T) {
			_, err := start(t, e, doc)
			assert.Error(t, err)
		})
	}
}

func TestFilter(t *testing.T) {
	c := operations.NewCollector(0)
	e := newEngine(t, c, nil)
	res := run(t, e, `
name: filter
operations:
  - {name: read, kind: generate, config: {limit: 10, sequence: id}}
  - {name: split, kind: filter, config: {field: id, value: 3, trueTarget: three, falseTarget: others}}
  - {name: three, kind: collect}
  - {name: others, kind: collect}
hops:
  - {from: read, to: split}
  - {from: split, to: three}
  - {from: split, to: others}
`)
	require.Equal(t, kettle.StatusSuccess, res.Status)
	assert.Equal(t, []int64{3}, ids(t, c.Rows("three")))
	assert.Equal(t, []int64{0, 1, 2, 4, 5, 6, 7, 8, 9}, ids(t, c.Rows("others")))
	assert.Equal(t, int64(10), res.Operation("split").RowsWritten)
}

func TestFilter_WithoutTargets(t *testing.T) {
	c := operations.NewCollector(0)
	e := newEngine(t, c, nil)
	res := run(t, e, `
name: filter
operations:
  - {name: read, kind: generate, config: {limit: 10, sequence: id}}
  - {name: keep, kind: filter, config: {field: id, value: "7"}}
  - {name: a, kind: collect}
  - {name: b, kind: collect}
hops:
  - {from: read, to: keep}
  - {from: keep, to: a}
  - {from: keep, to: b}
`)
	require.Equal(t, kettle.StatusSuccess, res.Status)
	assert.Equal(t, []int64{7}, ids(t, c.Rows("a")))
	assert.Equal(t, []int64{7}, ids(t, c.Rows("b")))
}

func TestFilter_Invalid(t *testing.T) {
	e := newEngine(t, nil, nil)
	_, err := start(t, e, `
name: filter
operations:
  - {name: read, kind: generate, config: {limit: 10, sequence: id}}
  - {name: split, kind: filter, config: {field: id, value: 3, trueTarget: nowhere}}
hops:
  - {from: read, to: split}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `filter target "nowhere" is not reached by a hop`)

	res := run(t, e, `
name: filter
operations:
  - {name: read, kind: generate, config: {limit: 10, sequence: id}}
  - {name: split, kind: filter, config: {field: missing, value: 3}}
hops:
  - {from: read, to: split}
`)
	assert.Equal(t, kettle.StatusFailure, res.Status)
	assert.Contains(t, res.Fault.Error(), `field "missing" not found`)
}

const validateDoc = `
name: validate
operations:
  - {name: good, kind: generate, config: {limit: 6, sequence: id, fields: [{name: name, value: x}]}}
  - {name: bad, kind: generate, config: {limit: 4, sequence: id, fields: [{name: name}]}}
  - {name: check, kind: validate, config: {required: "id,name"}}
  - {name: ok, kind: collect}
`

func TestValidate_ErrorHop(t *testing.T) {
	c := operations.NewCollector(0)
	e := newEngine(t, c, nil)
	res := run(t, e, validateDoc+`
  - {name: rejects, kind: collect}
hops:
  - {from: good, to: check}
  - {from: bad, to: check}
  - {from: check, to: ok}
  - {from: check, to: rejects, kind: error}
`)
	require.Equal(t, kettle.StatusPartial, res.Status)
	assert.Equal(t, int64(4), res.Errors)
	assert.Len(t, c.Rows("ok").Rows, 6)

	rejects := c.Rows("rejects")
	require.Len(t, rejects.Rows, 4)
	for _, r := range rejects.Rows {
		f, _ := r.Get(rejects.Schema, "error_fields")
		assert.Equal(t, "name", f)
		code, _ := r.Get(rejects.Schema, "error_code")
		assert.Equal(t, "REQUIRED", code)
		desc, _ := r.Get(rejects.Schema, "error_description")
		assert.Equal(t, "required fields are null: name", desc)
	}
}

func TestValidate_NoErrorHop(t *testing.T) {
	c := operations.NewCollector(0)
	e := newEngine(t, c, nil)
	res := run(t, e, validateDoc+`
hops:
  - {from: good, to: check}
  - {from: bad, to: check}
  - {from: check, to: ok}
`)
	require.Equal(t, kettle.StatusFailure, res.Status)
	assert.Equal(t, "check", res.Fault.Operation)
	var re *kettle.RowError
	require.ErrorAs(t, res.Fault, &re)
	assert.Equal(t, []string{"name"}, re.Fields)
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := newEngine(t, nil, diagnostic.NewHandler(zap.New(core)))
	res := run(t, e, `
name: log
operations:
  - {name: read, kind: generate, config: {limit: 3, sequence: id}}
  - {name: show, kind: log, config: {level: warn, prefix: row}}
hops:
  - {from: read, to: show}
`)
	require.Equal(t, kettle.StatusSuccess, res.Status)
	rows := logs.FilterMessage("row").All()
	require.Len(t, rows, 3)
	for _, entry := range rows {
		assert.Equal(t, zapcore.WarnLevel, entry.Level)
		assert.Equal(t, "show", entry.ContextMap()["operation"])
	}

	_, err := start(t, e, `{name: log, operations: [{name: show, kind: log, config: {level: loud}}]}`)
	assert.Error(t, err)
}

func TestAbort(t *testing.T) {
	c := operations.NewCollector(0)
	e := newEngine(t, c, nil)
	res := run(t, e, `
name: abort
operations:
  - {name: read, kind: generate, config: {limit: -1, sequence: id}}
  - {name: stop, kind: abort, config: {after: 3, message: too many rows}}
  - {name: out, kind: collect}
hops:
  - {from: read, to: stop}
  - {from: stop, to: out}
`)
	require.Equal(t, kettle.StatusFailure, res.Status)
	assert.Equal(t, "stop", res.Fault.Operation)
	assert.Contains(t, res.Fault.Error(), "too many rows after 3 rows")
	assert.LessOrEqual(t, len(c.Rows("out").Rows), 3)
}

const mappingDoc = `
name: main
operations:
  - {name: read, kind: generate, config: {limit: 4, sequence: id}}
  - {name: lookup, kind: mapping, subPipeline: sub/match}
  - {name: out, kind: collect}
hops:
  - {from: read, to: lookup}
  - {from: lookup, to: out}
subPipelines:
  sub/match:
    name: match
    operations:
      - {name: input, kind: inject, copies: 2}
      - {name: match, kind: filter, config: {field: id, value: 2}}
    hops:
      - {from: input, to: match}
`

func TestMapping(t *testing.T) {
	c := operations.NewCollector(0)
	e := newEngine(t, c, nil)
	res := run(t, e, mappingDoc)
	require.Equal(t, kettle.StatusSuccess, res.Status)
	assert.Equal(t, []int64{2}, ids(t, c.Rows("out")))
	assert.Equal(t, int64(4), res.Operation("lookup").RowsRead)
	assert.Equal(t, int64(1), res.Operation("lookup").RowsWritten)
	assert.Empty(t, e.Runs())
}

func TestMapping_SubPipelineFailure(t *testing.T) {
	e := newEngine(t, nil, nil)
	res := run(t, e, `
name: main
operations:
  - {name: read, kind: generate, config: {limit: 4, sequence: id}}
  - {name: lookup, kind: mapping, subPipeline: sub/abort}
hops:
  - {from: read, to: lookup}
subPipelines:
  sub/abort:
    name: abort
    operations:
      - {name: input, kind: inject}
      - {name: stop, kind: abort}
    hops:
      - {from: input, to: stop}
`)
	require.Equal(t, kettle.StatusFailure, res.Status)
	assert.Equal(t, "lookup", res.Fault.Operation)
	assert.Contains(t, res.Fault.Error(), "sub-pipeline sub/abort failed")
	assert.Contains(t, res.Fault.Error(), "aborted after 0 rows")
}

func TestMapping_MissingSubPipeline(t *testing.T) {
	e := newEngine(t, nil, nil)
	_, err := start(t, e, `{name: main, operations: [{name: lookup, kind: mapping}]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapping requires a sub-pipeline")
}

func TestCollector_Limit(t *testing.T) {
	c := operations.NewCollector(2)
	e := newEngine(t, c, nil)
	res := run(t, e, `
name: collect
operations:
  - {name: read, kind: generate, config: {limit: 10, sequence: id}}
  - {name: out, kind: collect}
hops:
  - {from: read, to: out}
`)
	require.Equal(t, kettle.StatusSuccess, res.Status)
	assert.Len(t, c.Rows("out").Rows, 2)
	assert.Equal(t, int64(10), res.Operation("out").RowsRead)

	c.Reset()
	assert.Empty(t, c.Operations())
}
