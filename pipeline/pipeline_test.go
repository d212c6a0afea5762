package pipeline_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/pentaho/pentaho-kettle-sub148/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(t *testing.T, name string, ops ...string) *pipeline.Pipeline {
	t.Helper()
	p := pipeline.New(name)
	for _, op := range ops {
		_, err := p.AddOperation(pipeline.Operation{Name: op, Kind: "dummy"})
		require.NoError(t, err)
	}
	return p
}

func addHop(t *testing.T, p *pipeline.Pipeline, from, to string, kind pipeline.HopKind) pipeline.HopID {
	t.Helper()
	id, err := p.AddHop(from, to, kind)
	require.NoError(t, err)
	return id
}

func TestPipeline_AddOperation(t *testing.T) {
	p := pipeline.New("test")
	id, err := p.AddOperation(pipeline.Operation{Name: "a", Kind: "dummy"})
	require.NoError(t, err)

	op, ok := p.OperationByID(id)
	require.True(t, ok)
	assert.Equal(t, 1, op.Copies, "copies default to 1")

	_, err = p.AddOperation(pipeline.Operation{Name: "a", Kind: "dummy"})
	var dup *pipeline.DuplicateNameError
	assert.True(t, errors.As(err, &dup))
	assert.True(t, errors.Is(err, pipeline.ErrStructural))

	_, err = p.AddOperation(pipeline.Operation{Name: "b"})
	assert.True(t, errors.Is(err, pipeline.ErrStructural))
	_, err = p.AddOperation(pipeline.Operation{Name: "c", Kind: "dummy", Copies: -1})
	assert.Error(t, err)
}

func TestPipeline_UpdateOperation(t *testing.T) {
	p := newPipeline(t, "test", "a", "b")
	addHop(t, p, "a", "b", pipeline.NormalHop)

	require.NoError(t, p.UpdateOperation("a", pipeline.Operation{Name: "renamed", Copies: 3}))
	op, ok := p.Operation("renamed")
	require.True(t, ok)
	assert.Equal(t, "dummy", op.Kind)
	assert.Equal(t, 3, op.Copies)
	_, ok = p.Operation("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, p.Successors("renamed", true))

	err := p.UpdateOperation("renamed", pipeline.Operation{Name: "b"})
	var dup *pipeline.DuplicateNameError
	assert.True(t, errors.As(err, &dup))
}

func TestPipeline_RemoveOperation(t *testing.T) {
	p := newPipeline(t, "test", "a", "b", "c")
	addHop(t, p, "a", "b", pipeline.NormalHop)
	addHop(t, p, "b", "c", pipeline.NormalHop)

	require.NoError(t, p.RemoveOperation("b"))
	assert.Equal(t, []string{"a", "c"}, p.Operations())
	assert.Empty(t, p.Hops())

	var unknown *pipeline.UnknownOperationError
	assert.True(t, errors.As(p.RemoveOperation("b"), &unknown))
}

func TestPipeline_AddHop_Rejects(t *testing.T) {
	p := newPipeline(t, "test", "a", "b", "c", "d")
	addHop(t, p, "a", "b", pipeline.NormalHop)
	addHop(t, p, "b", "c", pipeline.NormalHop)
	addHop(t, p, "a", "d", pipeline.ErrorHop)

	tests := []struct {
		name     string
		from, to string
		kind     pipeline.HopKind
		target   interface{}
	}{
		{name: "unknown", from: "a", to: "x", target: new(*pipeline.UnknownOperationError)},
		{name: "duplicate", from: "a", to: "b", target: new(*pipeline.DuplicateHopError)},
		{name: "second error hop", from: "a", to: "c", kind: pipeline.ErrorHop, target: new(*pipeline.MultipleErrorHopError)},
		{name: "self loop", from: "c", to: "c", target: new(*pipeline.CycleError)},
		{name: "cycle", from: "c", to: "a", target: new(*pipeline.CycleError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.AddHop(tt.from, tt.to, tt.kind)
			require.Error(t, err)
			assert.True(t, errors.As(err, tt.target), "unexpected error %v", err)
			assert.True(t, errors.Is(err, pipeline.ErrStructural))
		})
	}

	_, err := p.AddHop("c", "a", pipeline.NormalHop)
	var cycle *pipeline.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"c", "a", "b", "c"}, cycle.Path)
}

func TestPipeline_CycleThroughDisabledHop(t *testing.T) {
	p := newPipeline(t, "test", "a", "b")
	ab := addHop(t, p, "a", "b", pipeline.NormalHop)
	require.NoError(t, p.SetHopEnabled(ab, false))
	addHop(t, p, "b", "a", pipeline.NormalHop)

	// Enabling the hop closes the cycle, which compilation rejects.
	require.NoError(t, p.SetHopEnabled(ab, true))
	_, err := pipeline.Compile(p)
	var cycle *pipeline.CycleError
	assert.True(t, errors.As(err, &cycle))
}

func TestPipeline_Navigation(t *testing.T) {
	p := newPipeline(t, "test", "a", "b", "c", "d")
	addHop(t, p, "a", "b", pipeline.NormalHop)
	bc := addHop(t, p, "b", "c", pipeline.NormalHop)
	addHop(t, p, "b", "d", pipeline.ErrorHop)
	require.NoError(t, p.SetHopEnabled(bc, false))

	assert.Equal(t, []string{"c", "d"}, p.Successors("b", false))
	assert.Equal(t, []string{"d"}, p.Successors("b", true))
	assert.Equal(t, []string{"b"}, p.Predecessors("c", false))
	assert.Empty(t, p.Predecessors("c", true))
	assert.Equal(t, []string{"a", "c"}, p.Roots())

	reach, err := p.ReachableFrom("a", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, reach)
	reach, err = p.ReachableFrom("a", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, reach)

	h, ok := p.ErrorHop("b")
	require.True(t, ok)
	to, _ := p.OperationByID(h.To)
	assert.Equal(t, "d", to.Name)

	id, ok := p.FindHop("b", "c")
	require.True(t, ok)
	assert.Equal(t, bc, id)
	require.NoError(t, p.RemoveHop(bc))
	_, ok = p.FindHop("b", "c")
	assert.False(t, ok)
	var unknown *pipeline.UnknownHopError
	assert.True(t, errors.As(p.RemoveHop(bc), &unknown))
}

func TestPipeline_Dot(t *testing.T) {
	p := newPipeline(t, "test", "a", "b", "c")
	ab := addHop(t, p, "a", "b", pipeline.NormalHop)
	addHop(t, p, "a", "c", pipeline.ErrorHop)
	require.NoError(t, p.SetHopEnabled(ab, false))

	dot := string(p.Dot())
	assert.True(t, strings.HasPrefix(dot, `digraph "test" {`))
	assert.Contains(t, dot, `"a" -> "b" [style=dashed];`)
	assert.Contains(t, dot, `"a" -> "c" [color=red];`)
}
