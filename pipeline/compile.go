package pipeline

import (
	"sort"

	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"

	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// NoOperation marks the absence of an operation id, e.g. no error target.
const NoOperation OperationID = -1

// OperationDesc describes an operation of a compiled graph.
type OperationDesc struct {
	ID          OperationID
	Name        string
	Kind        string
	Config      map[string]interface{}
	Copies      int
	SubPipeline string
	ErrorFields models.ErrorFields
	MaxErrors   int64
	// ErrorTarget is the operation receiving failed rows, NoOperation if none.
	ErrorTarget OperationID
}

// HopDesc describes a hop of a compiled graph.
type HopDesc struct {
	ID   HopID
	From OperationID
	To   OperationID
	Kind HopKind
}

// CompiledGraph is the immutable, executable projection of a Pipeline.
// It is safe for concurrent use; accessors return copies.
type CompiledGraph struct {
	name string

	ops   []OperationDesc
	index map[OperationID]int
	hops  []HopDesc

	subs map[string]*CompiledGraph
}

// Compile normalizes p into an executable graph:
//   - disabled hops are dropped,
//   - operations no longer reachable from a root through enabled hops are dropped,
//     together with their hops,
//   - hops are split into normal and error routes,
//   - referenced sub-pipelines are compiled once per logical path.
//
// A root is an operation without any inbound hop in the model that still has
// an enabled hop, or no hop at all. An operation whose inbound hops are all
// disabled is therefore removed, and so is everything reachable only through it.
func Compile(p *Pipeline) (*CompiledGraph, error) {
	c := &compiler{
		done:       make(map[string]*CompiledGraph),
		inProgress: make(map[string]bool),
	}
	return c.compile(p)
}

type compiler struct {
	done       map[string]*CompiledGraph
	inProgress map[string]bool
	stack      []string
}

func (c *compiler) compile(p *Pipeline) (*CompiledGraph, error) {
	if err := p.checkEnabledCycles(); err != nil {
		return nil, errors.Wrapf(err, "pipeline %s", p.name)
	}

	g := &CompiledGraph{
		name:  p.name,
		index: make(map[OperationID]int),
		subs:  make(map[string]*CompiledGraph),
	}

	// Roots are decided on the full model, reachability on enabled hops only.
	hasInbound := make(map[OperationID]bool)
	hasHop := make(map[OperationID]bool)
	hasEnabled := make(map[OperationID]bool)
	for _, h := range p.hops {
		if h == nil {
			continue
		}
		hasInbound[h.To] = true
		hasHop[h.From], hasHop[h.To] = true, true
		if h.Enabled {
			hasEnabled[h.From], hasEnabled[h.To] = true, true
		}
	}
	var roots []OperationID
	for id, op := range p.ops {
		oid := OperationID(id)
		if op == nil || hasInbound[oid] {
			continue
		}
		if hasEnabled[oid] || !hasHop[oid] {
			roots = append(roots, oid)
		}
	}
	keep := p.reach(roots, true)

	for id, op := range p.ops {
		oid := OperationID(id)
		if op == nil || !keep[oid] {
			continue
		}
		cfg, err := copyConfig(op.Config)
		if err != nil {
			return nil, errors.Wrapf(err, "copy configuration of operation %s", op.Name)
		}
		d := OperationDesc{
			ID:          oid,
			Name:        op.Name,
			Kind:        op.Kind,
			Config:      cfg,
			Copies:      op.Copies,
			SubPipeline: op.SubPipeline,
			ErrorTarget: NoOperation,
		}
		if op.ErrorHandling != nil {
			d.ErrorFields = op.ErrorHandling.Fields
			d.MaxErrors = op.ErrorHandling.MaxErrors
		}
		if d.ErrorFields.IsZero() {
			d.ErrorFields = models.DefaultErrorFields
		}
		g.index[oid] = len(g.ops)
		g.ops = append(g.ops, d)
	}

	for _, h := range p.hops {
		if h == nil || !h.Enabled || !keep[h.From] || !keep[h.To] {
			continue
		}
		g.hops = append(g.hops, HopDesc{
			ID:   h.ID,
			From: h.From,
			To:   h.To,
			Kind: h.Kind,
		})
		if h.Kind == ErrorHop {
			g.ops[g.index[h.From]].ErrorTarget = h.To
		}
	}

	for _, d := range g.ops {
		if d.SubPipeline == "" {
			continue
		}
		if _, ok := p.refs[d.SubPipeline]; !ok {
			return nil, &UnknownReferenceError{Operation: d.Name, Path: d.SubPipeline}
		}
	}

	paths := make([]string, 0, len(p.refs))
	for path := range p.refs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		sub, err := c.compileRef(path, p.refs[path])
		if err != nil {
			return nil, err
		}
		g.subs[path] = sub
	}
	return g, nil
}

func (c *compiler) compileRef(path string, p *Pipeline) (*CompiledGraph, error) {
	if g, ok := c.done[path]; ok {
		return g, nil
	}
	if c.inProgress[path] {
		cycle := append(append([]string(nil), c.stack...), path)
		return nil, &CycleError{Path: cycle}
	}
	c.inProgress[path] = true
	c.stack = append(c.stack, path)
	g, err := c.compile(p)
	c.stack = c.stack[:len(c.stack)-1]
	delete(c.inProgress, path)
	if err != nil {
		return nil, errors.Wrapf(err, "sub-pipeline %s", path)
	}
	c.done[path] = g
	return g, nil
}

// checkEnabledCycles runs a depth first search over the enabled hops.
func (p *Pipeline) checkEnabledCycles() error {
	adj := p.adjacency(true)
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[OperationID]int)
	var stack []OperationID
	var visit func(n OperationID) error
	visit = func(n OperationID) error {
		state[n] = visiting
		stack = append(stack, n)
		for _, c := range adj[n] {
			switch state[c] {
			case visiting:
				var path []string
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == c {
						for _, id := range stack[i:] {
							path = append(path, p.ops[id].Name)
						}
						break
					}
				}
				return &CycleError{Path: append(path, p.ops[c].Name)}
			case unvisited:
				if err := visit(c); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = visited
		return nil
	}
	for id, op := range p.ops {
		if op == nil || state[OperationID(id)] != unvisited {
			continue
		}
		if err := visit(OperationID(id)); err != nil {
			return err
		}
	}
	return nil
}

func copyConfig(cfg map[string]interface{}) (map[string]interface{}, error) {
	if cfg == nil {
		return nil, nil
	}
	c, err := copystructure.Copy(cfg)
	if err != nil {
		return nil, err
	}
	return c.(map[string]interface{}), nil
}

func mustCopyConfig(cfg map[string]interface{}) map[string]interface{} {
	c, err := copyConfig(cfg)
	if err != nil {
		// Configurations were copied successfully once during compilation.
		panic(err)
	}
	return c
}

func (d OperationDesc) clone() OperationDesc {
	d.Config = mustCopyConfig(d.Config)
	return d
}

// Name of the compiled pipeline.
func (g *CompiledGraph) Name() string {
	return g.name
}

// Len returns the number of operations.
func (g *CompiledGraph) Len() int {
	return len(g.ops)
}

// Operations returns the operation descriptors in model order.
func (g *CompiledGraph) Operations() []OperationDesc {
	ops := make([]OperationDesc, len(g.ops))
	for i, d := range g.ops {
		ops[i] = d.clone()
	}
	return ops
}

// Operation returns the descriptor of the operation id.
func (g *CompiledGraph) Operation(id OperationID) (OperationDesc, bool) {
	i, ok := g.index[id]
	if !ok {
		return OperationDesc{}, false
	}
	return g.ops[i].clone(), true
}

// OperationByName returns the descriptor of the named operation.
func (g *CompiledGraph) OperationByName(name string) (OperationDesc, bool) {
	for _, d := range g.ops {
		if d.Name == name {
			return d.clone(), true
		}
	}
	return OperationDesc{}, false
}

// Hops returns every hop in model order.
func (g *CompiledGraph) Hops() []HopDesc {
	return append([]HopDesc(nil), g.hops...)
}

// NormalHops returns the hops carrying regular output.
func (g *CompiledGraph) NormalHops() []HopDesc {
	return g.hopsOfKind(NormalHop)
}

// ErrorHops returns the hops carrying failed rows.
func (g *CompiledGraph) ErrorHops() []HopDesc {
	return g.hopsOfKind(ErrorHop)
}

func (g *CompiledGraph) hopsOfKind(k HopKind) []HopDesc {
	var hops []HopDesc
	for _, h := range g.hops {
		if h.Kind == k {
			hops = append(hops, h)
		}
	}
	return hops
}

// Inbound returns the hops ending at id.
func (g *CompiledGraph) Inbound(id OperationID) []HopDesc {
	var hops []HopDesc
	for _, h := range g.hops {
		if h.To == id {
			hops = append(hops, h)
		}
	}
	return hops
}

// Outbound returns the hops starting at id.
func (g *CompiledGraph) Outbound(id OperationID) []HopDesc {
	var hops []HopDesc
	for _, h := range g.hops {
		if h.From == id {
			hops = append(hops, h)
		}
	}
	return hops
}

// ErrorTarget returns the operation receiving the failed rows of id.
func (g *CompiledGraph) ErrorTarget(id OperationID) (OperationID, bool) {
	i, ok := g.index[id]
	if !ok || g.ops[i].ErrorTarget == NoOperation {
		return NoOperation, false
	}
	return g.ops[i].ErrorTarget, true
}

// SubPipeline returns the compiled sub-pipeline referenced by path.
func (g *CompiledGraph) SubPipeline(path string) (*CompiledGraph, bool) {
	s, ok := g.subs[path]
	return s, ok
}

// SubPipelines returns the logical paths of the referenced sub-pipelines, sorted.
func (g *CompiledGraph) SubPipelines() []string {
	paths := make([]string, 0, len(g.subs))
	for p := range g.subs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
