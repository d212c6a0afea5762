package pipeline

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// OperationID identifies an operation within one Pipeline.
// IDs are assigned in insertion order and never reused.
type OperationID int

// HopID identifies a hop within one Pipeline.
type HopID int

// HopKind distinguishes hops carrying regular output from hops carrying failed rows.
type HopKind int

const (
	NormalHop HopKind = iota
	ErrorHop
)

func (k HopKind) String() string {
	switch k {
	case NormalHop:
		return "normal"
	case ErrorHop:
		return "error"
	default:
		return "unknown"
	}
}

// ParseHopKind parses the textual form of a hop kind.
func ParseHopKind(s string) (HopKind, error) {
	switch s {
	case "", "normal":
		return NormalHop, nil
	case "error":
		return ErrorHop, nil
	}
	return NormalHop, fmt.Errorf("unknown hop kind %q", s)
}

func (k HopKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *HopKind) UnmarshalText(text []byte) error {
	v, err := ParseHopKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Operation is a named processing node of a pipeline.
type Operation struct {
	// Name is unique within the pipeline.
	Name string
	// Kind selects the implementation from the operation registry.
	Kind string
	// Config is the kind specific configuration payload.
	Config map[string]interface{}
	// Copies is the number of parallel instances, defaults to 1.
	Copies int
	// SubPipeline is the logical path of a referenced pipeline, if any.
	SubPipeline string
	// ErrorHandling configures how failed rows are described on the error hop.
	ErrorHandling *ErrorHandling
}

// ErrorHandling holds the error routing attributes of an operation.
type ErrorHandling struct {
	// Fields names the metadata fields appended to failed rows.
	Fields models.ErrorFields
	// MaxErrors is the number of routed errors after which the operation
	// fails the run. Zero means unlimited.
	MaxErrors int64
}

// Hop is a directed link between two operations.
type Hop struct {
	ID      HopID
	From    OperationID
	To      OperationID
	Enabled bool
	Kind    HopKind
}

// Pipeline is the mutable design time graph of one named pipeline.
// Operations and hops live in arenas indexed by id; navigation always
// goes through the Pipeline. A Pipeline is not safe for concurrent mutation.
type Pipeline struct {
	name string

	ops    []*Operation
	byName map[string]OperationID
	hops   []*Hop

	refs map[string]*Pipeline
}

// New creates an empty pipeline.
func New(name string) *Pipeline {
	return &Pipeline{
		name:   name,
		byName: make(map[string]OperationID),
		refs:   make(map[string]*Pipeline),
	}
}

// Name of the pipeline.
func (p *Pipeline) Name() string {
	return p.name
}

// Len returns the number of operations in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.byName)
}

// AddOperation adds op to the pipeline.
func (p *Pipeline) AddOperation(op Operation) (OperationID, error) {
	if op.Name == "" {
		return 0, &InvalidOperationError{Name: op.Name, Reason: "name must not be empty"}
	}
	if op.Kind == "" {
		return 0, &InvalidOperationError{Name: op.Name, Reason: "kind must not be empty"}
	}
	if op.Copies == 0 {
		op.Copies = 1
	}
	if op.Copies < 0 {
		return 0, &InvalidOperationError{Name: op.Name, Reason: fmt.Sprintf("copies must be >= 1, got %d", op.Copies)}
	}
	if _, ok := p.byName[op.Name]; ok {
		return 0, &DuplicateNameError{Name: op.Name}
	}
	id := OperationID(len(p.ops))
	p.ops = append(p.ops, &op)
	p.byName[op.Name] = id
	return id, nil
}

// UpdateOperation replaces the definition of the named operation.
// The operation may be renamed as long as the new name is free.
func (p *Pipeline) UpdateOperation(name string, op Operation) error {
	id, ok := p.byName[name]
	if !ok {
		return &UnknownOperationError{Name: name}
	}
	if op.Name == "" {
		op.Name = name
	}
	if op.Kind == "" {
		op.Kind = p.ops[id].Kind
	}
	if op.Copies == 0 {
		op.Copies = 1
	}
	if op.Copies < 0 {
		return &InvalidOperationError{Name: op.Name, Reason: fmt.Sprintf("copies must be >= 1, got %d", op.Copies)}
	}
	if op.Name != name {
		if _, taken := p.byName[op.Name]; taken {
			return &DuplicateNameError{Name: op.Name}
		}
		delete(p.byName, name)
		p.byName[op.Name] = id
	}
	p.ops[id] = &op
	return nil
}

// RemoveOperation removes the operation and every hop touching it.
func (p *Pipeline) RemoveOperation(name string) error {
	id, ok := p.byName[name]
	if !ok {
		return &UnknownOperationError{Name: name}
	}
	for i, h := range p.hops {
		if h != nil && (h.From == id || h.To == id) {
			p.hops[i] = nil
		}
	}
	p.ops[id] = nil
	delete(p.byName, name)
	return nil
}

// Operation returns a copy of the named operation.
func (p *Pipeline) Operation(name string) (Operation, bool) {
	id, ok := p.byName[name]
	if !ok {
		return Operation{}, false
	}
	return *p.ops[id], true
}

// OperationID returns the id of the named operation.
func (p *Pipeline) OperationID(name string) (OperationID, bool) {
	id, ok := p.byName[name]
	return id, ok
}

// OperationByID returns a copy of the operation with the given id.
func (p *Pipeline) OperationByID(id OperationID) (Operation, bool) {
	if id < 0 || int(id) >= len(p.ops) || p.ops[id] == nil {
		return Operation{}, false
	}
	return *p.ops[id], true
}

// Operations returns the names of all operations in insertion order.
func (p *Pipeline) Operations() []string {
	names := make([]string, 0, len(p.byName))
	for _, op := range p.ops {
		if op != nil {
			names = append(names, op.Name)
		}
	}
	return names
}

// AddHop links two operations. New hops are enabled.
func (p *Pipeline) AddHop(from, to string, kind HopKind) (HopID, error) {
	return p.addHop(from, to, kind, true)
}

// addHop links two operations. The cycle check only applies to enabled hops.
func (p *Pipeline) addHop(from, to string, kind HopKind, enabled bool) (HopID, error) {
	fid, ok := p.byName[from]
	if !ok {
		return 0, &UnknownOperationError{Name: from}
	}
	tid, ok := p.byName[to]
	if !ok {
		return 0, &UnknownOperationError{Name: to}
	}
	for _, h := range p.hops {
		if h == nil || h.From != fid {
			continue
		}
		if h.To == tid {
			return 0, &DuplicateHopError{From: from, To: to}
		}
		if kind == ErrorHop && h.Kind == ErrorHop {
			return 0, &MultipleErrorHopError{From: from, Existing: p.ops[h.To].Name}
		}
	}
	if fid == tid {
		return 0, &CycleError{Path: []string{from, to}}
	}
	if enabled {
		if path := p.pathBetween(tid, fid, true); path != nil {
			names := []string{from, to}
			for _, id := range path {
				names = append(names, p.ops[id].Name)
			}
			return 0, &CycleError{Path: names}
		}
	}
	id := HopID(len(p.hops))
	p.hops = append(p.hops, &Hop{
		ID:      id,
		From:    fid,
		To:      tid,
		Enabled: enabled,
		Kind:    kind,
	})
	return id, nil
}

// SetHopEnabled enables or disables a hop.
// No structural validation happens here: a cycle closed by enabling a hop is
// reported when the pipeline is compiled.
func (p *Pipeline) SetHopEnabled(id HopID, enabled bool) error {
	h, err := p.hop(id)
	if err != nil {
		return err
	}
	h.Enabled = enabled
	return nil
}

// RemoveHop deletes a hop.
func (p *Pipeline) RemoveHop(id HopID) error {
	if _, err := p.hop(id); err != nil {
		return err
	}
	p.hops[id] = nil
	return nil
}

// Hop returns a copy of the hop.
func (p *Pipeline) Hop(id HopID) (Hop, bool) {
	h, err := p.hop(id)
	if err != nil {
		return Hop{}, false
	}
	return *h, true
}

// FindHop returns the id of the hop from -> to.
func (p *Pipeline) FindHop(from, to string) (HopID, bool) {
	fid, ok1 := p.byName[from]
	tid, ok2 := p.byName[to]
	if !ok1 || !ok2 {
		return 0, false
	}
	for _, h := range p.hops {
		if h != nil && h.From == fid && h.To == tid {
			return h.ID, true
		}
	}
	return 0, false
}

func (p *Pipeline) hop(id HopID) (*Hop, error) {
	if id < 0 || int(id) >= len(p.hops) || p.hops[id] == nil {
		return nil, &UnknownHopError{ID: id}
	}
	return p.hops[id], nil
}

// Hops returns copies of all hops in insertion order.
func (p *Pipeline) Hops() []Hop {
	hops := make([]Hop, 0, len(p.hops))
	for _, h := range p.hops {
		if h != nil {
			hops = append(hops, *h)
		}
	}
	return hops
}

// ErrorHop returns the error hop originating at the named operation.
func (p *Pipeline) ErrorHop(name string) (Hop, bool) {
	id, ok := p.byName[name]
	if !ok {
		return Hop{}, false
	}
	for _, h := range p.hops {
		if h != nil && h.From == id && h.Kind == ErrorHop {
			return *h, true
		}
	}
	return Hop{}, false
}

// Successors returns the names of the operations the named operation links to.
func (p *Pipeline) Successors(name string, enabledOnly bool) []string {
	id, ok := p.byName[name]
	if !ok {
		return nil
	}
	var names []string
	for _, h := range p.hops {
		if h != nil && h.From == id && (h.Enabled || !enabledOnly) {
			names = append(names, p.ops[h.To].Name)
		}
	}
	return names
}

// Predecessors returns the names of the operations linking to the named operation.
func (p *Pipeline) Predecessors(name string, enabledOnly bool) []string {
	id, ok := p.byName[name]
	if !ok {
		return nil
	}
	var names []string
	for _, h := range p.hops {
		if h != nil && h.To == id && (h.Enabled || !enabledOnly) {
			names = append(names, p.ops[h.From].Name)
		}
	}
	return names
}

// Roots returns the operations without an enabled inbound hop.
func (p *Pipeline) Roots() []string {
	inbound := make(map[OperationID]bool)
	for _, h := range p.hops {
		if h != nil && h.Enabled {
			inbound[h.To] = true
		}
	}
	var roots []string
	for id, op := range p.ops {
		if op != nil && !inbound[OperationID(id)] {
			roots = append(roots, op.Name)
		}
	}
	return roots
}

// ReachableFrom returns the operations reachable from the named operation
// by following hops of either kind, optionally only enabled ones.
// The start operation itself is not part of the result.
func (p *Pipeline) ReachableFrom(name string, enabledOnly bool) ([]string, error) {
	id, ok := p.byName[name]
	if !ok {
		return nil, &UnknownOperationError{Name: name}
	}
	seen := p.reach([]OperationID{id}, enabledOnly)
	delete(seen, id)
	ids := make([]int, 0, len(seen))
	for r := range seen {
		ids = append(ids, int(r))
	}
	sort.Ints(ids)
	names := make([]string, len(ids))
	for i, r := range ids {
		names[i] = p.ops[r].Name
	}
	return names, nil
}

func (p *Pipeline) adjacency(enabledOnly bool) map[OperationID][]OperationID {
	adj := make(map[OperationID][]OperationID)
	for _, h := range p.hops {
		if h != nil && (h.Enabled || !enabledOnly) {
			adj[h.From] = append(adj[h.From], h.To)
		}
	}
	return adj
}

// reach returns the set of operations reachable from starts, starts included.
func (p *Pipeline) reach(starts []OperationID, enabledOnly bool) map[OperationID]bool {
	adj := p.adjacency(enabledOnly)
	seen := make(map[OperationID]bool)
	stack := append([]OperationID(nil), starts...)
	for _, s := range starts {
		seen[s] = true
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range adj[n] {
			if !seen[c] {
				seen[c] = true
				stack = append(stack, c)
			}
		}
	}
	return seen
}

// pathBetween returns the ids along a path from -> to, from excluded, or nil.
func (p *Pipeline) pathBetween(from, to OperationID, enabledOnly bool) []OperationID {
	adj := p.adjacency(enabledOnly)
	parent := map[OperationID]OperationID{from: from}
	queue := []OperationID{from}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == to {
			var path []OperationID
			for c := to; c != from; c = parent[c] {
				path = append([]OperationID{c}, path...)
			}
			return path
		}
		for _, c := range adj[n] {
			if _, ok := parent[c]; !ok {
				parent[c] = n
				queue = append(queue, c)
			}
		}
	}
	return nil
}

// Reference registers a nested pipeline under a logical path.
func (p *Pipeline) Reference(path string, sub *Pipeline) {
	p.refs[path] = sub
}

// References returns the referenced pipelines keyed by logical path.
func (p *Pipeline) References() map[string]*Pipeline {
	refs := make(map[string]*Pipeline, len(p.refs))
	for k, v := range p.refs {
		refs[k] = v
	}
	return refs
}

// Dot returns a graphviz .dot formatted byte array.
// Disabled hops are dashed, error hops red.
func (p *Pipeline) Dot() []byte {
	var buf bytes.Buffer

	buf.WriteString("digraph ")
	buf.WriteString(fmt.Sprintf("%q", p.name))
	buf.WriteString(" {\n")
	for _, op := range p.ops {
		if op != nil {
			buf.WriteString(fmt.Sprintf("%q [label=\"%s (%s) x%d\"];\n", op.Name, op.Name, op.Kind, op.Copies))
		}
	}
	for _, h := range p.hops {
		if h == nil {
			continue
		}
		var attrs []string
		if !h.Enabled {
			attrs = append(attrs, "style=dashed")
		}
		if h.Kind == ErrorHop {
			attrs = append(attrs, "color=red")
		}
		buf.WriteString(fmt.Sprintf("%q -> %q", p.ops[h.From].Name, p.ops[h.To].Name))
		if len(attrs) > 0 {
			buf.WriteString(" [")
			for i, a := range attrs {
				if i > 0 {
					buf.WriteString(",")
				}
				buf.WriteString(a)
			}
			buf.WriteString("]")
		}
		buf.WriteString(";\n")
	}
	buf.WriteString("}")
	return buf.Bytes()
}
