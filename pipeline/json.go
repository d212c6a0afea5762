package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// Exchange is the serialization format of a CompiledGraph, used to hand a
// compiled graph to an external engine or back to this one.
// Operations and hops keep model order; configuration maps encode with sorted keys.
type Exchange struct {
	Name         string               `json:"name"`
	Operations   []ExchangeOperation  `json:"operations"`
	Hops         []ExchangeHop        `json:"hops"`
	SubPipelines map[string]*Exchange `json:"subPipelines,omitempty"`
}

// ExchangeOperation is one operation of the exchange form.
type ExchangeOperation struct {
	ID          OperationID            `json:"id"`
	Name        string                 `json:"name"`
	Kind        string                 `json:"kind"`
	Copies      int                    `json:"copies"`
	Config      map[string]interface{} `json:"config,omitempty"`
	SubPipeline string                 `json:"subPipeline,omitempty"`
	ErrorTarget *OperationID           `json:"errorTarget,omitempty"`
	ErrorFields *models.ErrorFields    `json:"errorFields,omitempty"`
	MaxErrors   int64                  `json:"maxErrors,omitempty"`
}

// ExchangeHop is one hop of the exchange form.
type ExchangeHop struct {
	ID   HopID       `json:"id"`
	From OperationID `json:"fromId"`
	To   OperationID `json:"toId"`
	Kind HopKind     `json:"kind"`
}

// Exchange returns the exchange form of the graph.
func (g *CompiledGraph) Exchange() *Exchange {
	x := &Exchange{
		Name:       g.name,
		Operations: make([]ExchangeOperation, 0, len(g.ops)),
		Hops:       make([]ExchangeHop, 0, len(g.hops)),
	}
	for _, d := range g.ops {
		d = d.clone()
		o := ExchangeOperation{
			ID:          d.ID,
			Name:        d.Name,
			Kind:        d.Kind,
			Copies:      d.Copies,
			Config:      d.Config,
			SubPipeline: d.SubPipeline,
			MaxErrors:   d.MaxErrors,
		}
		if d.ErrorTarget != NoOperation {
			t := d.ErrorTarget
			o.ErrorTarget = &t
		}
		if d.ErrorFields != models.DefaultErrorFields {
			ef := d.ErrorFields
			o.ErrorFields = &ef
		}
		x.Operations = append(x.Operations, o)
	}
	for _, h := range g.hops {
		x.Hops = append(x.Hops, ExchangeHop(h))
	}
	if len(g.subs) > 0 {
		x.SubPipelines = make(map[string]*Exchange, len(g.subs))
		for path, s := range g.subs {
			x.SubPipelines[path] = s.Exchange()
		}
	}
	return x
}

// MarshalJSON encodes the exchange form of the graph.
func (g *CompiledGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Exchange())
}

// YAML encodes the exchange form of the graph as YAML.
func (g *CompiledGraph) YAML() ([]byte, error) {
	return yaml.Marshal(g.Exchange())
}

// ParseExchange decodes a JSON or YAML exchange document into a CompiledGraph.
func ParseExchange(data []byte) (*CompiledGraph, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid exchange document")
	}
	x := new(Exchange)
	if err := json.Unmarshal(js, x); err != nil {
		return nil, errors.Wrap(err, "invalid exchange document")
	}
	return x.Graph()
}

// Graph rebuilds the compiled graph described by x.
func (x *Exchange) Graph() (*CompiledGraph, error) {
	g := &CompiledGraph{
		name:  x.Name,
		index: make(map[OperationID]int, len(x.Operations)),
		subs:  make(map[string]*CompiledGraph, len(x.SubPipelines)),
	}
	names := make(map[string]bool, len(x.Operations))
	for _, o := range x.Operations {
		if _, ok := g.index[o.ID]; ok {
			return nil, &InvalidOperationError{Name: o.Name, Reason: fmt.Sprintf("duplicate id %d", o.ID)}
		}
		if names[o.Name] {
			return nil, &DuplicateNameError{Name: o.Name}
		}
		if o.Kind == "" {
			return nil, &InvalidOperationError{Name: o.Name, Reason: "kind must not be empty"}
		}
		names[o.Name] = true
		cfg, err := copyConfig(o.Config)
		if err != nil {
			return nil, errors.Wrapf(err, "copy configuration of operation %s", o.Name)
		}
		d := OperationDesc{
			ID:          o.ID,
			Name:        o.Name,
			Kind:        o.Kind,
			Config:      cfg,
			Copies:      o.Copies,
			SubPipeline: o.SubPipeline,
			ErrorFields: models.DefaultErrorFields,
			MaxErrors:   o.MaxErrors,
			ErrorTarget: NoOperation,
		}
		if d.Copies == 0 {
			d.Copies = 1
		}
		if d.Copies < 0 {
			return nil, &InvalidOperationError{Name: o.Name, Reason: fmt.Sprintf("copies must be >= 1, got %d", o.Copies)}
		}
		if o.ErrorFields != nil {
			d.ErrorFields = *o.ErrorFields
		}
		g.index[o.ID] = len(g.ops)
		g.ops = append(g.ops, d)
	}

	adj := make(map[OperationID][]OperationID)
	for _, h := range x.Hops {
		from, ok := g.index[h.From]
		if !ok {
			return nil, &UnknownOperationError{Name: fmt.Sprintf("#%d", h.From)}
		}
		if _, ok := g.index[h.To]; !ok {
			return nil, &UnknownOperationError{Name: fmt.Sprintf("#%d", h.To)}
		}
		if h.Kind == ErrorHop {
			if t := g.ops[from].ErrorTarget; t != NoOperation {
				return nil, &MultipleErrorHopError{From: g.ops[from].Name, Existing: g.ops[g.index[t]].Name}
			}
			g.ops[from].ErrorTarget = h.To
		}
		adj[h.From] = append(adj[h.From], h.To)
		g.hops = append(g.hops, HopDesc(h))
	}
	for _, o := range x.Operations {
		d := g.ops[g.index[o.ID]]
		if o.ErrorTarget != nil && *o.ErrorTarget != d.ErrorTarget {
			return nil, &InvalidOperationError{Name: o.Name, Reason: "error target does not match its error hop"}
		}
	}
	if err := g.checkCycles(adj); err != nil {
		return nil, err
	}

	for path, sx := range x.SubPipelines {
		s, err := sx.Graph()
		if err != nil {
			return nil, errors.Wrapf(err, "sub-pipeline %s", path)
		}
		g.subs[path] = s
	}
	for _, d := range g.ops {
		if d.SubPipeline == "" {
			continue
		}
		if _, ok := g.subs[d.SubPipeline]; !ok {
			return nil, &UnknownReferenceError{Operation: d.Name, Path: d.SubPipeline}
		}
	}
	return g, nil
}

// checkCycles uses Kahn's algorithm; any operation left over sits on a cycle.
func (g *CompiledGraph) checkCycles(adj map[OperationID][]OperationID) error {
	indegree := make(map[OperationID]int, len(g.ops))
	for _, children := range adj {
		for _, c := range children {
			indegree[c]++
		}
	}
	var queue []OperationID
	for _, d := range g.ops {
		if indegree[d.ID] == 0 {
			queue = append(queue, d.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, c := range adj[n] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if visited == len(g.ops) {
		return nil
	}
	var path []string
	for _, d := range g.ops {
		if indegree[d.ID] > 0 {
			path = append(path, d.Name)
		}
	}
	return &CycleError{Path: path}
}
