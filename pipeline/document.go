package pipeline

import (
	"io"
	"io/ioutil"
	"sort"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// Document is the authored form of a pipeline, as written by an editor.
// It decodes from YAML or JSON.
//
//	name: orders
//	operations:
//	  - name: read
//	    kind: generate
//	    config: {limit: 10, sequence: id}
//	  - name: check
//	    kind: validate
//	    maxErrors: 5
//	  - name: rejects
//	    kind: collect
//	hops:
//	  - {from: read, to: check}
//	  - {from: check, to: rejects, kind: error}
type Document struct {
	Name         string               `json:"name"`
	Operations   []DocumentOperation  `json:"operations"`
	Hops         []DocumentHop        `json:"hops,omitempty"`
	SubPipelines map[string]*Document `json:"subPipelines,omitempty"`
}

// DocumentOperation is an operation of a Document.
type DocumentOperation struct {
	Name        string                 `json:"name"`
	Kind        string                 `json:"kind"`
	Copies      int                    `json:"copies,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	SubPipeline string                 `json:"subPipeline,omitempty"`
	ErrorFields *models.ErrorFields    `json:"errorFields,omitempty"`
	MaxErrors   int64                  `json:"maxErrors,omitempty"`
}

// DocumentHop is a hop of a Document. Hops are enabled unless stated otherwise.
type DocumentHop struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Kind    HopKind `json:"kind,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// ParseDocument decodes a YAML or JSON document into a Pipeline.
func ParseDocument(data []byte) (*Pipeline, error) {
	doc := new(Document)
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline document")
	}
	return doc.Pipeline()
}

// ReadDocument reads and decodes a document from r.
func ReadDocument(r io.Reader) (*Pipeline, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseDocument(data)
}

// Pipeline builds the graph model described by the document.
// Disabled hops are added after the enabled ones so that a cycle through a
// disabled hop does not prevent loading.
func (d *Document) Pipeline() (*Pipeline, error) {
	p := New(d.Name)
	for _, o := range d.Operations {
		op := Operation{
			Name:        o.Name,
			Kind:        o.Kind,
			Config:      o.Config,
			Copies:      o.Copies,
			SubPipeline: o.SubPipeline,
		}
		if o.ErrorFields != nil || o.MaxErrors != 0 {
			op.ErrorHandling = &ErrorHandling{MaxErrors: o.MaxErrors}
			if o.ErrorFields != nil {
				op.ErrorHandling.Fields = *o.ErrorFields
			}
		}
		if _, err := p.AddOperation(op); err != nil {
			return nil, err
		}
	}
	for _, pass := range []bool{true, false} {
		for _, h := range d.Hops {
			enabled := h.Enabled == nil || *h.Enabled
			if enabled != pass {
				continue
			}
			if _, err := p.addHop(h.From, h.To, h.Kind, enabled); err != nil {
				return nil, err
			}
		}
	}
	paths := make([]string, 0, len(d.SubPipelines))
	for path := range d.SubPipelines {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		sub, err := d.SubPipelines[path].Pipeline()
		if err != nil {
			return nil, errors.Wrapf(err, "sub-pipeline %s", path)
		}
		p.Reference(path, sub)
	}
	return p, nil
}

// Document returns the authored form of p.
func (p *Pipeline) Document() *Document {
	d := &Document{Name: p.name}
	for _, op := range p.ops {
		if op == nil {
			continue
		}
		o := DocumentOperation{
			Name:        op.Name,
			Kind:        op.Kind,
			Copies:      op.Copies,
			Config:      op.Config,
			SubPipeline: op.SubPipeline,
		}
		if eh := op.ErrorHandling; eh != nil {
			o.MaxErrors = eh.MaxErrors
			if !eh.Fields.IsZero() {
				ef := eh.Fields
				o.ErrorFields = &ef
			}
		}
		d.Operations = append(d.Operations, o)
	}
	for _, h := range p.hops {
		if h == nil {
			continue
		}
		dh := DocumentHop{
			From: p.ops[h.From].Name,
			To:   p.ops[h.To].Name,
			Kind: h.Kind,
		}
		if !h.Enabled {
			disabled := false
			dh.Enabled = &disabled
		}
		d.Hops = append(d.Hops, dh)
	}
	if len(p.refs) > 0 {
		d.SubPipelines = make(map[string]*Document, len(p.refs))
		for path, sub := range p.refs {
			d.SubPipelines[path] = sub.Document()
		}
	}
	return d
}

// MarshalYAMLDocument encodes the authored form of p as YAML.
func (p *Pipeline) MarshalYAMLDocument() ([]byte, error) {
	return yaml.Marshal(p.Document())
}
