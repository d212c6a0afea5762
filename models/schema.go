package models

import (
	"fmt"
	"strings"
)

// Field describes a single column of a row.
type Field struct {
	Name string    `json:"name"`
	Type ValueType `json:"type"`
	// Origin is the name of the operation that introduced the field.
	Origin string `json:"origin,omitempty"`
}

// Schema is the ordered static description of the rows travelling along a hop.
// A Schema is never modified after it has been attached to emitted rows;
// the mutating helpers return new schemas.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema creates a schema from the given fields.
// Field names must be unique.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)
	for i, f := range s.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has no name", i)
		}
		if _, ok := s.index[f.Name]; ok {
			return nil, fmt.Errorf("duplicate field name %q", f.Name)
		}
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// Field returns the i-th field.
func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

// Fields returns a copy of the fields.
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	f := make([]Field, len(s.fields))
	copy(f, s.fields)
	return f
}

// Index returns the position of the named field or -1.
func (s *Schema) Index(name string) int {
	if s == nil {
		return -1
	}
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Append returns a new schema with the fields added at the end.
func (s *Schema) Append(fields ...Field) (*Schema, error) {
	return NewSchema(append(s.Fields(), fields...)...)
}

// Compatible reports whether rows described by o can be consumed as rows
// described by s: same field count, order, names and types.
func (s *Schema) Compatible(o *Schema) error {
	if s.Len() != o.Len() {
		return fmt.Errorf("schema mismatch: %d fields vs %d fields", s.Len(), o.Len())
	}
	for i := range s.fields {
		a, b := s.fields[i], o.fields[i]
		if a.Name != b.Name || a.Type != b.Type {
			return fmt.Errorf("schema mismatch at field %d: %s(%s) vs %s(%s)", i, a.Name, a.Type, b.Name, b.Type)
		}
	}
	return nil
}

// Validate checks a row against the schema.
func (s *Schema) Validate(r Row) error {
	if r.Len() != s.Len() {
		return fmt.Errorf("row has %d values, schema has %d fields", r.Len(), s.Len())
	}
	for i, f := range s.fields {
		if err := f.Type.Check(r.values[i]); err != nil {
			return fmt.Errorf("field %q: %v", f.Name, err)
		}
	}
	return nil
}

func (s *Schema) String() string {
	if s == nil {
		return "[]"
	}
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
