package models

import (
	"fmt"
	"strings"
)

// Row is an ordered sequence of field values.
// Rows are immutable: the constructor copies its input and accessors never
// expose the backing slice.
type Row struct {
	values []interface{}
}

// NewRow creates a row holding a copy of values.
func NewRow(values ...interface{}) Row {
	v := make([]interface{}, len(values))
	copy(v, values)
	return Row{values: v}
}

// Len returns the number of values.
func (r Row) Len() int {
	return len(r.values)
}

// Value returns the i-th value, nil for null.
func (r Row) Value(i int) interface{} {
	return r.values[i]
}

// Values returns a copy of the row values.
func (r Row) Values() []interface{} {
	v := make([]interface{}, len(r.values))
	copy(v, r.values)
	return v
}

// With returns a new row where the i-th value is replaced.
func (r Row) With(i int, v interface{}) Row {
	n := r.Values()
	n[i] = v
	return Row{values: n}
}

// Append returns a new row extended with values.
func (r Row) Append(values ...interface{}) Row {
	n := make([]interface{}, 0, len(r.values)+len(values))
	n = append(n, r.values...)
	n = append(n, values...)
	return Row{values: n}
}

// Get returns the value of the named field using schema s.
func (r Row) Get(s *Schema, name string) (interface{}, bool) {
	i := s.Index(name)
	if i < 0 || i >= len(r.values) {
		return nil, false
	}
	return r.values[i], true
}

func (r Row) String() string {
	parts := make([]string, len(r.values))
	for i, v := range r.values {
		if v == nil {
			parts[i] = "<null>"
			continue
		}
		parts[i] = fmt.Sprint(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Batch is an ordered group of rows sharing one schema.
type Batch struct {
	Schema *Schema
	Rows   []Row
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	return len(b.Rows)
}
