package models

import "strings"

// ErrorInfo is the metadata attached to a row that failed processing.
type ErrorInfo struct {
	Operation   string   `json:"operation"`
	Copy        int      `json:"copy"`
	Count       int64    `json:"count"`
	Description string   `json:"description"`
	Fields      []string `json:"fields,omitempty"`
	Code        string   `json:"code,omitempty"`
}

// ErrorFields names the fields appended to rows delivered along an error hop.
// An empty name omits that field.
type ErrorFields struct {
	Count       string `json:"count,omitempty" mapstructure:"count"`
	Description string `json:"description,omitempty" mapstructure:"description"`
	Fields      string `json:"fields,omitempty" mapstructure:"fields"`
	Code        string `json:"code,omitempty" mapstructure:"code"`
}

// DefaultErrorFields is used when an operation does not name its error fields.
var DefaultErrorFields = ErrorFields{
	Count:       "error_count",
	Description: "error_description",
	Fields:      "error_fields",
	Code:        "error_code",
}

// IsZero reports whether no error field is named.
func (ef ErrorFields) IsZero() bool {
	return ef == ErrorFields{}
}

// Extend returns the schema of error rows derived from rows of schema s.
func (ef ErrorFields) Extend(s *Schema, origin string) (*Schema, error) {
	var extra []Field
	add := func(name string, t ValueType) {
		if name != "" {
			extra = append(extra, Field{Name: name, Type: t, Origin: origin})
		}
	}
	add(ef.Count, TypeInteger)
	add(ef.Description, TypeString)
	add(ef.Fields, TypeString)
	add(ef.Code, TypeString)
	return s.Append(extra...)
}

// Augment appends the error metadata to r in the order used by Extend.
func (ef ErrorFields) Augment(r Row, info ErrorInfo) Row {
	var extra []interface{}
	if ef.Count != "" {
		extra = append(extra, info.Count)
	}
	if ef.Description != "" {
		extra = append(extra, info.Description)
	}
	if ef.Fields != "" {
		extra = append(extra, strings.Join(info.Fields, ","))
	}
	if ef.Code != "" {
		extra = append(extra, info.Code)
	}
	return r.Append(extra...)
}
