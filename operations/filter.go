package operations

import (
	"fmt"

	"github.com/pkg/errors"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// FilterConfig configures a filter operation.
type FilterConfig struct {
	Field string      `mapstructure:"field"`
	Value interface{} `mapstructure:"value"`
	// TrueTarget receives the matching rows, FalseTarget the others.
	// Without targets matching rows go to every hop and the others are dropped.
	TrueTarget  string `mapstructure:"trueTarget"`
	FalseTarget string `mapstructure:"falseTarget"`
}

// Filter routes rows on the equality of one field with a constant.
type Filter struct {
	passThrough
	c FilterConfig

	schema *models.Schema
	index  int
	value  interface{}
}

func (f *Filter) Init(rc *kettle.RuntimeContext) error {
	f.rc = rc
	if err := rc.DecodeConfig(&f.c); err != nil {
		return err
	}
	if f.c.Field == "" {
		return errors.New("filter requires a field")
	}
	targets := rc.Targets()
	for _, t := range []string{f.c.TrueTarget, f.c.FalseTarget} {
		if t != "" && !contains(targets, t) {
			return fmt.Errorf("filter target %q is not reached by a hop", t)
		}
	}
	return nil
}

// prepare resolves the field against the schema of the current row.
func (f *Filter) prepare(s *models.Schema) error {
	if s == f.schema {
		return nil
	}
	i := s.Index(f.c.Field)
	if i < 0 {
		return fmt.Errorf("field %q not found in %s", f.c.Field, s)
	}
	v, err := s.Field(i).Type.Convert(f.c.Value)
	if err != nil {
		return errors.Wrap(err, "filter value")
	}
	f.schema, f.index, f.value = s, i, v
	return nil
}

func (f *Filter) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := f.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	if err := f.prepare(f.rc.InputSchema()); err != nil {
		return kettle.Failed, err
	}
	match := models.Equal(r.Value(f.index), f.value)
	target := f.c.FalseTarget
	if match {
		target = f.c.TrueTarget
	}
	switch {
	case target != "":
		if err := f.rc.PutRowTo(target, r); err != nil {
			return kettle.Failed, err
		}
	case match && f.c.TrueTarget == "" && f.c.FalseTarget == "":
		return f.forward(r)
	}
	return kettle.Continue, nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
