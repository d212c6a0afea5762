package operations

import (
	"fmt"

	"github.com/pkg/errors"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// GenerateField is a constant field of generated rows.
type GenerateField struct {
	Name  string      `mapstructure:"name"`
	Type  string      `mapstructure:"type"`
	Value interface{} `mapstructure:"value"`
}

// GenerateConfig configures a generate operation.
type GenerateConfig struct {
	// Limit is the number of rows emitted by each copy. A negative limit
	// emits rows until the run stops.
	Limit int64 `mapstructure:"limit"`
	// Sequence names an integer field holding the row number, unique
	// across copies.
	Sequence string          `mapstructure:"sequence"`
	Fields   []GenerateField `mapstructure:"fields"`
}

// Generate is a source emitting rows of constant fields.
type Generate struct {
	rc     *kettle.RuntimeContext
	limit  int64
	offset int64
	seq    bool
	values []interface{}
	i      int64
}

func (g *Generate) Init(rc *kettle.RuntimeContext) error {
	g.rc = rc
	var c GenerateConfig
	if err := rc.DecodeConfig(&c); err != nil {
		return err
	}
	var fields []models.Field
	if c.Sequence != "" {
		g.seq = true
		fields = append(fields, models.Field{Name: c.Sequence, Type: models.TypeInteger, Origin: rc.Name()})
	}
	for _, f := range c.Fields {
		t := models.TypeString
		if f.Type != "" {
			var err error
			if t, err = models.ParseValueType(f.Type); err != nil {
				return errors.Wrapf(err, "field %s", f.Name)
			}
		}
		v, err := t.Convert(f.Value)
		if err != nil {
			return errors.Wrapf(err, "field %s", f.Name)
		}
		fields = append(fields, models.Field{Name: f.Name, Type: t, Origin: rc.Name()})
		g.values = append(g.values, v)
	}
	if len(fields) == 0 {
		return fmt.Errorf("generate requires at least one field or a sequence")
	}
	s, err := models.NewSchema(fields...)
	if err != nil {
		return err
	}
	rc.SetOutputSchema(s)
	g.limit = c.Limit
	if g.limit > 0 {
		g.offset = int64(rc.Copy()) * g.limit
	}
	return nil
}

func (g *Generate) ProcessOneCycle() (kettle.CycleResult, error) {
	if g.limit >= 0 && g.i >= g.limit {
		return kettle.Finished, nil
	}
	values := g.values
	if g.seq {
		values = append([]interface{}{g.offset + g.i}, g.values...)
	}
	g.i++
	if err := g.rc.PutRow(models.NewRow(values...)); err != nil {
		return kettle.Failed, err
	}
	return kettle.Continue, nil
}

func (g *Generate) Dispose(*kettle.RuntimeContext) {}
