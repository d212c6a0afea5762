package operations

import (
	"strings"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
)

// ValidateConfig configures a validate operation.
type ValidateConfig struct {
	// Required lists the fields that must not be null.
	Required []string `mapstructure:"required"`
	// Strict also checks every value against its field type.
	Strict bool `mapstructure:"strict"`
}

// Validate fails the rows violating its rules. Failed rows are routed along
// the error hop when there is one, otherwise they stop the run.
type Validate struct {
	passThrough
	c ValidateConfig
}

func (v *Validate) SupportsErrorRouting() bool { return true }

func (v *Validate) Init(rc *kettle.RuntimeContext) error {
	v.rc = rc
	return rc.DecodeConfig(&v.c)
}

func (v *Validate) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := v.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	s := v.rc.InputSchema()
	var missing []string
	for _, f := range v.c.Required {
		if val, ok := r.Get(s, f); !ok || val == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return kettle.Failed, &kettle.RowError{
			Row:         r,
			Description: "required fields are null: " + strings.Join(missing, ", "),
			Fields:      missing,
			Code:        "REQUIRED",
		}
	}
	if v.c.Strict {
		if err := s.Validate(r); err != nil {
			return kettle.Failed, &kettle.RowError{Row: r, Description: err.Error(), Code: "TYPE"}
		}
	}
	return v.forward(r)
}
