package operations

import (
	"fmt"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
)

// AbortConfig configures an abort operation.
type AbortConfig struct {
	// After is the number of rows forwarded before the run is failed.
	After   int64  `mapstructure:"after"`
	Message string `mapstructure:"message"`
}

// Abort fails the run once it has seen more than After rows.
type Abort struct {
	passThrough
	c    AbortConfig
	seen int64
}

func (a *Abort) Init(rc *kettle.RuntimeContext) error {
	a.rc = rc
	a.c.Message = "aborted"
	if err := rc.DecodeConfig(&a.c); err != nil {
		return err
	}
	if a.c.After < 0 {
		return fmt.Errorf("invalid row threshold %d", a.c.After)
	}
	return nil
}

func (a *Abort) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := a.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	a.seen++
	if a.seen > a.c.After {
		return kettle.Failed, fmt.Errorf("%s after %d rows", a.c.Message, a.c.After)
	}
	return a.forward(r)
}
