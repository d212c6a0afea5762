package operations

import (
	"fmt"
	"strings"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
)

// LogConfig configures a log operation.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Prefix string `mapstructure:"prefix"`
}

// Log writes every row to the diagnostic of the unit and forwards it.
type Log struct {
	passThrough
	level  string
	prefix string
}

func (l *Log) Init(rc *kettle.RuntimeContext) error {
	l.rc = rc
	c := LogConfig{Level: "info"}
	if err := rc.DecodeConfig(&c); err != nil {
		return err
	}
	switch level := strings.ToLower(c.Level); level {
	case "debug", "info", "warn", "error":
		l.level = level
	default:
		return fmt.Errorf("invalid log level %s", c.Level)
	}
	l.prefix = c.Prefix
	return nil
}

func (l *Log) ProcessOneCycle() (kettle.CycleResult, error) {
	r, ok := l.rc.GetRow()
	if !ok {
		return kettle.Finished, nil
	}
	l.rc.Diag().LogRow(l.level, l.prefix, l.rc.InputSchema(), r)
	return l.forward(r)
}
