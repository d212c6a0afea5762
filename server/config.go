package server

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	kettle "github.com/pentaho/pentaho-kettle-sub148"
	"github.com/pentaho/pentaho-kettle-sub148/services/logging"
	"github.com/pentaho/pentaho-kettle-sub148/services/metrics"
	"github.com/pentaho/pentaho-kettle-sub148/services/runstore"
	"github.com/pentaho/pentaho-kettle-sub148/services/storage"
)

// Duration is a time.Duration written as a string in TOML, e.g. "30s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// EngineConfig holds the run defaults of the engine.
type EngineConfig struct {
	QueueCapacity int      `toml:"queue-capacity"`
	BatchSize     int      `toml:"batch-size"`
	Timeout       Duration `toml:"timeout"`
	// CollectLimit caps the rows kept per collect operation, zero keeps all rows.
	CollectLimit int `toml:"collect-limit"`
}

func NewEngineConfig() EngineConfig {
	return EngineConfig{
		QueueCapacity: kettle.DefaultQueueCapacity,
		BatchSize:     kettle.DefaultBatchSize,
		CollectLimit:  10000,
	}
}

func (c EngineConfig) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("engine queue-capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("engine batch-size must be positive, got %d", c.BatchSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("engine timeout must not be negative, got %v", time.Duration(c.Timeout))
	}
	if c.CollectLimit < 0 {
		return fmt.Errorf("engine collect-limit must not be negative, got %d", c.CollectLimit)
	}
	return nil
}

// Options returns the engine defaults described by the config.
func (c EngineConfig) Options() kettle.Options {
	return kettle.Options{
		QueueCapacity: c.QueueCapacity,
		BatchSize:     c.BatchSize,
		Timeout:       time.Duration(c.Timeout),
	}
}

// Config represents the configuration format for the kettled binary.
type Config struct {
	Engine   EngineConfig    `toml:"engine"`
	Logging  logging.Config  `toml:"logging"`
	Storage  storage.Config  `toml:"storage"`
	RunStore runstore.Config `toml:"runstore"`
	Metrics  metrics.Config  `toml:"metrics"`
}

// NewConfig returns an instance of Config with reasonable defaults.
func NewConfig() *Config {
	return &Config{
		Engine:   NewEngineConfig(),
		Logging:  logging.NewConfig(),
		Storage:  storage.NewConfig(),
		RunStore: runstore.NewConfig(),
		Metrics:  metrics.NewConfig(),
	}
}

// NewDemoConfig returns the config used when no config file is given.
// The database lives in the home directory of the current user.
func NewDemoConfig() (*Config, error) {
	c := NewConfig()

	var homeDir string
	u, err := user.Current()
	if err == nil {
		homeDir = u.HomeDir
	} else if os.Getenv("HOME") != "" {
		homeDir = os.Getenv("HOME")
	} else {
		return nil, fmt.Errorf("failed to determine current user for storage")
	}

	c.Storage.BoltDBPath = filepath.Join(homeDir, ".kettle", "kettle.db")
	return c, nil
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}
	if err := c.Storage.Validate(); err != nil {
		return errors.Wrap(err, "storage")
	}
	if err := c.RunStore.Validate(); err != nil {
		return errors.Wrap(err, "runstore")
	}
	if err := c.Metrics.Validate(); err != nil {
		return errors.Wrap(err, "metrics")
	}
	return nil
}

// ApplyEnvOverrides sets every field that has a KETTLE_<SECTION>_<KEY>
// environment variable, e.g. KETTLE_ENGINE_BATCH_SIZE.
func (c *Config) ApplyEnvOverrides() error {
	return c.applyEnvOverrides("KETTLE", "", reflect.ValueOf(c))
}

func (c *Config) applyEnvOverrides(prefix string, fieldDesc string, v reflect.Value) error {
	s := v
	if v.Kind() == reflect.Ptr {
		s = v.Elem()
	}

	var value string

	if s.Kind() != reflect.Struct {
		value = os.Getenv(prefix)
		// Skip any fields we don't have a value to set
		if value == "" {
			return nil
		}

		if fieldDesc != "" {
			fieldDesc = " to " + fieldDesc
		}
	}

	switch s.Kind() {
	case reflect.String:
		s.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var intValue int64

		if s.Type().Name() == "Duration" {
			dur, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
			}
			intValue = dur.Nanoseconds()
		} else {
			var err error
			intValue, err = strconv.ParseInt(value, 0, s.Type().Bits())
			if err != nil {
				return fmt.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
			}
		}
		s.SetInt(intValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
		}
		s.SetBool(boolValue)
	case reflect.Struct:
		return c.applyEnvOverridesToStruct(prefix, s)
	}
	return nil
}

func (c *Config) applyEnvOverridesToStruct(prefix string, s reflect.Value) error {
	typeOfSpec := s.Type()
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		configName := typeOfSpec.Field(i).Tag.Get("toml")
		if configName == "" || configName == "-" || !f.CanSet() {
			continue
		}
		// Hyphens are not valid in shell variable names.
		configName = strings.Replace(configName, "-", "_", -1)
		key := strings.ToUpper(configName)
		if prefix != "" {
			key = strings.ToUpper(fmt.Sprintf("%s_%s", prefix, configName))
		}
		if err := c.applyEnvOverrides(key, typeOfSpec.Field(i).Name, f); err != nil {
			return err
		}
	}
	return nil
}
