package runstore

import "fmt"

type Config struct {
	Enabled bool `toml:"enabled"`
	// MaxResults is the number of results kept, older results are pruned.
	// Zero keeps every result.
	MaxResults int `toml:"max-results"`
}

func NewConfig() Config {
	return Config{
		Enabled:    true,
		MaxResults: 1000,
	}
}

func (c Config) Validate() error {
	if c.MaxResults < 0 {
		return fmt.Errorf("max-results must be >= 0, got %d", c.MaxResults)
	}
	return nil
}
