package metrics

import (
	"fmt"
	"strings"
)

type Config struct {
	Enabled bool `toml:"enabled"`
	// BindAddress serves the metrics over HTTP, empty disables the listener.
	BindAddress string `toml:"bind-address"`
	Path        string `toml:"path"`
}

func NewConfig() Config {
	return Config{
		Enabled:     true,
		BindAddress: "",
		Path:        "/metrics",
	}
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("metrics path must start with /, got %q", c.Path)
	}
	return nil
}
