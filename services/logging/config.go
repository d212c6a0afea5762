package logging

import (
	"fmt"
	"strings"
)

type Config struct {
	// File is STDERR, STDOUT or the path of a log file.
	File  string `toml:"file"`
	Level string `toml:"level"`
	// Encoding is text or json.
	Encoding string `toml:"encoding"`
}

func NewConfig() Config {
	return Config{
		File:     "STDERR",
		Level:    "INFO",
		Encoding: "text",
	}
}

func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Encoding) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log encoding %q", c.Encoding)
	}
	if c.File == "" {
		return fmt.Errorf("must specify logging file, STDERR or STDOUT")
	}
	return nil
}
