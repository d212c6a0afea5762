package storage

import "fmt"

type Config struct {
	// BoltDBPath is the path of the bbolt database file.
	BoltDBPath string `toml:"boltdb"`
	// InMemory keeps every store in memory, nothing survives a restart.
	InMemory bool `toml:"in-memory"`
}

func NewConfig() Config {
	return Config{
		BoltDBPath: "./kettle.db",
	}
}

func (c Config) Validate() error {
	if !c.InMemory && c.BoltDBPath == "" {
		return fmt.Errorf("must specify storage 'boltdb' path")
	}
	return nil
}
