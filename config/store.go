package config

import (
	"fmt"

	"github.com/kilianp07/leadroute/infra/store/mongo"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "mongo".
	Backend string `json:"backend"`
	// SeedFile loads leads and contractors into the memory backend.
	SeedFile string       `json:"seed_file"`
	Mongo    mongo.Config `json:"mongo"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "mongo" {
		c.Mongo.SetDefaults()
	}
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "mongo":
		return nil
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
}
