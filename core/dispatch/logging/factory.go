package logging

import "fmt"

// Config selects the audit backend. An empty Backend disables auditing.
type Config struct {
	Backend    string `json:"backend"` // jsonl | rotating | sqlite
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// NewLogStore opens the store selected by cfg. It returns nil, nil when
// auditing is disabled.
func NewLogStore(cfg Config) (LogStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "jsonl":
		return NewJSONLStore(cfg.Path)
	case "rotating":
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = 100
		}
		return NewRotatingJSONLStore(cfg.Path, size, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("logging: unknown audit backend %q", cfg.Backend)
	}
}

// SetDefaults picks the JSONL backend next to the working directory.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "leadroute-audit.db"
		default:
			c.Path = "leadroute-audit.jsonl"
		}
	}
}

// Validate checks the backend name.
func (c Config) Validate() error {
	switch c.Backend {
	case "", "none", "jsonl", "rotating", "sqlite":
		return nil
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
}
