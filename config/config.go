package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/leadroute/core/dispatch"
	"github.com/kilianp07/leadroute/core/dispatch/logging"
	"github.com/kilianp07/leadroute/core/metrics"
	"github.com/kilianp07/leadroute/core/scoring"
	"github.com/kilianp07/leadroute/infra/cache"
	"github.com/kilianp07/leadroute/infra/mqtt"
	"github.com/kilianp07/leadroute/infra/notify"
)

// EnvPrefix marks environment overrides. LR_BROKER__CLIENT_ID sets
// broker.client_id.
const EnvPrefix = "LR_"

type Config struct {
	Broker   BrokerConfig    `json:"broker"`
	Dispatch dispatch.Config `json:"dispatch"`
	Scoring  scoring.Config  `json:"scoring"`
	Store    StoreConfig     `json:"store"`
	Cache    cache.Config    `json:"cache"`
	Notify   notify.Config   `json:"notify"`
	Metrics  metrics.Config  `json:"metrics"`
	Audit    logging.Config  `json:"audit"`
	Sentry   SentryConfig    `json:"sentry"`
	Log      LogConfig       `json:"log"`
}

// BrokerConfig selects the queue gateway. Backend "memory" runs the
// in-process gateway and ignores the MQTT settings.
type BrokerConfig struct {
	Backend     string `json:"backend"`
	mqtt.Config `json:",squash"`
}

// LogConfig sets the process log level.
type LogConfig struct {
	Level string `json:"level"`
}

// Load reads path, applies LR_ environment overrides, fills defaults and
// validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps LR_DISPATCH__MAX_RADIUS_KM to dispatch.max_radius_km.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	if c.Broker.Backend == "" {
		c.Broker.Backend = "mqtt"
	}
	c.Broker.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Store.SetDefaults()
	c.Notify.SetDefaults()
	c.Audit.SetDefaults()
	if c.Metrics.PrometheusPort == "" {
		c.Metrics.PrometheusPort = "2112"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first invalid section.
func (c Config) Validate() error {
	switch c.Broker.Backend {
	case "mqtt", "memory":
	default:
		return fmt.Errorf("broker: unknown backend %q", c.Broker.Backend)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}
