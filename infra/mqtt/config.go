package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/leadroute/core/queue"
)

// Config defines the broker connection and the consumer policy.
type Config struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	AuthMethod string `json:"auth_method"`
	// TopicPrefix is prepended to every routing key.
	TopicPrefix string `json:"topic_prefix"`
	// SharedGroup names the shared subscription group; consumers in the same
	// group split a queue's messages.
	SharedGroup string `json:"shared_group"`
	QoS         byte   `json:"qos"`
	LWTTopic    string `json:"lwt_topic"`
	LWTPayload  string `json:"lwt_payload"`

	// MaxRetries and BackoffMS bound publish retries.
	MaxRetries int `json:"max_retries"`
	BackoffMS  int `json:"backoff_ms"`

	ReconnectAttempts  int           `json:"reconnect_attempts"`
	ReconnectInitial   time.Duration `json:"reconnect_initial"`
	ReconnectMax       time.Duration `json:"reconnect_max"`
	ConnectTimeout     time.Duration `json:"connect_timeout"`
	MessageTTL         time.Duration `json:"message_ttl"`
	MaxAttempts        int           `json:"max_attempts"`
	RetryBackoff       time.Duration `json:"retry_backoff"`
	Workers            int           `json:"workers"`
	DeliveryBufferSize int           `json:"delivery_buffer_size"`

	TLSConfig *tls.Config `json:"-"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.ClientID == "" {
		c.ClientID = "leadroute"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "leadroute"
	}
	if c.SharedGroup == "" {
		c.SharedGroup = "dispatch"
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 10
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = 500 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MessageTTL <= 0 {
		c.MessageTTL = 24 * time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DeliveryBufferSize <= 0 {
		c.DeliveryBufferSize = 64
	}
}

// Policy is the consumer policy derived from the config.
func (c Config) Policy() queue.Policy {
	return queue.Policy{
		TTL:         c.MessageTTL,
		MaxAttempts: c.MaxAttempts,
		Backoff:     queue.Linear{Initial: c.RetryBackoff, Max: 30 * c.RetryBackoff},
		Workers:     c.Workers,
	}
}

// NewClientOptions builds paho options for a durable, manually acknowledged
// session. Reconnection is driven by the gateway, not by paho.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetAutoAckDisabled(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.QoS, false)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Topic maps a routing key or binding pattern to an MQTT topic filter:
// dots become levels and "*" becomes "+". "#" is the same in both.
func Topic(prefix, key string) string {
	words := strings.Split(key, ".")
	for i, w := range words {
		if w == "*" {
			words[i] = "+"
		}
	}
	t := strings.Join(words, "/")
	if prefix == "" {
		return t
	}
	return strings.TrimSuffix(prefix, "/") + "/" + t
}

// SharedTopic wraps filter in a shared subscription for group.
func SharedTopic(group, filter string) string {
	if group == "" {
		return filter
	}
	return "$share/" + group + "/" + filter
}
