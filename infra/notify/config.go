package notify

import (
	"time"

	"github.com/kilianp07/leadroute/core/queue"
)

// Config controls which channels are used and how requests are rendered.
type Config struct {
	// Channels used when a contractor lists none of its own.
	Channels []string `json:"channels"`
	// Region is the default region for parsing local phone numbers.
	Region string `json:"region"`
	// PortalURL is the base of the accept and decline links.
	PortalURL string `json:"portal_url"`
	// PerMinute is the per-contractor alert budget. Zero disables limiting.
	PerMinute float64    `json:"per_minute"`
	Burst     int        `json:"burst"`
	SMTP      SMTPConfig `json:"smtp"`
}

// SMTPConfig configures the email worker. An empty Host disables it.
type SMTPConfig struct {
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	FromEmail string        `json:"from_email"`
	FromName  string        `json:"from_name"`
	Timeout   time.Duration `json:"timeout"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if len(c.Channels) == 0 {
		c.Channels = []string{string(queue.ChannelSMS), string(queue.ChannelEmail)}
	}
	if c.Region == "" {
		c.Region = "AU"
	}
	if c.PortalURL == "" {
		c.PortalURL = "http://localhost:3000"
	}
	if c.PerMinute > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.Timeout <= 0 {
		c.SMTP.Timeout = 15 * time.Second
	}
	if c.SMTP.FromName == "" {
		c.SMTP.FromName = "Lead Dispatch"
	}
}
