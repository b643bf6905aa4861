package dispatch

import (
	"fmt"
	"time"
)

// Method selects how a round notifies its selected contractors.
type Method string

const (
	// MethodParallel notifies everyone at once.
	MethodParallel Method = "parallel"
	// MethodSequential notifies one contractor at a time.
	MethodSequential Method = "sequential"
	// MethodTiered notifies tier by tier, highest tier first.
	MethodTiered Method = "tiered"
)

// EmergencyConfig widens the round for emergency leads.
type EmergencyConfig struct {
	MaxContractors int     `json:"max_contractors"`
	RadiusKm       float64 `json:"radius_km"`
}

// Config holds orchestrator settings.
type Config struct {
	MaxContractorsPerLead int    `json:"max_contractors_per_lead"`
	Method                Method `json:"method"`
	ExpiryMinutes         int    `json:"expiry_minutes"`
	// AutoRetryOnDecline defaults to true when unset.
	AutoRetryOnDecline *bool           `json:"auto_retry_on_decline"`
	MaxRetryAttempts   int             `json:"max_retry_attempts"`
	RetryDelayMinutes  int             `json:"retry_delay_minutes"`
	SequentialDelay    time.Duration   `json:"sequential_delay"`
	TierDelay          time.Duration   `json:"tier_delay"`
	MaxRadiusKm        float64         `json:"max_radius_km"`
	Emergency          EmergencyConfig `json:"emergency"`
	// NotifyTimeout bounds a single SendLeadAlert call.
	NotifyTimeout time.Duration `json:"notify_timeout"`
	// ExpirySweep and FairnessReset are cron specs run by the application.
	ExpirySweep   string `json:"expiry_sweep"`
	FairnessReset string `json:"fairness_reset"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.MaxContractorsPerLead <= 0 {
		c.MaxContractorsPerLead = 5
	}
	if c.Method == "" {
		c.Method = MethodTiered
	}
	if c.ExpiryMinutes <= 0 {
		c.ExpiryMinutes = 60
	}
	if c.AutoRetryOnDecline == nil {
		on := true
		c.AutoRetryOnDecline = &on
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = 3
	}
	if c.RetryDelayMinutes <= 0 {
		c.RetryDelayMinutes = 15
	}
	if c.SequentialDelay <= 0 {
		c.SequentialDelay = time.Second
	}
	if c.TierDelay <= 0 {
		c.TierDelay = 5 * time.Second
	}
	if c.MaxRadiusKm <= 0 {
		c.MaxRadiusKm = 50
	}
	if c.Emergency.MaxContractors <= 0 {
		c.Emergency.MaxContractors = 10
	}
	if c.Emergency.RadiusKm <= 0 {
		c.Emergency.RadiusKm = 75
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 30 * time.Second
	}
	if c.ExpirySweep == "" {
		c.ExpirySweep = "*/5 * * * *"
	}
	if c.FairnessReset == "" {
		c.FairnessReset = "0 * * * *"
	}
}

// Validate checks the configuration after defaults.
func (c Config) Validate() error {
	switch c.Method {
	case MethodParallel, MethodSequential, MethodTiered:
	default:
		return fmt.Errorf("dispatch: unknown method %q", c.Method)
	}
	if c.Emergency.MaxContractors < c.MaxContractorsPerLead {
		return fmt.Errorf("dispatch: emergency.max_contractors (%d) below max_contractors_per_lead (%d)",
			c.Emergency.MaxContractors, c.MaxContractorsPerLead)
	}
	return nil
}

// Expiry is the distribution window.
func (c Config) Expiry() time.Duration { return time.Duration(c.ExpiryMinutes) * time.Minute }

// RetryDelay is the wait before a retry round.
func (c Config) RetryDelay() time.Duration { return time.Duration(c.RetryDelayMinutes) * time.Minute }

// AutoRetry reports whether declines schedule retry rounds.
func (c Config) AutoRetry() bool { return c.AutoRetryOnDecline == nil || *c.AutoRetryOnDecline }

// limits returns the cap and search radius for a lead.
func (c Config) limits(emergency bool) (int, float64) {
	if emergency {
		return c.Emergency.MaxContractors, c.Emergency.RadiusKm
	}
	return c.MaxContractorsPerLead, c.MaxRadiusKm
}
