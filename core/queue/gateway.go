package queue

import (
	"context"
	"time"
)

// PublishOptions tune a single publish.
type PublishOptions struct {
	MaxAttempts int
	// Delay holds the message back until now+Delay.
	Delay time.Duration
	// Timestamp overrides the envelope timestamp.
	Timestamp time.Time
}

// PublishOption mutates PublishOptions.
type PublishOption func(*PublishOptions)

// WithMaxAttempts overrides the retry ceiling carried by the envelope.
func WithMaxAttempts(n int) PublishOption { return func(o *PublishOptions) { o.MaxAttempts = n } }

// WithDelay schedules delivery after d.
func WithDelay(d time.Duration) PublishOption { return func(o *PublishOptions) { o.Delay = d } }

// WithTimestamp sets the envelope timestamp used for TTL checks.
func WithTimestamp(t time.Time) PublishOption { return func(o *PublishOptions) { o.Timestamp = t } }

// Publisher sends payloads to a routing key and returns the envelope id.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any, opts ...PublishOption) (string, error)
}

// EnvelopePublisher republishes an existing envelope unchanged.
type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, key string, env *Envelope) error
}

// Gateway is the broker-facing surface used by the application.
type Gateway interface {
	Publisher
	EnvelopePublisher
	// Subscribe starts consuming queue with h until ctx is done or Close.
	Subscribe(ctx context.Context, queue string, h Handler) error
	// Healthy is false once reconnection attempts are exhausted.
	Healthy() bool
	// Unavailable is closed with the terminal error when the broker is given up on.
	Unavailable() <-chan error
	Stats() map[string]QueueStats
	Close() error
}

// QueueStats are per-queue consumer counters.
type QueueStats struct {
	Received     int64 `json:"received"`
	Acked        int64 `json:"acked"`
	Retried      int64 `json:"retried"`
	DeadLettered int64 `json:"dead_lettered"`
	Dropped      int64 `json:"dropped"`
	Pending      int64 `json:"pending_retries"`
}
