package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/monitoring"
)

// Policy bounds message lifetime and retries.
type Policy struct {
	// TTL dead-letters messages older than this. Zero disables the check.
	TTL time.Duration
	// MaxAttempts applies to envelopes that carry none.
	MaxAttempts int
	// Backoff is the wait before a retry; Linear by default.
	Backoff Backoff
	// Workers is the number of deliveries processed concurrently.
	Workers int
	// PublishTimeout bounds retry and dead-letter publishes.
	PublishTimeout time.Duration
}

// DefaultPolicy is 24h TTL, 3 attempts and a 1s linear backoff.
func DefaultPolicy() Policy {
	return Policy{
		TTL:            24 * time.Hour,
		MaxAttempts:    3,
		Backoff:        Linear{Initial: time.Second},
		Workers:        1,
		PublishTimeout: 10 * time.Second,
	}
}

func (p *Policy) setDefaults() {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = d.Backoff
	}
	if p.Workers <= 0 {
		p.Workers = d.Workers
	}
	if p.PublishTimeout <= 0 {
		p.PublishTimeout = d.PublishTimeout
	}
}

// Delivery is one message handed to a consumer by a gateway.
type Delivery struct {
	Key  string
	Body []byte
	// Ack confirms the message to the broker. It may be nil.
	Ack func()
}

// Consumer runs the decode, handle, decide loop for one queue.
type Consumer struct {
	queue   string
	handler Handler
	pub     EnvelopePublisher
	policy  Policy
	log     logger.Logger
	clock   func() time.Time

	received, acked, retried, deadLettered, dropped, pending atomic.Int64

	mu     sync.Mutex
	timers map[*time.Timer]*Envelope
	closed bool
	wg     sync.WaitGroup
}

// NewConsumer builds a consumer for queue. Retries and dead letters are
// published through pub.
func NewConsumer(queue string, h Handler, pub EnvelopePublisher, policy Policy, log logger.Logger) *Consumer {
	policy.setDefaults()
	return &Consumer{
		queue:   queue,
		handler: h,
		pub:     pub,
		policy:  policy,
		log:     log,
		clock:   time.Now,
		timers:  make(map[*time.Timer]*Envelope),
	}
}

// SetClock replaces time.Now for TTL checks.
func (c *Consumer) SetClock(clock func() time.Time) { c.clock = clock }

// Run processes deliveries with Policy.Workers goroutines until ctx is done
// or deliveries is closed.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan Delivery) {
	var wg sync.WaitGroup
	for i := 0; i < c.policy.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.Process(ctx, d.Body)
					if d.Ack != nil {
						d.Ack()
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Process handles one message body and returns the decision taken. The
// broker message can be acknowledged once Process returns: retries are
// republished as new messages.
func (c *Consumer) Process(ctx context.Context, body []byte) Outcome {
	c.received.Add(1)
	env, err := DecodeEnvelope(body)
	if err != nil {
		c.deadLetter(rawEnvelope(c.queue, body, c.clock()), err)
		messagesTotal.WithLabelValues(c.queue, DeadLetter.String()).Inc()
		return DeadLetter
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = c.policy.MaxAttempts
	}
	if c.policy.TTL > 0 && c.clock().Sub(env.Timestamp) > c.policy.TTL {
		c.deadLetter(env, fmt.Errorf("message %s exceeded ttl %s", env.ID, c.policy.TTL))
		messagesTotal.WithLabelValues(c.queue, DeadLetter.String()).Inc()
		return DeadLetter
	}

	c.log.Debugw("processing message", map[string]any{
		"queue": c.queue, "message_id": env.ID, "type": env.Type, "attempt": env.Attempts + 1,
	})
	res := c.handle(ctx, env)
	outcome := res.Outcome
	switch outcome {
	case Ack:
		c.acked.Add(1)
	case Drop:
		c.dropped.Add(1)
		c.log.Warnf("dropping message %s on %s: %v", env.ID, c.queue, res.Err)
	case DeadLetter:
		c.deadLetter(env, res.Err)
	case Retry:
		next := env.Clone()
		next.Attempts++
		if next.Attempts >= next.MaxAttempts {
			outcome = DeadLetter
			c.deadLetter(next, fmt.Errorf("max attempts %d reached: %w", next.MaxAttempts, res.Err))
			break
		}
		c.retried.Add(1)
		delay := c.policy.Backoff.Delay(next.Attempts)
		c.log.Warnf("message %s on %s failed (attempt %d/%d), retrying in %s: %v",
			env.ID, c.queue, next.Attempts, next.MaxAttempts, delay, res.Err)
		c.schedule(next, delay)
	}
	messagesTotal.WithLabelValues(c.queue, outcome.String()).Inc()
	return outcome
}

func (c *Consumer) handle(ctx context.Context, env *Envelope) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			monitoring.CaptureException(err, map[string]string{"queue": c.queue, "type": env.Type})
			res = Result{Outcome: Retry, Err: err}
		}
	}()
	return c.handler.Handle(ctx, env)
}

func (c *Consumer) schedule(env *Envelope, delay time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.republish(env)
		return
	}
	defer c.mu.Unlock()
	c.pending.Add(1)
	c.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer c.wg.Done()
		c.mu.Lock()
		delete(c.timers, t)
		c.mu.Unlock()
		c.pending.Add(-1)
		c.republish(env)
	})
	c.timers[t] = env
}

func (c *Consumer) republish(env *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), c.policy.PublishTimeout)
	defer cancel()
	if err := c.pub.PublishEnvelope(ctx, env.Type, env); err != nil {
		c.log.Errorf("retry publish for %s failed: %v", env.ID, err)
		c.deadLetter(env, fmt.Errorf("retry publish: %w", err))
	}
}

func (c *Consumer) deadLetter(env *Envelope, cause error) {
	c.deadLettered.Add(1)
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	dl := env.Clone()
	dl.SetHeader(HeaderDeathReason, reason)
	dl.SetHeader(HeaderOriginalKey, env.Type)
	dl.SetHeader(HeaderQueue, c.queue)
	c.log.Errorf("dead-lettering message %s from %s: %s", env.ID, c.queue, reason)
	monitoring.CaptureException(errors.New(reason), map[string]string{"queue": c.queue, "type": env.Type, "message_id": env.ID})

	ctx, cancel := context.WithTimeout(context.Background(), c.policy.PublishTimeout)
	defer cancel()
	if err := c.pub.PublishEnvelope(ctx, DeadLetterKey, dl); err != nil {
		c.log.Errorf("dead-letter publish for %s failed: %v", env.ID, err)
	}
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() QueueStats {
	return QueueStats{
		Received:     c.received.Load(),
		Acked:        c.acked.Load(),
		Retried:      c.retried.Load(),
		DeadLettered: c.deadLettered.Load(),
		Dropped:      c.dropped.Load(),
		Pending:      c.pending.Load(),
	}
}

// Close republishes pending retries immediately and waits for in-flight ones.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var flush []*Envelope
	for t, env := range c.timers {
		if t.Stop() {
			flush = append(flush, env)
			c.pending.Add(-1)
			c.wg.Done()
		}
		delete(c.timers, t)
	}
	c.mu.Unlock()
	for _, env := range flush {
		c.republish(env)
	}
	c.wg.Wait()
}

// rawEnvelope wraps an undecodable body so it can still be dead-lettered.
func rawEnvelope(queue string, body []byte, now time.Time) *Envelope {
	payload, _ := json.Marshal(string(body))
	return &Envelope{ID: uuid.NewString(), Type: queue, Payload: payload, Timestamp: now, MaxAttempts: 1}
}
