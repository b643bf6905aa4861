// Package memqueue is an in-process queue gateway. It routes keys with the
// same topology as the broker, runs the shared consumer pipeline and keeps
// dead letters for inspection. Nothing survives a restart.
package memqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/queue"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memqueue: gateway closed")

// Config tunes buffering and the consumer policy.
type Config struct {
	Buffer int          `json:"buffer"`
	Policy queue.Policy `json:"-"`
}

type binding struct {
	consumer *queue.Consumer
	ch       chan queue.Delivery
}

// Gateway is a queue.Gateway backed by channels.
type Gateway struct {
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	bindings map[string]*binding
	// backlog holds messages for queues nobody consumes yet.
	backlog map[string][]*queue.Envelope
	dead    []*queue.Envelope
	closed  bool

	unavailable chan error
	closing     chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// New returns an empty gateway.
func New(cfg Config, log logger.Logger) *Gateway {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Gateway{
		cfg:         cfg,
		log:         log,
		bindings:    make(map[string]*binding),
		backlog:     make(map[string][]*queue.Envelope),
		unavailable: make(chan error),
		closing:     make(chan struct{}),
	}
}

// Publish wraps payload in an envelope and routes it.
func (g *Gateway) Publish(ctx context.Context, key string, payload any, opts ...queue.PublishOption) (string, error) {
	o := queue.PublishOptions{MaxAttempts: g.cfg.Policy.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}
	env, err := queue.NewEnvelope(key, payload, o.MaxAttempts, o.Timestamp)
	if err != nil {
		return "", &model.ValidationError{Field: "payload", Reason: err.Error()}
	}
	if o.Delay > 0 {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return "", ErrClosed
		}
		g.wg.Add(1)
		g.mu.Unlock()
		time.AfterFunc(o.Delay, func() {
			defer g.wg.Done()
			if err := g.PublishEnvelope(context.Background(), key, env); err != nil {
				g.log.Errorf("delayed publish %s: %v", env.ID, err)
			}
		})
		return env.ID, nil
	}
	return env.ID, g.PublishEnvelope(ctx, key, env)
}

// PublishEnvelope routes env to every queue bound to key. Keys that match no
// queue are an error.
func (g *Gateway) PublishEnvelope(ctx context.Context, key string, env *queue.Envelope) error {
	queues := queue.Route(key)
	if len(queues) == 0 {
		queue.ObservePublish(fmt.Errorf("unroutable"))
		return &model.ValidationError{Field: "key", Reason: fmt.Sprintf("no queue bound to %q", key)}
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	for _, name := range queues {
		if err := g.deliver(ctx, name, key, body, env); err != nil {
			queue.ObservePublish(err)
			return err
		}
	}
	queue.ObservePublish(nil)
	return nil
}

func (g *Gateway) deliver(ctx context.Context, name, key string, body []byte, env *queue.Envelope) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if name == queue.QueueDeadLetters {
		g.dead = append(g.dead, env.Clone())
	}
	select {
	case <-g.closing:
		if name != queue.QueueDeadLetters {
			g.backlog[name] = append(g.backlog[name], env.Clone())
		}
		g.mu.Unlock()
		return nil
	default:
	}
	b, ok := g.bindings[name]
	if !ok {
		if name != queue.QueueDeadLetters {
			g.backlog[name] = append(g.backlog[name], env.Clone())
		}
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	select {
	case b.ch <- queue.Delivery{Key: key, Body: body}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.closing:
		return ErrClosed
	}
}

// Subscribe consumes queueName with h. Messages published before the
// subscription are replayed first.
func (g *Gateway) Subscribe(ctx context.Context, queueName string, h queue.Handler) error {
	if _, ok := queue.Lookup(queueName); !ok {
		return &model.ValidationError{Field: "queue", Reason: fmt.Sprintf("unknown queue %q", queueName)}
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if _, dup := g.bindings[queueName]; dup {
		g.mu.Unlock()
		return fmt.Errorf("memqueue: queue %s already subscribed", queueName)
	}
	b := &binding{
		consumer: queue.NewConsumer(queueName, h, g, g.cfg.Policy, g.log),
		ch:       make(chan queue.Delivery, g.cfg.Buffer),
	}
	g.bindings[queueName] = b
	pending := g.backlog[queueName]
	delete(g.backlog, queueName)
	g.wg.Add(2)
	g.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer g.wg.Done()
		b.consumer.Run(runCtx, b.ch)
	}()
	go func() {
		defer g.wg.Done()
		defer cancel()
		for _, env := range pending {
			body, err := env.Marshal()
			if err != nil {
				continue
			}
			select {
			case b.ch <- queue.Delivery{Key: env.Type, Body: body}:
			case <-runCtx.Done():
				return
			case <-g.closing:
				return
			}
		}
		select {
		case <-runCtx.Done():
			g.mu.Lock()
			delete(g.bindings, queueName)
			g.mu.Unlock()
		case <-g.closing:
		}
		b.consumer.Close()
	}()
	return nil
}

// DeadLetters returns a copy of every dead-lettered envelope.
func (g *Gateway) DeadLetters() []*queue.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*queue.Envelope, len(g.dead))
	for i, e := range g.dead {
		out[i] = e.Clone()
	}
	return out
}

// Backlog is the number of messages waiting for a consumer on queueName.
func (g *Gateway) Backlog(queueName string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.backlog[queueName])
}

// Healthy is true until Close.
func (g *Gateway) Healthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed
}

// Unavailable never fires: there is no broker to lose.
func (g *Gateway) Unavailable() <-chan error { return g.unavailable }

// Stats returns consumer counters per subscribed queue.
func (g *Gateway) Stats() map[string]queue.QueueStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]queue.QueueStats, len(g.bindings))
	for name, b := range g.bindings {
		out[name] = b.consumer.Stats()
	}
	return out
}

// Close stops consumers. Pending retries are flushed into the backlog.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() { close(g.closing) })
	g.wg.Wait()
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}
