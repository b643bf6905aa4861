// Package mqtt implements the queue gateway on an MQTT broker. Routing keys
// map to topics, queues to shared subscriptions on a persistent session, and
// messages are acknowledged only after the consumer pipeline decided on them.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/monitoring"
	"github.com/kilianp07/leadroute/core/queue"
)

// ErrClosed is returned by operations on a closed gateway.
var ErrClosed = errors.New("mqtt: gateway closed")

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

type subscription struct {
	queue    string
	filters  []string
	consumer *queue.Consumer
	ch       chan queue.Delivery
	done     chan struct{}
}

// Gateway is a queue.Gateway over MQTT.
type Gateway struct {
	cfg     Config
	cli     pahoClient
	log     logger.Logger
	backoff queue.Backoff

	mu           sync.Mutex
	subs         map[string]*subscription
	healthy      bool
	reconnecting bool
	closed       bool
	disconnected bool
	unavailable  chan error
	gaveUp       bool

	closing chan struct{}
	wg      sync.WaitGroup
}

// NewGateway connects to the broker. The initial connection uses the same
// bounded backoff as reconnects and fails with a *model.BrokerUnavailableError.
func NewGateway(cfg Config, log logger.Logger) (*Gateway, error) {
	if log == nil {
		return nil, fmt.Errorf("mqtt: nil parameter provided to NewGateway")
	}
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		cfg:         cfg,
		log:         log,
		backoff:     queue.Exponential{Initial: cfg.ReconnectInitial, Max: cfg.ReconnectMax},
		subs:        make(map[string]*subscription),
		unavailable: make(chan error, 1),
		closing:     make(chan struct{}),
	}
	opts.OnConnect = func(paho.Client) { g.onConnect() }
	opts.OnConnectionLost = func(_ paho.Client, err error) { g.onConnectionLost(err) }
	g.cli = newMQTTClient(opts)
	if err := g.connect(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) connect() error {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.ReconnectAttempts; attempt++ {
		tok := g.cli.Connect()
		switch {
		case !tok.WaitTimeout(g.cfg.ConnectTimeout):
			lastErr = fmt.Errorf("connect timeout after %s", g.cfg.ConnectTimeout)
		case tok.Error() != nil:
			lastErr = tok.Error()
		default:
			return nil
		}
		queue.ObserveReconnect()
		if attempt == g.cfg.ReconnectAttempts {
			break
		}
		delay := g.backoff.Delay(attempt)
		g.log.Warnf("mqtt connect attempt %d/%d to %s failed, retrying in %s: %v",
			attempt, g.cfg.ReconnectAttempts, g.cfg.Broker, delay, lastErr)
		t := time.NewTimer(delay)
		select {
		case <-g.closing:
			t.Stop()
			return ErrClosed
		case <-t.C:
		}
	}
	return &model.BrokerUnavailableError{Attempts: g.cfg.ReconnectAttempts, Err: lastErr}
}

func (g *Gateway) onConnect() {
	g.mu.Lock()
	g.healthy = true
	subs := make([]*subscription, 0, len(g.subs))
	for _, s := range g.subs {
		subs = append(subs, s)
	}
	g.mu.Unlock()
	g.log.Infof("mqtt connected to %s", g.cfg.Broker)
	for _, s := range subs {
		if err := g.subscribeFilters(s); err != nil {
			g.log.Errorf("resubscribe %s: %v", s.queue, err)
		}
	}
}

func (g *Gateway) onConnectionLost(err error) {
	g.mu.Lock()
	g.healthy = false
	if g.closed || g.reconnecting || g.gaveUp {
		g.mu.Unlock()
		return
	}
	g.reconnecting = true
	g.wg.Add(1)
	g.mu.Unlock()
	g.log.Errorf("mqtt connection lost: %v", err)

	go func() {
		defer g.wg.Done()
		rerr := g.connect()
		g.mu.Lock()
		g.reconnecting = false
		g.mu.Unlock()
		if rerr == nil || errors.Is(rerr, ErrClosed) {
			return
		}
		g.giveUp(rerr)
	}()
}

func (g *Gateway) giveUp(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gaveUp {
		return
	}
	g.gaveUp = true
	g.healthy = false
	g.log.Errorf("mqtt broker unavailable: %v", err)
	monitoring.CaptureException(err, map[string]string{"module": "mqtt", "broker": g.cfg.Broker})
	g.unavailable <- err
	close(g.unavailable)
}

// Healthy is true while connected and before reconnects were exhausted.
func (g *Gateway) Healthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.healthy && !g.gaveUp
}

// Unavailable yields the terminal error once reconnects are exhausted.
func (g *Gateway) Unavailable() <-chan error { return g.unavailable }

// Publish wraps payload in an envelope and publishes it to key. A delay is
// honoured with an in-process timer.
func (g *Gateway) Publish(ctx context.Context, key string, payload any, opts ...queue.PublishOption) (string, error) {
	o := queue.PublishOptions{MaxAttempts: g.cfg.MaxAttempts}
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
			ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ConnectTimeout)
			defer cancel()
			if err := g.PublishEnvelope(ctx, key, env); err != nil {
				g.log.Errorf("delayed publish %s on %s: %v", env.ID, key, err)
			}
		})
		return env.ID, nil
	}
	if err := g.PublishEnvelope(ctx, key, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// PublishEnvelope publishes env unchanged, retrying transient failures.
func (g *Gateway) PublishEnvelope(ctx context.Context, key string, env *queue.Envelope) error {
	g.mu.Lock()
	disconnected, gaveUp := g.disconnected, g.gaveUp
	g.mu.Unlock()
	if disconnected {
		return ErrClosed
	}
	if gaveUp {
		return &model.BrokerUnavailableError{Attempts: g.cfg.ReconnectAttempts, Err: errors.New("reconnect attempts exhausted")}
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	topic := Topic(g.cfg.TopicPrefix, key)
	backoff := time.Duration(g.cfg.BackoffMS) * time.Millisecond
	var publishErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		publishErr = wait(ctx, g.cli.Publish(topic, g.cfg.QoS, false, body))
		queue.ObservePublish(publishErr)
		if publishErr == nil {
			g.log.Debugf("published %s to %s", env.ID, topic)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		g.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt < g.cfg.MaxRetries {
			select {
			case <-ctx.Done():
			case <-time.After(backoff * time.Duration(1<<attempt)):
			}
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"module": "mqtt", "key": key, "message_id": env.ID})
	return fmt.Errorf("publish %s: %w", key, publishErr)
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts consuming queueName with h. Messages are acknowledged
// after the consumer decided on them; unacknowledged messages are
// redelivered by the broker on the persistent session.
func (g *Gateway) Subscribe(ctx context.Context, queueName string, h queue.Handler) error {
	q, ok := queue.Lookup(queueName)
	if !ok {
		return &model.ValidationError{Field: "queue", Reason: fmt.Sprintf("unknown queue %q", queueName)}
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if _, dup := g.subs[queueName]; dup {
		g.mu.Unlock()
		return fmt.Errorf("mqtt: queue %s already subscribed", queueName)
	}
	s := &subscription{
		queue:    queueName,
		consumer: queue.NewConsumer(queueName, h, g, g.cfg.Policy(), g.log),
		ch:       make(chan queue.Delivery, g.cfg.DeliveryBufferSize),
		done:     make(chan struct{}),
	}
	for _, b := range q.Bindings {
		s.filters = append(s.filters, SharedTopic(g.cfg.SharedGroup, Topic(g.cfg.TopicPrefix, b)))
	}
	g.subs[queueName] = s
	g.mu.Unlock()

	if err := g.subscribeFilters(s); err != nil {
		g.mu.Lock()
		delete(g.subs, queueName)
		g.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		s.consumer.Run(runCtx, s.ch)
	}()
	go func() {
		defer g.wg.Done()
		defer cancel()
		select {
		case <-runCtx.Done():
			// The caller stopped consuming: drop the durable subscription.
			g.mu.Lock()
			delete(g.subs, queueName)
			g.mu.Unlock()
			if tok := g.cli.Unsubscribe(s.filters...); tok.Wait() && tok.Error() != nil {
				g.log.Warnf("unsubscribe %s: %v", queueName, tok.Error())
			}
		case <-g.closing:
		}
		close(s.done)
		s.consumer.Close()
	}()
	g.log.Infof("consuming %s on %v", queueName, s.filters)
	return nil
}

func (g *Gateway) subscribeFilters(s *subscription) error {
	for _, f := range s.filters {
		tok := g.cli.Subscribe(f, g.cfg.QoS, g.handler(s))
		tok.Wait()
		if err := tok.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", f, err)
		}
	}
	return nil
}

func (g *Gateway) handler(s *subscription) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		d := queue.Delivery{Key: msg.Topic(), Body: msg.Payload(), Ack: msg.Ack}
		select {
		case s.ch <- d:
		case <-s.done:
			// Left unacknowledged; the broker redelivers on the next session.
		}
	}
}

// Stats returns consumer counters per subscribed queue.
func (g *Gateway) Stats() map[string]queue.QueueStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]queue.QueueStats, len(g.subs))
	for name, s := range g.subs {
		out[name] = s.consumer.Stats()
	}
	return out
}

// Close stops consumers, flushes their pending retries while still
// connected, then disconnects.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()
	close(g.closing)
	g.wg.Wait()

	g.mu.Lock()
	g.healthy = false
	g.disconnected = true
	g.mu.Unlock()
	if g.cli.IsConnected() {
		g.cli.Disconnect(250)
	}
	return nil
}
