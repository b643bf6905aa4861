package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/leadroute/core/model"
	coremon "github.com/kilianp07/leadroute/core/monitoring"
	"github.com/kilianp07/leadroute/core/queue"
	"github.com/kilianp07/leadroute/infra/logger"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o644))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return
}

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

// mockClient implements pahoClient for tests.
type mockClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	connectErrs []error
	connects    int
	handlers    map[string]paho.MessageHandler
	subscribed  []string
	unsubbed    []string
	published   []publishCall
	publishErrs []error
}

func (m *mockClient) IsConnected() bool { return true }

func (m *mockClient) Connect() paho.Token {
	m.mu.Lock()
	m.connects++
	var err error
	if len(m.connectErrs) > 0 {
		err = m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
	}
	m.mu.Unlock()
	if err == nil && m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(nil)
	}
	return &dummyToken{err: err}
}

func (m *mockClient) Disconnect(uint) {}

func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := payload.([]byte)
	m.published = append(m.published, publishCall{topic: topic, qos: qos, payload: b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}

func (m *mockClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string]paho.MessageHandler)
	}
	m.handlers[topic] = cb
	m.subscribed = append(m.subscribed, topic)
	return &dummyToken{}
}

func (m *mockClient) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubbed = append(m.unsubbed, topics...)
	return &dummyToken{}
}

func (m *mockClient) deliver(t *testing.T, filter string, payload []byte) *mockMessage {
	t.Helper()
	m.mu.Lock()
	cb := m.handlers[filter]
	m.mu.Unlock()
	require.NotNil(t, cb, "no handler on %s", filter)
	msg := &mockMessage{topic: filter, p: payload}
	cb(nil, msg)
	return msg
}

func (m *mockClient) publishes() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.published...)
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic string
	p     []byte
	acked atomic.Bool
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.p }
func (m *mockMessage) Ack()              { m.acked.Store(true) }

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func testConfig() Config {
	return Config{
		Broker:            "tcp://localhost:1883",
		ClientID:          "test",
		TopicPrefix:       "lr",
		SharedGroup:       "g",
		BackoffMS:         1,
		ReconnectAttempts: 3,
		ReconnectInitial:  time.Millisecond,
		ReconnectMax:      5 * time.Millisecond,
		RetryBackoff:      time.Hour,
	}
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, tlsCfg.Certificates)
	assert.NotNil(t, tlsCfg.RootCAs)

	_, err = Config{UseTLS: true}.LoadTLSConfig()
	assert.Error(t, err)
}

func TestNewClientOptionsDurableSession(t *testing.T) {
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"}
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.False(t, opts.CleanSession)
	assert.False(t, opts.AutoReconnect)
	assert.True(t, opts.AutoAckDisabled)
}

func TestTopicMapping(t *testing.T) {
	assert.Equal(t, "lr/lead/distribute/high", Topic("lr", "lead.distribute.high"))
	assert.Equal(t, "lr/lead/distribute/+", Topic("lr/", "lead.distribute.*"))
	assert.Equal(t, "notification/#", Topic("", "notification.#"))
	assert.Equal(t, "$share/g/lr/dead/letter", SharedTopic("g", "lr/dead/letter"))
	assert.Equal(t, "lr/x", SharedTopic("", "lr/x"))
}

func TestPublishEnvelopeUsesQoSAndTopic(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	g, err := NewGateway(testConfig(), logger.NopLogger{})
	require.NoError(t, err)
	defer g.Close()
	assert.True(t, g.Healthy())

	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	id, err := g.Publish(context.Background(), "lead.distribute.high",
		queue.DistributeCommand{LeadID: "l1"}, queue.WithMaxAttempts(7), queue.WithTimestamp(ts))
	require.NoError(t, err)

	pubs := mc.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, "lr/lead/distribute/high", pubs[0].topic)
	assert.Equal(t, byte(1), pubs[0].qos)
	env, err := queue.DecodeEnvelope(pubs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, id, env.ID)
	assert.Equal(t, 7, env.MaxAttempts)
	assert.True(t, ts.Equal(env.Timestamp))
}

func TestPublishRetries(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), nil}}
	withMock(t, mc)
	cfg := testConfig()
	cfg.MaxRetries = 1
	g, err := NewGateway(cfg, logger.NopLogger{})
	require.NoError(t, err)
	defer g.Close()

	_, err = g.Publish(context.Background(), "lead.response.accepted", queue.ResponseEvent{LeadID: "l1"})
	require.NoError(t, err)
	assert.Len(t, mc.publishes(), 2)
}

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Flush(time.Duration) {}

func TestPublishFailureCaptured(t *testing.T) {
	fail := errors.New("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail}}
	withMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(nil)
	cfg := testConfig()
	cfg.MaxRetries = 2
	g, err := NewGateway(cfg, logger.NopLogger{})
	require.NoError(t, err)
	defer g.Close()

	_, err = g.Publish(context.Background(), "lead.distribute.low", queue.DistributeCommand{LeadID: "l1"})
	require.ErrorIs(t, err, fail)
	assert.Len(t, mc.publishes(), 3)
	mon.mu.Lock()
	defer mon.mu.Unlock()
	assert.ErrorIs(t, mon.err, fail)
	assert.Equal(t, "mqtt", mon.tags["module"])
	assert.Equal(t, "lead.distribute.low", mon.tags["key"])
}

func TestInitialConnectRetriesThenSucceeds(t *testing.T) {
	mc := &mockClient{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	withMock(t, mc)
	g, err := NewGateway(testConfig(), logger.NopLogger{})
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, 3, mc.connects)
	assert.True(t, g.Healthy())
}

func TestInitialConnectGivesUp(t *testing.T) {
	refused := errors.New("refused")
	mc := &mockClient{connectErrs: []error{refused, refused, refused}}
	withMock(t, mc)
	_, err := NewGateway(testConfig(), logger.NopLogger{})
	var bue *model.BrokerUnavailableError
	require.ErrorAs(t, err, &bue)
	assert.Equal(t, 3, bue.Attempts)
	assert.ErrorIs(t, err, model.ErrBrokerUnavailable)
	assert.ErrorIs(t, err, refused)
}

func TestConnectionLostExhaustsReconnects(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	g, err := NewGateway(testConfig(), logger.NopLogger{})
	require.NoError(t, err)
	defer g.Close()

	refused := errors.New("refused")
	mc.mu.Lock()
	mc.connectErrs = []error{refused, refused, refused}
	mc.mu.Unlock()
	mc.opts.OnConnectionLost(nil, errors.New("eof"))

	select {
	case err := <-g.Unavailable():
		assert.ErrorIs(t, err, model.ErrBrokerUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("unavailable not signalled")
	}
	assert.False(t, g.Healthy())
	_, err = g.Publish(context.Background(), "lead.distribute.low", queue.DistributeCommand{LeadID: "l1"})
	assert.ErrorIs(t, err, model.ErrBrokerUnavailable)
}

func TestConnectionLostReconnectsAndResubscribes(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	g, err := NewGateway(testConfig(), logger.NopLogger{})
	require.NoError(t, err)
	defer g.Close()
	require.NoError(t, g.Subscribe(context.Background(), queue.QueueLeadResponses, queue.HandlerFunc(
		func(context.Context, *queue.Envelope) error { return nil })))

	mc.mu.Lock()
	mc.connectErrs = []error{errors.New("refused")}
	mc.mu.Unlock()
	mc.opts.OnConnectionLost(nil, errors.New("eof"))

	assert.Eventually(t, func() bool {
		mc.mu.Lock()
		defer mc.mu.Unlock()
		return len(mc.subscribed) == 2 && mc.connects == 3
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, g.Healthy, time.Second, 5*time.Millisecond)
}

func TestSubscribeAcksAfterProcessing(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	g, err := NewGateway(testConfig(), logger.NopLogger{})
	require.NoError(t, err)

	got := make(chan queue.DistributeCommand, 1)
	h := queue.HandlerFunc(func(_ context.Context, env *queue.Envelope) error {
		cmd, err := queue.Decode[queue.DistributeCommand](env)
		if err != nil {
			return err
		}
		got <- cmd
		return nil
	})
	require.NoError(t, g.Subscribe(context.Background(), queue.QueueLeadDistribution, h))
	assert.Equal(t, []string{"$share/g/lr/lead/distribute/+"}, mc.subscribed)
	assert.Error(t, g.Subscribe(context.Background(), queue.QueueLeadDistribution, h))
	assert.ErrorIs(t, g.Subscribe(context.Background(), "nope", h), model.ErrValidation)

	env, err := queue.NewEnvelope("lead.distribute.high", queue.DistributeCommand{LeadID: "l9"}, 3, time.Now())
	require.NoError(t, err)
	body, err := env.Marshal()
	require.NoError(t, err)
	msg := mc.deliver(t, "$share/g/lr/lead/distribute/+", body)

	select {
	case cmd := <-got:
		assert.Equal(t, "l9", cmd.LeadID)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	assert.Eventually(t, msg.acked.Load, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return g.Stats()[queue.QueueLeadDistribution].Acked == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, g.Close())
}

func TestPoisonMessageIsDeadLettered(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	g, err := NewGateway(testConfig(), logger.NopLogger{})
	require.NoError(t, err)
	defer g.Close()
	require.NoError(t, g.Subscribe(context.Background(), queue.QueueLeadResponses, queue.HandlerFunc(
		func(context.Context, *queue.Envelope) error { return nil })))

	msg := mc.deliver(t, "$share/g/lr/lead/response/+", []byte("not json"))
	assert.Eventually(t, msg.acked.Load, time.Second, 5*time.Millisecond)

	var dead *publishCall
	for _, p := range mc.publishes() {
		if p.topic == "lr/dead/letter" {
			dead = &p
		}
	}
	require.NotNil(t, dead)
	env, err := queue.DecodeEnvelope(dead.payload)
	require.NoError(t, err)
	assert.Equal(t, queue.QueueLeadResponses, env.Header(queue.HeaderQueue))
	assert.NotEmpty(t, env.Header(queue.HeaderDeathReason))
}

func TestCloseFlushesPendingRetries(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	g, err := NewGateway(testConfig(), logger.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, g.Subscribe(context.Background(), queue.QueueLeadDistribution, queue.HandlerFunc(
		func(context.Context, *queue.Envelope) error { return fmt.Errorf("store down") })))

	env, err := queue.NewEnvelope("lead.distribute.medium", queue.DistributeCommand{LeadID: "l1"}, 3, time.Now())
	require.NoError(t, err)
	body, err := env.Marshal()
	require.NoError(t, err)
	msg := mc.deliver(t, "$share/g/lr/lead/distribute/+", body)
	assert.Eventually(t, msg.acked.Load, time.Second, 5*time.Millisecond)
	assert.Empty(t, mc.publishes(), "retry waits for its backoff")

	require.NoError(t, g.Close())
	pubs := mc.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, "lr/lead/distribute/medium", pubs[0].topic)
	retried, err := queue.DecodeEnvelope(pubs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, env.ID, retried.ID)
	assert.Equal(t, 1, retried.Attempts)
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	g, err := NewGateway(testConfig(), logger.NopLogger{})
	require.NoError(t, err)
	defer g.Close()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, g.Subscribe(ctx, queue.QueueNotificationsSMS, queue.HandlerFunc(
		func(context.Context, *queue.Envelope) error { return nil })))
	cancel()
	assert.Eventually(t, func() bool {
		mc.mu.Lock()
		defer mc.mu.Unlock()
		return len(mc.unsubbed) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(g.Stats()) == 0 }, time.Second, 5*time.Millisecond)
}
