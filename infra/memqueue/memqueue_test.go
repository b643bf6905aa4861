package memqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/queue"
	"github.com/kilianp07/leadroute/infra/logger"
)

func newGateway(t *testing.T, policy queue.Policy) *Gateway {
	t.Helper()
	g := New(Config{Policy: policy}, logger.NopLogger{})
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestPublishRoutesToSubscriber(t *testing.T) {
	g := newGateway(t, queue.Policy{})
	got := make(chan string, 1)
	require.NoError(t, g.Subscribe(context.Background(), queue.QueueLeadResponses, queue.HandlerFunc(
		func(_ context.Context, env *queue.Envelope) error {
			ev, err := queue.Decode[queue.ResponseEvent](env)
			if err != nil {
				return err
			}
			got <- ev.ContractorID
			return nil
		})))

	_, err := g.Publish(context.Background(), queue.ResponseKey(model.ResponseAccepted),
		queue.ResponseEvent{LeadID: "l1", ContractorID: "c7", Response: model.ResponseAccepted})
	require.NoError(t, err)
	select {
	case id := <-got:
		assert.Equal(t, "c7", id)
	case <-time.After(time.Second):
		t.Fatal("not delivered")
	}
	assert.Eventually(t, func() bool { return g.Stats()[queue.QueueLeadResponses].Acked == 1 }, time.Second, 5*time.Millisecond)
}

func TestBacklogReplayedOnSubscribe(t *testing.T) {
	g := newGateway(t, queue.Policy{})
	for _, id := range []string{"a", "b"} {
		_, err := g.Publish(context.Background(), "lead.distribute.low", queue.DistributeCommand{LeadID: id})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, g.Backlog(queue.QueueLeadDistribution))

	got := make(chan string, 2)
	require.NoError(t, g.Subscribe(context.Background(), queue.QueueLeadDistribution, queue.HandlerFunc(
		func(_ context.Context, env *queue.Envelope) error {
			cmd, err := queue.Decode[queue.DistributeCommand](env)
			if err != nil {
				return err
			}
			got <- cmd.LeadID
			return nil
		})))
	assert.Equal(t, "a", <-got)
	assert.Equal(t, "b", <-got)
	assert.Equal(t, 0, g.Backlog(queue.QueueLeadDistribution))
}

func TestUnroutableKey(t *testing.T) {
	g := newGateway(t, queue.Policy{})
	_, err := g.Publish(context.Background(), "lead.unknown", struct{}{})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.ErrorIs(t, g.Subscribe(context.Background(), "nope", queue.HandlerFunc(nil)), model.ErrValidation)
}

func TestRetriesThenDeadLetters(t *testing.T) {
	g := newGateway(t, queue.Policy{MaxAttempts: 3, Backoff: queue.Linear{Initial: time.Millisecond}})
	fail := errors.New("store down")
	require.NoError(t, g.Subscribe(context.Background(), queue.QueueLeadDistribution, queue.HandlerFunc(
		func(context.Context, *queue.Envelope) error { return fail })))

	id, err := g.Publish(context.Background(), "lead.distribute.high", queue.DistributeCommand{LeadID: "l1"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(g.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	dl := g.DeadLetters()[0]
	assert.Equal(t, id, dl.ID)
	assert.Equal(t, 3, dl.Attempts)
	assert.Equal(t, "lead.distribute.high", dl.Header(queue.HeaderOriginalKey))
	assert.Contains(t, dl.Header(queue.HeaderDeathReason), "store down")

	st := g.Stats()[queue.QueueLeadDistribution]
	assert.Equal(t, int64(3), st.Received)
	assert.Equal(t, int64(2), st.Retried)
	assert.Equal(t, int64(1), st.DeadLettered)
}

func TestCloseFlushesRetriesToBacklog(t *testing.T) {
	g := New(Config{Policy: queue.Policy{Backoff: queue.Linear{Initial: time.Hour}}}, logger.NopLogger{})
	require.NoError(t, g.Subscribe(context.Background(), queue.QueueLeadDistribution, queue.HandlerFunc(
		func(context.Context, *queue.Envelope) error { return errors.New("later") })))
	_, err := g.Publish(context.Background(), "lead.distribute.low", queue.DistributeCommand{LeadID: "l1"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return g.Stats()[queue.QueueLeadDistribution].Pending == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, g.Close())
	assert.Equal(t, 1, g.Backlog(queue.QueueLeadDistribution))
	assert.False(t, g.Healthy())
	_, err = g.Publish(context.Background(), "lead.distribute.low", queue.DistributeCommand{LeadID: "l2"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDelayedPublish(t *testing.T) {
	g := newGateway(t, queue.Policy{})
	_, err := g.Publish(context.Background(), "lead.distribute.low", queue.DistributeCommand{LeadID: "l1"},
		queue.WithDelay(20*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 0, g.Backlog(queue.QueueLeadDistribution))
	assert.Eventually(t, func() bool { return g.Backlog(queue.QueueLeadDistribution) == 1 }, time.Second, 5*time.Millisecond)
}
