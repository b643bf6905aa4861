package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type update struct {
	LeadID string
	Status string
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := NewTyped[update]()
	a, b := bus.Subscribe(), bus.Subscribe()
	bus.Publish(update{LeadID: "l1", Status: "DISTRIBUTED"})
	assert.Equal(t, "l1", (<-a).LeadID)
	assert.Equal(t, "l1", (<-b).LeadID)

	bus.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, bus.Subscribers())
}

func TestFilteredSubscription(t *testing.T) {
	bus := NewTyped[update]()
	accepted := bus.SubscribeFunc(func(u update) bool { return u.Status == "ACCEPTED" })
	bus.Publish(update{LeadID: "l1", Status: "DISTRIBUTED"})
	bus.Publish(update{LeadID: "l1", Status: "ACCEPTED"})
	require.Len(t, accepted, 1)
	assert.Equal(t, "ACCEPTED", (<-accepted).Status)
}

func TestFullBufferDrops(t *testing.T) {
	bus := NewTypedWithBuffer[int](1)
	ch := bus.Subscribe()
	bus.Publish(1)
	bus.Publish(2)
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestCloseIsTerminal(t *testing.T) {
	bus := NewTyped[int]()
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()
	_, open := <-ch
	assert.False(t, open)

	assert.NotPanics(t, func() {
		bus.Unsubscribe(ch)
		bus.Publish(3)
	})
	_, open = <-bus.Subscribe()
	assert.False(t, open)
	assert.Zero(t, bus.Subscribers())
}
