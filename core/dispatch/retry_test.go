package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSchedulerRunsOnce(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()
	done := make(chan struct{})
	require.True(t, s.Schedule("l1", 10*time.Millisecond, func() { close(done) }))
	assert.False(t, s.Schedule("l1", time.Millisecond, func() { t.Error("second schedule must not run") }))
	assert.True(t, s.Pending("l1"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry did not fire")
	}
	assert.Eventually(t, func() bool { return !s.Pending("l1") }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Schedule("l1", time.Hour, func() {}), "a new retry may be scheduled once the previous one ran")
}

func TestTimerSchedulerCancel(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()
	var ran atomic.Bool
	require.True(t, s.Schedule("l1", 20*time.Millisecond, func() { ran.Store(true) }))
	assert.True(t, s.Cancel("l1"))
	assert.False(t, s.Cancel("l1"))
	time.Sleep(40 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 0, s.Len())
}

func TestTimerSchedulerStop(t *testing.T) {
	s := NewTimerScheduler()
	require.True(t, s.Schedule("a", time.Hour, func() {}))
	require.True(t, s.Schedule("b", time.Hour, func() {}))
	assert.Equal(t, 2, s.Len())
	s.Stop()
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Schedule("c", time.Millisecond, func() {}))
}

func TestFairnessCounter(t *testing.T) {
	f := NewFairnessCounter()
	f.Increment("a", "b", "a")
	assert.Equal(t, 2, f.Count("a"))
	assert.Equal(t, 1, f.Count("b"))
	assert.Equal(t, 0, f.Count("c"))

	snap := f.Snapshot()
	snap["a"] = 99
	assert.Equal(t, 2, f.Count("a"))

	assert.Equal(t, 2, f.Reset())
	assert.Equal(t, 0, f.Len())
}

func TestActiveRegistryMergesRounds(t *testing.T) {
	r := NewActiveRegistry()
	now := time.Now()
	r.Put(ActiveDistribution{LeadID: "l1", ContractorIDs: []string{"a", "b"}, Round: 1, StartedAt: now})
	r.Put(ActiveDistribution{LeadID: "l1", ContractorIDs: []string{"b", "c"}, Round: 2, StartedAt: now.Add(time.Minute)})
	d, ok := r.Get("l1")
	require.True(t, ok)
	assert.Equal(t, 2, d.Round)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, d.ContractorIDs)
	r.Remove("l1")
	assert.Equal(t, 0, r.Len())
}

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
	assert.Equal(t, 0, k.size())
}
