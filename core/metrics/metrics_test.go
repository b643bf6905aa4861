package metrics

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/leadroute/core/factory"
)

type recordSink struct {
	rounds, notifications int
	err                   error
}

func (r *recordSink) RecordRound(RoundEvent) error {
	r.rounds++
	return r.err
}

func (r *recordSink) RecordNotification(NotificationEvent) error {
	r.notifications++
	return nil
}

// roundOnly implements MetricsSink only.
type roundOnly struct{ n int }

func (r *roundOnly) RecordRound(RoundEvent) error { r.n++; return nil }

func TestMultiSinkForwards(t *testing.T) {
	s1, s2 := &recordSink{}, &recordSink{}
	only := &roundOnly{}
	m := NewMultiSink(s1, s2, only)

	require.NoError(t, m.RecordRound(RoundEvent{LeadID: "l1"}))
	require.NoError(t, m.RecordNotification(NotificationEvent{LeadID: "l1"}))
	require.NoError(t, m.RecordResponse(ResponseEvent{LeadID: "l1"}))

	assert.Equal(t, 1, s1.rounds)
	assert.Equal(t, 1, s2.notifications)
	assert.Equal(t, 1, only.n)
}

func TestMultiSinkCallsEverySinkOnError(t *testing.T) {
	boom := errors.New("boom")
	s1, s2 := &recordSink{err: boom}, &recordSink{}
	err := NewMultiSink(s1, s2).RecordRound(RoundEvent{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s2.rounds)
}

func TestNewMetricsSink(t *testing.T) {
	require.NoError(t, RegisterMetricsSink("test-record", func(map[string]any) (MetricsSink, error) {
		return &recordSink{}, nil
	}))

	s, err := NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, s)

	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "test-record"}})
	require.NoError(t, err)
	assert.IsType(t, &recordSink{}, s)

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"sinks":[{"type":"test-record"},{"type":"test-record"}]}`), &cfg))
	s, err = NewMetricsSink(cfg.Sinks)
	require.NoError(t, err)
	multi, ok := s.(*MultiSink)
	require.True(t, ok)
	assert.Len(t, multi.Sinks, 2)

	_, err = NewMetricsSink([]factory.ModuleConfig{{Type: "missing"}})
	assert.Error(t, err)
}
