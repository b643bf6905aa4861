package metrics

import (
	"time"

	"github.com/kilianp07/leadroute/core/model"
)

// RoundEvent summarises one distribution round of a lead.
type RoundEvent struct {
	LeadID    string
	Round     int
	Method    string
	Priority  model.Priority
	Emergency bool
	Eligible  int
	Selected  int
	Notified  int
	Failed    int
	Duration  time.Duration
	Time      time.Time
}

// MetricsSink records distribution rounds for observability purposes.
type MetricsSink interface {
	RecordRound(ev RoundEvent) error
}

// NotificationEvent is one contractor alerted (or not) during a round.
type NotificationEvent struct {
	LeadID       string
	ContractorID string
	Tier         model.Tier
	Channel      string
	Delivered    bool
	Score        float64
	DistanceKm   float64
	Time         time.Time
}

// NotificationRecorder records per-contractor notification outcomes.
type NotificationRecorder interface {
	RecordNotification(ev NotificationEvent) error
}

// ResponseEvent is a contractor answering a lead.
type ResponseEvent struct {
	LeadID       string
	ContractorID string
	Response     model.Response
	// Latency is the time between the alert and the answer.
	Latency time.Duration
	Time    time.Time
}

// ResponseRecorder records contractor responses.
type ResponseRecorder interface {
	RecordResponse(ev ResponseEvent) error
}

// LeadStatusEvent is a lead reaching a new status.
type LeadStatusEvent struct {
	LeadID string
	Status model.Status
	Time   time.Time
}

// LeadStatusRecorder records lead status changes.
type LeadStatusRecorder interface {
	RecordLeadStatus(ev LeadStatusEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRound(RoundEvent) error               { return nil }
func (NopSink) RecordNotification(NotificationEvent) error { return nil }
func (NopSink) RecordResponse(ResponseEvent) error         { return nil }
func (NopSink) RecordLeadStatus(LeadStatusEvent) error     { return nil }
