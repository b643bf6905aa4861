package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	roundsTotal        *prometheus.CounterVec
	roundDuration      *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
	responsesTotal     *prometheus.CounterVec
	leadTransitions    *prometheus.CounterVec
	retriesScheduled   prometheus.Counter
	activeLeads        prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter, prometheus.Gauge) {
	rounds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_rounds_total",
			Help: "Distribution rounds by method and result",
		},
		[]string{"method", "result"},
	)
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_round_duration_seconds",
			Help:    "Wall time of a distribution round including strategy delays",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)
	notes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_notifications_total",
			Help: "Contractor notifications by result",
		},
		[]string{"result"},
	)
	resp := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_responses_total",
			Help: "Contractor responses applied",
		},
		[]string{"response"},
	)
	trans := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_lead_transitions_total",
			Help: "Lead status transitions applied by the orchestrator",
		},
		[]string{"status"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_retries_scheduled_total",
			Help: "Retry rounds scheduled after declines",
		},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_active_distributions",
			Help: "Leads currently in distribution in this process",
		},
	)
	return rounds, dur, notes, resp, trans, retries, active
}

func init() {
	roundsTotal, roundDuration, notificationsTotal, responsesTotal, leadTransitions, retriesScheduled, activeLeads = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(roundsTotal, roundDuration, notificationsTotal, responsesTotal, leadTransitions, retriesScheduled, activeLeads)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	roundsTotal, roundDuration, notificationsTotal, responsesTotal, leadTransitions, retriesScheduled, activeLeads = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
