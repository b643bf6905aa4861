package metrics

import (
	"errors"
	"strconv"

	coremetrics "github.com/kilianp07/leadroute/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records distribution events in Prometheus metrics.
type PromSink struct {
	rounds        *prometheus.CounterVec
	roundDuration *prometheus.HistogramVec
	notified      *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	responses     *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	statuses      *prometheus.CounterVec
}

// NewPromSink registers distribution metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_distribution_rounds_total",
			Help: "Distribution rounds by method, priority and emergency flag",
		}, []string{"method", "priority", "emergency"}),
		roundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lead_distribution_round_seconds",
			Help:    "Time taken by a distribution round including strategy delays",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		notified: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lead_distribution_notified_contractors",
			Help:    "Contractors successfully notified per round",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		}, []string{"method"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_notifications_total",
			Help: "Contractor notifications by tier and delivery result",
		}, []string{"tier", "delivered"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_responses_total",
			Help: "Contractor responses by kind",
		}, []string{"response"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lead_response_latency_seconds",
			Help:    "Time between alert and contractor response",
			Buckets: []float64{30, 60, 120, 300, 600, 900, 1800, 3600},
		}, []string{"response"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_status_transitions_total",
			Help: "Lead status transitions by target status",
		}, []string{"status"}),
	}
	var err error
	if s.rounds, err = register(reg, s.rounds); err != nil {
		return nil, err
	}
	if s.roundDuration, err = register(reg, s.roundDuration); err != nil {
		return nil, err
	}
	if s.notified, err = register(reg, s.notified); err != nil {
		return nil, err
	}
	if s.notifications, err = register(reg, s.notifications); err != nil {
		return nil, err
	}
	if s.responses, err = register(reg, s.responses); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.statuses, err = register(reg, s.statuses); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the already registered collector when c is a duplicate.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRound counts the round and observes its duration and reach.
func (s *PromSink) RecordRound(ev coremetrics.RoundEvent) error {
	s.rounds.WithLabelValues(ev.Method, string(ev.Priority), strconv.FormatBool(ev.Emergency)).Inc()
	s.roundDuration.WithLabelValues(ev.Method).Observe(ev.Duration.Seconds())
	s.notified.WithLabelValues(ev.Method).Observe(float64(ev.Notified))
	return nil
}

// RecordNotification counts one contractor alert.
func (s *PromSink) RecordNotification(ev coremetrics.NotificationEvent) error {
	s.notifications.WithLabelValues(string(ev.Tier), strconv.FormatBool(ev.Delivered)).Inc()
	return nil
}

// RecordResponse counts the response and observes its latency.
func (s *PromSink) RecordResponse(ev coremetrics.ResponseEvent) error {
	s.responses.WithLabelValues(string(ev.Response)).Inc()
	if ev.Latency > 0 {
		s.latency.WithLabelValues(string(ev.Response)).Observe(ev.Latency.Seconds())
	}
	return nil
}

// RecordLeadStatus counts a status transition.
func (s *PromSink) RecordLeadStatus(ev coremetrics.LeadStatusEvent) error {
	s.statuses.WithLabelValues(string(ev.Status)).Inc()
	return nil
}
