package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesTotal  *prometheus.CounterVec
	publishesTotal *prometheus.CounterVec
	reconnects     prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	msgs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_messages_total",
		Help: "Messages processed by queue consumers by outcome",
	}, []string{"queue", "outcome"})
	pubs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_publish_total",
		Help: "Broker publish operations by result",
	}, []string{"result"})
	rec := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_reconnect_attempts_total",
		Help: "Broker reconnection attempts",
	})
	return msgs, pubs, rec
}

func init() {
	messagesTotal, publishesTotal, reconnects = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers queue metrics on reg, or the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(messagesTotal, publishesTotal, reconnects)
}

// ResetMetrics recreates the collectors, registering them on reg when non-nil.
func ResetMetrics(reg prometheus.Registerer) {
	messagesTotal, publishesTotal, reconnects = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

// ObservePublish counts a publish attempt.
func ObservePublish(err error) {
	if err != nil {
		publishesTotal.WithLabelValues("failure").Inc()
		return
	}
	publishesTotal.WithLabelValues("success").Inc()
}

// ObserveReconnect counts a reconnection attempt.
func ObserveReconnect() { reconnects.Inc() }
