// Package metrics defines the sinks that observe distribution rounds,
// contractor notifications and contractor responses. Sinks such as PromSink
// and InfluxSink live in infra/metrics and register themselves with the
// factory helpers here; several configured sinks are combined in a MultiSink.
package metrics
