package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/leadroute/core/metrics"
	"github.com/kilianp07/leadroute/infra/logger"
)

// InfluxConfig points the sink at an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL     string        `json:"url"`
	Token   string        `json:"token"`
	Org     string        `json:"org"`
	Bucket  string        `json:"bucket"`
	Timeout time.Duration `json:"timeout"`
}

// InfluxSink writes one point per dispatch event with blocking writes.
type InfluxSink struct {
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	timeout time.Duration
	log     logger.Logger
}

func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: cfg.Timeout})
	client := influxdb2.NewClientWithOptions(strings.TrimSuffix(cfg.URL, "/api/v2/write"), cfg.Token, opts)
	return &InfluxSink{
		client:  client,
		writer:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		timeout: cfg.Timeout,
		log:     logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback degrades to a NopSink when the server does not
// report healthy at startup.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), sink.timeout)
	defer cancel()
	health, err := sink.client.Health(ctx)
	switch {
	case err != nil:
		sink.log.Errorf("influx unreachable, metrics disabled: %v", err)
	case health.Status != "pass":
		sink.log.Errorf("influx status %s, metrics disabled", health.Status)
	default:
		return sink
	}
	sink.client.Close()
	return coremetrics.NopSink{}
}

func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.writer.WritePoint(ctx, p)
}

// RecordRound writes a lead_distribution_round point.
func (s *InfluxSink) RecordRound(ev coremetrics.RoundEvent) error {
	p := write.NewPointWithMeasurement("lead_distribution_round").
		AddTag("lead_id", ev.LeadID).
		AddTag("method", ev.Method).
		AddTag("priority", string(ev.Priority)).
		AddTag("emergency", strconv.FormatBool(ev.Emergency)).
		AddField("round", ev.Round).
		AddField("eligible", ev.Eligible).
		AddField("selected", ev.Selected).
		AddField("notified", ev.Notified).
		AddField("failed", ev.Failed).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordNotification writes a lead_notification point.
func (s *InfluxSink) RecordNotification(ev coremetrics.NotificationEvent) error {
	p := write.NewPointWithMeasurement("lead_notification").
		AddTag("lead_id", ev.LeadID).
		AddTag("contractor_id", ev.ContractorID).
		AddTag("tier", string(ev.Tier)).
		AddTag("delivered", strconv.FormatBool(ev.Delivered))
	if ev.Channel != "" {
		p = p.AddTag("channel", ev.Channel)
	}
	p = p.AddField("score", round3(ev.Score)).
		AddField("distance_km", round3(ev.DistanceKm)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordResponse writes a lead_response point.
func (s *InfluxSink) RecordResponse(ev coremetrics.ResponseEvent) error {
	p := write.NewPointWithMeasurement("lead_response").
		AddTag("lead_id", ev.LeadID).
		AddTag("contractor_id", ev.ContractorID).
		AddTag("response", string(ev.Response)).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
