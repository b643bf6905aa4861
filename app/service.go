// Package app wires configuration into a running dispatch service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kilianp07/leadroute/config"
	"github.com/kilianp07/leadroute/core/dispatch"
	"github.com/kilianp07/leadroute/core/dispatch/logging"
	"github.com/kilianp07/leadroute/core/events"
	corelogger "github.com/kilianp07/leadroute/core/logger"
	coremetrics "github.com/kilianp07/leadroute/core/metrics"
	"github.com/kilianp07/leadroute/core/model"
	coremon "github.com/kilianp07/leadroute/core/monitoring"
	"github.com/kilianp07/leadroute/core/queue"
	"github.com/kilianp07/leadroute/core/scoring"
	"github.com/kilianp07/leadroute/core/store"
	"github.com/kilianp07/leadroute/infra/cache"
	"github.com/kilianp07/leadroute/infra/logger"
	"github.com/kilianp07/leadroute/infra/metrics"
	"github.com/kilianp07/leadroute/infra/monitoring"
	"github.com/kilianp07/leadroute/infra/notify"
	"github.com/kilianp07/leadroute/internal/eventbus"
)

// Service holds the long-lived collaborators of one process.
type Service struct {
	Gateway      queue.Gateway
	Store        store.Store
	Orchestrator *dispatch.Orchestrator
	Commands     *dispatch.CommandService
	Notifier     *notify.QueueNotifier
	Bus          *eventbus.TypedBus[events.LeadUpdate]

	cfg   *config.Config
	log   corelogger.Logger
	sink  coremetrics.MetricsSink
	email *notify.EmailWorker
	cron  *cron.Cron

	// closers run in reverse order on Close.
	closers []func() error
}

// Option customises New.
type Option func(*Service)

// WithLogger replaces the service logger.
func WithLogger(l corelogger.Logger) Option { return func(s *Service) { s.log = l } }

// New opens every backend named by cfg. Nothing consumes until Run.
//
//gocyclo:ignore
func New(ctx context.Context, cfg *config.Config, opts ...Option) (s *Service, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil parameter provided to New")
	}
	s = &Service{cfg: cfg, log: logger.NewLeveled("service", cfg.Log.Level)}
	for _, opt := range opts {
		opt(s)
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)
	s.closers = append(s.closers, func() error { coremon.Flush(2 * time.Second); return nil })

	if s.Store, err = openStore(ctx, cfg.Store, s.log, &s.closers); err != nil {
		return nil, err
	}
	if s.Gateway, err = openGateway(cfg.Broker, s.log); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Gateway.Close)

	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		s.closers = append(s.closers, func() error { c.Close(); return nil })
	}

	s.Bus = eventbus.NewTyped[events.LeadUpdate]()
	s.closers = append(s.closers, func() error { s.Bus.Close(); return nil })

	s.Notifier, err = notify.NewQueueNotifier(s.Gateway, cfg.Notify, cfg.Dispatch.Expiry(), s.log)
	if err != nil {
		return nil, err
	}
	if cfg.Notify.SMTP.Host != "" {
		if s.email, err = notify.NewEmailWorker(cfg.Notify.SMTP, s.log); err != nil {
			return nil, err
		}
	}

	orchOpts := []dispatch.Option{
		dispatch.WithScorer(scoring.NewScorer(cfg.Scoring)),
		dispatch.WithMetrics(s.sink),
		dispatch.WithEventBus(s.Bus),
	}
	audit, err := logging.NewLogStore(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	if audit != nil {
		orchOpts = append(orchOpts, dispatch.WithAuditLog(audit))
	}
	if cfg.Cache.Enabled() {
		rc, err := cache.Open(ctx, cfg.Cache, s.log)
		if err != nil {
			if audit != nil {
				_ = audit.Close()
			}
			return nil, err
		}
		s.closers = append(s.closers, rc.Close)
		orchOpts = append(orchOpts, dispatch.WithCache(rc))
	}
	s.Orchestrator, err = dispatch.NewOrchestrator(cfg.Dispatch, s.Store, s.Notifier, logger.NewLeveled("dispatch", cfg.Log.Level), orchOpts...)
	if err != nil {
		if audit != nil {
			_ = audit.Close()
		}
		return nil, err
	}
	s.closers = append(s.closers, s.Orchestrator.Close)

	s.Commands, err = dispatch.NewCommandService(s.Orchestrator, s.Store, s.Gateway, s.log, cfg.Broker.MaxAttempts)
	if err != nil {
		return nil, err
	}
	if s.cron, err = s.schedule(); err != nil {
		return nil, err
	}
	return s, nil
}

// Run subscribes the consumers, starts the sweeps and the metrics endpoint,
// then blocks until ctx ends or the broker is given up on.
func (s *Service) Run(ctx context.Context) error {
	subs := []struct {
		queue string
		h     queue.Handler
	}{
		{queue.QueueLeadDistribution, s.Orchestrator.DistributionHandler()},
		{queue.QueueLeadResponses, s.Orchestrator.ResponseHandler()},
	}
	if s.email != nil {
		subs = append(subs, struct {
			queue string
			h     queue.Handler
		}{queue.QueueNotificationsEmail, s.email})
	}
	for _, sub := range subs {
		if err := s.Gateway.Subscribe(ctx, sub.queue, sub.h); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.queue, err)
		}
		s.log.Infof("consuming %s", sub.queue)
	}

	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	collected := metrics.StartEventCollector(ctx, s.Bus, s.sink)
	defer func() { <-collected }()

	if port := s.cfg.Metrics.PrometheusPort; port != "" && port != "off" {
		go func() {
			if err := metrics.StartPromServer(ctx, ":"+port, s.Health, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-s.Gateway.Unavailable():
		if err == nil {
			err = model.ErrBrokerUnavailable
		}
		s.log.Errorf("broker unavailable, stopping: %v", err)
		return err
	}
}

// Health is nil while the broker is usable.
func (s *Service) Health() error {
	if s.Gateway == nil || !s.Gateway.Healthy() {
		return errors.New("broker unavailable")
	}
	return nil
}

// Stats combines orchestrator and queue counters.
func (s *Service) Stats() map[string]any {
	return map[string]any{
		"dispatch": s.Orchestrator.Stats(),
		"queues":   s.Gateway.Stats(),
	}
}

// Close releases everything New opened, last opened first.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
