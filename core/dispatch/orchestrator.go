// Package dispatch runs distribution rounds for leads: it selects and scores
// contractors, alerts them with the configured strategy, records attempts and
// applies their responses.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kilianp07/leadroute/core/dispatch/logging"
	"github.com/kilianp07/leadroute/core/events"
	"github.com/kilianp07/leadroute/core/geo"
	"github.com/kilianp07/leadroute/core/lifecycle"
	"github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/metrics"
	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/monitoring"
	"github.com/kilianp07/leadroute/core/notify"
	"github.com/kilianp07/leadroute/core/scoring"
	"github.com/kilianp07/leadroute/core/store"
	"github.com/kilianp07/leadroute/internal/eventbus"
)

// Notification is the per-contractor line of a DistributionResult.
type Notification struct {
	ContractorID      string     `json:"contractor_id"`
	Tier              model.Tier `json:"tier"`
	Rank              int        `json:"rank"`
	Score             float64    `json:"score"`
	DistanceKm        float64    `json:"distance_km"`
	TravelTimeMinutes int        `json:"travel_time_minutes"`
	SentAt            time.Time  `json:"sent_at"`
	Channels          []string   `json:"channels,omitempty"`
	Delivered         bool       `json:"delivered"`
	Errors            []string   `json:"errors,omitempty"`
	Explanation       string     `json:"explanation,omitempty"`
}

// DistributionResult summarises one round.
type DistributionResult struct {
	LeadID        string         `json:"lead_id"`
	Round         int            `json:"round"`
	Method        Method         `json:"method"`
	Considered    int            `json:"considered"`
	Eligible      int            `json:"eligible"`
	Selected      int            `json:"selected"`
	Notified      int            `json:"notified"`
	Notifications []Notification `json:"notifications"`
	StartedAt     time.Time      `json:"started_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	Duration      time.Duration  `json:"duration"`
	// Errors holds per-contractor delivery failures.
	Errors []error `json:"-"`
}

// ResponseResult describes an applied response.
type ResponseResult struct {
	LeadID         string         `json:"lead_id"`
	ContractorID   string         `json:"contractor_id"`
	Response       model.Response `json:"response"`
	Status         model.Status   `json:"status"`
	Superseded     int            `json:"superseded,omitempty"`
	RetryScheduled bool           `json:"retry_scheduled"`
	RetryAt        *time.Time     `json:"retry_at,omitempty"`
}

// Stats are process-local counters.
type Stats struct {
	ActiveDistributions int   `json:"active_distributions"`
	FairnessEntries     int   `json:"fairness_entries"`
	PendingRetries      int   `json:"pending_retries"`
	Rounds              int64 `json:"rounds"`
	Notified            int64 `json:"notified"`
	Accepted            int64 `json:"accepted"`
	Declined            int64 `json:"declined"`
	Expired             int64 `json:"expired"`
	Cancelled           int64 `json:"cancelled"`
}

type counters struct {
	rounds, notified, accepted, declined, expired, cancelled atomic.Int64
}

// Orchestrator coordinates distribution rounds. It is safe for concurrent
// use; work on one lead is serialised, distinct leads proceed independently.
type Orchestrator struct {
	cfg      Config
	store    store.Store
	notifier notify.Notifier
	scorer   *scoring.Scorer
	strategy strategy
	fairness *FairnessCounter
	active   *ActiveRegistry
	locks    *keyedMutex
	retries  RetryScheduler
	cache    DistributionCache
	audit    logging.LogStore
	metrics  metrics.MetricsSink
	bus      *eventbus.TypedBus[events.LeadUpdate]
	log      logger.Logger
	clock    func() time.Time
	stats    counters

	// base outlives requests; retry rounds run under it.
	base   context.Context
	cancel context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScorer replaces the default scorer.
func WithScorer(s *scoring.Scorer) Option { return func(o *Orchestrator) { o.scorer = s } }

// WithFairnessCounter shares a counter, typically with the reset job.
func WithFairnessCounter(f *FairnessCounter) Option {
	return func(o *Orchestrator) { o.fairness = f }
}

// WithRetryScheduler replaces the in-process timer scheduler.
func WithRetryScheduler(r RetryScheduler) Option { return func(o *Orchestrator) { o.retries = r } }

// WithCache mirrors open rounds into c.
func WithCache(c DistributionCache) Option { return func(o *Orchestrator) { o.cache = c } }

// WithAuditLog appends every decision to s.
func WithAuditLog(s logging.LogStore) Option { return func(o *Orchestrator) { o.audit = s } }

// WithMetrics records rounds and responses on sink.
func WithMetrics(sink metrics.MetricsSink) Option { return func(o *Orchestrator) { o.metrics = sink } }

// WithEventBus publishes lead updates on bus.
func WithEventBus(bus *eventbus.TypedBus[events.LeadUpdate]) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option { return func(o *Orchestrator) { o.clock = clock } }

// NewOrchestrator validates cfg and wires the collaborators.
func NewOrchestrator(cfg Config, st store.Store, n notify.Notifier, log logger.Logger, opts ...Option) (*Orchestrator, error) {
	if st == nil || n == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewOrchestrator")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		notifier: n,
		strategy: newStrategy(cfg),
		active:   NewActiveRegistry(),
		locks:    newKeyedMutex(),
		log:      log,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.scorer == nil {
		o.scorer = scoring.NewScorer(scoring.Config{}, scoring.WithClock(o.clock))
	}
	if o.fairness == nil {
		o.fairness = NewFairnessCounter()
	}
	if o.retries == nil {
		o.retries = NewTimerScheduler()
	}
	if o.metrics == nil {
		o.metrics = metrics.NopSink{}
	}
	o.base, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Fairness exposes the shared fairness counter.
func (o *Orchestrator) Fairness() *FairnessCounter { return o.fairness }

// Distribute runs a first round for a PENDING lead against the currently
// available contractors.
func (o *Orchestrator) Distribute(ctx context.Context, leadID string) (*DistributionResult, error) {
	return o.round(ctx, leadID, nil, false)
}

// DistributeTo runs a first round restricted to candidates.
func (o *Orchestrator) DistributeTo(ctx context.Context, leadID string, candidates []model.Contractor) (*DistributionResult, error) {
	if candidates == nil {
		candidates = []model.Contractor{}
	}
	return o.round(ctx, leadID, candidates, false)
}

// Retry runs a further round for a DISTRIBUTED lead, skipping contractors
// already alerted.
func (o *Orchestrator) Retry(ctx context.Context, leadID string) (*DistributionResult, error) {
	return o.round(ctx, leadID, nil, true)
}

// round runs one distribution round. nil candidates means "fetch a fresh list".
//
//gocyclo:ignore
func (o *Orchestrator) round(ctx context.Context, leadID string, candidates []model.Contractor, retry bool) (*DistributionResult, error) {
	unlock := o.locks.Lock(leadID)
	defer unlock()

	start := o.clock()
	lead, err := o.store.FindLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if err := o.checkRound(lead, start, retry); err != nil {
		return nil, err
	}
	if candidates == nil {
		if candidates, err = o.store.ListAvailableContractors(ctx); err != nil {
			return nil, fmt.Errorf("list contractors: %w", err)
		}
	}
	considered := len(candidates)
	if retry {
		candidates = withoutAttempted(lead, candidates)
	}

	limit, radius := o.cfg.limits(lead.Emergency)
	nearby := geo.FilterByRadius(lead.Location, candidates, radius)
	pool := make([]model.Contractor, len(nearby))
	for i, r := range nearby {
		pool[i] = r.Contractor
	}
	scored := o.scorer.CalculatePriorityScores(lead, pool)
	if len(scored) == 0 {
		roundsTotal.WithLabelValues(string(o.cfg.Method), "no_candidates").Inc()
		o.log.Warnf("lead %s: no eligible contractors among %d candidates", leadID, considered)
		return nil, &model.NoEligibleCandidatesError{LeadID: leadID, Considered: considered}
	}
	// Every method takes the top of the fairness-adjusted ranking. Tiered
	// delivery only changes the order in which the selection is notified.
	selected := o.scorer.ApplyFairness(scored, o.fairness.Snapshot(), limit)

	roundNo := lead.Round() + 1
	o.log.Infow("distribution round started", map[string]any{
		"lead_id":    leadID,
		"round":      roundNo,
		"method":     string(o.cfg.Method),
		"candidates": considered,
		"eligible":   len(scored),
		"selected":   len(selected),
		"emergency":  lead.Emergency,
	})

	snapshot := lead.Clone()
	deliveries := o.strategy.deliver(ctx, selected, func(ctx context.Context, r scoring.Result) delivery {
		return o.send(ctx, snapshot, r, roundNo)
	})

	res := &DistributionResult{
		LeadID:     leadID,
		Round:      roundNo,
		Method:     o.cfg.Method,
		Considered: considered,
		Eligible:   len(scored),
		Selected:   len(selected),
	}
	var reached []delivery
	for _, d := range deliveries {
		n := Notification{
			ContractorID:      d.result.ContractorID,
			Tier:              d.result.Contractor.Tier,
			Rank:              d.result.Rank,
			Score:             d.result.Total,
			DistanceKm:        d.result.DistanceKm,
			TravelTimeMinutes: d.result.TravelTimeMinutes,
			SentAt:            d.sentAt,
			Delivered:         d.delivered(),
			Explanation:       scoring.Explain(d.result),
		}
		var failures []error
		if d.err != nil {
			failures = []error{&model.NotificationDeliveryError{ContractorID: n.ContractorID, Err: d.err}}
		} else {
			n.Channels = d.report.Channels()
			failures = d.report.Errors()
		}
		for _, e := range failures {
			n.Errors = append(n.Errors, e.Error())
		}
		res.Errors = append(res.Errors, failures...)
		if n.Delivered {
			reached = append(reached, d)
			notificationsTotal.WithLabelValues("delivered").Inc()
		} else {
			notificationsTotal.WithLabelValues("failed").Inc()
			o.log.Warnf("lead %s: contractor %s not reached: %v", leadID, n.ContractorID, n.Errors)
		}
		res.Notifications = append(res.Notifications, n)
		o.recordNotification(leadID, d, n)
	}
	res.Notified = len(reached)
	res.Duration = o.clock().Sub(start)

	if len(reached) == 0 {
		roundsTotal.WithLabelValues(string(o.cfg.Method), "undelivered").Inc()
		o.recordRound(lead, res)
		o.appendAudit(ctx, lead, "round_failed", res, "")
		return res, fmt.Errorf("lead %s: none of %d selected contractors reached: %w", leadID, len(selected), errors.Join(res.Errors...))
	}

	// Re-read before mutating: the lead may have changed while alerts were in flight.
	lead, err = o.store.FindLead(ctx, leadID)
	if err != nil {
		return res, err
	}
	now := o.clock()
	if err := o.checkRound(lead, now, retry); err != nil {
		o.log.Warnf("lead %s changed during round %d: %v", leadID, roundNo, err)
		return res, err
	}
	for _, d := range reached {
		lead.Attempts = append(lead.Attempts, model.DistributionAttempt{
			ContractorID: d.result.ContractorID,
			Round:        roundNo,
			SentAt:       d.sentAt,
			Score:        d.result.Total,
			DistanceKm:   d.result.DistanceKm,
			Channels:     d.report.Channels(),
		})
	}
	if err := lifecycle.StartDistribution(lead, start, o.cfg.Expiry()); err != nil {
		return res, err
	}
	if err := o.store.SaveLead(ctx, lead); err != nil {
		monitoring.CaptureException(err, map[string]string{"lead_id": leadID, "op": "save_round"})
		return res, fmt.Errorf("save lead %s: %w", leadID, err)
	}
	res.StartedAt = *lead.DistributionStartedAt
	res.ExpiresAt = *lead.DistributionExpiresAt

	ids := make([]string, len(reached))
	for i, d := range reached {
		ids[i] = d.result.ContractorID
	}
	o.fairness.Increment(ids...)
	o.active.Put(ActiveDistribution{LeadID: leadID, ContractorIDs: ids, Round: roundNo, StartedAt: res.StartedAt, ExpiresAt: res.ExpiresAt})
	activeLeads.Set(float64(o.active.Len()))
	o.putCache(ctx, leadID, roundNo, now)
	o.stats.rounds.Add(1)
	o.stats.notified.Add(int64(len(ids)))

	roundsTotal.WithLabelValues(string(o.cfg.Method), "ok").Inc()
	roundDuration.WithLabelValues(string(o.cfg.Method)).Observe(res.Duration.Seconds())
	leadTransitions.WithLabelValues(string(model.StatusDistributed)).Inc()
	o.recordRound(lead, res)
	o.appendAudit(ctx, lead, string(events.ActionDistributed), res, "")
	o.publish(events.LeadUpdate{
		LeadID: leadID, Action: events.ActionDistributed, Status: lead.Status,
		Notified: len(ids), Round: roundNo, Time: now,
	})
	o.log.Infof("lead %s round %d: notified %d/%d contractors in %s", leadID, roundNo, len(ids), len(selected), res.Duration)
	return res, nil
}

func (o *Orchestrator) checkRound(l *model.Lead, now time.Time, retry bool) error {
	if retry {
		return lifecycle.CheckRetry(l, now)
	}
	return lifecycle.CheckDistribute(l, now)
}

// send alerts one contractor. Panics in the notifier are reported and turned
// into a failed delivery.
func (o *Orchestrator) send(ctx context.Context, lead *model.Lead, r scoring.Result, roundNo int) (d delivery) {
	d = delivery{result: r, sentAt: o.clock()}
	defer func() {
		if p := recover(); p != nil {
			d.err = fmt.Errorf("notifier panic: %v", p)
			monitoring.CaptureException(d.err, map[string]string{"lead_id": lead.ID, "contractor_id": r.ContractorID})
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.NotifyTimeout)
	defer cancel()
	attempt := model.DistributionAttempt{
		ContractorID: r.ContractorID,
		Round:        roundNo,
		SentAt:       d.sentAt,
		Score:        r.Total,
		DistanceKm:   r.DistanceKm,
	}
	d.report, d.err = o.notifier.SendLeadAlert(ctx, r.Contractor, lead, attempt)
	if d.report.ContractorID == "" {
		d.report.ContractorID = r.ContractorID
	}
	return d
}

func withoutAttempted(l *model.Lead, cs []model.Contractor) []model.Contractor {
	out := make([]model.Contractor, 0, len(cs))
	for _, c := range cs {
		if !l.Attempted(c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// HandleResponse applies a contractor's answer. The existence check on the
// attempt orders responses after sends; expiry wins over late answers.
//
//gocyclo:ignore
func (o *Orchestrator) HandleResponse(ctx context.Context, leadID, contractorID string, r model.Response, reason string) (*ResponseResult, error) {
	if _, err := model.ParseResponse(string(r)); err != nil {
		return nil, err
	}
	if contractorID == "" {
		return nil, &model.ValidationError{Field: "contractor_id", Reason: "required"}
	}
	unlock := o.locks.Lock(leadID)
	defer unlock()

	lead, err := o.store.FindLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	attempt := lead.AttemptFor(contractorID)
	if attempt == nil {
		return nil, &model.NotFoundError{Kind: "attempt", ID: leadID + "/" + contractorID}
	}
	if attempt.Response != "" {
		return nil, &model.DuplicateResponseError{
			LeadID: leadID, ContractorID: contractorID,
			Previous: attempt.Response, RespondedAt: attempt.RespondedAt,
		}
	}
	now := o.clock()
	target := model.StatusDistributed
	if r == model.ResponseAccepted {
		target = model.StatusAccepted
	}
	if lifecycle.IsExpired(lead, now) {
		return nil, &model.InvalidTransitionError{LeadID: leadID, From: lead.Status, To: target, Expired: true, Reason: "response arrived after expiry"}
	}
	if lead.Status != model.StatusDistributed {
		return nil, &model.InvalidTransitionError{LeadID: leadID, From: lead.Status, To: target, Reason: "lead is not in distribution"}
	}
	if err := attempt.Record(leadID, r, reason, now); err != nil {
		return nil, err
	}
	latency := now.Sub(attempt.SentAt)

	out := &ResponseResult{LeadID: leadID, ContractorID: contractorID, Response: r}
	switch r {
	case model.ResponseAccepted:
		before := openAttempts(lead)
		if err := lifecycle.Accept(lead, contractorID, now); err != nil {
			return nil, err
		}
		out.Superseded = before
	case model.ResponseDeclined:
		lead.UpdatedAt = now
	}
	if err := o.store.SaveLead(ctx, lead); err != nil {
		monitoring.CaptureException(err, map[string]string{"lead_id": leadID, "op": "save_response"})
		return nil, fmt.Errorf("save lead %s: %w", leadID, err)
	}
	out.Status = lead.Status
	responsesTotal.WithLabelValues(string(r)).Inc()
	if err := o.responseRecorder(metrics.ResponseEvent{LeadID: leadID, ContractorID: contractorID, Response: r, Latency: latency, Time: now}); err != nil {
		o.log.Errorf("response metrics error: %v", err)
	}

	if r == model.ResponseAccepted {
		o.stats.accepted.Add(1)
		o.closeRound(ctx, leadID)
		leadTransitions.WithLabelValues(string(model.StatusAccepted)).Inc()
		o.auditContractor(ctx, lead, string(events.ActionAccepted), contractorID)
		o.publish(events.LeadUpdate{LeadID: leadID, Action: events.ActionAccepted, Status: lead.Status, ContractorID: contractorID, Round: lead.Round(), Time: now})
		o.log.Infof("lead %s accepted by %s (%d open attempts superseded)", leadID, contractorID, out.Superseded)
		return out, nil
	}

	o.stats.declined.Add(1)
	o.auditContractor(ctx, lead, string(events.ActionDeclined), contractorID)
	o.publish(events.LeadUpdate{LeadID: leadID, Action: events.ActionDeclined, Status: lead.Status, ContractorID: contractorID, Round: lead.Round(), Time: now})
	prior := lead.Declines() - 1
	if o.cfg.AutoRetry() && prior < o.cfg.MaxRetryAttempts {
		if o.scheduleRetry(leadID) {
			at := now.Add(o.cfg.RetryDelay())
			out.RetryScheduled = true
			out.RetryAt = &at
			retriesScheduled.Inc()
			o.publish(events.LeadUpdate{LeadID: leadID, Action: events.ActionRetryScheduled, Status: lead.Status, Round: lead.Round(), Time: now})
			o.log.Infof("lead %s declined by %s, retry %d/%d at %s", leadID, contractorID, prior+1, o.cfg.MaxRetryAttempts, at.Format(time.RFC3339))
		}
	} else {
		o.log.Infof("lead %s declined by %s, retry budget spent (%d declines)", leadID, contractorID, prior+1)
	}
	return out, nil
}

func openAttempts(l *model.Lead) int {
	n := 0
	for _, a := range l.Attempts {
		if a.Open() {
			n++
		}
	}
	return n
}

func (o *Orchestrator) scheduleRetry(leadID string) bool {
	return o.retries.Schedule(leadID, o.cfg.RetryDelay(), func() {
		res, err := o.Retry(o.base, leadID)
		switch {
		case err == nil:
			o.log.Infof("lead %s retry round %d notified %d contractors", leadID, res.Round, res.Notified)
		case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrNoEligibleCandidates):
			o.log.Infof("lead %s retry skipped: %v", leadID, err)
		default:
			o.log.Errorf("lead %s retry failed: %v", leadID, err)
			monitoring.CaptureException(err, map[string]string{"lead_id": leadID, "op": "retry"})
		}
	})
}

// Cancel withdraws a PENDING or DISTRIBUTED lead.
func (o *Orchestrator) Cancel(ctx context.Context, leadID, reason string) (*model.Lead, error) {
	unlock := o.locks.Lock(leadID)
	defer unlock()

	lead, err := o.store.FindLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	now := o.clock()
	if err := lifecycle.Cancel(lead, reason, now); err != nil {
		return nil, err
	}
	if err := o.store.SaveLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("save lead %s: %w", leadID, err)
	}
	o.stats.cancelled.Add(1)
	o.closeRound(ctx, leadID)
	leadTransitions.WithLabelValues(string(model.StatusCancelled)).Inc()
	o.appendAudit(ctx, lead, string(events.ActionCancelled), nil, reason)
	o.publish(events.LeadUpdate{LeadID: leadID, Action: events.ActionCancelled, Status: lead.Status, Time: now})
	o.log.Infof("lead %s cancelled: %s", leadID, reason)
	return lead, nil
}

// SweepExpired moves every expired DISTRIBUTED lead to EXPIRED and returns
// how many were expired. Per-lead failures are joined; the sweep continues.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int, error) {
	now := o.clock()
	leads, err := o.store.FindExpiredDistributedLeads(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired leads: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, l := range leads {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := o.expire(ctx, l.ID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		o.log.Infof("expired %d leads", n)
	}
	return n, errors.Join(errs...)
}

func (o *Orchestrator) expire(ctx context.Context, leadID string, now time.Time) (bool, error) {
	unlock := o.locks.Lock(leadID)
	defer unlock()

	lead, err := o.store.FindLead(ctx, leadID)
	if err != nil {
		return false, err
	}
	if lead.Status != model.StatusDistributed || !lifecycle.IsExpired(lead, now) {
		return false, nil
	}
	if err := lifecycle.Expire(lead, now); err != nil {
		return false, err
	}
	if err := o.store.SaveLead(ctx, lead); err != nil {
		return false, fmt.Errorf("save lead %s: %w", leadID, err)
	}
	o.stats.expired.Add(1)
	o.closeRound(ctx, leadID)
	leadTransitions.WithLabelValues(string(model.StatusExpired)).Inc()
	o.appendAudit(ctx, lead, string(events.ActionExpired), nil, "")
	o.publish(events.LeadUpdate{LeadID: leadID, Action: events.ActionExpired, Status: lead.Status, Round: lead.Round(), Time: now})
	return true, nil
}

// ResetFairness clears the fairness counter and returns the entries dropped.
func (o *Orchestrator) ResetFairness() int {
	n := o.fairness.Reset()
	o.log.Debugf("fairness counter reset (%d entries)", n)
	return n
}

// Stats returns process-local counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		ActiveDistributions: o.active.Len(),
		FairnessEntries:     o.fairness.Len(),
		PendingRetries:      o.retries.Len(),
		Rounds:              o.stats.rounds.Load(),
		Notified:            o.stats.notified.Load(),
		Accepted:            o.stats.accepted.Load(),
		Declined:            o.stats.declined.Load(),
		Expired:             o.stats.expired.Load(),
		Cancelled:           o.stats.cancelled.Load(),
	}
}

// Close stops pending retries and releases the audit log.
func (o *Orchestrator) Close() error {
	o.cancel()
	o.retries.Stop()
	if o.audit != nil {
		return o.audit.Close()
	}
	return nil
}

// closeRound forgets local state for a lead that left distribution.
func (o *Orchestrator) closeRound(ctx context.Context, leadID string) {
	o.retries.Cancel(leadID)
	o.active.Remove(leadID)
	activeLeads.Set(float64(o.active.Len()))
	if o.cache != nil {
		if err := o.cache.Delete(ctx, leadID); err != nil {
			o.log.Warnf("cache delete %s: %v", leadID, err)
		}
	}
}

func (o *Orchestrator) putCache(ctx context.Context, leadID string, roundNo int, now time.Time) {
	if o.cache == nil {
		return
	}
	d, ok := o.active.Get(leadID)
	if !ok {
		return
	}
	ttl := d.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return
	}
	entry := CachedDistribution{
		LeadID:        leadID,
		ContractorIDs: d.ContractorIDs,
		Round:         roundNo,
		DistributedAt: d.StartedAt,
		ExpiresAt:     d.ExpiresAt,
	}
	if err := o.cache.Put(ctx, entry, ttl); err != nil {
		o.log.Warnf("cache put %s: %v", leadID, err)
	}
}

func (o *Orchestrator) publish(ev events.LeadUpdate) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

func (o *Orchestrator) recordRound(l *model.Lead, res *DistributionResult) {
	ev := metrics.RoundEvent{
		LeadID:    res.LeadID,
		Round:     res.Round,
		Method:    string(res.Method),
		Priority:  l.Priority,
		Emergency: l.Emergency,
		Eligible:  res.Eligible,
		Selected:  res.Selected,
		Notified:  res.Notified,
		Failed:    len(res.Notifications) - res.Notified,
		Duration:  res.Duration,
		Time:      o.clock(),
	}
	if err := o.metrics.RecordRound(ev); err != nil {
		o.log.Errorf("round metrics error: %v", err)
	}
}

func (o *Orchestrator) recordNotification(leadID string, d delivery, n Notification) {
	rec, ok := o.metrics.(metrics.NotificationRecorder)
	if !ok {
		return
	}
	channels := n.Channels
	if len(channels) == 0 {
		channels = []string{""}
	}
	for _, ch := range channels {
		ev := metrics.NotificationEvent{
			LeadID:       leadID,
			ContractorID: n.ContractorID,
			Tier:         n.Tier,
			Channel:      ch,
			Delivered:    n.Delivered,
			Score:        n.Score,
			DistanceKm:   n.DistanceKm,
			Time:         d.sentAt,
		}
		if err := rec.RecordNotification(ev); err != nil {
			o.log.Errorf("notification metrics error: %v", err)
		}
	}
}

func (o *Orchestrator) responseRecorder(ev metrics.ResponseEvent) error {
	if rec, ok := o.metrics.(metrics.ResponseRecorder); ok {
		return rec.RecordResponse(ev)
	}
	return nil
}

func (o *Orchestrator) appendAudit(ctx context.Context, l *model.Lead, event string, res *DistributionResult, note string) {
	if o.audit == nil {
		return
	}
	rec := logging.LogRecord{
		Timestamp: o.clock(),
		LeadID:    l.ID,
		Event:     event,
		Status:    string(l.Status),
		Round:     l.Round(),
		Note:      note,
	}
	if res != nil {
		rec.Round = res.Round
		rec.Method = string(res.Method)
		for _, n := range res.Notifications {
			rec.Candidates = append(rec.Candidates, logging.Candidate{
				ContractorID: n.ContractorID,
				Rank:         n.Rank,
				Score:        n.Score,
				DistanceKm:   n.DistanceKm,
				Notified:     n.Delivered,
				Channels:     n.Channels,
				Explanation:  n.Explanation,
			})
			if len(n.Errors) > 0 {
				if rec.Errors == nil {
					rec.Errors = make(map[string]string)
				}
				rec.Errors[n.ContractorID] = strings.Join(n.Errors, "; ")
			}
		}
	}
	o.writeAudit(ctx, rec)
}

func (o *Orchestrator) auditContractor(ctx context.Context, l *model.Lead, event, contractorID string) {
	if o.audit == nil {
		return
	}
	rec := logging.LogRecord{
		Timestamp:    o.clock(),
		LeadID:       l.ID,
		Event:        event,
		Status:       string(l.Status),
		Round:        l.Round(),
		ContractorID: contractorID,
	}
	if a := l.AttemptFor(contractorID); a != nil {
		rec.Note = a.DeclineReason
	}
	o.writeAudit(ctx, rec)
}

func (o *Orchestrator) writeAudit(ctx context.Context, rec logging.LogRecord) {
	if err := o.audit.Append(ctx, rec); err != nil {
		o.log.Errorf("audit append %s/%s: %v", rec.LeadID, rec.Event, err)
	}
}
