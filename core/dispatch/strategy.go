package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/notify"
	"github.com/kilianp07/leadroute/core/scoring"
)

// delivery is the outcome of alerting one selected contractor.
type delivery struct {
	result scoring.Result
	sentAt time.Time
	report notify.Report
	err    error
}

func (d delivery) delivered() bool { return d.err == nil && d.report.Delivered() }

type sendFunc func(ctx context.Context, r scoring.Result) delivery

// strategy notifies the selected contractors and returns deliveries in send
// order. Contractors not reached because ctx ended are absent.
type strategy interface {
	deliver(ctx context.Context, selected []scoring.Result, send sendFunc) []delivery
}

func newStrategy(cfg Config) strategy {
	switch cfg.Method {
	case MethodSequential:
		return sequential{delay: cfg.SequentialDelay}
	case MethodParallel:
		return parallel{}
	default:
		return tiered{delay: cfg.TierDelay}
	}
}

type parallel struct{}

func (parallel) deliver(ctx context.Context, selected []scoring.Result, send sendFunc) []delivery {
	out := make([]delivery, len(selected))
	var g errgroup.Group
	for i, r := range selected {
		g.Go(func() error {
			out[i] = send(ctx, r)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type sequential struct{ delay time.Duration }

func (s sequential) deliver(ctx context.Context, selected []scoring.Result, send sendFunc) []delivery {
	out := make([]delivery, 0, len(selected))
	for i, r := range selected {
		if i > 0 && !sleep(ctx, s.delay) {
			break
		}
		out = append(out, send(ctx, r))
	}
	return out
}

type tiered struct{ delay time.Duration }

func (t tiered) deliver(ctx context.Context, selected []scoring.Result, send sendFunc) []delivery {
	out := make([]delivery, 0, len(selected))
	for i, batch := range groupByTier(selected) {
		if i > 0 && !sleep(ctx, t.delay) {
			break
		}
		out = append(out, parallel{}.deliver(ctx, batch, send)...)
	}
	return out
}

// groupByTier returns the non-empty tier batches, highest tier first, keeping
// rank order inside a batch. Unknown tiers form the last batch.
func groupByTier(selected []scoring.Result) [][]scoring.Result {
	byTier := make(map[model.Tier][]scoring.Result)
	var unknown []scoring.Result
	for _, r := range selected {
		if r.Contractor.Tier.Rank() == 0 {
			unknown = append(unknown, r)
			continue
		}
		byTier[r.Contractor.Tier] = append(byTier[r.Contractor.Tier], r)
	}
	var batches [][]scoring.Result
	for _, tier := range model.Tiers() {
		if b := byTier[tier]; len(b) > 0 {
			batches = append(batches, b)
		}
	}
	if len(unknown) > 0 {
		batches = append(batches, unknown)
	}
	return batches
}

// sleep waits d or until ctx ends, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
