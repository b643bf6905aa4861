package metrics

import (
	"context"

	"github.com/kilianp07/leadroute/core/events"
	coremetrics "github.com/kilianp07/leadroute/core/metrics"
	"github.com/kilianp07/leadroute/internal/eventbus"
)

// StartEventCollector forwards lead status transitions to sink when it is a
// LeadStatusRecorder. Declines and retry scheduling do not move the status
// and are not recorded. The returned channel closes once the collector exits
// on ctx or bus close.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.LeadUpdate], sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	rec, ok := sink.(coremetrics.LeadStatusRecorder)
	if bus == nil || !ok {
		close(done)
		return done
	}
	sub := bus.SubscribeFunc(func(ev events.LeadUpdate) bool {
		return ev.Action != events.ActionDeclined && ev.Action != events.ActionRetryScheduled
	})
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				_ = rec.RecordLeadStatus(coremetrics.LeadStatusEvent{LeadID: ev.LeadID, Status: ev.Status, Time: ev.Time})
			}
		}
	}()
	return done
}
