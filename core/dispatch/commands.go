package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/leadroute/core/lifecycle"
	"github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/queue"
	"github.com/kilianp07/leadroute/core/store"
)

// Totals counts attempts by state.
type Totals struct {
	Notified   int `json:"notified"`
	Responses  int `json:"responses"`
	Accepted   int `json:"accepted"`
	Declined   int `json:"declined"`
	Pending    int `json:"pending"`
	Superseded int `json:"superseded"`
}

// LeadStatus is the read model returned by Status.
type LeadStatus struct {
	LeadID                string                      `json:"lead_id"`
	Status                model.Status                `json:"status"`
	Expired               bool                        `json:"expired"`
	Round                 int                         `json:"round"`
	DistributionStartedAt *time.Time                  `json:"distribution_started_at,omitempty"`
	DistributionExpiresAt *time.Time                  `json:"distribution_expires_at,omitempty"`
	AssignedContractorID  string                      `json:"assigned_contractor_id,omitempty"`
	AssignedAt            *time.Time                  `json:"assigned_at,omitempty"`
	CancelReason          string                      `json:"cancel_reason,omitempty"`
	RetryPending          bool                        `json:"retry_pending"`
	Totals                Totals                      `json:"totals"`
	Attempts              []model.DistributionAttempt `json:"attempts"`
}

// Status reads the lead and summarises its attempts. Expired is computed
// from the clock, independent of the stored status.
func (o *Orchestrator) Status(ctx context.Context, leadID string) (*LeadStatus, error) {
	lead, err := o.store.FindLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	st := &LeadStatus{
		LeadID:                lead.ID,
		Status:                lead.Status,
		Expired:               lifecycle.IsExpired(lead, o.clock()),
		Round:                 lead.Round(),
		DistributionStartedAt: lead.DistributionStartedAt,
		DistributionExpiresAt: lead.DistributionExpiresAt,
		AssignedContractorID:  lead.AssignedContractorID,
		AssignedAt:            lead.AssignedAt,
		CancelReason:          lead.CancelReason,
		RetryPending:          o.retries.Pending(leadID),
		Attempts:              lead.Attempts,
	}
	for _, a := range lead.Attempts {
		st.Totals.Notified++
		switch {
		case a.Response == model.ResponseAccepted:
			st.Totals.Responses++
			st.Totals.Accepted++
		case a.Response == model.ResponseDeclined:
			st.Totals.Responses++
			st.Totals.Declined++
		case a.Superseded:
			st.Totals.Superseded++
		default:
			st.Totals.Pending++
		}
	}
	return st, nil
}

// CommandService is the caller-facing surface: distribution requests and
// responses go through the broker, reads and cancellation are direct.
type CommandService struct {
	orch        *Orchestrator
	store       store.Store
	pub         queue.Publisher
	log         logger.Logger
	maxAttempts int
}

// NewCommandService wires the command surface. maxAttempts is the retry
// ceiling stamped on published envelopes.
func NewCommandService(o *Orchestrator, st store.Store, pub queue.Publisher, log logger.Logger, maxAttempts int) (*CommandService, error) {
	if o == nil || st == nil || pub == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewCommandService")
	}
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultPolicy().MaxAttempts
	}
	return &CommandService{orch: o, store: st, pub: pub, log: log, maxAttempts: maxAttempts}, nil
}

// RequestDistribution checks the lead can be distributed and publishes a
// distribute command. It returns the envelope id.
func (s *CommandService) RequestDistribution(ctx context.Context, leadID string) (string, error) {
	if leadID == "" {
		return "", &model.ValidationError{Field: "lead_id", Reason: "required"}
	}
	lead, err := s.store.FindLead(ctx, leadID)
	if err != nil {
		return "", err
	}
	now := s.orch.clock()
	if err := lifecycle.CheckDistribute(lead, now); err != nil {
		return "", err
	}
	key := queue.DistributeKey(lead.Priority, lead.Emergency)
	cmd := queue.DistributeCommand{LeadID: leadID, Reason: "requested", RequestedAt: now}
	id, err := s.pub.Publish(ctx, key, cmd, queue.WithMaxAttempts(s.maxAttempts), queue.WithTimestamp(now))
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	s.log.Infof("distribution of lead %s requested on %s (message %s)", leadID, key, id)
	return id, nil
}

// Respond validates a response and publishes it for the response consumer.
func (s *CommandService) Respond(ctx context.Context, leadID, contractorID, response, reason string) (string, error) {
	r, err := model.ParseResponse(response)
	if err != nil {
		return "", err
	}
	now := s.orch.clock()
	ev := queue.ResponseEvent{LeadID: leadID, ContractorID: contractorID, Response: r, Reason: reason, RespondedAt: now}
	if err := model.Validate(ev); err != nil {
		return "", err
	}
	key := queue.ResponseKey(r)
	id, err := s.pub.Publish(ctx, key, ev, queue.WithMaxAttempts(s.maxAttempts), queue.WithTimestamp(now))
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	return id, nil
}

// Status returns the lead read model.
func (s *CommandService) Status(ctx context.Context, leadID string) (*LeadStatus, error) {
	return s.orch.Status(ctx, leadID)
}

// Cancel withdraws a lead before acceptance.
func (s *CommandService) Cancel(ctx context.Context, leadID, reason string) (*model.Lead, error) {
	return s.orch.Cancel(ctx, leadID, reason)
}

// DistributionHandler consumes lead.distribution commands.
func (o *Orchestrator) DistributionHandler() queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, env *queue.Envelope) error {
		cmd, err := queue.Decode[queue.DistributeCommand](env)
		if err != nil {
			return err
		}
		res, err := o.Distribute(ctx, cmd.LeadID)
		if err != nil {
			return err
		}
		o.log.Debugw("distribute command applied", map[string]any{
			"message_id": env.ID, "lead_id": cmd.LeadID, "notified": res.Notified, "attempt": env.Attempts,
		})
		return nil
	})
}

// ResponseHandler consumes lead.responses events. A redelivered response
// hits the duplicate check and is dropped.
func (o *Orchestrator) ResponseHandler() queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, env *queue.Envelope) error {
		ev, err := queue.Decode[queue.ResponseEvent](env)
		if err != nil {
			return err
		}
		_, err = o.HandleResponse(ctx, ev.LeadID, ev.ContractorID, ev.Response, ev.Reason)
		return err
	})
}
