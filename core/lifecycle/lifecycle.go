// Package lifecycle enforces legal lead status transitions and computes
// distribution expiry.
package lifecycle

import (
	"slices"
	"time"

	"github.com/kilianp07/leadroute/core/model"
)

// DISTRIBUTED -> DISTRIBUTED is a retry round.
var transitions = map[model.Status][]model.Status{
	model.StatusPending: {model.StatusDistributed, model.StatusCancelled},
	model.StatusDistributed: {
		model.StatusDistributed,
		model.StatusAccepted,
		model.StatusExpired,
		model.StatusCancelled,
		model.StatusCompleted,
	},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to model.Status) bool {
	return slices.Contains(transitions[from], to)
}

// IsExpired is true when now is after the distribution expiry, whatever the
// stored status says.
func IsExpired(l *model.Lead, now time.Time) bool {
	return l.DistributionExpiresAt != nil && now.After(*l.DistributionExpiresAt)
}

// CanDistribute holds only for PENDING leads that are not expired.
func CanDistribute(l *model.Lead, now time.Time) bool {
	return l.Status == model.StatusPending && !IsExpired(l, now)
}

// CheckDistribute explains why CanDistribute is false.
func CheckDistribute(l *model.Lead, now time.Time) error {
	if CanDistribute(l, now) {
		return nil
	}
	return &model.InvalidTransitionError{
		LeadID:  l.ID,
		From:    l.Status,
		To:      model.StatusDistributed,
		Expired: IsExpired(l, now),
	}
}

// CheckRetry reports whether a retry round may start for l.
func CheckRetry(l *model.Lead, now time.Time) error {
	if l.Status == model.StatusDistributed && !IsExpired(l, now) {
		return nil
	}
	return &model.InvalidTransitionError{
		LeadID:  l.ID,
		From:    l.Status,
		To:      model.StatusDistributed,
		Expired: IsExpired(l, now),
		Reason:  "retry requires an active distribution",
	}
}

// Transition moves l to status to.
func Transition(l *model.Lead, to model.Status, now time.Time) error {
	if !CanTransition(l.Status, to) {
		return &model.InvalidTransitionError{LeadID: l.ID, From: l.Status, To: to, Expired: IsExpired(l, now)}
	}
	l.Status = to
	l.UpdatedAt = now
	return nil
}

// StartDistribution begins a round at now. The expiry is always derived from
// the start time.
func StartDistribution(l *model.Lead, now time.Time, expiry time.Duration) error {
	if err := Transition(l, model.StatusDistributed, now); err != nil {
		return err
	}
	start := now
	end := start.Add(expiry)
	l.DistributionStartedAt = &start
	l.DistributionExpiresAt = &end
	l.DistributionCount++
	return nil
}

// Accept assigns contractorID and closes the lead.
func Accept(l *model.Lead, contractorID string, now time.Time) error {
	if IsExpired(l, now) {
		return &model.InvalidTransitionError{LeadID: l.ID, From: l.Status, To: model.StatusAccepted, Expired: true}
	}
	if err := Transition(l, model.StatusAccepted, now); err != nil {
		return err
	}
	at := now
	l.AssignedContractorID = contractorID
	l.AssignedAt = &at
	l.SupersedeOpen()
	return nil
}

// Expire moves an expired DISTRIBUTED lead to EXPIRED.
func Expire(l *model.Lead, now time.Time) error {
	if !IsExpired(l, now) {
		return &model.InvalidTransitionError{LeadID: l.ID, From: l.Status, To: model.StatusExpired, Reason: "distribution has not expired"}
	}
	if err := Transition(l, model.StatusExpired, now); err != nil {
		return err
	}
	l.SupersedeOpen()
	return nil
}

// Cancel withdraws a lead that has not been accepted.
func Cancel(l *model.Lead, reason string, now time.Time) error {
	if err := Transition(l, model.StatusCancelled, now); err != nil {
		return err
	}
	l.CancelReason = reason
	l.SupersedeOpen()
	return nil
}
