package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrNoEligibleCandidates = errors.New("no eligible contractors")
	ErrNotificationDelivery = errors.New("notification delivery failed")
	ErrBrokerUnavailable    = errors.New("broker unavailable")
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing lead or contractor.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidTransitionError reports a lifecycle violation together with the
// lead state that caused it.
type InvalidTransitionError struct {
	LeadID  string
	From    Status
	To      Status
	Expired bool
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("lead %s", e.LeadID)
	if e.From != "" || e.To != "" {
		msg += fmt.Sprintf(": cannot move from %s to %s", e.From, e.To)
	}
	if e.Expired {
		msg += " (distribution expired)"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// DuplicateResponseError is returned when an attempt already carries a
// response. The original response is preserved and reported back.
type DuplicateResponseError struct {
	LeadID       string
	ContractorID string
	Previous     Response
	RespondedAt  *time.Time
}

func (e *DuplicateResponseError) Error() string {
	return fmt.Sprintf("contractor %s already responded to lead %s: %s", e.ContractorID, e.LeadID, e.Previous)
}

func (e *DuplicateResponseError) Is(target error) bool { return target == ErrInvalidTransition }

// NoEligibleCandidatesError ends a round that found nobody to notify.
type NoEligibleCandidatesError struct {
	LeadID     string
	Considered int
}

func (e *NoEligibleCandidatesError) Error() string {
	return fmt.Sprintf("lead %s: no eligible contractors among %d candidates", e.LeadID, e.Considered)
}

func (e *NoEligibleCandidatesError) Is(target error) bool { return target == ErrNoEligibleCandidates }

// NotificationDeliveryError is a per-contractor delivery failure.
type NotificationDeliveryError struct {
	ContractorID string
	Channel      string
	Err          error
}

func (e *NotificationDeliveryError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("notify %s: %v", e.ContractorID, e.Err)
	}
	return fmt.Sprintf("notify %s via %s: %v", e.ContractorID, e.Channel, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }

func (e *NotificationDeliveryError) Is(target error) bool { return target == ErrNotificationDelivery }

// BrokerUnavailableError signals that reconnect attempts are exhausted.
type BrokerUnavailableError struct {
	Attempts int
	Err      error
}

func (e *BrokerUnavailableError) Error() string {
	return fmt.Sprintf("broker unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *BrokerUnavailableError) Unwrap() error { return e.Err }

func (e *BrokerUnavailableError) Is(target error) bool { return target == ErrBrokerUnavailable }
