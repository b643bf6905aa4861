package model

import (
	"fmt"
	"time"
)

// Response is a contractor's answer to a lead notification.
type Response string

const (
	ResponseAccepted Response = "accepted"
	ResponseDeclined Response = "declined"
)

// ParseResponse validates a response value received from callers.
func ParseResponse(s string) (Response, error) {
	switch Response(s) {
	case ResponseAccepted, ResponseDeclined:
		return Response(s), nil
	default:
		return "", &ValidationError{Field: "response", Reason: fmt.Sprintf("must be accepted or declined, got %q", s)}
	}
}

// DistributionAttempt records one notification of a contractor for a lead.
// Score and distance are snapshotted at send time.
type DistributionAttempt struct {
	ContractorID  string     `json:"contractor_id" bson:"contractor_id"`
	Round         int        `json:"round" bson:"round"`
	SentAt        time.Time  `json:"sent_at" bson:"sent_at"`
	Score         float64    `json:"score" bson:"score"`
	DistanceKm    float64    `json:"distance_km" bson:"distance_km"`
	Channels      []string   `json:"channels,omitempty" bson:"channels,omitempty"`
	Response      Response   `json:"response,omitempty" bson:"response,omitempty"`
	RespondedAt   *time.Time `json:"responded_at,omitempty" bson:"responded_at,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty" bson:"decline_reason,omitempty"`
	Superseded    bool       `json:"superseded,omitempty" bson:"superseded,omitempty"`
}

// Open reports whether the attempt still awaits a response.
func (a DistributionAttempt) Open() bool {
	return a.Response == "" && !a.Superseded
}

// Record sets the response fields exactly once.
func (a *DistributionAttempt) Record(leadID string, r Response, reason string, at time.Time) error {
	if a.Response != "" {
		return &DuplicateResponseError{LeadID: leadID, ContractorID: a.ContractorID, Previous: a.Response, RespondedAt: cloneTime(a.RespondedAt)}
	}
	if a.Superseded {
		return &InvalidTransitionError{LeadID: leadID, Reason: fmt.Sprintf("attempt for contractor %s was superseded", a.ContractorID)}
	}
	a.Response = r
	a.RespondedAt = &at
	if r == ResponseDeclined {
		a.DeclineReason = reason
	}
	return nil
}

func (a DistributionAttempt) clone() DistributionAttempt {
	c := a
	if a.Channels != nil {
		c.Channels = append([]string(nil), a.Channels...)
	}
	c.RespondedAt = cloneTime(a.RespondedAt)
	return c
}
