package model

import (
	"slices"
	"time"
)

// Priority is the urgency assigned to a lead at intake.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Status is the lifecycle state of a lead.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusDistributed Status = "DISTRIBUTED"
	StatusAccepted    Status = "ACCEPTED"
	StatusExpired     Status = "EXPIRED"
	StatusCancelled   Status = "CANCELLED"
	StatusCompleted   Status = "COMPLETED"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusExpired, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" bson:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" bson:"lng" validate:"gte=-180,lte=180"`
}

// Lead is an inbound service request routed to contractors.
type Lead struct {
	ID                    string                `json:"id" bson:"_id" validate:"required"`
	Services              []ServiceType         `json:"services" bson:"services" validate:"required,min=1,dive,required"`
	Priority              Priority              `json:"priority" bson:"priority" validate:"required,oneof=LOW MEDIUM HIGH URGENT"`
	Status                Status                `json:"status" bson:"status" validate:"required"`
	Location              Point                 `json:"location" bson:"location"`
	Suburb                string                `json:"suburb,omitempty" bson:"suburb,omitempty"`
	EstimatedValue        float64               `json:"estimated_value" bson:"estimated_value" validate:"gte=0"`
	Emergency             bool                  `json:"emergency" bson:"emergency"`
	Attempts              []DistributionAttempt `json:"attempts" bson:"attempts"`
	DistributionStartedAt *time.Time            `json:"distribution_started_at,omitempty" bson:"distribution_started_at,omitempty"`
	DistributionExpiresAt *time.Time            `json:"distribution_expires_at,omitempty" bson:"distribution_expires_at,omitempty"`
	AssignedContractorID  string                `json:"assigned_contractor_id,omitempty" bson:"assigned_contractor_id,omitempty"`
	AssignedAt            *time.Time            `json:"assigned_at,omitempty" bson:"assigned_at,omitempty"`
	CancelReason          string                `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	ViewCount             int                   `json:"view_count" bson:"view_count"`
	DistributionCount     int                   `json:"distribution_count" bson:"distribution_count"`
	CreatedAt             time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at" bson:"updated_at"`
}

// AttemptFor returns the most recent attempt sent to contractorID.
func (l *Lead) AttemptFor(contractorID string) *DistributionAttempt {
	for i := len(l.Attempts) - 1; i >= 0; i-- {
		if l.Attempts[i].ContractorID == contractorID {
			return &l.Attempts[i]
		}
	}
	return nil
}

// Attempted reports whether contractorID was ever notified for this lead.
func (l *Lead) Attempted(contractorID string) bool {
	return l.AttemptFor(contractorID) != nil
}

// Declines counts attempts answered with a decline.
func (l *Lead) Declines() int {
	n := 0
	for _, a := range l.Attempts {
		if a.Response == ResponseDeclined {
			n++
		}
	}
	return n
}

// Round returns the number of the latest distribution round, zero before the first.
func (l *Lead) Round() int {
	r := 0
	for _, a := range l.Attempts {
		if a.Round > r {
			r = a.Round
		}
	}
	return r
}

// SupersedeOpen marks every unanswered attempt as superseded.
func (l *Lead) SupersedeOpen() int {
	n := 0
	for i := range l.Attempts {
		if l.Attempts[i].Open() {
			l.Attempts[i].Superseded = true
			n++
		}
	}
	return n
}

// RequiresAny reports whether the lead lists at least one of the given services.
func (l *Lead) RequiresAny(services ...ServiceType) bool {
	for _, s := range services {
		if slices.Contains(l.Services, s) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate independently.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	c := *l
	c.Services = slices.Clone(l.Services)
	c.Attempts = make([]DistributionAttempt, len(l.Attempts))
	for i, a := range l.Attempts {
		c.Attempts[i] = a.clone()
	}
	c.DistributionStartedAt = cloneTime(l.DistributionStartedAt)
	c.DistributionExpiresAt = cloneTime(l.DistributionExpiresAt)
	c.AssignedAt = cloneTime(l.AssignedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
