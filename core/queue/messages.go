package queue

import (
	"time"

	"github.com/kilianp07/leadroute/core/model"
)

// DistributeCommand asks the orchestrator to run a round for a lead.
type DistributeCommand struct {
	LeadID      string    `json:"leadId" validate:"required"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// ResponseEvent carries a contractor's answer.
type ResponseEvent struct {
	LeadID       string         `json:"leadId" validate:"required"`
	ContractorID string         `json:"contractorId" validate:"required"`
	Response     model.Response `json:"response" validate:"required,oneof=accepted declined"`
	Reason       string         `json:"reason,omitempty"`
	RespondedAt  time.Time      `json:"respondedAt"`
}

// NotificationRequest asks a channel worker to deliver a lead alert.
type NotificationRequest struct {
	TrackingID   string         `json:"trackingId" validate:"required"`
	LeadID       string         `json:"leadId" validate:"required"`
	ContractorID string         `json:"contractorId" validate:"required"`
	Channel      Channel        `json:"channel" validate:"required,oneof=sms email"`
	Recipient    string         `json:"recipient" validate:"required"`
	Subject      string         `json:"subject,omitempty"`
	Body         string         `json:"body" validate:"required"`
	Priority     model.Priority `json:"priority"`
	AcceptURL    string         `json:"acceptUrl,omitempty"`
	DeclineURL   string         `json:"declineUrl,omitempty"`
	ScheduledFor *time.Time     `json:"scheduledFor,omitempty"`
}
