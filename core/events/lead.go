package events

import (
	"time"

	"github.com/kilianp07/leadroute/core/model"
)

// LeadAction names what happened to a lead.
type LeadAction string

const (
	ActionDistributed    LeadAction = "distributed"
	ActionAccepted       LeadAction = "accepted"
	ActionDeclined       LeadAction = "declined"
	ActionExpired        LeadAction = "expired"
	ActionCancelled      LeadAction = "cancelled"
	ActionRetryScheduled LeadAction = "retry_scheduled"
)

// LeadUpdate is published whenever the orchestrator changes a lead.
type LeadUpdate struct {
	LeadID       string       `json:"lead_id"`
	Action       LeadAction   `json:"action"`
	Status       model.Status `json:"status"`
	ContractorID string       `json:"contractor_id,omitempty"`
	Notified     int          `json:"notified,omitempty"`
	Round        int          `json:"round,omitempty"`
	Time         time.Time    `json:"time"`
}
