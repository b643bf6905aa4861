// Package notify declares the notification collaborator that alerts
// contractors about leads.
package notify

import (
	"context"

	"github.com/kilianp07/leadroute/core/model"
)

// Delivery is the outcome for one channel.
type Delivery struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	// TrackingID identifies the queued message when delivery is asynchronous.
	TrackingID string `json:"tracking_id,omitempty"`
	Err        error  `json:"-"`
}

// Report collects per-channel deliveries for one contractor.
type Report struct {
	ContractorID string     `json:"contractor_id"`
	Deliveries   []Delivery `json:"deliveries"`
}

// Delivered reports whether at least one channel succeeded.
func (r Report) Delivered() bool {
	for _, d := range r.Deliveries {
		if d.Delivered {
			return true
		}
	}
	return false
}

// Channels lists channels that succeeded.
func (r Report) Channels() []string {
	var out []string
	for _, d := range r.Deliveries {
		if d.Delivered {
			out = append(out, d.Channel)
		}
	}
	return out
}

// Errors wraps each failed channel in a *model.NotificationDeliveryError.
func (r Report) Errors() []error {
	var out []error
	for _, d := range r.Deliveries {
		if !d.Delivered {
			out = append(out, &model.NotificationDeliveryError{ContractorID: r.ContractorID, Channel: d.Channel, Err: d.Err})
		}
	}
	return out
}

// Notifier sends a lead alert on every enabled channel. Channel failures are
// reported in the Report, not as the error; the error is reserved for
// failures that prevented any attempt.
type Notifier interface {
	SendLeadAlert(ctx context.Context, c model.Contractor, lead *model.Lead, attempt model.DistributionAttempt) (Report, error)
}
