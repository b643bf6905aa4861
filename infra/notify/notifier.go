// Package notify turns lead alerts into notification requests on the queue
// and delivers the email channel over SMTP.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/time/rate"

	"github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/model"
	corenotify "github.com/kilianp07/leadroute/core/notify"
	"github.com/kilianp07/leadroute/core/queue"
)

var (
	// ErrRateLimited is reported when a contractor exhausted its alert budget.
	ErrRateLimited = errors.New("notify: contractor rate limited")
	// ErrNoRecipient is reported when the contractor has no address for a channel.
	ErrNoRecipient = errors.New("notify: no recipient for channel")
)

var _ corenotify.Notifier = (*QueueNotifier)(nil)

// QueueNotifier publishes one NotificationRequest per channel. Delivery is
// asynchronous: a channel counts as delivered once the request is queued.
type QueueNotifier struct {
	pub    queue.Publisher
	cfg    Config
	expiry time.Duration
	log    logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewQueueNotifier returns a notifier publishing through pub. expiry is the
// distribution window quoted in the alert text.
func NewQueueNotifier(pub queue.Publisher, cfg Config, expiry time.Duration, log logger.Logger) (*QueueNotifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("notify: nil parameter provided to NewQueueNotifier")
	}
	cfg.SetDefaults()
	for _, ch := range cfg.Channels {
		if !knownChannel(ch) {
			return nil, &model.ValidationError{Field: "notify.channels", Reason: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	return &QueueNotifier{
		pub:      pub,
		cfg:      cfg,
		expiry:   expiry,
		log:      log,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// SetClock overrides the clock used for rate limiting and expiry text.
func (n *QueueNotifier) SetClock(now func() time.Time) { n.now = now }

func knownChannel(ch string) bool {
	return ch == string(queue.ChannelSMS) || ch == string(queue.ChannelEmail)
}

// SendLeadAlert queues an alert on every channel the contractor accepts.
func (n *QueueNotifier) SendLeadAlert(ctx context.Context, c model.Contractor, lead *model.Lead, a model.DistributionAttempt) (corenotify.Report, error) {
	if lead == nil {
		return corenotify.Report{}, fmt.Errorf("notify: nil parameter provided to SendLeadAlert")
	}
	rep := corenotify.Report{ContractorID: c.ID}
	channels := n.channelsFor(c)
	if len(channels) == 0 {
		return rep, fmt.Errorf("notify: contractor %s has no enabled channel", c.ID)
	}
	if !n.allow(c.ID) {
		for _, ch := range channels {
			rep.Deliveries = append(rep.Deliveries, corenotify.Delivery{Channel: ch, Err: ErrRateLimited})
		}
		n.log.Warnf("notify: contractor %s rate limited, lead %s not sent", c.ID, lead.ID)
		return rep, nil
	}

	sentAt := a.SentAt
	if sentAt.IsZero() {
		sentAt = n.now()
	}
	var expires time.Time
	if n.expiry > 0 {
		expires = sentAt.Add(n.expiry)
	}
	content := newAlert(n.cfg.PortalURL, lead, a, expires)
	for _, ch := range channels {
		rep.Deliveries = append(rep.Deliveries, n.publish(ctx, queue.Channel(ch), c, lead, content))
	}
	return rep, nil
}

func (n *QueueNotifier) publish(ctx context.Context, ch queue.Channel, c model.Contractor, lead *model.Lead, content alert) corenotify.Delivery {
	d := corenotify.Delivery{Channel: string(ch)}
	req := queue.NotificationRequest{
		TrackingID:   uuid.NewString(),
		LeadID:       lead.ID,
		ContractorID: c.ID,
		Channel:      ch,
		Priority:     lead.Priority,
		AcceptURL:    content.AcceptURL,
		DeclineURL:   content.DeclineURL,
	}
	switch ch {
	case queue.ChannelSMS:
		to, err := NormalizeE164(c.Phone, n.cfg.Region)
		if err != nil {
			d.Err = err
			return d
		}
		req.Recipient = to
		req.Body = content.sms()
	case queue.ChannelEmail:
		if c.Email == "" {
			d.Err = ErrNoRecipient
			return d
		}
		body, err := content.email()
		if err != nil {
			d.Err = err
			return d
		}
		req.Recipient = c.Email
		req.Subject = content.subject()
		req.Body = body
	}
	if _, err := n.pub.Publish(ctx, queue.NotificationKey(ch, lead.Priority), req); err != nil {
		d.Err = err
		return d
	}
	d.Delivered = true
	d.TrackingID = req.TrackingID
	n.log.Debugw("notification queued", map[string]any{
		"lead_id": lead.ID, "contractor_id": c.ID, "channel": string(ch), "tracking_id": req.TrackingID,
	})
	return d
}

// channelsFor intersects the contractor's preferences with the enabled set.
func (n *QueueNotifier) channelsFor(c model.Contractor) []string {
	if len(c.NotificationChannels) == 0 {
		return n.cfg.Channels
	}
	var out []string
	for _, ch := range c.NotificationChannels {
		if slices.Contains(n.cfg.Channels, ch) && !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (n *QueueNotifier) allow(contractorID string) bool {
	if n.cfg.PerMinute <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[contractorID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(n.cfg.PerMinute/60), n.cfg.Burst)
		n.limiters[contractorID] = l
	}
	return l.AllowN(n.now(), 1)
}

// Prune forgets limiters that have refilled completely. It returns the
// number removed.
func (n *QueueNotifier) Prune() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	removed := 0
	for id, l := range n.limiters {
		if l.TokensAt(now) >= float64(l.Burst()) {
			delete(n.limiters, id)
			removed++
		}
	}
	return removed
}

// NormalizeE164 parses a phone number in region and formats it as E.164.
func NormalizeE164(raw, region string) (string, error) {
	if raw == "" {
		return "", ErrNoRecipient
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", &model.ValidationError{Field: "phone", Reason: err.Error()}
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", &model.ValidationError{Field: "phone", Reason: fmt.Sprintf("invalid number %q", raw)}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
