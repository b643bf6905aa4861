package notify

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/queue"
)

// mailSender is the part of *gomail.Client used by the worker.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*gomail.Msg) error
}

// EmailWorker consumes notifications.email and delivers over SMTP.
type EmailWorker struct {
	cfg    SMTPConfig
	sender mailSender
	log    logger.Logger
}

// NewEmailWorker builds the SMTP client from cfg.
func NewEmailWorker(cfg SMTPConfig, log logger.Logger) (*EmailWorker, error) {
	if cfg.Host == "" {
		return nil, &model.ValidationError{Field: "notify.smtp.host", Reason: "required"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp client: %w", err)
	}
	return newEmailWorker(cfg, client, log), nil
}

func newEmailWorker(cfg SMTPConfig, sender mailSender, log logger.Logger) *EmailWorker {
	return &EmailWorker{cfg: cfg, sender: sender, log: log}
}

// Handle sends one email request. Bad addresses are dead-lettered, SMTP
// failures retried.
func (w *EmailWorker) Handle(ctx context.Context, env *queue.Envelope) queue.Result {
	req, err := queue.Decode[queue.NotificationRequest](env)
	if err != nil {
		return queue.Result{Outcome: queue.DeadLetter, Err: err}
	}
	if req.Channel != queue.ChannelEmail {
		return queue.Result{Outcome: queue.DeadLetter, Err: &model.ValidationError{Field: "channel", Reason: "expected email, got " + string(req.Channel)}}
	}
	msg, err := w.message(req)
	if err != nil {
		return queue.Result{Outcome: queue.DeadLetter, Err: err}
	}
	if err := w.sender.DialAndSendWithContext(ctx, msg); err != nil {
		w.log.Warnf("notify: smtp send %s to %s failed: %v", req.TrackingID, req.ContractorID, err)
		return queue.Result{Outcome: queue.Retry, Err: fmt.Errorf("smtp send: %w", err)}
	}
	w.log.Infow("lead alert emailed", map[string]any{
		"lead_id": req.LeadID, "contractor_id": req.ContractorID, "tracking_id": req.TrackingID,
	})
	return queue.Result{Outcome: queue.Ack}
}

func (w *EmailWorker) message(req queue.NotificationRequest) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(w.cfg.FromName, w.cfg.FromEmail); err != nil {
		return nil, &model.ValidationError{Field: "notify.smtp.from_email", Reason: err.Error()}
	}
	if err := msg.To(req.Recipient); err != nil {
		return nil, &model.ValidationError{Field: "recipient", Reason: err.Error()}
	}
	msg.Subject(req.Subject)
	msg.SetMessageID()
	msg.SetGenHeader(gomail.Header("X-Lead-Tracking-Id"), req.TrackingID)
	msg.SetBodyString(gomail.TypeTextHTML, req.Body)
	return msg, nil
}
