package queue

import (
	"context"
	"errors"

	"github.com/kilianp07/leadroute/core/model"
)

// Outcome is the consumer decision for a handled message.
type Outcome int

const (
	// Ack removes the message.
	Ack Outcome = iota
	// Retry republishes the message after a backoff until MaxAttempts.
	Retry
	// DeadLetter moves the message to the dead-letter queue immediately.
	DeadLetter
	// Drop acknowledges a message that can never succeed. Redelivery of an
	// already applied command lands here.
	Drop
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead_letter"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Result is returned by handlers.
type Result struct {
	Outcome Outcome
	Err     error
}

// Handler processes one envelope.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) Result
}

// HandlerFunc adapts an error-returning function, classifying its error with
// OutcomeFor.
type HandlerFunc func(ctx context.Context, env *Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) Result {
	err := f(ctx, env)
	return Result{Outcome: OutcomeFor(err), Err: err}
}

// OutcomeFor maps an error to a consumer outcome. Caller mistakes are
// dead-lettered, lead-level terminal errors are dropped and everything else
// is retried.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, model.ErrValidation):
		return DeadLetter
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrNoEligibleCandidates):
		return Drop
	default:
		return Retry
	}
}
