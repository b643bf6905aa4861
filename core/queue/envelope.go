// Package queue defines the broker wire contract: envelopes, routing keys,
// queue topology and the consumer pipeline that maps handler results to
// acknowledge, retry or dead-letter decisions.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/leadroute/core/model"
)

// Header keys set on dead-lettered envelopes.
const (
	HeaderDeathReason = "x-death-reason"
	HeaderOriginalKey = "x-original-key"
	HeaderQueue       = "x-queue"
)

// Envelope is the JSON document carried by every broker message.
type Envelope struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Payload     json.RawMessage   `json:"payload"`
	Timestamp   time.Time         `json:"timestamp"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"maxAttempts"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// NewEnvelope wraps payload for routing key key.
func NewEnvelope(key string, payload any, maxAttempts int, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &Envelope{
		ID:          uuid.NewString(),
		Type:        key,
		Payload:     raw,
		Timestamp:   now,
		Attempts:    0,
		MaxAttempts: maxAttempts,
	}, nil
}

// Marshal encodes the envelope.
func (e *Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

// Header returns a header value or "".
func (e *Envelope) Header(k string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[k]
}

// SetHeader sets a header, allocating the map when needed.
func (e *Envelope) SetHeader(k, v string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[k] = v
}

// Clone copies the envelope and its headers.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	if e.Headers != nil {
		c.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// DecodeEnvelope parses a message body. Malformed bodies yield a ValidationError.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &model.ValidationError{Field: "envelope", Reason: err.Error()}
	}
	if env.ID == "" || env.Type == "" {
		return nil, &model.ValidationError{Field: "envelope", Reason: "id and type are required"}
	}
	return &env, nil
}

// Decode unmarshals and validates the payload of env into T.
func Decode[T any](env *Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, &model.ValidationError{Field: "payload", Reason: err.Error()}
	}
	if err := model.Validate(v); err != nil {
		return v, err
	}
	return v, nil
}
