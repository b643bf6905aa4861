// Package logging persists an audit trail of distribution decisions so that
// operators can answer "who was offered this lead and why".
package logging

import (
	"context"
	"time"
)

// Candidate is one contractor considered in a round.
type Candidate struct {
	ContractorID string   `json:"contractor_id"`
	Rank         int      `json:"rank"`
	Score        float64  `json:"score"`
	DistanceKm   float64  `json:"distance_km"`
	Notified     bool     `json:"notified"`
	Channels     []string `json:"channels,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

// LogRecord captures one decision taken on a lead.
type LogRecord struct {
	Timestamp    time.Time         `json:"timestamp"`
	LeadID       string            `json:"lead_id"`
	Event        string            `json:"event"`
	Status       string            `json:"status"`
	Round        int               `json:"round,omitempty"`
	Method       string            `json:"method,omitempty"`
	ContractorID string            `json:"contractor_id,omitempty"`
	Candidates   []Candidate       `json:"candidates,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	Note         string            `json:"note,omitempty"`
}

// contractors lists the subject and every candidate, without repeats.
func (r LogRecord) contractors() []string {
	var ids []string
	seen := make(map[string]bool, len(r.Candidates)+1)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(r.ContractorID)
	for _, c := range r.Candidates {
		add(c.ContractorID)
	}
	return ids
}

func (r LogRecord) involves(contractorID string) bool {
	for _, id := range r.contractors() {
		if id == contractorID {
			return true
		}
	}
	return false
}

// LogQuery defines filters for retrieving records. Zero values match all.
type LogQuery struct {
	Start        time.Time
	End          time.Time
	LeadID       string
	ContractorID string
	Event        string
}

// Match reports whether r satisfies every filter of q.
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.LeadID != "" && r.LeadID != q.LeadID {
		return false
	}
	if q.Event != "" && r.Event != q.Event {
		return false
	}
	if q.ContractorID != "" && !r.involves(q.ContractorID) {
		return false
	}
	return true
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}
