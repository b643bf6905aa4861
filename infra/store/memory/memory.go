// Package memory is an in-process store used in development mode and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/leadroute/core/lifecycle"
	"github.com/kilianp07/leadroute/core/model"
)

// Store keeps leads and contractors in maps. Values are copied on the way in
// and out so callers never share memory with the store.
type Store struct {
	mu          sync.RWMutex
	leads       map[string]*model.Lead
	contractors map[string]model.Contractor
}

// New returns an empty store.
func New() *Store {
	return &Store{
		leads:       make(map[string]*model.Lead),
		contractors: make(map[string]model.Contractor),
	}
}

// Seed is the on-disk fixture format.
type Seed struct {
	Leads       []*model.Lead      `json:"leads"`
	Contractors []model.Contractor `json:"contractors"`
}

// LoadFile reads a Seed JSON file into s.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("decode seed %s: %w", path, err)
	}
	for _, l := range seed.Leads {
		if l.Status == "" {
			l.Status = model.StatusPending
		}
		if err := model.Validate(l); err != nil {
			return err
		}
		s.PutLead(l)
	}
	for _, c := range seed.Contractors {
		if err := model.Validate(c); err != nil {
			return err
		}
		s.PutContractor(c)
	}
	return nil
}

// PutLead inserts or replaces a lead.
func (s *Store) PutLead(l *model.Lead) {
	s.mu.Lock()
	s.leads[l.ID] = l.Clone()
	s.mu.Unlock()
}

// PutContractor inserts or replaces a contractor.
func (s *Store) PutContractor(c model.Contractor) {
	c.Specializations = append([]model.ServiceType(nil), c.Specializations...)
	c.NotificationChannels = append([]string(nil), c.NotificationChannels...)
	s.mu.Lock()
	s.contractors[c.ID] = c
	s.mu.Unlock()
}

func (s *Store) FindLead(_ context.Context, id string) (*model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "lead", ID: id}
	}
	return l.Clone(), nil
}

func (s *Store) SaveLead(_ context.Context, l *model.Lead) error {
	if l == nil || l.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "required"}
	}
	s.PutLead(l)
	return nil
}

// FindExpiredDistributedLeads returns DISTRIBUTED leads whose window has
// closed, oldest expiry first.
func (s *Store) FindExpiredDistributedLeads(_ context.Context, now time.Time) ([]*model.Lead, error) {
	s.mu.RLock()
	var out []*model.Lead
	for _, l := range s.leads {
		if l.Status == model.StatusDistributed && lifecycle.IsExpired(l, now) {
			out = append(out, l.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].DistributionExpiresAt.Before(*out[j].DistributionExpiresAt)
	})
	return out, nil
}

// ListAvailableContractors returns available contractors ordered by id.
func (s *Store) ListAvailableContractors(_ context.Context) ([]model.Contractor, error) {
	s.mu.RLock()
	out := make([]model.Contractor, 0, len(s.contractors))
	for _, c := range s.contractors {
		if c.Available {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindContractor(_ context.Context, id string) (model.Contractor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contractors[id]
	if !ok {
		return model.Contractor{}, &model.NotFoundError{Kind: "contractor", ID: id}
	}
	return c, nil
}

// SetAvailable flips a contractor's availability.
func (s *Store) SetAvailable(id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contractors[id]
	if !ok {
		return &model.NotFoundError{Kind: "contractor", ID: id}
	}
	c.Available = available
	s.contractors[id] = c
	return nil
}
