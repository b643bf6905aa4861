// Package store declares the persistence collaborator used by the dispatch
// core. Implementations must be safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/kilianp07/leadroute/core/model"
)

// Store reads and writes leads and reads contractor snapshots. Each call is
// an atomic read or write-through; callers re-fetch before mutating.
type Store interface {
	// FindLead returns a *model.NotFoundError when id is unknown.
	FindLead(ctx context.Context, id string) (*model.Lead, error)
	SaveLead(ctx context.Context, lead *model.Lead) error
	FindExpiredDistributedLeads(ctx context.Context, now time.Time) ([]*model.Lead, error)
	ListAvailableContractors(ctx context.Context) ([]model.Contractor, error)
	// FindContractor returns a *model.NotFoundError when id is unknown.
	FindContractor(ctx context.Context, id string) (model.Contractor, error)
}
