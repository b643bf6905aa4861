package dispatch

import (
	"context"
	"time"
)

// CachedDistribution is the fast-lookup view of an open round.
type CachedDistribution struct {
	LeadID        string    `json:"leadId"`
	ContractorIDs []string  `json:"contractorIds"`
	Round         int       `json:"round"`
	DistributedAt time.Time `json:"distributedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// DistributionCache stores open rounds with a TTL matching their expiry.
type DistributionCache interface {
	Put(ctx context.Context, d CachedDistribution, ttl time.Duration) error
	// Get returns false when no entry exists.
	Get(ctx context.Context, leadID string) (CachedDistribution, bool, error)
	Delete(ctx context.Context, leadID string) error
}
