// Package mongo persists leads and contractor snapshots in MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/store"
)

const (
	colLeads       = "leads"
	colContractors = "contractors"
)

var _ store.Store = (*Store)(nil)

// Config selects the deployment and database.
type Config struct {
	URI      string        `json:"uri"`
	Database string        `json:"database"`
	Timeout  time.Duration `json:"timeout"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "leadroute"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Store implements store.Store. Operations are single-document reads or
// full-document replaces keyed by _id.
type Store struct {
	client  *mongod.Client
	db      *mongod.Database
	timeout time.Duration
	log     logger.Logger
	owned   bool
}

// Open connects to cfg.URI and pings the primary.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	cfg.SetDefaults()
	client, err := mongod.Connect(options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("store/mongo: connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("store/mongo: ping %s: %w", cfg.URI, err)
	}
	s := New(client.Database(cfg.Database), cfg.Timeout, log)
	s.client = client
	s.owned = true
	return s, nil
}

// New wraps an existing database handle. The caller owns the client.
func New(db *mongod.Database, timeout time.Duration, log logger.Logger) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{client: db.Client(), db: db, timeout: timeout, log: log}
}

// Migrate creates the indexes used by the sweep and the contractor listing.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("store/mongo: migrate %s indexes: %w", col, err)
		}
		s.log.Debugf("store/mongo: ensured %d indexes on %s", len(models), col)
	}
	return nil
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colLeads: {
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "distribution_expires_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "attempts.contractor_id", Value: 1}}},
		},
		colContractors: {
			{Keys: bson.D{{Key: "available", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "tier", Value: 1}}},
		},
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects when the store opened the client itself.
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) FindLead(ctx context.Context, id string) (*model.Lead, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var l model.Lead
	err := s.db.Collection(colLeads).FindOne(ctx, bson.M{"_id": id}).Decode(&l)
	if err != nil {
		if isNoDocuments(err) {
			return nil, &model.NotFoundError{Kind: "lead", ID: id}
		}
		return nil, fmt.Errorf("store/mongo: find lead %s: %w", id, err)
	}
	normalizeLead(&l)
	return &l, nil
}

func (s *Store) SaveLead(ctx context.Context, l *model.Lead) error {
	if l == nil || l.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "required"}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.db.Collection(colLeads).ReplaceOne(ctx, bson.M{"_id": l.ID}, l, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store/mongo: save lead %s: %w", l.ID, err)
	}
	return nil
}

// FindExpiredDistributedLeads returns DISTRIBUTED leads whose expiry is
// before now, oldest first.
func (s *Store) FindExpiredDistributedLeads(ctx context.Context, now time.Time) ([]*model.Lead, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	filter := bson.M{
		"status":                  string(model.StatusDistributed),
		"distribution_expires_at": bson.M{"$lt": now.UTC()},
	}
	cur, err := s.db.Collection(colLeads).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "distribution_expires_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("store/mongo: find expired leads: %w", err)
	}
	var leads []*model.Lead
	if err := cur.All(ctx, &leads); err != nil {
		return nil, fmt.Errorf("store/mongo: decode expired leads: %w", err)
	}
	for _, l := range leads {
		normalizeLead(l)
	}
	return leads, nil
}

// ListAvailableContractors returns available contractors ordered by id.
func (s *Store) ListAvailableContractors(ctx context.Context) ([]model.Contractor, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.db.Collection(colContractors).Find(ctx, bson.M{"available": true},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("store/mongo: list contractors: %w", err)
	}
	var out []model.Contractor
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store/mongo: decode contractors: %w", err)
	}
	return out, nil
}

func (s *Store) FindContractor(ctx context.Context, id string) (model.Contractor, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var c model.Contractor
	err := s.db.Collection(colContractors).FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		if isNoDocuments(err) {
			return model.Contractor{}, &model.NotFoundError{Kind: "contractor", ID: id}
		}
		return model.Contractor{}, fmt.Errorf("store/mongo: find contractor %s: %w", id, err)
	}
	return c, nil
}

// PutContractor upserts a contractor snapshot. Used for seeding.
func (s *Store) PutContractor(ctx context.Context, c model.Contractor) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.db.Collection(colContractors).ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store/mongo: put contractor %s: %w", c.ID, err)
	}
	return nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// normalizeLead restores UTC on timestamps decoded from BSON datetimes.
func normalizeLead(l *model.Lead) {
	utc := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := t.UTC()
		return &v
	}
	l.DistributionStartedAt = utc(l.DistributionStartedAt)
	l.DistributionExpiresAt = utc(l.DistributionExpiresAt)
	l.AssignedAt = utc(l.AssignedAt)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
}
