// Package cache implements the distribution cache on Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kilianp07/leadroute/core/dispatch"
	"github.com/kilianp07/leadroute/core/logger"
)

var _ dispatch.DistributionCache = (*Redis)(nil)

// Config addresses the Redis server. An empty Addr disables the cache.
type Config struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// Enabled reports whether a server is configured.
func (c Config) Enabled() bool { return c.Addr != "" }

// Redis stores one JSON document per open round under <prefix><leadId>.
type Redis struct {
	client goredis.Cmdable
	prefix string
	log    logger.Logger
	closer func() error
}

// Open dials cfg.Addr and verifies it with PING.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache/redis: ping %s: %w", cfg.Addr, err)
	}
	r := New(client, cfg.KeyPrefix, log)
	r.closer = client.Close
	return r, nil
}

// New wraps an existing client. The caller owns its lifecycle.
func New(client goredis.Cmdable, prefix string, log logger.Logger) *Redis {
	if prefix == "" {
		prefix = "distribution:"
	}
	return &Redis{client: client, prefix: prefix, log: log}
}

func (r *Redis) key(leadID string) string { return r.prefix + leadID }

// Put writes d with the given TTL. A non-positive TTL means the round has
// already expired and nothing is written.
func (r *Redis) Put(ctx context.Context, d dispatch.CachedDistribution, ttl time.Duration) error {
	if ttl <= 0 {
		return r.Delete(ctx, d.LeadID)
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("cache/redis: encode %s: %w", d.LeadID, err)
	}
	if err := r.client.SetEx(ctx, r.key(d.LeadID), body, ttl).Err(); err != nil {
		return fmt.Errorf("cache/redis: set %s: %w", d.LeadID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, leadID string) (dispatch.CachedDistribution, bool, error) {
	body, err := r.client.Get(ctx, r.key(leadID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return dispatch.CachedDistribution{}, false, nil
		}
		return dispatch.CachedDistribution{}, false, fmt.Errorf("cache/redis: get %s: %w", leadID, err)
	}
	var d dispatch.CachedDistribution
	if err := json.Unmarshal(body, &d); err != nil {
		r.log.Warnf("cache/redis: dropping corrupt entry for %s: %v", leadID, err)
		_ = r.client.Del(ctx, r.key(leadID)).Err()
		return dispatch.CachedDistribution{}, false, nil
	}
	return d, true, nil
}

func (r *Redis) Delete(ctx context.Context, leadID string) error {
	if err := r.client.Del(ctx, r.key(leadID)).Err(); err != nil {
		return fmt.Errorf("cache/redis: delete %s: %w", leadID, err)
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client when Open created it.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
