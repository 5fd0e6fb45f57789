// Package presence tracks per-connection activity status and gateway
// liveness in Redis. Both are TTL-backed: a key that has expired or was
// never written reads back as unknown and is treated conservatively by the
// matching engine (the candidate is skipped, never matched).
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusPrefix = "status:"

	// DefaultStatusTTL bounds how long a search or chat can appear live
	// without any refresh. A stuck search self-heals once this lapses.
	DefaultStatusTTL = 300 * time.Second
)

// Activity status values for a connection.
const (
	StatusActive   = "active"   // searching for a partner
	StatusMatched  = "matched"  // in a chat session
	StatusInactive = "inactive" // ended a chat, not searching
	StatusUnknown  = ""         // never set or expired
)

// Status manages per-connection activity status keys.
type Status struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatus creates a status store with the given TTL. A zero ttl uses
// DefaultStatusTTL.
func NewStatus(rdb *redis.Client, ttl time.Duration) *Status {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &Status{rdb: rdb, ttl: ttl}
}

// Set writes the status for a connection with the configured TTL.
func (s *Status) Set(ctx context.Context, connID, status string) error {
	return s.rdb.Set(ctx, statusPrefix+connID, status, s.ttl).Err()
}

// Get returns the connection's status, or StatusUnknown when the key is
// absent or expired.
func (s *Status) Get(ctx context.Context, connID string) (string, error) {
	v, err := s.rdb.Get(ctx, statusPrefix+connID).Result()
	if errors.Is(err, redis.Nil) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, err
	}
	return v, nil
}

// Clear removes the connection's status key (called on disconnect).
func (s *Status) Clear(ctx context.Context, connID string) error {
	return s.rdb.Del(ctx, statusPrefix+connID).Err()
}
