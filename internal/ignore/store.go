// Package ignore provides the time-limited mutual-block registry backed by
// Redis. A relation between two anonymous identities is stored as a single
// key built from the sorted pair, so (A,B) and (B,A) never create duplicates:
//
//	Key:   chat:ignore:<idLow>:<idHigh>
//	Value: 1
//	TTL:   ignore duration
package ignore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ignorePrefix = "chat:ignore:"

	// DefaultTTL is how long a pair stays mutually blocked.
	DefaultTTL = 1 * time.Hour
)

// Store manages ignore relations in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates an ignore store. A zero ttl uses DefaultTTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// pairKey canonicalizes the identity pair by sorting before building the key.
func pairKey(idA, idB string) string {
	if idB < idA {
		idA, idB = idB, idA
	}
	return ignorePrefix + idA + ":" + idB
}

// Ignore records a mutual block between two anonymous identities for the
// configured TTL. Re-ignoring an already blocked pair refreshes the TTL.
func (s *Store) Ignore(ctx context.Context, idA, idB string) error {
	return s.rdb.Set(ctx, pairKey(idA, idB), "1", s.ttl).Err()
}

// IsIgnored reports whether an unexpired ignore relation exists between the
// two identities, in either direction. Unknown identities report false.
func (s *Store) IsIgnored(ctx context.Context, idA, idB string) (bool, error) {
	n, err := s.rdb.Exists(ctx, pairKey(idA, idB)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
