package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	connPrefix = "conn:"

	// DefaultLivenessTTL must comfortably exceed the gateway heartbeat
	// interval so a healthy connection never reads as offline between
	// refreshes.
	DefaultLivenessTTL = 90 * time.Second
)

// Liveness is the gateway connection registry. The gateway registers each
// connection at upgrade, refreshes it from the heartbeat loop, and removes it
// on disconnect. The matcher consults it to garbage-collect queue entries
// belonging to connections that are gone.
type Liveness struct {
	rdb    *redis.Client
	server string // gateway instance name stored as the key value
	ttl    time.Duration
}

// NewLiveness creates a liveness registry. server identifies the gateway
// instance that owns the connection. A zero ttl uses DefaultLivenessTTL.
func NewLiveness(rdb *redis.Client, server string, ttl time.Duration) *Liveness {
	if ttl <= 0 {
		ttl = DefaultLivenessTTL
	}
	return &Liveness{rdb: rdb, server: server, ttl: ttl}
}

// Register records the connection as live.
func (l *Liveness) Register(ctx context.Context, connID string) error {
	return l.rdb.Set(ctx, connPrefix+connID, l.server, l.ttl).Err()
}

// Refresh extends the liveness TTL for a connection.
func (l *Liveness) Refresh(ctx context.Context, connID string) error {
	return l.rdb.Expire(ctx, connPrefix+connID, l.ttl).Err()
}

// Remove deletes the connection's liveness key.
func (l *Liveness) Remove(ctx context.Context, connID string) error {
	return l.rdb.Del(ctx, connPrefix+connID).Err()
}

// IsLive reports whether the connection is registered as live. Redis errors
// read as not-live so the matcher never hands a room to a connection it
// cannot verify.
func (l *Liveness) IsLive(ctx context.Context, connID string) bool {
	n, err := l.rdb.Exists(ctx, connPrefix+connID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false
	}
	return n == 1
}
