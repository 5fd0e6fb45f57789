// Package queue provides the Redis-backed waiting queues for the matchmaking
// engine. Each queue is a Redis list keyed by search criteria:
//
//	queue:<gender>:<ageGroup>   criteria-mode queues
//	queue:tag:<tag>             tag-mode queues
//
// Entries are JSON-encoded participant descriptors. New entries are pushed to
// the head (LPUSH) and the matching scan pops from the tail (RPOP), so the
// least-recently-enqueued participant is always examined first.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veil/chat-app/internal/metrics"
)

const keyPrefix = "queue:"

// Known criteria values. Unknown values are passed through unchanged; a queue
// for an unknown bracket simply never gains counterparts.
var (
	Genders   = []string{"m", "f"}
	AgeGroups = []string{"18", "19-25", "26-35", "36+"}
)

// Entry is a participant descriptor waiting in a queue. ConnID identifies the
// live connection for delivery; AnonID is the stable anonymous identity used
// for ignore and session bookkeeping. The criteria fields are empty for
// tag-mode entries.
type Entry struct {
	ConnID           string   `json:"conn_id"`
	AnonID           string   `json:"anon_id"`
	Gender           string   `json:"gender,omitempty"`
	AgeGroup         string   `json:"age_group,omitempty"`
	SeekingGender    string   `json:"seeking_gender,omitempty"`
	SeekingAgeGroups []string `json:"seeking_age_groups,omitempty"`
	IsAdult          bool     `json:"is_adult,omitempty"`
	Joined           int64    `json:"joined"` // unix millis
}

// Encode serializes the entry for storage. The raw bytes double as the
// entry's identity for exact removal (LREM matches by value).
func (e *Entry) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEntry parses a raw queue element. Malformed elements return an error
// and are treated as garbage by callers (skipped, never requeued).
func DecodeEntry(raw string) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// CriteriaKey returns the queue key for a (gender, ageGroup) pair.
func CriteriaKey(gender, ageGroup string) string {
	return keyPrefix + gender + ":" + ageGroup
}

// TagKey returns the queue key for a free-text tag.
func TagKey(tag string) string {
	return keyPrefix + "tag:" + tag
}

// Store manages the Redis waiting-queue lists.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a queue store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Enqueue appends an entry to the queue identified by key and returns the raw
// bytes that were stored. No uniqueness is enforced at this layer; callers
// purge their own stale entries first.
func (s *Store) Enqueue(ctx context.Context, key string, e *Entry) ([]byte, error) {
	raw, err := e.Encode()
	if err != nil {
		return nil, err
	}
	n, err := s.rdb.LPush(ctx, key, raw).Result()
	if err != nil {
		return nil, err
	}
	metrics.QueueDepth.WithLabelValues(key).Set(float64(n))
	return raw, nil
}

// DequeueOldest removes and returns the least-recently-enqueued raw element.
// The second return value is false when the queue has no entries (emptiness
// and absence are indistinguishable).
func (s *Store) DequeueOldest(ctx context.Context, key string) (string, bool, error) {
	raw, err := s.rdb.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

// Restore reinserts rejected elements at the dequeue end of the queue,
// preserving their relative order. rejects must be in the order they were
// popped (oldest first); pushing them back reversed means the next scan pops
// them oldest-first again. Entries pushed concurrently by other operations
// may end up examined before the restored ones, which is accepted.
func (s *Store) Restore(ctx context.Context, key string, rejects []string) error {
	if len(rejects) == 0 {
		return nil
	}
	reversed := make([]interface{}, len(rejects))
	for i, r := range rejects {
		reversed[len(rejects)-1-i] = r
	}
	return s.rdb.RPush(ctx, key, reversed...).Err()
}

// Remove deletes every occurrence of an exact raw element from the queue.
// Used to drop the requester's own just-added entry once a match is formed.
func (s *Store) Remove(ctx context.Context, key string, raw []byte) error {
	return s.rdb.LRem(ctx, key, 0, raw).Err()
}

// RemoveConn scans the queue and removes any entries whose connection id
// matches connID. Malformed elements are skipped without failing the scan.
// Returns the number of entries removed.
func (s *Store) RemoveConn(ctx context.Context, key string, connID string) (int, error) {
	elems, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, raw := range elems {
		e, err := DecodeEntry(raw)
		if err != nil {
			continue // garbage entry, leave it for scans to drop
		}
		if e.ConnID != connID {
			continue
		}
		if err := s.rdb.LRem(ctx, key, 0, raw).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Len returns the number of entries waiting in the queue.
func (s *Store) Len(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

// NewEntryTimestamp returns the enqueue timestamp for a fresh entry.
func NewEntryTimestamp() int64 {
	return time.Now().UnixMilli()
}
