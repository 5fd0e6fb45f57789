// Package room manages active chat session records in Redis. A session is
// created atomically when a match is formed, read by the relay and
// termination handlers, and deleted when either party ends the chat. The
// only post-creation mutation is the join-acknowledgment counter.
package room

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomPrefix   = "room:"
	byConnPrefix = "room:by-conn:"

	// RoomTTL caps how long an abandoned session record can linger if
	// neither side ever terminates it explicitly.
	RoomTTL = 2 * time.Hour
)

// Session holds the two participants of an active chat. Connection ids are
// used for real-time delivery; anonymous ids survive reconnects and drive
// ignore bookkeeping.
type Session struct {
	RoomID    string
	ConnA     string
	ConnB     string
	AnonA     string
	AnonB     string
	IsAdult   bool
	Tag       string
	CreatedAt int64 // unix millis
	Acks      int   // joinRoomAck count, 0..2
}

// PartnerAnon returns the anonymous identity of the other participant, or ""
// when connID is not part of this session.
func (s *Session) PartnerAnon(connID string) string {
	switch connID {
	case s.ConnA:
		return s.AnonB
	case s.ConnB:
		return s.AnonA
	}
	return ""
}

// PartnerConn returns the connection id of the other participant, or "" when
// connID is not part of this session.
func (s *Session) PartnerConn(connID string) string {
	switch connID {
	case s.ConnA:
		return s.ConnB
	case s.ConnB:
		return s.ConnA
	}
	return ""
}

// IsParticipant reports whether the connection belongs to this session.
func (s *Session) IsParticipant(connID string) bool {
	return connID == s.ConnA || connID == s.ConnB
}

// Store manages session records in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a session registry backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Create writes a new session record plus the per-connection index entries
// used for disconnect teardown.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	key := roomPrefix + sess.RoomID

	fields := map[string]interface{}{
		"conn_a":     sess.ConnA,
		"conn_b":     sess.ConnB,
		"anon_a":     sess.AnonA,
		"anon_b":     sess.AnonB,
		"is_adult":   strconv.FormatBool(sess.IsAdult),
		"tag":        sess.Tag,
		"created_at": sess.CreatedAt,
		"acks":       0,
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, RoomTTL)
	pipe.Set(ctx, byConnPrefix+sess.ConnA, sess.RoomID, RoomTTL)
	pipe.Set(ctx, byConnPrefix+sess.ConnB, sess.RoomID, RoomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session. Returns nil if not found.
func (s *Store) Get(ctx context.Context, roomID string) (*Session, error) {
	result, err := s.rdb.HGetAll(ctx, roomPrefix+roomID).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)
	acks, _ := strconv.Atoi(result["acks"])

	return &Session{
		RoomID:    roomID,
		ConnA:     result["conn_a"],
		ConnB:     result["conn_b"],
		AnonA:     result["anon_a"],
		AnonB:     result["anon_b"],
		IsAdult:   result["is_adult"] == "true",
		Tag:       result["tag"],
		CreatedAt: createdAt,
		Acks:      acks,
	}, nil
}

// RoomForConn resolves the active room for a connection, or "" when the
// connection is not in a session.
func (s *Store) RoomForConn(ctx context.Context, connID string) (string, error) {
	roomID, err := s.rdb.Get(ctx, byConnPrefix+connID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// RecordAck increments the session's join-acknowledgment counter and returns
// the new count. The counter lives on the session record so that the
// both-sides-joined state is visible to every process instance.
func (s *Store) RecordAck(ctx context.Context, roomID string) (int, error) {
	n, err := s.rdb.HIncrBy(ctx, roomPrefix+roomID, "acks", 1).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Delete removes a session record and its per-connection index entries.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	sess, err := s.Get(ctx, roomID)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, roomPrefix+roomID)
	if sess != nil {
		if sess.ConnA != "" {
			pipe.Del(ctx, byConnPrefix+sess.ConnA)
		}
		if sess.ConnB != "" {
			pipe.Del(ctx, byConnPrefix+sess.ConnB)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}
