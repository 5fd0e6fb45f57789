package matching

import (
	"context"
	"fmt"
	"log"

	"github.com/veil/chat-app/internal/metrics"
	"github.com/veil/chat-app/internal/presence"
)

// EndChat terminates the session the acting connection is part of. Both
// participants are told the chat ended; the actor is marked inactive so it
// cannot be matched again until it rejoins, while the partner keeps its
// status and may immediately search again.
func (e *Engine) EndChat(ctx context.Context, connID, roomID string) error {
	sess, err := e.rooms.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("matching: end chat: %w", err)
	}
	if sess == nil || !sess.IsParticipant(connID) {
		return nil // already gone, or not the caller's room
	}

	if err := e.status.Set(ctx, connID, presence.StatusInactive); err != nil {
		return fmt.Errorf("matching: mark inactive: %w", err)
	}

	e.teardown(ctx, sess.RoomID, sess.ConnA, sess.ConnB)
	log.Printf("[match] room %s ended by %s", roomID, connID)
	return nil
}

// IgnoreUser ends the session like EndChat and additionally records a mutual
// block between the two anonymous identities, so the pair cannot be matched
// again while the block lasts.
func (e *Engine) IgnoreUser(ctx context.Context, connID, roomID string) error {
	sess, err := e.rooms.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("matching: ignore user: %w", err)
	}
	if sess == nil || !sess.IsParticipant(connID) {
		return nil
	}

	if err := e.ignores.Ignore(ctx, sess.AnonA, sess.AnonB); err != nil {
		return fmt.Errorf("matching: record ignore: %w", err)
	}
	metrics.IgnoresTotal.Inc()

	if err := e.status.Set(ctx, connID, presence.StatusInactive); err != nil {
		return fmt.Errorf("matching: mark inactive: %w", err)
	}

	e.teardown(ctx, sess.RoomID, sess.ConnA, sess.ConnB)
	log.Printf("[match] room %s ignored by %s", roomID, connID)
	return nil
}

// Disconnect cleans up after a connection is gone: if it was in a session,
// the partner is notified and the session is torn down. The departed side
// gets no notification.
func (e *Engine) Disconnect(ctx context.Context, connID string) error {
	roomID, err := e.rooms.RoomForConn(ctx, connID)
	if err != nil {
		return fmt.Errorf("matching: disconnect lookup: %w", err)
	}
	if roomID == "" {
		return nil
	}

	sess, err := e.rooms.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("matching: disconnect: %w", err)
	}
	if sess == nil {
		return nil
	}

	if partner := sess.PartnerConn(connID); partner != "" {
		if err := e.notify.ChatEnded(ctx, partner); err != nil {
			log.Printf("[match] notify chatEnded %s: %v", partner, err)
		}
	}

	if err := e.rooms.Delete(ctx, roomID); err != nil {
		log.Printf("[match] delete room %s: %v", roomID, err)
	} else {
		metrics.ActiveRooms.Dec()
	}
	log.Printf("[match] room %s torn down after %s disconnected", roomID, connID)
	return nil
}

// RecordJoinAck notes that a participant confirmed room entry. Returns the
// total ack count; 2 means both sides have joined.
func (e *Engine) RecordJoinAck(ctx context.Context, connID, roomID string) (int, error) {
	sess, err := e.rooms.Get(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("matching: join ack: %w", err)
	}
	if sess == nil || !sess.IsParticipant(connID) {
		return 0, nil
	}

	n, err := e.rooms.RecordAck(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("matching: join ack: %w", err)
	}
	return n, nil
}

// teardown notifies both participants and removes the session record.
func (e *Engine) teardown(ctx context.Context, roomID, connA, connB string) {
	for _, conn := range []string{connA, connB} {
		if conn == "" {
			continue
		}
		if err := e.notify.ChatEnded(ctx, conn); err != nil {
			log.Printf("[match] notify chatEnded %s: %v", conn, err)
		}
	}
	if err := e.rooms.Delete(ctx, roomID); err != nil {
		log.Printf("[match] delete room %s: %v", roomID, err)
	} else {
		metrics.ActiveRooms.Dec()
	}
}
