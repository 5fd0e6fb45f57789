// Package matching implements the matchmaking engine: stale-entry cleanup,
// self-registration, the mutual-compatibility candidate scan over the waiting
// queues, and session creation/termination. All shared state lives in
// external stores accessed through individually-atomic operations; the scan
// is deliberately not wrapped in a transaction — the pop-from-list atomicity
// of the queue store guarantees an entry is only ever handed to one scan at a
// time, which is the correctness-critical property.
package matching

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/veil/chat-app/internal/metrics"
	"github.com/veil/chat-app/internal/presence"
	"github.com/veil/chat-app/internal/queue"
	"github.com/veil/chat-app/internal/room"
)

// QueueStore is the waiting-queue contract the engine needs.
type QueueStore interface {
	Enqueue(ctx context.Context, key string, e *queue.Entry) ([]byte, error)
	DequeueOldest(ctx context.Context, key string) (string, bool, error)
	Restore(ctx context.Context, key string, rejects []string) error
	Remove(ctx context.Context, key string, raw []byte) error
	RemoveConn(ctx context.Context, key string, connID string) (int, error)
}

// StatusStore tracks per-connection activity status.
type StatusStore interface {
	Set(ctx context.Context, connID, status string) error
	Get(ctx context.Context, connID string) (string, error)
}

// IgnoreStore checks and records mutual blocks between anonymous identities.
type IgnoreStore interface {
	Ignore(ctx context.Context, idA, idB string) error
	IsIgnored(ctx context.Context, idA, idB string) (bool, error)
}

// RoomStore is the session registry contract.
type RoomStore interface {
	Create(ctx context.Context, sess *room.Session) error
	Get(ctx context.Context, roomID string) (*room.Session, error)
	Delete(ctx context.Context, roomID string) error
	RecordAck(ctx context.Context, roomID string) (int, error)
	RoomForConn(ctx context.Context, connID string) (string, error)
}

// Liveness reports whether a connection is still held by a gateway.
type Liveness interface {
	IsLive(ctx context.Context, connID string) bool
}

// Notifier delivers session events to connections via the gateway.
type Notifier interface {
	JoinRoom(ctx context.Context, connID, roomID string) error
	RoomReady(ctx context.Context, connID, roomID string) error
	ChatEnded(ctx context.Context, connID string) error
}

// ConversationLog persists conversation records for history and reports.
// It may be nil, in which case nothing durable is written at match time.
type ConversationLog interface {
	CreateConversation(ctx context.Context, roomID, anonA, anonB string, isAdult bool, tag string) error
}

// Engine pairs join requests against the waiting queues.
type Engine struct {
	queues   QueueStore
	status   StatusStore
	ignores  IgnoreStore
	rooms    RoomStore
	liveness Liveness
	notify   Notifier
	history  ConversationLog
}

// NewEngine wires the engine to its stores and collaborators.
func NewEngine(queues QueueStore, status StatusStore, ignores IgnoreStore, rooms RoomStore, liveness Liveness, notify Notifier, history ConversationLog) *Engine {
	return &Engine{
		queues:   queues,
		status:   status,
		ignores:  ignores,
		rooms:    rooms,
		liveness: liveness,
		notify:   notify,
		history:  history,
	}
}

// Join handles a request for a chat partner: it either forms a session or
// leaves the requester waiting in its queue. At most one session results.
func (e *Engine) Join(ctx context.Context, req JoinRequest) error {
	if req.AnonID == "" {
		return fmt.Errorf("matching: join without anonymous identity")
	}

	switch spec := req.Spec.(type) {
	case CriteriaSpec:
		return e.joinCriteria(ctx, req, spec)
	case TagSpec:
		return e.joinTag(ctx, req, spec)
	default:
		return fmt.Errorf("matching: unknown search spec %T", req.Spec)
	}
}

// joinCriteria implements the gender/age-group matching mode.
func (e *Engine) joinCriteria(ctx context.Context, req JoinRequest, spec CriteriaSpec) error {
	// Purge any entries left behind by a previous join from this connection
	// (page reload, repeated submit). Scans every criteria key combination
	// plus the requester's own key in case it uses unknown values.
	if err := e.purgeStale(ctx, req.ConnID, spec.Gender, spec.AgeGroup); err != nil {
		return fmt.Errorf("matching: stale purge: %w", err)
	}

	// Register ourselves before scanning, so two compatible requests racing
	// each other are guaranteed to have at least one observe the other.
	myKey := queue.CriteriaKey(spec.Gender, spec.AgeGroup)
	myRaw, err := e.queues.Enqueue(ctx, myKey, &queue.Entry{
		ConnID:           req.ConnID,
		AnonID:           req.AnonID,
		Gender:           spec.Gender,
		AgeGroup:         spec.AgeGroup,
		SeekingGender:    spec.SeekingGender,
		SeekingAgeGroups: spec.SeekingAgeGroups,
		IsAdult:          spec.IsAdult,
		Joined:           queue.NewEntryTimestamp(),
	})
	if err != nil {
		return fmt.Errorf("matching: enqueue: %w", err)
	}

	if err := e.status.Set(ctx, req.ConnID, presence.StatusActive); err != nil {
		return fmt.Errorf("matching: mark active: %w", err)
	}

	// Scan each sought bracket in the order provided. An empty set means no
	// scan at all: the requester just waits to be found.
	for _, bracket := range spec.SeekingAgeGroups {
		key := queue.CriteriaKey(spec.SeekingGender, bracket)
		accept := func(cand *queue.Entry) (bool, error) {
			if cand.SeekingGender != spec.Gender || !contains(cand.SeekingAgeGroups, spec.AgeGroup) {
				return false, nil // candidate doesn't want us back
			}
			return true, nil
		}

		cand, err := e.scanQueue(ctx, key, req, accept)
		if err != nil {
			return err
		}
		if cand != nil {
			return e.finalizeMatch(ctx, req, myKey, myRaw, cand, spec.IsAdult, "")
		}
	}

	// No partner found; our entry stays discoverable for future joiners.
	log.Printf("[match] %s waiting in %s", req.ConnID, myKey)
	return nil
}

// joinTag implements the free-text tag matching mode: a single queue per tag,
// gender and age not considered, adult flags must be equal.
func (e *Engine) joinTag(ctx context.Context, req JoinRequest, spec TagSpec) error {
	if err := e.purgeStale(ctx, req.ConnID, "", ""); err != nil {
		return fmt.Errorf("matching: stale purge: %w", err)
	}

	key := queue.TagKey(spec.Tag)
	// Also drop any earlier entry from this connection in the same tag queue.
	if _, err := e.queues.RemoveConn(ctx, key, req.ConnID); err != nil {
		return fmt.Errorf("matching: tag purge: %w", err)
	}

	myRaw, err := e.queues.Enqueue(ctx, key, &queue.Entry{
		ConnID:  req.ConnID,
		AnonID:  req.AnonID,
		IsAdult: spec.IsAdult,
		Joined:  queue.NewEntryTimestamp(),
	})
	if err != nil {
		return fmt.Errorf("matching: enqueue: %w", err)
	}

	if err := e.status.Set(ctx, req.ConnID, presence.StatusActive); err != nil {
		return fmt.Errorf("matching: mark active: %w", err)
	}

	accept := func(cand *queue.Entry) (bool, error) {
		return cand.IsAdult == spec.IsAdult, nil
	}

	cand, err := e.scanQueue(ctx, key, req, accept)
	if err != nil {
		return err
	}
	if cand != nil {
		return e.finalizeMatch(ctx, req, key, myRaw, cand, spec.IsAdult, spec.Tag)
	}

	log.Printf("[match] %s waiting in %s", req.ConnID, key)
	return nil
}

// scanQueue pops candidates oldest-first from one queue and returns the first
// that is mutually compatible, live, active, and not ignored. Rejected
// candidates are collected and bulk-restored — also on the match path — so a
// rejected entry is never re-examined within the same pass and the rejects
// keep their relative order. Candidates whose connection is gone are dropped
// for good; malformed entries are discarded as garbage.
func (e *Engine) scanQueue(ctx context.Context, key string, req JoinRequest, accept func(*queue.Entry) (bool, error)) (*queue.Entry, error) {
	var rejects []string
	restore := func() {
		if err := e.queues.Restore(ctx, key, rejects); err != nil {
			log.Printf("[match] restore %s: %v", key, err)
		}
	}

	for {
		raw, ok, err := e.queues.DequeueOldest(ctx, key)
		if err != nil {
			restore()
			return nil, fmt.Errorf("matching: dequeue %s: %w", key, err)
		}
		if !ok {
			break
		}

		cand, err := queue.DecodeEntry(raw)
		if err != nil {
			continue // garbage entry, drop silently
		}

		// Self-match guard: our own entry stays queued but is never a match.
		if cand.ConnID == req.ConnID {
			rejects = append(rejects, raw)
			continue
		}

		// Gone connections are garbage-collected right here rather than
		// requeued: this scan is the only structural cleanup they get.
		if !e.liveness.IsLive(ctx, cand.ConnID) {
			metrics.GhostEntriesDropped.Inc()
			log.Printf("[match] dropping offline entry %s from %s", cand.ConnID, key)
			continue
		}

		ok, err = accept(cand)
		if err != nil {
			restore()
			return nil, err
		}
		if !ok {
			rejects = append(rejects, raw)
			continue
		}

		status, err := e.status.Get(ctx, cand.ConnID)
		if err != nil {
			restore()
			return nil, fmt.Errorf("matching: candidate status: %w", err)
		}
		if status != presence.StatusActive {
			rejects = append(rejects, raw)
			continue
		}

		ignored, err := e.ignores.IsIgnored(ctx, req.AnonID, cand.AnonID)
		if err != nil {
			restore()
			return nil, fmt.Errorf("matching: ignore check: %w", err)
		}
		if ignored {
			rejects = append(rejects, raw)
			continue
		}

		// First mutually-compatible, live, non-ignored candidate wins.
		restore()
		return cand, nil
	}

	restore()
	return nil, nil
}

// finalizeMatch creates the session, flips both statuses to matched, removes
// the requester's own queue entry, and notifies both parties. roomReady is
// sent immediately at match time.
func (e *Engine) finalizeMatch(ctx context.Context, req JoinRequest, myKey string, myRaw []byte, cand *queue.Entry, isAdult bool, tag string) error {
	roomID := uuid.New().String()

	sess := &room.Session{
		RoomID:    roomID,
		ConnA:     req.ConnID,
		ConnB:     cand.ConnID,
		AnonA:     req.AnonID,
		AnonB:     cand.AnonID,
		IsAdult:   isAdult,
		Tag:       tag,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := e.rooms.Create(ctx, sess); err != nil {
		return fmt.Errorf("matching: create session: %w", err)
	}

	if err := e.status.Set(ctx, req.ConnID, presence.StatusMatched); err != nil {
		return fmt.Errorf("matching: mark matched: %w", err)
	}
	if err := e.status.Set(ctx, cand.ConnID, presence.StatusMatched); err != nil {
		return fmt.Errorf("matching: mark matched: %w", err)
	}

	// Durable conversation record for history and reports. Failure here is
	// logged, not fatal: the live session is already formed and TTLs bound
	// the damage of any partial write.
	if e.history != nil {
		if err := e.history.CreateConversation(ctx, roomID, req.AnonID, cand.AnonID, isAdult, tag); err != nil {
			log.Printf("[match] conversation record %s: %v", roomID, err)
		}
	}

	// We must not remain waiting once matched.
	if err := e.queues.Remove(ctx, myKey, myRaw); err != nil {
		log.Printf("[match] remove own entry from %s: %v", myKey, err)
	}

	if err := e.notify.JoinRoom(ctx, req.ConnID, roomID); err != nil {
		log.Printf("[match] notify joinRoom %s: %v", req.ConnID, err)
	}
	if err := e.notify.JoinRoom(ctx, cand.ConnID, roomID); err != nil {
		log.Printf("[match] notify joinRoom %s: %v", cand.ConnID, err)
	}
	if err := e.notify.RoomReady(ctx, req.ConnID, roomID); err != nil {
		log.Printf("[match] notify roomReady %s: %v", req.ConnID, err)
	}
	if err := e.notify.RoomReady(ctx, cand.ConnID, roomID); err != nil {
		log.Printf("[match] notify roomReady %s: %v", cand.ConnID, err)
	}

	mode := req.Spec.mode()
	metrics.MatchesTotal.WithLabelValues(mode).Inc()
	metrics.ActiveRooms.Inc()
	if cand.Joined > 0 {
		wait := time.Since(time.UnixMilli(cand.Joined))
		metrics.MatchWaitSeconds.Observe(wait.Seconds())
	}

	log.Printf("[match] room %s: %s <-> %s (mode=%s)", roomID, req.AnonID, cand.AnonID, mode)
	return nil
}

// purgeStale removes every queue entry belonging to connID across all known
// criteria key combinations. ownGender/ownAgeGroup cover a requester whose
// declared values fall outside the known sets.
func (e *Engine) purgeStale(ctx context.Context, connID, ownGender, ownAgeGroup string) error {
	keys := make(map[string]struct{})
	for _, g := range queue.Genders {
		for _, a := range queue.AgeGroups {
			keys[queue.CriteriaKey(g, a)] = struct{}{}
		}
	}
	if ownGender != "" && ownAgeGroup != "" {
		keys[queue.CriteriaKey(ownGender, ownAgeGroup)] = struct{}{}
	}

	for key := range keys {
		removed, err := e.queues.RemoveConn(ctx, key, connID)
		if err != nil {
			return err
		}
		if removed > 0 {
			log.Printf("[match] purged %d stale entries for %s from %s", removed, connID, key)
		}
	}
	return nil
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
