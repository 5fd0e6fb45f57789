package queue

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestStore creates a Store connected to a test Redis instance.
// Requires Redis running on localhost:6379. Tests are skipped if unavailable.
func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	rdb.FlushDB(ctx)

	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return NewStore(rdb), ctx
}

func mustEnqueue(t *testing.T, s *Store, ctx context.Context, key string, e *Entry) []byte {
	t.Helper()
	raw, err := s.Enqueue(ctx, key, e)
	if err != nil {
		t.Fatalf("failed to enqueue %s: %v", e.ConnID, err)
	}
	return raw
}

func TestKeys(t *testing.T) {
	if got := CriteriaKey("m", "19-25"); got != "queue:m:19-25" {
		t.Errorf("unexpected criteria key: %s", got)
	}
	if got := TagKey("movies"); got != "queue:tag:movies" {
		t.Errorf("unexpected tag key: %s", got)
	}
}

func TestDequeueOldest_FIFO(t *testing.T) {
	s, ctx := setupTestStore(t)
	key := CriteriaKey("f", "19-25")

	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c1", AnonID: "a1"})
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c2", AnonID: "a2"})
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c3", AnonID: "a3"})

	for _, want := range []string{"c1", "c2", "c3"} {
		raw, ok, err := s.DequeueOldest(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("expected an entry for %s, queue empty", want)
		}
		e, err := DecodeEntry(raw)
		if err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if e.ConnID != want {
			t.Errorf("expected %s, got %s", want, e.ConnID)
		}
	}

	if _, ok, _ := s.DequeueOldest(ctx, key); ok {
		t.Error("expected empty queue after draining")
	}
}

func TestDequeueOldest_EmptyQueue(t *testing.T) {
	s, ctx := setupTestStore(t)

	raw, ok, err := s.DequeueOldest(ctx, CriteriaKey("m", "36+"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || raw != "" {
		t.Errorf("expected empty sentinel, got ok=%v raw=%q", ok, raw)
	}
}

func TestRestore_PreservesRelativeOrder(t *testing.T) {
	s, ctx := setupTestStore(t)
	key := CriteriaKey("m", "18")

	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c1"})
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c2"})
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c3"})

	// Pop all three (a scan that rejected everyone), then restore.
	var rejects []string
	for {
		raw, ok, err := s.DequeueOldest(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			break
		}
		rejects = append(rejects, raw)
	}
	if len(rejects) != 3 {
		t.Fatalf("expected 3 rejects, got %d", len(rejects))
	}

	if err := s.Restore(ctx, key, rejects); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	// A subsequent scan must see the same oldest-first order.
	for _, want := range []string{"c1", "c2", "c3"} {
		raw, ok, _ := s.DequeueOldest(ctx, key)
		if !ok {
			t.Fatalf("expected entry %s after restore", want)
		}
		e, _ := DecodeEntry(raw)
		if e.ConnID != want {
			t.Errorf("expected %s, got %s", want, e.ConnID)
		}
	}
}

func TestRestore_RejectsStayBehindConcurrentArrivals(t *testing.T) {
	s, ctx := setupTestStore(t)
	key := CriteriaKey("f", "26-35")

	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "old"})

	raw, ok, _ := s.DequeueOldest(ctx, key)
	if !ok {
		t.Fatal("expected entry")
	}

	// Another join lands while the scan holds the popped entry.
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "new"})

	if err := s.Restore(ctx, key, []string{raw}); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	// Restored rejects go back at the dequeue end, so they are re-examined
	// before the concurrent arrival.
	first, _, _ := s.DequeueOldest(ctx, key)
	e, _ := DecodeEntry(first)
	if e.ConnID != "old" {
		t.Errorf("expected restored entry first, got %s", e.ConnID)
	}
}

func TestRemove_ExactEntry(t *testing.T) {
	s, ctx := setupTestStore(t)
	key := CriteriaKey("m", "19-25")

	raw1 := mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c1", Joined: 100})
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c2", Joined: 200})

	if err := s.Remove(ctx, key, raw1); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	n, err := s.Len(ctx, key)
	if err != nil {
		t.Fatalf("len failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry left, got %d", n)
	}
	rest, _, _ := s.DequeueOldest(ctx, key)
	e, _ := DecodeEntry(rest)
	if e.ConnID != "c2" {
		t.Errorf("expected c2 to survive, got %s", e.ConnID)
	}
}

func TestRemoveConn_PurgesAllEntriesForConnection(t *testing.T) {
	s, ctx := setupTestStore(t)
	key := CriteriaKey("m", "19-25")

	// Duplicate joins from the same connection at different timestamps.
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "dup", Joined: 1})
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "other", Joined: 2})
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "dup", Joined: 3})

	removed, err := s.RemoveConn(ctx, key, "dup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	n, _ := s.Len(ctx, key)
	if n != 1 {
		t.Errorf("expected 1 entry left, got %d", n)
	}
}

func TestRemoveConn_SkipsMalformedEntries(t *testing.T) {
	s, ctx := setupTestStore(t)
	key := CriteriaKey("f", "18")

	// Plant a garbage element directly, then a valid one.
	if err := s.rdb.LPush(ctx, key, "{not json").Err(); err != nil {
		t.Fatalf("lpush failed: %v", err)
	}
	mustEnqueue(t, s, ctx, key, &Entry{ConnID: "c1"})

	removed, err := s.RemoveConn(ctx, key, "c1")
	if err != nil {
		t.Fatalf("scan should not fail on malformed entries: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	// Garbage stays in place; the matching scan drops it on pop.
	n, _ := s.Len(ctx, key)
	if n != 1 {
		t.Errorf("expected garbage element to remain, len=%d", n)
	}
}

func TestDecodeEntry_Malformed(t *testing.T) {
	if _, err := DecodeEntry("{broken"); err == nil {
		t.Error("expected error for malformed entry")
	}
}
