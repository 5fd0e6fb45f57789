package room

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
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

func testSession() *Session {
	return &Session{
		RoomID:    "room-1",
		ConnA:     "conn-a",
		ConnB:     "conn-b",
		AnonA:     "anon-a",
		AnonB:     "anon-b",
		IsAdult:   true,
		Tag:       "movies",
		CreatedAt: time.Now().UnixMilli(),
	}
}

func TestCreateGet_RoundTrip(t *testing.T) {
	s, ctx := setupTestStore(t)
	want := testSession()

	if err := s.Create(ctx, want); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.Get(ctx, want.RoomID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.ConnA != want.ConnA || got.ConnB != want.ConnB {
		t.Errorf("connection ids mismatch: %+v", got)
	}
	if got.AnonA != want.AnonA || got.AnonB != want.AnonB {
		t.Errorf("anonymous ids mismatch: %+v", got)
	}
	if !got.IsAdult {
		t.Error("is_adult not preserved")
	}
	if got.Tag != "movies" {
		t.Errorf("tag not preserved: %q", got.Tag)
	}
	if got.CreatedAt != want.CreatedAt {
		t.Errorf("created_at mismatch: %d != %d", got.CreatedAt, want.CreatedAt)
	}
	if got.Acks != 0 {
		t.Errorf("fresh session should have 0 acks, got %d", got.Acks)
	}
}

func TestGet_Missing(t *testing.T) {
	s, ctx := setupTestStore(t)

	got, err := s.Get(ctx, "no-such-room")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing session, got %+v", got)
	}
}

func TestRoomForConn_Index(t *testing.T) {
	s, ctx := setupTestStore(t)
	sess := testSession()

	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for _, conn := range []string{sess.ConnA, sess.ConnB} {
		roomID, err := s.RoomForConn(ctx, conn)
		if err != nil {
			t.Fatalf("roomForConn failed: %v", err)
		}
		if roomID != sess.RoomID {
			t.Errorf("expected %s for %s, got %q", sess.RoomID, conn, roomID)
		}
	}

	roomID, err := s.RoomForConn(ctx, "stranger")
	if err != nil {
		t.Fatalf("roomForConn failed: %v", err)
	}
	if roomID != "" {
		t.Errorf("expected empty room for unknown conn, got %q", roomID)
	}
}

func TestRecordAck_CountsToTwo(t *testing.T) {
	s, ctx := setupTestStore(t)
	sess := testSession()

	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	n, err := s.RecordAck(ctx, sess.RoomID)
	if err != nil {
		t.Fatalf("recordAck failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 after first ack, got %d", n)
	}

	n, err = s.RecordAck(ctx, sess.RoomID)
	if err != nil {
		t.Fatalf("recordAck failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 after second ack, got %d", n)
	}

	got, _ := s.Get(ctx, sess.RoomID)
	if got.Acks != 2 {
		t.Errorf("acks not persisted on the record, got %d", got.Acks)
	}
}

func TestDelete_RemovesRecordAndIndex(t *testing.T) {
	s, ctx := setupTestStore(t)
	sess := testSession()

	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.Delete(ctx, sess.RoomID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, _ := s.Get(ctx, sess.RoomID)
	if got != nil {
		t.Error("session should be gone after delete")
	}
	roomID, _ := s.RoomForConn(ctx, sess.ConnA)
	if roomID != "" {
		t.Error("by-conn index should be gone after delete")
	}
}

func TestDelete_MissingRoomIsNoop(t *testing.T) {
	s, ctx := setupTestStore(t)

	if err := s.Delete(ctx, "no-such-room"); err != nil {
		t.Fatalf("deleting a missing session should not fail: %v", err)
	}
}

func TestSession_PartnerLookups(t *testing.T) {
	sess := testSession()

	if got := sess.PartnerAnon("conn-a"); got != "anon-b" {
		t.Errorf("expected anon-b, got %q", got)
	}
	if got := sess.PartnerAnon("conn-b"); got != "anon-a" {
		t.Errorf("expected anon-a, got %q", got)
	}
	if got := sess.PartnerAnon("other"); got != "" {
		t.Errorf("expected empty for non-participant, got %q", got)
	}
	if got := sess.PartnerConn("conn-a"); got != "conn-b" {
		t.Errorf("expected conn-b, got %q", got)
	}
	if !sess.IsParticipant("conn-a") || !sess.IsParticipant("conn-b") {
		t.Error("participants not recognized")
	}
	if sess.IsParticipant("other") {
		t.Error("non-participant recognized")
	}
}
