package presence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, context.Context) {
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
	return rdb, ctx
}

func TestStatus_SetGetClear(t *testing.T) {
	rdb, ctx := setupTestRedis(t)
	s := NewStatus(rdb, time.Minute)

	if err := s.Set(ctx, "c1", StatusActive); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != StatusActive {
		t.Errorf("expected %q, got %q", StatusActive, got)
	}

	if err := s.Set(ctx, "c1", StatusMatched); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, _ = s.Get(ctx, "c1")
	if got != StatusMatched {
		t.Errorf("expected %q, got %q", StatusMatched, got)
	}

	if err := s.Clear(ctx, "c1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	got, err = s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get after clear failed: %v", err)
	}
	if got != StatusUnknown {
		t.Errorf("expected unknown after clear, got %q", got)
	}
}

func TestStatus_UnknownForAbsentKey(t *testing.T) {
	rdb, ctx := setupTestRedis(t)
	s := NewStatus(rdb, time.Minute)

	got, err := s.Get(ctx, "never-set")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != StatusUnknown {
		t.Errorf("expected unknown for absent key, got %q", got)
	}
}

func TestStatus_KeyCarriesTTL(t *testing.T) {
	rdb, ctx := setupTestRedis(t)
	s := NewStatus(rdb, 42*time.Second)

	if err := s.Set(ctx, "c1", StatusActive); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	ttl, err := rdb.TTL(ctx, "status:c1").Result()
	if err != nil {
		t.Fatalf("ttl failed: %v", err)
	}
	if ttl <= 0 || ttl > 42*time.Second {
		t.Errorf("unexpected ttl: %v", ttl)
	}
}

func TestLiveness_RegisterRemove(t *testing.T) {
	rdb, ctx := setupTestRedis(t)
	l := NewLiveness(rdb, "gw-test", time.Minute)

	if l.IsLive(ctx, "c1") {
		t.Error("unregistered connection should not be live")
	}

	if err := l.Register(ctx, "c1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !l.IsLive(ctx, "c1") {
		t.Error("registered connection should be live")
	}

	if err := l.Refresh(ctx, "c1"); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if err := l.Remove(ctx, "c1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if l.IsLive(ctx, "c1") {
		t.Error("removed connection should not be live")
	}
}
