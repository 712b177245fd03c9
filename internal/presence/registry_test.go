package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T, ttl time.Duration) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := NewRegistryWithClient(client, ttl)
	t.Cleanup(func() { reg.Close() })
	return reg, mr
}

func TestSetAndList(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	connectedAt := time.Now().Add(-time.Minute)
	if err := reg.Set(ctx, "tool-1", "alice", connectedAt); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := reg.Set(ctx, "tool-1", "bob", time.Now()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := reg.Set(ctx, "tool-2", "carol", time.Now()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	records, err := reg.List(ctx, "tool-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.DocumentID != "tool-1" {
			t.Errorf("wrong document in listing: %+v", r)
		}
	}
}

func TestRefreshRecreatesMissingEntry(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	// Never set; a heartbeat is proof of presence.
	if err := reg.Refresh(ctx, "tool-1", "alice"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	records, err := reg.List(ctx, "tool-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 || records[0].UserID != "alice" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestRefreshStampsHeartbeat(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	if err := reg.Set(ctx, "tool-1", "alice", time.Now()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	records, err := reg.List(ctx, "tool-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	before := records[0].LastHeartbeatAt

	time.Sleep(5 * time.Millisecond)
	if err := reg.Refresh(ctx, "tool-1", "alice"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	records, err = reg.List(ctx, "tool-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !records[0].LastHeartbeatAt.After(before) {
		t.Errorf("heartbeat not stamped: %v -> %v", before, records[0].LastHeartbeatAt)
	}
	if records[0].ConnectedAt.IsZero() {
		t.Error("refresh lost connection time")
	}
}

func TestEntriesExpireWithoutRefresh(t *testing.T) {
	reg, mr := newTestRegistry(t, time.Second)
	ctx := context.Background()

	if err := reg.Set(ctx, "tool-1", "alice", time.Now()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mr.FastForward(2 * time.Second)

	records, err := reg.List(ctx, "tool-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected expiry, got %+v", records)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	if err := reg.Set(ctx, "tool-1", "alice", time.Now()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := reg.Remove(ctx, "tool-1", "alice"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := reg.Remove(ctx, "tool-1", "alice"); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}

	records, err := reg.List(ctx, "tool-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("entry survived removal: %+v", records)
	}
}
