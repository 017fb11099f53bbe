package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/mitmirani09/syncboard/internal/db"
	"github.com/mitmirani09/syncboard/internal/protocol"
)

func commitVersions(t *testing.T, store db.Store, roomID, shapeID string, versions int) {
	t.Helper()
	for i := 0; i < versions; i++ {
		s := protocol.Shape{
			ID: shapeID, Kind: protocol.KindRectangle, Width: float64(i), Height: 1,
			StrokeColor: "#000000", StrokeWidth: 3,
		}
		if err := store.Commit(context.Background(), roomID, s); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}
}

func TestCompactAllRespectsThreshold(t *testing.T) {
	store := db.NewMemoryStore()
	commitVersions(t, store, "busy", "a", 6)
	commitVersions(t, store, "quiet", "a", 2)

	svc := New(store, Config{Interval: time.Hour, Threshold: 5, PageSize: 1}, nil, nil)
	if n := svc.CompactAll(context.Background()); n != 1 {
		t.Errorf("Expected 1 compacted room, got %d", n)
	}

	ctx := context.Background()
	if c, _ := store.SupersededCount(ctx, "busy"); c != 0 {
		t.Errorf("Expected busy room to be pruned, %d superseded left", c)
	}
	if c, _ := store.SupersededCount(ctx, "quiet"); c != 1 {
		t.Errorf("Quiet room should be untouched, got %d superseded", c)
	}

	shapes, _ := store.GetSnapshot(ctx, "busy")
	if len(shapes) != 1 || shapes[0].Width != 5 {
		t.Errorf("Pruning must keep the latest record, got %+v", shapes)
	}
}

func TestCompactNowIgnoresThreshold(t *testing.T) {
	store := db.NewMemoryStore()
	commitVersions(t, store, "R", "a", 3)

	svc := New(store, Config{Interval: time.Hour, Threshold: 100}, nil, nil)
	n, err := svc.CompactNow(context.Background(), "R")
	if err != nil {
		t.Fatalf("CompactNow failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 pruned records, got %d", n)
	}
}

func TestStartStop(t *testing.T) {
	store := db.NewMemoryStore()
	commitVersions(t, store, "R", "a", 3)

	svc := New(store, Config{Interval: time.Hour, Threshold: 1}, nil, nil)
	svc.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, _ := store.SupersededCount(context.Background(), "R"); c == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	svc.Stop()
	svc.Stop()

	if c, _ := store.SupersededCount(context.Background(), "R"); c != 0 {
		t.Errorf("Expected the initial pass to prune, %d superseded left", c)
	}
}
