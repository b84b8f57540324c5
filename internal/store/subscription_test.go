package store

import (
	"context"
	"testing"
	"time"
)

func TestEmitter_CoalescesToLatest(t *testing.T) {
	sub, em := NewSubscription()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		em.Emit(Snapshot{Collection: Patients, At: time.Unix(int64(i), 0)})
	}

	snap := <-sub.Snapshots()
	if snap.At.Unix() != 4 {
		t.Fatalf("expected newest snapshot, got %v", snap.At)
	}
	select {
	case extra := <-sub.Snapshots():
		t.Fatalf("expected no pending snapshot, got %v", extra)
	default:
	}
}

func TestEmitter_EmitAfterStop(t *testing.T) {
	sub, em := NewSubscription()
	sub.Close()

	if em.Emit(Snapshot{}) {
		t.Fatal("expected Emit to report false after close")
	}
	if _, ok := <-sub.Snapshots(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestLocalFeed_NotifyWithoutWatchers(t *testing.T) {
	f := NewLocalFeed()
	if err := f.Notify(context.Background(), "users/u/patients"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
