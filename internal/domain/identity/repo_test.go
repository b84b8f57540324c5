package identity

import (
	"context"
	"testing"
	"time"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

func TestPatientRepo_RoundTripThroughStore(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(NewPatientRepo(mem))
	ctx := context.Background()

	sub, err := mem.Subscribe(ctx, testNS, store.Patients, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	<-sub.Snapshots()

	d := NewPatientDraft()
	d.Name = "Ana"
	d.Age = "41"
	id, err := svc.SavePatient(ctx, testNS, d)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var snap store.Snapshot
	select {
	case snap = <-sub.Snapshots():
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after create")
	}
	if len(snap.Docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(snap.Docs))
	}
	p, err := PatientFromDocument(snap.Docs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ID != id || p.Name != "Ana" || p.Age != "41" || p.Status != StatusActive {
		t.Errorf("unexpected patient %+v", p)
	}
	if p.CreatedAt == "" || p.UpdatedAt == "" {
		t.Error("expected server timestamps")
	}

	if err := svc.DeletePatient(ctx, testNS, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	select {
	case snap = <-sub.Snapshots():
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after delete")
	}
	if len(snap.Docs) != 0 {
		t.Errorf("expected empty collection, got %d", len(snap.Docs))
	}
}
