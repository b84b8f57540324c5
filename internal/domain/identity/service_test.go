package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

// -- Mock Repository --

type mockPatientRepo struct {
	docs    map[string]store.Fields
	nextID  int
	failErr error
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{docs: make(map[string]store.Fields)}
}

func (m *mockPatientRepo) Create(_ context.Context, _ store.Namespace, f store.Fields) (string, error) {
	if m.failErr != nil {
		return "", m.failErr
	}
	m.nextID++
	id := fmt.Sprintf("p%d", m.nextID)
	m.docs[id] = f
	return id, nil
}

func (m *mockPatientRepo) Update(_ context.Context, _ store.Namespace, id string, f store.Fields) error {
	if m.failErr != nil {
		return m.failErr
	}
	doc, ok := m.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range f {
		doc[k] = v
	}
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, _ store.Namespace, id string) error {
	if m.failErr != nil {
		return m.failErr
	}
	delete(m.docs, id)
	return nil
}

var testNS = store.Namespace{PrincipalID: "user-1"}

func newTestService() (*Service, *mockPatientRepo) {
	repo := newMockPatientRepo()
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC) }
	return svc, repo
}

func TestService_SavePatientCreates(t *testing.T) {
	svc, repo := newTestService()
	d := NewPatientDraft()
	d.Name = "Ana"

	id, err := svc.SavePatient(context.Background(), testNS, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc := repo.docs[id]
	if doc["status"] != "Activo" {
		t.Errorf("expected default status Activo, got %v", doc["status"])
	}
	if doc["startDate"] != "2024-06-03" {
		t.Errorf("unexpected startDate %v", doc["startDate"])
	}
}

func TestService_SavePatientValidates(t *testing.T) {
	svc, repo := newTestService()
	_, err := svc.SavePatient(context.Background(), testNS, NewPatientDraft())
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if len(repo.docs) != 0 {
		t.Error("nothing should be written for an invalid draft")
	}
}

func TestService_SavePatientUpdatesKeepsSessions(t *testing.T) {
	svc, repo := newTestService()
	repo.docs["p7"] = store.Fields{"name": "Ana", "sessions": []Session{{ID: 1, Note: "x"}}, "startDate": "2020-01-01"}

	d := &PatientDraft{ID: "p7", Name: "Ana María", Status: StatusPaused}
	id, err := svc.SavePatient(context.Background(), testNS, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "p7" {
		t.Errorf("expected p7, got %s", id)
	}
	doc := repo.docs["p7"]
	if doc["name"] != "Ana María" || doc["status"] != "En Pausa" {
		t.Errorf("fields not overwritten: %+v", doc)
	}
	if doc["startDate"] != "2020-01-01" {
		t.Error("startDate must never change after creation")
	}
	if s := doc["sessions"].([]Session); len(s) != 1 {
		t.Errorf("sessions must survive an edit, got %v", s)
	}
}

func TestService_SavePatientUpdateMissing(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.SavePatient(context.Background(), testNS, &PatientDraft{ID: "gone", Name: "Ana", Status: StatusActive})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_DeletePatient(t *testing.T) {
	svc, repo := newTestService()
	repo.docs["p1"] = store.Fields{"name": "Ana"}
	if err := svc.DeletePatient(context.Background(), testNS, "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.docs["p1"]; ok {
		t.Error("expected p1 deleted")
	}
	if err := svc.DeletePatient(context.Background(), testNS, ""); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestService_AppendSessionFirst(t *testing.T) {
	svc, repo := newTestService()
	repo.docs["p1"] = store.Fields{"name": "Ana"}
	p := Patient{ID: "p1", Name: "Ana", Sessions: []Session{}}

	sess, err := svc.AppendSession(context.Background(), testNS, p, "primera consulta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Date != "2024-06-03" || sess.Note != "primera consulta" {
		t.Errorf("unexpected session %+v", sess)
	}
	got := repo.docs["p1"]["sessions"].([]Session)
	if len(got) != 1 || got[0] != sess {
		t.Errorf("expected exactly the new session, got %+v", got)
	}
}

func TestService_AppendSessionNewestFirst(t *testing.T) {
	svc, repo := newTestService()
	repo.docs["p1"] = store.Fields{"name": "Ana"}
	nowMs := svc.now().UnixMilli()
	older := Session{ID: nowMs, Date: "2024-06-03", Note: "first"}
	p := Patient{ID: "p1", Sessions: []Session{older}}

	sess, err := svc.AppendSession(context.Background(), testNS, p, "second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID <= older.ID {
		t.Errorf("expected id above %d, got %d", older.ID, sess.ID)
	}
	got := repo.docs["p1"]["sessions"].([]Session)
	if len(got) != 2 || got[0].Note != "second" || got[1].Note != "first" {
		t.Errorf("expected newest first, got %+v", got)
	}
}

func TestService_AppendSessionEmptyNote(t *testing.T) {
	svc, repo := newTestService()
	repo.docs["p1"] = store.Fields{}
	_, err := svc.AppendSession(context.Background(), testNS, Patient{ID: "p1"}, "   ")
	if !errors.Is(err, ErrEmptyNote) {
		t.Fatalf("expected ErrEmptyNote, got %v", err)
	}
	if _, ok := repo.docs["p1"]["sessions"]; ok {
		t.Error("empty note must not be written")
	}
}

func TestService_WriteErrorPropagates(t *testing.T) {
	svc, repo := newTestService()
	repo.failErr = errors.New("permission denied")
	d := NewPatientDraft()
	d.Name = "Ana"
	if _, err := svc.SavePatient(context.Background(), testNS, d); !errors.Is(err, repo.failErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
