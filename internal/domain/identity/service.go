package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

type Service struct {
	patients PatientRepository
	now      func() time.Time
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients, now: time.Now}
}

// SetClock replaces the source of session ids and dates.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// -- Patient --

// SavePatient creates the patient when the draft is new and overwrites its
// form fields otherwise. It returns the document id.
func (s *Service) SavePatient(ctx context.Context, ns store.Namespace, d *PatientDraft) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	fields := d.Fields(s.now())
	if d.IsNew() {
		return s.patients.Create(ctx, ns, fields)
	}
	if err := s.patients.Update(ctx, ns, d.ID, fields); err != nil {
		return "", err
	}
	return d.ID, nil
}

func (s *Service) DeletePatient(ctx context.Context, ns store.Namespace, id string) error {
	if id == "" {
		return fmt.Errorf("patient id is required")
	}
	return s.patients.Delete(ctx, ns, id)
}

// -- Sessions --

// AppendSession prepends a note dated today to p's sessions. The new id is
// the current time in milliseconds, bumped past any existing id.
func (s *Service) AppendSession(ctx context.Context, ns store.Namespace, p Patient, note string) (Session, error) {
	if strings.TrimSpace(note) == "" {
		return Session{}, ErrEmptyNote
	}
	now := s.now()
	sess := Session{
		ID:   nextSessionID(p.Sessions, now),
		Date: now.UTC().Format(DateLayout),
		Note: note,
	}
	sessions := make([]Session, 0, len(p.Sessions)+1)
	sessions = append(sessions, sess)
	sessions = append(sessions, p.Sessions...)

	err := s.patients.Update(ctx, ns, p.ID, store.Fields{
		"sessions":  sessions,
		"updatedAt": store.ServerTimestamp,
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func nextSessionID(existing []Session, now time.Time) int64 {
	id := now.UnixMilli()
	for _, s := range existing {
		if s.ID >= id {
			id = s.ID + 1
		}
	}
	return id
}
