package workspace

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/scheduling"
	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

// Mirror holds the last snapshot of each collection. Only the workspace's
// subscription loops write to it; readers get copies.
type Mirror struct {
	mu           sync.RWMutex
	patients     []identity.Patient
	appointments []scheduling.Appointment
	loaded       map[store.Collection]bool
}

func NewMirror() *Mirror {
	return &Mirror{loaded: make(map[store.Collection]bool)}
}

// apply replaces the collection named by snap wholesale. Documents that do
// not decode are left out and reported in the returned error.
func (m *Mirror) apply(snap store.Snapshot) (int, error) {
	var errs []error
	switch snap.Collection {
	case store.Patients:
		patients := make([]identity.Patient, 0, len(snap.Docs))
		for _, d := range snap.Docs {
			p, err := identity.PatientFromDocument(d)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			patients = append(patients, p)
		}
		m.mu.Lock()
		m.patients = patients
		m.loaded[store.Patients] = true
		m.mu.Unlock()
		return len(patients), errors.Join(errs...)

	case store.Appointments:
		appts := make([]scheduling.Appointment, 0, len(snap.Docs))
		for _, d := range snap.Docs {
			a, err := scheduling.AppointmentFromDocument(d)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			appts = append(appts, a)
		}
		m.mu.Lock()
		m.appointments = appts
		m.loaded[store.Appointments] = true
		m.mu.Unlock()
		return len(appts), errors.Join(errs...)
	}
	return 0, fmt.Errorf("unknown collection %q", snap.Collection)
}

func (m *Mirror) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients = nil
	m.appointments = nil
	m.loaded = make(map[store.Collection]bool)
}

// Loaded reports whether a snapshot of c has arrived.
func (m *Mirror) Loaded(c store.Collection) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded[c]
}

func (m *Mirror) Patients() []identity.Patient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]identity.Patient, len(m.patients))
	copy(out, m.patients)
	return out
}

func (m *Mirror) Appointments() []scheduling.Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]scheduling.Appointment, len(m.appointments))
	copy(out, m.appointments)
	return out
}

func (m *Mirror) Patient(id string) (identity.Patient, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return identity.Find(m.patients, id)
}

func (m *Mirror) Appointment(id string) (scheduling.Appointment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return scheduling.Find(m.appointments, id)
}
