package scheduling

import (
	"context"
	"fmt"

	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

type Service struct {
	appointments AppointmentRepository
}

func NewService(appts AppointmentRepository) *Service {
	return &Service{appointments: appts}
}

// SaveAppointment validates d, resolves the patient name against patients
// and writes the appointment. patients is the current mirror contents.
// Only active patients can be booked; an existing appointment keeps its
// patient even after that patient is paused or discharged.
func (s *Service) SaveAppointment(ctx context.Context, ns store.Namespace, d *AppointmentDraft, patients []identity.Patient) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	p, ok := identity.Find(patients, d.PatientID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPatientNotFound, d.PatientID)
	}
	if d.Rebooks() && !p.IsActive() {
		return "", fmt.Errorf("%w: %s is %s", ErrPatientInactive, p.Name, p.Status)
	}
	fields := d.Fields(p.Name)
	if d.IsNew() {
		return s.appointments.Create(ctx, ns, fields)
	}
	if err := s.appointments.Update(ctx, ns, d.ID, fields); err != nil {
		return "", err
	}
	return d.ID, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, ns store.Namespace, id string) error {
	if id == "" {
		return fmt.Errorf("appointment id is required")
	}
	return s.appointments.Delete(ctx, ns, id)
}
