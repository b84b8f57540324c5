package scheduling

import (
	"context"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

// AppointmentRepository writes appointment documents.
type AppointmentRepository interface {
	Create(ctx context.Context, ns store.Namespace, fields store.Fields) (string, error)
	Update(ctx context.Context, ns store.Namespace, id string, fields store.Fields) error
	Delete(ctx context.Context, ns store.Namespace, id string) error
}

type appointmentStoreRepo struct {
	s store.Store
}

func NewAppointmentRepo(s store.Store) AppointmentRepository {
	return &appointmentStoreRepo{s: s}
}

func (r *appointmentStoreRepo) Create(ctx context.Context, ns store.Namespace, fields store.Fields) (string, error) {
	return r.s.Create(ctx, ns, store.Appointments, fields)
}

func (r *appointmentStoreRepo) Update(ctx context.Context, ns store.Namespace, id string, fields store.Fields) error {
	return r.s.Update(ctx, ns, store.Appointments, id, fields)
}

func (r *appointmentStoreRepo) Delete(ctx context.Context, ns store.Namespace, id string) error {
	return r.s.Delete(ctx, ns, store.Appointments, id)
}
