package identity

import (
	"context"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

// PatientRepository writes patient documents. Reads come from the mirror.
type PatientRepository interface {
	Create(ctx context.Context, ns store.Namespace, fields store.Fields) (string, error)
	Update(ctx context.Context, ns store.Namespace, id string, fields store.Fields) error
	Delete(ctx context.Context, ns store.Namespace, id string) error
}

type patientStoreRepo struct {
	s store.Store
}

// NewPatientRepo returns a repository over the patients collection of s.
func NewPatientRepo(s store.Store) PatientRepository {
	return &patientStoreRepo{s: s}
}

func (r *patientStoreRepo) Create(ctx context.Context, ns store.Namespace, fields store.Fields) (string, error) {
	return r.s.Create(ctx, ns, store.Patients, fields)
}

func (r *patientStoreRepo) Update(ctx context.Context, ns store.Namespace, id string, fields store.Fields) error {
	return r.s.Update(ctx, ns, store.Patients, id, fields)
}

func (r *patientStoreRepo) Delete(ctx context.Context, ns store.Namespace, id string) error {
	return r.s.Delete(ctx, ns, store.Patients, id)
}
