package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/scheduling"
	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

var tracer = otel.Tracer("gestioncitas.internal.transfer")

var errMissingID = errors.New("record has no id")

// Upserter is the store capability import needs.
type Upserter interface {
	Upsert(ctx context.Context, ns store.Namespace, c store.Collection, id string, fields store.Fields) error
}

// RecordObserver counts imported records by outcome.
type RecordObserver interface {
	ObserveImportRecord(collection string, ok bool)
}

// Failure identifies one record that was not imported.
type Failure struct {
	Collection store.Collection `json:"collection"`
	Index      int              `json:"index"`
	ID         string           `json:"id,omitempty"`
	Message    string           `json:"message"`
}

// Report counts successful upserts and lists the records that failed.
type Report struct {
	Patients     int       `json:"patients"`
	Appointments int       `json:"appointments"`
	Failed       []Failure `json:"failed"`
}

// Importer writes a parsed backup one record at a time. A failed record is
// reported and the loop continues; there is no rollback.
type Importer struct {
	store    Upserter
	observer RecordObserver
	logger   zerolog.Logger
}

func NewImporter(s Upserter, observer RecordObserver, logger zerolog.Logger) *Importer {
	return &Importer{
		store:    s,
		observer: observer,
		logger:   logger.With().Str("component", "import").Logger(),
	}
}

// Import upserts every record under its original id. Each record's
// createdAt and updatedAt are reset to server time. The returned error is
// only set when ctx ends before the loop finishes.
func (im *Importer) Import(ctx context.Context, ns store.Namespace, f *File) (Report, error) {
	ctx, span := tracer.Start(ctx, "transfer.import")
	defer span.End()
	span.SetAttributes(
		attribute.Int("import.patients", len(f.Patients)),
		attribute.Int("import.appointments", len(f.Appointments)),
	)

	report := Report{Failed: []Failure{}}
	for i, raw := range f.Patients {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id, err := im.importPatient(ctx, ns, raw)
		im.record(&report, store.Patients, i, id, err)
		if err == nil {
			report.Patients++
		}
	}
	for i, raw := range f.Appointments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id, err := im.importAppointment(ctx, ns, raw)
		im.record(&report, store.Appointments, i, id, err)
		if err == nil {
			report.Appointments++
		}
	}

	span.SetAttributes(attribute.Int("import.failed", len(report.Failed)))
	if len(report.Failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d records failed", len(report.Failed)))
	}
	return report, nil
}

func (im *Importer) record(r *Report, c store.Collection, index int, id string, err error) {
	if im.observer != nil {
		im.observer.ObserveImportRecord(string(c), err == nil)
	}
	if err == nil {
		return
	}
	im.logger.Error().Err(err).
		Str("collection", string(c)).
		Int("index", index).
		Str("id", id).
		Msg("import record failed")
	r.Failed = append(r.Failed, Failure{Collection: c, Index: index, ID: id, Message: err.Error()})
}

func (im *Importer) importPatient(ctx context.Context, ns store.Namespace, raw json.RawMessage) (string, error) {
	var p identity.Patient
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("decode patient: %w", err)
	}
	if p.ID == "" {
		return "", errMissingID
	}
	return p.ID, im.store.Upsert(ctx, ns, store.Patients, p.ID, PatientFields(p))
}

func (im *Importer) importAppointment(ctx context.Context, ns store.Namespace, raw json.RawMessage) (string, error) {
	var a scheduling.Appointment
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", fmt.Errorf("decode appointment: %w", err)
	}
	if a.ID == "" {
		return "", errMissingID
	}
	return a.ID, im.store.Upsert(ctx, ns, store.Appointments, a.ID, AppointmentFields(a))
}

// PatientFields is the stored shape of an imported patient.
func PatientFields(p identity.Patient) store.Fields {
	status := p.Status
	if status == "" {
		status = identity.StatusActive
	}
	sessions := p.Sessions
	if sessions == nil {
		sessions = []identity.Session{}
	}
	return store.Fields{
		"name":      p.Name,
		"age":       string(p.Age),
		"phone":     p.Phone,
		"email":     p.Email,
		"diagnosis": p.Diagnosis,
		"status":    string(status),
		"photo":     p.Photo,
		"sessions":  sessions,
		"startDate": p.StartDate,
		"createdAt": store.ServerTimestamp,
		"updatedAt": store.ServerTimestamp,
	}
}

// AppointmentFields is the stored shape of an imported appointment.
func AppointmentFields(a scheduling.Appointment) store.Fields {
	return store.Fields{
		"patientId":   a.PatientID,
		"patientName": a.PatientName,
		"date":        a.Date,
		"time":        a.Time,
		"note":        a.Note,
		"createdAt":   store.ServerTimestamp,
		"updatedAt":   store.ServerTimestamp,
	}
}
