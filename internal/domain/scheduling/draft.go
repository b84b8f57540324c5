package scheduling

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

var (
	ErrPatientRequired = errors.New("patient is required")
	ErrPatientNotFound = errors.New("patient not found")
	ErrPatientInactive = errors.New("only active patients can be booked")
	ErrInvalidDate     = errors.New("date must be YYYY-MM-DD")
	ErrInvalidTime     = errors.New("time must be HH:MM")
	ErrUnknownField    = errors.New("unknown field")
)

// AppointmentDraft is the editor buffer behind the appointment form.
type AppointmentDraft struct {
	ID        string `json:"id,omitempty"`
	PatientID string `json:"patientId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Note      string `json:"note"`

	// bookedFor is the patient the stored appointment belongs to.
	bookedFor string
}

// NewAppointmentDraft returns an empty buffer dated today.
func NewAppointmentDraft(today string) *AppointmentDraft {
	return &AppointmentDraft{Date: today}
}

// DraftFromAppointment seeds an edit buffer with a copy of a.
func DraftFromAppointment(a Appointment) *AppointmentDraft {
	return &AppointmentDraft{
		ID:        a.ID,
		PatientID: a.PatientID,
		Date:      a.Date,
		Time:      a.Time,
		Note:      a.Note,
		bookedFor: a.PatientID,
	}
}

func (d *AppointmentDraft) IsNew() bool { return d.ID == "" }

// Rebooks reports whether saving d assigns the appointment to a patient,
// either because it is new or because its patient changed.
func (d *AppointmentDraft) Rebooks() bool {
	return d.IsNew() || d.PatientID != d.bookedFor
}

func (d *AppointmentDraft) Set(field, value string) error {
	switch field {
	case "patientId":
		d.PatientID = value
	case "date":
		d.Date = value
	case "time":
		d.Time = value
	case "note":
		d.Note = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Apply sets several fields, in field-name order. If any field is rejected
// the draft is left unchanged.
func (d *AppointmentDraft) Apply(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	next := *d
	for _, field := range keys {
		if err := next.Set(field, values[field]); err != nil {
			return err
		}
	}
	*d = next
	return nil
}

func (d *AppointmentDraft) Validate() error {
	if strings.TrimSpace(d.PatientID) == "" {
		return ErrPatientRequired
	}
	if _, err := time.Parse(DateLayout, d.Date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, d.Date)
	}
	if _, err := time.Parse(TimeLayout, d.Time); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTime, d.Time)
	}
	return nil
}

// Fields builds the persisted shape. patientName is resolved by the caller
// at submit time.
func (d *AppointmentDraft) Fields(patientName string) store.Fields {
	f := store.Fields{
		"patientId":   d.PatientID,
		"patientName": patientName,
		"date":        d.Date,
		"time":        d.Time,
		"note":        d.Note,
		"updatedAt":   store.ServerTimestamp,
	}
	if d.IsNew() {
		f["createdAt"] = store.ServerTimestamp
	}
	return f
}
