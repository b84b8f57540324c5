package scheduling

import (
	"strings"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

// UnknownPatientName is shown when an appointment carries no patient name.
const UnknownPatientName = "Desconocido"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Appointment is a record in the appointments collection. PatientName is
// copied from the patient when the appointment is saved and is not kept in
// sync with later renames.
type Appointment struct {
	ID          string `json:"id"`
	PatientID   string `json:"patientId"`
	PatientName string `json:"patientName"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Note        string `json:"note"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// DisplayName degrades to a placeholder instead of failing.
func (a Appointment) DisplayName() string {
	if name := strings.TrimSpace(a.PatientName); name != "" {
		return name
	}
	return UnknownPatientName
}

// AppointmentFromDocument decodes a stored document, overlaying its id.
func AppointmentFromDocument(doc store.Document) (Appointment, error) {
	var a Appointment
	if err := doc.Decode(&a); err != nil {
		return Appointment{}, err
	}
	return a, nil
}

// Find returns the appointment with the given id.
func Find(appts []Appointment, id string) (Appointment, bool) {
	for _, a := range appts {
		if a.ID == id {
			return a, true
		}
	}
	return Appointment{}, false
}
