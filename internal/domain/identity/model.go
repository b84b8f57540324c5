package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

// DateLayout is the calendar date format used for startDate and session dates.
const DateLayout = "2006-01-02"

// PatientStatus values are stored with their Spanish labels.
type PatientStatus string

const (
	StatusActive     PatientStatus = "Activo"
	StatusPaused     PatientStatus = "En Pausa"
	StatusDischarged PatientStatus = "Alta"
)

func (s PatientStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusDischarged:
		return true
	}
	return false
}

// Age is kept as text. Numeric JSON values written by older clients are
// accepted on read.
type Age string

func (a *Age) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*a = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Age(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("age: %w", err)
	}
	*a = Age(n.String())
	return nil
}

// Session is one clinical note. IDs are unique within a patient only.
type Session struct {
	ID   int64  `json:"id"`
	Date string `json:"date"`
	Note string `json:"note"`
}

// Patient is a record in the patients collection.
type Patient struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Age       Age           `json:"age,omitempty"`
	Phone     string        `json:"phone,omitempty"`
	Email     string        `json:"email,omitempty"`
	Diagnosis string        `json:"diagnosis,omitempty"`
	Status    PatientStatus `json:"status"`
	Photo     string        `json:"photo,omitempty"`
	Sessions  []Session     `json:"sessions"`
	StartDate string        `json:"startDate,omitempty"`
	CreatedAt string        `json:"createdAt,omitempty"`
	UpdatedAt string        `json:"updatedAt,omitempty"`
}

func (p Patient) IsActive() bool { return p.Status == StatusActive }

// Initial is the upper-cased first letter of the name, or "?".
func (p Patient) Initial() string {
	for _, r := range strings.TrimSpace(p.Name) {
		return string(unicode.ToUpper(r))
	}
	return "?"
}

// PatientFromDocument decodes a stored document, overlaying its id.
func PatientFromDocument(doc store.Document) (Patient, error) {
	var p Patient
	if err := doc.Decode(&p); err != nil {
		return Patient{}, err
	}
	if p.Sessions == nil {
		p.Sessions = []Session{}
	}
	return p, nil
}

// Find returns the patient with the given id.
func Find(patients []Patient, id string) (Patient, bool) {
	for _, p := range patients {
		if p.ID == id {
			return p, true
		}
	}
	return Patient{}, false
}

// Active keeps only patients that can be booked, preserving order.
func Active(patients []Patient) []Patient {
	out := make([]Patient, 0, len(patients))
	for _, p := range patients {
		if p.IsActive() {
			out = append(out, p)
		}
	}
	return out
}

// SearchByName filters by case-insensitive name substring. An empty term
// returns every patient.
func SearchByName(patients []Patient, term string) []Patient {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return patients
	}
	out := make([]Patient, 0, len(patients))
	for _, p := range patients {
		if strings.Contains(strings.ToLower(p.Name), term) {
			out = append(out, p)
		}
	}
	return out
}
