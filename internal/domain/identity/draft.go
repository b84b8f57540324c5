package identity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

// DefaultMaxPhotoBytes caps the raw size of a profile photo.
const DefaultMaxPhotoBytes = 512 << 10

var (
	ErrImageTooLarge = errors.New("image too large")
	ErrInvalidImage  = errors.New("photo must be an image")
	ErrNameRequired  = errors.New("name is required")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrInvalidAge    = errors.New("age must be a whole number")
	ErrInvalidStatus = errors.New("invalid status")
	ErrUnknownField  = errors.New("unknown field")
	ErrEmptyNote     = errors.New("session note is empty")
)

// PatientDraft is the editor buffer behind the patient form.
type PatientDraft struct {
	ID        string        `json:"id,omitempty"`
	Name      string        `json:"name"`
	Age       string        `json:"age"`
	Phone     string        `json:"phone"`
	Email     string        `json:"email"`
	Diagnosis string        `json:"diagnosis"`
	Status    PatientStatus `json:"status"`
	Photo     string        `json:"photo,omitempty"`
}

func NewPatientDraft() *PatientDraft {
	return &PatientDraft{Status: StatusActive}
}

// DraftFromPatient seeds an edit buffer with a copy of p.
func DraftFromPatient(p Patient) *PatientDraft {
	status := p.Status
	if status == "" {
		status = StatusActive
	}
	return &PatientDraft{
		ID:        p.ID,
		Name:      p.Name,
		Age:       string(p.Age),
		Phone:     p.Phone,
		Email:     p.Email,
		Diagnosis: p.Diagnosis,
		Status:    status,
		Photo:     p.Photo,
	}
}

func (d *PatientDraft) IsNew() bool { return d.ID == "" }

// Set assigns one form field by name.
func (d *PatientDraft) Set(field, value string) error {
	switch field {
	case "name":
		d.Name = value
	case "age":
		d.Age = value
	case "phone":
		d.Phone = value
	case "email":
		d.Email = value
	case "diagnosis":
		d.Diagnosis = value
	case "status":
		s := PatientStatus(value)
		if !s.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, value)
		}
		d.Status = s
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Apply sets several fields, in field-name order. If any field is rejected
// the draft is left unchanged.
func (d *PatientDraft) Apply(values map[string]string) error {
	next := *d
	for _, field := range sortedKeys(values) {
		if err := next.Set(field, values[field]); err != nil {
			return err
		}
	}
	*d = next
	return nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetPhoto stores data as an inline data URL. It is rejected before any
// write when larger than max bytes.
func (d *PatientDraft) SetPhoto(contentType string, data []byte, max int) error {
	if max <= 0 {
		max = DefaultMaxPhotoBytes
	}
	if len(data) > max {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrImageTooLarge, len(data), max)
	}
	ct, _, _ := strings.Cut(contentType, ";")
	ct = strings.TrimSpace(ct)
	if !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: %q", ErrInvalidImage, contentType)
	}
	d.Photo = "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)
	return nil
}

// Validate runs the checks the form inputs enforce.
func (d *PatientDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrNameRequired
	}
	if age := strings.TrimSpace(d.Age); age != "" {
		n, err := strconv.Atoi(age)
		if err != nil || n < 0 || n > 150 {
			return fmt.Errorf("%w: %q", ErrInvalidAge, d.Age)
		}
	}
	if email := strings.TrimSpace(d.Email); email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return fmt.Errorf("%w: %q", ErrInvalidEmail, d.Email)
		}
	}
	if !d.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
	}
	return nil
}

// Fields builds the persisted shape from named fields only. Creation adds
// an empty session list, the start date and createdAt.
func (d *PatientDraft) Fields(now time.Time) store.Fields {
	f := store.Fields{
		"name":      strings.TrimSpace(d.Name),
		"age":       strings.TrimSpace(d.Age),
		"phone":     strings.TrimSpace(d.Phone),
		"email":     strings.TrimSpace(d.Email),
		"diagnosis": d.Diagnosis,
		"status":    string(d.Status),
		"photo":     d.Photo,
		"updatedAt": store.ServerTimestamp,
	}
	if d.IsNew() {
		f["sessions"] = []Session{}
		f["startDate"] = now.UTC().Format(DateLayout)
		f["createdAt"] = store.ServerTimestamp
	}
	return f
}
