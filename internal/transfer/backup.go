// Package transfer moves a principal's records in and out of the service as
// a single portable JSON backup.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/scheduling"
)

var ErrNothingToExport = errors.New("no data to export")

// Backup is the export file. Records keep their identifiers.
type Backup struct {
	ExportedAt   string                   `json:"exportedAt"`
	User         string                   `json:"user"`
	Patients     []identity.Patient       `json:"patients"`
	Appointments []scheduling.Appointment `json:"appointments"`
}

// NewBackup captures the full mirror contents. It refuses when both
// collections are empty.
func NewBackup(user string, patients []identity.Patient, appts []scheduling.Appointment, now time.Time) (*Backup, error) {
	if len(patients) == 0 && len(appts) == 0 {
		return nil, ErrNothingToExport
	}
	if patients == nil {
		patients = []identity.Patient{}
	}
	if appts == nil {
		appts = []scheduling.Appointment{}
	}
	return &Backup{
		ExportedAt:   now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		User:         user,
		Patients:     patients,
		Appointments: appts,
	}, nil
}

// Encode renders the backup as indented UTF-8 JSON.
func (b *Backup) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return data, nil
}

// WriteTo implements io.WriterTo.
func (b *Backup) WriteTo(w io.Writer) (int64, error) {
	data, err := b.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// FileName is the download name for a backup taken at now.
func FileName(now time.Time) string {
	return "gestioncitas_backup_" + now.UTC().Format("2006-01-02") + ".json"
}
