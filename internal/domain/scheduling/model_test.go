package scheduling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

func TestAppointment_DisplayName(t *testing.T) {
	if got := (Appointment{PatientName: "Ana"}).DisplayName(); got != "Ana" {
		t.Errorf("expected Ana, got %q", got)
	}
	if got := (Appointment{}).DisplayName(); got != UnknownPatientName {
		t.Errorf("expected placeholder, got %q", got)
	}
}

func TestAppointmentFromDocument(t *testing.T) {
	doc := store.Document{ID: "a1", Data: json.RawMessage(`{"patientId":"p1","date":"2024-05-01","time":"10:00"}`)}
	a, err := AppointmentFromDocument(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != "a1" || a.PatientID != "p1" || a.Time != "10:00" {
		t.Errorf("unexpected appointment %+v", a)
	}
}

func TestAppointmentDraft_Validate(t *testing.T) {
	tests := []struct {
		name  string
		draft AppointmentDraft
		want  error
	}{
		{"ok", AppointmentDraft{PatientID: "p1", Date: "2024-05-01", Time: "09:00"}, nil},
		{"no patient", AppointmentDraft{Date: "2024-05-01", Time: "09:00"}, ErrPatientRequired},
		{"bad date", AppointmentDraft{PatientID: "p1", Date: "01/05/2024", Time: "09:00"}, ErrInvalidDate},
		{"bad time", AppointmentDraft{PatientID: "p1", Date: "2024-05-01", Time: "9am"}, ErrInvalidTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewAppointmentDraft_DatedToday(t *testing.T) {
	d := NewAppointmentDraft("2024-06-03")
	if d.Date != "2024-06-03" || !d.IsNew() || !d.Rebooks() {
		t.Errorf("unexpected draft %+v", d)
	}
}

func TestAppointmentDraft_Set(t *testing.T) {
	d := NewAppointmentDraft("")
	if err := d.Apply(map[string]string{"patientId": "p1", "date": "2024-05-01", "time": "10:00", "note": "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.PatientID != "p1" || d.Note != "x" {
		t.Errorf("unexpected draft %+v", d)
	}
	if err := d.Set("patientName", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestAppointmentDraft_ApplyRejectedLeavesDraftUnchanged(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := &AppointmentDraft{PatientID: "p1", Note: "antes"}
		err := d.Apply(map[string]string{"note": "después", "patientId": "p2", "room": "3"})
		if !errors.Is(err, ErrUnknownField) {
			t.Fatalf("expected ErrUnknownField, got %v", err)
		}
		if d.Note != "antes" || d.PatientID != "p1" {
			t.Fatalf("draft changed by rejected apply: %+v", d)
		}
	}
}

func TestDraftFromAppointment_Rebooks(t *testing.T) {
	d := DraftFromAppointment(Appointment{ID: "a1", PatientID: "p1"})
	if d.Rebooks() {
		t.Error("unchanged patient should not rebook")
	}
	d.PatientID = "p2"
	if !d.Rebooks() {
		t.Error("changed patient should rebook")
	}
}

func TestDraftFromAppointment(t *testing.T) {
	a := Appointment{ID: "a1", PatientID: "p1", PatientName: "Ana", Date: "2024-05-01", Time: "10:00", Note: "n"}
	d := DraftFromAppointment(a)
	if d.ID != "a1" || d.PatientID != "p1" || d.Note != "n" || d.IsNew() {
		t.Errorf("unexpected draft %+v", d)
	}
}
