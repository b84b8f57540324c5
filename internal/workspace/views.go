package workspace

import (
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/scheduling"
)

const dashboardUpcoming = 3

// View is the rendered state of a workspace. Exactly one screen section is
// set, matching Screen.
type View struct {
	Screen          Screen               `json:"screen"`
	Loading         bool                 `json:"loading,omitempty"`
	Dashboard       *DashboardView       `json:"dashboard,omitempty"`
	PatientsList    *PatientsListView    `json:"patientsList,omitempty"`
	PatientDetails  *PatientDetailsView  `json:"patientDetails,omitempty"`
	PatientForm     *PatientFormView     `json:"patientForm,omitempty"`
	Calendar        *CalendarView        `json:"calendar,omitempty"`
	AppointmentForm *AppointmentFormView `json:"appointmentForm,omitempty"`
}

type DashboardView struct {
	Today          string           `json:"today"`
	ActivePatients int              `json:"activePatients"`
	Upcoming       int              `json:"upcomingAppointments"`
	TotalPatients  int              `json:"totalPatients"`
	Next           []AppointmentRow `json:"next"`
}

type PatientRow struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Initial      string                 `json:"initial"`
	Status       identity.PatientStatus `json:"status"`
	Diagnosis    string                 `json:"diagnosis,omitempty"`
	SessionCount int                    `json:"sessionCount"`
	Photo        string                 `json:"photo,omitempty"`
}

type PatientsListView struct {
	Query    string       `json:"query,omitempty"`
	Patients []PatientRow `json:"patients"`
}

type PatientDetailsView struct {
	Patient identity.Patient `json:"patient"`
}

type PatientFormView struct {
	Editing bool                  `json:"editing"`
	Draft   identity.PatientDraft `json:"draft"`
}

type AppointmentRow struct {
	ID          string `json:"id"`
	PatientID   string `json:"patientId"`
	PatientName string `json:"patientName"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Note        string `json:"note,omitempty"`
}

type CalendarDay struct {
	Date         string           `json:"date"`
	Today        bool             `json:"today"`
	Appointments []AppointmentRow `json:"appointments"`
}

type CalendarView struct {
	Total int           `json:"total"`
	Days  []CalendarDay `json:"days"`
}

type PatientOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AppointmentFormView struct {
	Editing   bool                        `json:"editing"`
	Draft     scheduling.AppointmentDraft `json:"draft"`
	Patients  []PatientOption             `json:"patients"`
	CanSubmit bool                        `json:"canSubmit"`
}

func appointmentRow(a scheduling.Appointment) AppointmentRow {
	return AppointmentRow{
		ID:          a.ID,
		PatientID:   a.PatientID,
		PatientName: a.DisplayName(),
		Date:        a.Date,
		Time:        a.Time,
		Note:        a.Note,
	}
}

func appointmentRows(appts []scheduling.Appointment) []AppointmentRow {
	rows := make([]AppointmentRow, 0, len(appts))
	for _, a := range appts {
		rows = append(rows, appointmentRow(a))
	}
	return rows
}

func dashboardView(patients []identity.Patient, appts []scheduling.Appointment, today string) *DashboardView {
	upcoming := scheduling.Upcoming(appts, today, 0)
	next := upcoming
	if len(next) > dashboardUpcoming {
		next = next[:dashboardUpcoming]
	}
	return &DashboardView{
		Today:          today,
		ActivePatients: len(identity.Active(patients)),
		Upcoming:       len(upcoming),
		TotalPatients:  len(patients),
		Next:           appointmentRows(next),
	}
}

func patientsListView(patients []identity.Patient, query string) *PatientsListView {
	matched := identity.SearchByName(patients, query)
	rows := make([]PatientRow, 0, len(matched))
	for _, p := range matched {
		rows = append(rows, PatientRow{
			ID:           p.ID,
			Name:         p.Name,
			Initial:      p.Initial(),
			Status:       p.Status,
			Diagnosis:    p.Diagnosis,
			SessionCount: len(p.Sessions),
			Photo:        p.Photo,
		})
	}
	return &PatientsListView{Query: query, Patients: rows}
}

func calendarView(appts []scheduling.Appointment, today string) *CalendarView {
	groups := scheduling.GroupByDate(appts, today)
	days := make([]CalendarDay, 0, len(groups))
	for _, g := range groups {
		days = append(days, CalendarDay{Date: g.Date, Today: g.Today, Appointments: appointmentRows(g.Appointments)})
	}
	return &CalendarView{Total: len(appts), Days: days}
}

// patientOptions lists the patients an appointment can be booked for.
func patientOptions(patients []identity.Patient) []PatientOption {
	active := identity.Active(patients)
	opts := make([]PatientOption, 0, len(active))
	for _, p := range active {
		opts = append(opts, PatientOption{ID: p.ID, Name: p.Name})
	}
	return opts
}
