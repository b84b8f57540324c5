package workspace

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid view transition")
	ErrUnknownScreen     = errors.New("unknown screen")
)

// Screen is the view currently rendered.
type Screen int

const (
	Dashboard Screen = iota
	PatientsList
	PatientDetails
	PatientForm
	Calendar
	AppointmentForm
)

var screenNames = [...]string{
	Dashboard:       "dashboard",
	PatientsList:    "patients-list",
	PatientDetails:  "patient-details",
	PatientForm:     "patient-form",
	Calendar:        "calendar",
	AppointmentForm: "appointment-form",
}

func (s Screen) String() string {
	if s < 0 || int(s) >= len(screenNames) {
		return fmt.Sprintf("Screen(%d)", int(s))
	}
	return screenNames[s]
}

func (s Screen) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(screenNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScreen, int(s))
	}
	return []byte(screenNames[s]), nil
}

func (s *Screen) UnmarshalText(b []byte) error {
	parsed, err := ParseScreen(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseScreen(name string) (Screen, error) {
	for i, n := range screenNames {
		if n == name {
			return Screen(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScreen, name)
}

// menu screens are reachable from anywhere.
func (s Screen) menu() bool {
	return s == Dashboard || s == PatientsList || s == Calendar
}

// transitions lists the non-menu moves.
var transitions = map[Screen][]Screen{
	PatientsList:   {PatientDetails, PatientForm},
	PatientDetails: {PatientForm},
	Dashboard:      {AppointmentForm},
	Calendar:       {AppointmentForm},
}

// parent is where a form returns on save or cancel.
var parent = map[Screen]Screen{
	PatientForm:     PatientsList,
	AppointmentForm: Calendar,
}

// Navigator is the view state machine. PatientDetails always has a
// selected patient; every other screen has none.
type Navigator struct {
	screen   Screen
	selected string
}

func NewNavigator() *Navigator {
	return &Navigator{screen: Dashboard}
}

func (n *Navigator) Screen() Screen { return n.screen }

// Selected is the patient shown in PatientDetails, or "".
func (n *Navigator) Selected() string { return n.selected }

func (n *Navigator) allowed(to Screen) bool {
	if to.menu() {
		return true
	}
	for _, s := range transitions[n.screen] {
		if s == to {
			return true
		}
	}
	return false
}

func (n *Navigator) move(to Screen, selected string) error {
	if !n.allowed(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.screen, to)
	}
	n.screen = to
	n.selected = selected
	return nil
}

// Go handles menu navigation. Only menu screens are accepted.
func (n *Navigator) Go(to Screen) error {
	if !to.menu() {
		return fmt.Errorf("%w: %s is not a menu screen", ErrInvalidTransition, to)
	}
	return n.move(to, "")
}

// SelectPatient opens PatientDetails for id.
func (n *Navigator) SelectPatient(id string) error {
	if id == "" {
		return fmt.Errorf("%w: no patient selected", ErrInvalidTransition)
	}
	return n.move(PatientDetails, id)
}

func (n *Navigator) OpenPatientForm() error { return n.move(PatientForm, "") }

func (n *Navigator) OpenAppointmentForm() error { return n.move(AppointmentForm, "") }

// CloseForm returns from a form to its parent screen.
func (n *Navigator) CloseForm() error {
	p, ok := parent[n.screen]
	if !ok {
		return fmt.Errorf("%w: %s is not a form", ErrInvalidTransition, n.screen)
	}
	return n.move(p, "")
}

// PatientGone moves back to the patients list when the patient open in
// PatientDetails no longer exists. It reports whether the screen changed.
func (n *Navigator) PatientGone(id string) bool {
	if n.screen != PatientDetails || n.selected != id {
		return false
	}
	n.screen = PatientsList
	n.selected = ""
	return true
}

func (n *Navigator) reset() {
	n.screen = Dashboard
	n.selected = ""
}
