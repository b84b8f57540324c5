// Package workspace keeps one live session per signed-in principal: the
// mirrored collections, the view state machine and the form drafts.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/scheduling"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/auth"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/websocket"
	"github.com/Fiesterolml/gestioncitas-app/internal/store"
	"github.com/Fiesterolml/gestioncitas-app/internal/transfer"
)

var (
	ErrRecordNotFound       = errors.New("record not found")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrSubmitDisabled       = errors.New("no active patients to book")
	ErrClosed               = errors.New("workspace closed")
)

var (
	PatientOrder     = []store.OrderBy{{Field: "createdAt", Desc: true}}
	AppointmentOrder = []store.OrderBy{{Field: "date"}, {Field: "time"}}
)

// Topic is the websocket topic carrying a principal's events.
func Topic(principalID string) string {
	return "users/" + principalID
}

// Observer receives workspace lifecycle metrics.
type Observer interface {
	ObserveSnapshot(collection string)
	WorkspaceOpened()
	WorkspaceClosed()
}

type nopObserver struct{}

func (nopObserver) ObserveSnapshot(string) {}
func (nopObserver) WorkspaceOpened()       {}
func (nopObserver) WorkspaceClosed()       {}

// Workspace is one principal's session.
type Workspace struct {
	principal auth.Principal
	ns        store.Namespace
	mirror    *Mirror
	patients  *identity.Service
	appts     *scheduling.Service
	events    websocket.EventPublisher
	observer  Observer
	logger    zerolog.Logger
	now       func() time.Time
	maxPhoto  int

	mu           sync.Mutex
	nav          *Navigator
	patientDraft *identity.PatientDraft
	apptDraft    *scheduling.AppointmentDraft
	closed       bool

	cancel    context.CancelFunc
	subs      []*store.Subscription
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// open subscribes to both collections of p's namespace. The subscriptions
// live until Close, independent of any request.
func open(ctx context.Context, p auth.Principal, m *Manager) (*Workspace, error) {
	ns := store.Namespace{PrincipalID: p.ID}
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Workspace{
		principal: p,
		ns:        ns,
		mirror:    NewMirror(),
		patients:  m.patients,
		appts:     m.appts,
		events:    m.deps.Events,
		observer:  m.observer,
		logger:    m.logger.With().Str("principal_id", p.ID).Logger(),
		now:       m.now,
		maxPhoto:  m.deps.MaxPhotoBytes,
		nav:       NewNavigator(),
		cancel:    cancel,
	}

	for _, c := range []struct {
		coll  store.Collection
		order []store.OrderBy
	}{
		{store.Patients, PatientOrder},
		{store.Appointments, AppointmentOrder},
	} {
		sub, err := m.deps.Store.Subscribe(ctx, ns, c.coll, c.order)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("subscribe %s: %w", c.coll, err)
		}
		w.subs = append(w.subs, sub)
		w.wg.Add(1)
		go w.run(sub)
	}
	w.logger.Info().Msg("workspace opened")
	return w, nil
}

func (w *Workspace) run(sub *store.Subscription) {
	defer w.wg.Done()
	for snap := range sub.Snapshots() {
		w.applySnapshot(snap)
	}
}

func (w *Workspace) applySnapshot(snap store.Snapshot) {
	n, err := w.mirror.apply(snap)
	if err != nil {
		w.logger.Warn().Err(err).Str("collection", string(snap.Collection)).Msg("skipped undecodable documents")
	}
	w.observer.ObserveSnapshot(string(snap.Collection))
	w.logger.Debug().Str("collection", string(snap.Collection)).Int("records", n).Msg("snapshot applied")

	if snap.Collection == store.Patients {
		w.mu.Lock()
		if sel := w.nav.Selected(); sel != "" {
			if _, ok := w.mirror.Patient(sel); !ok {
				w.nav.PatientGone(sel)
			}
		}
		w.mu.Unlock()
	}
	w.publish(websocket.EventSnapshot, string(snap.Collection))
}

func (w *Workspace) publish(eventType, resourceType string) {
	if w.events == nil {
		return
	}
	err := w.events.Publish(context.Background(), websocket.Event{
		Type:         eventType,
		Topic:        Topic(w.ns.PrincipalID),
		ResourceType: resourceType,
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("event", eventType).Msg("publish failed")
	}
}

// Close stops both subscriptions, waits for their loops and clears the
// mirror and view state.
func (w *Workspace) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		for _, sub := range w.subs {
			sub.Close()
		}
		w.wg.Wait()
		w.mirror.clear()

		w.mu.Lock()
		w.closed = true
		w.nav.reset()
		w.patientDraft = nil
		w.apptDraft = nil
		w.mu.Unlock()
		w.logger.Info().Msg("workspace closed")
	})
}

func (w *Workspace) Principal() auth.Principal { return w.principal }

func (w *Workspace) Namespace() store.Namespace { return w.ns }

func (w *Workspace) Mirror() *Mirror { return w.mirror }

func (w *Workspace) today() string {
	return w.now().UTC().Format(identity.DateLayout)
}

// lock takes the view lock and fails once the workspace is closed. The
// caller must unlock when err is nil.
func (w *Workspace) lock() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// -- Views --

// View renders the current screen. query filters the patients list.
func (w *Workspace) View(query string) View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.render(query)
}

func (w *Workspace) render(query string) View {
	patients := w.mirror.Patients()
	appts := w.mirror.Appointments()
	today := w.today()

	v := View{
		Screen:  w.nav.Screen(),
		Loading: !w.mirror.Loaded(store.Patients) || !w.mirror.Loaded(store.Appointments),
	}
	switch w.nav.Screen() {
	case Dashboard:
		v.Dashboard = dashboardView(patients, appts, today)
	case PatientsList:
		v.PatientsList = patientsListView(patients, query)
	case PatientDetails:
		p, ok := identity.Find(patients, w.nav.Selected())
		if !ok {
			w.nav.PatientGone(w.nav.Selected())
			v.Screen = PatientsList
			v.PatientsList = patientsListView(patients, query)
			break
		}
		v.PatientDetails = &PatientDetailsView{Patient: p}
	case PatientForm:
		if w.patientDraft == nil {
			w.patientDraft = identity.NewPatientDraft()
		}
		v.PatientForm = &PatientFormView{Editing: !w.patientDraft.IsNew(), Draft: *w.patientDraft}
	case Calendar:
		v.Calendar = calendarView(appts, today)
	case AppointmentForm:
		if w.apptDraft == nil {
			w.apptDraft = scheduling.NewAppointmentDraft(today)
		}
		opts := patientOptions(patients)
		v.AppointmentForm = &AppointmentFormView{
			Editing:   !w.apptDraft.IsNew(),
			Draft:     *w.apptDraft,
			Patients:  opts,
			CanSubmit: len(opts) > 0 || !w.apptDraft.Rebooks(),
		}
	}
	return v
}

// -- Navigation --

// Navigate is menu navigation. Any open form is discarded.
func (w *Workspace) Navigate(to Screen) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.nav.Go(to); err != nil {
		return View{}, err
	}
	w.patientDraft = nil
	w.apptDraft = nil
	return w.render(""), nil
}

func (w *Workspace) SelectPatient(id string) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if _, ok := w.mirror.Patient(id); !ok {
		return View{}, fmt.Errorf("%w: patient %s", ErrRecordNotFound, id)
	}
	if err := w.nav.SelectPatient(id); err != nil {
		return View{}, err
	}
	return w.render(""), nil
}

// -- Patient form --

// OpenPatientForm seeds the patient draft: empty when id is "", otherwise
// a copy of the mirrored patient.
func (w *Workspace) OpenPatientForm(id string) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	draft := identity.NewPatientDraft()
	if id != "" {
		p, ok := w.mirror.Patient(id)
		if !ok {
			return View{}, fmt.Errorf("%w: patient %s", ErrRecordNotFound, id)
		}
		draft = identity.DraftFromPatient(p)
	}
	if err := w.nav.OpenPatientForm(); err != nil {
		return View{}, err
	}
	w.patientDraft = draft
	return w.render(""), nil
}

func (w *Workspace) requireScreen(s Screen) error {
	if w.nav.Screen() != s {
		return fmt.Errorf("%w: %s is not open", ErrInvalidTransition, s)
	}
	return nil
}

func (w *Workspace) EditPatientForm(values map[string]string) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.requireScreen(PatientForm); err != nil {
		return View{}, err
	}
	if err := w.patientDraft.Apply(values); err != nil {
		return View{}, err
	}
	return w.render(""), nil
}

func (w *Workspace) SetPatientPhoto(contentType string, data []byte) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.requireScreen(PatientForm); err != nil {
		return View{}, err
	}
	if err := w.patientDraft.SetPhoto(contentType, data, w.maxPhoto); err != nil {
		return View{}, err
	}
	return w.render(""), nil
}

// SubmitPatientForm writes the draft. On failure the view state and the
// draft are left as they were.
func (w *Workspace) SubmitPatientForm(ctx context.Context) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.requireScreen(PatientForm); err != nil {
		return View{}, err
	}
	if _, err := w.patients.SavePatient(ctx, w.ns, w.patientDraft); err != nil {
		w.logger.Error().Err(err).Msg("save patient")
		return View{}, err
	}
	if err := w.nav.CloseForm(); err != nil {
		return View{}, err
	}
	w.patientDraft = nil
	return w.render(""), nil
}

func (w *Workspace) CancelPatientForm() (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.requireScreen(PatientForm); err != nil {
		return View{}, err
	}
	if err := w.nav.CloseForm(); err != nil {
		return View{}, err
	}
	w.patientDraft = nil
	return w.render(""), nil
}

// -- Patient records --

// AppendSession adds a note to the mirrored patient id.
func (w *Workspace) AppendSession(ctx context.Context, id, note string) (identity.Session, error) {
	if err := w.lock(); err != nil {
		return identity.Session{}, err
	}
	defer w.mu.Unlock()
	p, ok := w.mirror.Patient(id)
	if !ok {
		return identity.Session{}, fmt.Errorf("%w: patient %s", ErrRecordNotFound, id)
	}
	sess, err := w.patients.AppendSession(ctx, w.ns, p, note)
	if err != nil {
		if !errors.Is(err, identity.ErrEmptyNote) {
			w.logger.Error().Err(err).Str("patient_id", id).Msg("append session")
		}
		return identity.Session{}, err
	}
	return sess, nil
}

// DeletePatient removes the patient once confirmed. Deleting the patient
// open in PatientDetails returns to the patients list.
func (w *Workspace) DeletePatient(ctx context.Context, id string, confirmed bool) (View, error) {
	if !confirmed {
		return View{}, ErrConfirmationRequired
	}
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.patients.DeletePatient(ctx, w.ns, id); err != nil {
		w.logger.Error().Err(err).Str("patient_id", id).Msg("delete patient")
		return View{}, err
	}
	w.nav.PatientGone(id)
	return w.render(""), nil
}

// -- Appointment form --

func (w *Workspace) OpenAppointmentForm(id string) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	draft := scheduling.NewAppointmentDraft(w.today())
	if id != "" {
		a, ok := w.mirror.Appointment(id)
		if !ok {
			return View{}, fmt.Errorf("%w: appointment %s", ErrRecordNotFound, id)
		}
		draft = scheduling.DraftFromAppointment(a)
	}
	if err := w.nav.OpenAppointmentForm(); err != nil {
		return View{}, err
	}
	w.apptDraft = draft
	return w.render(""), nil
}

func (w *Workspace) EditAppointmentForm(values map[string]string) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.requireScreen(AppointmentForm); err != nil {
		return View{}, err
	}
	if err := w.apptDraft.Apply(values); err != nil {
		return View{}, err
	}
	return w.render(""), nil
}

// SubmitAppointmentForm writes the draft, resolving the patient name from
// the mirror now. Booking is refused while no patient is active; edits that
// keep the appointment's patient are not.
func (w *Workspace) SubmitAppointmentForm(ctx context.Context) (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.requireScreen(AppointmentForm); err != nil {
		return View{}, err
	}
	patients := w.mirror.Patients()
	if w.apptDraft.Rebooks() && len(identity.Active(patients)) == 0 {
		return View{}, ErrSubmitDisabled
	}
	if _, err := w.appts.SaveAppointment(ctx, w.ns, w.apptDraft, patients); err != nil {
		w.logger.Error().Err(err).Msg("save appointment")
		return View{}, err
	}
	if err := w.nav.CloseForm(); err != nil {
		return View{}, err
	}
	w.apptDraft = nil
	return w.render(""), nil
}

func (w *Workspace) CancelAppointmentForm() (View, error) {
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.requireScreen(AppointmentForm); err != nil {
		return View{}, err
	}
	if err := w.nav.CloseForm(); err != nil {
		return View{}, err
	}
	w.apptDraft = nil
	return w.render(""), nil
}

func (w *Workspace) DeleteAppointment(ctx context.Context, id string, confirmed bool) (View, error) {
	if !confirmed {
		return View{}, ErrConfirmationRequired
	}
	if err := w.lock(); err != nil {
		return View{}, err
	}
	defer w.mu.Unlock()
	if err := w.appts.DeleteAppointment(ctx, w.ns, id); err != nil {
		w.logger.Error().Err(err).Str("appointment_id", id).Msg("delete appointment")
		return View{}, err
	}
	return w.render(""), nil
}

// -- Transfer --

// Export captures the whole mirror as a backup.
func (w *Workspace) Export() (*transfer.Backup, error) {
	return transfer.NewBackup(w.principal.Email, w.mirror.Patients(), w.mirror.Appointments(), w.now())
}
