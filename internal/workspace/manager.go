package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/scheduling"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/auth"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/websocket"
	"github.com/Fiesterolml/gestioncitas-app/internal/store"
)

// Deps are the collaborators shared by every workspace.
type Deps struct {
	Store         store.Store
	Events        websocket.EventPublisher
	Observer      Observer
	Logger        zerolog.Logger
	MaxPhotoBytes int
	Now           func() time.Time
}

// Manager is the identity session: it opens a workspace when a principal
// signs in and tears it down on sign-out.
type Manager struct {
	deps     Deps
	patients *identity.Service
	appts    *scheduling.Service
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	workspaces map[string]*Workspace
	listeners  []func(*auth.Principal)
}

func NewManager(deps Deps) *Manager {
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	patients := identity.NewService(identity.NewPatientRepo(deps.Store))
	patients.SetClock(now)

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:       deps,
		patients:   patients,
		appts:      scheduling.NewService(scheduling.NewAppointmentRepo(deps.Store)),
		observer:   observer,
		logger:     deps.Logger.With().Str("component", "workspace").Logger(),
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
		workspaces: make(map[string]*Workspace),
	}
}

// OnSessionChange registers fn to run once per transition: with the
// principal on sign-in and with nil on sign-out.
func (m *Manager) OnSessionChange(fn func(p *auth.Principal)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify(p *auth.Principal) {
	m.mu.Lock()
	listeners := make([]func(*auth.Principal), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(p)
	}
}

// SignIn returns p's workspace, opening it on first use.
func (m *Manager) SignIn(ctx context.Context, p auth.Principal) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w, ok := m.Get(p.ID); ok {
		return w, nil
	}
	if m.ctx.Err() != nil {
		return nil, ErrClosed
	}

	// open subscribes against the backend and must not hold m.mu.
	w, err := open(m.ctx, p, m)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.workspaces[p.ID]; ok {
		m.mu.Unlock()
		w.Close()
		return existing, nil
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		w.Close()
		return nil, ErrClosed
	}
	m.workspaces[p.ID] = w
	m.mu.Unlock()

	m.observer.WorkspaceOpened()
	m.notify(&p)
	return w, nil
}

// Get returns the open workspace for principalID.
func (m *Manager) Get(principalID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workspaces[principalID]
	return w, ok
}

// SignOut closes the principal's subscriptions and clears its mirror. It
// reports whether a workspace was open.
func (m *Manager) SignOut(principalID string) bool {
	m.mu.Lock()
	w, ok := m.workspaces[principalID]
	delete(m.workspaces, principalID)
	m.mu.Unlock()
	if !ok {
		return false
	}

	w.Close()
	m.observer.WorkspaceClosed()
	w.publish(websocket.EventSignOut, "")
	m.notify(nil)
	return true
}

// Close signs every principal out.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.SignOut(id)
	}
}
