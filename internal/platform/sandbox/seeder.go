// Package sandbox generates reproducible demo patients and appointments for
// development environments and UI demos.
package sandbox

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/scheduling"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/auth"
	"github.com/Fiesterolml/gestioncitas-app/internal/store"
	"github.com/Fiesterolml/gestioncitas-app/internal/transfer"
)

// SeedConfig controls the volume of generated data.
type SeedConfig struct {
	PatientCount           int   `json:"patientCount"`
	SessionsPerPatient     int   `json:"sessionsPerPatient"`
	AppointmentsPerPatient int   `json:"appointmentsPerPatient"`
	Seed                   int64 `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:           12,
		SessionsPerPatient:     3,
		AppointmentsPerPatient: 2,
		Seed:                   1,
	}
}

var (
	firstNames = []string{
		"Ana", "Lucía", "María", "Carmen", "Sofía", "Elena", "Paula", "Laura",
		"Javier", "Carlos", "Miguel", "Pablo", "Diego", "Andrés", "Jorge", "Luis",
	}
	lastNames = []string{
		"García", "Martínez", "López", "Sánchez", "Pérez", "Gómez", "Fernández",
		"Ruiz", "Díaz", "Moreno", "Álvarez", "Romero", "Navarro", "Torres",
	}
	diagnoses = []string{
		"Lumbalgia crónica", "Cervicalgia", "Esguince de tobillo", "Tendinitis rotuliana",
		"Rehabilitación postoperatoria de rodilla", "Hombro congelado", "Fascitis plantar",
		"Epicondilitis", "",
	}
	sessionNotes = []string{
		"Evaluación inicial y plan de tratamiento.",
		"Terapia manual y ejercicios de movilidad.",
		"Mejora del rango de movimiento; se progresan ejercicios.",
		"Dolor reducido; se pauta trabajo en casa.",
		"Revisión de ejercicios y educación postural.",
	}
	appointmentNotes = []string{"", "Revisión", "Primera visita", "Control mensual", "Traer informe"}
	statuses         = []identity.PatientStatus{
		identity.StatusActive, identity.StatusActive, identity.StatusActive,
		identity.StatusPaused, identity.StatusDischarged,
	}
	slots = []string{"09:00", "09:45", "10:30", "11:15", "12:00", "16:00", "16:45", "17:30", "18:15"}
)

// DataGenerator produces deterministic demo records.
type DataGenerator struct {
	rng     *rand.Rand
	counter int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) randomPhone() string {
	return fmt.Sprintf("6%02d %03d %03d", g.rng.Intn(100), g.rng.Intn(1000), g.rng.Intn(1000))
}

// GeneratePatient returns a patient whose sessions fall in the weeks before
// now, newest first. Ids are stable for a given seed so re-seeding
// overwrites instead of duplicating.
func (g *DataGenerator) GeneratePatient(now time.Time, sessions int) identity.Patient {
	g.counter++
	first, last := g.pick(firstNames), g.pick(lastNames)
	start := now.AddDate(0, 0, -7*(sessions+1+g.rng.Intn(4)))

	p := identity.Patient{
		ID:        fmt.Sprintf("demo-p-%03d", g.counter),
		Name:      first + " " + last,
		Age:       identity.Age(strconv.Itoa(18 + g.rng.Intn(65))),
		Phone:     g.randomPhone(),
		Email:     fmt.Sprintf("paciente%03d@example.com", g.counter),
		Diagnosis: g.pick(diagnoses),
		Status:    statuses[g.rng.Intn(len(statuses))],
		Sessions:  make([]identity.Session, 0, sessions),
		StartDate: start.UTC().Format(identity.DateLayout),
	}
	for i := sessions; i > 0; i-- {
		day := start.AddDate(0, 0, 7*i)
		p.Sessions = append(p.Sessions, identity.Session{
			ID:   day.UnixMilli() + int64(i),
			Date: day.UTC().Format(identity.DateLayout),
			Note: sessionNotes[(sessions-i)%len(sessionNotes)],
		})
	}
	return p
}

// GenerateAppointment books p on one of the next 21 days.
func (g *DataGenerator) GenerateAppointment(p identity.Patient, now time.Time, n int) scheduling.Appointment {
	day := now.AddDate(0, 0, g.rng.Intn(21))
	return scheduling.Appointment{
		ID:          fmt.Sprintf("%s-a%d", p.ID, n),
		PatientID:   p.ID,
		PatientName: p.Name,
		Date:        day.UTC().Format(scheduling.DateLayout),
		Time:        g.pick(slots),
		Note:        g.pick(appointmentNotes),
	}
}

// Seeder builds a whole backup from a SeedConfig.
type Seeder struct {
	config SeedConfig
}

func NewSeeder(config SeedConfig) *Seeder {
	return &Seeder{config: config}
}

// Generate returns the demo data as a backup. Only active patients get
// appointments.
func (s *Seeder) Generate(user string, now time.Time) (*transfer.Backup, error) {
	if s.config.PatientCount <= 0 {
		return nil, fmt.Errorf("patient count must be positive, got %d", s.config.PatientCount)
	}
	g := NewDataGenerator(s.config.Seed)
	patients := make([]identity.Patient, 0, s.config.PatientCount)
	var appts []scheduling.Appointment
	for i := 0; i < s.config.PatientCount; i++ {
		p := g.GeneratePatient(now, s.config.SessionsPerPatient)
		patients = append(patients, p)
		if !p.IsActive() {
			continue
		}
		for n := 1; n <= s.config.AppointmentsPerPatient; n++ {
			appts = append(appts, g.GenerateAppointment(p, now, n))
		}
	}
	return transfer.NewBackup(user, patients, appts, now)
}

// -- HTTP --

// SeedHandler loads demo data into the caller's namespace. Development only.
type SeedHandler struct {
	importer *transfer.Importer
	now      func() time.Time
}

func NewSeedHandler(importer *transfer.Importer) *SeedHandler {
	return &SeedHandler{importer: importer, now: time.Now}
}

func (h *SeedHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/sandbox/seed", h.handleSeed)
}

func (h *SeedHandler) handleSeed(c echo.Context) error {
	ctx := c.Request().Context()
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}

	cfg := DefaultSeedConfig()
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&cfg); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid seed config")
		}
	}
	backup, err := NewSeeder(cfg).Generate(p.Email, h.now())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := Load(ctx, h.importer, store.Namespace{PrincipalID: p.ID}, backup)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, report)
}
