package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/Fiesterolml/gestioncitas-app/internal/config"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/auth"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/db"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/sandbox"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/telemetry"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/websocket"
	"github.com/Fiesterolml/gestioncitas-app/internal/store"
	"github.com/Fiesterolml/gestioncitas-app/internal/transfer"
	"github.com/Fiesterolml/gestioncitas-app/internal/workspace"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func devConfig() *config.Config {
	return &config.Config{
		Port:            "8000",
		Env:             "development",
		ChangeFeed:      config.FeedLocal,
		CORSOrigins:     []string{"http://localhost:5173"},
		MaxPhotoBytes:   512 * 1024,
		BodyLimit:       "1M",
		ImportBodyLimit: "32M",
	}
}

func TestNewAuthenticator_Development(t *testing.T) {
	authn, err := newAuthenticator(devConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := authn.(*auth.DevAuthenticator); !ok {
		t.Fatalf("expected DevAuthenticator, got %T", authn)
	}
}

func TestNewAuthenticator_External(t *testing.T) {
	cfg := devConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = strings.Repeat("ab", 32)
	authn, err := newAuthenticator(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := authn.(*auth.JWTAuthenticator); !ok {
		t.Fatalf("expected JWTAuthenticator, got %T", authn)
	}

	cfg.AuthSigningKey = "not-hex"
	if _, err := newAuthenticator(cfg); err == nil {
		t.Error("expected error for invalid signing key")
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	b, err := openBackend(context.Background(), devConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()
	if _, ok := b.store.(*store.Memory); !ok {
		t.Fatalf("expected memory store, got %T", b.store)
	}
	if b.pool != nil || b.redis != nil {
		t.Error("expected no pool or redis client")
	}
}

func TestOpenFeed_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := devConfig()
	cfg.ChangeFeed = config.FeedRedis
	cfg.RedisURL = "redis://" + mr.Addr()

	feed, client, err := openFeed(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if _, ok := feed.(*store.RedisFeed); !ok {
		t.Fatalf("expected RedisFeed, got %T", feed)
	}

	cfg.RedisURL = "://bad"
	if _, _, err := openFeed(context.Background(), cfg); err == nil {
		t.Error("expected error for invalid redis url")
	}
}

func TestNewArchiver_Unconfigured(t *testing.T) {
	a, err := newArchiver(context.Background(), devConfig())
	if err != nil || a != nil {
		t.Fatalf("expected nil archiver, got %v, %v", a, err)
	}
}

func seed(t *testing.T, s store.Store, ns store.Namespace) {
	t.Helper()
	ctx := context.Background()
	pid, err := s.Create(ctx, ns, store.Patients, store.Fields{"name": "Ana", "status": "Activo", "sessions": []any{}})
	if err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	if _, err := s.Create(ctx, ns, store.Appointments, store.Fields{
		"patientId": pid, "patientName": "Ana", "date": "2024-05-11", "time": "09:00", "note": "",
	}); err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
}

func TestExportBackup(t *testing.T) {
	s := store.NewMemory()
	ns := store.Namespace{PrincipalID: "u1"}

	if _, err := exportBackup(context.Background(), s, ns, "ana@example.com", testNow); err != transfer.ErrNothingToExport {
		t.Fatalf("expected ErrNothingToExport, got %v", err)
	}

	seed(t, s, ns)
	b, err := exportBackup(context.Background(), s, ns, "ana@example.com", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Patients) != 1 || len(b.Appointments) != 1 || b.User != "ana@example.com" {
		t.Fatalf("unexpected backup %+v", b)
	}

	out := filepath.Join(t.TempDir(), transfer.FileName(testNow))
	var stdout bytes.Buffer
	if err := writeBackup(&stdout, out, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := transfer.Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse written backup: %v", err)
	}
	if len(f.Patients) != 1 || len(f.Appointments) != 1 {
		t.Errorf("unexpected file contents %+v", f.Preview())
	}
	if !strings.Contains(stdout.String(), "1 patients, 1 appointments") {
		t.Errorf("unexpected summary %q", stdout.String())
	}
}

func TestRunImport_PreviewThenConfirm(t *testing.T) {
	s := store.NewMemory()
	ns := store.Namespace{PrincipalID: "u1"}
	im := transfer.NewImporter(s, nil, zerolog.Nop())
	file := `{"patients":[{"id":"p1","name":"Ana"}],"appointments":[{"id":"a1","patientId":"p1","date":"2024-05-11","time":"09:00"}]}`

	var out bytes.Buffer
	if err := runImport(context.Background(), &out, im, ns, strings.NewReader(file), false); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !strings.Contains(out.String(), "found 1 patients and 1 appointments") {
		t.Fatalf("unexpected preview output %q", out.String())
	}
	if _, err := exportBackup(context.Background(), s, ns, "", testNow); err != transfer.ErrNothingToExport {
		t.Fatalf("expected nothing written by preview, got %v", err)
	}

	out.Reset()
	if err := runImport(context.Background(), &out, im, ns, strings.NewReader(file), true); err != nil {
		t.Fatalf("import: %v", err)
	}
	b, err := exportBackup(context.Background(), s, ns, "", testNow)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(b.Patients) != 1 || b.Patients[0].ID != "p1" || b.Appointments[0].ID != "a1" {
		t.Errorf("unexpected imported data %+v", b)
	}
}

func TestRunImport_ReportsFailures(t *testing.T) {
	im := transfer.NewImporter(store.NewMemory(), nil, zerolog.Nop())
	var out bytes.Buffer
	err := runImport(context.Background(), &out, im, store.Namespace{PrincipalID: "u1"},
		strings.NewReader(`{"patients":[{"name":"sin id"}]}`), true)
	if err == nil {
		t.Fatal("expected error for failed records")
	}
	if !strings.Contains(out.String(), "failed patients[0]") {
		t.Errorf("unexpected output %q", out.String())
	}

	err = runImport(context.Background(), &out, im, store.Namespace{PrincipalID: "bad/id"},
		strings.NewReader(`{"patients":[]}`), true)
	if err == nil {
		t.Error("expected invalid namespace error")
	}
}

func TestRunSeed_Idempotent(t *testing.T) {
	s := store.NewMemory()
	ns := store.Namespace{PrincipalID: "u1"}
	im := transfer.NewImporter(s, nil, zerolog.Nop())
	cfg := sandbox.SeedConfig{PatientCount: 5, SessionsPerPatient: 2, AppointmentsPerPatient: 1, Seed: 7}

	var out bytes.Buffer
	for i := 0; i < 2; i++ {
		if err := runSeed(context.Background(), &out, im, ns, cfg, testNow); err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
	}
	if !strings.Contains(out.String(), "seeded 5 patients") {
		t.Errorf("unexpected output %q", out.String())
	}
	b, err := exportBackup(context.Background(), s, ns, "", testNow)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(b.Patients) != 5 {
		t.Errorf("expected reseeding to overwrite, got %d patients", len(b.Patients))
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := testNow
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "documents", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "order_indexes"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected status output:\n%s", out)
	}
	if !strings.Contains(out, at.Format(time.RFC3339)) {
		t.Errorf("expected applied time in output:\n%s", out)
	}
}

func TestNewEcho_Routes(t *testing.T) {
	cfg := devConfig()
	s := store.NewMemory()
	metrics := telemetry.New(nil)
	manager := workspace.NewManager(workspace.Deps{Store: s, Observer: metrics, Logger: zerolog.Nop()})
	t.Cleanup(manager.Close)
	h := workspace.NewHandler(manager, transfer.NewImporter(s, metrics, zerolog.Nop()), nil)
	e := newEcho(cfg, zerolog.Nop(), auth.NewDevAuthenticator(), metrics, h, websocket.NewHub(zerolog.Nop()), nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/view", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("view: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var v struct {
		Screen string `json:"screen"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || v.Screen != "dashboard" {
		t.Fatalf("unexpected view %s", rec.Body.String())
	}
	if _, ok := manager.Get("dev-user"); !ok {
		t.Error("expected dev principal signed in")
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/export", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("export: expected 409 for an empty workspace, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "gestioncitas_") {
		t.Errorf("metrics: unexpected response %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("health/db: expected 404 without a database, got %d", rec.Code)
	}
}
