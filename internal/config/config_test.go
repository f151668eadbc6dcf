package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"planengine/internal/workspace"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestLoadDefaults(t *testing.T) {
	ws := newWorkspace(t)
	cfg, err := Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timezone != "Asia/Shanghai" || cfg.Database.Driver != "sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if want := filepath.Join(ws.Root, "data", "planengine.db"); cfg.Database.DSN != want {
		t.Fatalf("dsn = %q, want %q", cfg.Database.DSN, want)
	}
	if cfg.DirectoryPath != ws.DirectoryPath || cfg.PolicyPath != ws.PolicyPath {
		t.Fatalf("paths = %q %q", cfg.DirectoryPath, cfg.PolicyPath)
	}
	th := cfg.Thresholds
	if th.DraftTimeout != 168*time.Hour || th.ApprovalTimeout != 72*time.Hour || th.DedupeWindow != 24*time.Hour || th.StatsTTL != time.Minute {
		t.Fatalf("thresholds = %+v", th)
	}
	if cfg.Daemon.PollInterval != time.Second || cfg.Daemon.Lease != 5*time.Minute {
		t.Fatalf("daemon = %+v", cfg.Daemon)
	}
	if !cfg.Preconditions.RequireName || !cfg.Preconditions.RequireStartTime || !cfg.Preconditions.RequireResponsiblePerson {
		t.Fatalf("preconditions = %+v", cfg.Preconditions)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	ws := newWorkspace(t)
	body := `timezone: UTC
database:
  driver: postgres
  dsn: postgres://localhost/plans
thresholds:
  draft_timeout: 48h
preconditions:
  require_start_time: false
log:
  level: debug
`
	if err := os.WriteFile(ws.ConfigPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLANENGINE_THRESHOLDS_APPROVAL_TIMEOUT", "12h")
	t.Setenv("PLANENGINE_LOG_LEVEL", "warn")

	cfg, err := Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timezone != "UTC" || cfg.Location() != time.UTC {
		t.Fatalf("timezone = %q", cfg.Timezone)
	}
	if cfg.Database.DSN != "postgres://localhost/plans" {
		t.Fatalf("postgres dsn was rewritten: %q", cfg.Database.DSN)
	}
	if cfg.Thresholds.DraftTimeout != 48*time.Hour || cfg.Thresholds.ApprovalTimeout != 12*time.Hour {
		t.Fatalf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Preconditions.RequireStartTime || !cfg.Preconditions.RequireName {
		t.Fatalf("preconditions = %+v", cfg.Preconditions)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q, want env override", cfg.Log.Level)
	}
}

func TestLoadEnvFile(t *testing.T) {
	ws := newWorkspace(t)
	if err := os.WriteFile(ws.EnvPath, []byte("PLANENGINE_AUTH_SECRET=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PLANENGINE_AUTH_SECRET") })

	cfg, err := Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Secret != "from-dotenv" {
		t.Fatalf("secret = %q", cfg.Auth.Secret)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	ws := newWorkspace(t)
	body := `timezone: Mars/Olympus
database:
  driver: oracle
daemon:
  lease: 0s
log:
  format: xml
`
	if err := os.WriteFile(ws.ConfigPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(ws)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"timezone", "database.driver", "daemon.lease", "log.format"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
