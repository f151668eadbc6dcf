// Package testenv wires a complete engine over a temporary SQLite store
// for package tests.
package testenv

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"planengine/internal/audit"
	"planengine/internal/calendar"
	"planengine/internal/directory"
	"planengine/internal/model"
	"planengine/internal/notify"
	"planengine/internal/scope"
	"planengine/internal/store"
	"planengine/internal/todo"
)

// Env is a wired engine with a controllable clock.
type Env struct {
	Store    *store.Store
	Resolver *scope.Resolver
	Fabric   *notify.Fabric
	Todos    *todo.Synthesizer
	Audit    *audit.Recorder
	Log      *slog.Logger
	Loc      *time.Location
	// Now is returned by Clock.
	Now time.Time
}

// Users seeded into every Env.
var Users = []directory.User{
	{ID: "u1", Name: "Alice", CompanyID: "c1", DepartmentID: "d1", Roles: []string{"employee"}},
	{ID: "u2", Name: "Bob", CompanyID: "c1", DepartmentID: "d1", Roles: []string{"employee"}},
	{ID: "mgr", Name: "Manager", CompanyID: "c1", Roles: []string{directory.RoleGeneralManager}},
	{ID: "dm", Name: "Dept Manager", CompanyID: "c1", DepartmentID: "d1", Roles: []string{directory.RoleDepartmentManager}},
	{ID: "x1", Name: "Outsider", CompanyID: "c2", Roles: []string{directory.RoleGeneralManager}},
}

// New builds an Env whose clock starts at 2025-01-06 10:00 Asia/Shanghai.
func New(t *testing.T) *Env {
	t.Helper()
	loc := calendar.Load("Asia/Shanghai")
	st, err := store.Open(context.Background(), store.Options{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "engine.db"),
		Location: loc,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := directory.NewStatic(
		[]directory.Company{{ID: "c1", Name: "Acme"}, {ID: "c2", Name: "Other"}},
		[]directory.Department{{ID: "d1", Name: "Sales", CompanyID: "c1", Manager: "dm"}},
		Users,
	)
	env := &Env{
		Store:    st,
		Resolver: scope.NewResolver(dir, nil, log),
		Log:      log,
		Loc:      loc,
		Now:      time.Date(2025, 1, 6, 10, 0, 0, 0, loc),
	}
	env.Fabric = notify.New(st, env.Resolver, log, notify.WithClock(env.Clock))
	env.Todos = todo.New(st, env.Resolver, env.Fabric, loc, log)
	env.Audit = audit.NewRecorder(st, log)
	return env
}

// Clock returns the Env's current time.
func (e *Env) Clock() time.Time {
	return e.Now
}

// Principal resolves a seeded user.
func (e *Env) Principal(t *testing.T, userID string) scope.Principal {
	t.Helper()
	p, err := e.Resolver.Principal(context.Background(), userID)
	if err != nil {
		t.Fatalf("principal %s: %v", userID, err)
	}
	return p
}

// Plan inserts p with sensible defaults.
func (e *Env) Plan(t *testing.T, p model.Plan) model.Plan {
	t.Helper()
	if p.Name == "" {
		p.Name = "plan"
	}
	if p.Level == "" {
		p.Level = model.LevelPersonal
	}
	if p.Period == "" {
		p.Period = model.PeriodQuarterly
	}
	if p.Status == "" {
		p.Status = model.StatusDraft
	}
	if p.CompanyID == "" {
		p.CompanyID = "c1"
	}
	if p.CreatedBy == "" {
		p.CreatedBy = "u1"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = e.Now.UTC()
	}
	err := e.Store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreatePlan(context.Background(), &p)
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return p
}

// Goal inserts g with sensible defaults.
func (e *Env) Goal(t *testing.T, g model.Goal) model.Goal {
	t.Helper()
	if g.Name == "" {
		g.Name = "goal"
	}
	if g.Level == "" {
		g.Level = model.LevelPersonal
	}
	if g.GoalType == "" {
		g.GoalType = model.GoalTypeGrowth
	}
	if g.GoalPeriod == "" {
		g.GoalPeriod = model.GoalQuarterly
	}
	if g.Status == "" {
		g.Status = model.StatusDraft
	}
	if g.Indicator.Kind == "" {
		g.Indicator = model.Indicator{Name: "count", Kind: model.IndicatorNumber, TargetValue: 100}
	}
	if g.CompanyID == "" {
		g.CompanyID = "c1"
	}
	if g.CreatedBy == "" {
		g.CreatedBy = "u1"
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = e.Now.UTC()
	}
	err := e.Store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreateGoal(context.Background(), &g)
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	return g
}

// GetPlan reloads a plan.
func (e *Env) GetPlan(t *testing.T, id string) *model.Plan {
	t.Helper()
	p, err := e.Store.GetPlan(context.Background(), id)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	return p
}

// GetGoal reloads a goal.
func (e *Env) GetGoal(t *testing.T, id string) *model.Goal {
	t.Helper()
	g, err := e.Store.GetGoal(context.Background(), id)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	return g
}

// StatusLogs lists the status history of an entity.
func (e *Env) StatusLogs(t *testing.T, kind model.Kind, id string) []model.StatusLog {
	t.Helper()
	logs, err := e.Store.StatusLogs(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("status logs: %v", err)
	}
	return logs
}

// Inbox lists a user's notifications.
func (e *Env) Inbox(t *testing.T, userID string) []model.Notification {
	t.Helper()
	items, _, err := e.Store.ListNotifications(context.Background(), userID, nil, 0, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return items
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
