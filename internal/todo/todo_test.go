package todo

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"planengine/internal/calendar"
	"planengine/internal/directory"
	"planengine/internal/model"
	"planengine/internal/scope"
	"planengine/internal/store"
)

type countingNotifier struct{ created []model.Todo }

func (n *countingNotifier) TodoCreated(_ context.Context, t model.Todo) bool {
	n.created = append(n.created, t)
	return true
}

type fixture struct {
	store    *store.Store
	synth    *Synthesizer
	notifier *countingNotifier
	loc      *time.Location
}

func newFixture(t *testing.T) *fixture {
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

	dir := directory.NewStatic(
		[]directory.Company{{ID: "c1"}},
		[]directory.Department{{ID: "d1", CompanyID: "c1", Manager: "dm"}},
		[]directory.User{
			{ID: "gm", CompanyID: "c1", Roles: []string{directory.RoleGeneralManager}},
			{ID: "dm", DepartmentID: "d1", Roles: []string{directory.RoleDepartmentManager}},
			{ID: "u1", CompanyID: "c1", DepartmentID: "d1"},
		},
	)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := &countingNotifier{}
	return &fixture{
		store:    st,
		synth:    New(st, scope.NewResolver(dir, nil, log), notifier, loc, log),
		notifier: notifier,
		loc:      loc,
	}
}

func (f *fixture) plan(t *testing.T, p model.Plan) model.Plan {
	t.Helper()
	if p.Level == "" {
		p.Level = model.LevelPersonal
	}
	if p.Period == "" {
		p.Period = model.PeriodMonthly
	}
	if p.CompanyID == "" {
		p.CompanyID = "c1"
	}
	if p.CreatedBy == "" {
		p.CreatedBy = "gm"
	}
	err := f.store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreatePlan(context.Background(), &p)
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return p
}

func (f *fixture) goal(t *testing.T, g model.Goal) model.Goal {
	t.Helper()
	g.Level, g.GoalType, g.GoalPeriod = model.LevelPersonal, model.GoalTypeGrowth, model.GoalQuarterly
	if g.CompanyID == "" {
		g.CompanyID = "c1"
	}
	if g.CreatedBy == "" {
		g.CreatedBy = "gm"
	}
	err := f.store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreateGoal(context.Background(), &g)
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	return g
}

func ptr(t time.Time) *time.Time { return &t }

func TestDerivedOrdering(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, f.loc)

	f.goal(t, model.Goal{Name: "G1", Status: model.StatusPublished, Owner: "u1", CreatedAt: now.Add(-3 * time.Hour)})
	f.plan(t, model.Plan{Name: "P1", Status: model.StatusAccepted, Owner: "u1", CreatedAt: now.Add(-2 * time.Hour)})
	f.plan(t, model.Plan{
		Name: "P2", Status: model.StatusInProgress, Owner: "u1", CreatedAt: now.Add(-time.Hour),
		StartTime: ptr(now.AddDate(0, 0, -10)), EndTime: ptr(now.AddDate(0, 0, -1)),
	})

	list, err := f.synth.List(context.Background(), scope.Principal{UserID: "u1", CompanyID: "c1"}, now)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		name     string
		category Category
		priority Priority
	}{
		{"P2", CategoryRisk, PriorityHigh},
		{"G1", CategoryAccept, PriorityHigh},
		{"P1", CategoryExecute, PriorityMedium},
	}
	if len(list.Items) != len(want) {
		t.Fatalf("items = %d, want %d: %#v", len(list.Items), len(want), list.Items)
	}
	for i, w := range want {
		got := list.Items[i]
		if got.Name != w.name || got.Category != w.category || got.Priority != w.priority {
			t.Fatalf("item %d = %s/%s/%s, want %s/%s/%s", i, got.Name, got.Category, got.Priority, w.name, w.category, w.priority)
		}
	}
	wantSummary := Summary{Total: 3, PendingAccept: 1, PendingExecute: 1, TodayPlans: 0, RiskItems: 1}
	if list.Summary != wantSummary {
		t.Fatalf("summary = %+v, want %+v", list.Summary, wantSummary)
	}
}

func TestRiskSupersedesAndToday(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, f.loc)

	f.plan(t, model.Plan{Name: "late", Status: model.StatusPublished, Owner: "u1", EndTime: ptr(now.AddDate(0, 0, -1))})
	f.plan(t, model.Plan{
		Name: "running", Status: model.StatusInProgress, ResponsiblePerson: "u1",
		StartTime: ptr(now.AddDate(0, 0, -1)), EndTime: ptr(now.AddDate(0, 0, 3)),
	})
	f.plan(t, model.Plan{
		Name: "future", Status: model.StatusInProgress, ResponsiblePerson: "u1",
		StartTime: ptr(now.AddDate(0, 0, 2)),
	})

	list, err := f.synth.List(context.Background(), scope.Principal{UserID: "u1", CompanyID: "c1"}, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("items = %#v, want late and running", list.Items)
	}
	if list.Items[0].Name != "late" || list.Items[0].Category != CategoryRisk {
		t.Fatalf("first = %+v, want risk on late", list.Items[0])
	}
	if list.Items[1].Name != "running" || list.Items[1].Category != CategoryToday {
		t.Fatalf("second = %+v, want today on running", list.Items[1])
	}
	if list.Summary.PendingAccept != 0 || list.Summary.TodayPlans != 1 {
		t.Fatalf("summary = %+v", list.Summary)
	}
}

func TestLastDayIsNotOverdue(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, f.loc)
	lastDay := time.Date(2025, 1, 6, 0, 0, 0, 0, f.loc)

	f.plan(t, model.Plan{
		Name: "ends today", Status: model.StatusInProgress, ResponsiblePerson: "u1",
		StartTime: ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, f.loc)), EndTime: ptr(lastDay),
	})
	f.goal(t, model.Goal{Name: "due today", Status: model.StatusAccepted, Owner: "u1", EndDate: ptr(lastDay)})

	list, err := f.synth.List(context.Background(), scope.Principal{UserID: "u1", CompanyID: "c1"}, now)
	if err != nil {
		t.Fatal(err)
	}
	want := Summary{Total: 2, PendingExecute: 1, TodayPlans: 1}
	if list.Summary != want {
		t.Fatalf("summary = %+v, want %+v", list.Summary, want)
	}
	for _, item := range list.Items {
		if item.Category == CategoryRisk {
			t.Fatalf("%s flagged overdue on its last day", item.Name)
		}
	}

	// One minute past local midnight the same items are late.
	list, err = f.synth.List(context.Background(), scope.Principal{UserID: "u1", CompanyID: "c1"}, lastDay.AddDate(0, 0, 1).Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if list.Summary.RiskItems != 2 {
		t.Fatalf("next day summary = %+v, want 2 risk items", list.Summary)
	}
}

func TestQuarterlyGoalCreationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 25, 9, 0, 0, 0, f.loc)

	n, err := f.synth.QuarterlyGoalCreation(ctx, "c1", now)
	if err != nil || n != 1 {
		t.Fatalf("first run = %d, %v; want 1 todo", n, err)
	}
	n, err = f.synth.QuarterlyGoalCreation(ctx, "c1", now.Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("second run = %d, %v; want 0", n, err)
	}
	if len(f.notifier.created) != 1 {
		t.Fatalf("notified %d times, want 1", len(f.notifier.created))
	}

	todos, err := f.store.ListTodos(ctx, store.TodoFilter{Assignee: "gm"})
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 1 {
		t.Fatalf("todos = %d, want 1", len(todos))
	}
	got := todos[0]
	if got.PeriodKey != "2025Q2" || got.Type != model.TodoGoalCreation {
		t.Fatalf("todo = %+v", got)
	}
	if want := time.Date(2025, 4, 10, 9, 0, 0, 0, f.loc); !got.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", got.Deadline.In(f.loc), want)
	}
}

func TestMonthlyPlanCreationDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 20, 9, 0, 0, 0, f.loc)
	if n, err := f.synth.MonthlyPlanCreation(ctx, "c1", now); err != nil || n != 1 {
		t.Fatalf("generated = %d, %v; want 1", n, err)
	}
	todos, err := f.store.ListTodos(ctx, store.TodoFilter{Assignee: "dm"})
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 1 || todos[0].PeriodKey != "2025-02" {
		t.Fatalf("todos = %+v", todos)
	}
	if want := time.Date(2025, 1, 23, 17, 0, 0, 0, f.loc); !todos[0].Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", todos[0].Deadline.In(f.loc), want)
	}
}

func TestDecompositionCompletedByChildPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 7, 14, 0, 0, 0, f.loc)
	monthly := f.plan(t, model.Plan{Name: "Feb", Status: model.StatusInProgress, ResponsiblePerson: "u1"})

	if n, err := f.synth.WeeklyDecomposition(ctx, "c1", now); err != nil || n != 1 {
		t.Fatalf("generated = %d, %v; want 1", n, err)
	}
	open, err := f.store.ListTodos(ctx, store.TodoFilter{Assignee: "u1", Statuses: openStatuses})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].PeriodKey != "2025-W07" {
		t.Fatalf("open todos = %+v", open)
	}
	if want := time.Date(2025, 2, 7, 18, 0, 0, 0, f.loc); !open[0].Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", open[0].Deadline.In(f.loc), want)
	}

	child := model.Plan{Name: "W7", Period: model.PeriodWeekly, ParentPlan: monthly.ID, CreatedBy: "u1"}
	if n := f.synth.PlanCreated(ctx, child, now); n != 1 {
		t.Fatalf("completed = %d, want 1", n)
	}
	open, err = f.store.ListTodos(ctx, store.TodoFilter{Assignee: "u1", Statuses: openStatuses})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Fatalf("open todos after child plan = %+v", open)
	}
}

func TestProgressTodoCompletedByRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 7, 15, 0, 0, 0, f.loc)
	p := f.plan(t, model.Plan{Name: "run", Status: model.StatusInProgress, Owner: "u1"})

	if n, err := f.synth.ProgressUpdates(ctx, "c1", now); err != nil || n != 1 {
		t.Fatalf("generated = %d, %v; want 1", n, err)
	}
	if n := f.synth.ProgressRecorded(ctx, model.KindPlan, p.ID, now.Add(time.Hour)); n != 1 {
		t.Fatalf("completed = %d, want 1", n)
	}
	// A record on another day leaves nothing to complete.
	if n := f.synth.ProgressRecorded(ctx, model.KindPlan, p.ID, now.AddDate(0, 0, 1)); n != 0 {
		t.Fatalf("completed next day = %d, want 0", n)
	}
}

func TestSweepOverdueAndListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 7, 15, 0, 0, 0, f.loc)
	f.plan(t, model.Plan{Name: "run", Status: model.StatusInProgress, Owner: "u1"})
	if _, err := f.synth.ProgressUpdates(ctx, "c1", now); err != nil {
		t.Fatal(err)
	}

	if n, err := f.synth.SweepOverdue(ctx, now.Add(4*time.Hour)); err != nil || n != 1 {
		t.Fatalf("swept = %d, %v; want 1", n, err)
	}
	list, err := f.synth.List(ctx, scope.Principal{UserID: "u1", CompanyID: "c1"}, now.Add(4*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if list.Summary.PersistedPending != 1 {
		t.Fatalf("summary = %+v, want one persisted todo", list.Summary)
	}
	var system *Item
	for i := range list.Items {
		if list.Items[i].Category == CategorySystem {
			system = &list.Items[i]
		}
	}
	if system == nil || system.Priority != PriorityHigh || system.Todo.Status != model.TodoOverdue {
		t.Fatalf("system item = %+v", system)
	}
}
