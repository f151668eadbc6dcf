package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"planengine/internal/decision"
	"planengine/internal/model"
	"planengine/internal/progress"
	"planengine/internal/stats"
	"planengine/internal/store"
	"planengine/internal/testenv"
)

func newService(env *testenv.Env) *Service {
	return New(Deps{
		Store:     env.Store,
		Decisions: decision.New(env.Store, env.Fabric, env.Todos, env.Audit, env.Log, decision.WithClock(env.Clock)),
		Progress:  progress.New(env.Store, env.Fabric, env.Todos, env.Audit, env.Log, env.Clock),
		Todos:     env.Todos,
		Stats:     stats.New(env.Store, env.Loc, stats.DefaultTTL, env.Clock),
		Audit:     env.Audit,
		Log:       env.Log,
		Loc:       env.Loc,
		Now:       env.Clock,
	})
}

func fullPlan(env *testenv.Env, goalID string) PlanInput {
	return PlanInput{
		Name:              "Q1 Launch",
		Period:            model.PeriodQuarterly,
		ResponsiblePerson: "u1",
		RelatedGoal:       goalID,
		StartTime:         testenv.Ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, env.Loc)),
		EndTime:           testenv.Ptr(time.Date(2025, 3, 31, 0, 0, 0, 0, env.Loc)),
	}
}

func TestCreatePlanDraftRelaxesRequiredFields(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	u1 := env.Principal(t, "u1")

	plan, err := svc.CreatePlan(ctx, u1, PlanInput{Name: "Sketch"}, true)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if plan.Status != model.StatusDraft || !strings.HasPrefix(plan.Number, "PLAN-2025-") {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.CompanyID != "c1" || plan.DepartmentID != "d1" || plan.CreatedBy != "u1" {
		t.Fatalf("ownership = %s/%s/%s", plan.CompanyID, plan.DepartmentID, plan.CreatedBy)
	}

	_, err = svc.CreatePlan(ctx, u1, PlanInput{Name: "Sketch"}, false)
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("complete create without fields err = %v, want validation", err)
	}
	for _, field := range []string{"related_goal", "responsible_person", "start_time"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error %q does not mention %s", err, field)
		}
	}

	if _, err := svc.CreatePlan(ctx, u1, PlanInput{}, true); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("nameless draft err = %v, want validation", err)
	}
}

func TestCreatePlanChecksRelations(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	u1 := env.Principal(t, "u1")
	draftGoal := env.Goal(t, model.Goal{Name: "Unpublished"})
	liveGoal := env.Goal(t, model.Goal{Name: "Live", Status: model.StatusPublished})

	if _, err := svc.CreatePlan(ctx, u1, fullPlan(env, draftGoal.ID), false); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("draft goal err = %v, want validation", err)
	}

	in := fullPlan(env, liveGoal.ID)
	in.Participants = []string{"u2"}
	if _, err := svc.CreatePlan(ctx, u1, in, false); err == nil || !strings.Contains(err.Error(), "collaboration_plan") {
		t.Fatalf("participants without collaboration plan err = %v", err)
	}
	in.CollaborationPlan = "weekly sync"
	plan, err := svc.CreatePlan(ctx, u1, in, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(plan.Participants) != 1 || plan.Participants[0] != "u2" {
		t.Fatalf("participants = %v", plan.Participants)
	}

	in = fullPlan(env, liveGoal.ID)
	in.EndTime = testenv.Ptr(time.Date(2024, 12, 1, 0, 0, 0, 0, env.Loc))
	if _, err := svc.CreatePlan(ctx, u1, in, true); err == nil || !strings.Contains(err.Error(), "end_time") {
		t.Fatalf("end before start err = %v", err)
	}

	in = fullPlan(env, liveGoal.ID)
	in.Level = model.LevelCompany
	if _, err := svc.CreatePlan(ctx, u1, in, false); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("employee company plan err = %v, want permission denied", err)
	}
	in.ResponsiblePerson = "dm"
	if _, err := svc.CreatePlan(ctx, env.Principal(t, "dm"), in, false); err != nil {
		t.Fatalf("department manager company plan: %v", err)
	}

	in = fullPlan(env, liveGoal.ID)
	in.ParentPlan = plan.ID
	in.Level = model.LevelCompany
	if _, err := svc.CreatePlan(ctx, env.Principal(t, "mgr"), in, true); err == nil || !strings.Contains(err.Error(), "parent_plan") {
		t.Fatalf("mixed level parent err = %v", err)
	}
}

func TestUpdatePlan(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	u1 := env.Principal(t, "u1")
	plan, err := svc.CreatePlan(ctx, u1, PlanInput{Name: "Sketch"}, true)
	if err != nil {
		t.Fatal(err)
	}

	status := model.StatusInProgress
	if _, err := svc.UpdatePlan(ctx, u1, plan.ID, PlanPatch{Status: &status}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("status patch err = %v, want validation", err)
	}
	if got := env.GetPlan(t, plan.ID).Status; got != model.StatusDraft {
		t.Fatalf("status after refused patch = %s", got)
	}

	name := "Sharper sketch"
	updated, err := svc.UpdatePlan(ctx, u1, plan.ID, PlanPatch{Name: &name, Participants: &[]string{"u2", "u2"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || len(updated.Participants) != 1 {
		t.Fatalf("updated = %+v", updated)
	}

	// Bob now participates, so he can see it but not edit it.
	if _, err := svc.UpdatePlan(ctx, env.Principal(t, "u2"), plan.ID, PlanPatch{Name: &name}); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("participant edit err = %v, want permission denied", err)
	}
	if _, err := svc.UpdatePlan(ctx, env.Principal(t, "x1"), plan.ID, PlanPatch{Name: &name}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("other company edit err = %v, want not found", err)
	}

	done := env.Plan(t, model.Plan{Name: "Done", Status: model.StatusCompleted})
	if _, err := svc.UpdatePlan(ctx, u1, done.ID, PlanPatch{Name: &name}); !errors.Is(err, model.ErrInvalidStatus) {
		t.Fatalf("terminal edit err = %v, want invalid status", err)
	}

	events, err := env.Store.Events(ctx, store.EventFilter{ObjectType: "plan", ObjectID: plan.ID, Action: "update"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Changes["name"].To != name {
		t.Fatalf("update events = %+v", events)
	}
}

func TestGetAndListPlans(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	u1 := env.Principal(t, "u1")
	for _, name := range []string{"a", "b", "c"} {
		if _, err := svc.CreatePlan(ctx, u1, PlanInput{Name: name}, true); err != nil {
			t.Fatal(err)
		}
	}
	other := env.Plan(t, model.Plan{Name: "Bob's", CreatedBy: "u2"})

	page, err := svc.ListPlans(ctx, u1, PlanQuery{PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Items) != 2 || page.Page != 1 {
		t.Fatalf("page = total %d, %d items, page %d", page.Total, len(page.Items), page.Page)
	}
	page, err = svc.ListPlans(ctx, env.Principal(t, "mgr"), PlanQuery{Page: 2, PageSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 || len(page.Items) != 1 {
		t.Fatalf("manager page 2 = total %d, %d items", page.Total, len(page.Items))
	}

	if _, err := svc.GetPlan(ctx, u1, other.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("invisible plan err = %v, want not found", err)
	}
	if _, err := svc.GetPlan(ctx, env.Principal(t, "mgr"), other.ID); err != nil {
		t.Fatalf("manager get: %v", err)
	}
	if _, err := svc.ListPlans(ctx, u1, PlanQuery{Range: "decade"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("bad range err = %v", err)
	}
}

func TestGoalWeights(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	mgr := env.Principal(t, "mgr")
	in := GoalInput{
		Name:       "Revenue",
		Level:      model.LevelCompany,
		GoalPeriod: model.GoalAnnual,
		Indicator:  model.Indicator{Name: "revenue", Kind: model.IndicatorAmount, TargetValue: 1000},
		Weight:     60,
	}
	first, err := svc.CreateGoal(ctx, mgr, in, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(first.Number, "GOAL-20250106-") {
		t.Fatalf("number = %s", first.Number)
	}

	in.Weight = 50
	if _, err := svc.CreateGoal(ctx, mgr, in, true); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("overweight create err = %v, want validation", err)
	}
	in.GoalPeriod = model.GoalQuarterly
	second, err := svc.CreateGoal(ctx, mgr, in, true)
	if err != nil {
		t.Fatalf("other period: %v", err)
	}

	period := model.GoalAnnual
	if _, err := svc.UpdateGoal(ctx, mgr, second.ID, GoalPatch{GoalPeriod: &period}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("moving into a full period err = %v, want validation", err)
	}
	weight := 90.0
	if _, err := svc.UpdateGoal(ctx, mgr, first.ID, GoalPatch{Weight: &weight}); err != nil {
		t.Fatalf("raising own weight: %v", err)
	}

	if _, err := svc.CreateGoal(ctx, env.Principal(t, "dm"), in, true); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("department manager company goal err = %v", err)
	}
}

func TestUpdateGoalTargetCompletes(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	g := env.Goal(t, model.Goal{
		Name:              "Signups",
		Status:            model.StatusInProgress,
		ResponsiblePerson: "u1",
		Indicator:         model.Indicator{Name: "signups", Kind: model.IndicatorNumber, TargetValue: 100, CurrentValue: 50},
		StartDate:         testenv.Ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, env.Loc)),
		EndDate:           testenv.Ptr(time.Date(2025, 3, 31, 0, 0, 0, 0, env.Loc)),
		GoalType:          model.GoalTypeGrowth,
	})

	target := 50.0
	out, err := svc.UpdateGoal(ctx, env.Principal(t, "u1"), g.ID, GoalPatch{TargetValue: &target})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Status != model.StatusCompleted || out.CompletionRate != 100 {
		t.Fatalf("goal = %s at %v, want completed at 100", out.Status, out.CompletionRate)
	}
	logs := env.StatusLogs(t, model.KindGoal, g.ID)
	if len(logs) != 1 || logs[0].NewStatus != model.StatusCompleted {
		t.Fatalf("status logs = %+v", logs)
	}
}

func TestDecisionRoundTrip(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	u1 := env.Principal(t, "u1")
	goal := env.Goal(t, model.Goal{Name: "G", Status: model.StatusPublished})
	plan, err := svc.CreatePlan(ctx, u1, fullPlan(env, goal.ID), false)
	if err != nil {
		t.Fatal(err)
	}

	req, err := svc.RequestPlanStart(ctx, u1, plan.ID, "ready")
	if err != nil {
		t.Fatalf("request start: %v", err)
	}
	if _, err := svc.RequestPlanStart(ctx, u1, plan.ID, "again"); !errors.Is(err, model.ErrDuplicatePending) {
		t.Fatalf("second request err = %v", err)
	}

	page, err := svc.ListPendingDecisions(ctx, env.Principal(t, "mgr"), DecisionQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Items[0].ID != req.ID {
		t.Fatalf("pending = %+v", page)
	}

	mgr := env.Principal(t, "mgr")
	if _, err := svc.DecideGoalRequest(ctx, mgr, req.ID, true, ""); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("deciding a plan request as a goal err = %v", err)
	}
	res, err := svc.DecidePlanRequest(ctx, mgr, req.ID, true, "go")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Status != model.StatusInProgress || res.Decision.Decision != model.DecisionApprove {
		t.Fatalf("result = %+v", res)
	}
	if _, err := svc.DecidePlanRequest(ctx, mgr, req.ID, false, ""); !errors.Is(err, model.ErrAlreadyDecided) {
		t.Fatalf("second decide err = %v", err)
	}

	decided := false
	page, err = svc.ListPendingDecisions(ctx, mgr, DecisionQuery{Pending: &decided})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Items[0].Pending() {
		t.Fatalf("decided = %+v", page)
	}

	prog, err := svc.UpdatePlanProgress(ctx, u1, plan.ID, 100, "shipped")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.Status != model.StatusCompleted {
		t.Fatalf("status after 100%% = %s", prog.Status)
	}
	history, err := svc.ProgressHistory(ctx, u1, model.KindPlan, plan.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("history = %v, %v", history, err)
	}
}

func TestInbox(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	u1 := env.Principal(t, "u1")
	goal := env.Goal(t, model.Goal{Name: "G", Status: model.StatusPublished})
	plan, err := svc.CreatePlan(ctx, u1, fullPlan(env, goal.ID), false)
	if err != nil {
		t.Fatal(err)
	}
	req, err := svc.RequestPlanStart(ctx, u1, plan.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DecidePlanRequest(ctx, env.Principal(t, "mgr"), req.ID, false, "not yet"); err != nil {
		t.Fatal(err)
	}

	n, err := svc.UnreadCount(ctx, u1)
	if err != nil || n != 1 {
		t.Fatalf("unread = %d, %v, want 1", n, err)
	}
	unread := false
	page, err := svc.ListNotifications(ctx, u1, NotificationQuery{IsRead: &unread})
	if err != nil || page.Total != 1 {
		t.Fatalf("inbox = %+v, %v", page, err)
	}
	if err := svc.MarkRead(ctx, env.Principal(t, "u2"), page.Items[0].ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("marking someone else's notification err = %v", err)
	}
	if err := svc.MarkRead(ctx, u1, page.Items[0].ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := svc.UnreadCount(ctx, u1); n != 0 {
		t.Fatalf("unread after mark = %d", n)
	}

	mgr := env.Principal(t, "mgr")
	if n, _ := svc.UnreadCount(ctx, mgr); n == 0 {
		t.Fatal("approver was not told about the request")
	}
	if changed, err := svc.MarkAllRead(ctx, mgr); err != nil || changed == 0 {
		t.Fatalf("mark all = %d, %v", changed, err)
	}
	if n, _ := svc.UnreadCount(ctx, mgr); n != 0 {
		t.Fatalf("unread after mark all = %d", n)
	}
}

func TestCompleteTodo(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	todo := &model.Todo{
		Assignee:  "u1",
		Type:      model.TodoPlanCreation,
		PeriodKey: "2025-02",
		Title:     "Write February plan",
		Deadline:  env.Now.Add(24 * time.Hour).UTC(),
		Status:    model.TodoPending,
		CreatedBy: "system",
		CreatedAt: env.Now.UTC(),
	}
	if _, err := env.Store.InsertTodo(ctx, todo); err != nil {
		t.Fatal(err)
	}

	list, err := svc.ListTodos(ctx, env.Principal(t, "u1"))
	if err != nil {
		t.Fatal(err)
	}
	if list.Summary.PersistedPending != 1 {
		t.Fatalf("summary = %+v", list.Summary)
	}
	if err := svc.CompleteTodo(ctx, env.Principal(t, "u2"), todo.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("completing someone else's todo err = %v", err)
	}
	if err := svc.CompleteTodo(ctx, env.Principal(t, "u1"), todo.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = svc.ListTodos(ctx, env.Principal(t, "u1"))
	if list.Summary.PersistedPending != 0 {
		t.Fatalf("summary after completion = %+v", list.Summary)
	}
}

func TestMigrateLegacyStatuses(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	approved := env.Plan(t, model.Plan{Name: "old", Status: "approved"})
	pending := env.Goal(t, model.Goal{Name: "old goal", Status: "pending_approval"})

	changes, err := svc.MigrateLegacyStatuses(ctx, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %+v", changes)
	}
	if got := env.GetPlan(t, approved.ID).Status; got != model.StatusInProgress {
		t.Fatalf("plan status = %s", got)
	}
	if got := env.GetGoal(t, pending.ID).Status; got != model.StatusDraft {
		t.Fatalf("goal status = %s", got)
	}
	events, _ := env.Store.Events(ctx, store.EventFilter{Action: "legacy_migration"})
	if len(events) != 2 {
		t.Fatalf("audit events = %d, want 2", len(events))
	}
}

func TestOverdueFilterUsesLocalDay(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	day := func(d int) *time.Time { return testenv.Ptr(time.Date(2025, 1, d, 0, 0, 0, 0, env.Loc)) }

	late := env.Plan(t, model.Plan{Status: model.StatusInProgress, ResponsiblePerson: "u1", StartTime: day(1), EndTime: day(5)})
	env.Plan(t, model.Plan{Status: model.StatusInProgress, ResponsiblePerson: "u1", StartTime: day(1), EndTime: day(6)})
	lateGoal := env.Goal(t, model.Goal{Status: model.StatusAccepted, Owner: "u1", EndDate: day(5)})
	env.Goal(t, model.Goal{Status: model.StatusAccepted, Owner: "u1", EndDate: day(6)})

	u1 := env.Principal(t, "u1")
	plans, err := svc.ListPlans(ctx, u1, PlanQuery{Overdue: true})
	if err != nil {
		t.Fatal(err)
	}
	if plans.Total != 1 || plans.Items[0].ID != late.ID {
		t.Fatalf("overdue plans = %+v, want only %s", plans, late.ID)
	}
	goals, err := svc.ListGoals(ctx, u1, GoalQuery{Overdue: true})
	if err != nil {
		t.Fatal(err)
	}
	if goals.Total != 1 || goals.Items[0].ID != lateGoal.ID {
		t.Fatalf("overdue goals = %+v, want only %s", goals, lateGoal.ID)
	}
}
