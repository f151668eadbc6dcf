package summary

import (
	"context"
	"strings"
	"testing"
	"time"

	"planengine/internal/calendar"
	"planengine/internal/model"
	"planengine/internal/notify"
	"planengine/internal/testenv"
)

func newComposer(env *testenv.Env) *Composer {
	return New(env.Store, env.Resolver, env.Fabric, env.Loc, env.Log)
}

func byEvent(items []model.Notification, event string) []model.Notification {
	var out []model.Notification
	for _, n := range items {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

func TestDailySummary(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	loc := env.Loc
	env.Plan(t, model.Plan{
		Name:              "Pipeline",
		Status:            model.StatusInProgress,
		ResponsiblePerson: "u1",
		Progress:          30,
		StartTime:         testenv.Ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, loc)),
		EndTime:           testenv.Ptr(time.Date(2025, 1, 31, 0, 0, 0, 0, loc)),
	})
	env.Plan(t, model.Plan{
		Status:      model.StatusCompleted,
		Owner:       "u1",
		Progress:    100,
		CompletedAt: testenv.Ptr(time.Date(2025, 1, 5, 12, 0, 0, 0, loc).UTC()),
	})
	err := env.Store.InsertProgress(ctx, &model.ProgressRecord{
		EntityType:  model.KindPlan,
		EntityID:    "p-any",
		Value:       30,
		Description: "calls",
		RecordedBy:  "u1",
		RecordedAt:  time.Date(2025, 1, 5, 15, 0, 0, 0, loc).UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	c := newComposer(env)
	sent, err := c.Daily(ctx, "c1", env.Now)
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1 (only u1 has activity)", sent)
	}
	got := byEvent(env.Inbox(t, "u1"), notify.EventDailySummary)
	if len(got) != 1 {
		t.Fatalf("u1 daily summaries = %+v", got)
	}
	for _, want := range []string{"更新进度 1 次", "完成计划 1 个", "Pipeline"} {
		if !strings.Contains(got[0].Content, want) {
			t.Fatalf("content %q missing %q", got[0].Content, want)
		}
	}
	if len(byEvent(env.Inbox(t, "u2"), notify.EventDailySummary)) != 0 {
		t.Fatal("u2 got an empty daily summary")
	}

	if sent, err := c.Daily(ctx, "c1", env.Now); err != nil || sent != 0 {
		t.Fatalf("rerun sent = %d, %v, want 0", sent, err)
	}
}

func TestWeeklySummaryFansOutToSupervisor(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	c := newComposer(env)

	sent, err := c.Weekly(ctx, "c1", env.Now)
	if err != nil {
		t.Fatal(err)
	}
	// u1, u2, mgr and dm each get a report; dm also gets the d1 roll-up.
	if sent != 5 {
		t.Fatalf("sent = %d, want 5", sent)
	}
	team := byEvent(env.Inbox(t, "dm"), notify.EventWeeklySummary)
	if len(team) != 2 {
		t.Fatalf("dm weekly notifications = %+v", team)
	}
	var rollup model.Notification
	for _, n := range team {
		if strings.HasSuffix(n.ObjectID, ":team") {
			rollup = n
		}
	}
	if rollup.ObjectID != "weekly:2025-W01:team" {
		t.Fatalf("team slot = %q", rollup.ObjectID)
	}
	if !strings.Contains(rollup.Content, "Alice") || !strings.Contains(rollup.Content, "Bob") {
		t.Fatalf("rollup content = %q", rollup.Content)
	}
	if len(byEvent(env.Inbox(t, "x1"), notify.EventWeeklySummary)) != 0 {
		t.Fatal("other company received c1's weekly summary")
	}
}

func TestMonthlySummaryWindow(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	env.Goal(t, model.Goal{
		Status:      model.StatusCompleted,
		Owner:       "u2",
		CompletedAt: testenv.Ptr(time.Date(2024, 12, 20, 9, 0, 0, 0, env.Loc).UTC()),
	})
	env.Goal(t, model.Goal{
		Status:      model.StatusCompleted,
		Owner:       "u2",
		CompletedAt: testenv.Ptr(time.Date(2025, 1, 2, 9, 0, 0, 0, env.Loc).UTC()),
	})

	u2 := testenv.Users[1]
	c := newComposer(env)
	lastMonth, err := c.Compose(ctx, "c1", u2, monthOf(env, 2024, time.December), env.Now)
	if err != nil {
		t.Fatal(err)
	}
	if lastMonth.GoalsCompleted != 1 {
		t.Fatalf("December goals completed = %d, want 1", lastMonth.GoalsCompleted)
	}

	if _, err := c.Monthly(ctx, "c1", env.Now); err != nil {
		t.Fatal(err)
	}
	got := byEvent(env.Inbox(t, "u2"), notify.EventMonthlySummary)
	if len(got) != 1 || got[0].ObjectID != "monthly:2024-12" {
		t.Fatalf("u2 monthly = %+v", got)
	}
	if !strings.Contains(got[0].Content, "完成目标 1 个") {
		t.Fatalf("content = %q", got[0].Content)
	}
}

func monthOf(env *testenv.Env, year int, month time.Month) calendar.Range {
	from := time.Date(year, month, 1, 0, 0, 0, 0, env.Loc)
	return calendar.Range{From: from, To: from.AddDate(0, 1, 0)}
}
