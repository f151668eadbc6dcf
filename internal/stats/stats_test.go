package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"planengine/internal/model"
	"planengine/internal/store"
	"planengine/internal/testenv"
)

func TestPlanCounts(t *testing.T) {
	env := testenv.New(t)
	loc := env.Loc
	day := func(d int) *time.Time { return testenv.Ptr(time.Date(2025, 1, d, 0, 0, 0, 0, loc)) }

	env.Plan(t, model.Plan{ResponsiblePerson: "u1"})
	env.Plan(t, model.Plan{Status: model.StatusInProgress, ResponsiblePerson: "u1", StartTime: day(1), EndTime: day(31)})
	env.Plan(t, model.Plan{Status: model.StatusInProgress, ResponsiblePerson: "u1", StartTime: day(1), EndTime: day(3)})
	env.Plan(t, model.Plan{Status: model.StatusCompleted, ResponsiblePerson: "u1"})
	env.Plan(t, model.Plan{CreatedBy: "u2", ResponsiblePerson: "u2"})

	svc := New(env.Store, loc, 0, env.Clock)
	got, err := svc.Plans(context.Background(), env.Principal(t, "u1"), Query{})
	if err != nil {
		t.Fatal(err)
	}
	want := Counts{Total: 4, Draft: 1, InProgress: 2, Completed: 1, Overdue: 1, Today: 1}
	if got != want {
		t.Fatalf("u1 counts = %+v, want %+v", got, want)
	}

	all, err := svc.Plans(context.Background(), env.Principal(t, "mgr"), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 5 {
		t.Fatalf("manager total = %d, want 5", all.Total)
	}
	mine, err := svc.Plans(context.Background(), env.Principal(t, "mgr"), Query{Mine: true})
	if err != nil {
		t.Fatal(err)
	}
	if mine.Total != 0 {
		t.Fatalf("manager mine total = %d, want 0", mine.Total)
	}
}

func TestCountsAreCached(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	svc := New(env.Store, env.Loc, time.Minute, env.Clock)
	u1 := env.Principal(t, "u1")

	env.Goal(t, model.Goal{Owner: "u1"})
	first, err := svc.Goals(ctx, u1, Query{})
	if err != nil || first.Total != 1 {
		t.Fatalf("first = %+v, %v", first, err)
	}

	env.Goal(t, model.Goal{Owner: "u1"})
	cached, _ := svc.Goals(ctx, u1, Query{})
	if cached.Total != 1 {
		t.Fatalf("within ttl total = %d, want cached 1", cached.Total)
	}

	env.Now = env.Now.Add(61 * time.Second)
	fresh, _ := svc.Goals(ctx, u1, Query{})
	if fresh.Total != 2 {
		t.Fatalf("after ttl total = %d, want 2", fresh.Total)
	}
}

func TestUnknownRange(t *testing.T) {
	env := testenv.New(t)
	svc := New(env.Store, env.Loc, 0, env.Clock)
	_, err := svc.Plans(context.Background(), env.Principal(t, "u1"), Query{Range: "year"})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestEndingTodayIsNotOverdue(t *testing.T) {
	env := testenv.New(t)
	loc := env.Loc
	env.Plan(t, model.Plan{
		Status: model.StatusInProgress, ResponsiblePerson: "u1",
		StartTime: testenv.Ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, loc)),
		EndTime:   testenv.Ptr(time.Date(2025, 1, 6, 0, 0, 0, 0, loc)),
	})

	svc := New(env.Store, loc, 0, env.Clock)
	got, err := svc.Plans(context.Background(), env.Principal(t, "u1"), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Overdue != 0 || got.Today != 1 {
		t.Fatalf("counts = %+v, want today 1 and overdue 0", got)
	}
}

func TestExpiredEntriesAreSwept(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	svc := New(env.Store, env.Loc, time.Minute, env.Clock)

	for _, user := range []string{"u1", "u2", "mgr"} {
		if _, err := svc.Plans(ctx, env.Principal(t, user), Query{Range: RangeWeek}); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(svc.cache); n != 3 {
		t.Fatalf("cache entries = %d, want 3", n)
	}

	env.Now = env.Now.Add(2 * time.Minute)
	if _, err := svc.Goals(ctx, env.Principal(t, "u1"), Query{}); err != nil {
		t.Fatal(err)
	}
	if n := len(svc.cache); n != 1 {
		t.Fatalf("cache entries after ttl = %d, want only the fresh one", n)
	}
}

func TestTodayWindowStaysInsideRange(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	today := &store.Window{From: day(6), To: day(7)}

	if got := clip(today, nil); *got != *today {
		t.Fatalf("no range: %+v", got)
	}
	if got := clip(today, &store.Window{From: day(6), To: day(13)}); *got != *today {
		t.Fatalf("week holding today: %+v", got)
	}
	got := clip(today, &store.Window{From: day(1), To: day(6)})
	if !got.From.Equal(day(6)) || !got.To.Equal(day(6)) {
		t.Fatalf("range ending before today: %+v", got)
	}
}
