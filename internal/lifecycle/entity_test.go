package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"planengine/internal/adjudicator"
	"planengine/internal/lifecycle"
	"planengine/internal/model"
	"planengine/internal/store"
	"planengine/internal/testenv"
)

func lock(t *testing.T, env *testenv.Env, kind model.Kind, id string) *lifecycle.Entity {
	t.Helper()
	var ent *lifecycle.Entity
	err := env.Store.WithTx(context.Background(), func(tx *store.Tx) error {
		var err error
		ent, err = lifecycle.Lock(context.Background(), tx, kind, id)
		return err
	})
	if err != nil {
		t.Fatalf("lock %s %s: %v", kind, id, err)
	}
	return ent
}

func TestEditable(t *testing.T) {
	env := testenv.New(t)
	plan := env.Plan(t, model.Plan{ResponsiblePerson: "u1"})
	goal := env.Goal(t, model.Goal{CreatedBy: "u2"})

	ent := lock(t, env, model.KindPlan, plan.ID)
	if err := ent.Editable(env.Principal(t, "u1")); err != nil {
		t.Fatalf("responsible person: %v", err)
	}
	if err := ent.Editable(env.Principal(t, "u2")); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("unrelated employee err = %v, want permission denied", err)
	}
	if err := ent.Editable(env.Principal(t, "mgr")); err != nil {
		t.Fatalf("change permission: %v", err)
	}

	gent := lock(t, env, model.KindGoal, goal.ID)
	if err := gent.Editable(env.Principal(t, "u2")); err != nil {
		t.Fatalf("goal creator: %v", err)
	}
	if err := gent.Editable(env.Principal(t, "dm")); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("department manager without change_goal err = %v", err)
	}
}

func TestVisible(t *testing.T) {
	env := testenv.New(t)
	plan := env.Plan(t, model.Plan{DepartmentID: "d1", Participants: []string{"u2"}})
	ent := lock(t, env, model.KindPlan, plan.ID)

	for user, want := range map[string]bool{"u1": true, "u2": true, "dm": true, "mgr": true, "x1": false} {
		if got := ent.Visible(env.Principal(t, user).Predicate()); got != want {
			t.Errorf("Visible(%s) = %v, want %v", user, got, want)
		}
	}
}

func TestComplete(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	running := env.Plan(t, model.Plan{Status: model.StatusInProgress, Progress: 100})
	draft := env.Plan(t, model.Plan{Status: model.StatusDraft, Progress: 100})

	for _, tc := range []struct {
		id   string
		want bool
	}{{running.ID, true}, {draft.ID, false}} {
		var done bool
		err := env.Store.WithTx(ctx, func(tx *store.Tx) error {
			ent, err := lifecycle.Lock(ctx, tx, model.KindPlan, tc.id)
			if err != nil {
				return err
			}
			done, err = lifecycle.Complete(ctx, tx, ent, "system", env.Now)
			return err
		})
		if err != nil {
			t.Fatalf("complete %s: %v", tc.id, err)
		}
		if done != tc.want {
			t.Fatalf("complete %s = %v, want %v", tc.id, done, tc.want)
		}
	}

	got := env.GetPlan(t, running.ID)
	if got.Status != model.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("plan = %s completed_at=%v", got.Status, got.CompletedAt)
	}
	logs := env.StatusLogs(t, model.KindPlan, running.ID)
	if len(logs) != 1 || logs[0].OldStatus != model.StatusInProgress || logs[0].NewStatus != model.StatusCompleted {
		t.Fatalf("status logs = %+v", logs)
	}
	if env.GetPlan(t, draft.ID).Status != model.StatusDraft {
		t.Fatal("draft plan was completed")
	}
	if logs := env.StatusLogs(t, model.KindPlan, draft.ID); len(logs) != 0 {
		t.Fatalf("draft plan logged %+v", logs)
	}
}

func TestLockUnknownKind(t *testing.T) {
	env := testenv.New(t)
	err := env.Store.WithTx(context.Background(), func(tx *store.Tx) error {
		_, err := lifecycle.Lock(context.Background(), tx, model.Kind("task"), "t1")
		return err
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestRepair(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	bad := env.Plan(t, model.Plan{Status: model.Status("approved_legacy")})
	good := env.Plan(t, model.Plan{Status: model.StatusPublished})

	for _, tc := range []struct {
		id   string
		want bool
	}{{bad.ID, true}, {good.ID, false}} {
		var repaired bool
		err := env.Store.WithTx(ctx, func(tx *store.Tx) error {
			ent, err := lifecycle.Lock(ctx, tx, model.KindPlan, tc.id)
			if err != nil {
				return err
			}
			repaired, err = lifecycle.Repair(ctx, tx, ent, "system", env.Now)
			return err
		})
		if err != nil || repaired != tc.want {
			t.Fatalf("repair %s = %v, %v; want %v", tc.id, repaired, err, tc.want)
		}
	}

	if got := env.GetPlan(t, bad.ID).Status; got != model.StatusDraft {
		t.Fatalf("repaired status = %s, want draft", got)
	}
	logs := env.StatusLogs(t, model.KindPlan, bad.ID)
	if len(logs) != 1 || logs[0].OldStatus != "approved_legacy" || logs[0].Reason != adjudicator.ReasonRepaired {
		t.Fatalf("status logs = %+v", logs)
	}
	if logs := env.StatusLogs(t, model.KindPlan, good.ID); len(logs) != 0 {
		t.Fatalf("known status logged %+v", logs)
	}
}
