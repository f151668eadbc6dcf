// Package progress records progress against plans and goals, completes
// them when they reach 100%, and runs deadline and target adjustments.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"planengine/internal/audit"
	"planengine/internal/lifecycle"
	"planengine/internal/model"
	"planengine/internal/notify"
	"planengine/internal/scope"
	"planengine/internal/store"
	"planengine/internal/todo"
)

var tracer = otel.Tracer("planengine/progress")

// Engine is the progress engine.
type Engine struct {
	store  *store.Store
	fabric *notify.Fabric
	todos  *todo.Synthesizer
	audit  *audit.Recorder
	log    *slog.Logger
	now    func() time.Time
}

// New wires an Engine. fabric, todos and recorder may be nil.
func New(st *store.Store, fabric *notify.Fabric, todos *todo.Synthesizer, recorder *audit.Recorder, log *slog.Logger, now func() time.Time) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{store: st, fabric: fabric, todos: todos, audit: recorder, log: log, now: now}
}

// PlanProgress is the state of a plan after a progress update.
type PlanProgress struct {
	Status   model.Status `json:"status"`
	Progress float64      `json:"progress"`
}

// GoalProgress is the state of a goal after a progress update.
type GoalProgress struct {
	Status         model.Status `json:"status"`
	CurrentValue   float64      `json:"current_value"`
	CompletionRate float64      `json:"completion_rate"`
}

// UpdatePlanProgress records progress on a running plan. Reaching 100
// completes the plan in the same transaction.
func (e *Engine) UpdatePlanProgress(ctx context.Context, id string, p scope.Principal, value float64, description string) (*PlanProgress, error) {
	var errs model.ValidationErrors
	if value < 0 || value > 100 {
		errs.Add("progress", "must be between 0 and 100, got %v", value)
	}
	if strings.TrimSpace(description) == "" {
		errs.Add("description", "is required")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	var out PlanProgress
	ent, completed, before, err := e.record(ctx, model.KindPlan, id, p, value, description, func(ent *lifecycle.Entity, at time.Time) {
		ent.Plan.Progress = value
		ent.Plan.UpdatedAt = at
	})
	if err != nil {
		return nil, err
	}
	out.Status, out.Progress = ent.Plan.Status, ent.Plan.Progress
	e.after(ctx, ent, p, completed, before, value)
	return &out, nil
}

// UpdateGoalProgress sets the current value of a running goal and derives
// its completion rate. Reaching 100% completes the goal in the same
// transaction.
func (e *Engine) UpdateGoalProgress(ctx context.Context, id string, p scope.Principal, current float64, description string) (*GoalProgress, error) {
	var errs model.ValidationErrors
	if current < 0 {
		errs.Add("current_value", "must not be negative, got %v", current)
	}
	if strings.TrimSpace(description) == "" {
		errs.Add("description", "is required")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	ent, completed, before, err := e.record(ctx, model.KindGoal, id, p, current, description, func(ent *lifecycle.Entity, at time.Time) {
		ent.Goal.Indicator.CurrentValue = current
		ent.Goal.CompletionRate = CompletionRate(ent.Goal.Indicator)
		ent.Goal.UpdatedAt = at
	})
	if err != nil {
		return nil, err
	}
	e.after(ctx, ent, p, completed, before, current)
	return &GoalProgress{
		Status:         ent.Goal.Status,
		CurrentValue:   ent.Goal.Indicator.CurrentValue,
		CompletionRate: ent.Goal.CompletionRate,
	}, nil
}

func (e *Engine) record(ctx context.Context, kind model.Kind, id string, p scope.Principal, value float64, description string, apply func(*lifecycle.Entity, time.Time)) (*lifecycle.Entity, bool, map[string]any, error) {
	ctx, span := tracer.Start(ctx, "progress.Update", trace.WithAttributes(
		attribute.String("entity_type", string(kind)),
		attribute.String("entity_id", id),
		attribute.Float64("value", value),
	))
	defer span.End()

	var (
		ent       *lifecycle.Entity
		completed bool
		before    map[string]any
	)
	txCtx := context.WithoutCancel(ctx)
	err := e.store.WithTx(txCtx, func(tx *store.Tx) error {
		var err error
		ent, err = lifecycle.Lock(txCtx, tx, kind, id)
		if err != nil {
			return err
		}
		if !ent.Visible(p.Predicate()) {
			return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
		}
		if err := ent.Editable(p); err != nil {
			return err
		}
		if ent.Status() != model.StatusInProgress {
			return fmt.Errorf("progress on %s %s in status %s: %w", kind, id, ent.Status(), model.ErrInvalidStatus)
		}
		before = ent.Snapshot()
		at := e.now().UTC()

		apply(ent, at)
		if err := ent.Save(txCtx, tx); err != nil {
			return err
		}
		err = tx.InsertProgress(txCtx, &model.ProgressRecord{
			EntityType:  kind,
			EntityID:    id,
			Value:       value,
			Description: strings.TrimSpace(description),
			RecordedBy:  p.UserID,
			RecordedAt:  at,
		})
		if err != nil {
			return err
		}
		completed, err = lifecycle.Complete(txCtx, tx, ent, p.UserID, at)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "progress update failed")
		return nil, false, nil, err
	}
	span.SetAttributes(attribute.Bool("completed", completed))
	return ent, completed, before, nil
}

func (e *Engine) after(ctx context.Context, ent *lifecycle.Entity, p scope.Principal, completed bool, before map[string]any, value float64) {
	now := e.now()
	if e.todos != nil {
		e.todos.ProgressRecorded(ctx, ent.Kind, ent.ID(), now)
		if completed {
			e.todos.Closed(ctx, ent.Kind, ent.ID(), model.StatusCompleted, now)
		}
	}
	if completed {
		e.fabric.Completed(ctx, ent.Object())
		e.log.Info("auto completed", "entity_type", ent.Kind, "entity_id", ent.ID())
	}
	e.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionProgressUpdate,
		ObjectType: string(ent.Kind),
		ObjectID:   ent.ID(),
		Changes:    audit.Diff(before, ent.Snapshot()),
		Meta:       map[string]any{"value": value, "completed": completed},
	})
}

// CheckWeight verifies that giving a goal weight keeps the weight sum of
// its company and period within 100. It takes a per-period lock held until
// tx ends, so concurrent writers are checked one at a time.
func CheckWeight(ctx context.Context, tx *store.Tx, companyID string, period model.GoalPeriod, excludeID string, weight float64) error {
	if weight < 0 || weight > 100 {
		return model.Invalid("weight", "must be between 0 and 100, got %v", weight)
	}
	if err := tx.LockKey(ctx, "goal_weight:"+companyID+":"+string(period)); err != nil {
		return err
	}
	sum, err := tx.SumGoalWeights(ctx, companyID, period, excludeID)
	if err != nil {
		return err
	}
	if total := round2(sum + weight); total > 100 {
		return model.Invalid("weight", "%s goals would weigh %v in total, over 100", period, total)
	}
	return nil
}
