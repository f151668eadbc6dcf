// Package lifecycle applies adjudicated status transitions to plans and
// goals inside a store transaction.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"planengine/internal/adjudicator"
	"planengine/internal/model"
	"planengine/internal/notify"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// Entity is a locked plan or goal.
type Entity struct {
	Kind model.Kind
	Plan *model.Plan
	Goal *model.Goal
}

// Lock reads the entity for update.
func Lock(ctx context.Context, tx *store.Tx, kind model.Kind, id string) (*Entity, error) {
	switch kind {
	case model.KindPlan:
		p, err := tx.LockPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Entity{Kind: kind, Plan: p}, nil
	case model.KindGoal:
		g, err := tx.LockGoal(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Entity{Kind: kind, Goal: g}, nil
	}
	return nil, model.Invalid("entity_type", "unknown entity type %q", kind)
}

// Save writes the entity back.
func (e *Entity) Save(ctx context.Context, tx *store.Tx) error {
	if e.Plan != nil {
		return tx.UpdatePlan(ctx, e.Plan)
	}
	return tx.UpdateGoal(ctx, e.Goal)
}

func (e *Entity) ID() string {
	if e.Plan != nil {
		return e.Plan.ID
	}
	return e.Goal.ID
}

func (e *Entity) Status() model.Status {
	if e.Plan != nil {
		return e.Plan.Status
	}
	return e.Goal.Status
}

func (e *Entity) Level() model.Level {
	if e.Plan != nil {
		return e.Plan.Level
	}
	return e.Goal.Level
}

func (e *Entity) CompanyID() string {
	if e.Plan != nil {
		return e.Plan.CompanyID
	}
	return e.Goal.CompanyID
}

func (e *Entity) Owner() string {
	if e.Plan != nil {
		return e.Plan.Owner
	}
	return e.Goal.Owner
}

func (e *Entity) CreatedBy() string {
	if e.Plan != nil {
		return e.Plan.CreatedBy
	}
	return e.Goal.CreatedBy
}

// Progress is the plan progress or goal completion rate.
func (e *Entity) Progress() float64 {
	if e.Plan != nil {
		return e.Plan.Progress
	}
	return e.Goal.CompletionRate
}

// Visible reports whether pred lets the principal read the entity.
func (e *Entity) Visible(pred scope.Predicate) bool {
	if e.Plan != nil {
		p := e.Plan
		users := append([]string{p.ResponsiblePerson, p.Owner, p.CreatedBy}, p.Participants...)
		return pred.Visible(p.CompanyID, p.DepartmentID, users...)
	}
	g := e.Goal
	return pred.Visible(g.CompanyID, g.DepartmentID, g.ResponsiblePerson, g.Owner, g.CreatedBy)
}

// Editable lets the people attached to the entity, or holders of the
// change permission, write to it.
func (e *Entity) Editable(p scope.Principal) error {
	change := scope.PermChangePlan
	if e.Kind == model.KindGoal {
		change = scope.PermChangeGoal
	}
	if p.Has(change) {
		return nil
	}
	var users []string
	if e.Plan != nil {
		users = []string{e.Plan.ResponsiblePerson, e.Plan.Owner, e.Plan.CreatedBy}
	} else {
		users = []string{e.Goal.ResponsiblePerson, e.Goal.Owner, e.Goal.CreatedBy}
	}
	for _, u := range users {
		if u != "" && u == p.UserID {
			return nil
		}
	}
	return fmt.Errorf("edit %s %s: %w", e.Kind, e.ID(), model.ErrPermissionDenied)
}

// Object describes the entity for notifications.
func (e *Entity) Object() notify.Object {
	if e.Plan != nil {
		return notify.PlanObject(*e.Plan)
	}
	return notify.GoalObject(*e.Goal)
}

// Readiness reports which start preconditions the entity satisfies.
func (e *Entity) Readiness() adjudicator.Readiness {
	if e.Plan != nil {
		p := e.Plan
		return adjudicator.Readiness{
			HasResponsiblePerson: p.ResponsiblePerson != "",
			HasStartTime:         p.StartTime != nil,
			HasName:              p.Name != "",
			HasOwner:             p.Owner != "",
		}
	}
	g := e.Goal
	return adjudicator.Readiness{
		HasResponsiblePerson: g.ResponsiblePerson != "",
		HasStartTime:         g.StartDate != nil,
		HasName:              g.Name != "",
		HasOwner:             g.Owner != "",
	}
}

// Input builds the adjudicator input for ev against the entity.
func (e *Entity) Input(ev adjudicator.Event, facts adjudicator.Facts, pre adjudicator.Preconditions) adjudicator.Input {
	return adjudicator.Input{
		Kind:          e.Kind,
		Level:         e.Level(),
		Current:       e.Status(),
		Event:         ev,
		Facts:         facts,
		Readiness:     e.Readiness(),
		Preconditions: pre,
	}
}

// Snapshot is the audited view of the entity.
func (e *Entity) Snapshot() map[string]any {
	if e.Plan != nil {
		p := e.Plan
		return map[string]any{
			"status":   string(p.Status),
			"progress": p.Progress,
			"end_time": timeString(p.EndTime),
		}
	}
	g := e.Goal
	return map[string]any{
		"status":          string(g.Status),
		"current_value":   g.Indicator.CurrentValue,
		"target_value":    g.Indicator.TargetValue,
		"completion_rate": g.CompletionRate,
		"end_date":        timeString(g.EndDate),
	}
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (e *Entity) setStatus(s model.Status, at time.Time) {
	stamp := at
	if e.Plan != nil {
		p := e.Plan
		p.Status, p.UpdatedAt = s, at
		switch s {
		case model.StatusPublished:
			p.PublishedAt = &stamp
		case model.StatusAccepted:
			p.AcceptedAt = &stamp
		case model.StatusCompleted:
			p.CompletedAt = &stamp
		}
		return
	}
	g := e.Goal
	g.Status, g.UpdatedAt = s, at
	switch s {
	case model.StatusPublished:
		g.PublishedAt = &stamp
	case model.StatusAccepted:
		g.AcceptedAt = &stamp
	case model.StatusCompleted:
		g.CompletedAt = &stamp
	}
}

// Apply persists an adjudication result. A change writes the entity and a
// status log; a blocked result writes only the status log. It reports
// whether the status changed.
func Apply(ctx context.Context, tx *store.Tx, e *Entity, res adjudicator.Result, actor string, at time.Time) (bool, error) {
	if !res.Changed && !res.Blocked {
		return false, nil
	}
	old := e.Status()
	if res.Changed {
		e.setStatus(res.Next, at)
		if err := e.Save(ctx, tx); err != nil {
			return false, err
		}
	}
	err := tx.InsertStatusLog(ctx, &model.StatusLog{
		EntityType: e.Kind,
		EntityID:   e.ID(),
		OldStatus:  old,
		NewStatus:  res.Next,
		ChangedBy:  actor,
		ChangedAt:  at,
		Reason:     res.Reason,
	})
	if err != nil {
		return false, fmt.Errorf("log %s %s status: %w", e.Kind, e.ID(), err)
	}
	return res.Changed, nil
}

// Repair moves an entity whose stored status is outside the lattice back
// to draft and logs it. It reports whether a repair was written.
func Repair(ctx context.Context, tx *store.Tx, e *Entity, actor string, at time.Time) (bool, error) {
	if e.Status().Known() {
		return false, nil
	}
	res := adjudicator.Adjudicate(e.Input(adjudicator.Event{}, adjudicator.Facts{}, adjudicator.Preconditions{}))
	return Apply(ctx, tx, e, res, actor, at)
}

// Complete evaluates the system completion facts and applies the result.
// It reports whether the entity moved to completed.
func Complete(ctx context.Context, tx *store.Tx, e *Entity, actor string, at time.Time) (bool, error) {
	res := adjudicator.Adjudicate(e.Input(adjudicator.Event{}, adjudicator.Facts{
		AllTasksCompleted: e.Progress() >= 100,
		Progress:          e.Progress(),
	}, adjudicator.Preconditions{}))
	if res.Next != model.StatusCompleted {
		return false, nil
	}
	return Apply(ctx, tx, e, res, actor, at)
}
