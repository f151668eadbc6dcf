package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"planengine/internal/model"
	"planengine/internal/notify"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// Default timeout thresholds.
const (
	DefaultDraftTimeout    = 7 * 24 * time.Hour
	DefaultApprovalTimeout = 3 * 24 * time.Hour
)

// TimeoutStore is what the sweeper reads.
type TimeoutStore interface {
	ListPlans(ctx context.Context, pred scope.Predicate, f store.PlanFilter) ([]model.Plan, int, error)
	ListGoals(ctx context.Context, pred scope.Predicate, f store.GoalFilter) ([]model.Goal, int, error)
	ListDecisions(ctx context.Context, f store.DecisionFilter) ([]model.DecisionRequest, int, error)
	GetPlan(ctx context.Context, id string) (*model.Plan, error)
	GetGoal(ctx context.Context, id string) (*model.Goal, error)
}

// OverdueSweeper marks lapsed todos overdue.
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	DraftReminders    int `json:"draft_reminders"`
	ApprovalReminders int `json:"approval_reminders"`
	OverdueTodos      int `json:"overdue_todos"`
}

// Sweeper nudges owners of stale drafts and approvers of stale requests,
// then marks overdue todos. Reminders are deduplicated by the fabric.
type Sweeper struct {
	store         TimeoutStore
	fabric        *notify.Fabric
	todos         OverdueSweeper
	draftAfter    time.Duration
	approvalAfter time.Duration
	log           *slog.Logger
}

// NewSweeper wires a Sweeper. Zero thresholds take the defaults.
func NewSweeper(st TimeoutStore, fabric *notify.Fabric, todos OverdueSweeper, draftAfter, approvalAfter time.Duration, log *slog.Logger) *Sweeper {
	if draftAfter <= 0 {
		draftAfter = DefaultDraftTimeout
	}
	if approvalAfter <= 0 {
		approvalAfter = DefaultApprovalTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: st, fabric: fabric, todos: todos, draftAfter: draftAfter, approvalAfter: approvalAfter, log: log}
}

// Sweep runs every timeout check for one company.
func (s *Sweeper) Sweep(ctx context.Context, companyID string, now time.Time) (SweepResult, error) {
	var (
		res  SweepResult
		errs []error
	)
	pred := scope.Predicate{All: true, CompanyID: companyID}
	draftCutoff := now.Add(-s.draftAfter).UTC()
	drafts := []model.Status{model.StatusDraft}

	plans, _, err := s.store.ListPlans(ctx, pred, store.PlanFilter{Statuses: drafts, CreatedBefore: &draftCutoff})
	if err != nil {
		errs = append(errs, fmt.Errorf("list stale draft plans: %w", err))
	}
	for _, p := range plans {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.DraftReminders += s.fabric.DraftTimeout(ctx, notify.PlanObject(p), days(now.Sub(p.CreatedAt)))
	}
	goals, _, err := s.store.ListGoals(ctx, pred, store.GoalFilter{Statuses: drafts, CreatedBefore: &draftCutoff})
	if err != nil {
		errs = append(errs, fmt.Errorf("list stale draft goals: %w", err))
	}
	for _, g := range goals {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.DraftReminders += s.fabric.DraftTimeout(ctx, notify.GoalObject(g), days(now.Sub(g.CreatedAt)))
	}

	pending := true
	approvalCutoff := now.Add(-s.approvalAfter).UTC()
	requests, _, err := s.store.ListDecisions(ctx, store.DecisionFilter{
		Pending:         &pending,
		CompanyID:       companyID,
		RequestedBefore: &approvalCutoff,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("list stale requests: %w", err))
	}
	for _, req := range requests {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		obj, err := s.object(ctx, req.EntityType, req.EntityID)
		if err != nil {
			s.log.Warn("approval timeout target missing", "request_id", req.ID, "err", err)
			continue
		}
		res.ApprovalReminders += s.fabric.ApprovalTimeout(ctx, obj, req, days(now.Sub(req.RequestedAt)))
	}

	if s.todos != nil {
		n, err := s.todos.SweepOverdue(ctx, now)
		if err != nil {
			errs = append(errs, err)
		}
		res.OverdueTodos = n
	}
	s.log.Info("timeout sweep done", "company_id", companyID,
		"draft_reminders", res.DraftReminders, "approval_reminders", res.ApprovalReminders, "overdue_todos", res.OverdueTodos)
	return res, errors.Join(errs...)
}

func (s *Sweeper) object(ctx context.Context, kind model.Kind, id string) (notify.Object, error) {
	if kind == model.KindGoal {
		g, err := s.store.GetGoal(ctx, id)
		if err != nil {
			return notify.Object{}, err
		}
		return notify.GoalObject(*g), nil
	}
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return notify.Object{}, err
	}
	return notify.PlanObject(*p), nil
}

func days(d time.Duration) int {
	return int(d / (24 * time.Hour))
}
