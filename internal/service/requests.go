package service

import (
	"context"
	"fmt"

	"planengine/internal/model"
	"planengine/internal/progress"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// DecisionResult is the entity status after a decision, with the resolved
// request.
type DecisionResult struct {
	Status        model.Status          `json:"status"`
	Decision      model.DecisionRequest `json:"decision"`
	AutoCompleted bool                  `json:"auto_completed,omitempty"`
}

// RequestPlanStart asks for approval to start a plan.
func (s *Service) RequestPlanStart(ctx context.Context, p scope.Principal, id, reason string) (*model.DecisionRequest, error) {
	return s.decisions.RequestStart(ctx, model.KindPlan, id, p, reason)
}

// RequestPlanCancel asks for approval to cancel a plan.
func (s *Service) RequestPlanCancel(ctx context.Context, p scope.Principal, id, reason string) (*model.DecisionRequest, error) {
	return s.decisions.RequestCancel(ctx, model.KindPlan, id, p, reason)
}

// DecidePlanRequest approves or rejects a pending plan request.
func (s *Service) DecidePlanRequest(ctx context.Context, p scope.Principal, requestID string, approve bool, reason string) (*DecisionResult, error) {
	return s.decide(ctx, model.KindPlan, p, requestID, approve, reason)
}

// RequestGoalStart asks for approval to start a goal.
func (s *Service) RequestGoalStart(ctx context.Context, p scope.Principal, id, reason string) (*model.DecisionRequest, error) {
	return s.decisions.RequestStart(ctx, model.KindGoal, id, p, reason)
}

// RequestGoalCancel asks for approval to cancel a goal.
func (s *Service) RequestGoalCancel(ctx context.Context, p scope.Principal, id, reason string) (*model.DecisionRequest, error) {
	return s.decisions.RequestCancel(ctx, model.KindGoal, id, p, reason)
}

// DecideGoalRequest approves or rejects a pending goal request.
func (s *Service) DecideGoalRequest(ctx context.Context, p scope.Principal, requestID string, approve bool, reason string) (*DecisionResult, error) {
	return s.decide(ctx, model.KindGoal, p, requestID, approve, reason)
}

func (s *Service) decide(ctx context.Context, kind model.Kind, p scope.Principal, requestID string, approve bool, reason string) (*DecisionResult, error) {
	req, err := s.store.GetDecision(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.EntityType != kind {
		return nil, fmt.Errorf("%s request %s: %w", kind, requestID, model.ErrNotFound)
	}
	out, err := s.decisions.Decide(ctx, requestID, p, approve, reason)
	if err != nil {
		return nil, err
	}
	return &DecisionResult{Status: out.Status, Decision: out.Request, AutoCompleted: out.AutoCompleted}, nil
}

// DecisionQuery filters ListPendingDecisions. A nil Pending selects open
// requests; false selects decided ones.
type DecisionQuery struct {
	Pending    *bool
	EntityType model.Kind
	Page       int
	PageSize   int
}

// ListPendingDecisions pages decision requests the principal may decide,
// or their own requests when they decide nothing.
func (s *Service) ListPendingDecisions(ctx context.Context, p scope.Principal, q DecisionQuery) (*model.Page[model.DecisionRequest], error) {
	if q.EntityType != "" && !q.EntityType.Valid() {
		return nil, model.Invalid("entity_type", "unknown entity type %q", q.EntityType)
	}
	page, size, limit, offset := paging(q.Page, q.PageSize)
	items, total, err := s.decisions.Pending(ctx, p, store.DecisionFilter{
		Pending:    q.Pending,
		EntityType: q.EntityType,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}
	return pageOf(items, total, page, size), nil
}

// PublishPlan hands a draft personal plan to its owner.
func (s *Service) PublishPlan(ctx context.Context, p scope.Principal, id string) (model.Status, error) {
	return s.decisions.Publish(ctx, model.KindPlan, id, p)
}

// AcceptPlan records the owner taking a published plan.
func (s *Service) AcceptPlan(ctx context.Context, p scope.Principal, id string) (model.Status, error) {
	return s.decisions.Accept(ctx, model.KindPlan, id, p)
}

// PublishGoal hands a draft goal to its owner.
func (s *Service) PublishGoal(ctx context.Context, p scope.Principal, id string) (model.Status, error) {
	return s.decisions.Publish(ctx, model.KindGoal, id, p)
}

// AcceptGoal records the owner taking a published goal.
func (s *Service) AcceptGoal(ctx context.Context, p scope.Principal, id string) (model.Status, error) {
	return s.decisions.Accept(ctx, model.KindGoal, id, p)
}

// UpdatePlanProgress records progress on a running plan.
func (s *Service) UpdatePlanProgress(ctx context.Context, p scope.Principal, id string, value float64, description string) (*progress.PlanProgress, error) {
	return s.progress.UpdatePlanProgress(ctx, id, p, value, description)
}

// UpdateGoalProgress records the current indicator value of a running goal.
func (s *Service) UpdateGoalProgress(ctx context.Context, p scope.Principal, id string, current float64, description string) (*progress.GoalProgress, error) {
	return s.progress.UpdateGoalProgress(ctx, id, p, current, description)
}

// RequestAdjustment proposes a new deadline or target for an entity.
func (s *Service) RequestAdjustment(ctx context.Context, p scope.Principal, kind model.Kind, id string, in progress.AdjustmentInput) (*model.AdjustmentRequest, error) {
	return s.progress.RequestAdjustment(ctx, kind, id, p, in)
}

// DecideAdjustment approves or rejects a pending adjustment.
func (s *Service) DecideAdjustment(ctx context.Context, p scope.Principal, id string, approve bool, comment string) (*model.AdjustmentRequest, error) {
	return s.progress.DecideAdjustment(ctx, id, p, approve, comment)
}

// ProgressHistory lists the progress records of a visible entity.
func (s *Service) ProgressHistory(ctx context.Context, p scope.Principal, kind model.Kind, id string) ([]model.ProgressRecord, error) {
	if err := s.visible(ctx, p, kind, id); err != nil {
		return nil, err
	}
	return s.store.ProgressRecords(ctx, kind, id, nil)
}

// StatusHistory lists the status log of a visible entity.
func (s *Service) StatusHistory(ctx context.Context, p scope.Principal, kind model.Kind, id string) ([]model.StatusLog, error) {
	if err := s.visible(ctx, p, kind, id); err != nil {
		return nil, err
	}
	return s.store.StatusLogs(ctx, kind, id)
}

func (s *Service) visible(ctx context.Context, p scope.Principal, kind model.Kind, id string) error {
	switch kind {
	case model.KindPlan:
		_, err := s.GetPlan(ctx, p, id)
		return err
	case model.KindGoal:
		_, err := s.GetGoal(ctx, p, id)
		return err
	}
	return model.Invalid("entity_type", "unknown entity type %q", kind)
}
