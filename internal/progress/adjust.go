package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"planengine/internal/audit"
	"planengine/internal/lifecycle"
	"planengine/internal/model"
	"planengine/internal/notify"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// AdjustmentInput proposes a new deadline, a new target, or both.
type AdjustmentInput struct {
	Reason    string     `json:"reason"`
	Content   string     `json:"content"`
	NewEnd    *time.Time `json:"new_end,omitempty"`
	NewTarget *float64   `json:"new_target,omitempty"`
}

func (in AdjustmentInput) validate(kind model.Kind) error {
	var errs model.ValidationErrors
	if strings.TrimSpace(in.Reason) == "" {
		errs.Add("reason", "is required")
	}
	if in.NewEnd == nil && in.NewTarget == nil {
		errs.Add("new_end", "either new_end or new_target is required")
	}
	if in.NewTarget != nil {
		if kind != model.KindGoal {
			errs.Add("new_target", "only goals have a target")
		} else if *in.NewTarget <= 0 {
			errs.Add("new_target", "must be positive, got %v", *in.NewTarget)
		}
	}
	return errs.Err()
}

// RequestAdjustment files a pending adjustment. Only one may be pending
// per entity.
func (e *Engine) RequestAdjustment(ctx context.Context, kind model.Kind, id string, p scope.Principal, in AdjustmentInput) (*model.AdjustmentRequest, error) {
	if err := in.validate(kind); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "progress.RequestAdjustment", trace.WithAttributes(
		attribute.String("entity_type", string(kind)),
		attribute.String("entity_id", id),
	))
	defer span.End()

	var adj model.AdjustmentRequest
	var obj notify.Object
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		ent, err := lifecycle.Lock(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if !ent.Visible(p.Predicate()) {
			return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
		}
		if err := ent.Editable(p); err != nil {
			return err
		}
		if ent.Status().Terminal() {
			return fmt.Errorf("adjust %s %s in status %s: %w", kind, id, ent.Status(), model.ErrInvalidStatus)
		}
		if ent.Goal != nil && in.NewTarget != nil {
			if err := checkTarget(ent.Goal.Indicator, *in.NewTarget); err != nil {
				return err
			}
		}
		adj = model.AdjustmentRequest{
			EntityType:  kind,
			EntityID:    id,
			Reason:      strings.TrimSpace(in.Reason),
			Content:     in.Content,
			NewEnd:      in.NewEnd,
			NewTarget:   in.NewTarget,
			RequestedBy: p.UserID,
			CreatedAt:   e.now().UTC(),
		}
		obj = ent.Object()
		return tx.InsertAdjustment(ctx, &adj)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adjustment request failed")
		return nil, err
	}

	e.fabric.AdjustmentRequested(ctx, obj, p, adj.Reason)
	e.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionRequestAdjust,
		ObjectType: string(kind),
		ObjectID:   id,
		Meta:       map[string]any{"adjustment_id": adj.ID, "reason": adj.Reason},
	})
	return &adj, nil
}

// DecideAdjustment approves or rejects a pending adjustment. Approval
// applies the new deadline and target in the same transaction.
func (e *Engine) DecideAdjustment(ctx context.Context, adjustmentID string, p scope.Principal, approve bool, comment string) (*model.AdjustmentRequest, error) {
	ctx, span := tracer.Start(ctx, "progress.DecideAdjustment", trace.WithAttributes(
		attribute.String("adjustment_id", adjustmentID),
		attribute.Bool("approve", approve),
	))
	defer span.End()

	var (
		adj       *model.AdjustmentRequest
		ent       *lifecycle.Entity
		before    map[string]any
		completed bool
	)
	txCtx := context.WithoutCancel(ctx)
	err := e.store.WithTx(txCtx, func(tx *store.Tx) error {
		var err error
		adj, err = tx.LockAdjustment(txCtx, adjustmentID)
		if err != nil {
			return err
		}
		if adj.Status != model.AdjustmentPending {
			return fmt.Errorf("adjustment %s: %w", adjustmentID, model.ErrAlreadyDecided)
		}
		if !p.CanDecide(adj.EntityType) {
			return fmt.Errorf("decide %s adjustment: %w", adj.EntityType, model.ErrPermissionDenied)
		}
		ent, err = lifecycle.Lock(txCtx, tx, adj.EntityType, adj.EntityID)
		if err != nil {
			return err
		}
		if !p.Superuser && p.CompanyID != "" && ent.CompanyID() != "" && p.CompanyID != ent.CompanyID() {
			return fmt.Errorf("decide adjustment of another company: %w", model.ErrPermissionDenied)
		}
		before = ent.Snapshot()
		now := e.now().UTC()

		adj.Status = model.AdjustmentRejected
		if approve {
			adj.Status = model.AdjustmentApproved
			if err := applyAdjustment(ent, adj, now); err != nil {
				return err
			}
			if err := ent.Save(txCtx, tx); err != nil {
				return err
			}
			if completed, err = lifecycle.Complete(txCtx, tx, ent, p.UserID, now); err != nil {
				return err
			}
		}
		adj.Approver = p.UserID
		adj.ApprovedAt = &now
		adj.Comment = strings.TrimSpace(comment)
		return tx.ResolveAdjustment(txCtx, adj)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adjustment decision failed")
		return nil, err
	}

	obj := ent.Object()
	e.fabric.AdjustmentDecided(ctx, obj, *adj, p)
	if completed {
		e.fabric.Completed(ctx, obj)
		if e.todos != nil {
			e.todos.Closed(ctx, ent.Kind, ent.ID(), model.StatusCompleted, e.now())
		}
	}
	entry := audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionDecide,
		ObjectType: string(ent.Kind),
		ObjectID:   ent.ID(),
		Meta:       map[string]any{"adjustment_id": adj.ID, "decision": string(adj.Status)},
	}
	if approve {
		after := ent.Snapshot()
		entry.Action = audit.ActionApplyAdjustment
		entry.Changes = audit.Diff(before, after)
		if diff, err := audit.UnifiedDiff(string(ent.Kind)+" "+ent.ID(), before, after); err == nil {
			entry.Meta["diff"] = diff
		}
	}
	e.audit.Record(ctx, entry)
	return adj, nil
}

// applyAdjustment re-checks the request against the entity as it is now;
// the entity may have moved on since the request was filed.
func applyAdjustment(ent *lifecycle.Entity, adj *model.AdjustmentRequest, at time.Time) error {
	if ent.Status().Terminal() {
		return fmt.Errorf("adjust %s %s in status %s: %w", ent.Kind, ent.ID(), ent.Status(), model.ErrInvalidStatus)
	}
	if ent.Plan != nil {
		p := ent.Plan
		if adj.NewEnd != nil {
			if p.StartTime != nil && adj.NewEnd.Before(*p.StartTime) {
				return model.Invalid("new_end", "must not be before start_time")
			}
			end := *adj.NewEnd
			p.EndTime = &end
		}
		p.UpdatedAt = at
		return nil
	}
	g := ent.Goal
	if adj.NewEnd != nil {
		if g.StartDate != nil && adj.NewEnd.Before(*g.StartDate) {
			return model.Invalid("new_end", "must not be before start_date")
		}
		end := *adj.NewEnd
		g.EndDate = &end
	}
	if adj.NewTarget != nil {
		if err := checkTarget(g.Indicator, *adj.NewTarget); err != nil {
			return err
		}
		g.Indicator.TargetValue = *adj.NewTarget
		g.CompletionRate = CompletionRate(g.Indicator)
	}
	g.UpdatedAt = at
	return nil
}

func checkTarget(ind model.Indicator, target float64) error {
	if ind.Kind == model.IndicatorPercentage && target > 100 {
		return model.Invalid("new_target", "percentage targets must not exceed 100, got %v", target)
	}
	return nil
}
