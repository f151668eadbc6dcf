// Package decision runs start and cancel requests through approval, and
// the publish and accept hand-off of personal items.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"planengine/internal/adjudicator"
	"planengine/internal/audit"
	"planengine/internal/lifecycle"
	"planengine/internal/model"
	"planengine/internal/notify"
	"planengine/internal/scope"
	"planengine/internal/store"
	"planengine/internal/todo"
)

var tracer = otel.Tracer("planengine/decision")

// Service is the decision service.
type Service struct {
	store  *store.Store
	fabric *notify.Fabric
	todos  *todo.Synthesizer
	audit  *audit.Recorder
	log    *slog.Logger
	pre    adjudicator.Preconditions
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPreconditions sets which readiness facts gate a start approval.
func WithPreconditions(p adjudicator.Preconditions) Option {
	return func(s *Service) { s.pre = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New wires a Service. fabric, todos and recorder may be nil.
func New(st *store.Store, fabric *notify.Fabric, todos *todo.Synthesizer, recorder *audit.Recorder, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:  st,
		fabric: fabric,
		todos:  todos,
		audit:  recorder,
		log:    log,
		pre:    adjudicator.DefaultPreconditions(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is the result of a decision.
type Outcome struct {
	Request model.DecisionRequest `json:"request"`
	Status  model.Status          `json:"status"`
	// AutoCompleted is set when a refused cancel completed the entity.
	AutoCompleted bool `json:"auto_completed,omitempty"`
}

// RequestStart asks approvers to start the entity.
func (s *Service) RequestStart(ctx context.Context, kind model.Kind, id string, p scope.Principal, reason string) (*model.DecisionRequest, error) {
	return s.request(ctx, kind, id, model.RequestStart, p, reason)
}

// RequestCancel asks approvers to cancel the entity.
func (s *Service) RequestCancel(ctx context.Context, kind model.Kind, id string, p scope.Principal, reason string) (*model.DecisionRequest, error) {
	return s.request(ctx, kind, id, model.RequestCancel, p, reason)
}

func (s *Service) request(ctx context.Context, kind model.Kind, id string, rt model.RequestType, p scope.Principal, reason string) (*model.DecisionRequest, error) {
	ctx, span := tracer.Start(ctx, "decision.Request", trace.WithAttributes(
		attribute.String("entity_type", string(kind)),
		attribute.String("entity_id", id),
		attribute.String("request_type", string(rt)),
	))
	defer span.End()

	var req model.DecisionRequest
	var obj notify.Object
	var refused error
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		e, repaired, err := s.lock(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if !e.Visible(p.Predicate()) {
			return keepRepair(repaired, fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound), &refused)
		}
		if !adjudicator.CanRequest(e.Status(), rt) {
			err := fmt.Errorf("%s request on %s %s in status %s: %w", rt, kind, id, e.Status(), model.ErrInvalidStatus)
			return keepRepair(repaired, err, &refused)
		}
		req = model.DecisionRequest{
			EntityType:  kind,
			EntityID:    id,
			RequestType: rt,
			RequestedBy: p.UserID,
			RequestedAt: s.now().UTC(),
			Reason:      strings.TrimSpace(reason),
			CompanyID:   e.CompanyID(),
		}
		obj = e.Object()
		return tx.InsertDecision(ctx, &req)
	})
	if err == nil {
		err = refused
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}

	s.fabric.Submitted(ctx, obj, rt, p, req.Reason)
	s.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionSubmit,
		ObjectType: string(kind),
		ObjectID:   id,
		Meta:       map[string]any{"request_id": req.ID, "request_type": string(rt), "reason": req.Reason},
	})
	s.log.Info("decision requested", "entity_type", kind, "entity_id", id, "request_type", rt, "request_id", req.ID)
	return &req, nil
}

// Decide resolves a pending request. Approval is the only path that moves
// the entity; a rejection only records the decision.
func (s *Service) Decide(ctx context.Context, requestID string, p scope.Principal, approve bool, reason string) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "decision.Decide", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.Bool("approve", approve),
	))
	defer span.End()

	decision := model.DecisionReject
	if approve {
		decision = model.DecisionApprove
	}

	var (
		out     Outcome
		obj     notify.Object
		before  map[string]any
		after   map[string]any
		changed bool
	)
	var refused error
	// The transaction must not be torn down halfway by a client hang-up.
	txCtx := context.WithoutCancel(ctx)
	err := s.store.WithTx(txCtx, func(tx *store.Tx) error {
		req, err := tx.LockDecision(txCtx, requestID)
		if err != nil {
			return err
		}
		if !req.Pending() {
			return fmt.Errorf("request %s: %w", requestID, model.ErrAlreadyDecided)
		}
		if !p.CanDecide(req.EntityType) {
			return fmt.Errorf("decide %s request: %w", req.EntityType, model.ErrPermissionDenied)
		}
		if p.CompanyID != "" && req.CompanyID != "" && p.CompanyID != req.CompanyID && !p.Superuser {
			return fmt.Errorf("decide request of another company: %w", model.ErrPermissionDenied)
		}

		e, repaired, err := s.lock(txCtx, tx, req.EntityType, req.EntityID)
		if err != nil {
			return err
		}
		before = e.Snapshot()
		now := s.now().UTC()

		ev := adjudicator.Event{Type: adjudicator.EventType(req.RequestType), Decision: decision}
		facts := adjudicator.Facts{Progress: e.Progress()}
		res := adjudicator.Adjudicate(e.Input(ev, facts, s.pre))
		if approve && req.RequestType == model.RequestStart && res.Blocked {
			err := fmt.Errorf("start %s %s: %w: %s", req.EntityType, req.EntityID, model.ErrPreconditionsUnmet, strings.Join(res.Unmet, ", "))
			return keepRepair(repaired, err, &refused)
		}
		if changed, err = lifecycle.Apply(txCtx, tx, e, res, p.UserID, now); err != nil {
			return err
		}
		if res.Blocked && req.RequestType == model.RequestCancel {
			completed, err := lifecycle.Complete(txCtx, tx, e, p.UserID, now)
			if err != nil {
				return err
			}
			out.AutoCompleted = completed
			changed = changed || completed
		}

		req.Decision = decision
		req.DecidedBy = p.UserID
		req.DecidedAt = &now
		req.DecisionReason = strings.TrimSpace(reason)
		if err := tx.ResolveDecision(txCtx, req); err != nil {
			return err
		}
		out.Request = *req
		out.Status = e.Status()
		obj = e.Object()
		after = e.Snapshot()
		return nil
	})
	if err == nil {
		err = refused
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decide failed")
		if !errors.Is(err, model.ErrAlreadyDecided) {
			s.log.Info("decision refused", "request_id", requestID, "err", err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(out.Status)))

	s.fabric.Decided(ctx, obj, out.Request, p, out.Request.DecisionReason)
	if out.Status.Terminal() && changed {
		if out.Status == model.StatusCompleted {
			s.fabric.Completed(ctx, obj)
		}
		if s.todos != nil {
			s.todos.Closed(ctx, obj.Kind, obj.ID, out.Status, s.now())
		}
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionDecide,
		ObjectType: string(obj.Kind),
		ObjectID:   obj.ID,
		Changes:    audit.Diff(before, after),
		Meta: map[string]any{
			"request_id":     out.Request.ID,
			"request_type":   string(out.Request.RequestType),
			"decision":       string(decision),
			"auto_completed": out.AutoCompleted,
		},
	})
	return &out, nil
}

// Publish hands a draft to its owner. Publishing a company goal announces
// it to the whole company and asks the responsible person to decompose it.
func (s *Service) Publish(ctx context.Context, kind model.Kind, id string, p scope.Principal) (model.Status, error) {
	e, err := s.handoff(ctx, kind, id, p, adjudicator.EventPublish)
	if err != nil {
		return "", err
	}
	obj := e.Object()
	s.fabric.Published(ctx, obj)
	if e.Goal != nil && e.Goal.Level == model.LevelCompany && s.todos != nil {
		if _, err := s.todos.GoalDecomposition(ctx, *e.Goal, s.now()); err != nil {
			s.log.Warn("goal decomposition todo failed", "goal_id", id, "err", err)
		}
	}
	return e.Status(), nil
}

// Accept records the owner taking a published item.
func (s *Service) Accept(ctx context.Context, kind model.Kind, id string, p scope.Principal) (model.Status, error) {
	e, err := s.handoff(ctx, kind, id, p, adjudicator.EventAccept)
	if err != nil {
		return "", err
	}
	s.fabric.Accepted(ctx, e.Object(), p)
	return e.Status(), nil
}

func (s *Service) handoff(ctx context.Context, kind model.Kind, id string, p scope.Principal, event adjudicator.EventType) (*lifecycle.Entity, error) {
	ctx, span := tracer.Start(ctx, "decision."+string(event), trace.WithAttributes(
		attribute.String("entity_type", string(kind)),
		attribute.String("entity_id", id),
	))
	defer span.End()

	var e *lifecycle.Entity
	var before map[string]any
	var refused error
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var (
			repaired bool
			err      error
		)
		e, repaired, err = s.lock(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if !e.Visible(p.Predicate()) {
			return keepRepair(repaired, fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound), &refused)
		}
		if err := s.authorizeHandoff(e, p, event); err != nil {
			return keepRepair(repaired, err, &refused)
		}
		before = e.Snapshot()
		res := adjudicator.Adjudicate(e.Input(adjudicator.Event{Type: event, Decision: model.DecisionApprove}, adjudicator.Facts{}, s.pre))
		if res.Blocked {
			err := fmt.Errorf("%s %s %s: %w: %s", event, kind, id, model.ErrPreconditionsUnmet, strings.Join(res.Unmet, ", "))
			return keepRepair(repaired, err, &refused)
		}
		if !res.Changed {
			err := fmt.Errorf("%s %s %s in status %s: %w", event, kind, id, e.Status(), model.ErrInvalidStatus)
			return keepRepair(repaired, err, &refused)
		}
		_, err = lifecycle.Apply(ctx, tx, e, res, p.UserID, s.now().UTC())
		return err
	})
	if err == nil {
		err = refused
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(event)+" failed")
		return nil, err
	}

	action := audit.ActionPublish
	if event == adjudicator.EventAccept {
		action = audit.ActionAccept
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     action,
		ObjectType: string(kind),
		ObjectID:   id,
		Changes:    audit.Diff(before, e.Snapshot()),
	})
	return e, nil
}

// lock reads the entity for update and repairs a status outside the
// lattice before any rule looks at it.
func (s *Service) lock(ctx context.Context, tx *store.Tx, kind model.Kind, id string) (*lifecycle.Entity, bool, error) {
	e, err := lifecycle.Lock(ctx, tx, kind, id)
	if err != nil {
		return nil, false, err
	}
	repaired, err := lifecycle.Repair(ctx, tx, e, scope.System.UserID, s.now().UTC())
	if err != nil {
		return nil, false, err
	}
	if repaired {
		s.log.Warn("status repaired", "entity_type", kind, "entity_id", id, "status", e.Status())
	}
	return e, repaired, nil
}

// keepRepair commits a repair written earlier in the transaction while
// still failing the operation with err.
func keepRepair(repaired bool, err error, refused *error) error {
	if !repaired {
		return err
	}
	*refused = err
	return nil
}

// authorizeHandoff lets the creator or an editor publish, and only the
// owner accept.
func (s *Service) authorizeHandoff(e *lifecycle.Entity, p scope.Principal, event adjudicator.EventType) error {
	if event == adjudicator.EventAccept {
		if e.Owner() != p.UserID {
			return fmt.Errorf("accept %s owned by another user: %w", e.Kind, model.ErrPermissionDenied)
		}
		return nil
	}
	change := scope.PermChangePlan
	if e.Kind == model.KindGoal {
		change = scope.PermChangeGoal
	}
	if e.CreatedBy() != p.UserID && !p.Has(change) {
		return fmt.Errorf("publish %s: %w", e.Kind, model.ErrPermissionDenied)
	}
	return nil
}

// Pending lists decision requests the principal may see. An unset
// f.Pending selects open requests.
func (s *Service) Pending(ctx context.Context, p scope.Principal, f store.DecisionFilter) ([]model.DecisionRequest, int, error) {
	if f.Pending == nil {
		pending := true
		f.Pending = &pending
	}
	if !p.Superuser {
		f.CompanyID = p.CompanyID
	}
	if !p.CanDecide(model.KindPlan) && !p.CanDecide(model.KindGoal) {
		f.RequestedBy = p.UserID
	}
	return s.store.ListDecisions(ctx, f)
}
