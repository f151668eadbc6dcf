package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"planengine/internal/audit"
	"planengine/internal/calendar"
	"planengine/internal/lifecycle"
	"planengine/internal/model"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// PlanQuery filters ListPlans.
type PlanQuery struct {
	Statuses []model.Status
	Level    model.Level
	Period   model.PlanPeriod
	// Range is "", "week" or "month" and keeps plans overlapping it.
	Range         string
	Mine          bool
	Participating bool
	Overdue       bool
	Q             string
	Page          int
	PageSize      int
}

// PlanInput is the writable shape of a new plan.
type PlanInput struct {
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	Level             model.Level      `json:"level"`
	Period            model.PlanPeriod `json:"period"`
	ResponsiblePerson string           `json:"responsible_person"`
	Owner             string           `json:"owner"`
	Participants      []string         `json:"participants"`
	CollaborationPlan string           `json:"collaboration_plan"`
	ParentPlan        string           `json:"parent_plan"`
	RelatedGoal       string           `json:"related_goal"`
	StartTime         *time.Time       `json:"start_time"`
	EndTime           *time.Time       `json:"end_time"`
	DepartmentID      string           `json:"department_id"`
}

// PlanPatch changes selected fields of a plan. Status is only present so
// that a patch carrying it can be refused.
type PlanPatch struct {
	Name              *string           `json:"name"`
	Description       *string           `json:"description"`
	Period            *model.PlanPeriod `json:"period"`
	ResponsiblePerson *string           `json:"responsible_person"`
	Owner             *string           `json:"owner"`
	Participants      *[]string         `json:"participants"`
	CollaborationPlan *string           `json:"collaboration_plan"`
	ParentPlan        *string           `json:"parent_plan"`
	RelatedGoal       *string           `json:"related_goal"`
	StartTime         *time.Time        `json:"start_time"`
	EndTime           *time.Time        `json:"end_time"`
	DepartmentID      *string           `json:"department_id"`
	Status            *model.Status     `json:"status"`
}

func (pt PlanPatch) apply(p *model.Plan) {
	set(&p.Name, pt.Name)
	set(&p.Description, pt.Description)
	set(&p.Period, pt.Period)
	set(&p.ResponsiblePerson, pt.ResponsiblePerson)
	set(&p.Owner, pt.Owner)
	set(&p.CollaborationPlan, pt.CollaborationPlan)
	set(&p.ParentPlan, pt.ParentPlan)
	set(&p.RelatedGoal, pt.RelatedGoal)
	set(&p.DepartmentID, pt.DepartmentID)
	if pt.Participants != nil {
		p.Participants = uniq(*pt.Participants)
	}
	if pt.StartTime != nil {
		p.StartTime = utc(pt.StartTime)
	}
	if pt.EndTime != nil {
		p.EndTime = utc(pt.EndTime)
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func uniq(in []string) []string {
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// ListPlans pages the plans visible to the principal, newest first.
func (s *Service) ListPlans(ctx context.Context, p scope.Principal, q PlanQuery) (*model.Page[model.Plan], error) {
	win, err := s.window(q.Range)
	if err != nil {
		return nil, err
	}
	page, size, limit, offset := paging(q.Page, q.PageSize)
	f := store.PlanFilter{
		Statuses: q.Statuses,
		Level:    q.Level,
		Period:   q.Period,
		Overlaps: win,
		Query:    strings.TrimSpace(q.Q),
		Limit:    limit,
		Offset:   offset,
	}
	if q.Mine {
		f.Mine = p.UserID
	}
	if q.Participating {
		f.Participating = p.UserID
	}
	if q.Overdue {
		cutoff := calendar.OverdueCutoff(s.now(), s.loc)
		f.OverdueAt = &cutoff
	}
	plans, total, err := s.store.ListPlans(ctx, p.Predicate(), f)
	if err != nil {
		return nil, err
	}
	return pageOf(plans, total, page, size), nil
}

// GetPlan returns a plan the principal can see. Invisible plans are
// reported as not found.
func (s *Service) GetPlan(ctx context.Context, p scope.Principal, id string) (*model.Plan, error) {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !(&lifecycle.Entity{Kind: model.KindPlan, Plan: plan}).Visible(p.Predicate()) {
		return nil, fmt.Errorf("plan %s: %w", id, model.ErrNotFound)
	}
	return plan, nil
}

// PlanDescendants lists the visible plans below id.
func (s *Service) PlanDescendants(ctx context.Context, p scope.Principal, id string) ([]model.Plan, error) {
	if _, err := s.GetPlan(ctx, p, id); err != nil {
		return nil, err
	}
	all, err := s.store.PlanDescendants(ctx, id)
	if err != nil {
		return nil, err
	}
	pred := p.Predicate()
	out := []model.Plan{}
	for i := range all {
		if (&lifecycle.Entity{Kind: model.KindPlan, Plan: &all[i]}).Visible(pred) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// authorizeCreate requires the add or change permission, and approval
// rights for company-level items.
func authorizeCreate(p scope.Principal, kind model.Kind, level model.Level) error {
	add, change := scope.PermAddPlan, scope.PermChangePlan
	if kind == model.KindGoal {
		add, change = scope.PermAddGoal, scope.PermChangeGoal
	}
	if !p.Has(add) && !p.Has(change) {
		return fmt.Errorf("create %s: %w", kind, model.ErrPermissionDenied)
	}
	if level == model.LevelCompany && !p.CanDecide(kind) {
		return fmt.Errorf("create company %s: %w", kind, model.ErrPermissionDenied)
	}
	if p.CompanyID == "" {
		return model.Invalid("company_id", "no company resolved for user %s", p.UserID)
	}
	return nil
}

// CreatePlan stores a new draft plan. In draft mode only the name is
// required; otherwise the plan must be complete enough to be started.
func (s *Service) CreatePlan(ctx context.Context, p scope.Principal, in PlanInput, draft bool) (*model.Plan, error) {
	if in.Level == "" {
		in.Level = model.LevelPersonal
	}
	if err := authorizeCreate(p, model.KindPlan, in.Level); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	plan := model.Plan{
		Name:              strings.TrimSpace(in.Name),
		Description:       in.Description,
		Level:             in.Level,
		Period:            in.Period,
		Status:            model.StatusDraft,
		ResponsiblePerson: in.ResponsiblePerson,
		Owner:             in.Owner,
		Participants:      uniq(in.Participants),
		CollaborationPlan: in.CollaborationPlan,
		ParentPlan:        in.ParentPlan,
		RelatedGoal:       in.RelatedGoal,
		StartTime:         utc(in.StartTime),
		EndTime:           utc(in.EndTime),
		CompanyID:         p.CompanyID,
		DepartmentID:      in.DepartmentID,
		CreatedBy:         p.UserID,
		CreatedAt:         now,
	}
	if plan.DepartmentID == "" {
		plan.DepartmentID = p.DepartmentID
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := validatePlan(ctx, tx, &plan, draft); err != nil {
			return err
		}
		return tx.CreatePlan(ctx, &plan)
	})
	if err != nil {
		return nil, err
	}

	if s.todos != nil {
		s.todos.PlanCreated(ctx, plan, s.now())
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionCreate,
		ObjectType: string(model.KindPlan),
		ObjectID:   plan.ID,
		Changes:    audit.Diff(nil, planFields(plan)),
		Meta:       map[string]any{"number": plan.Number, "draft": draft},
	})
	s.log.Info("plan created", "plan_id", plan.ID, "number", plan.Number, "by", p.UserID)
	return &plan, nil
}

// UpdatePlan applies a patch to a non-terminal plan. Status changes are
// refused: they go through start and cancel requests.
func (s *Service) UpdatePlan(ctx context.Context, p scope.Principal, id string, patch PlanPatch) (*model.Plan, error) {
	if patch.Status != nil {
		return nil, model.Invalid("status", "cannot be patched, request a start or cancel instead")
	}
	var (
		out           model.Plan
		before, after map[string]any
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		e, err := lifecycle.Lock(ctx, tx, model.KindPlan, id)
		if err != nil {
			return err
		}
		if !e.Visible(p.Predicate()) {
			return fmt.Errorf("plan %s: %w", id, model.ErrNotFound)
		}
		if err := e.Editable(p); err != nil {
			return err
		}
		if e.Status().Terminal() {
			return fmt.Errorf("update plan %s in status %s: %w", id, e.Status(), model.ErrInvalidStatus)
		}
		before = planFields(*e.Plan)
		patch.apply(e.Plan)
		e.Plan.UpdatedAt = s.now().UTC()
		if err := validatePlan(ctx, tx, e.Plan, e.Plan.Status == model.StatusDraft); err != nil {
			return err
		}
		if err := e.Save(ctx, tx); err != nil {
			return err
		}
		if patch.Participants != nil {
			if err := tx.SetPlanParticipants(ctx, id, e.Plan.Participants); err != nil {
				return err
			}
		}
		out = *e.Plan
		after = planFields(out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionUpdate,
		ObjectType: string(model.KindPlan),
		ObjectID:   id,
		Changes:    audit.Diff(before, after),
	})
	return &out, nil
}

func validatePlan(ctx context.Context, tx *store.Tx, p *model.Plan, draft bool) error {
	var errs model.ValidationErrors
	if p.Name == "" {
		errs.Add("name", "is required")
	}
	if !p.Level.Valid() {
		errs.Add("level", "unknown level %q", p.Level)
	}
	if p.Period != "" && !p.Period.Valid() {
		errs.Add("period", "unknown period %q", p.Period)
	}
	if !draft {
		if p.Period == "" {
			errs.Add("period", "is required")
		}
		if p.ResponsiblePerson == "" {
			errs.Add("responsible_person", "is required")
		}
		if p.RelatedGoal == "" {
			errs.Add("related_goal", "is required")
		}
		if p.StartTime == nil {
			errs.Add("start_time", "is required")
		}
		if p.EndTime == nil {
			errs.Add("end_time", "is required")
		}
		if len(p.Participants) > 0 && p.CollaborationPlan == "" {
			errs.Add("collaboration_plan", "is required when there are participants")
		}
	}
	if p.StartTime != nil && p.EndTime != nil && p.EndTime.Before(*p.StartTime) {
		errs.Add("end_time", "must not be before start_time")
	}

	if p.RelatedGoal != "" {
		g, err := tx.GetGoal(ctx, p.RelatedGoal)
		switch {
		case errors.Is(err, model.ErrNotFound):
			errs.Add("related_goal", "goal %s does not exist", p.RelatedGoal)
		case err != nil:
			return err
		case g.CompanyID != p.CompanyID:
			errs.Add("related_goal", "goal %s belongs to another company", p.RelatedGoal)
		case g.Status != model.StatusPublished && g.Status != model.StatusInProgress:
			errs.Add("related_goal", "goal %s is %s, want published or in_progress", p.RelatedGoal, g.Status)
		}
	}
	if p.ParentPlan != "" {
		if err := checkParentPlan(ctx, tx, p, &errs); err != nil {
			return err
		}
	}
	return errs.Err()
}

func checkParentPlan(ctx context.Context, tx *store.Tx, p *model.Plan, errs *model.ValidationErrors) error {
	if p.ParentPlan == p.ID {
		errs.Add("parent_plan", "cannot be the plan itself")
		return nil
	}
	parent, err := tx.GetPlan(ctx, p.ParentPlan)
	if errors.Is(err, model.ErrNotFound) {
		errs.Add("parent_plan", "plan %s does not exist", p.ParentPlan)
		return nil
	}
	if err != nil {
		return err
	}
	if parent.CompanyID != p.CompanyID {
		errs.Add("parent_plan", "plan %s belongs to another company", p.ParentPlan)
	}
	if parent.Level != p.Level {
		errs.Add("parent_plan", "must have level %s, got %s", p.Level, parent.Level)
	}
	if p.ID == "" {
		return nil
	}
	below, err := tx.PlanDescendants(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, d := range below {
		if d.ID == p.ParentPlan {
			errs.Add("parent_plan", "plan %s is below this plan", p.ParentPlan)
			break
		}
	}
	return nil
}

// planFields is the audited view of a plan's editable fields.
func planFields(p model.Plan) map[string]any {
	return map[string]any{
		"name":               p.Name,
		"description":        p.Description,
		"level":              string(p.Level),
		"period":             string(p.Period),
		"status":             string(p.Status),
		"responsible_person": p.ResponsiblePerson,
		"owner":              p.Owner,
		"participants":       strings.Join(p.Participants, ","),
		"collaboration_plan": p.CollaborationPlan,
		"parent_plan":        p.ParentPlan,
		"related_goal":       p.RelatedGoal,
		"start_time":         stamp(p.StartTime),
		"end_time":           stamp(p.EndTime),
		"department_id":      p.DepartmentID,
	}
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
