package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"planengine/internal/audit"
	"planengine/internal/calendar"
	"planengine/internal/lifecycle"
	"planengine/internal/model"
	"planengine/internal/progress"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// GoalQuery filters ListGoals.
type GoalQuery struct {
	Statuses []model.Status
	Level    model.Level
	Period   model.GoalPeriod
	Range    string
	Mine     bool
	Overdue  bool
	Q        string
	Page     int
	PageSize int
}

// GoalInput is the writable shape of a new goal.
type GoalInput struct {
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	Level             model.Level      `json:"level"`
	GoalType          model.GoalType   `json:"goal_type"`
	GoalPeriod        model.GoalPeriod `json:"goal_period"`
	Indicator         model.Indicator  `json:"indicator"`
	Weight            float64          `json:"weight"`
	StartDate         *time.Time       `json:"start_date"`
	EndDate           *time.Time       `json:"end_date"`
	ParentGoal        string           `json:"parent_goal"`
	Owner             string           `json:"owner"`
	ResponsiblePerson string           `json:"responsible_person"`
	DepartmentID      string           `json:"department_id"`
}

// GoalPatch changes selected fields of a goal. Goal status only moves
// through requests, hand-offs and progress.
type GoalPatch struct {
	Name              *string           `json:"name"`
	Description       *string           `json:"description"`
	GoalType          *model.GoalType   `json:"goal_type"`
	GoalPeriod        *model.GoalPeriod `json:"goal_period"`
	IndicatorName     *string           `json:"indicator_name"`
	IndicatorUnit     *string           `json:"indicator_unit"`
	TargetValue       *float64          `json:"target_value"`
	Weight            *float64          `json:"weight"`
	StartDate         *time.Time        `json:"start_date"`
	EndDate           *time.Time        `json:"end_date"`
	ParentGoal        *string           `json:"parent_goal"`
	Owner             *string           `json:"owner"`
	ResponsiblePerson *string           `json:"responsible_person"`
	DepartmentID      *string           `json:"department_id"`
}

func (pt GoalPatch) apply(g *model.Goal) {
	set(&g.Name, pt.Name)
	set(&g.Description, pt.Description)
	set(&g.GoalType, pt.GoalType)
	set(&g.GoalPeriod, pt.GoalPeriod)
	set(&g.Indicator.Name, pt.IndicatorName)
	set(&g.Indicator.Unit, pt.IndicatorUnit)
	set(&g.Indicator.TargetValue, pt.TargetValue)
	set(&g.Weight, pt.Weight)
	set(&g.ParentGoal, pt.ParentGoal)
	set(&g.Owner, pt.Owner)
	set(&g.ResponsiblePerson, pt.ResponsiblePerson)
	set(&g.DepartmentID, pt.DepartmentID)
	if pt.StartDate != nil {
		g.StartDate = utc(pt.StartDate)
	}
	if pt.EndDate != nil {
		g.EndDate = utc(pt.EndDate)
	}
}

// ListGoals pages the goals visible to the principal, newest first.
func (s *Service) ListGoals(ctx context.Context, p scope.Principal, q GoalQuery) (*model.Page[model.Goal], error) {
	win, err := s.window(q.Range)
	if err != nil {
		return nil, err
	}
	page, size, limit, offset := paging(q.Page, q.PageSize)
	f := store.GoalFilter{
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
	if q.Overdue {
		cutoff := calendar.OverdueCutoff(s.now(), s.loc)
		f.OverdueAt = &cutoff
	}
	goals, total, err := s.store.ListGoals(ctx, p.Predicate(), f)
	if err != nil {
		return nil, err
	}
	return pageOf(goals, total, page, size), nil
}

// GetGoal returns a goal the principal can see.
func (s *Service) GetGoal(ctx context.Context, p scope.Principal, id string) (*model.Goal, error) {
	g, err := s.store.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}
	if !(&lifecycle.Entity{Kind: model.KindGoal, Goal: g}).Visible(p.Predicate()) {
		return nil, fmt.Errorf("goal %s: %w", id, model.ErrNotFound)
	}
	return g, nil
}

// GoalDescendants lists the visible goals below id.
func (s *Service) GoalDescendants(ctx context.Context, p scope.Principal, id string) ([]model.Goal, error) {
	if _, err := s.GetGoal(ctx, p, id); err != nil {
		return nil, err
	}
	all, err := s.store.GoalDescendants(ctx, id)
	if err != nil {
		return nil, err
	}
	pred := p.Predicate()
	out := []model.Goal{}
	for i := range all {
		if (&lifecycle.Entity{Kind: model.KindGoal, Goal: &all[i]}).Visible(pred) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// CreateGoal stores a new draft goal. The weight sum of its company and
// period is checked under the period lock.
func (s *Service) CreateGoal(ctx context.Context, p scope.Principal, in GoalInput, draft bool) (*model.Goal, error) {
	if in.Level == "" {
		in.Level = model.LevelPersonal
	}
	if err := authorizeCreate(p, model.KindGoal, in.Level); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	g := model.Goal{
		Name:              strings.TrimSpace(in.Name),
		Description:       in.Description,
		Level:             in.Level,
		GoalType:          in.GoalType,
		GoalPeriod:        in.GoalPeriod,
		Status:            model.StatusDraft,
		Indicator:         in.Indicator,
		Weight:            in.Weight,
		StartDate:         utc(in.StartDate),
		EndDate:           utc(in.EndDate),
		ParentGoal:        in.ParentGoal,
		Owner:             in.Owner,
		ResponsiblePerson: in.ResponsiblePerson,
		CompanyID:         p.CompanyID,
		DepartmentID:      in.DepartmentID,
		CreatedBy:         p.UserID,
		CreatedAt:         now,
	}
	if g.DepartmentID == "" {
		g.DepartmentID = p.DepartmentID
	}
	if g.Indicator.Kind == "" {
		g.Indicator.Kind = model.IndicatorNumber
	}
	g.CompletionRate = progress.CompletionRate(g.Indicator)

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := validateGoal(ctx, tx, &g, draft); err != nil {
			return err
		}
		if err := progress.CheckWeight(ctx, tx, g.CompanyID, g.GoalPeriod, "", g.Weight); err != nil {
			return err
		}
		return tx.CreateGoal(ctx, &g)
	})
	if err != nil {
		return nil, err
	}

	if s.todos != nil {
		s.todos.GoalCreated(ctx, g, s.now())
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionCreate,
		ObjectType: string(model.KindGoal),
		ObjectID:   g.ID,
		Changes:    audit.Diff(nil, goalFields(g)),
		Meta:       map[string]any{"number": g.Number, "draft": draft},
	})
	s.log.Info("goal created", "goal_id", g.ID, "number", g.Number, "by", p.UserID)
	return &g, nil
}

// UpdateGoal applies a patch to a non-terminal goal. A target change that
// brings a running goal to 100% completes it.
func (s *Service) UpdateGoal(ctx context.Context, p scope.Principal, id string, patch GoalPatch) (*model.Goal, error) {
	var (
		out           model.Goal
		before, after map[string]any
		completed     bool
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		e, err := lifecycle.Lock(ctx, tx, model.KindGoal, id)
		if err != nil {
			return err
		}
		if !e.Visible(p.Predicate()) {
			return fmt.Errorf("goal %s: %w", id, model.ErrNotFound)
		}
		if err := e.Editable(p); err != nil {
			return err
		}
		if e.Status().Terminal() {
			return fmt.Errorf("update goal %s in status %s: %w", id, e.Status(), model.ErrInvalidStatus)
		}
		before = goalFields(*e.Goal)
		patch.apply(e.Goal)
		now := s.now().UTC()
		e.Goal.UpdatedAt = now
		e.Goal.CompletionRate = progress.CompletionRate(e.Goal.Indicator)
		if err := validateGoal(ctx, tx, e.Goal, e.Goal.Status == model.StatusDraft); err != nil {
			return err
		}
		if err := progress.CheckWeight(ctx, tx, e.Goal.CompanyID, e.Goal.GoalPeriod, id, e.Goal.Weight); err != nil {
			return err
		}
		if err := e.Save(ctx, tx); err != nil {
			return err
		}
		if completed, err = lifecycle.Complete(ctx, tx, e, p.UserID, now); err != nil {
			return err
		}
		out = *e.Goal
		after = goalFields(out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completed && s.todos != nil {
		s.todos.Closed(ctx, model.KindGoal, id, model.StatusCompleted, s.now())
	}
	s.audit.Record(ctx, audit.Entry{
		Actor:      p.UserID,
		Action:     audit.ActionUpdate,
		ObjectType: string(model.KindGoal),
		ObjectID:   id,
		Changes:    audit.Diff(before, after),
		Meta:       map[string]any{"completed": completed},
	})
	return &out, nil
}

func validateGoal(ctx context.Context, tx *store.Tx, g *model.Goal, draft bool) error {
	var errs model.ValidationErrors
	if g.Name == "" {
		errs.Add("name", "is required")
	}
	if !g.Level.Valid() {
		errs.Add("level", "unknown level %q", g.Level)
	}
	if !g.GoalPeriod.Valid() {
		errs.Add("goal_period", "unknown goal period %q", g.GoalPeriod)
	}
	if g.GoalType != "" && !g.GoalType.Valid() {
		errs.Add("goal_type", "unknown goal type %q", g.GoalType)
	}
	ind := g.Indicator
	if !ind.Kind.Valid() {
		errs.Add("indicator.kind", "unknown indicator kind %q", ind.Kind)
	}
	if ind.TargetValue < 0 {
		errs.Add("indicator.target_value", "must not be negative")
	}
	if ind.Kind == model.IndicatorPercentage && ind.TargetValue > 100 {
		errs.Add("indicator.target_value", "percentage targets must not exceed 100")
	}
	if !draft {
		if g.GoalType == "" {
			errs.Add("goal_type", "is required")
		}
		if ind.Name == "" {
			errs.Add("indicator.name", "is required")
		}
		if ind.TargetValue <= 0 {
			errs.Add("indicator.target_value", "must be positive")
		}
		if g.ResponsiblePerson == "" {
			errs.Add("responsible_person", "is required")
		}
		if g.StartDate == nil {
			errs.Add("start_date", "is required")
		}
		if g.EndDate == nil {
			errs.Add("end_date", "is required")
		}
	}
	if g.StartDate != nil && g.EndDate != nil && g.EndDate.Before(*g.StartDate) {
		errs.Add("end_date", "must not be before start_date")
	}
	if g.ParentGoal != "" {
		if err := checkParentGoal(ctx, tx, g, &errs); err != nil {
			return err
		}
	}
	return errs.Err()
}

func checkParentGoal(ctx context.Context, tx *store.Tx, g *model.Goal, errs *model.ValidationErrors) error {
	if g.ParentGoal == g.ID {
		errs.Add("parent_goal", "cannot be the goal itself")
		return nil
	}
	parent, err := tx.GetGoal(ctx, g.ParentGoal)
	if errors.Is(err, model.ErrNotFound) {
		errs.Add("parent_goal", "goal %s does not exist", g.ParentGoal)
		return nil
	}
	if err != nil {
		return err
	}
	if parent.CompanyID != g.CompanyID {
		errs.Add("parent_goal", "goal %s belongs to another company", g.ParentGoal)
	}
	if g.ID == "" {
		return nil
	}
	below, err := tx.GoalDescendants(ctx, g.ID)
	if err != nil {
		return err
	}
	for _, d := range below {
		if d.ID == g.ParentGoal {
			errs.Add("parent_goal", "goal %s is below this goal", g.ParentGoal)
			break
		}
	}
	return nil
}

func goalFields(g model.Goal) map[string]any {
	return map[string]any{
		"name":               g.Name,
		"description":        g.Description,
		"level":              string(g.Level),
		"goal_type":          string(g.GoalType),
		"goal_period":        string(g.GoalPeriod),
		"status":             string(g.Status),
		"indicator_name":     g.Indicator.Name,
		"indicator_unit":     g.Indicator.Unit,
		"target_value":       g.Indicator.TargetValue,
		"completion_rate":    g.CompletionRate,
		"weight":             g.Weight,
		"start_date":         stamp(g.StartDate),
		"end_date":           stamp(g.EndDate),
		"parent_goal":        g.ParentGoal,
		"owner":              g.Owner,
		"responsible_person": g.ResponsiblePerson,
		"department_id":      g.DepartmentID,
	}
}
