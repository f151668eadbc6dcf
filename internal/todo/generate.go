package todo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planengine/internal/calendar"
	"planengine/internal/directory"
	"planengine/internal/model"
	"planengine/internal/scope"
	"planengine/internal/store"
)

const systemActor = "system"

// issue persists t once per unique key and notifies the assignee when a
// row was written.
func (s *Synthesizer) issue(ctx context.Context, t model.Todo) (bool, error) {
	t.AutoGenerated = true
	t.CreatedBy = systemActor
	t.Status = model.TodoPending
	created, err := s.store.InsertTodo(ctx, &t)
	if err != nil {
		return false, err
	}
	if created && s.notifier != nil {
		s.notifier.TodoCreated(ctx, t)
	}
	return created, nil
}

// issueAll writes todos one by one. A failed todo is logged and the rest
// still run; the failures come back joined.
func (s *Synthesizer) issueAll(ctx context.Context, job string, todos []model.Todo) (int, error) {
	created := 0
	var errs []error
	for _, t := range todos {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ok, err := s.issue(ctx, t)
		if err != nil {
			s.log.Warn("todo generation failed", "job", job, "assignee", t.Assignee, "related_id", t.RelatedID, "err", err)
			errs = append(errs, fmt.Errorf("%s for %s: %w", t.Type, t.Assignee, err))
			continue
		}
		if ok {
			created++
		}
	}
	s.log.Info("todos generated", "job", job, "candidates", len(todos), "created", created)
	return created, errors.Join(errs...)
}

// QuarterlyGoalCreation asks general managers to set the next quarter's
// company goals, due on the tenth day of that quarter at 09:00.
func (s *Synthesizer) QuarterlyGoalCreation(ctx context.Context, companyID string, now time.Time) (int, error) {
	managers, err := s.roles.UsersWithRole(ctx, companyID, directory.RoleGeneralManager)
	if err != nil {
		return 0, fmt.Errorf("list general managers: %w", err)
	}
	quarter := calendar.QuarterStart(now, s.loc).AddDate(0, 3, 0)
	deadline := calendar.At(quarter.AddDate(0, 0, 9), s.loc, 9, 0)
	title := fmt.Sprintf("制定%d年第%d季度公司目标", quarter.Year(), calendar.Quarter(quarter, s.loc))

	todos := make([]model.Todo, 0, len(managers))
	for _, u := range managers {
		todos = append(todos, model.Todo{
			Assignee:    u.ID,
			Type:        model.TodoGoalCreation,
			PeriodKey:   calendar.QuarterKey(quarter, s.loc),
			Title:       title,
			Description: "请创建并提交下季度的公司战略目标",
			Deadline:    deadline.UTC(),
			CompanyID:   companyID,
		})
	}
	return s.issueAll(ctx, "quarterly_goal_todo", todos)
}

// MonthlyPlanCreation asks department managers to draft next month's
// company plans by the 23rd at 17:00.
func (s *Synthesizer) MonthlyPlanCreation(ctx context.Context, companyID string, now time.Time) (int, error) {
	managers, err := s.roles.UsersWithRole(ctx, companyID, directory.RoleDepartmentManager)
	if err != nil {
		return 0, fmt.Errorf("list department managers: %w", err)
	}
	month := calendar.MonthStart(now, s.loc)
	next := month.AddDate(0, 1, 0)
	deadline := calendar.At(month.AddDate(0, 0, 22), s.loc, 17, 0)
	title := fmt.Sprintf("制定%d年%d月公司计划", next.Year(), int(next.Month()))

	todos := make([]model.Todo, 0, len(managers))
	for _, u := range managers {
		todos = append(todos, model.Todo{
			Assignee:    u.ID,
			Type:        model.TodoPlanCreation,
			PeriodKey:   calendar.MonthKey(next, s.loc),
			Title:       title,
			Description: "请创建下月的公司月度计划",
			Deadline:    deadline.UTC(),
			CompanyID:   companyID,
		})
	}
	return s.issueAll(ctx, "monthly_plan_todo", todos)
}

// WeeklyDecomposition asks owners of running monthly plans to break them
// into next week's plans by Friday 18:00.
func (s *Synthesizer) WeeklyDecomposition(ctx context.Context, companyID string, now time.Time) (int, error) {
	plans, err := s.runningPlans(ctx, companyID, model.PeriodMonthly)
	if err != nil {
		return 0, err
	}
	nextWeek := calendar.WeekStart(now, s.loc).AddDate(0, 0, 7)
	deadline := calendar.Friday(now, s.loc, 18)
	todos := make([]model.Todo, 0, len(plans))
	for _, p := range plans {
		todos = append(todos, model.Todo{
			Assignee:    firstNonEmpty(p.ResponsiblePerson, p.Owner, p.CreatedBy),
			Type:        model.TodoPlanDecompositionWeekly,
			RelatedType: string(model.ObjectPlan),
			RelatedID:   p.ID,
			PeriodKey:   calendar.WeekKey(nextWeek, s.loc),
			Title:       fmt.Sprintf("分解「%s」下周周计划", p.Name),
			Description: fmt.Sprintf("请基于月度计划 %s 创建下周的周计划", p.Number),
			Deadline:    deadline.UTC(),
			CompanyID:   companyID,
		})
	}
	return s.issueAll(ctx, "weekly_decomposition_todo", todos)
}

// DailyDecomposition asks owners of running weekly plans to plan tomorrow,
// due tomorrow at 09:00.
func (s *Synthesizer) DailyDecomposition(ctx context.Context, companyID string, now time.Time) (int, error) {
	plans, err := s.runningPlans(ctx, companyID, model.PeriodWeekly)
	if err != nil {
		return 0, err
	}
	tomorrow := calendar.DayStart(now, s.loc).AddDate(0, 0, 1)
	deadline := calendar.At(tomorrow, s.loc, 9, 0)
	todos := make([]model.Todo, 0, len(plans))
	for _, p := range plans {
		todos = append(todos, model.Todo{
			Assignee:    firstNonEmpty(p.ResponsiblePerson, p.Owner, p.CreatedBy),
			Type:        model.TodoPlanDecompositionDaily,
			RelatedType: string(model.ObjectPlan),
			RelatedID:   p.ID,
			PeriodKey:   calendar.DayKey(tomorrow, s.loc),
			Title:       fmt.Sprintf("分解「%s」明日日计划", p.Name),
			Description: fmt.Sprintf("请基于周计划 %s 创建明天的日计划", p.Number),
			Deadline:    deadline.UTC(),
			CompanyID:   companyID,
		})
	}
	return s.issueAll(ctx, "daily_decomposition_todo", todos)
}

// ProgressUpdates asks owners of running goals to report by 17:00 and of
// running plans by 18:00 today.
func (s *Synthesizer) ProgressUpdates(ctx context.Context, companyID string, now time.Time) (int, error) {
	pred := scope.Predicate{CompanyID: companyID, All: true}
	running := []model.Status{model.StatusInProgress}
	day := calendar.DayKey(now, s.loc)

	goals, _, err := s.store.ListGoals(ctx, pred, store.GoalFilter{Statuses: running})
	if err != nil {
		return 0, fmt.Errorf("list running goals: %w", err)
	}
	plans, _, err := s.store.ListPlans(ctx, pred, store.PlanFilter{Statuses: running})
	if err != nil {
		return 0, fmt.Errorf("list running plans: %w", err)
	}

	todos := make([]model.Todo, 0, len(goals)+len(plans))
	goalDeadline := calendar.At(now, s.loc, 17, 0).UTC()
	for _, g := range goals {
		todos = append(todos, model.Todo{
			Assignee:    firstNonEmpty(g.ResponsiblePerson, g.Owner, g.CreatedBy),
			Type:        model.TodoGoalProgressUpdate,
			RelatedType: string(model.ObjectGoal),
			RelatedID:   g.ID,
			PeriodKey:   day,
			Title:       fmt.Sprintf("更新目标「%s」进度", g.Name),
			Deadline:    goalDeadline,
			CompanyID:   companyID,
		})
	}
	planDeadline := calendar.At(now, s.loc, 18, 0).UTC()
	for _, p := range plans {
		todos = append(todos, model.Todo{
			Assignee:    firstNonEmpty(p.ResponsiblePerson, p.Owner, p.CreatedBy),
			Type:        model.TodoPlanProgressUpdate,
			RelatedType: string(model.ObjectPlan),
			RelatedID:   p.ID,
			PeriodKey:   day,
			Title:       fmt.Sprintf("更新计划「%s」进度", p.Name),
			Deadline:    planDeadline,
			CompanyID:   companyID,
		})
	}
	return s.issueAll(ctx, "progress_update_todo", todos)
}

// GoalDecomposition asks the responsible person of a freshly published
// company goal to align personal goals within a week.
func (s *Synthesizer) GoalDecomposition(ctx context.Context, g model.Goal, now time.Time) (bool, error) {
	return s.issue(ctx, model.Todo{
		Assignee:    firstNonEmpty(g.ResponsiblePerson, g.Owner, g.CreatedBy),
		Type:        model.TodoGoalDecomposition,
		RelatedType: string(model.ObjectGoal),
		RelatedID:   g.ID,
		Title:       fmt.Sprintf("分解公司目标「%s」", g.Name),
		Description: "请将公司目标分解为个人目标",
		Deadline:    calendar.At(now.AddDate(0, 0, 7), s.loc, 18, 0).UTC(),
		CompanyID:   g.CompanyID,
	})
}

func (s *Synthesizer) runningPlans(ctx context.Context, companyID string, period model.PlanPeriod) ([]model.Plan, error) {
	plans, _, err := s.store.ListPlans(ctx, scope.Predicate{CompanyID: companyID, All: true}, store.PlanFilter{
		Statuses: []model.Status{model.StatusInProgress},
		Period:   period,
	})
	if err != nil {
		return nil, fmt.Errorf("list running %s plans: %w", period, err)
	}
	return plans, nil
}

// SweepOverdue flags open todos past their deadline.
func (s *Synthesizer) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.MarkOverdueTodos(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("todos overdue", "count", n)
	}
	return n, nil
}

// PlanCreated completes the todos a new plan fulfils.
func (s *Synthesizer) PlanCreated(ctx context.Context, p model.Plan, now time.Time) int {
	var matches []store.TodoMatch
	if p.ParentPlan != "" {
		switch p.Period {
		case model.PeriodWeekly:
			matches = append(matches, store.TodoMatch{Type: model.TodoPlanDecompositionWeekly, RelatedID: p.ParentPlan})
		case model.PeriodDaily:
			matches = append(matches, store.TodoMatch{Type: model.TodoPlanDecompositionDaily, RelatedID: p.ParentPlan})
		}
	}
	if p.Level == model.LevelCompany && p.Period == model.PeriodMonthly {
		matches = append(matches, store.TodoMatch{Type: model.TodoPlanCreation, Assignee: p.CreatedBy})
	}
	return s.complete(ctx, now, matches...)
}

// GoalCreated completes the todos a new goal fulfils.
func (s *Synthesizer) GoalCreated(ctx context.Context, g model.Goal, now time.Time) int {
	var matches []store.TodoMatch
	if g.ParentGoal != "" {
		matches = append(matches, store.TodoMatch{Type: model.TodoGoalDecomposition, RelatedID: g.ParentGoal})
	}
	if g.Level == model.LevelCompany {
		matches = append(matches, store.TodoMatch{Type: model.TodoGoalCreation, Assignee: g.CreatedBy})
	}
	return s.complete(ctx, now, matches...)
}

// ProgressRecorded completes the day's progress todo for the object.
func (s *Synthesizer) ProgressRecorded(ctx context.Context, kind model.Kind, id string, now time.Time) int {
	typ := model.TodoPlanProgressUpdate
	if kind == model.KindGoal {
		typ = model.TodoGoalProgressUpdate
	}
	return s.complete(ctx, now, store.TodoMatch{
		Type:        typ,
		RelatedType: string(kind),
		RelatedID:   id,
		PeriodKey:   calendar.DayKey(now, s.loc),
	})
}

// Closed settles the open todos of an object that reached a terminal
// status: completion completes them, cancellation cancels them.
func (s *Synthesizer) Closed(ctx context.Context, kind model.Kind, id string, status model.Status, now time.Time) int {
	switch status {
	case model.StatusCompleted:
		return s.complete(ctx, now, store.TodoMatch{RelatedType: string(kind), RelatedID: id})
	case model.StatusCancelled:
		n, err := s.store.CancelTodosFor(ctx, string(kind), id)
		if err != nil {
			s.log.Warn("todo cancellation failed", "related_id", id, "err", err)
		}
		return n
	}
	return 0
}

func (s *Synthesizer) complete(ctx context.Context, now time.Time, matches ...store.TodoMatch) int {
	total := 0
	for _, m := range matches {
		n, err := s.store.CompleteMatchingTodos(ctx, m, now.UTC())
		if err != nil {
			s.log.Warn("todo completion failed", "type", m.Type, "related_id", m.RelatedID, "err", err)
			continue
		}
		total += n
	}
	return total
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
