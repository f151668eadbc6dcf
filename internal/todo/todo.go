// Package todo builds a user's todo list. Items derived from plan and goal
// state are computed on read; reminder todos are persisted by generators.
package todo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"planengine/internal/calendar"
	"planengine/internal/directory"
	"planengine/internal/model"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// Category groups todo items.
type Category string

const (
	CategoryRisk    Category = "risk"
	CategoryAccept  Category = "accept"
	CategoryExecute Category = "execute"
	CategoryToday   Category = "today"
	CategorySystem  Category = "system"
)

var categoryRank = map[Category]int{
	CategoryRisk:    0,
	CategoryAccept:  1,
	CategoryExecute: 2,
	CategoryToday:   3,
	CategorySystem:  4,
}

// Priority orders todo items.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}

// Item is one entry of a todo list.
type Item struct {
	Category   Category         `json:"category"`
	Priority   Priority         `json:"priority"`
	Title      string           `json:"title"`
	ObjectType model.ObjectType `json:"object_type"`
	ObjectID   string           `json:"object_id"`
	Number     string           `json:"number,omitempty"`
	Name       string           `json:"name"`
	Status     model.Status     `json:"status,omitempty"`
	Deadline   *time.Time       `json:"deadline,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Todo       *model.Todo      `json:"todo,omitempty"`
}

// Summary counts a todo list.
type Summary struct {
	Total            int `json:"total"`
	PendingAccept    int `json:"pending_accept"`
	PendingExecute   int `json:"pending_execute"`
	TodayPlans       int `json:"today_plans"`
	RiskItems        int `json:"risk_items"`
	PersistedPending int `json:"persisted_pending"`
}

// List is a sorted todo list with its summary.
type List struct {
	Items   []Item  `json:"items"`
	Summary Summary `json:"summary"`
}

// Store is the storage the synthesizer reads and writes.
type Store interface {
	ListPlans(ctx context.Context, pred scope.Predicate, f store.PlanFilter) ([]model.Plan, int, error)
	ListGoals(ctx context.Context, pred scope.Predicate, f store.GoalFilter) ([]model.Goal, int, error)
	ListTodos(ctx context.Context, f store.TodoFilter) ([]model.Todo, error)
	InsertTodo(ctx context.Context, t *model.Todo) (bool, error)
	CompleteMatchingTodos(ctx context.Context, m store.TodoMatch, at time.Time) (int, error)
	MarkOverdueTodos(ctx context.Context, now time.Time) (int, error)
	CancelTodosFor(ctx context.Context, relatedType, relatedID string) (int, error)
}

// Roles finds users by role within a company.
type Roles interface {
	UsersWithRole(ctx context.Context, companyID, role string) ([]directory.User, error)
}

// Notifier is told about newly created todos.
type Notifier interface {
	TodoCreated(ctx context.Context, t model.Todo) bool
}

// Synthesizer derives and generates todos.
type Synthesizer struct {
	store    Store
	roles    Roles
	notifier Notifier
	loc      *time.Location
	log      *slog.Logger
}

// New wires a Synthesizer. notifier may be nil.
func New(st Store, roles Roles, notifier Notifier, loc *time.Location, log *slog.Logger) *Synthesizer {
	if loc == nil {
		loc = calendar.Load("")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{store: st, roles: roles, notifier: notifier, loc: loc, log: log}
}

var openStatuses = []model.TodoStatus{model.TodoPending, model.TodoInProgress, model.TodoOverdue}

var nonTerminal = []model.Status{model.StatusDraft, model.StatusPublished, model.StatusAccepted, model.StatusInProgress}

// List returns the principal's todo list at now.
func (s *Synthesizer) List(ctx context.Context, p scope.Principal, now time.Time) (*List, error) {
	derived, err := s.derive(ctx, p, now)
	if err != nil {
		return nil, err
	}
	persisted, err := s.store.ListTodos(ctx, store.TodoFilter{Assignee: p.UserID, Statuses: openStatuses})
	if err != nil {
		return nil, fmt.Errorf("list persisted todos: %w", err)
	}

	out := &List{Items: derived}
	for _, item := range derived {
		switch item.Category {
		case CategoryAccept:
			out.Summary.PendingAccept++
		case CategoryExecute:
			out.Summary.PendingExecute++
		case CategoryToday:
			out.Summary.TodayPlans++
		case CategoryRisk:
			out.Summary.RiskItems++
		}
	}
	for i := range persisted {
		t := persisted[i]
		priority := PriorityMedium
		if t.Status == model.TodoOverdue || t.Deadline.Before(now.Add(24*time.Hour)) {
			priority = PriorityHigh
		}
		deadline := t.Deadline
		out.Items = append(out.Items, Item{
			Category:   CategorySystem,
			Priority:   priority,
			Title:      t.Title,
			ObjectType: model.ObjectTodo,
			ObjectID:   t.ID,
			Name:       t.Title,
			Deadline:   &deadline,
			CreatedAt:  t.CreatedAt,
			Todo:       &t,
		})
		out.Summary.PersistedPending++
	}
	Sort(out.Items)
	out.Summary.Total = len(out.Items)
	return out, nil
}

// Sort orders items by priority, then category, then age.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if pa, pb := priorityRank[a.Priority], priorityRank[b.Priority]; pa != pb {
			return pa < pb
		}
		if ca, cb := categoryRank[a.Category], categoryRank[b.Category]; ca != cb {
			return ca < cb
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *Synthesizer) derive(ctx context.Context, p scope.Principal, now time.Time) ([]Item, error) {
	pred := p.Predicate()
	today := calendar.Day(now, s.loc)
	var items []Item

	plans, _, err := s.store.ListPlans(ctx, pred, store.PlanFilter{Involved: p.UserID, Statuses: nonTerminal})
	if err != nil {
		return nil, fmt.Errorf("list plans for todos: %w", err)
	}
	for _, plan := range plans {
		item := Item{
			ObjectType: model.ObjectPlan,
			ObjectID:   plan.ID,
			Number:     plan.Number,
			Name:       plan.Name,
			Status:     plan.Status,
			Deadline:   plan.EndTime,
			CreatedAt:  plan.CreatedAt,
		}
		switch {
		case calendar.Overdue(plan.EndTime, now, s.loc):
			items = append(items, risk(item, "计划"))
		case plan.Status == model.StatusPublished && plan.Owner == p.UserID:
			items = append(items, accept(item, "计划"))
		case plan.Status == model.StatusAccepted && plan.Owner == p.UserID:
			items = append(items, execute(item, "计划"))
		case plan.Status == model.StatusInProgress && overlaps(plan.StartTime, plan.EndTime, today):
			item.Category, item.Priority = CategoryToday, PriorityMedium
			item.Title = fmt.Sprintf("今日应执行: %s", plan.Name)
			items = append(items, item)
		}
	}

	goals, _, err := s.store.ListGoals(ctx, pred, store.GoalFilter{Involved: p.UserID, Statuses: nonTerminal})
	if err != nil {
		return nil, fmt.Errorf("list goals for todos: %w", err)
	}
	for _, goal := range goals {
		item := Item{
			ObjectType: model.ObjectGoal,
			ObjectID:   goal.ID,
			Number:     goal.Number,
			Name:       goal.Name,
			Status:     goal.Status,
			Deadline:   goal.EndDate,
			CreatedAt:  goal.CreatedAt,
		}
		switch {
		case calendar.Overdue(goal.EndDate, now, s.loc):
			items = append(items, risk(item, "目标"))
		case goal.Status == model.StatusPublished && goal.Owner == p.UserID:
			items = append(items, accept(item, "目标"))
		case goal.Status == model.StatusAccepted && goal.Owner == p.UserID:
			items = append(items, execute(item, "目标"))
		}
	}
	return items, nil
}

func risk(item Item, noun string) Item {
	item.Category, item.Priority = CategoryRisk, PriorityHigh
	item.Title = fmt.Sprintf("⚠️ 逾期%s: %s", noun, item.Name)
	return item
}

func accept(item Item, noun string) Item {
	item.Category, item.Priority = CategoryAccept, PriorityHigh
	item.Title = fmt.Sprintf("待接收%s: %s", noun, item.Name)
	return item
}

func execute(item Item, noun string) Item {
	item.Category, item.Priority = CategoryExecute, PriorityMedium
	item.Title = fmt.Sprintf("待执行%s: %s", noun, item.Name)
	return item
}

// overlaps reports whether [start, end] touches the day. Open ends never
// bound the interval.
func overlaps(start, end *time.Time, day calendar.Range) bool {
	if start == nil || !start.Before(day.To) {
		return false
	}
	return end == nil || !end.Before(day.From)
}
