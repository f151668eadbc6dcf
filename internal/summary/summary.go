// Package summary composes the daily, weekly and monthly reports pushed to
// every active user, plus a team roll-up for supervisors.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"planengine/internal/calendar"
	"planengine/internal/directory"
	"planengine/internal/model"
	"planengine/internal/notify"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// Store is what reports are computed from.
type Store interface {
	ListPlans(ctx context.Context, pred scope.Predicate, f store.PlanFilter) ([]model.Plan, int, error)
	CountPlans(ctx context.Context, pred scope.Predicate, f store.PlanFilter) (int, error)
	CountGoals(ctx context.Context, pred scope.Predicate, f store.GoalFilter) (int, error)
	CountProgressBy(ctx context.Context, userID string, win store.Window) (int, error)
}

// Users lists report recipients and their supervisors.
type Users interface {
	ActiveUsers(ctx context.Context, companyID string) ([]directory.User, error)
	Supervisor(ctx context.Context, userID string) (string, error)
}

// Sender delivers a composed report once per user and slot.
type Sender interface {
	Summary(ctx context.Context, userID, event, slot, title, content string) bool
}

// Report is one user's activity over a window.
type Report struct {
	UserID          string
	Name            string
	Window          calendar.Range
	ProgressRecords int
	PlansCompleted  int
	GoalsCompleted  int
	// Running and Today describe the moment the report is built.
	Running int
	Today   []model.Plan
	Overdue int
}

// Empty reports whether there is nothing worth sending.
func (r Report) Empty() bool {
	return r.ProgressRecords == 0 && r.PlansCompleted == 0 && r.GoalsCompleted == 0 &&
		r.Running == 0 && len(r.Today) == 0 && r.Overdue == 0
}

// Composer builds and sends reports.
type Composer struct {
	store  Store
	users  Users
	sender Sender
	loc    *time.Location
	log    *slog.Logger
}

// New wires a Composer.
func New(st Store, users Users, sender Sender, loc *time.Location, log *slog.Logger) *Composer {
	if loc == nil {
		loc = calendar.Load("")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Composer{store: st, users: users, sender: sender, loc: loc, log: log}
}

// Compose computes userID's report for win as seen at now.
func (c *Composer) Compose(ctx context.Context, companyID string, u directory.User, win calendar.Range, now time.Time) (Report, error) {
	r := Report{UserID: u.ID, Name: u.DisplayName(), Window: win}
	pred := scope.Predicate{All: true, CompanyID: companyID}
	done := &store.Window{From: win.From, To: win.To}
	var err error

	if r.ProgressRecords, err = c.store.CountProgressBy(ctx, u.ID, *done); err != nil {
		return r, err
	}
	if r.PlansCompleted, err = c.store.CountPlans(ctx, pred, store.PlanFilter{Involved: u.ID, CompletedIn: done}); err != nil {
		return r, err
	}
	if r.GoalsCompleted, err = c.store.CountGoals(ctx, pred, store.GoalFilter{Involved: u.ID, CompletedIn: done}); err != nil {
		return r, err
	}
	running := []model.Status{model.StatusInProgress}
	if r.Running, err = c.store.CountPlans(ctx, pred, store.PlanFilter{Involved: u.ID, Statuses: running}); err != nil {
		return r, err
	}
	today := calendar.Day(now, c.loc)
	r.Today, _, err = c.store.ListPlans(ctx, pred, store.PlanFilter{
		Involved: u.ID,
		Statuses: running,
		Overlaps: &store.Window{From: today.From, To: today.To},
	})
	if err != nil {
		return r, err
	}
	at := calendar.OverdueCutoff(now, c.loc)
	plansLate, err := c.store.CountPlans(ctx, pred, store.PlanFilter{Involved: u.ID, OverdueAt: &at})
	if err != nil {
		return r, err
	}
	goalsLate, err := c.store.CountGoals(ctx, pred, store.GoalFilter{Involved: u.ID, OverdueAt: &at})
	if err != nil {
		return r, err
	}
	r.Overdue = plansLate + goalsLate
	return r, nil
}

// Daily sends each active user yesterday's report, today's running plans
// and their overdue items. The slot is today's date.
func (c *Composer) Daily(ctx context.Context, companyID string, now time.Time) (int, error) {
	yesterday := calendar.Day(now.AddDate(0, 0, -1), c.loc)
	slot := calendar.DayKey(now, c.loc)
	title := fmt.Sprintf("每日简报 %s", slot)
	reports, err := c.composeAll(ctx, companyID, yesterday, now)
	sent := 0
	for _, r := range reports {
		if r.Empty() {
			continue
		}
		if c.sender.Summary(ctx, r.UserID, notify.EventDailySummary, "daily:"+slot, title, renderDaily(r, c.loc)) {
			sent++
		}
	}
	c.log.Info("daily summaries sent", "company_id", companyID, "users", len(reports), "sent", sent)
	return sent, err
}

// Weekly sends last week's report to each user and a team roll-up to
// each supervisor.
func (c *Composer) Weekly(ctx context.Context, companyID string, now time.Time) (int, error) {
	lastWeek := calendar.Week(now.AddDate(0, 0, -7), c.loc)
	slot := calendar.WeekKey(lastWeek.From, c.loc)
	return c.period(ctx, companyID, now, lastWeek, notify.EventWeeklySummary, "weekly:"+slot, "周报 "+slot)
}

// Monthly sends last month's report to each user and a team roll-up to
// each supervisor.
func (c *Composer) Monthly(ctx context.Context, companyID string, now time.Time) (int, error) {
	lastMonth := calendar.Month(calendar.MonthStart(now, c.loc).AddDate(0, 0, -1), c.loc)
	slot := calendar.MonthKey(lastMonth.From, c.loc)
	return c.period(ctx, companyID, now, lastMonth, notify.EventMonthlySummary, "monthly:"+slot, "月报 "+slot)
}

func (c *Composer) period(ctx context.Context, companyID string, now time.Time, win calendar.Range, event, slot, title string) (int, error) {
	reports, err := c.composeAll(ctx, companyID, win, now)
	sent := 0
	teams := map[string][]Report{}
	for _, r := range reports {
		if ctx.Err() != nil {
			return sent, errors.Join(err, ctx.Err())
		}
		if c.sender.Summary(ctx, r.UserID, event, slot, title, renderPeriod(r, c.loc)) {
			sent++
		}
		sup, supErr := c.users.Supervisor(ctx, r.UserID)
		if supErr != nil {
			c.log.Warn("supervisor lookup failed", "user_id", r.UserID, "err", supErr)
			continue
		}
		if sup != "" && sup != r.UserID {
			teams[sup] = append(teams[sup], r)
		}
	}
	supervisors := make([]string, 0, len(teams))
	for sup := range teams {
		supervisors = append(supervisors, sup)
	}
	sort.Strings(supervisors)
	for _, sup := range supervisors {
		if c.sender.Summary(ctx, sup, event, slot+":team", "团队"+title, renderTeam(teams[sup])) {
			sent++
		}
	}
	c.log.Info("summaries sent", "event", event, "company_id", companyID, "users", len(reports), "teams", len(teams), "sent", sent)
	return sent, err
}

// composeAll builds a report for every active user. A failed user is
// logged and skipped.
func (c *Composer) composeAll(ctx context.Context, companyID string, win calendar.Range, now time.Time) ([]Report, error) {
	users, err := c.users.ActiveUsers(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var (
		reports []Report
		errs    []error
	)
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := c.Compose(ctx, companyID, u, win, now)
		if err != nil {
			c.log.Warn("compose summary failed", "user_id", u.ID, "err", err)
			errs = append(errs, fmt.Errorf("summary for %s: %w", u.ID, err))
			continue
		}
		reports = append(reports, r)
	}
	return reports, errors.Join(errs...)
}

func renderDaily(r Report, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "昨日(%s): 更新进度 %d 次, 完成计划 %d 个, 完成目标 %d 个\n",
		calendar.DayKey(r.Window.From, loc), r.ProgressRecords, r.PlansCompleted, r.GoalsCompleted)
	fmt.Fprintf(&b, "今日作战: %d 个计划执行中\n", len(r.Today))
	for _, p := range r.Today {
		fmt.Fprintf(&b, "- %s %s (%.0f%%)\n", p.Number, p.Name, p.Progress)
	}
	if r.Overdue > 0 {
		fmt.Fprintf(&b, "⚠️ 逾期事项: %d 个\n", r.Overdue)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderPeriod(r Report, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s 至 %s\n", calendar.DayKey(r.Window.From, loc), calendar.DayKey(r.Window.To.Add(-time.Second), loc))
	fmt.Fprintf(&b, "更新进度 %d 次, 完成计划 %d 个, 完成目标 %d 个\n", r.ProgressRecords, r.PlansCompleted, r.GoalsCompleted)
	fmt.Fprintf(&b, "执行中计划 %d 个", r.Running)
	if r.Overdue > 0 {
		fmt.Fprintf(&b, ", 逾期 %d 个", r.Overdue)
	}
	return b.String()
}

func renderTeam(reports []Report) string {
	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "%s: 进度 %d 次, 完成计划 %d, 完成目标 %d, 逾期 %d\n",
			r.Name, r.ProgressRecords, r.PlansCompleted, r.GoalsCompleted, r.Overdue)
	}
	return strings.TrimRight(b.String(), "\n")
}
