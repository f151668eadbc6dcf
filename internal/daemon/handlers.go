package daemon

import (
	"context"
	"time"

	"planengine/internal/store"
)

// TodoJobs generates persisted todos for one company.
type TodoJobs interface {
	QuarterlyGoalCreation(ctx context.Context, companyID string, now time.Time) (int, error)
	MonthlyPlanCreation(ctx context.Context, companyID string, now time.Time) (int, error)
	WeeklyDecomposition(ctx context.Context, companyID string, now time.Time) (int, error)
	DailyDecomposition(ctx context.Context, companyID string, now time.Time) (int, error)
	ProgressUpdates(ctx context.Context, companyID string, now time.Time) (int, error)
}

// SummaryJobs composes periodic reports for one company.
type SummaryJobs interface {
	Daily(ctx context.Context, companyID string, now time.Time) (int, error)
	Weekly(ctx context.Context, companyID string, now time.Time) (int, error)
	Monthly(ctx context.Context, companyID string, now time.Time) (int, error)
}

// Handlers maps every scheduled job to the component that runs it. Each
// job runs as of its slot time, so a late or retried run produces the
// same todos and reports as an on-time one.
func Handlers(todos TodoJobs, summaries SummaryJobs, sweeper *Sweeper) map[string]Handler {
	counted := func(key string, fn func(ctx context.Context, companyID string, now time.Time) (int, error)) Handler {
		return func(ctx context.Context, job store.Job) (any, error) {
			n, err := fn(ctx, job.ScopeKey, job.ScheduledAt)
			return map[string]int{key: n}, err
		}
	}
	return map[string]Handler{
		JobDailyNotification:   counted("sent", summaries.Daily),
		JobWeeklySummary:       counted("sent", summaries.Weekly),
		JobMonthlySummary:      counted("sent", summaries.Monthly),
		JobQuarterlyGoalTodo:   counted("created", todos.QuarterlyGoalCreation),
		JobMonthlyPlanTodo:     counted("created", todos.MonthlyPlanCreation),
		JobWeeklyDecomposition: counted("created", todos.WeeklyDecomposition),
		JobDailyDecomposition:  counted("created", todos.DailyDecomposition),
		JobProgressUpdateTodo:  counted("created", todos.ProgressUpdates),
		JobTimeoutSweep: func(ctx context.Context, job store.Job) (any, error) {
			return sweeper.Sweep(ctx, job.ScopeKey, job.ScheduledAt)
		},
	}
}
