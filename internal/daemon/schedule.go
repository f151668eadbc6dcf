package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job names in the run ledger.
const (
	JobDailyNotification   = "daily_notification"
	JobWeeklySummary       = "weekly_summary"
	JobMonthlySummary      = "monthly_summary"
	JobQuarterlyGoalTodo   = "quarterly_goal_todo"
	JobMonthlyPlanTodo     = "monthly_plan_todo"
	JobWeeklyDecomposition = "weekly_decomposition_todo"
	JobDailyDecomposition  = "daily_decomposition_todo"
	JobProgressUpdateTodo  = "progress_update_todo"
	JobTimeoutSweep        = "timeout_sweep"
)

const watermarkKey = "scheduler_watermark"

// MaxCatchUp bounds how far back a tick enumerates missed slots after
// downtime.
const MaxCatchUp = 7 * 24 * time.Hour

// Spec binds a job name to a standard five-field cron expression in the
// business time zone.
type Spec struct {
	Name string
	Cron string
}

// DefaultSchedule is the engine's job calendar.
func DefaultSchedule() []Spec {
	return []Spec{
		{JobDailyNotification, "0 8 * * *"},
		{JobWeeklySummary, "0 9 * * 1"},
		{JobMonthlySummary, "0 9 1 * *"},
		{JobQuarterlyGoalTodo, "0 9 25 3,6,9,12 *"},
		{JobMonthlyPlanTodo, "0 9 20 * *"},
		{JobWeeklyDecomposition, "0 14 * * 5"},
		{JobDailyDecomposition, "0 17 * * *"},
		{JobProgressUpdateTodo, "0 15 * * *"},
		{JobTimeoutSweep, "0 * * * *"},
	}
}

// Companies lists the scopes every job is fired for.
type Companies func(ctx context.Context) ([]string, error)

type entry struct {
	name     string
	schedule cron.Schedule
}

// Scheduler turns cron slots between the watermark and now into queued
// ledger rows, one per company.
type Scheduler struct {
	ledger    Ledger
	companies Companies
	entries   []entry
	loc       *time.Location
	log       *slog.Logger
}

// NewScheduler parses specs in loc.
func NewScheduler(ledger Ledger, companies Companies, specs []Spec, loc *time.Location, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Scheduler{ledger: ledger, companies: companies, loc: loc, log: log}
	for _, spec := range specs {
		sched, err := parser.Parse(spec.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse schedule %s %q: %w", spec.Name, spec.Cron, err)
		}
		if ss, ok := sched.(*cron.SpecSchedule); ok {
			ss.Location = loc
		}
		s.entries = append(s.entries, entry{name: spec.Name, schedule: sched})
	}
	return s, nil
}

// SlotKey identifies a fire time in the ledger.
func SlotKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02T15:04")
}

// Tick enqueues every slot in (watermark, now] and advances the watermark.
// The first tick only records the watermark.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	raw, err := s.ledger.GetKV(ctx, watermarkKey)
	if err != nil {
		return 0, fmt.Errorf("get scheduler watermark: %w", err)
	}
	if raw == "" {
		if err := s.ledger.SetKV(ctx, watermarkKey, now.UTC().Format(time.RFC3339)); err != nil {
			return 0, fmt.Errorf("set initial watermark: %w", err)
		}
		return 0, nil
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("parse watermark: %w", err)
	}
	if floor := now.Add(-MaxCatchUp); last.Before(floor) {
		s.log.Warn("scheduler watermark too old, skipping missed slots", "watermark", last, "floor", floor)
		last = floor
	}

	companies, err := s.companies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list companies: %w", err)
	}
	enqueued := 0
	for _, e := range s.entries {
		for at := e.schedule.Next(last); !at.After(now); at = e.schedule.Next(at) {
			for _, company := range companies {
				payload := map[string]any{"scheduled_time": at.Format(time.RFC3339)}
				_, created, err := s.ledger.EnqueueUnique(ctx, e.name, company, SlotKey(at, s.loc), at, payload)
				if err != nil {
					return enqueued, fmt.Errorf("enqueue %s at %s: %w", e.name, at, err)
				}
				if created {
					enqueued++
				}
			}
		}
	}

	if err := s.ledger.SetKV(ctx, watermarkKey, now.UTC().Format(time.RFC3339)); err != nil {
		return enqueued, fmt.Errorf("update watermark: %w", err)
	}
	if enqueued > 0 {
		s.log.Info("jobs scheduled", "count", enqueued, "watermark", now.UTC().Format(time.RFC3339))
	}
	return enqueued, nil
}
