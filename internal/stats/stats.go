// Package stats counts plans and goals by status for a principal's scope.
// Results are cached for a short TTL; writers do not invalidate entries.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"planengine/internal/calendar"
	"planengine/internal/model"
	"planengine/internal/scope"
	"planengine/internal/store"
)

// DefaultTTL is how long a computed Counts is served from cache.
const DefaultTTL = 60 * time.Second

// Ranges accepted by Query.Range.
const (
	RangeAll   = ""
	RangeWeek  = "week"
	RangeMonth = "month"
)

// Counts is the status breakdown returned by the stats endpoints.
type Counts struct {
	Total      int `json:"total"`
	Draft      int `json:"draft"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
	Today      int `json:"today"`
}

// Query narrows the counted population.
type Query struct {
	Mine bool `json:"mine"`
	// Participating only applies to plans.
	Participating bool   `json:"participating"`
	Range         string `json:"range"`
}

// Store counts entities under a scope predicate.
type Store interface {
	CountPlans(ctx context.Context, pred scope.Predicate, f store.PlanFilter) (int, error)
	CountGoals(ctx context.Context, pred scope.Predicate, f store.GoalFilter) (int, error)
}

type entry struct {
	counts  Counts
	expires time.Time
}

// Service computes and caches Counts.
type Service struct {
	store Store
	loc   *time.Location
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]entry
}

// New wires a Service. A zero ttl means DefaultTTL.
func New(st Store, loc *time.Location, ttl time.Duration, now func() time.Time) *Service {
	if loc == nil {
		loc = calendar.Load("")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, loc: loc, ttl: ttl, now: now, cache: map[string]entry{}}
}

// Plans counts plans visible to p.
func (s *Service) Plans(ctx context.Context, p scope.Principal, q Query) (Counts, error) {
	return s.cached(model.KindPlan, p, q, func(win *store.Window, now time.Time) (Counts, error) {
		base := store.PlanFilter{Overlaps: win}
		if q.Mine {
			base.Mine = p.UserID
		}
		if q.Participating {
			base.Participating = p.UserID
		}
		pred := p.Predicate()
		return collect(now, s.loc, win, func(c countKind, at time.Time, today *store.Window) (int, error) {
			f := base
			switch c {
			case countDraft:
				f.Statuses = []model.Status{model.StatusDraft}
			case countInProgress:
				f.Statuses = []model.Status{model.StatusInProgress}
			case countCompleted:
				f.Statuses = []model.Status{model.StatusCompleted}
			case countOverdue:
				f.OverdueAt = &at
			case countToday:
				f.Statuses = []model.Status{model.StatusInProgress}
				f.Overlaps = today
			}
			return s.store.CountPlans(ctx, pred, f)
		})
	})
}

// Goals counts goals visible to p. Query.Participating is ignored.
func (s *Service) Goals(ctx context.Context, p scope.Principal, q Query) (Counts, error) {
	q.Participating = false
	return s.cached(model.KindGoal, p, q, func(win *store.Window, now time.Time) (Counts, error) {
		base := store.GoalFilter{Overlaps: win}
		if q.Mine {
			base.Mine = p.UserID
		}
		pred := p.Predicate()
		return collect(now, s.loc, win, func(c countKind, at time.Time, today *store.Window) (int, error) {
			f := base
			switch c {
			case countDraft:
				f.Statuses = []model.Status{model.StatusDraft}
			case countInProgress:
				f.Statuses = []model.Status{model.StatusInProgress}
			case countCompleted:
				f.Statuses = []model.Status{model.StatusCompleted}
			case countOverdue:
				f.OverdueAt = &at
			case countToday:
				f.Statuses = []model.Status{model.StatusInProgress}
				f.Overlaps = today
			}
			return s.store.CountGoals(ctx, pred, f)
		})
	})
}

// Flush drops every cached entry.
func (s *Service) Flush() {
	s.mu.Lock()
	s.cache = map[string]entry{}
	s.mu.Unlock()
}

func (s *Service) cached(kind model.Kind, p scope.Principal, q Query, compute func(*store.Window, time.Time) (Counts, error)) (Counts, error) {
	now := s.now()
	win, err := s.window(q.Range, now)
	if err != nil {
		return Counts{}, err
	}
	key := cacheKey(kind, p.Predicate(), q)

	s.mu.Lock()
	e, ok := s.cache[key]
	s.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.counts, nil
	}

	counts, err := compute(win, now)
	if err != nil {
		return Counts{}, fmt.Errorf("count %ss: %w", kind, err)
	}
	s.mu.Lock()
	s.sweep(now)
	s.cache[key] = entry{counts: counts, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return counts, nil
}

// sweep drops expired entries. Callers hold s.mu.
func (s *Service) sweep(now time.Time) {
	for k, e := range s.cache {
		if !now.Before(e.expires) {
			delete(s.cache, k)
		}
	}
}

func (s *Service) window(r string, now time.Time) (*store.Window, error) {
	var cr calendar.Range
	switch r {
	case RangeAll:
		return nil, nil
	case RangeWeek:
		cr = calendar.Week(now, s.loc)
	case RangeMonth:
		cr = calendar.Month(now, s.loc)
	default:
		return nil, model.Invalid("range", "must be week or month, got %q", r)
	}
	return &store.Window{From: cr.From, To: cr.To}, nil
}

func cacheKey(kind model.Kind, pred scope.Predicate, q Query) string {
	return fmt.Sprintf("%s|%s|%t|%s|%s|%t|%t|%s",
		kind, pred.CompanyID, pred.All, pred.UserID, pred.DepartmentID, q.Mine, q.Participating, q.Range)
}

type countKind int

const (
	countTotal countKind = iota
	countDraft
	countInProgress
	countCompleted
	countOverdue
	countToday
)

func collect(now time.Time, loc *time.Location, win *store.Window, count func(countKind, time.Time, *store.Window) (int, error)) (Counts, error) {
	day := calendar.Day(now, loc)
	today := clip(&store.Window{From: day.From, To: day.To}, win)
	at := calendar.OverdueCutoff(now, loc)
	var out Counts
	targets := []struct {
		kind countKind
		dst  *int
	}{
		{countTotal, &out.Total},
		{countDraft, &out.Draft},
		{countInProgress, &out.InProgress},
		{countCompleted, &out.Completed},
		{countOverdue, &out.Overdue},
		{countToday, &out.Today},
	}
	for _, t := range targets {
		n, err := count(t.kind, at, today)
		if err != nil {
			return Counts{}, err
		}
		*t.dst = n
	}
	return out, nil
}

// clip narrows day to the requested range.
func clip(day, win *store.Window) *store.Window {
	if win == nil {
		return day
	}
	out := *day
	if win.From.After(out.From) {
		out.From = win.From
	}
	if win.To.Before(out.To) {
		out.To = win.To
	}
	if out.To.Before(out.From) {
		out.To = out.From
	}
	return &out
}
