// Package service is the engine's application API. It scopes every read
// to the calling principal, validates writes and delegates status changes
// to the decision and progress components.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"planengine/internal/adjudicator"
	"planengine/internal/audit"
	"planengine/internal/calendar"
	"planengine/internal/decision"
	"planengine/internal/model"
	"planengine/internal/progress"
	"planengine/internal/scope"
	"planengine/internal/stats"
	"planengine/internal/store"
	"planengine/internal/todo"
)

// Paging defaults for list operations.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Deps are the components a Service delegates to. Audit may be nil.
type Deps struct {
	Store     *store.Store
	Decisions *decision.Service
	Progress  *progress.Engine
	Todos     *todo.Synthesizer
	Stats     *stats.Service
	Audit     *audit.Recorder
	Log       *slog.Logger
	Loc       *time.Location
	Now       func() time.Time
}

// Service is the application API.
type Service struct {
	store     *store.Store
	decisions *decision.Service
	progress  *progress.Engine
	todos     *todo.Synthesizer
	stats     *stats.Service
	audit     *audit.Recorder
	log       *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

// New wires a Service.
func New(d Deps) *Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Loc == nil {
		d.Loc = calendar.Load("")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		store:     d.Store,
		decisions: d.Decisions,
		progress:  d.Progress,
		todos:     d.Todos,
		stats:     d.Stats,
		audit:     d.Audit,
		log:       d.Log,
		loc:       d.Loc,
		now:       d.Now,
	}
}

// paging normalises a requested page and returns the limit and offset.
func paging(page, size int) (p, s, limit, offset int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size, size, (page - 1) * size
}

func pageOf[T any](items []T, total, page, size int) *model.Page[T] {
	if items == nil {
		items = []T{}
	}
	return &model.Page[T]{Items: items, Total: total, Page: page, PageSize: size}
}

// window resolves a list range to the local week or month around now.
func (s *Service) window(r string) (*store.Window, error) {
	now := s.now()
	var cr calendar.Range
	switch r {
	case stats.RangeAll:
		return nil, nil
	case stats.RangeWeek:
		cr = calendar.Week(now, s.loc)
	case stats.RangeMonth:
		cr = calendar.Month(now, s.loc)
	default:
		return nil, model.Invalid("range", "unknown range %q, want week or month", r)
	}
	return &store.Window{From: cr.From.UTC(), To: cr.To.UTC()}, nil
}

// ListTodos returns the principal's derived and persisted todos.
func (s *Service) ListTodos(ctx context.Context, p scope.Principal) (*todo.List, error) {
	return s.todos.List(ctx, p, s.now())
}

// CompleteTodo completes one of the principal's todos.
func (s *Service) CompleteTodo(ctx context.Context, p scope.Principal, id string) error {
	return s.store.CompleteTodo(ctx, id, p.UserID, s.now().UTC())
}

// NotificationQuery pages a user's inbox.
type NotificationQuery struct {
	IsRead   *bool
	Page     int
	PageSize int
}

// ListNotifications pages the principal's inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, p scope.Principal, q NotificationQuery) (*model.Page[model.Notification], error) {
	page, size, limit, offset := paging(q.Page, q.PageSize)
	items, total, err := s.store.ListNotifications(ctx, p.UserID, q.IsRead, limit, offset)
	if err != nil {
		return nil, err
	}
	return pageOf(items, total, page, size), nil
}

// MarkRead marks one of the principal's notifications read.
func (s *Service) MarkRead(ctx context.Context, p scope.Principal, id string) error {
	return s.store.MarkNotificationRead(ctx, p.UserID, id)
}

// MarkAllRead marks the principal's inbox read and returns how many
// notifications changed.
func (s *Service) MarkAllRead(ctx context.Context, p scope.Principal) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, p.UserID)
}

// UnreadCount counts the principal's unread notifications.
func (s *Service) UnreadCount(ctx context.Context, p scope.Principal) (int, error) {
	return s.store.UnreadCount(ctx, p.UserID)
}

// StatsPlans counts the plans the principal can see.
func (s *Service) StatsPlans(ctx context.Context, p scope.Principal, q stats.Query) (stats.Counts, error) {
	return s.stats.Plans(ctx, p, q)
}

// StatsGoals counts the goals the principal can see.
func (s *Service) StatsGoals(ctx context.Context, p scope.Principal, q stats.Query) (stats.Counts, error) {
	return s.stats.Goals(ctx, p, q)
}

// MigrateLegacyStatuses rewrites retired approval statuses and audits each
// rewritten row.
func (s *Service) MigrateLegacyStatuses(ctx context.Context, actor string) ([]store.LegacyChange, error) {
	changes, err := s.store.MigrateLegacyStatuses(ctx, actor, s.now().UTC(), adjudicator.MigrateLegacyStatus)
	if err != nil {
		return nil, fmt.Errorf("migrate legacy statuses: %w", err)
	}
	for _, ch := range changes {
		s.audit.Record(ctx, audit.Entry{
			Actor:      actor,
			Action:     audit.ActionLegacyMigration,
			ObjectType: string(ch.Kind),
			ObjectID:   ch.ID,
			Changes:    map[string]store.Change{"status": {From: ch.From, To: string(ch.To)}},
		})
	}
	s.log.Info("legacy statuses migrated", "count", len(changes))
	return changes, nil
}
