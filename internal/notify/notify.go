// Package notify composes in-app notifications and pushes them to external
// sinks. Delivery is best-effort: failures are logged, never returned.
package notify

import (
	"context"
	"log/slog"
	"time"

	"planengine/internal/directory"
	"planengine/internal/model"
	"planengine/internal/scope"
)

// Event tags stored on notifications.
const (
	EventSubmit          = "submit"
	EventApprove         = "approve"
	EventReject          = "reject"
	EventPublish         = "publish"
	EventAccept          = "accept"
	EventCompleted       = "completed"
	EventDraftTimeout    = "draft_timeout"
	EventApprovalTimeout = "approval_timeout"
	EventDailySummary    = "daily_notification"
	EventWeeklySummary   = "weekly_summary"
	EventMonthlySummary  = "monthly_summary"
	EventTodo            = "todo"
	EventAdjustment      = "adjustment"
)

// Store persists in-app notifications.
type Store interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	HasRecentNotification(ctx context.Context, userID string, objectType model.ObjectType, objectID, event string, since time.Time) (bool, error)
}

// Recipients resolves who should hear about an event.
type Recipients interface {
	UsersWithPermission(ctx context.Context, companyID, code string) ([]scope.Principal, error)
	ActiveUsers(ctx context.Context, companyID string) ([]directory.User, error)
	Name(ctx context.Context, userID string) string
}

// Sink pushes a persisted notification somewhere outside the app.
type Sink interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// Fabric fans business events out to recipients.
type Fabric struct {
	store      Store
	recipients Recipients
	sinks      []Sink
	log        *slog.Logger
	now        func() time.Time
	dedupe     time.Duration
	// Disabled turns every send into a no-op.
	Disabled bool
}

// Option configures a Fabric.
type Option func(*Fabric)

// WithSinks adds external push sinks.
func WithSinks(sinks ...Sink) Option {
	return func(f *Fabric) { f.sinks = append(f.sinks, sinks...) }
}

// WithDedupeWindow sets how long timeout reminders are suppressed.
func WithDedupeWindow(d time.Duration) Option {
	return func(f *Fabric) { f.dedupe = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Fabric) { f.now = now }
}

// New builds a Fabric.
func New(store Store, recipients Recipients, log *slog.Logger, opts ...Option) *Fabric {
	if log == nil {
		log = slog.Default()
	}
	f := &Fabric{
		store:      store,
		recipients: recipients,
		log:        log,
		now:        time.Now,
		dedupe:     24 * time.Hour,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Send persists n and pushes it to every sink. It reports whether the
// in-app notification was stored.
func (f *Fabric) Send(ctx context.Context, n model.Notification) bool {
	if f == nil || f.Disabled || n.UserID == "" {
		return false
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.now().UTC()
	}
	if err := f.store.InsertNotification(ctx, &n); err != nil {
		f.log.Warn("notification dropped", "user_id", n.UserID, "event", n.Event, "err", err)
		return false
	}
	for _, sink := range f.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			f.log.Warn("notification push failed", "user_id", n.UserID, "event", n.Event, "err", err)
		}
	}
	return true
}

// sendOnce sends unless the recipient already got the same event about the
// object within the dedupe window.
func (f *Fabric) sendOnce(ctx context.Context, n model.Notification) bool {
	if f == nil || f.Disabled {
		return false
	}
	since := f.now().Add(-f.dedupe)
	seen, err := f.store.HasRecentNotification(ctx, n.UserID, n.ObjectType, n.ObjectID, n.Event, since)
	if err != nil {
		f.log.Warn("notification dedupe check failed", "user_id", n.UserID, "event", n.Event, "err", err)
		return false
	}
	if seen {
		return false
	}
	return f.Send(ctx, n)
}
