// Package audit records append-only business events.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"planengine/internal/store"
)

// Actions written by the engine.
const (
	ActionCreate           = "create"
	ActionUpdate           = "update"
	ActionSubmit           = "submit"
	ActionDecide           = "decide"
	ActionPublish          = "publish"
	ActionAccept           = "accept"
	ActionApplyAdjustment  = "apply_adjustment"
	ActionRequestAdjust    = "request_adjustment"
	ActionProgressUpdate   = "progress_update"
	ActionStatusChange     = "status_change"
	ActionLegacyMigration  = "legacy_migration"
	ActionJobStarted       = "job_started"
	ActionJobSucceeded     = "job_succeeded"
	ActionJobFailed        = "job_failed"
	ActionSchedulerStarted = "scheduler_started"
	ActionSchedulerStopped = "scheduler_stopped"
	ActionWorkspaceInit    = "workspace_init"
)

// Sink persists events.
type Sink interface {
	AppendEvent(ctx context.Context, e *store.Event) error
}

// Recorder writes audit events. Failures are logged and swallowed.
type Recorder struct {
	sink Sink
	log  *slog.Logger
	now  func() time.Time
}

// NewRecorder returns a Recorder writing to sink. A nil sink disables
// recording.
func NewRecorder(sink Sink, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sink: sink, log: log, now: time.Now}
}

// Entry is one event to record.
type Entry struct {
	Actor      string
	Action     string
	ObjectType string
	ObjectID   string
	Changes    map[string]store.Change
	Meta       map[string]any
}

// Record writes e. It never fails the caller.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.sink == nil {
		return
	}
	event := &store.Event{
		At:         r.now().UTC(),
		Actor:      e.Actor,
		Action:     e.Action,
		ObjectType: e.ObjectType,
		ObjectID:   e.ObjectID,
		Changes:    e.Changes,
		Meta:       e.Meta,
	}
	if err := r.sink.AppendEvent(ctx, event); err != nil {
		r.log.Warn("audit write failed", "action", e.Action, "object_type", e.ObjectType, "object_id", e.ObjectID, "err", err)
	}
}

// Diff lists the fields whose values differ between before and after.
func Diff(before, after map[string]any) map[string]store.Change {
	changes := make(map[string]store.Change)
	for k, to := range after {
		from := before[k]
		if !reflect.DeepEqual(from, to) {
			changes[k] = store.Change{From: from, To: to}
		}
	}
	for k, from := range before {
		if _, ok := after[k]; !ok {
			changes[k] = store.Change{From: from, To: nil}
		}
	}
	return changes
}

// UnifiedDiff renders field maps as a unified text diff for review.
func UnifiedDiff(name string, before, after map[string]any) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(render(before)),
		B:        difflib.SplitLines(render(after)),
		FromFile: name + " (current)",
		ToFile:   name + " (proposed)",
		Context:  2,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("render diff: %w", err)
	}
	return out, nil
}

func render(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, fields[k])
	}
	return b.String()
}
