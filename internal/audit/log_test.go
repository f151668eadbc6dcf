package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"planengine/internal/store"
)

type memorySink struct {
	events []*store.Event
	err    error
}

func (m *memorySink) AppendEvent(_ context.Context, e *store.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordWritesEvent(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, quietLogger())
	r.Record(context.Background(), Entry{
		Actor:      "u1",
		Action:     ActionDecide,
		ObjectType: "plan",
		ObjectID:   "p1",
		Changes:    Diff(map[string]any{"status": "draft"}, map[string]any{"status": "in_progress"}),
	})
	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	got := sink.events[0].Changes["status"]
	if got.From != "draft" || got.To != "in_progress" {
		t.Fatalf("status change = %#v", got)
	}
}

func TestRecordSwallowsErrors(t *testing.T) {
	r := NewRecorder(&memorySink{err: errors.New("disk full")}, quietLogger())
	r.Record(context.Background(), Entry{Action: ActionCreate})

	var nilRecorder *Recorder
	nilRecorder.Record(context.Background(), Entry{Action: ActionCreate})
}

func TestDiffSkipsUnchanged(t *testing.T) {
	changes := Diff(
		map[string]any{"name": "a", "progress": 10.0, "gone": "x"},
		map[string]any{"name": "a", "progress": 20.0},
	)
	if _, ok := changes["name"]; ok {
		t.Fatal("unchanged name reported")
	}
	if changes["progress"].To != 20.0 {
		t.Fatalf("progress = %#v", changes["progress"])
	}
	if _, ok := changes["gone"]; !ok {
		t.Fatal("removed field not reported")
	}
}

func TestUnifiedDiff(t *testing.T) {
	out, err := UnifiedDiff("goal G1", map[string]any{"end_date": "2025-03-31", "target": 100}, map[string]any{"end_date": "2025-04-30", "target": 100})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "-end_date: 2025-03-31") || !strings.Contains(out, "+end_date: 2025-04-30") {
		t.Fatalf("diff = %q", out)
	}
}
