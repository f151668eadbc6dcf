package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"planengine/internal/directory"
	"planengine/internal/model"
	"planengine/internal/scope"
)

type memoryStore struct {
	items []model.Notification
	fail  bool
}

func (m *memoryStore) InsertNotification(_ context.Context, n *model.Notification) error {
	if m.fail {
		return errors.New("store down")
	}
	m.items = append(m.items, *n)
	return nil
}

func (m *memoryStore) HasRecentNotification(_ context.Context, userID string, objectType model.ObjectType, objectID, event string, since time.Time) (bool, error) {
	for _, n := range m.items {
		if n.UserID == userID && n.ObjectType == objectType && n.ObjectID == objectID && n.Event == event && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

type failingSink struct{ calls int }

func (s *failingSink) Deliver(context.Context, model.Notification) error {
	s.calls++
	return errors.New("push down")
}

func testFabric(t *testing.T, store *memoryStore, now *time.Time, opts ...Option) *Fabric {
	t.Helper()
	dir := directory.NewStatic(
		[]directory.Company{{ID: "c1"}},
		nil,
		[]directory.User{
			{ID: "mgr", CompanyID: "c1", Roles: []string{"general_manager"}},
			{ID: "mgr2", CompanyID: "c1", Permissions: []string{"plan_management.approve_plan"}},
			{ID: "u1", CompanyID: "c1"},
			{ID: "u2", CompanyID: "c1"},
		},
	)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := scope.NewResolver(dir, nil, log)
	opts = append(opts, WithClock(func() time.Time { return *now }))
	return New(store, resolver, log, opts...)
}

func TestSubmittedSkipsActor(t *testing.T) {
	store := &memoryStore{}
	now := time.Now()
	f := testFabric(t, store, &now)
	obj := Object{Kind: model.KindPlan, ID: "p1", Name: "Q1 Launch", CompanyID: "c1"}

	sent := f.Submitted(context.Background(), obj, model.RequestStart, scope.Principal{UserID: "mgr2"}, "please")
	if sent != 1 || store.items[0].UserID != "mgr" {
		t.Fatalf("sent = %d to %#v, want only mgr", sent, store.items)
	}
	if store.items[0].Title != "有新的计划需要审批" {
		t.Fatalf("title = %q", store.items[0].Title)
	}
	if !strings.Contains(store.items[0].Content, "Q1 Launch") || !strings.Contains(store.items[0].Content, "please") {
		t.Fatalf("content = %q", store.items[0].Content)
	}
}

func TestCompanyGoalPublished(t *testing.T) {
	store := &memoryStore{}
	now := time.Now()
	f := testFabric(t, store, &now)
	obj := Object{Kind: model.KindGoal, Level: model.LevelCompany, ID: "g1", Name: "Revenue", CompanyID: "c1", CreatedBy: "mgr"}

	if sent := f.Published(context.Background(), obj); sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}
	for _, n := range store.items {
		if n.UserID == "mgr" {
			t.Fatal("creator should not be notified")
		}
		if n.Content != "请创建个人目标进行对齐" {
			t.Fatalf("content = %q", n.Content)
		}
	}
}

func TestDraftTimeoutDedupe(t *testing.T) {
	store := &memoryStore{}
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	f := testFabric(t, store, &now)
	obj := Object{Kind: model.KindPlan, ID: "p1", Name: "stale", ResponsiblePerson: "u1"}

	if f.DraftTimeout(context.Background(), obj, 8) != 1 {
		t.Fatal("first reminder not sent")
	}
	now = now.Add(23 * time.Hour)
	if f.DraftTimeout(context.Background(), obj, 8) != 0 {
		t.Fatal("reminder repeated inside the dedupe window")
	}
	now = now.Add(2 * time.Hour)
	if f.DraftTimeout(context.Background(), obj, 9) != 1 {
		t.Fatal("reminder not repeated after the dedupe window")
	}
}

func TestSendIsBestEffort(t *testing.T) {
	now := time.Now()
	sink := &failingSink{}
	store := &memoryStore{}
	f := testFabric(t, store, &now, WithSinks(sink))
	if !f.Send(context.Background(), model.Notification{UserID: "u1", Title: "t", Event: EventTodo}) {
		t.Fatal("stored notification reported as dropped")
	}
	if sink.calls != 1 {
		t.Fatalf("sink calls = %d, want 1", sink.calls)
	}

	store.fail = true
	if f.Send(context.Background(), model.Notification{UserID: "u1", Title: "t"}) {
		t.Fatal("failed store reported as sent")
	}

	f.Disabled = true
	if f.Send(context.Background(), model.Notification{UserID: "u1", Title: "t"}) {
		t.Fatal("disabled fabric sent")
	}
}

func TestFormatTelegramEscapes(t *testing.T) {
	got := FormatTelegram(model.Notification{Title: "<b>x</b>", Content: "a & b", Event: EventApprove})
	if got != "✅ <b>&lt;b&gt;x&lt;/b&gt;</b>\n\na &amp; b" {
		t.Fatalf("formatted = %q", got)
	}
}
