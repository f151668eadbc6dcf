package adjudicator

import (
	"testing"

	"planengine/internal/model"
)

func ready() Readiness {
	return Readiness{HasResponsiblePerson: true, HasStartTime: true, HasName: true, HasOwner: true}
}

func approve(t EventType) Event { return Event{Type: t, Decision: model.DecisionApprove} }
func reject(t EventType) Event  { return Event{Type: t, Decision: model.DecisionReject} }

func TestAdjudicateTable(t *testing.T) {
	cases := []struct {
		name    string
		in      Input
		next    model.Status
		changed bool
		blocked bool
		reason  string
	}{
		{
			name:    "repair unknown status",
			in:      Input{Current: "approving"},
			next:    model.StatusDraft,
			changed: true,
			reason:  ReasonRepaired,
		},
		{
			name: "completed is locked",
			in:   Input{Current: model.StatusCompleted, Event: approve(EventCancel)},
			next: model.StatusCompleted,
		},
		{
			name: "cancelled is locked against facts",
			in:   Input{Current: model.StatusCancelled, Facts: Facts{Progress: 100}},
			next: model.StatusCancelled,
		},
		{
			name:    "draft start approved",
			in:      Input{Current: model.StatusDraft, Event: approve(EventStart), Readiness: ready(), Preconditions: DefaultPreconditions()},
			next:    model.StatusInProgress,
			changed: true,
		},
		{
			name:    "accepted start approved",
			in:      Input{Current: model.StatusAccepted, Event: approve(EventStart), Readiness: ready(), Preconditions: DefaultPreconditions()},
			next:    model.StatusInProgress,
			changed: true,
		},
		{
			name:    "draft start approved but not ready",
			in:      Input{Current: model.StatusDraft, Event: approve(EventStart), Readiness: Readiness{HasName: true}, Preconditions: DefaultPreconditions()},
			next:    model.StatusDraft,
			blocked: true,
		},
		{
			name: "draft start rejected",
			in:   Input{Current: model.StatusDraft, Event: reject(EventStart), Readiness: ready()},
			next: model.StatusDraft,
		},
		{
			name:    "draft cancel approved",
			in:      Input{Current: model.StatusDraft, Event: approve(EventCancel)},
			next:    model.StatusCancelled,
			changed: true,
		},
		{
			name:    "in progress auto completes on progress",
			in:      Input{Current: model.StatusInProgress, Facts: Facts{Progress: 100}},
			next:    model.StatusCompleted,
			changed: true,
			reason:  ReasonAutoCompleted,
		},
		{
			name:    "in progress auto completes on tasks",
			in:      Input{Current: model.StatusInProgress, Facts: Facts{AllTasksCompleted: true, Progress: 40}},
			next:    model.StatusCompleted,
			changed: true,
			reason:  ReasonAutoCompleted,
		},
		{
			name: "facts ignored when an event is present",
			in:   Input{Current: model.StatusInProgress, Event: reject(EventCancel), Facts: Facts{Progress: 100}},
			next: model.StatusInProgress,
		},
		{
			name:    "in progress cancel approved",
			in:      Input{Current: model.StatusInProgress, Event: approve(EventCancel), Facts: Facts{Progress: 70}},
			next:    model.StatusCancelled,
			changed: true,
		},
		{
			name:    "in progress cancel blocked when done",
			in:      Input{Current: model.StatusInProgress, Event: approve(EventCancel), Facts: Facts{Progress: 100}},
			next:    model.StatusInProgress,
			blocked: true,
			reason:  ReasonCancelBlocked,
		},
		{
			name: "in progress cancel rejected",
			in:   Input{Current: model.StatusInProgress, Event: reject(EventCancel)},
			next: model.StatusInProgress,
		},
		{
			name: "in progress start is a no-op",
			in:   Input{Current: model.StatusInProgress, Event: approve(EventStart), Readiness: ready()},
			next: model.StatusInProgress,
		},
		{
			name:    "company draft publishes without owner",
			in:      Input{Level: model.LevelCompany, Current: model.StatusDraft, Event: Event{Type: EventPublish}},
			next:    model.StatusPublished,
			changed: true,
		},
		{
			name:    "personal draft needs owner to publish",
			in:      Input{Level: model.LevelPersonal, Current: model.StatusDraft, Event: Event{Type: EventPublish}},
			next:    model.StatusDraft,
			blocked: true,
		},
		{
			name:    "published accepts",
			in:      Input{Current: model.StatusPublished, Event: Event{Type: EventAccept}},
			next:    model.StatusAccepted,
			changed: true,
		},
		{
			name: "draft cannot accept",
			in:   Input{Current: model.StatusDraft, Event: Event{Type: EventAccept}},
			next: model.StatusDraft,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Adjudicate(tc.in)
			if got.Next != tc.next {
				t.Fatalf("next = %q, want %q", got.Next, tc.next)
			}
			if got.Changed != tc.changed {
				t.Fatalf("changed = %v, want %v", got.Changed, tc.changed)
			}
			if got.Blocked != tc.blocked {
				t.Fatalf("blocked = %v, want %v", got.Blocked, tc.blocked)
			}
			if tc.reason != "" && got.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", got.Reason, tc.reason)
			}
		})
	}
}

func TestAdjudicateListsUnmetPreconditions(t *testing.T) {
	got := Adjudicate(Input{
		Current:       model.StatusDraft,
		Event:         approve(EventStart),
		Readiness:     Readiness{HasName: true},
		Preconditions: DefaultPreconditions(),
	})
	if len(got.Unmet) != 2 || got.Unmet[0] != "responsible_person" || got.Unmet[1] != "start_time" {
		t.Fatalf("unmet = %#v", got.Unmet)
	}

	relaxed := Adjudicate(Input{
		Current:       model.StatusDraft,
		Event:         approve(EventStart),
		Readiness:     Readiness{HasName: true},
		Preconditions: Preconditions{RequireName: true},
	})
	if relaxed.Next != model.StatusInProgress {
		t.Fatalf("relaxed next = %q, want %q", relaxed.Next, model.StatusInProgress)
	}
}

func TestAdjudicateDeterministic(t *testing.T) {
	in := Input{Current: model.StatusInProgress, Event: approve(EventCancel), Facts: Facts{Progress: 100}}
	first := Adjudicate(in)
	for i := 0; i < 10; i++ {
		if got := Adjudicate(in); got.Next != first.Next || got.Reason != first.Reason {
			t.Fatalf("run %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestCanRequest(t *testing.T) {
	cases := []struct {
		status model.Status
		rt     model.RequestType
		want   bool
	}{
		{model.StatusDraft, model.RequestStart, true},
		{model.StatusPublished, model.RequestStart, true},
		{model.StatusInProgress, model.RequestStart, false},
		{model.StatusCompleted, model.RequestStart, false},
		{model.StatusDraft, model.RequestCancel, true},
		{model.StatusInProgress, model.RequestCancel, true},
		{model.StatusCompleted, model.RequestCancel, false},
		{model.StatusCancelled, model.RequestCancel, false},
	}
	for _, tc := range cases {
		if got := CanRequest(tc.status, tc.rt); got != tc.want {
			t.Fatalf("CanRequest(%s, %s) = %v, want %v", tc.status, tc.rt, got, tc.want)
		}
	}
}

func TestMigrateLegacyStatus(t *testing.T) {
	cases := map[string]model.Status{
		"approved":         model.StatusInProgress,
		"pending_approval": model.StatusDraft,
		"approving":        model.StatusDraft,
	}
	for raw, want := range cases {
		got, ok := MigrateLegacyStatus(raw)
		if !ok || got != want {
			t.Fatalf("MigrateLegacyStatus(%q) = %q, %v, want %q", raw, got, ok, want)
		}
	}
	if _, ok := MigrateLegacyStatus("draft"); ok {
		t.Fatal("draft should not be treated as legacy")
	}
}
