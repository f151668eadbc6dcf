// Package adjudicator owns the status transition table for plans and goals.
// Every status write in the engine goes through Adjudicate.
package adjudicator

import (
	"fmt"
	"strings"

	"planengine/internal/model"
)

// Reasons recorded in status logs.
const (
	ReasonRepaired      = "non-enum status repaired"
	ReasonAutoCompleted = "所有任务已完成，系统自动完成"
	ReasonCancelBlocked = "已完成，不能取消"
	ReasonTerminal      = "terminal status locked"
	ReasonUnchanged     = "no applicable transition"
)

// EventType names the action being adjudicated.
type EventType string

const (
	EventStart   EventType = "start"
	EventCancel  EventType = "cancel"
	EventPublish EventType = "publish"
	EventAccept  EventType = "accept"
)

// Event is a human decision or hand-off action. A zero Event means only
// system facts are being evaluated.
type Event struct {
	Type     EventType
	Decision model.Decision
}

// IsZero reports whether no event is present.
func (e Event) IsZero() bool {
	return e.Type == ""
}

// Facts are system observations about the entity.
type Facts struct {
	AllTasksCompleted bool
	Progress          float64
}

func (f Facts) done() bool {
	return f.AllTasksCompleted || f.Progress >= 100
}

// Readiness describes which execution preconditions the entity satisfies.
type Readiness struct {
	HasResponsiblePerson bool
	HasStartTime         bool
	HasName              bool
	HasOwner             bool
}

// Preconditions selects which readiness facts gate a start approval.
type Preconditions struct {
	RequireResponsiblePerson bool `mapstructure:"require_responsible_person"`
	RequireStartTime         bool `mapstructure:"require_start_time"`
	RequireName              bool `mapstructure:"require_name"`
}

// DefaultPreconditions requires every readiness fact.
func DefaultPreconditions() Preconditions {
	return Preconditions{
		RequireResponsiblePerson: true,
		RequireStartTime:         true,
		RequireName:              true,
	}
}

// Input is everything Adjudicate needs to decide.
type Input struct {
	Kind          model.Kind
	Level         model.Level
	Current       model.Status
	Event         Event
	Facts         Facts
	Readiness     Readiness
	Preconditions Preconditions
}

// Result is the outcome of one adjudication.
type Result struct {
	Next    model.Status
	Changed bool
	// Blocked marks an approved event the table refused. The caller still
	// records it in the status log.
	Blocked bool
	Unmet   []string
	Reason  string
}

// Adjudicate maps (current status, event, facts) to the next status.
func Adjudicate(in Input) Result {
	if !in.Current.Known() {
		return changed(model.StatusDraft, ReasonRepaired)
	}
	if in.Current.Terminal() {
		return same(in.Current, ReasonTerminal)
	}

	if in.Event.IsZero() {
		if in.Current == model.StatusInProgress && in.Facts.done() {
			return changed(model.StatusCompleted, ReasonAutoCompleted)
		}
		return same(in.Current, ReasonUnchanged)
	}

	switch in.Event.Type {
	case EventStart:
		return start(in)
	case EventCancel:
		return cancel(in)
	case EventPublish:
		if in.Current != model.StatusDraft {
			return same(in.Current, ReasonUnchanged)
		}
		if in.Level == model.LevelPersonal && !in.Readiness.HasOwner {
			return blocked(in.Current, []string{"owner"})
		}
		return changed(model.StatusPublished, "published")
	case EventAccept:
		if in.Current != model.StatusPublished {
			return same(in.Current, ReasonUnchanged)
		}
		return changed(model.StatusAccepted, "accepted")
	}
	return same(in.Current, ReasonUnchanged)
}

func start(in Input) Result {
	if !startable(in.Current) {
		return same(in.Current, ReasonUnchanged)
	}
	if in.Event.Decision != model.DecisionApprove {
		return same(in.Current, "start rejected")
	}
	if unmet := unmetPreconditions(in.Readiness, in.Preconditions); len(unmet) > 0 {
		return blocked(in.Current, unmet)
	}
	return changed(model.StatusInProgress, "start approved")
}

func cancel(in Input) Result {
	if in.Event.Decision != model.DecisionApprove {
		return same(in.Current, "cancel rejected")
	}
	switch {
	case startable(in.Current):
		return changed(model.StatusCancelled, "cancel approved")
	case in.Current == model.StatusInProgress:
		if in.Facts.done() {
			r := same(in.Current, ReasonCancelBlocked)
			r.Blocked = true
			return r
		}
		return changed(model.StatusCancelled, "cancel approved")
	}
	return same(in.Current, ReasonUnchanged)
}

func unmetPreconditions(r Readiness, p Preconditions) []string {
	var unmet []string
	if p.RequireResponsiblePerson && !r.HasResponsiblePerson {
		unmet = append(unmet, "responsible_person")
	}
	if p.RequireStartTime && !r.HasStartTime {
		unmet = append(unmet, "start_time")
	}
	if p.RequireName && !r.HasName {
		unmet = append(unmet, "name")
	}
	return unmet
}

// startable lists the statuses a start request may leave from.
func startable(s model.Status) bool {
	return s == model.StatusDraft || s == model.StatusPublished || s == model.StatusAccepted
}

// CanRequest reports whether a decision request of type rt may be raised
// against an entity in status s.
func CanRequest(s model.Status, rt model.RequestType) bool {
	switch rt {
	case model.RequestStart:
		return startable(s)
	case model.RequestCancel:
		return startable(s) || s == model.StatusInProgress
	}
	return false
}

// MigrateLegacyStatus maps a retired approval status onto the current
// lattice. ok is false when raw is not a legacy status.
func MigrateLegacyStatus(raw string) (model.Status, bool) {
	switch strings.TrimSpace(raw) {
	case "approved":
		return model.StatusInProgress, true
	case "pending_approval", "approving":
		return model.StatusDraft, true
	}
	return "", false
}

func changed(next model.Status, reason string) Result {
	return Result{Next: next, Changed: true, Reason: reason}
}

func same(cur model.Status, reason string) Result {
	return Result{Next: cur, Reason: reason}
}

func blocked(cur model.Status, unmet []string) Result {
	return Result{
		Next:    cur,
		Blocked: true,
		Unmet:   unmet,
		Reason:  fmt.Sprintf("执行条件不满足: %s", strings.Join(unmet, ", ")),
	}
}
