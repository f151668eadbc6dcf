package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Change is the before and after value of one field.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Event is one append-only audit row.
type Event struct {
	ID         string            `json:"id"`
	At         time.Time         `json:"at"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	ObjectType string            `json:"object_type"`
	ObjectID   string            `json:"object_id"`
	Changes    map[string]Change `json:"changes,omitempty"`
	Meta       map[string]any    `json:"meta,omitempty"`
}

// AppendEvent writes an audit event.
func (c *conn) AppendEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	changes, err := json.Marshal(orEmpty(e.Changes))
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	meta, err := json.Marshal(orEmpty(e.Meta))
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	_, err = c.exec(ctx, `
		INSERT INTO audit_events (id, at, actor, action, object_type, object_id, changes_json, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, ts(e.At), e.Actor, e.Action, e.ObjectType, e.ObjectID, string(changes), string(meta))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func orEmpty[M ~map[string]V, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}

// EventFilter narrows audit reads.
type EventFilter struct {
	ObjectType string
	ObjectID   string
	Action     string
	Limit      int
}

// Events returns audit events, oldest first.
func (c *conn) Events(ctx context.Context, f EventFilter) ([]Event, error) {
	w := &whereBuilder{}
	if f.ObjectType != "" {
		w.add("object_type = ?", f.ObjectType)
	}
	if f.ObjectID != "" {
		w.add("object_id = ?", f.ObjectID)
	}
	if f.Action != "" {
		w.add("action = ?", f.Action)
	}
	rows, err := c.query(ctx, `SELECT id, at, actor, action, object_type, object_id, changes_json, meta_json
		FROM audit_events`+w.sql()+` ORDER BY at, id`+limitClause(f.Limit, 0), w.args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var at, changes, meta string
		if err := rows.Scan(&e.ID, &at, &e.Actor, &e.Action, &e.ObjectType, &e.ObjectID, &changes, &meta); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.At = parseTS(at)
		if err := json.Unmarshal([]byte(changes), &e.Changes); err != nil {
			return nil, fmt.Errorf("decode changes: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
