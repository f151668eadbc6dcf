package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planengine/internal/model"
)

const todoColumns = `id, assignee, type, related_type, related_id, period_key, title, description,
	deadline, status, auto_generated, created_by, created_at, completed_at, company_id`

// TodoFilter narrows todo reads.
type TodoFilter struct {
	Assignee string
	Statuses []model.TodoStatus
	Type     model.TodoType
	Limit    int
	Offset   int
}

// TodoMatch selects open todos completed by a target action. Empty fields
// match anything.
type TodoMatch struct {
	Type        model.TodoType
	Assignee    string
	RelatedType string
	RelatedID   string
	PeriodKey   string
}

var openTodoStatuses = []string{string(model.TodoPending), string(model.TodoInProgress), string(model.TodoOverdue)}

func scanTodo(row rowScanner) (model.Todo, error) {
	var t model.Todo
	var typ, status, deadline, created string
	var auto int64
	var completed sql.NullString
	err := row.Scan(&t.ID, &t.Assignee, &typ, &t.RelatedType, &t.RelatedID, &t.PeriodKey, &t.Title, &t.Description,
		&deadline, &status, &auto, &t.CreatedBy, &created, &completed, &t.CompanyID)
	if err != nil {
		return model.Todo{}, err
	}
	t.Type = model.TodoType(typ)
	t.Status = model.TodoStatus(status)
	t.Deadline = parseTS(deadline)
	t.AutoGenerated = auto != 0
	t.CreatedAt = parseTS(created)
	t.CompletedAt = parseTSPtr(completed)
	return t, nil
}

// InsertTodo stores t unless a todo with the same key exists. created
// reports whether a row was written.
func (c *conn) InsertTodo(ctx context.Context, t *model.Todo) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = model.TodoPending
	}
	res, err := c.exec(ctx, `
		INSERT INTO todos (id, assignee, type, related_type, related_id, period_key, title, description,
			deadline, status, auto_generated, created_by, created_at, company_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, assignee, related_type, related_id, period_key) DO NOTHING
	`, t.ID, t.Assignee, string(t.Type), t.RelatedType, t.RelatedID, t.PeriodKey, t.Title, t.Description,
		ts(t.Deadline), string(t.Status), boolInt(t.AutoGenerated), t.CreatedBy, ts(t.CreatedAt), t.CompanyID)
	if err != nil {
		return false, fmt.Errorf("insert todo: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetTodo returns a todo by id.
func (c *conn) GetTodo(ctx context.Context, id string) (*model.Todo, error) {
	t, err := scanTodo(c.queryRow(ctx, "SELECT "+todoColumns+" FROM todos WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("todo %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get todo: %w", err)
	}
	return &t, nil
}

// ListTodos returns persisted todos ordered by deadline.
func (c *conn) ListTodos(ctx context.Context, f TodoFilter) ([]model.Todo, error) {
	w := &whereBuilder{}
	if f.Assignee != "" {
		w.add("assignee = ?", f.Assignee)
	}
	w.in("status", statusStrings(f.Statuses))
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	rows, err := c.query(ctx, "SELECT "+todoColumns+" FROM todos"+w.sql()+
		" ORDER BY deadline, created_at, id"+limitClause(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()
	var out []model.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteTodo marks one of the assignee's open todos completed. Completing
// an already completed todo is a no-op.
func (c *conn) CompleteTodo(ctx context.Context, id, assignee string, at time.Time) error {
	t, err := scanTodo(c.queryRow(ctx, "SELECT "+todoColumns+" FROM todos WHERE id = ? AND assignee = ?", id, assignee))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("todo %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get todo: %w", err)
	}
	switch t.Status {
	case model.TodoCompleted:
		return nil
	case model.TodoCancelled:
		return fmt.Errorf("todo %s is cancelled: %w", id, model.ErrInvalidStatus)
	}
	if _, err := c.exec(ctx, "UPDATE todos SET status = 'completed', completed_at = ? WHERE id = ?", ts(at), id); err != nil {
		return fmt.Errorf("complete todo: %w", err)
	}
	return nil
}

// CompleteMatchingTodos completes every open todo matching m.
func (c *conn) CompleteMatchingTodos(ctx context.Context, m TodoMatch, at time.Time) (int, error) {
	w := &whereBuilder{}
	w.in("status", openTodoStatuses)
	if m.Type != "" {
		w.add("type = ?", string(m.Type))
	}
	if m.Assignee != "" {
		w.add("assignee = ?", m.Assignee)
	}
	if m.RelatedType != "" {
		w.add("related_type = ?", m.RelatedType)
	}
	if m.RelatedID != "" {
		w.add("related_id = ?", m.RelatedID)
	}
	if m.PeriodKey != "" {
		w.add("period_key = ?", m.PeriodKey)
	}
	args := append([]any{ts(at)}, w.args...)
	res, err := c.exec(ctx, "UPDATE todos SET status = 'completed', completed_at = ?"+w.sql(), args...)
	if err != nil {
		return 0, fmt.Errorf("complete todos: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkOverdueTodos flags pending todos whose deadline has passed.
func (c *conn) MarkOverdueTodos(ctx context.Context, now time.Time) (int, error) {
	res, err := c.exec(ctx, `UPDATE todos SET status = 'overdue'
		WHERE status IN ('pending', 'in_progress') AND deadline < ?`, ts(now))
	if err != nil {
		return 0, fmt.Errorf("mark overdue todos: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CancelTodosFor cancels the open todos attached to an object.
func (c *conn) CancelTodosFor(ctx context.Context, relatedType, relatedID string) (int, error) {
	w := &whereBuilder{}
	w.in("status", openTodoStatuses)
	w.add("related_type = ?", relatedType)
	w.add("related_id = ?", relatedID)
	res, err := c.exec(ctx, "UPDATE todos SET status = 'cancelled'"+w.sql(), w.args...)
	if err != nil {
		return 0, fmt.Errorf("cancel todos: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
