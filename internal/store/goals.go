package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"planengine/internal/model"
	"planengine/internal/scope"
)

const goalColumns = `g.id, g.number, g.name, g.description, g.level, g.goal_type, g.goal_period, g.status,
	g.indicator_name, g.indicator_kind, g.indicator_unit, g.target_value, g.current_value,
	g.completion_rate, g.weight, g.start_date, g.end_date, g.parent_goal, g.owner,
	g.responsible_person, g.company_id, g.department_id, g.created_by, g.created_at,
	g.updated_at, g.published_at, g.accepted_at, g.completed_at`

// GoalFilter narrows goal reads. Zero fields do not filter.
type GoalFilter struct {
	Statuses []model.Status
	Level    model.Level
	Period   model.GoalPeriod
	// Mine matches goals the user is responsible for, owns or created.
	Mine        string
	Owner       string
	Responsible string
	Involved    string
	ParentGoal  string
	// OverdueAt matches non-terminal goals whose end_date is before it.
	// Callers pass calendar.OverdueCutoff.
	OverdueAt     *time.Time
	Overlaps      *Window
	CompletedIn   *Window
	CreatedBefore *time.Time
	Query         string
	Limit         int
	Offset        int
}

func scanGoal(row rowScanner) (model.Goal, error) {
	var g model.Goal
	var level, goalType, period, status, kind string
	var start, end, published, accepted, completed sql.NullString
	var created, updated string
	err := row.Scan(
		&g.ID, &g.Number, &g.Name, &g.Description, &level, &goalType, &period, &status,
		&g.Indicator.Name, &kind, &g.Indicator.Unit, &g.Indicator.TargetValue, &g.Indicator.CurrentValue,
		&g.CompletionRate, &g.Weight, &start, &end, &g.ParentGoal, &g.Owner,
		&g.ResponsiblePerson, &g.CompanyID, &g.DepartmentID, &g.CreatedBy, &created,
		&updated, &published, &accepted, &completed,
	)
	if err != nil {
		return model.Goal{}, err
	}
	g.Level = model.Level(level)
	g.GoalType = model.GoalType(goalType)
	g.GoalPeriod = model.GoalPeriod(period)
	g.Status = model.Status(status)
	g.Indicator.Kind = model.IndicatorKind(kind)
	g.StartDate = parseTSPtr(start)
	g.EndDate = parseTSPtr(end)
	g.CreatedAt = parseTS(created)
	g.UpdatedAt = parseTS(updated)
	g.PublishedAt = parseTSPtr(published)
	g.AcceptedAt = parseTSPtr(accepted)
	g.CompletedAt = parseTSPtr(completed)
	return g, nil
}

// CreateGoal inserts g, assigning id, number and timestamps.
func (tx *Tx) CreateGoal(ctx context.Context, g *model.Goal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.UpdatedAt = g.CreatedAt
	number, err := tx.nextNumber(ctx, "goals", "GOAL-"+g.CreatedAt.In(tx.loc).Format("20060102")+"-")
	if err != nil {
		return err
	}
	g.Number = number

	_, err = tx.exec(ctx, `
		INSERT INTO goals (id, number, name, description, level, goal_type, goal_period, status,
			indicator_name, indicator_kind, indicator_unit, target_value, current_value,
			completion_rate, weight, start_date, end_date, parent_goal, owner,
			responsible_person, company_id, department_id, created_by, created_at,
			updated_at, published_at, accepted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.Number, g.Name, g.Description, string(g.Level), string(g.GoalType), string(g.GoalPeriod), string(g.Status),
		g.Indicator.Name, string(g.Indicator.Kind), g.Indicator.Unit, g.Indicator.TargetValue, g.Indicator.CurrentValue,
		g.CompletionRate, g.Weight, tsPtr(g.StartDate), tsPtr(g.EndDate), g.ParentGoal, g.Owner,
		g.ResponsiblePerson, g.CompanyID, g.DepartmentID, g.CreatedBy, ts(g.CreatedAt),
		ts(g.UpdatedAt), tsPtr(g.PublishedAt), tsPtr(g.AcceptedAt), tsPtr(g.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

// GetGoal returns a goal by id.
func (c *conn) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	return c.getGoal(ctx, id, "")
}

// LockGoal reads a goal and holds it until the transaction ends.
func (tx *Tx) LockGoal(ctx context.Context, id string) (*model.Goal, error) {
	return tx.getGoal(ctx, id, tx.forUpdate())
}

func (c *conn) getGoal(ctx context.Context, id, suffix string) (*model.Goal, error) {
	g, err := scanGoal(c.queryRow(ctx, "SELECT "+goalColumns+" FROM goals g WHERE g.id = ?"+suffix, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get goal: %w", err)
	}
	return &g, nil
}

// UpdateGoal writes every mutable column of g.
func (c *conn) UpdateGoal(ctx context.Context, g *model.Goal) error {
	res, err := c.exec(ctx, `
		UPDATE goals SET name = ?, description = ?, level = ?, goal_type = ?, goal_period = ?, status = ?,
			indicator_name = ?, indicator_kind = ?, indicator_unit = ?, target_value = ?, current_value = ?,
			completion_rate = ?, weight = ?, start_date = ?, end_date = ?, parent_goal = ?, owner = ?,
			responsible_person = ?, department_id = ?, updated_at = ?,
			published_at = ?, accepted_at = ?, completed_at = ?
		WHERE id = ?
	`, g.Name, g.Description, string(g.Level), string(g.GoalType), string(g.GoalPeriod), string(g.Status),
		g.Indicator.Name, string(g.Indicator.Kind), g.Indicator.Unit, g.Indicator.TargetValue, g.Indicator.CurrentValue,
		g.CompletionRate, g.Weight, tsPtr(g.StartDate), tsPtr(g.EndDate), g.ParentGoal, g.Owner,
		g.ResponsiblePerson, g.DepartmentID, ts(g.UpdatedAt),
		tsPtr(g.PublishedAt), tsPtr(g.AcceptedAt), tsPtr(g.CompletedAt), g.ID)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("goal %s: %w", g.ID, model.ErrNotFound)
	}
	return nil
}

// ListGoals returns one page of goals visible under pred and the total.
func (c *conn) ListGoals(ctx context.Context, pred scope.Predicate, f GoalFilter) ([]model.Goal, int, error) {
	w := c.goalWhere(pred, f)
	total, err := c.count(ctx, "SELECT COUNT(*) FROM goals g"+w.sql(), w.args)
	if err != nil {
		return nil, 0, fmt.Errorf("count goals: %w", err)
	}
	goals, err := c.queryGoals(ctx, "SELECT "+goalColumns+" FROM goals g"+w.sql()+
		" ORDER BY g.created_at DESC, g.id"+limitClause(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, 0, err
	}
	return goals, total, nil
}

// CountGoals counts goals visible under pred.
func (c *conn) CountGoals(ctx context.Context, pred scope.Predicate, f GoalFilter) (int, error) {
	w := c.goalWhere(pred, f)
	n, err := c.count(ctx, "SELECT COUNT(*) FROM goals g"+w.sql(), w.args)
	if err != nil {
		return 0, fmt.Errorf("count goals: %w", err)
	}
	return n, nil
}

func (c *conn) queryGoals(ctx context.Context, query string, args ...any) ([]model.Goal, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()
	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return goals, nil
}

func (c *conn) goalWhere(pred scope.Predicate, f GoalFilter) *whereBuilder {
	w := &whereBuilder{}
	if pred.CompanyID != "" {
		w.add("g.company_id = ?", pred.CompanyID)
	}
	if !pred.All {
		clause := "(g.responsible_person = ? OR g.owner = ? OR g.created_by = ?"
		args := []any{pred.UserID, pred.UserID, pred.UserID}
		if pred.DepartmentID != "" {
			clause += " OR g.department_id = ?"
			args = append(args, pred.DepartmentID)
		}
		w.add(clause+")", args...)
	}

	w.in("g.status", statusStrings(f.Statuses))
	if f.Level != "" {
		w.add("g.level = ?", string(f.Level))
	}
	if f.Period != "" {
		w.add("g.goal_period = ?", string(f.Period))
	}
	if f.Mine != "" {
		w.add("(g.responsible_person = ? OR g.owner = ? OR g.created_by = ?)", f.Mine, f.Mine, f.Mine)
	}
	if f.Owner != "" {
		w.add("g.owner = ?", f.Owner)
	}
	if f.Responsible != "" {
		w.add("g.responsible_person = ?", f.Responsible)
	}
	if f.Involved != "" {
		w.add("(g.responsible_person = ? OR g.owner = ?)", f.Involved, f.Involved)
	}
	if f.ParentGoal != "" {
		w.add("g.parent_goal = ?", f.ParentGoal)
	}
	if f.OverdueAt != nil {
		w.add("g.status NOT IN ('completed', 'cancelled') AND g.end_date IS NOT NULL AND g.end_date < ?", ts(*f.OverdueAt))
	}
	if f.Overlaps != nil {
		w.add("g.start_date IS NOT NULL AND g.start_date < ? AND (g.end_date IS NULL OR g.end_date >= ?)",
			ts(f.Overlaps.To), ts(f.Overlaps.From))
	}
	if f.CompletedIn != nil {
		w.add("g.completed_at IS NOT NULL AND g.completed_at >= ? AND g.completed_at < ?", ts(f.CompletedIn.From), ts(f.CompletedIn.To))
	}
	if f.CreatedBefore != nil {
		w.add("g.created_at < ?", ts(*f.CreatedBefore))
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		w.add("(g.name LIKE ? OR g.number LIKE ? OR g.description LIKE ?)", pattern, pattern, pattern)
	}
	return w
}

// SumGoalWeights totals the weight of non-cancelled goals sharing a company
// and period, leaving out excludeID.
func (c *conn) SumGoalWeights(ctx context.Context, companyID string, period model.GoalPeriod, excludeID string) (float64, error) {
	var sum sql.NullFloat64
	err := c.queryRow(ctx, `
		SELECT SUM(weight) FROM goals
		WHERE company_id = ? AND goal_period = ? AND status <> 'cancelled' AND id <> ?
	`, companyID, string(period), excludeID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum goal weights: %w", err)
	}
	return sum.Float64, nil
}

// GoalDescendants returns every goal below id in the parent chain.
func (c *conn) GoalDescendants(ctx context.Context, id string) ([]model.Goal, error) {
	return c.queryGoals(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM goals WHERE parent_goal = ?
			UNION
			SELECT g.id FROM goals g JOIN tree t ON g.parent_goal = t.id
		)
		SELECT `+goalColumns+` FROM goals g WHERE g.id IN (SELECT id FROM tree) ORDER BY g.created_at, g.id
	`, id)
}
