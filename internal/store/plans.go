package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"planengine/internal/model"
	"planengine/internal/scope"
)

const planColumns = `p.id, p.number, p.name, p.description, p.level, p.period, p.status, p.progress,
	p.responsible_person, p.owner, p.collaboration_plan, p.parent_plan, p.related_goal,
	p.start_time, p.end_time, p.company_id, p.department_id, p.created_by,
	p.created_at, p.updated_at, p.published_at, p.accepted_at, p.completed_at`

// PlanFilter narrows plan reads. Zero fields do not filter.
type PlanFilter struct {
	Statuses []model.Status
	Level    model.Level
	Period   model.PlanPeriod
	// Mine matches plans the user is responsible for, owns or created.
	Mine          string
	Participating string
	Owner         string
	Responsible   string
	// Involved matches responsible person or owner.
	Involved    string
	RelatedGoal string
	ParentPlan  string
	// OverdueAt matches non-terminal plans whose end_time is before it.
	// Callers pass calendar.OverdueCutoff.
	OverdueAt     *time.Time
	Overlaps      *Window
	CompletedIn   *Window
	CreatedBefore *time.Time
	Query         string
	Limit         int
	Offset        int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (model.Plan, error) {
	var p model.Plan
	var level, period, status string
	var start, end, published, accepted, completed sql.NullString
	var created, updated string
	err := row.Scan(
		&p.ID, &p.Number, &p.Name, &p.Description, &level, &period, &status, &p.Progress,
		&p.ResponsiblePerson, &p.Owner, &p.CollaborationPlan, &p.ParentPlan, &p.RelatedGoal,
		&start, &end, &p.CompanyID, &p.DepartmentID, &p.CreatedBy,
		&created, &updated, &published, &accepted, &completed,
	)
	if err != nil {
		return model.Plan{}, err
	}
	p.Level = model.Level(level)
	p.Period = model.PlanPeriod(period)
	p.Status = model.Status(status)
	p.StartTime = parseTSPtr(start)
	p.EndTime = parseTSPtr(end)
	p.CreatedAt = parseTS(created)
	p.UpdatedAt = parseTS(updated)
	p.PublishedAt = parseTSPtr(published)
	p.AcceptedAt = parseTSPtr(accepted)
	p.CompletedAt = parseTSPtr(completed)
	return p, nil
}

// CreatePlan inserts p, assigning id, number and timestamps.
func (tx *Tx) CreatePlan(ctx context.Context, p *model.Plan) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	number, err := tx.nextNumber(ctx, "plans", "PLAN-"+p.CreatedAt.In(tx.loc).Format("2006")+"-")
	if err != nil {
		return err
	}
	p.Number = number

	_, err = tx.exec(ctx, `
		INSERT INTO plans (id, number, name, description, level, period, status, progress,
			responsible_person, owner, collaboration_plan, parent_plan, related_goal,
			start_time, end_time, company_id, department_id, created_by,
			created_at, updated_at, published_at, accepted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Number, p.Name, p.Description, string(p.Level), string(p.Period), string(p.Status), p.Progress,
		p.ResponsiblePerson, p.Owner, p.CollaborationPlan, p.ParentPlan, p.RelatedGoal,
		tsPtr(p.StartTime), tsPtr(p.EndTime), p.CompanyID, p.DepartmentID, p.CreatedBy,
		ts(p.CreatedAt), ts(p.UpdatedAt), tsPtr(p.PublishedAt), tsPtr(p.AcceptedAt), tsPtr(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return tx.SetPlanParticipants(ctx, p.ID, p.Participants)
}

// nextNumber allocates prefix+NNNN under the table's number lock.
func (tx *Tx) nextNumber(ctx context.Context, table, prefix string) (string, error) {
	if err := tx.LockKey(ctx, table+".number"); err != nil {
		return "", err
	}
	var max sql.NullString
	err := tx.queryRow(ctx, fmt.Sprintf("SELECT MAX(number) FROM %s WHERE number LIKE ?", table), prefix+"%").Scan(&max)
	if err != nil {
		return "", fmt.Errorf("read max number: %w", err)
	}
	seq := 0
	if max.Valid && max.String != "" {
		seq, err = strconv.Atoi(strings.TrimPrefix(max.String, prefix))
		if err != nil {
			return "", fmt.Errorf("parse number %q: %w", max.String, err)
		}
	}
	seq++
	if seq > 9999 {
		return "", fmt.Errorf("number sequence %s exhausted", prefix)
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

// SetPlanParticipants replaces the participant set.
func (c *conn) SetPlanParticipants(ctx context.Context, planID string, users []string) error {
	if _, err := c.exec(ctx, "DELETE FROM plan_participants WHERE plan_id = ?", planID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	seen := make(map[string]struct{}, len(users))
	for _, u := range users {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		if _, err := c.exec(ctx, "INSERT INTO plan_participants (plan_id, user_id) VALUES (?, ?)", planID, u); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return nil
}

// GetPlan returns a plan by id.
func (c *conn) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	return c.getPlan(ctx, id, "")
}

// LockPlan reads a plan and holds it until the transaction ends.
func (tx *Tx) LockPlan(ctx context.Context, id string) (*model.Plan, error) {
	return tx.getPlan(ctx, id, tx.forUpdate())
}

func (c *conn) getPlan(ctx context.Context, id, suffix string) (*model.Plan, error) {
	row := c.queryRow(ctx, "SELECT "+planColumns+" FROM plans p WHERE p.id = ?"+suffix, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	plans := []model.Plan{p}
	if err := c.loadParticipants(ctx, plans); err != nil {
		return nil, err
	}
	return &plans[0], nil
}

// UpdatePlan writes every mutable column of p.
func (c *conn) UpdatePlan(ctx context.Context, p *model.Plan) error {
	res, err := c.exec(ctx, `
		UPDATE plans SET name = ?, description = ?, level = ?, period = ?, status = ?, progress = ?,
			responsible_person = ?, owner = ?, collaboration_plan = ?, parent_plan = ?, related_goal = ?,
			start_time = ?, end_time = ?, department_id = ?, updated_at = ?,
			published_at = ?, accepted_at = ?, completed_at = ?
		WHERE id = ?
	`, p.Name, p.Description, string(p.Level), string(p.Period), string(p.Status), p.Progress,
		p.ResponsiblePerson, p.Owner, p.CollaborationPlan, p.ParentPlan, p.RelatedGoal,
		tsPtr(p.StartTime), tsPtr(p.EndTime), p.DepartmentID, ts(p.UpdatedAt),
		tsPtr(p.PublishedAt), tsPtr(p.AcceptedAt), tsPtr(p.CompletedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s: %w", p.ID, model.ErrNotFound)
	}
	return nil
}

// ListPlans returns one page of plans visible under pred and the total.
func (c *conn) ListPlans(ctx context.Context, pred scope.Predicate, f PlanFilter) ([]model.Plan, int, error) {
	w := c.planWhere(pred, f)
	total, err := c.count(ctx, "SELECT COUNT(*) FROM plans p"+w.sql(), w.args)
	if err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}
	rows, err := c.query(ctx, "SELECT "+planColumns+" FROM plans p"+w.sql()+
		" ORDER BY p.created_at DESC, p.id"+limitClause(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate plans: %w", err)
	}
	rows.Close()
	if err := c.loadParticipants(ctx, plans); err != nil {
		return nil, 0, err
	}
	return plans, total, nil
}

// CountPlans counts plans visible under pred.
func (c *conn) CountPlans(ctx context.Context, pred scope.Predicate, f PlanFilter) (int, error) {
	w := c.planWhere(pred, f)
	n, err := c.count(ctx, "SELECT COUNT(*) FROM plans p"+w.sql(), w.args)
	if err != nil {
		return 0, fmt.Errorf("count plans: %w", err)
	}
	return n, nil
}

func (c *conn) count(ctx context.Context, query string, args []any) (int, error) {
	var n int
	if err := c.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *conn) planWhere(pred scope.Predicate, f PlanFilter) *whereBuilder {
	w := &whereBuilder{}
	if pred.CompanyID != "" {
		w.add("p.company_id = ?", pred.CompanyID)
	}
	if !pred.All {
		clause := "(p.responsible_person = ? OR p.owner = ? OR p.created_by = ? OR EXISTS (SELECT 1 FROM plan_participants pp WHERE pp.plan_id = p.id AND pp.user_id = ?)"
		args := []any{pred.UserID, pred.UserID, pred.UserID, pred.UserID}
		if pred.DepartmentID != "" {
			clause += " OR p.department_id = ?"
			args = append(args, pred.DepartmentID)
		}
		w.add(clause+")", args...)
	}

	w.in("p.status", statusStrings(f.Statuses))
	if f.Level != "" {
		w.add("p.level = ?", string(f.Level))
	}
	if f.Period != "" {
		w.add("p.period = ?", string(f.Period))
	}
	if f.Mine != "" {
		w.add("(p.responsible_person = ? OR p.owner = ? OR p.created_by = ?)", f.Mine, f.Mine, f.Mine)
	}
	if f.Participating != "" {
		w.add("EXISTS (SELECT 1 FROM plan_participants pq WHERE pq.plan_id = p.id AND pq.user_id = ?)", f.Participating)
	}
	if f.Owner != "" {
		w.add("p.owner = ?", f.Owner)
	}
	if f.Responsible != "" {
		w.add("p.responsible_person = ?", f.Responsible)
	}
	if f.Involved != "" {
		w.add("(p.responsible_person = ? OR p.owner = ?)", f.Involved, f.Involved)
	}
	if f.RelatedGoal != "" {
		w.add("p.related_goal = ?", f.RelatedGoal)
	}
	if f.ParentPlan != "" {
		w.add("p.parent_plan = ?", f.ParentPlan)
	}
	if f.OverdueAt != nil {
		w.add("p.status NOT IN ('completed', 'cancelled') AND p.end_time IS NOT NULL AND p.end_time < ?", ts(*f.OverdueAt))
	}
	if f.Overlaps != nil {
		w.add("p.start_time IS NOT NULL AND p.start_time < ? AND (p.end_time IS NULL OR p.end_time >= ?)",
			ts(f.Overlaps.To), ts(f.Overlaps.From))
	}
	if f.CompletedIn != nil {
		w.add("p.completed_at IS NOT NULL AND p.completed_at >= ? AND p.completed_at < ?", ts(f.CompletedIn.From), ts(f.CompletedIn.To))
	}
	if f.CreatedBefore != nil {
		w.add("p.created_at < ?", ts(*f.CreatedBefore))
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		w.add("(p.name LIKE ? OR p.number LIKE ? OR p.description LIKE ?)", pattern, pattern, pattern)
	}
	return w
}

func (c *conn) loadParticipants(ctx context.Context, plans []model.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	index := make(map[string]int, len(plans))
	ids := make([]string, 0, len(plans))
	for i, p := range plans {
		index[p.ID] = i
		ids = append(ids, p.ID)
	}
	w := &whereBuilder{}
	w.in("plan_id", ids)
	rows, err := c.query(ctx, "SELECT plan_id, user_id FROM plan_participants"+w.sql()+" ORDER BY user_id", w.args...)
	if err != nil {
		return fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var planID, userID string
		if err := rows.Scan(&planID, &userID); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		i := index[planID]
		plans[i].Participants = append(plans[i].Participants, userID)
	}
	return rows.Err()
}

// PlanDescendants returns every plan below id in the parent chain.
func (c *conn) PlanDescendants(ctx context.Context, id string) ([]model.Plan, error) {
	rows, err := c.query(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM plans WHERE parent_plan = ?
			UNION
			SELECT p.id FROM plans p JOIN tree t ON p.parent_plan = t.id
		)
		SELECT `+planColumns+` FROM plans p WHERE p.id IN (SELECT id FROM tree) ORDER BY p.created_at, p.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query plan descendants: %w", err)
	}
	defer rows.Close()
	var plans []model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan descendants: %w", err)
	}
	rows.Close()
	if err := c.loadParticipants(ctx, plans); err != nil {
		return nil, err
	}
	return plans, nil
}
