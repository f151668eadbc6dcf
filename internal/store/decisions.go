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

const decisionColumns = `id, entity_type, entity_id, request_type, requested_by, requested_at, reason,
	decision, decided_by, decided_at, decision_reason, company_id`

// DecisionFilter narrows decision request reads.
type DecisionFilter struct {
	// Pending selects undecided (true) or decided (false) requests.
	Pending         *bool
	EntityType      model.Kind
	EntityID        string
	RequestType     model.RequestType
	CompanyID       string
	RequestedBy     string
	RequestedBefore *time.Time
	Limit           int
	Offset          int
}

func scanDecision(row rowScanner) (model.DecisionRequest, error) {
	var d model.DecisionRequest
	var entityType, requestType, decision, requestedAt string
	var decidedAt sql.NullString
	err := row.Scan(&d.ID, &entityType, &d.EntityID, &requestType, &d.RequestedBy, &requestedAt, &d.Reason,
		&decision, &d.DecidedBy, &decidedAt, &d.DecisionReason, &d.CompanyID)
	if err != nil {
		return model.DecisionRequest{}, err
	}
	d.EntityType = model.Kind(entityType)
	d.RequestType = model.RequestType(requestType)
	d.Decision = model.Decision(decision)
	d.RequestedAt = parseTS(requestedAt)
	d.DecidedAt = parseTSPtr(decidedAt)
	return d, nil
}

// InsertDecision records a pending request. A second pending request for
// the same entity and type fails with ErrDuplicatePending.
func (c *conn) InsertDecision(ctx context.Context, d *model.DecisionRequest) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.RequestedAt.IsZero() {
		d.RequestedAt = time.Now().UTC()
	}
	_, err := c.exec(ctx, `
		INSERT INTO decision_requests (id, entity_type, entity_id, request_type, requested_by, requested_at,
			reason, company_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, string(d.EntityType), d.EntityID, string(d.RequestType), d.RequestedBy, ts(d.RequestedAt),
		d.Reason, d.CompanyID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s %s %s: %w", d.RequestType, d.EntityType, d.EntityID, model.ErrDuplicatePending)
	}
	if err != nil {
		return fmt.Errorf("insert decision request: %w", err)
	}
	return nil
}

// GetDecision returns a request by id.
func (c *conn) GetDecision(ctx context.Context, id string) (*model.DecisionRequest, error) {
	return c.getDecision(ctx, id, "")
}

// LockDecision reads a request and holds it until the transaction ends.
func (tx *Tx) LockDecision(ctx context.Context, id string) (*model.DecisionRequest, error) {
	return tx.getDecision(ctx, id, tx.forUpdate())
}

func (c *conn) getDecision(ctx context.Context, id, suffix string) (*model.DecisionRequest, error) {
	d, err := scanDecision(c.queryRow(ctx, "SELECT "+decisionColumns+" FROM decision_requests WHERE id = ?"+suffix, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision request %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision request: %w", err)
	}
	return &d, nil
}

// ResolveDecision stamps the decision on a pending request. Already decided
// requests are left alone and reported as ErrAlreadyDecided.
func (c *conn) ResolveDecision(ctx context.Context, d *model.DecisionRequest) error {
	res, err := c.exec(ctx, `
		UPDATE decision_requests SET decision = ?, decided_by = ?, decided_at = ?, decision_reason = ?
		WHERE id = ? AND decided_at IS NULL
	`, string(d.Decision), d.DecidedBy, tsPtr(d.DecidedAt), d.DecisionReason, d.ID)
	if err != nil {
		return fmt.Errorf("resolve decision request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("decision request %s: %w", d.ID, model.ErrAlreadyDecided)
	}
	return nil
}

// ListDecisions returns one page of requests and the total.
func (c *conn) ListDecisions(ctx context.Context, f DecisionFilter) ([]model.DecisionRequest, int, error) {
	w := &whereBuilder{}
	if f.Pending != nil {
		if *f.Pending {
			w.add("decided_at IS NULL")
		} else {
			w.add("decided_at IS NOT NULL")
		}
	}
	if f.EntityType != "" {
		w.add("entity_type = ?", string(f.EntityType))
	}
	if f.EntityID != "" {
		w.add("entity_id = ?", f.EntityID)
	}
	if f.RequestType != "" {
		w.add("request_type = ?", string(f.RequestType))
	}
	if f.CompanyID != "" {
		w.add("company_id = ?", f.CompanyID)
	}
	if f.RequestedBy != "" {
		w.add("requested_by = ?", f.RequestedBy)
	}
	if f.RequestedBefore != nil {
		w.add("requested_at < ?", ts(*f.RequestedBefore))
	}

	total, err := c.count(ctx, "SELECT COUNT(*) FROM decision_requests"+w.sql(), w.args)
	if err != nil {
		return nil, 0, fmt.Errorf("count decision requests: %w", err)
	}
	rows, err := c.query(ctx, "SELECT "+decisionColumns+" FROM decision_requests"+w.sql()+
		" ORDER BY requested_at DESC, id"+limitClause(f.Limit, f.Offset), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query decision requests: %w", err)
	}
	defer rows.Close()
	var out []model.DecisionRequest
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan decision request: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate decision requests: %w", err)
	}
	return out, total, nil
}

// InsertStatusLog appends a status log row.
func (c *conn) InsertStatusLog(ctx context.Context, l *model.StatusLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.ChangedAt.IsZero() {
		l.ChangedAt = time.Now().UTC()
	}
	_, err := c.exec(ctx, `
		INSERT INTO status_logs (id, entity_type, entity_id, old_status, new_status, changed_by, changed_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, string(l.EntityType), l.EntityID, string(l.OldStatus), string(l.NewStatus), l.ChangedBy, ts(l.ChangedAt), l.Reason)
	if err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

// StatusLogs returns the status history of an entity, oldest first.
func (c *conn) StatusLogs(ctx context.Context, kind model.Kind, id string) ([]model.StatusLog, error) {
	rows, err := c.query(ctx, `
		SELECT id, entity_type, entity_id, old_status, new_status, changed_by, changed_at, reason
		FROM status_logs WHERE entity_type = ? AND entity_id = ?
		ORDER BY changed_at, id
	`, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("query status logs: %w", err)
	}
	defer rows.Close()
	var out []model.StatusLog
	for rows.Next() {
		var l model.StatusLog
		var entityType, oldStatus, newStatus, changedAt string
		if err := rows.Scan(&l.ID, &entityType, &l.EntityID, &oldStatus, &newStatus, &l.ChangedBy, &changedAt, &l.Reason); err != nil {
			return nil, fmt.Errorf("scan status log: %w", err)
		}
		l.EntityType = model.Kind(entityType)
		l.OldStatus = model.Status(oldStatus)
		l.NewStatus = model.Status(newStatus)
		l.ChangedAt = parseTS(changedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// InsertProgress appends a progress record.
func (c *conn) InsertProgress(ctx context.Context, r *model.ProgressRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	_, err := c.exec(ctx, `
		INSERT INTO progress_records (id, entity_type, entity_id, value, description, recorded_by, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.EntityType), r.EntityID, r.Value, r.Description, r.RecordedBy, ts(r.RecordedAt))
	if err != nil {
		return fmt.Errorf("insert progress record: %w", err)
	}
	return nil
}

// ProgressRecords returns the progress history of an entity, newest first.
func (c *conn) ProgressRecords(ctx context.Context, kind model.Kind, id string, since *time.Time) ([]model.ProgressRecord, error) {
	w := &whereBuilder{}
	w.add("entity_type = ?", string(kind))
	w.add("entity_id = ?", id)
	if since != nil {
		w.add("recorded_at >= ?", ts(*since))
	}
	rows, err := c.query(ctx, `SELECT id, entity_type, entity_id, value, description, recorded_by, recorded_at
		FROM progress_records`+w.sql()+` ORDER BY recorded_at DESC, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query progress records: %w", err)
	}
	defer rows.Close()
	var out []model.ProgressRecord
	for rows.Next() {
		var r model.ProgressRecord
		var entityType, recordedAt string
		if err := rows.Scan(&r.ID, &entityType, &r.EntityID, &r.Value, &r.Description, &r.RecordedBy, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan progress record: %w", err)
		}
		r.EntityType = model.Kind(entityType)
		r.RecordedAt = parseTS(recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountProgressBy counts progress records userID wrote within win.
func (c *conn) CountProgressBy(ctx context.Context, userID string, win Window) (int, error) {
	n, err := c.count(ctx, `SELECT COUNT(*) FROM progress_records
		WHERE recorded_by = ? AND recorded_at >= ? AND recorded_at < ?`, []any{userID, ts(win.From), ts(win.To)})
	if err != nil {
		return 0, fmt.Errorf("count progress records: %w", err)
	}
	return n, nil
}
