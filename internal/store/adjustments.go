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

const adjustmentColumns = `id, entity_type, entity_id, reason, content, new_end, new_target, status,
	requested_by, created_at, approver, approved_at, comment`

func scanAdjustment(row rowScanner) (model.AdjustmentRequest, error) {
	var a model.AdjustmentRequest
	var entityType, status, created string
	var newEnd, approvedAt sql.NullString
	var newTarget sql.NullFloat64
	err := row.Scan(&a.ID, &entityType, &a.EntityID, &a.Reason, &a.Content, &newEnd, &newTarget, &status,
		&a.RequestedBy, &created, &a.Approver, &approvedAt, &a.Comment)
	if err != nil {
		return model.AdjustmentRequest{}, err
	}
	a.EntityType = model.Kind(entityType)
	a.Status = model.AdjustmentStatus(status)
	a.NewEnd = parseTSPtr(newEnd)
	if newTarget.Valid {
		v := newTarget.Float64
		a.NewTarget = &v
	}
	a.CreatedAt = parseTS(created)
	a.ApprovedAt = parseTSPtr(approvedAt)
	return a, nil
}

// InsertAdjustment records a pending adjustment. Only one may be pending
// per entity; a second fails with ErrDuplicatePending.
func (c *conn) InsertAdjustment(ctx context.Context, a *model.AdjustmentRequest) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Status = model.AdjustmentPending
	var target any
	if a.NewTarget != nil {
		target = *a.NewTarget
	}
	_, err := c.exec(ctx, `
		INSERT INTO adjustment_requests (id, entity_type, entity_id, reason, content, new_end, new_target,
			status, requested_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.EntityType), a.EntityID, a.Reason, a.Content, tsPtr(a.NewEnd), target,
		string(a.Status), a.RequestedBy, ts(a.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("adjustment for %s %s: %w", a.EntityType, a.EntityID, model.ErrDuplicatePending)
	}
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

// GetAdjustment returns an adjustment by id.
func (c *conn) GetAdjustment(ctx context.Context, id string) (*model.AdjustmentRequest, error) {
	return c.getAdjustment(ctx, id, "")
}

// LockAdjustment reads an adjustment and holds it until the transaction ends.
func (tx *Tx) LockAdjustment(ctx context.Context, id string) (*model.AdjustmentRequest, error) {
	return tx.getAdjustment(ctx, id, tx.forUpdate())
}

func (c *conn) getAdjustment(ctx context.Context, id, suffix string) (*model.AdjustmentRequest, error) {
	a, err := scanAdjustment(c.queryRow(ctx, "SELECT "+adjustmentColumns+" FROM adjustment_requests WHERE id = ?"+suffix, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("adjustment %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get adjustment: %w", err)
	}
	return &a, nil
}

// ResolveAdjustment stamps the outcome on a pending adjustment.
func (c *conn) ResolveAdjustment(ctx context.Context, a *model.AdjustmentRequest) error {
	res, err := c.exec(ctx, `
		UPDATE adjustment_requests SET status = ?, approver = ?, approved_at = ?, comment = ?
		WHERE id = ? AND status = 'pending'
	`, string(a.Status), a.Approver, tsPtr(a.ApprovedAt), a.Comment, a.ID)
	if err != nil {
		return fmt.Errorf("resolve adjustment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("adjustment %s: %w", a.ID, model.ErrAlreadyDecided)
	}
	return nil
}

// Adjustments lists the adjustments of an entity, newest first.
func (c *conn) Adjustments(ctx context.Context, kind model.Kind, id string) ([]model.AdjustmentRequest, error) {
	rows, err := c.query(ctx, "SELECT "+adjustmentColumns+` FROM adjustment_requests
		WHERE entity_type = ? AND entity_id = ? ORDER BY created_at DESC, id`, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()
	var out []model.AdjustmentRequest
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
