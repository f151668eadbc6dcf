package store

import (
	"context"
	"fmt"
	"time"

	"planengine/internal/model"
)

// LegacyChange is one row rewritten by MigrateLegacyStatuses.
type LegacyChange struct {
	Kind model.Kind
	ID   string
	From string
	To   model.Status
}

var legacyStatuses = []string{"approved", "pending_approval", "approving"}

// MigrateLegacyStatuses rewrites retired statuses with mapFn and logs each
// change, all in one transaction.
func (s *Store) MigrateLegacyStatuses(ctx context.Context, actor string, at time.Time, mapFn func(string) (model.Status, bool)) ([]LegacyChange, error) {
	var changes []LegacyChange
	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, target := range []struct {
			kind  model.Kind
			table string
		}{{model.KindPlan, "plans"}, {model.KindGoal, "goals"}} {
			found, err := tx.legacyRows(ctx, target.kind, target.table)
			if err != nil {
				return err
			}
			for _, ch := range found {
				next, ok := mapFn(ch.From)
				if !ok {
					continue
				}
				ch.To = next
				if _, err := tx.exec(ctx, "UPDATE "+target.table+" SET status = ?, updated_at = ? WHERE id = ?",
					string(next), ts(at), ch.ID); err != nil {
					return fmt.Errorf("migrate %s %s: %w", ch.Kind, ch.ID, err)
				}
				err := tx.InsertStatusLog(ctx, &model.StatusLog{
					EntityType: ch.Kind,
					EntityID:   ch.ID,
					OldStatus:  model.Status(ch.From),
					NewStatus:  next,
					ChangedBy:  actor,
					ChangedAt:  at,
					Reason:     "legacy status " + ch.From + " migrated",
				})
				if err != nil {
					return err
				}
				changes = append(changes, ch)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (tx *Tx) legacyRows(ctx context.Context, kind model.Kind, table string) ([]LegacyChange, error) {
	w := &whereBuilder{}
	w.in("status", legacyStatuses)
	rows, err := tx.query(ctx, "SELECT id, status FROM "+table+w.sql()+" ORDER BY id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("query legacy %s: %w", table, err)
	}
	defer rows.Close()
	var out []LegacyChange
	for rows.Next() {
		ch := LegacyChange{Kind: kind}
		if err := rows.Scan(&ch.ID, &ch.From); err != nil {
			return nil, fmt.Errorf("scan legacy row: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
