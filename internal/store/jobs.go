package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job statuses in the run ledger.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job is one run-ledger row: a job name fired for a scope in a slot.
type Job struct {
	ID             string
	Name           string
	ScopeKey       string
	SlotKey        string
	Status         string
	ScheduledAt    time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	PayloadJSON    string
	ResultJSON     string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
}

const jobColumns = `id, job_name, scope_key, slot_key, status, scheduled_at, started_at, finished_at,
	payload_json, result_json, lease_owner, lease_expires_at`

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var scheduled string
	var started, finished, leaseExpires sql.NullString
	err := row.Scan(&j.ID, &j.Name, &j.ScopeKey, &j.SlotKey, &j.Status, &scheduled, &started, &finished,
		&j.PayloadJSON, &j.ResultJSON, &j.LeaseOwner, &leaseExpires)
	if err != nil {
		return Job{}, err
	}
	j.ScheduledAt = parseTS(scheduled)
	j.StartedAt = parseTSPtr(started)
	j.FinishedAt = parseTSPtr(finished)
	j.LeaseExpiresAt = parseTSPtr(leaseExpires)
	return j, nil
}

// EnqueueUnique queues a job unless the (name, scope, slot) triple is
// already in the ledger. created is true when a new row was inserted.
func (c *conn) EnqueueUnique(ctx context.Context, name, scopeKey, slotKey string, scheduledAt time.Time, payload any) (string, bool, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	res, err := c.exec(ctx, `
		INSERT INTO job_runs (id, job_name, scope_key, slot_key, status, scheduled_at, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_name, scope_key, slot_key) DO NOTHING
	`, id, name, scopeKey, slotKey, JobQueued, ts(scheduledAt), string(payloadJSON))
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return id, true, nil
	}
	var existing string
	err = c.queryRow(ctx, "SELECT id FROM job_runs WHERE job_name = ? AND scope_key = ? AND slot_key = ?",
		name, scopeKey, slotKey).Scan(&existing)
	if err != nil {
		return "", false, fmt.Errorf("check existing job: %w", err)
	}
	return existing, false, nil
}

// ClaimNext atomically claims the oldest queued job that is due.
// It returns nil when nothing is due.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, leaseOwner string, leaseFor time.Duration) (*Job, error) {
	var claimed *Job
	err := s.WithTx(ctx, func(tx *Tx) error {
		j, err := scanJob(tx.queryRow(ctx, "SELECT "+jobColumns+` FROM job_runs
			WHERE status = 'queued' AND scheduled_at <= ?
			ORDER BY scheduled_at, id LIMIT 1`+tx.forUpdate(), ts(now)))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find next job: %w", err)
		}
		expires := now.Add(leaseFor)
		_, err = tx.exec(ctx, `
			UPDATE job_runs SET status = 'running', started_at = ?, lease_owner = ?, lease_expires_at = ?
			WHERE id = ?
		`, ts(now), leaseOwner, ts(expires), j.ID)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		j.Status = JobRunning
		j.StartedAt = &now
		j.LeaseOwner = leaseOwner
		j.LeaseExpiresAt = &expires
		claimed = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RequeueExpired returns running jobs whose lease lapsed to the queue.
func (c *conn) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := c.exec(ctx, `
		UPDATE job_runs SET status = 'queued', lease_owner = '', lease_expires_at = NULL
		WHERE status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
	`, ts(now))
	if err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SucceedJob marks a job succeeded.
func (c *conn) SucceedJob(ctx context.Context, id string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return c.finishJob(ctx, id, JobSucceeded, string(resultJSON))
}

// FailJob marks a job failed.
func (c *conn) FailJob(ctx context.Context, id string, jobErr error) error {
	resultJSON, _ := json.Marshal(map[string]string{"error": jobErr.Error()})
	return c.finishJob(ctx, id, JobFailed, string(resultJSON))
}

func (c *conn) finishJob(ctx context.Context, id, status, result string) error {
	_, err := c.exec(ctx, `
		UPDATE job_runs SET status = ?, finished_at = ?, result_json = ?, lease_expires_at = NULL
		WHERE id = ?
	`, status, ts(time.Now()), result, id)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// GetJob returns a ledger row by id.
func (c *conn) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(c.queryRow(ctx, "SELECT "+jobColumns+" FROM job_runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// ListJobs returns up to limit jobs, most recently scheduled first. An
// empty status lists every status.
func (c *conn) ListJobs(ctx context.Context, status string, limit int) ([]Job, error) {
	w := &whereBuilder{}
	if status != "" {
		w.add("status = ?", status)
	}
	rows, err := c.query(ctx, "SELECT "+jobColumns+" FROM job_runs"+w.sql()+
		" ORDER BY scheduled_at DESC, id"+limitClause(limit, 0), w.args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// GetKV retrieves a value from the key-value table.
func (c *conn) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := c.queryRow(ctx, "SELECT value FROM engine_kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// SetKV upserts a value in the key-value table.
func (c *conn) SetKV(ctx context.Context, key, value string) error {
	_, err := c.exec(ctx, `
		INSERT INTO engine_kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}
