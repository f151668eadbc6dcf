package store

import (
	"context"
	"fmt"
	"strings"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	number TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	level TEXT NOT NULL,
	period TEXT NOT NULL,
	status TEXT NOT NULL,
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	responsible_person TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	collaboration_plan TEXT NOT NULL DEFAULT '',
	parent_plan TEXT NOT NULL DEFAULT '',
	related_goal TEXT NOT NULL DEFAULT '',
	start_time TEXT,
	end_time TEXT,
	company_id TEXT NOT NULL DEFAULT '',
	department_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	published_at TEXT,
	accepted_at TEXT,
	completed_at TEXT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_plans_number ON plans(number)`,
	`CREATE INDEX IF NOT EXISTS idx_plans_company_status ON plans(company_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_plans_parent ON plans(parent_plan)`,
	`CREATE TABLE IF NOT EXISTS plan_participants (
	plan_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (plan_id, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS goals (
	id TEXT PRIMARY KEY,
	number TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	level TEXT NOT NULL,
	goal_type TEXT NOT NULL,
	goal_period TEXT NOT NULL,
	status TEXT NOT NULL,
	indicator_name TEXT NOT NULL DEFAULT '',
	indicator_kind TEXT NOT NULL DEFAULT 'number',
	indicator_unit TEXT NOT NULL DEFAULT '',
	target_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	completion_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	weight DOUBLE PRECISION NOT NULL DEFAULT 0,
	start_date TEXT,
	end_date TEXT,
	parent_goal TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	responsible_person TEXT NOT NULL DEFAULT '',
	company_id TEXT NOT NULL DEFAULT '',
	department_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	published_at TEXT,
	accepted_at TEXT,
	completed_at TEXT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_goals_number ON goals(number)`,
	`CREATE INDEX IF NOT EXISTS idx_goals_company_period ON goals(company_id, goal_period)`,
	`CREATE INDEX IF NOT EXISTS idx_goals_parent ON goals(parent_goal)`,
	`CREATE TABLE IF NOT EXISTS decision_requests (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	request_type TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	requested_at TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL DEFAULT '',
	decided_by TEXT NOT NULL DEFAULT '',
	decided_at TEXT,
	decision_reason TEXT NOT NULL DEFAULT '',
	company_id TEXT NOT NULL DEFAULT ''
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_decision_pending
	ON decision_requests(entity_type, entity_id, request_type)
	WHERE decided_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_decision_entity ON decision_requests(entity_type, entity_id)`,
	`CREATE TABLE IF NOT EXISTS status_logs (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	old_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	changed_by TEXT NOT NULL,
	changed_at TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_status_logs_entity ON status_logs(entity_type, entity_id, changed_at)`,
	`CREATE TABLE IF NOT EXISTS progress_records (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	description TEXT NOT NULL,
	recorded_by TEXT NOT NULL,
	recorded_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_progress_entity ON progress_records(entity_type, entity_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS adjustment_requests (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	new_end TEXT,
	new_target DOUBLE PRECISION,
	status TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	approver TEXT NOT NULL DEFAULT '',
	approved_at TEXT,
	comment TEXT NOT NULL DEFAULT ''
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_adjustment_pending
	ON adjustment_requests(entity_type, entity_id)
	WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	object_type TEXT NOT NULL,
	object_id TEXT NOT NULL DEFAULT '',
	event TEXT NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_dedupe ON notifications(user_id, object_type, object_id, event, created_at)`,
	`CREATE TABLE IF NOT EXISTS todos (
	id TEXT PRIMARY KEY,
	assignee TEXT NOT NULL,
	type TEXT NOT NULL,
	related_type TEXT NOT NULL DEFAULT '',
	related_id TEXT NOT NULL DEFAULT '',
	period_key TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	deadline TEXT NOT NULL,
	status TEXT NOT NULL,
	auto_generated INTEGER NOT NULL DEFAULT 1,
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	completed_at TEXT,
	company_id TEXT NOT NULL DEFAULT ''
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_todos_key ON todos(type, assignee, related_type, related_id, period_key)`,
	`CREATE INDEX IF NOT EXISTS idx_todos_assignee ON todos(assignee, status, deadline)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	at TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	object_type TEXT NOT NULL,
	object_id TEXT NOT NULL DEFAULT '',
	changes_json TEXT NOT NULL DEFAULT '{}',
	meta_json TEXT NOT NULL DEFAULT '{}'
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_object ON audit_events(object_type, object_id, at)`,
	`CREATE TABLE IF NOT EXISTS job_runs (
	id TEXT PRIMARY KEY,
	job_name TEXT NOT NULL,
	scope_key TEXT NOT NULL DEFAULT '',
	slot_key TEXT NOT NULL,
	status TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	payload_json TEXT NOT NULL DEFAULT '{}',
	result_json TEXT NOT NULL DEFAULT '',
	lease_owner TEXT NOT NULL DEFAULT '',
	lease_expires_at TEXT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_job_runs_slot ON job_runs(job_name, scope_key, slot_key)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs(status, scheduled_at)`,
	`CREATE TABLE IF NOT EXISTS engine_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`,
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
