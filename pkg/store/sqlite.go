package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/featureflag"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// SQLite is a file-backed implementation of every persistence contract.
// Maps and strategies are stored as JSON columns; timestamps as RFC 3339.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	type TEXT, category TEXT, subtype TEXT, label TEXT,
	title TEXT NOT NULL, description TEXT,
	status TEXT NOT NULL, priority TEXT, severity TEXT, visibility TEXT, source TEXT,
	owner_role_id TEXT, owner_user_id TEXT, assignee_role TEXT,
	created_by_user_id TEXT, requester_person_id TEXT,
	created_at TEXT NOT NULL, updated_at TEXT NOT NULL,
	due_at TEXT, reactivity_deadline_at TEXT, closed_at TEXT,
	escalation_level INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_deadline ON tasks (status, reactivity_deadline_at);

CREATE TABLE IF NOT EXISTS escalation_instances (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	current_step_index INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	next_fire_at TEXT NOT NULL,
	created_at TEXT NOT NULL, updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_due ON escalation_instances (status, next_fire_at);

CREATE TABLE IF NOT EXISTS escalation_events (
	id TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	step_index INTEGER NOT NULL,
	action TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT,
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_instance ON escalation_events (instance_id);

CREATE TABLE IF NOT EXISTS feature_flags (
	code TEXT NOT NULL,
	organization_id TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL,
	enabled_from TEXT, disabled_at TEXT,
	strategy TEXT,
	PRIMARY KEY (code, organization_id)
);
`

// OpenSQLite opens (and if necessary bootstraps) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite database %s", path)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to bootstrap sqlite schema")
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func marshalMap(m map[string]string) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	enc, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(enc), Valid: true}
}

func unmarshalMap(ns sql.NullString) map[string]string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}

// --- task.Store ---

const taskColumns = `organization_id, id, type, category, subtype, label, title, description,
	status, priority, severity, visibility, source,
	owner_role_id, owner_user_id, assignee_role, created_by_user_id, requester_person_id,
	created_at, updated_at, due_at, reactivity_deadline_at, closed_at, escalation_level, metadata`

func (s *SQLite) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.OrganizationID, t.ID, t.Type, t.Category, t.Subtype, t.Label, t.Title, t.Description,
		string(t.Status), string(t.Priority), string(t.Severity), string(t.Visibility), t.Source,
		t.OwnerRoleID, t.OwnerUserID, t.AssigneeRole, t.CreatedByUserID, t.RequesterPersonID,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt), fmtTimePtr(t.DueAt),
		fmtTimePtr(t.ReactivityDeadlineAt), fmtTimePtr(t.ClosedAt), t.EscalationLevel,
		marshalMap(t.Metadata))
	return errors.Wrap(err, "failed to insert task")
}

func (s *SQLite) scanTask(row interface{ Scan(...any) error }) (*task.Task, error) {
	var (
		t                        task.Task
		status, prio, sev, vis   string
		dueAt, deadline, closed  sql.NullString
		createdAt, updatedAt     string
		metadata                 sql.NullString
	)
	err := row.Scan(&t.OrganizationID, &t.ID, &t.Type, &t.Category, &t.Subtype, &t.Label,
		&t.Title, &t.Description, &status, &prio, &sev, &vis, &t.Source,
		&t.OwnerRoleID, &t.OwnerUserID, &t.AssigneeRole, &t.CreatedByUserID, &t.RequesterPersonID,
		&createdAt, &updatedAt, &dueAt, &deadline, &closed, &t.EscalationLevel, &metadata)
	if err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	t.Priority = task.Priority(prio)
	t.Severity = task.Severity(sev)
	t.Visibility = task.Visibility(vis)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.DueAt = parseTimePtr(dueAt)
	t.ReactivityDeadlineAt = parseTimePtr(deadline)
	t.ClosedAt = parseTimePtr(closed)
	t.Metadata = unmarshalMap(metadata)
	return &t, nil
}

func (s *SQLite) GetTask(ctx context.Context, organizationID, taskID string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND id = ?`, organizationID, taskID)
	t, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load task")
	}
	return t, nil
}

func (s *SQLite) UpdateTask(ctx context.Context, t *task.Task) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET
		type=?, category=?, subtype=?, label=?, title=?, description=?,
		status=?, priority=?, severity=?, visibility=?, source=?,
		owner_role_id=?, owner_user_id=?, assignee_role=?,
		created_by_user_id=?, requester_person_id=?,
		created_at=?, updated_at=?, due_at=?, reactivity_deadline_at=?, closed_at=?,
		escalation_level=?, metadata=?
		WHERE organization_id = ? AND id = ?`,
		t.Type, t.Category, t.Subtype, t.Label, t.Title, t.Description,
		string(t.Status), string(t.Priority), string(t.Severity), string(t.Visibility), t.Source,
		t.OwnerRoleID, t.OwnerUserID, t.AssigneeRole, t.CreatedByUserID, t.RequesterPersonID,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt), fmtTimePtr(t.DueAt),
		fmtTimePtr(t.ReactivityDeadlineAt), fmtTimePtr(t.ClosedAt), t.EscalationLevel,
		marshalMap(t.Metadata), t.OrganizationID, t.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *SQLite) ListTasks(ctx context.Context, organizationID string) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if organizationID != "" {
		query += ` WHERE organization_id = ?`
		args = append(args, organizationID)
	}
	query += ` ORDER BY created_at`
	return s.queryTasks(ctx, query, args...)
}

func (s *SQLite) ListOverdueTasks(ctx context.Context, organizationID string, now time.Time, limit int) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ('PENDING','IN_PROGRESS','ON_HOLD','ESCALATED')
		AND reactivity_deadline_at IS NOT NULL AND reactivity_deadline_at <= ?`
	args := []any{fmtTime(now)}
	if organizationID != "" {
		query += ` AND organization_id = ?`
		args = append(args, organizationID)
	}
	query += ` ORDER BY reactivity_deadline_at`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryTasks(ctx, query, args...)
}

func (s *SQLite) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tasks")
	}
	defer func() { _ = rows.Close() }()
	var out []*task.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task row")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- escalation.InstanceStore ---

func (s *SQLite) CreateInstance(ctx context.Context, in *escalation.Instance) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO escalation_instances
		(id, organization_id, task_id, policy_id, current_step_index, status, next_fire_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		in.ID, in.OrganizationID, in.TaskID, in.PolicyID, in.CurrentStepIndex,
		string(in.Status), fmtTime(in.NextFireAt), fmtTime(in.CreatedAt), fmtTime(in.UpdatedAt))
	return errors.Wrap(err, "failed to insert escalation instance")
}

func (s *SQLite) scanInstance(row interface{ Scan(...any) error }) (*escalation.Instance, error) {
	var (
		in                            escalation.Instance
		status, fireAt, created, updd string
	)
	if err := row.Scan(&in.ID, &in.OrganizationID, &in.TaskID, &in.PolicyID,
		&in.CurrentStepIndex, &status, &fireAt, &created, &updd); err != nil {
		return nil, err
	}
	in.Status = escalation.InstanceStatus(status)
	in.NextFireAt = parseTime(fireAt)
	in.CreatedAt = parseTime(created)
	in.UpdatedAt = parseTime(updd)
	return &in, nil
}

const instanceColumns = `id, organization_id, task_id, policy_id, current_step_index, status, next_fire_at, created_at, updated_at`

func (s *SQLite) GetInstance(ctx context.Context, id string) (*escalation.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM escalation_instances WHERE id = ?`, id)
	in, err := s.scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, escalation.ErrInstanceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load escalation instance")
	}
	return in, nil
}

func (s *SQLite) UpdateInstance(ctx context.Context, in *escalation.Instance) error {
	res, err := s.db.ExecContext(ctx, `UPDATE escalation_instances SET
		current_step_index=?, status=?, next_fire_at=?, updated_at=? WHERE id=?`,
		in.CurrentStepIndex, string(in.Status), fmtTime(in.NextFireAt), fmtTime(in.UpdatedAt), in.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update escalation instance")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return escalation.ErrInstanceNotFound
	}
	return nil
}

func (s *SQLite) ListDueInstances(ctx context.Context, organizationID string, now time.Time, limit int) ([]*escalation.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM escalation_instances
		WHERE status IN ('scheduled','in_progress') AND next_fire_at <= ?`
	args := []any{fmtTime(now)}
	if organizationID != "" {
		query += ` AND organization_id = ?`
		args = append(args, organizationID)
	}
	query += ` ORDER BY next_fire_at`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryInstances(ctx, query, args...)
}

func (s *SQLite) ListTaskInstances(ctx context.Context, organizationID, taskID string) ([]*escalation.Instance, error) {
	return s.queryInstances(ctx, `SELECT `+instanceColumns+` FROM escalation_instances
		WHERE organization_id = ? AND task_id = ? ORDER BY created_at`, organizationID, taskID)
}

func (s *SQLite) queryInstances(ctx context.Context, query string, args ...any) ([]*escalation.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query escalation instances")
	}
	defer func() { _ = rows.Close() }()
	var out []*escalation.Instance
	for rows.Next() {
		in, err := s.scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan instance row")
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// --- escalation.EventStore ---

func (s *SQLite) AppendEvent(ctx context.Context, ev *escalation.Event) error {
	success := 0
	if ev.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO escalation_events
		(id, instance_id, organization_id, task_id, policy_id, step_index, action, success, error, occurred_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.InstanceID, ev.OrganizationID, ev.TaskID, ev.PolicyID,
		ev.StepIndex, string(ev.Action), success, ev.Error, fmtTime(ev.OccurredAt))
	return errors.Wrap(err, "failed to insert escalation event")
}

func (s *SQLite) ListInstanceEvents(ctx context.Context, instanceID string) ([]*escalation.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, instance_id, organization_id, task_id, policy_id,
		step_index, action, success, error, occurred_at
		FROM escalation_events WHERE instance_id = ? ORDER BY occurred_at`, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query escalation events")
	}
	defer func() { _ = rows.Close() }()
	var out []*escalation.Event
	for rows.Next() {
		var (
			ev               escalation.Event
			action, occurred string
			success          int
		)
		if err := rows.Scan(&ev.ID, &ev.InstanceID, &ev.OrganizationID, &ev.TaskID, &ev.PolicyID,
			&ev.StepIndex, &action, &success, &ev.Error, &occurred); err != nil {
			return nil, errors.Wrap(err, "failed to scan event row")
		}
		ev.Action = escalation.StepActionType(action)
		ev.Success = success == 1
		ev.OccurredAt = parseTime(occurred)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// --- featureflag.Store ---

func (s *SQLite) GetFlag(ctx context.Context, code, organizationID string) (*featureflag.Flag, error) {
	row := s.db.QueryRowContext(ctx, `SELECT code, organization_id, enabled, enabled_from, disabled_at, strategy
		FROM feature_flags WHERE code = ? AND organization_id = ?`, code, organizationID)
	var (
		f                     featureflag.Flag
		enabled               int
		from, until, strategy sql.NullString
	)
	err := row.Scan(&f.Code, &f.OrganizationID, &enabled, &from, &until, &strategy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, featureflag.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load feature flag")
	}
	f.Enabled = enabled == 1
	f.EnabledFrom = parseTimePtr(from)
	f.DisabledAt = parseTimePtr(until)
	if strategy.Valid && strategy.String != "" {
		var st featureflag.RolloutStrategy
		if err := json.Unmarshal([]byte(strategy.String), &st); err == nil {
			f.Strategy = &st
		}
	}
	return &f, nil
}

func (s *SQLite) PutFlag(ctx context.Context, f *featureflag.Flag) error {
	enabled := 0
	if f.Enabled {
		enabled = 1
	}
	var strategy sql.NullString
	if f.Strategy != nil {
		if enc, err := json.Marshal(f.Strategy); err == nil {
			strategy = sql.NullString{String: string(enc), Valid: true}
		}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO feature_flags (code, organization_id, enabled, enabled_from, disabled_at, strategy)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (code, organization_id) DO UPDATE SET
		enabled=excluded.enabled, enabled_from=excluded.enabled_from,
		disabled_at=excluded.disabled_at, strategy=excluded.strategy`,
		f.Code, f.OrganizationID, enabled, fmtTimePtr(f.EnabledFrom), fmtTimePtr(f.DisabledAt), strategy)
	return errors.Wrap(err, "failed to upsert feature flag")
}

func (s *SQLite) ListFlags(ctx context.Context, organizationID string) ([]*featureflag.Flag, error) {
	query := `SELECT code, organization_id FROM feature_flags`
	args := []any{}
	if organizationID != "" {
		query += ` WHERE organization_id = ?`
		args = append(args, organizationID)
	}
	query += ` ORDER BY code`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query feature flags")
	}
	defer func() { _ = rows.Close() }()
	var out []*featureflag.Flag
	for rows.Next() {
		var code, org string
		if err := rows.Scan(&code, &org); err != nil {
			return nil, errors.Wrap(err, "failed to scan flag row")
		}
		f, err := s.GetFlag(ctx, code, org)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
