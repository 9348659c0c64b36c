package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// One file (or ":memory:") holds executions, automations and workflow
// definitions, each with their JSON payloads in TEXT columns. Designed for
// single-process deployments, development and testing with zero setup; the
// MySQL store serves the same contract for shared databases.
//
// WAL mode is enabled so readers don't block behind the single writer.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./arcflow.db")
//	if err != nil { ... }
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			automation_id TEXT NOT NULL DEFAULT '',
			tenant_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			trigger_source TEXT NOT NULL DEFAULT '',
			trigger_data TEXT,
			initial_state TEXT,
			final_state TEXT,
			result TEXT,
			error TEXT NOT NULL DEFAULT '',
			failed_node_id TEXT NOT NULL DEFAULT '',
			node_logs TEXT NOT NULL DEFAULT '[]',
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status, started_at)`,
		`CREATE TABLE IF NOT EXISTS automations (
			id TEXT PRIMARY KEY,
			plugin_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT '',
			workflow_id TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			trigger_type TEXT NOT NULL,
			trigger_config TEXT,
			run_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_run_at TEXT,
			next_run_at TEXT,
			last_error TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			definition TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// CreateExecution inserts the row with status running.
func (s *SQLiteStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec.Status == "" || rec.Status == StatusPending {
		rec.Status = StatusRunning
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	triggerData, err := marshalJSON(rec.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}
	initialState, err := marshalJSON(rec.InitialState)
	if err != nil {
		return fmt.Errorf("failed to marshal initial state: %w", err)
	}
	logs := rec.NodeLogs
	if logs == nil {
		logs = []NodeLogEntry{}
	}
	nodeLogs, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to marshal node logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, workflow_id, automation_id, tenant_id, status, triggered_by,
			trigger_source, trigger_data, initial_state, error, failed_node_id,
			node_logs, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?, 0)`,
		rec.ID, rec.WorkflowID, rec.AutomationID, rec.TenantID, string(rec.Status),
		string(rec.TriggeredBy), rec.TriggerSource, triggerData, initialState,
		string(nodeLogs), formatTime(rec.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// AppendNodeLog appends one entry inside a transaction; the read-modify-
// write under SQLite's single-writer connection serializes concurrent
// appends to the same execution.
func (s *SQLiteStore) AppendNodeLog(ctx context.Context, executionID string, entry NodeLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT node_logs FROM executions WHERE id = ?`, executionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var logs []NodeLogEntry
	if err := json.Unmarshal([]byte(raw), &logs); err != nil {
		return fmt.Errorf("corrupt node_logs for execution %s: %w", executionID, err)
	}
	logs = append(logs, entry)
	updated, err := json.Marshal(logs)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE executions SET node_logs = ? WHERE id = ?`, string(updated), executionID); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteExecution transitions running -> status exactly once; the status
// guard in the UPDATE makes later calls no-ops.
func (s *SQLiteStore) CompleteExecution(ctx context.Context, executionID string, status Status, result map[string]any, execErr string, finalState map[string]any) error {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	finalJSON, err := marshalJSON(finalState)
	if err != nil {
		return fmt.Errorf("failed to marshal final state: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?, result = ?, error = ?, final_state = ?, completed_at = ?,
			duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE id = ? AND status = ?`,
		string(status), resultJSON, execErr, finalJSON, formatTime(now), formatTime(now),
		executionID, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to complete execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM executions WHERE id = ?`, executionID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrAlreadyCompleted
	}
	return nil
}

// SetFailedNode records the failing invocation path.
func (s *SQLiteStore) SetFailedNode(ctx context.Context, executionID, failedNodeID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE executions SET failed_node_id = ? WHERE id = ?`, failedNodeID, executionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const executionColumns = `id, workflow_id, automation_id, tenant_id, status, triggered_by,
	trigger_source, trigger_data, initial_state, final_state, result, error,
	failed_node_id, node_logs, started_at, completed_at, duration_ms`

func scanExecution(scan func(dest ...any) error) (*ExecutionRecord, error) {
	var (
		rec         ExecutionRecord
		status      string
		triggeredBy string
		triggerData sql.NullString
		initial     sql.NullString
		final       sql.NullString
		result      sql.NullString
		nodeLogs    string
		startedAt   string
		completedAt sql.NullString
	)
	err := scan(
		&rec.ID, &rec.WorkflowID, &rec.AutomationID, &rec.TenantID, &status, &triggeredBy,
		&rec.TriggerSource, &triggerData, &initial, &final, &result, &rec.Error,
		&rec.FailedNodeID, &nodeLogs, &startedAt, &completedAt, &rec.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.TriggeredBy = TriggeredBy(triggeredBy)
	if rec.TriggerData, err = unmarshalMap(triggerData); err != nil {
		return nil, err
	}
	if rec.InitialState, err = unmarshalMap(initial); err != nil {
		return nil, err
	}
	if rec.FinalState, err = unmarshalMap(final); err != nil {
		return nil, err
	}
	if rec.Result, err = unmarshalMap(result); err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(nodeLogs), &rec.NodeLogs); err != nil {
		return nil, fmt.Errorf("corrupt node_logs: %w", err)
	}
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// GetExecution returns the full row.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, executionID)
	rec, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListExecutions filters and orders in SQL.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	filter = filter.Normalize()

	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	if filter.StartDate != nil {
		query += ` AND started_at >= ?`
		args = append(args, formatTime(*filter.StartDate))
	}
	if filter.EndDate != nil {
		query += ` AND started_at <= ?`
		args = append(args, formatTime(*filter.EndDate))
	}

	orderCol := "started_at"
	if filter.SortBy == SortByCompletedAt {
		orderCol = "completed_at"
	}
	direction := "DESC"
	if filter.SortOrder == SortAsc {
		direction = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC LIMIT ?", orderCol, direction)
	args = append(args, filter.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutAutomation inserts or optimistically updates an automation row.
func (s *SQLiteStore) PutAutomation(ctx context.Context, a *Automation) error {
	triggerConfig, err := marshalJSON(a.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}
	var lastRunAt, nextRunAt sql.NullString
	if a.LastRunAt != nil {
		lastRunAt = sql.NullString{String: formatTime(*a.LastRunAt), Valid: true}
	}
	if a.NextRunAt != nil {
		nextRunAt = sql.NullString{String: formatTime(*a.NextRunAt), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM automations WHERE id = ?`, a.ID).Scan(&currentVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO automations (
				id, plugin_id, tenant_id, workflow_id, enabled, trigger_type,
				trigger_config, run_count, success_count, failure_count,
				last_run_at, next_run_at, last_error, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.PluginID, a.TenantID, a.WorkflowID, boolToInt(a.Enabled),
			string(a.TriggerType), triggerConfig, a.RunCount, a.SuccessCount,
			a.FailureCount, lastRunAt, nextRunAt, a.LastError, a.Version+1,
		)
	case err != nil:
		return err
	case currentVersion != a.Version:
		return ErrVersionConflict
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE automations SET
				plugin_id = ?, tenant_id = ?, workflow_id = ?, enabled = ?,
				trigger_type = ?, trigger_config = ?, last_error = ?,
				next_run_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			a.PluginID, a.TenantID, a.WorkflowID, boolToInt(a.Enabled),
			string(a.TriggerType), triggerConfig, a.LastError, nextRunAt,
			a.ID, a.Version,
		)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	a.Version++
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const automationColumns = `id, plugin_id, tenant_id, workflow_id, enabled, trigger_type,
	trigger_config, run_count, success_count, failure_count, last_run_at,
	next_run_at, last_error, version`

func scanAutomation(scan func(dest ...any) error) (*Automation, error) {
	var (
		a             Automation
		enabled       int
		triggerType   string
		triggerConfig sql.NullString
		lastRunAt     sql.NullString
		nextRunAt     sql.NullString
	)
	err := scan(
		&a.ID, &a.PluginID, &a.TenantID, &a.WorkflowID, &enabled, &triggerType,
		&triggerConfig, &a.RunCount, &a.SuccessCount, &a.FailureCount,
		&lastRunAt, &nextRunAt, &a.LastError, &a.Version,
	)
	if err != nil {
		return nil, err
	}
	a.Enabled = enabled != 0
	a.TriggerType = TriggerType(triggerType)
	if a.TriggerConfig, err = unmarshalMap(triggerConfig); err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		t, err := parseTime(lastRunAt.String)
		if err != nil {
			return nil, err
		}
		a.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t, err := parseTime(nextRunAt.String)
		if err != nil {
			return nil, err
		}
		a.NextRunAt = &t
	}
	return &a, nil
}

// GetAutomation returns the row or ErrNotFound.
func (s *SQLiteStore) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = ?`, id)
	a, err := scanAutomation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// DeleteAutomation removes the row if present.
func (s *SQLiteStore) DeleteAutomation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	return err
}

// ListAutomations returns rows matching the filter, sorted by id.
func (s *SQLiteStore) ListAutomations(ctx context.Context, filter AutomationFilter) ([]*Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE 1=1`
	var args []any
	if filter.TriggerType != "" {
		query += ` AND trigger_type = ?`
		args = append(args, string(filter.TriggerType))
	}
	if filter.PluginID != "" {
		query += ` AND plugin_id = ?`
		args = append(args, filter.PluginID)
	}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Enabled != nil {
		query += ` AND enabled = ?`
		args = append(args, boolToInt(*filter.Enabled))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Automation
	for rows.Next() {
		a, err := scanAutomation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindAutomationByWebhookPath resolves a webhook path to its automation.
// The path lives inside the trigger_config JSON; webhook automations are
// few, so the scan stays in SQL-filtered bounds.
func (s *SQLiteStore) FindAutomationByWebhookPath(ctx context.Context, path string) (*Automation, error) {
	list, err := s.ListAutomations(ctx, AutomationFilter{TriggerType: TriggerWebhook})
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.WebhookPath() == path {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// RecordRun updates run accounting; the single UPDATE is atomic.
func (s *SQLiteStore) RecordRun(ctx context.Context, id string, success bool, runErr string, at time.Time) error {
	successInc, failureInc := 1, 0
	if !success {
		successInc, failureInc = 0, 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE automations SET
			run_count = run_count + 1,
			success_count = success_count + ?,
			failure_count = failure_count + ?,
			last_run_at = ?, last_error = ?
		WHERE id = ?`,
		successInc, failureInc, formatTime(at), runErr, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNextRun persists the recomputed next fire time.
func (s *SQLiteStore) SetNextRun(ctx context.Context, id string, next *time.Time) error {
	var nextStr sql.NullString
	if next != nil {
		nextStr = sql.NullString{String: formatTime(*next), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE automations SET next_run_at = ? WHERE id = ?`, nextStr, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutWorkflow stores a definition blob.
func (s *SQLiteStore) PutWorkflow(ctx context.Context, id string, definition json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, definition, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET definition = excluded.definition, updated_at = excluded.updated_at`,
		id, string(definition), formatTime(time.Now()),
	)
	return err
}

// GetWorkflow returns the stored definition blob.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (json.RawMessage, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM workflows WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(blob), nil
}

// DeleteWorkflow removes a definition blob.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	return err
}
