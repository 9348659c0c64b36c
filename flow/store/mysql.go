package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for deployments where multiple processes share one execution
// history: counter updates and log appends go through SQL transactions, and
// automation updates use the version column for optimistic locking.
//
// Schema:
//   - executions: one row per workflow run, node logs as a JSON column
//   - automations: trigger bindings with run accounting
//   - workflows: definitions as opaque JSON blobs
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a MySQL-backed store.
//
// The DSN format is the go-sql-driver one:
//
//	user:password@tcp(localhost:3306)/arcflow?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	st, err := store.NewMySQLStore(dsn)
//
// The store creates its tables on first open and configures connection
// pooling with sane defaults.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			automation_id VARCHAR(64) NOT NULL DEFAULT '',
			tenant_id VARCHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			triggered_by VARCHAR(16) NOT NULL,
			trigger_source VARCHAR(255) NOT NULL DEFAULT '',
			trigger_data JSON,
			initial_state JSON,
			final_state JSON,
			result JSON,
			error TEXT,
			failed_node_id VARCHAR(255) NOT NULL DEFAULT '',
			node_logs JSON NOT NULL,
			started_at DATETIME(6) NOT NULL,
			completed_at DATETIME(6) NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			INDEX idx_executions_workflow (workflow_id, started_at),
			INDEX idx_executions_status (status, started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS automations (
			id VARCHAR(64) PRIMARY KEY,
			plugin_id VARCHAR(255) NOT NULL,
			tenant_id VARCHAR(64) NOT NULL DEFAULT '',
			workflow_id VARCHAR(255) NOT NULL,
			enabled TINYINT(1) NOT NULL DEFAULT 1,
			trigger_type VARCHAR(16) NOT NULL,
			trigger_config JSON,
			run_count BIGINT NOT NULL DEFAULT 0,
			success_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			last_run_at DATETIME(6) NULL,
			next_run_at DATETIME(6) NULL,
			last_error TEXT,
			version BIGINT NOT NULL DEFAULT 0,
			INDEX idx_automations_trigger (trigger_type, enabled)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(255) PRIMARY KEY,
			definition JSON NOT NULL,
			updated_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const mysqlTimeLayout = "2006-01-02 15:04:05.999999"

func mysqlTime(t time.Time) string {
	return t.UTC().Format(mysqlTimeLayout)
}

func parseMySQLTime(s string) (time.Time, error) {
	t, err := time.Parse(mysqlTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// CreateExecution inserts the row with status running.
func (s *MySQLStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
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
		string(nodeLogs), mysqlTime(rec.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// AppendNodeLog appends one entry. SELECT ... FOR UPDATE serializes
// concurrent appends to the same execution across processes.
func (s *MySQLStore) AppendNodeLog(ctx context.Context, executionID string, entry NodeLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT node_logs FROM executions WHERE id = ? FOR UPDATE`, executionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var entries []NodeLogEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return fmt.Errorf("corrupt node_logs for execution %s: %w", executionID, err)
	}
	entries = append(entries, entry)
	updated, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE executions SET node_logs = ? WHERE id = ?`, string(updated), executionID); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteExecution transitions running -> status exactly once.
func (s *MySQLStore) CompleteExecution(ctx context.Context, executionID string, status Status, result map[string]any, execErr string, finalState map[string]any) error {
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
			duration_ms = TIMESTAMPDIFF(MICROSECOND, started_at, ?) DIV 1000
		WHERE id = ? AND status = ?`,
		string(status), resultJSON, execErr, finalJSON, mysqlTime(now), mysqlTime(now),
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
func (s *MySQLStore) SetFailedNode(ctx context.Context, executionID, failedNodeID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE executions SET failed_node_id = ? WHERE id = ?`, failedNodeID, executionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMySQLExecution(scan func(dest ...any) error) (*ExecutionRecord, error) {
	var (
		rec         ExecutionRecord
		status      string
		triggeredBy string
		triggerData sql.NullString
		initial     sql.NullString
		final       sql.NullString
		result      sql.NullString
		execErr     sql.NullString
		nodeLogs    string
		startedAt   string
		completedAt sql.NullString
	)
	err := scan(
		&rec.ID, &rec.WorkflowID, &rec.AutomationID, &rec.TenantID, &status, &triggeredBy,
		&rec.TriggerSource, &triggerData, &initial, &final, &result, &execErr,
		&rec.FailedNodeID, &nodeLogs, &startedAt, &completedAt, &rec.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.TriggeredBy = TriggeredBy(triggeredBy)
	rec.Error = execErr.String
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
	if rec.StartedAt, err = parseMySQLTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseMySQLTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// GetExecution returns the full row.
func (s *MySQLStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, executionID)
	rec, err := scanMySQLExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListExecutions filters and orders in SQL.
func (s *MySQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
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
		args = append(args, mysqlTime(*filter.StartDate))
	}
	if filter.EndDate != nil {
		query += ` AND started_at <= ?`
		args = append(args, mysqlTime(*filter.EndDate))
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
		rec, err := scanMySQLExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutAutomation inserts or optimistically updates an automation row.
func (s *MySQLStore) PutAutomation(ctx context.Context, a *Automation) error {
	triggerConfig, err := marshalJSON(a.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}
	var lastRunAt, nextRunAt sql.NullString
	if a.LastRunAt != nil {
		lastRunAt = sql.NullString{String: mysqlTime(*a.LastRunAt), Valid: true}
	}
	if a.NextRunAt != nil {
		nextRunAt = sql.NullString{String: mysqlTime(*a.NextRunAt), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM automations WHERE id = ? FOR UPDATE`, a.ID).Scan(&currentVersion)
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
			WHERE id = ?`,
			a.PluginID, a.TenantID, a.WorkflowID, boolToInt(a.Enabled),
			string(a.TriggerType), triggerConfig, a.LastError, nextRunAt,
			a.ID,
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

func scanMySQLAutomation(scan func(dest ...any) error) (*Automation, error) {
	var (
		a             Automation
		enabled       int
		triggerType   string
		triggerConfig sql.NullString
		lastRunAt     sql.NullString
		nextRunAt     sql.NullString
		lastError     sql.NullString
	)
	err := scan(
		&a.ID, &a.PluginID, &a.TenantID, &a.WorkflowID, &enabled, &triggerType,
		&triggerConfig, &a.RunCount, &a.SuccessCount, &a.FailureCount,
		&lastRunAt, &nextRunAt, &lastError, &a.Version,
	)
	if err != nil {
		return nil, err
	}
	a.Enabled = enabled != 0
	a.TriggerType = TriggerType(triggerType)
	a.LastError = lastError.String
	if a.TriggerConfig, err = unmarshalMap(triggerConfig); err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		t, err := parseMySQLTime(lastRunAt.String)
		if err != nil {
			return nil, err
		}
		a.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t, err := parseMySQLTime(nextRunAt.String)
		if err != nil {
			return nil, err
		}
		a.NextRunAt = &t
	}
	return &a, nil
}

// GetAutomation returns the row or ErrNotFound.
func (s *MySQLStore) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = ?`, id)
	a, err := scanMySQLAutomation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// DeleteAutomation removes the row if present.
func (s *MySQLStore) DeleteAutomation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	return err
}

// ListAutomations returns rows matching the filter, sorted by id.
func (s *MySQLStore) ListAutomations(ctx context.Context, filter AutomationFilter) ([]*Automation, error) {
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
		a, err := scanMySQLAutomation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindAutomationByWebhookPath resolves a webhook path using MySQL's JSON
// extraction so the lookup stays in SQL.
func (s *MySQLStore) FindAutomationByWebhookPath(ctx context.Context, path string) (*Automation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE trigger_type = ?
		AND JSON_UNQUOTE(JSON_EXTRACT(trigger_config, '$.webhookUrl')) = ?
		LIMIT 1`,
		string(TriggerWebhook), path,
	)
	a, err := scanMySQLAutomation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// RecordRun updates run accounting; the single UPDATE is atomic.
func (s *MySQLStore) RecordRun(ctx context.Context, id string, success bool, runErr string, at time.Time) error {
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
		successInc, failureInc, mysqlTime(at), runErr, id,
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
func (s *MySQLStore) SetNextRun(ctx context.Context, id string, next *time.Time) error {
	var nextStr sql.NullString
	if next != nil {
		nextStr = sql.NullString{String: mysqlTime(*next), Valid: true}
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
func (s *MySQLStore) PutWorkflow(ctx context.Context, id string, definition json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, definition, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE definition = VALUES(definition), updated_at = VALUES(updated_at)`,
		id, string(definition), mysqlTime(time.Now()),
	)
	return err
}

// GetWorkflow returns the stored definition blob.
func (s *MySQLStore) GetWorkflow(ctx context.Context, id string) (json.RawMessage, error) {
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
func (s *MySQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	return err
}
