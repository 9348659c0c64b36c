// Package store provides persistence for workflow executions, automations
// and workflow definitions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic-locked update lost the
// race. Surfaced to callers with the VERSION_CONFLICT code; never retried
// automatically.
var ErrVersionConflict = errors.New("version conflict")

// ErrAlreadyCompleted is returned by CompleteExecution when the execution
// already left the running state. Callers treat it as a no-op signal.
var ErrAlreadyCompleted = errors.New("execution already completed")

// Status is the lifecycle state of an execution. Transitions are monotone:
// pending -> running -> (completed | failed).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TriggeredBy records what started an execution.
type TriggeredBy string

const (
	TriggeredByManual     TriggeredBy = "manual"
	TriggeredByAutomation TriggeredBy = "automation"
	TriggeredByWebhook    TriggeredBy = "webhook"
	TriggeredByAPI        TriggeredBy = "api"
)

// TriggerType is how an automation starts executions.
type TriggerType string

const (
	TriggerImmediate TriggerType = "immediate"
	TriggerCron      TriggerType = "cron"
	TriggerWebhook   TriggerType = "webhook"
)

// NodeLogEntry is one per-node record inside an execution. The timeline and
// state-diff views are reconstructed purely from these entries, so the field
// names are part of the persisted contract.
type NodeLogEntry struct {
	// NodeID is the invocation's index path within the workflow,
	// e.g. "0.success?.1".
	NodeID string `json:"nodeId"`

	// NodeType is the registry id the invocation resolved to.
	NodeType string `json:"nodeType"`

	// Status is completed or failed.
	Status Status `json:"status"`

	// DurationMs is the node's execution time in milliseconds.
	DurationMs int64 `json:"durationMs"`

	// Config is the node config after reference/template resolution.
	Config map[string]any `json:"config,omitempty"`

	// Output is the taken edge's payload.
	Output map[string]any `json:"output,omitempty"`

	// Edge is the name of the taken edge.
	Edge string `json:"edge,omitempty"`

	// Error holds the failure message for failed entries.
	Error string `json:"error,omitempty"`

	// StateBefore and StateAfter are full state snapshots at the node
	// boundary. Applying Output on top of StateBefore must reproduce
	// StateAfter.
	StateBefore map[string]any `json:"stateBefore,omitempty"`
	StateAfter  map[string]any `json:"stateAfter,omitempty"`
}

// ExecutionRecord is one workflow run. Field names match the persisted JSON
// rows bit-exactly; do not rename.
type ExecutionRecord struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflowId"`

	// AutomationID links the run to its owning automation, empty for
	// free-standing runs.
	AutomationID string `json:"automationId,omitempty"`

	Status      Status      `json:"status"`
	TriggeredBy TriggeredBy `json:"triggeredBy"`

	// TriggerSource describes the concrete trigger, e.g. "http:my-hook" or
	// "cron:*/5 * * * *".
	TriggerSource string `json:"triggerSource,omitempty"`

	// TriggerData is the raw trigger payload (webhook body, cron tick info).
	TriggerData map[string]any `json:"triggerData,omitempty"`

	InitialState map[string]any `json:"initialState,omitempty"`
	FinalState   map[string]any `json:"finalState,omitempty"`
	Result       map[string]any `json:"result,omitempty"`

	Error        string `json:"error,omitempty"`
	FailedNodeID string `json:"failedNodeId,omitempty"`

	NodeLogs []NodeLogEntry `json:"nodeLogs"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  int64      `json:"durationMs,omitempty"`

	TenantID string `json:"tenantId,omitempty"`
}

// Automation is a persistent trigger-to-workflow binding.
//
// Invariants: successCount + failureCount <= runCount, and nextRunAt is
// non-null iff triggerType == cron and the automation is enabled.
type Automation struct {
	ID       string `json:"id"`
	PluginID string `json:"pluginId"`
	TenantID string `json:"tenantId,omitempty"`

	// WorkflowID is a weak reference: deleting the workflow does not cascade
	// here, the interpreter fails with WORKFLOW_NOT_FOUND instead.
	WorkflowID string `json:"workflowId"`

	Enabled       bool           `json:"enabled"`
	TriggerType   TriggerType    `json:"triggerType"`
	TriggerConfig map[string]any `json:"triggerConfig,omitempty"`

	RunCount     int64 `json:"runCount"`
	SuccessCount int64 `json:"successCount"`
	FailureCount int64 `json:"failureCount"`

	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`

	// Version is the optimistic-lock counter. Put fails with
	// ErrVersionConflict when it does not match the stored row.
	Version int64 `json:"version"`
}

// CronExpression returns the automation's cron expression from its trigger
// config, empty when absent.
func (a *Automation) CronExpression() string {
	s, _ := a.TriggerConfig["cronExpression"].(string)
	return s
}

// Timezone returns the automation's IANA timezone, defaulting to UTC.
func (a *Automation) Timezone() string {
	if s, ok := a.TriggerConfig["timezone"].(string); ok && s != "" {
		return s
	}
	return "UTC"
}

// WebhookPath returns the automation's webhook path segment, empty when the
// automation is not webhook-triggered.
func (a *Automation) WebhookPath() string {
	s, _ := a.TriggerConfig["webhookUrl"].(string)
	return s
}

// Sort and pagination bounds for execution listing.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	SortByStartTime   = "startTime"
	SortByCompletedAt = "completedAt"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// ExecutionFilter narrows and orders ListExecutions results.
type ExecutionFilter struct {
	Status     Status
	WorkflowID string

	// StartDate/EndDate bound StartedAt inclusively when non-nil.
	StartDate *time.Time
	EndDate   *time.Time

	// PageSize is clamped to [1, MaxPageSize]; zero means DefaultPageSize.
	PageSize int

	// SortBy is startTime (default) or completedAt.
	SortBy string

	// SortOrder is asc or desc (default).
	SortOrder string
}

// Normalize applies the documented defaults and clamps.
func (f ExecutionFilter) Normalize() ExecutionFilter {
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if f.SortBy != SortByCompletedAt {
		f.SortBy = SortByStartTime
	}
	if f.SortOrder != SortAsc {
		f.SortOrder = SortDesc
	}
	return f
}

// AutomationFilter narrows ListAutomations results.
type AutomationFilter struct {
	TriggerType TriggerType
	PluginID    string
	TenantID    string

	// Enabled filters on the enabled flag when non-nil.
	Enabled *bool
}

// ExecutionStore is the write/read contract for execution records.
type ExecutionStore interface {
	// CreateExecution inserts the record with status running and StartedAt
	// set (both applied by the store when unset).
	CreateExecution(ctx context.Context, rec *ExecutionRecord) error

	// AppendNodeLog appends one entry in log order. Concurrent appends to
	// the same execution are serialized by the store.
	AppendNodeLog(ctx context.Context, executionID string, entry NodeLogEntry) error

	// CompleteExecution atomically transitions running -> status, setting
	// CompletedAt and DurationMs. At most one call succeeds per execution;
	// later calls return ErrAlreadyCompleted and change nothing.
	CompleteExecution(ctx context.Context, executionID string, status Status, result map[string]any, execErr string, finalState map[string]any) error

	// SetFailedNode records the failing invocation path on the row.
	SetFailedNode(ctx context.Context, executionID, failedNodeID string) error

	// GetExecution returns the full row or ErrNotFound.
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)

	// ListExecutions returns at most filter.PageSize rows matching the
	// filter in the requested order.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
}

// AutomationStore is the contract for automation rows.
type AutomationStore interface {
	// PutAutomation inserts or updates. Updates are optimistic: the given
	// Version must match the stored row or ErrVersionConflict is returned.
	// On success the stored version is incremented.
	PutAutomation(ctx context.Context, a *Automation) error

	// GetAutomation returns the row or ErrNotFound.
	GetAutomation(ctx context.Context, id string) (*Automation, error)

	// DeleteAutomation removes the row; missing ids are not an error.
	DeleteAutomation(ctx context.Context, id string) error

	// ListAutomations returns rows matching the filter.
	ListAutomations(ctx context.Context, filter AutomationFilter) ([]*Automation, error)

	// FindAutomationByWebhookPath resolves a webhook path segment to its
	// automation, or ErrNotFound.
	FindAutomationByWebhookPath(ctx context.Context, path string) (*Automation, error)

	// RecordRun updates run accounting after an execution: increments
	// runCount and the success/failure counter, sets lastRunAt and
	// lastError. Counter updates bypass optimistic locking; they are
	// serialized by the store.
	RecordRun(ctx context.Context, id string, success bool, runErr string, at time.Time) error

	// SetNextRun persists the recomputed nextRunAt (nil clears it).
	SetNextRun(ctx context.Context, id string, next *time.Time) error
}

// WorkflowStore persists workflow definitions as opaque JSON blobs. The
// engine neither requires nor enforces a particular driver or schema for
// the blob contents.
type WorkflowStore interface {
	PutWorkflow(ctx context.Context, id string, definition json.RawMessage) error
	GetWorkflow(ctx context.Context, id string) (json.RawMessage, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// Store is the combined persistence surface the runtime composes over.
type Store interface {
	ExecutionStore
	AutomationStore
	WorkflowStore
}
