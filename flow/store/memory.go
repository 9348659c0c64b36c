package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemStore is the in-memory implementation of Store.
//
// Designed for tests, development and short-lived processes where
// persistence is not required. Thread-safe; every returned record is a
// JSON deep copy so callers cannot mutate stored rows.
type MemStore struct {
	mu          sync.RWMutex
	executions  map[string]*ExecutionRecord
	automations map[string]*Automation
	workflows   map[string]json.RawMessage
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		executions:  make(map[string]*ExecutionRecord),
		automations: make(map[string]*Automation),
		workflows:   make(map[string]json.RawMessage),
	}
}

func copyExecution(rec *ExecutionRecord) *ExecutionRecord {
	data, err := json.Marshal(rec)
	if err != nil {
		return rec
	}
	var out ExecutionRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return rec
	}
	return &out
}

func copyAutomation(a *Automation) *Automation {
	data, err := json.Marshal(a)
	if err != nil {
		return a
	}
	var out Automation
	if err := json.Unmarshal(data, &out); err != nil {
		return a
	}
	return &out
}

// CreateExecution inserts a new execution row with status running.
func (m *MemStore) CreateExecution(_ context.Context, rec *ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyExecution(rec)
	if stored.Status == "" || stored.Status == StatusPending {
		stored.Status = StatusRunning
	}
	if stored.StartedAt.IsZero() {
		stored.StartedAt = time.Now().UTC()
	}
	if stored.NodeLogs == nil {
		stored.NodeLogs = []NodeLogEntry{}
	}
	m.executions[stored.ID] = stored

	rec.Status = stored.Status
	rec.StartedAt = stored.StartedAt
	return nil
}

// AppendNodeLog appends one log entry; appends are serialized by the lock.
func (m *MemStore) AppendNodeLog(_ context.Context, executionID string, entry NodeLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	rec.NodeLogs = append(rec.NodeLogs, entry)
	return nil
}

// CompleteExecution transitions running -> status exactly once.
func (m *MemStore) CompleteExecution(_ context.Context, executionID string, status Status, result map[string]any, execErr string, finalState map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusRunning {
		return ErrAlreadyCompleted
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.Result = result
	rec.Error = execErr
	rec.FinalState = finalState
	rec.CompletedAt = &now
	rec.DurationMs = now.Sub(rec.StartedAt).Milliseconds()
	return nil
}

// SetFailedNode records the failing invocation path.
func (m *MemStore) SetFailedNode(_ context.Context, executionID, failedNodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	rec.FailedNodeID = failedNodeID
	return nil
}

// GetExecution returns a deep copy of the row.
func (m *MemStore) GetExecution(_ context.Context, executionID string) (*ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(rec), nil
}

// ListExecutions filters, sorts and pages in memory.
func (m *MemStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	filter = filter.Normalize()

	m.mu.RLock()
	matched := make([]*ExecutionRecord, 0, len(m.executions))
	for _, rec := range m.executions {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.StartDate != nil && rec.StartedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && rec.StartedAt.After(*filter.EndDate) {
			continue
		}
		matched = append(matched, copyExecution(rec))
	}
	m.mu.RUnlock()

	sortExecutions(matched, filter.SortBy, filter.SortOrder)

	if len(matched) > filter.PageSize {
		matched = matched[:filter.PageSize]
	}
	return matched, nil
}

func sortExecutions(recs []*ExecutionRecord, sortBy, sortOrder string) {
	key := func(r *ExecutionRecord) time.Time {
		if sortBy == SortByCompletedAt {
			if r.CompletedAt != nil {
				return *r.CompletedAt
			}
			return time.Time{}
		}
		return r.StartedAt
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := key(recs[i]), key(recs[j])
		if a.Equal(b) {
			// Stable tie-break so pagination is deterministic.
			return recs[i].ID < recs[j].ID
		}
		if sortOrder == SortAsc {
			return a.Before(b)
		}
		return a.After(b)
	})
}

// PutAutomation inserts or optimistically updates an automation row.
func (m *MemStore) PutAutomation(_ context.Context, a *Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.automations[a.ID]
	if ok && existing.Version != a.Version {
		return ErrVersionConflict
	}

	stored := copyAutomation(a)
	stored.Version++
	m.automations[a.ID] = stored
	a.Version = stored.Version
	return nil
}

// GetAutomation returns a deep copy of the row.
func (m *MemStore) GetAutomation(_ context.Context, id string) (*Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.automations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAutomation(a), nil
}

// DeleteAutomation removes the row if present.
func (m *MemStore) DeleteAutomation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.automations, id)
	return nil
}

// ListAutomations returns rows matching the filter, sorted by id.
func (m *MemStore) ListAutomations(_ context.Context, filter AutomationFilter) ([]*Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Automation, 0, len(m.automations))
	for _, a := range m.automations {
		if filter.TriggerType != "" && a.TriggerType != filter.TriggerType {
			continue
		}
		if filter.PluginID != "" && a.PluginID != filter.PluginID {
			continue
		}
		if filter.TenantID != "" && a.TenantID != filter.TenantID {
			continue
		}
		if filter.Enabled != nil && a.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, copyAutomation(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindAutomationByWebhookPath resolves a webhook path to its automation.
func (m *MemStore) FindAutomationByWebhookPath(_ context.Context, path string) (*Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.automations {
		if a.TriggerType == TriggerWebhook && a.WebhookPath() == path {
			return copyAutomation(a), nil
		}
	}
	return nil, ErrNotFound
}

// RecordRun updates run accounting after an execution finishes.
func (m *MemStore) RecordRun(_ context.Context, id string, success bool, runErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.automations[id]
	if !ok {
		return ErrNotFound
	}
	a.RunCount++
	if success {
		a.SuccessCount++
	} else {
		a.FailureCount++
	}
	a.LastRunAt = &at
	a.LastError = runErr
	return nil
}

// SetNextRun persists the recomputed next fire time.
func (m *MemStore) SetNextRun(_ context.Context, id string, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.automations[id]
	if !ok {
		return ErrNotFound
	}
	a.NextRunAt = next
	return nil
}

// PutWorkflow stores a definition blob.
func (m *MemStore) PutWorkflow(_ context.Context, id string, definition json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob := make(json.RawMessage, len(definition))
	copy(blob, definition)
	m.workflows[id] = blob
	return nil
}

// GetWorkflow returns the stored definition blob.
func (m *MemStore) GetWorkflow(_ context.Context, id string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(json.RawMessage, len(blob))
	copy(out, blob)
	return out, nil
}

// DeleteWorkflow removes a definition blob. Automations referencing it keep
// their weak reference; their next run fails with WORKFLOW_NOT_FOUND.
func (m *MemStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}
