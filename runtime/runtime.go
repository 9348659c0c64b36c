// Package runtime composes the engine: registry, interpreter, stores,
// scheduler and webhook dispatcher behind one constructor-injected type.
// Nothing here is a process-wide singleton; tests build as many runtimes as
// they like.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arcflow/arcflow/automation"
	"github.com/arcflow/arcflow/flow"
	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/nodes"
	"github.com/arcflow/arcflow/flow/store"
)

// Config is everything a Runtime needs. Store is required; the rest has
// working defaults.
type Config struct {
	// Store is the combined persistence surface.
	Store store.Store

	// Emitter receives the live event stream. Nil discards events.
	Emitter emit.Emitter

	// Metrics and SchedulerMetrics are optional Prometheus sinks.
	Metrics          *flow.Metrics
	SchedulerMetrics *automation.SchedulerMetrics

	// Services are the external collaborators handed to nodes.
	Services flow.Services

	// MaxSteps bounds node invocations per run. 0 disables the guard.
	MaxSteps int
}

// Runtime owns the lifecycle of one engine instance.
type Runtime struct {
	registry  *flow.Registry
	interp    *flow.Interpreter
	store     store.Store
	emitter   emit.Emitter
	scheduler *automation.Scheduler
	webhooks  *automation.Dispatcher
}

// New builds a runtime with the bundled universal nodes registered.
func New(cfg Config) (*Runtime, error) {
	if cfg.Store == nil {
		return nil, errors.New("runtime: Store is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = emit.NewNullEmitter()
	}

	registry := flow.NewRegistry()
	if err := nodes.RegisterUniversal(registry); err != nil {
		return nil, fmt.Errorf("registering universal nodes: %w", err)
	}

	rt := &Runtime{
		registry: registry,
		store:    cfg.Store,
		emitter:  cfg.Emitter,
	}
	rt.interp = flow.NewInterpreter(registry, cfg.Emitter, flow.Options{
		MaxSteps: cfg.MaxSteps,
		Services: cfg.Services,
		Metrics:  cfg.Metrics,
	})
	rt.scheduler = automation.NewScheduler(cfg.Store,
		automation.WithSchedulerEmitter(cfg.Emitter),
		automation.WithSchedulerMetrics(cfg.SchedulerMetrics),
	)
	rt.webhooks = automation.NewDispatcher(cfg.Store, cfg.Store, rt, cfg.Emitter)
	return rt, nil
}

// Registry exposes the node registry for server-local registrations.
func (rt *Runtime) Registry() *flow.Registry { return rt.registry }

// Scheduler exposes the cron scheduler.
func (rt *Runtime) Scheduler() *automation.Scheduler { return rt.scheduler }

// Webhooks exposes the webhook dispatcher.
func (rt *Runtime) Webhooks() *automation.Dispatcher { return rt.webhooks }

// Store exposes the persistence surface.
func (rt *Runtime) Store() store.Store { return rt.store }

// RegisterPlugin binds a plugin id to this runtime's execution callback, so
// the scheduler can fire the plugin's automations.
func (rt *Runtime) RegisterPlugin(pluginID string) {
	rt.scheduler.RegisterCallback(pluginID, rt)
}

// Start arms the scheduler (re-arming persisted cron automations).
func (rt *Runtime) Start(ctx context.Context) error {
	return rt.scheduler.Start(ctx)
}

// Stop tears the scheduler down and waits for in-flight firings.
func (rt *Runtime) Stop() {
	rt.scheduler.Stop()
}

// RunOptions customize a manual run.
type RunOptions struct {
	ExecutionID string
	TenantID    string
	AuthToken   string
	TriggeredBy store.TriggeredBy

	// ExecContext, when set, gives the caller a cancellation handle.
	ExecContext *flow.ExecContext
}

// RunWorkflow loads a stored definition and executes it synchronously,
// persisting the execution record, node logs and final status.
func (rt *Runtime) RunWorkflow(ctx context.Context, workflowID string, override map[string]any, opts RunOptions) (*store.ExecutionRecord, error) {
	def, err := rt.loadDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if opts.ExecutionID == "" {
		opts.ExecutionID = uuid.NewString()
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = store.TriggeredByManual
	}

	rec := &store.ExecutionRecord{
		ID:           opts.ExecutionID,
		WorkflowID:   workflowID,
		TenantID:     opts.TenantID,
		TriggeredBy:  opts.TriggeredBy,
		InitialState: override,
	}
	return rt.execute(ctx, def, rec, override, opts)
}

// RunAutomation implements automation.Runner: it is the per-plugin callback
// the scheduler fires and the dispatcher invokes for webhooks.
func (rt *Runtime) RunAutomation(ctx context.Context, req automation.RunRequest) (string, error) {
	a := req.Automation
	def, err := rt.loadDefinition(ctx, a.WorkflowID)
	if err != nil {
		return "", err
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	rec := &store.ExecutionRecord{
		ID:            executionID,
		WorkflowID:    a.WorkflowID,
		AutomationID:  a.ID,
		TenantID:      a.TenantID,
		TriggeredBy:   req.TriggeredBy,
		TriggerSource: req.TriggerSource,
		TriggerData:   req.TriggerData,
		InitialState:  req.InitialState,
	}

	final, err := rt.execute(ctx, def, rec, req.InitialState, RunOptions{
		ExecutionID: executionID,
		TenantID:    a.TenantID,
	})
	if err != nil {
		return executionID, err
	}

	success := final.Status == store.StatusCompleted
	if recErr := rt.store.RecordRun(ctx, a.ID, success, final.Error, time.Now().UTC()); recErr != nil {
		return executionID, recErr
	}
	return executionID, nil
}

// execute runs a parsed definition against a pre-built record skeleton.
func (rt *Runtime) execute(ctx context.Context, def *flow.Definition, rec *store.ExecutionRecord, override map[string]any, opts RunOptions) (*store.ExecutionRecord, error) {
	if err := rt.store.CreateExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating execution record: %w", err)
	}

	runOpts := []flow.RunOption{
		flow.WithExecutionID(rec.ID),
		flow.WithTenant(opts.TenantID),
	}
	if opts.AuthToken != "" {
		runOpts = append(runOpts, flow.WithAuthToken(opts.AuthToken))
	}
	if opts.ExecContext != nil {
		runOpts = append(runOpts, flow.WithExecContext(opts.ExecContext))
	}

	result := rt.interp.Run(ctx, def, override, runOpts...)

	for _, entry := range result.NodeLogs {
		if err := rt.store.AppendNodeLog(ctx, rec.ID, entry); err != nil {
			return nil, fmt.Errorf("appending node log: %w", err)
		}
	}

	var execErr string
	var output map[string]any
	if result.Err != nil {
		execErr = result.Err.Error()
		if result.FailedNodeID != "" {
			if err := rt.store.SetFailedNode(ctx, rec.ID, result.FailedNodeID); err != nil {
				return nil, fmt.Errorf("recording failed node: %w", err)
			}
		}
	} else {
		output = lastOutput(result.NodeLogs)
	}

	err := rt.store.CompleteExecution(ctx, rec.ID, result.Status, output, execErr, result.FinalState)
	if err != nil && !errors.Is(err, store.ErrAlreadyCompleted) {
		return nil, fmt.Errorf("completing execution: %w", err)
	}

	return rt.store.GetExecution(ctx, rec.ID)
}

func (rt *Runtime) loadDefinition(ctx context.Context, workflowID string) (*flow.Definition, error) {
	blob, err := rt.store.GetWorkflow(ctx, workflowID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, flow.Errf(flow.CodeWorkflowNotFound, "workflow not found: %s", workflowID)
	}
	if err != nil {
		return nil, err
	}
	return flow.ParseDefinition(blob)
}

// lastOutput is the taken-edge payload of the final completed node, the
// closest thing a workflow has to a return value.
func lastOutput(logs []store.NodeLogEntry) map[string]any {
	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].Status == store.StatusCompleted && logs[i].Output != nil {
			return logs[i].Output
		}
	}
	return nil
}
