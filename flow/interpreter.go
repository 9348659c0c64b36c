package flow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/store"
)

// Options configures interpreter behavior. Zero values are valid.
type Options struct {
	// MaxSteps bounds the total number of node invocations in one run,
	// including loop re-entries. 0 disables the guard; set it whenever
	// workflows may contain loop nodes without a reliable exit.
	MaxSteps int

	// Services are the default external collaborators handed to every node.
	Services Services

	// Metrics receives execution observations when non-nil.
	Metrics *Metrics
}

// Interpreter walks workflow definitions and executes their nodes.
//
// One Interpreter serves many concurrent executions; each run gets its own
// ExecContext and is strictly single-threaded, so nodes within a run never
// observe concurrent state mutation. Determinism: identical definitions,
// initial state and node behavior produce identical node logs and final
// state.
type Interpreter struct {
	registry *Registry
	emitter  emit.Emitter
	opts     Options
}

// NewInterpreter creates an interpreter over a node registry.
//
// The emitter receives the live event stream (workflow:started, node:*,
// workflow:completed|failed); nil means events are discarded.
func NewInterpreter(registry *Registry, emitter emit.Emitter, opts Options) *Interpreter {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Interpreter{registry: registry, emitter: emitter, opts: opts}
}

// Result is the outcome of one workflow run.
type Result struct {
	Status       store.Status
	FinalState   State
	NodeLogs     []store.NodeLogEntry
	FailedNodeID string
	Err          *Error
}

// runParams collects per-run options.
type runParams struct {
	executionID string
	tenantID    string
	authToken   string
	ec          *ExecContext
}

// RunOption customizes a single Run call.
type RunOption func(*runParams)

// WithExecutionID fixes the execution's correlation id. Default is a fresh
// UUID.
func WithExecutionID(id string) RunOption {
	return func(p *runParams) { p.executionID = id }
}

// WithTenant attributes the run to a tenant.
func WithTenant(tenantID string) RunOption {
	return func(p *runParams) { p.tenantID = tenantID }
}

// WithAuthToken marks the run as originating from an authenticated caller;
// the token is injected as state key "JWT_token" before the first node.
func WithAuthToken(token string) RunOption {
	return func(p *runParams) { p.authToken = token }
}

// WithExecContext supplies a caller-held ExecContext, giving the caller a
// cancellation handle: calling ec.Cancel from another goroutine aborts the
// run before its next node.
func WithExecContext(ec *ExecContext) RunOption {
	return func(p *runParams) { p.ec = ec }
}

// Run executes a workflow definition to completion or failure.
//
// The initial state is definition.initialState merged with override
// (override wins by key). Between node invocations the interpreter observes
// both ctx and the ExecContext's cancellation flag; a signaled cancel fails
// the run with code CANCELLED without entering further nodes.
func (it *Interpreter) Run(ctx context.Context, def *Definition, override map[string]any, opts ...RunOption) *Result {
	var params runParams
	for _, opt := range opts {
		opt(&params)
	}

	if def == nil {
		return &Result{Status: store.StatusFailed, Err: Errf(CodeInvalidDefinition, "nil definition")}
	}
	if it.registry == nil {
		return &Result{Status: store.StatusFailed, Err: Errf(CodeInvalidDefinition, "interpreter has no registry")}
	}

	initial, err := CloneState(def.InitialState)
	if err != nil {
		return &Result{Status: store.StatusFailed, Err: Wrap(CodeInvalidDefinition, err, "unserializable initial state")}
	}
	for k, v := range override {
		cloned, cerr := cloneValue(v)
		if cerr != nil {
			return &Result{Status: store.StatusFailed, Err: Wrap(CodeInvalidDefinition, cerr, "unserializable state override %q", k)}
		}
		initial[k] = cloned
	}
	if params.authToken != "" {
		initial["JWT_token"] = params.authToken
	}

	ec := params.ec
	if ec == nil {
		ec = NewExecContext(initial, it.emitter)
	} else {
		ec.emitter = it.emitter
		ec.State = initial
	}
	ec.WorkflowID = def.ID
	ec.TenantID = params.tenantID
	ec.ExecutionID = params.executionID
	if ec.ExecutionID == "" {
		ec.ExecutionID = uuid.NewString()
	}
	if ec.Services == (Services{}) {
		ec.Services = it.opts.Services
	}

	started := time.Now()
	ec.Emit(emit.Event{Name: emit.WorkflowStarted})
	if it.opts.Metrics != nil {
		it.opts.Metrics.ExecutionStarted()
	}

	r := &run{it: it, ec: ec}
	runErr := r.sequence(ctx, def.Workflow, "")

	res := &Result{
		FinalState: ec.State,
		NodeLogs:   ec.Logs(),
	}
	durationMs := time.Since(started).Milliseconds()

	if runErr != nil {
		res.Status = store.StatusFailed
		res.Err = runErr
		res.FailedNodeID = r.failedNode
		ec.Emit(emit.Event{Name: emit.WorkflowFailed, Error: runErr.Error(), DurationMs: durationMs})
	} else {
		res.Status = store.StatusCompleted
		ec.Emit(emit.Event{Name: emit.WorkflowCompleted, DurationMs: durationMs})
	}
	if it.opts.Metrics != nil {
		it.opts.Metrics.ExecutionFinished(string(res.Status), time.Since(started))
	}
	return res
}

// run carries per-execution interpreter bookkeeping.
type run struct {
	it         *Interpreter
	ec         *ExecContext
	steps      int
	failedNode string
}

// sequence executes an ordered sub-flow left to right. prefix is the index
// path of the enclosing edge, "" at top level.
func (r *run) sequence(ctx context.Context, seq []*Invocation, prefix string) *Error {
	for i, inv := range seq {
		path := strconv.Itoa(i)
		if prefix != "" {
			path = prefix + "." + path
		}
		if err := r.invocation(ctx, inv, path); err != nil {
			return err
		}
	}
	return nil
}

// invocation executes one node invocation, including loop re-entries and
// recursion into the taken edge's continuation.
func (r *run) invocation(ctx context.Context, inv *Invocation, path string) *Error {
	if err := r.checkCancelled(ctx, path); err != nil {
		return err
	}

	node, desc, err := r.it.registry.Resolve(inv.Name)
	if err != nil {
		r.failedNode = path
		return Errf(CodeUnknownNode, "node %s: unknown node type %q", path, inv.Name)
	}

	for {
		r.steps++
		if max := r.it.opts.MaxSteps; max > 0 && r.steps > max {
			r.failedNode = path
			return Errf(CodeMaxStepsExceeded, "execution exceeded %d steps at node %s", max, path)
		}

		entry, target, stepErr := r.step(ctx, inv, node, desc, path)
		r.ec.appendLog(entry)
		if stepErr != nil {
			r.failedNode = path
			return stepErr
		}

		if !inv.Loop {
			if target == nil || target.Kind == TargetTerminal {
				return nil
			}
			return r.target(ctx, target, path+"."+entry.Edge)
		}

		// Loop node: a non-terminal target is the loop continuation. Run
		// it, then re-enter with freshly resolved config until the taken
		// edge resolves terminal.
		if target == nil || target.Kind == TargetTerminal {
			return nil
		}
		if err := r.target(ctx, target, path+"."+entry.Edge); err != nil {
			return err
		}
		if err := r.checkCancelled(ctx, path); err != nil {
			return err
		}
	}
}

// step performs a single node execute: resolve config, snapshot state,
// invoke, pick the taken edge, merge its payload, build the log entry.
func (r *run) step(ctx context.Context, inv *Invocation, node Node, desc Descriptor, path string) (store.NodeLogEntry, *Target, *Error) {
	ec := r.ec

	entry := store.NodeLogEntry{
		NodeID:   path,
		NodeType: desc.ID,
	}

	resolved, err := ResolveConfig(inv.Config, ec.State)
	if err != nil {
		entry.Status = store.StatusFailed
		entry.Error = err.Error()
		return entry, nil, Wrap(CodeNodeFailed, err, "node %s: config resolution failed", path)
	}
	entry.Config = resolved

	stateBefore, err := CloneState(ec.State)
	if err != nil {
		entry.Status = store.StatusFailed
		entry.Error = err.Error()
		return entry, nil, Wrap(CodeNodeFailed, err, "node %s: state snapshot failed", path)
	}
	entry.StateBefore = stateBefore

	ec.Emit(emit.Event{Name: emit.NodeStarted, NodeID: path, NodeType: desc.ID})

	nc := &NodeContext{
		Config:      resolved,
		State:       ec.State,
		TenantID:    ec.TenantID,
		WorkflowID:  ec.WorkflowID,
		ExecutionID: ec.ExecutionID,
		NodeID:      path,
		Emitter:     ec.emitter,
		Services:    ec.Services,
	}

	started := time.Now()
	edges, execErr := executeNode(ctx, node, nc)
	entry.DurationMs = time.Since(started).Milliseconds()

	fail := func(ferr *Error) (store.NodeLogEntry, *Target, *Error) {
		entry.Status = store.StatusFailed
		entry.Error = ferr.Error()
		entry.StateAfter, _ = CloneState(ec.State)
		ec.Emit(emit.Event{
			Name: emit.NodeFailed, NodeID: path, NodeType: desc.ID,
			DurationMs: entry.DurationMs, Error: ferr.Error(),
		})
		if r.it.opts.Metrics != nil {
			r.it.opts.Metrics.NodeExecuted(desc.ID, "failed", time.Since(started))
		}
		return entry, nil, ferr
	}

	if execErr != nil {
		return fail(Wrap(CodeNodeFailed, execErr, "node %s (%s): %v", path, desc.ID, execErr))
	}

	edgeName, payload, ok := edges.take()
	if !ok {
		return fail(Errf(CodeNodeNoEdge, "node %s (%s) declared no outcome", path, desc.ID))
	}

	// Merge the taken edge's payload by shallow-copying top-level fields,
	// then apply an explicit field-assignment block if the config has one.
	for k, v := range payload {
		ec.State[k] = v
	}
	if assign, ok := resolved["assign"].(map[string]any); ok {
		for k, v := range assign {
			ec.State[k] = v
		}
	}

	stateAfter, err := CloneState(ec.State)
	if err != nil {
		return fail(Wrap(CodeNodeFailed, err, "node %s: state snapshot failed", path))
	}

	entry.Status = store.StatusCompleted
	entry.Edge = edgeName
	entry.Output = payload
	entry.StateAfter = stateAfter

	ec.Emit(emit.Event{
		Name: emit.NodeCompleted, NodeID: path, NodeType: desc.ID,
		DurationMs: entry.DurationMs, Result: payload,
	})
	if r.it.opts.Metrics != nil {
		r.it.opts.Metrics.NodeExecuted(desc.ID, "completed", time.Since(started))
	}

	return entry, inv.Edges[edgeName], nil
}

// target recurses into an edge continuation. A single nested invocation is
// addressed as element 0 of an implicit one-element sequence, giving paths
// like "0.success?.0".
func (r *run) target(ctx context.Context, t *Target, prefix string) *Error {
	switch t.Kind {
	case TargetNode:
		return r.invocation(ctx, t.Invocation, prefix+".0")
	case TargetSequence:
		return r.sequence(ctx, t.Sequence, prefix)
	default:
		return nil
	}
}

func (r *run) checkCancelled(ctx context.Context, path string) *Error {
	if ctx.Err() != nil || r.ec.Cancelled() {
		r.failedNode = path
		return Errf(CodeCancelled, "execution cancelled before node %s", path)
	}
	return nil
}

// executeNode invokes a node, converting panics into errors so a misbehaving
// node fails its execution instead of the process.
func executeNode(ctx context.Context, node Node, nc *NodeContext) (edges *EdgeMap, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("node panic: %v", rec)
		}
	}()
	return node.Execute(ctx, nc)
}
