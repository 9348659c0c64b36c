package flow

import (
	"context"
	"net/http"

	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/model"
)

// Node is the single capability every computational unit implements.
//
// A node receives its resolved configuration and the shared execution state
// through the NodeContext, performs its work, and declares its outcome as an
// EdgeMap. The interpreter, never the registry, calls Execute, follows
// exactly one edge per invocation, and merges that edge's payload into
// state.
//
// Returning an error is an unhandled failure: the execution fails and no
// further nodes run. Business-level failures should instead be declared as
// an "error?" edge, which the interpreter follows like any other edge.
type Node interface {
	Execute(ctx context.Context, nc *NodeContext) (*EdgeMap, error)
}

// NodeFunc adapts a plain function to the Node interface.
//
// Example:
//
//	greet := flow.NodeFunc(func(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
//	    name, _ := nc.ConfigString("name")
//	    return flow.Edges().Payload("success?", flow.Payload{"greeting": "hello " + name}), nil
//	})
type NodeFunc func(ctx context.Context, nc *NodeContext) (*EdgeMap, error)

// Execute implements Node.
func (f NodeFunc) Execute(ctx context.Context, nc *NodeContext) (*EdgeMap, error) {
	return f(ctx, nc)
}

// Payload is the output object carried by a taken edge. Its top-level fields
// are shallow-merged into execution state.
type Payload = map[string]any

// EdgeMap is an ordered mapping from edge name to a producer of an output
// payload. Order is significant: the interpreter takes the first edge whose
// producer yields a non-nil payload, so nodes control tie-breaking simply by
// declaration order.
//
// Producers are thunks so that a payload is only materialized if its edge is
// actually taken.
type EdgeMap struct {
	entries []edgeEntry
}

type edgeEntry struct {
	name    string
	produce func() Payload
}

// Edges returns an empty EdgeMap ready for chaining.
func Edges() *EdgeMap {
	return &EdgeMap{}
}

// Add appends an edge with a payload thunk. A thunk returning nil marks the
// edge as not taken for this invocation.
func (m *EdgeMap) Add(name string, produce func() Payload) *EdgeMap {
	m.entries = append(m.entries, edgeEntry{name: name, produce: produce})
	return m
}

// Payload appends an edge with an eager payload. The edge is always
// considered taken when reached; an empty Payload{} is a valid outcome.
func (m *EdgeMap) Payload(name string, p Payload) *EdgeMap {
	if p == nil {
		p = Payload{}
	}
	return m.Add(name, func() Payload { return p })
}

// Skip appends an edge that is declared but not taken this invocation.
// Declaring untaken edges keeps the edge order stable for callers that
// introspect Names.
func (m *EdgeMap) Skip(name string) *EdgeMap {
	return m.Add(name, nil)
}

// Len reports the number of declared edges.
func (m *EdgeMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Names returns the declared edge names in order.
func (m *EdgeMap) Names() []string {
	names := make([]string, 0, m.Len())
	if m != nil {
		for _, e := range m.entries {
			names = append(names, e.name)
		}
	}
	return names
}

// take returns the first edge whose producer yields a non-nil payload.
func (m *EdgeMap) take() (name string, payload Payload, ok bool) {
	if m == nil {
		return "", nil, false
	}
	for _, e := range m.entries {
		if e.produce == nil {
			continue
		}
		if p := e.produce(); p != nil {
			return e.name, p, true
		}
	}
	return "", nil, false
}

// Services bundles the injected accessors for external collaborators.
// The engine only depends on these contracts; implementations live outside
// the interpreter and are owned by the runtime.
type Services struct {
	// HTTP is the outbound client used by HTTP-calling nodes. Nil means the
	// node falls back to a default client with its own timeout.
	HTTP *http.Client

	// Chat is the LLM adapter used by the bundled ai node.
	Chat model.ChatModel

	// Resources is the sandboxed per-tenant file-resource store.
	Resources ResourceStore

	// Flex is the dynamic per-tenant record table engine.
	Flex FlexStore
}

// ResourceStore is the contract of the sandboxed file-resource collaborator.
// Stored resources use the same template rules as node configs.
type ResourceStore interface {
	// Get returns the raw resource content for a tenant.
	Get(ctx context.Context, tenantID, name string) ([]byte, error)

	// Render returns the resource content with {{$.path}} templates
	// interpolated against the provided state.
	Render(ctx context.Context, tenantID, name string, state map[string]any) (string, error)
}

// FlexStore is the contract of the dynamic per-tenant table collaborator.
// Reference failures surface as REFERENCE_ERROR values on a node's error?
// edge, never as a fatal error.
type FlexStore interface {
	GetRecord(ctx context.Context, tenantID, table, id string) (map[string]any, error)
	SaveRecord(ctx context.Context, tenantID, table string, record map[string]any) (string, error)
	QueryRecords(ctx context.Context, tenantID, table string, filter map[string]any) ([]map[string]any, error)
}

// NodeContext is what a node sees during one invocation: its resolved
// config, the shared mutable state, identity of the run, the event emitter,
// and the injected collaborator services.
type NodeContext struct {
	// Config is the node's configuration with $.path references and
	// {{$.path}} templates already resolved. Edge keys are stripped.
	Config map[string]any

	// State is the live execution state map. Nodes may read and write it
	// freely during their own Execute; there is no cross-node parallelism
	// within a run.
	State State

	// TenantID, WorkflowID and ExecutionID identify the run.
	TenantID    string
	WorkflowID  string
	ExecutionID string

	// NodeID is the invocation's index path within the workflow.
	NodeID string

	// Emitter receives node-emitted observability events.
	Emitter emit.Emitter

	// Services are the injected external collaborators.
	Services Services
}

// ConfigString fetches a string config field.
func (nc *NodeContext) ConfigString(key string) (string, bool) {
	v, ok := nc.Config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ConfigNumber fetches a numeric config field. JSON numbers decode as
// float64; integer config literals are accepted too.
func (nc *NodeContext) ConfigNumber(key string) (float64, bool) {
	switch v := nc.Config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// ConfigBool fetches a boolean config field.
func (nc *NodeContext) ConfigBool(key string) (bool, bool) {
	v, ok := nc.Config[key].(bool)
	return v, ok
}

// ConfigSlice fetches an array config field.
func (nc *NodeContext) ConfigSlice(key string) ([]any, bool) {
	v, ok := nc.Config[key].([]any)
	return v, ok
}

// ConfigMap fetches an object config field.
func (nc *NodeContext) ConfigMap(key string) (map[string]any, bool) {
	v, ok := nc.Config[key].(map[string]any)
	return v, ok
}
