package flow

import (
	"sort"
	"strings"
	"sync"
)

// Source identifies where a node type was discovered.
type Source string

const (
	// SourceUniversal marks nodes bundled with the engine and shared by
	// every process.
	SourceUniversal Source = "universal"

	// SourceServer marks nodes contributed by the local process at startup.
	SourceServer Source = "server"
)

// Descriptor is the compile-time metadata a node type declares at
// registration. The interpreter ignores it; it exists for the reflection
// and analysis surfaces.
type Descriptor struct {
	// ID is the node type name used as the registry key and in workflow
	// definitions. Must be unique across all sources.
	ID string `json:"id"`

	// Category groups nodes in the catalog (e.g. "data", "control", "io").
	Category string `json:"category"`

	// Description is a one-line summary.
	Description string `json:"description"`

	// InputSchema describes the node's expected config, JSON-Schema shaped.
	InputSchema map[string]any `json:"inputSchema,omitempty"`

	// Edges is the declared edge set, e.g. ["success?", "error?"].
	Edges []string `json:"edges"`

	// Predecessors and Successors are static composability hints: node ids
	// that typically appear before/after this one.
	Predecessors []string `json:"predecessors,omitempty"`
	Successors   []string `json:"successors,omitempty"`

	// Hints are free-form AI hints for workflow assistants.
	Hints []string `json:"hints,omitempty"`
}

// ListFilter narrows Registry.List results.
type ListFilter struct {
	// Category matches Descriptor.Category exactly when non-empty.
	Category string

	// Search matches id and description case-insensitively when non-empty.
	Search string

	// Source restricts to one discovery source when non-empty.
	Source Source
}

// Registry indexes the node types available to the interpreter.
//
// Discovery happens at process start: the runtime registers the bundled
// universal set first, then any server-local nodes. Duplicate ids are an
// error the caller must treat as fatal.
//
// Registry never calls nodes; it only hands them to the interpreter.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	order   []string
}

type registration struct {
	source Source
	desc   Descriptor
	node   Node
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Register adds a node type under its descriptor id.
//
// Returns a DUPLICATE_NODE error if the id is already taken. Startup code
// treats that as fatal, since it means two plugins collide on a name.
func (r *Registry) Register(source Source, desc Descriptor, node Node) error {
	if desc.ID == "" {
		return Errf(CodeInvalidDefinition, "node descriptor requires an id")
	}
	if node == nil {
		return Errf(CodeInvalidDefinition, "node %q is nil", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.ID]; exists {
		return Errf(CodeDuplicateNode, "node id already registered: %s", desc.ID)
	}
	r.entries[desc.ID] = &registration{source: source, desc: desc, node: node}
	r.order = append(r.order, desc.ID)
	return nil
}

// ByID looks up a node and its descriptor. A miss is an UNKNOWN_NODE error.
func (r *Registry) ByID(id string) (Node, Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[id]
	if !ok {
		return nil, Descriptor{}, Errf(CodeUnknownNode, "unknown node type: %s", id)
	}
	return reg.node, reg.desc, nil
}

// Resolve maps a workflow invocation name to a registered node. Exact ids
// win; otherwise a trailing numeric disambiguation suffix is stripped, so
// "http2" aliases "http" when no node named "http2" exists.
func (r *Registry) Resolve(name string) (Node, Descriptor, error) {
	if node, desc, err := r.ByID(name); err == nil {
		return node, desc, nil
	}
	base := strings.TrimRight(name, "0123456789")
	if base != "" && base != name {
		if node, desc, err := r.ByID(base); err == nil {
			return node, desc, nil
		}
	}
	return nil, Descriptor{}, Errf(CodeUnknownNode, "unknown node type: %s", name)
}

// List returns descriptors matching the filter, sorted by id.
func (r *Registry) List(filter ListFilter) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	out := make([]Descriptor, 0, len(r.entries))
	for _, reg := range r.entries {
		if filter.Source != "" && reg.source != filter.Source {
			continue
		}
		if filter.Category != "" && reg.desc.Category != filter.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(reg.desc.ID), search) &&
			!strings.Contains(strings.ToLower(reg.desc.Description), search) {
			continue
		}
		out = append(out, reg.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}
