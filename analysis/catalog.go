// Package analysis provides the reflection surfaces: node catalog,
// composability suggestions, workflow explanation, deep validation and the
// pattern library. Everything here is static; no workflow is ever executed.
package analysis

import (
	"sort"

	"github.com/arcflow/arcflow/flow"
)

// Catalog answers node discovery queries over a registry.
type Catalog struct {
	registry *flow.Registry
}

// NewCatalog wraps a registry.
func NewCatalog(r *flow.Registry) *Catalog {
	return &Catalog{registry: r}
}

// List returns descriptors matching the filter, sorted by id.
func (c *Catalog) List(filter flow.ListFilter) []flow.Descriptor {
	return c.registry.List(filter)
}

// Categories returns the distinct categories in use, sorted.
func (c *Catalog) Categories() []string {
	seen := map[string]bool{}
	for _, d := range c.registry.List(flow.ListFilter{}) {
		if d.Category != "" {
			seen[d.Category] = true
		}
	}
	out := make([]string, 0, len(seen))
	for category := range seen {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// Describe returns one node's descriptor.
func (c *Catalog) Describe(id string) (flow.Descriptor, error) {
	_, desc, err := c.registry.ByID(id)
	return desc, err
}
