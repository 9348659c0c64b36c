package flow

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Reference and template grammar.
//
// A config leaf that is exactly "$.a.b" is a reference: it is replaced by the
// value at that state path (missing paths resolve to nil). A string that
// merely contains "{{$.a.b}}" is a template: each placeholder is replaced by
// the string form of the resolved value, and missing paths keep the literal
// placeholder so a later interpolation pass can still substitute them.
var (
	refPattern      = regexp.MustCompile(`^\$\.([A-Za-z0-9_.\-]+)$`)
	templatePattern = regexp.MustCompile(`\{\{\s*\$\.([A-Za-z0-9_.\-]+)\s*\}\}`)
)

// ResolveConfig deep-copies a node config and resolves every leaf value
// against the current state. The input is never mutated; the interpreter
// calls this immediately before each node's Execute.
func ResolveConfig(cfg map[string]any, state map[string]any) (map[string]any, error) {
	copied, err := CloneState(cfg)
	if err != nil {
		return nil, err
	}
	resolved := resolveValue(copied, state)
	out, ok := resolved.(map[string]any)
	if !ok {
		// A config object can only resolve to an object.
		return map[string]any{}, nil
	}
	return out, nil
}

// ResolveValue resolves a single config value against state per the rules
// above. Maps and slices are resolved recursively; numeric and boolean
// values pass through unchanged.
func ResolveValue(v any, state map[string]any) any {
	copied, err := cloneValue(v)
	if err != nil {
		return v
	}
	return resolveValue(copied, state)
}

func resolveValue(v any, state map[string]any) any {
	switch val := v.(type) {
	case string:
		if m := refPattern.FindStringSubmatch(val); m != nil {
			resolved, ok := Lookup(state, m[1])
			if !ok {
				return nil
			}
			return resolved
		}
		return Interpolate(val, state)
	case map[string]any:
		for k, child := range val {
			val[k] = resolveValue(child, state)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = resolveValue(child, state)
		}
		return val
	default:
		return v
	}
}

// Interpolate renders {{$.path}} placeholders inside a string. Placeholders
// whose path is missing from state are left verbatim, which makes repeated
// interpolation idempotent until the key appears.
func Interpolate(s string, state map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		path := templatePattern.FindStringSubmatch(match)[1]
		v, ok := Lookup(state, path)
		if !ok {
			return match
		}
		return Stringify(v)
	})
}

// Stringify renders a state value for template substitution.
//
// Numbers print without a trailing ".0" when integral, composite values
// print as compact JSON, nil prints as "null". This is the presentation
// format for rendered templates, not a wire format.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// ReferencedPaths returns every $.path reference and {{$.path}} placeholder
// found anywhere in a config value. Used by static analysis to flag
// unresolved references without executing the workflow.
func ReferencedPaths(v any) []string {
	seen := map[string]bool{}
	var walk func(any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			if m := refPattern.FindStringSubmatch(val); m != nil {
				seen[m[1]] = true
				return
			}
			for _, m := range templatePattern.FindAllStringSubmatch(val, -1) {
				seen[m[1]] = true
			}
		case map[string]any:
			for _, child := range val {
				walk(child)
			}
		case []any:
			for _, child := range val {
				walk(child)
			}
		}
	}
	walk(v)

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
