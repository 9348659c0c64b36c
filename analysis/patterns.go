package analysis

import (
	"regexp"
	"sort"
	"strings"

	"github.com/arcflow/arcflow/flow"
)

// Pattern is a named workflow template. Templates are complete definition
// JSON with {{placeholder}} holes; Generate substitutes the holes and
// parses the result, so every generated definition is runnable as-is.
type Pattern struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Placeholders []string `json:"placeholders"`
	Template     string   `json:"-"`
}

// Match is a detection result: how strongly a definition resembles a
// pattern, with confidence in [0, 1].
type Match struct {
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
}

// Library returns the built-in patterns.
func Library() []Pattern {
	return patternLibrary
}

// PatternByName returns one pattern from the library.
func PatternByName(name string) (Pattern, bool) {
	for _, p := range patternLibrary {
		if p.Name == name {
			return p, true
		}
	}
	return Pattern{}, false
}

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// Generate substitutes values into a library template and parses the
// result. Missing placeholder values are an error, not a silent hole.
func Generate(name string, values map[string]string) (*flow.Definition, error) {
	p, ok := PatternByName(name)
	if !ok {
		return nil, flow.Errf(flow.CodeValidationError, "unknown pattern: %s", name)
	}

	var missing []string
	filled := placeholderPattern.ReplaceAllStringFunc(p.Template, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := values[key]; ok {
			return v
		}
		missing = append(missing, key)
		return m
	})
	if len(missing) > 0 {
		return nil, flow.Errf(flow.CodeValidationError, "pattern %s: missing values for %s", name, strings.Join(missing, ", "))
	}

	return flow.ParseDefinition([]byte(filled))
}

// Detect matches a definition against every library pattern and returns
// the non-zero matches, strongest first. Detection is structural: it looks
// at node types, loops and edge shapes, never at config values.
func Detect(def *flow.Definition) []Match {
	shape := collectShape(def)

	var out []Match
	for _, d := range detectors {
		if confidence := d.score(shape); confidence > 0 {
			out = append(out, Match{Pattern: d.name, Confidence: confidence})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// workflowShape is the structural digest detection runs on.
type workflowShape struct {
	nodeCounts    map[string]int
	loops         int
	loopBodies    []string
	errorEdges    int
	branchNodes   int
	maxFanOut     int
	sequenceTails int
	total         int
}

func collectShape(def *flow.Definition) workflowShape {
	shape := workflowShape{nodeCounts: map[string]int{}}
	walk(def, func(path string, inv *flow.Invocation, depth int) {
		shape.total++
		base := strings.TrimRight(inv.Name, "0123456789")
		shape.nodeCounts[base]++
		if inv.Loop {
			shape.loops++
			for _, target := range inv.Edges {
				if target == nil {
					continue
				}
				for _, body := range targetInvocations(target) {
					shape.loopBodies = append(shape.loopBodies, strings.TrimRight(body.Name, "0123456789"))
				}
			}
		}

		fanOut := 0
		for edge, target := range inv.Edges {
			nonTerminal := target != nil && target.Kind != flow.TargetTerminal
			if edge == "error?" && nonTerminal {
				shape.errorEdges++
			}
			if nonTerminal {
				fanOut++
				if target.Kind == flow.TargetSequence && len(target.Sequence) > 1 {
					shape.sequenceTails++
				}
			}
		}
		if fanOut > shape.maxFanOut {
			shape.maxFanOut = fanOut
		}
		if fanOut >= 2 {
			shape.branchNodes++
		}
	})
	return shape
}

func targetInvocations(t *flow.Target) []*flow.Invocation {
	switch t.Kind {
	case flow.TargetNode:
		return []*flow.Invocation{t.Invocation}
	case flow.TargetSequence:
		return t.Sequence
	default:
		return nil
	}
}

type detector struct {
	name  string
	score func(workflowShape) float64
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

var detectors = []detector{
	{
		name: "counter-loop",
		score: func(s workflowShape) float64 {
			if s.loops == 0 {
				return 0
			}
			score := 0.5
			for _, body := range s.loopBodies {
				if body == "editFields" || body == "math" {
					score += 0.4
					break
				}
			}
			if s.nodeCounts["logic"] > 0 {
				score += 0.1
			}
			return clamp(score)
		},
	},
	{
		name: "conditional-branching",
		score: func(s workflowShape) float64 {
			if s.branchNodes == 0 || s.nodeCounts["logic"] == 0 {
				return 0
			}
			return clamp(0.6 + 0.2*float64(s.branchNodes))
		},
	},
	{
		name: "etl-pipeline",
		score: func(s workflowShape) float64 {
			extract := s.nodeCounts["httpRequest"] + s.nodeCounts["flexRecord"] + s.nodeCounts["resource"]
			transform := s.nodeCounts["editFields"] + s.nodeCounts["setState"] + s.nodeCounts["math"]
			load := s.nodeCounts["flexRecord"] + s.nodeCounts["httpRequest"]
			if extract == 0 || transform == 0 || load == 0 {
				return 0
			}
			return clamp(0.4 + 0.2*float64(min(extract, 2)) + 0.1*float64(min(transform, 2)))
		},
	},
	{
		name: "ai-pipeline",
		score: func(s workflowShape) float64 {
			if s.nodeCounts["ai"] == 0 {
				return 0
			}
			score := 0.6
			if s.nodeCounts["editFields"]+s.nodeCounts["log"] > 0 {
				score += 0.2
			}
			if s.nodeCounts["ai"] > 1 {
				score += 0.2
			}
			return clamp(score)
		},
	},
	{
		name: "error-handling",
		score: func(s workflowShape) float64 {
			if s.errorEdges == 0 {
				return 0
			}
			return clamp(0.5 + 0.25*float64(s.errorEdges))
		},
	},
	{
		name: "parallel-split-aggregate",
		score: func(s workflowShape) float64 {
			// The engine runs branches sequentially; the shape is still a
			// split into independent branches joined by an aggregate step.
			if s.maxFanOut < 2 || s.sequenceTails == 0 {
				return 0
			}
			return clamp(0.4 + 0.2*float64(s.maxFanOut))
		},
	},
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var patternLibrary = []Pattern{
	{
		Name:         "etl-pipeline",
		Description:  "Fetch data, reshape it, store it",
		Placeholders: []string{"id", "name", "sourceUrl", "table"},
		Template: `{
  "id": "{{id}}",
  "name": "{{name}}",
  "version": "1.0.0",
  "initialState": {},
  "workflow": [
    { "httpRequest": { "url": "{{sourceUrl}}", "method": "GET",
      "success?": [
        { "editFields": { "fieldsToSet": [ { "name": "payload", "value": "$.responseBody", "type": "string" } ], "success?": null } },
        { "flexRecord": { "action": "save", "table": "{{table}}", "record": { "payload": "$.payload" }, "success?": null, "error?": null } }
      ],
      "error?": { "log": { "message": "fetch failed: {{$.error}}", "success?": null } }
    } }
  ]
}`,
	},
	{
		Name:         "conditional-branching",
		Description:  "Branch on a comparison",
		Placeholders: []string{"id", "name", "field", "threshold", "highMessage", "lowMessage"},
		Template: `{
  "id": "{{id}}",
  "name": "{{name}}",
  "version": "1.0.0",
  "initialState": { "{{field}}": 0 },
  "workflow": [
    { "logic": { "operation": "greater", "values": ["$.{{field}}", {{threshold}}],
      "true?": { "log": { "message": "{{highMessage}}", "success?": null } },
      "false?": { "log": { "message": "{{lowMessage}}", "success?": null } }
    } }
  ]
}`,
	},
	{
		Name:         "counter-loop",
		Description:  "Repeat a body a fixed number of times",
		Placeholders: []string{"id", "name", "count"},
		Template: `{
  "id": "{{id}}",
  "name": "{{name}}",
  "version": "1.0.0",
  "initialState": { "index": 0 },
  "workflow": [
    { "logic...": { "operation": "less", "values": ["$.index", {{count}}],
      "true?": [
        { "log": { "message": "iteration {{$.index}}", "success?": null } },
        { "editFields": { "fieldsToSet": [ { "name": "index", "value": "$.index + 1", "type": "number" } ], "success?": null } }
      ],
      "false?": null
    } }
  ]
}`,
	},
	{
		Name:         "ai-pipeline",
		Description:  "Prompt a model and post-process its answer",
		Placeholders: []string{"id", "name", "system", "prompt"},
		Template: `{
  "id": "{{id}}",
  "name": "{{name}}",
  "version": "1.0.0",
  "initialState": {},
  "workflow": [
    { "ai": { "system": "{{system}}", "prompt": "{{prompt}}",
      "success?": { "log": { "message": "model said: {{$.aiResponse}}", "success?": null } },
      "error?": { "log": { "message": "model error: {{$.error}}", "success?": null } }
    } }
  ]
}`,
	},
	{
		Name:         "error-handling",
		Description:  "Primary action with an explicit error branch",
		Placeholders: []string{"id", "name", "url"},
		Template: `{
  "id": "{{id}}",
  "name": "{{name}}",
  "version": "1.0.0",
  "initialState": {},
  "workflow": [
    { "httpRequest": { "url": "{{url}}", "method": "GET",
      "success?": { "log": { "message": "status {{$.statusCode}}", "success?": null } },
      "error?": [
        { "log": { "message": "request failed: {{$.error}}", "success?": null } },
        { "setState": { "failed": true, "success?": null } }
      ]
    } }
  ]
}`,
	},
	{
		Name:         "parallel-split-aggregate",
		Description:  "Fan a result into independent branches, then aggregate",
		Placeholders: []string{"id", "name", "sourceUrl"},
		Template: `{
  "id": "{{id}}",
  "name": "{{name}}",
  "version": "1.0.0",
  "initialState": {},
  "workflow": [
    { "httpRequest": { "url": "{{sourceUrl}}", "method": "GET",
      "success?": [
        { "editFields": { "fieldsToSet": [ { "name": "lengthA", "value": "$.responseBody", "type": "string" } ], "success?": null } },
        { "editFields": { "fieldsToSet": [ { "name": "lengthB", "value": "$.statusCode", "type": "number" } ], "success?": null } },
        { "setState": { "aggregated": true, "success?": null } }
      ],
      "error?": null
    } }
  ]
}`,
	},
}
