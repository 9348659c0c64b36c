package analysis

import (
	"testing"
)

func TestSuggestRanksDeclaredSuccessorsFirst(t *testing.T) {
	g := NewComposabilityGraph(universalRegistry(t))

	suggestions := g.Suggest("math", "success?", nil)
	if len(suggestions) == 0 {
		t.Fatal("no suggestions for math")
	}

	// log both declares math as predecessor and is a declared successor,
	// so it must outrank everything else.
	if suggestions[0].NodeID != "log" {
		t.Errorf("top suggestion = %q, want log (all: %+v)", suggestions[0].NodeID, suggestions)
	}
	for i := 1; i < len(suggestions); i++ {
		if suggestions[i-1].Confidence < suggestions[i].Confidence {
			t.Fatalf("suggestions not sorted by confidence: %+v", suggestions)
		}
	}
	for _, s := range suggestions {
		if s.Confidence <= 0 || s.Confidence > 1 {
			t.Errorf("confidence %f for %q out of range", s.Confidence, s.NodeID)
		}
		if s.Reason == "" {
			t.Errorf("suggestion %q has no reason", s.NodeID)
		}
	}
}

func TestSuggestErrorEdgeFavorsLogging(t *testing.T) {
	g := NewComposabilityGraph(universalRegistry(t))

	suggestions := g.Suggest("httpRequest", "error?", nil)
	found := false
	for _, s := range suggestions {
		if s.NodeID == "log" {
			found = true
		}
		if s.NodeID == "httpRequest" {
			t.Error("a node suggested itself")
		}
	}
	if !found {
		t.Errorf("error edge suggestions omit log: %+v", suggestions)
	}
}

func TestSuggestUnknownNode(t *testing.T) {
	g := NewComposabilityGraph(universalRegistry(t))
	if got := g.Suggest("teleport", "success?", nil); got != nil {
		t.Errorf("suggestions for unknown node = %+v, want nil", got)
	}
}
