package flow

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := Errf(CodeUnknownNode, "unknown node type: %s", "smtp")
	if got := err.Error(); got != "UNKNOWN_NODE: unknown node type: smtp" {
		t.Errorf("Error() = %q", got)
	}

	plain := &Error{Message: "no code"}
	if got := plain.Error(); got != "no code" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeNodeFailed, cause, "node %s failed", "0")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if CodeOf(err) != CodeNodeFailed {
		t.Errorf("CodeOf = %s", CodeOf(err))
	}
}

func TestCodeOfWalksWrapChains(t *testing.T) {
	inner := Errf(CodeWorkflowNotFound, "workflow not found: wf-1")
	outer := fmt.Errorf("loading definition: %w", inner)

	if CodeOf(outer) != CodeWorkflowNotFound {
		t.Errorf("CodeOf(wrapped) = %s, want WORKFLOW_NOT_FOUND", CodeOf(outer))
	}
	if CodeOf(nil) != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", CodeOf(nil))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Errorf("CodeOf(plain) should be empty")
	}
}
