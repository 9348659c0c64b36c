package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes structured event output to a writer.
//
// Two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON event per line (JSONL)
//
// Example text output:
//
//	[node:completed] execution=exec-001 node=0 type=math durationMs=1
//
// Example JSON output:
//
//	{"name":"node:completed","workflowId":"wf-1","executionId":"exec-001",...}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	event = event.stamped()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] workflow=%s execution=%s", event.Name, event.WorkflowID, event.ExecutionID)
	if event.NodeID != "" {
		fmt.Fprintf(l.writer, " node=%s type=%s", event.NodeID, event.NodeType)
	}
	if event.DurationMs > 0 {
		fmt.Fprintf(l.writer, " durationMs=%d", event.DurationMs)
	}
	if event.Error != "" {
		fmt.Fprintf(l.writer, " error=%q", event.Error)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
