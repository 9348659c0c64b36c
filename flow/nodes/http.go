package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arcflow/arcflow/flow"
)

func httpRequestDescriptor() flow.Descriptor {
	return flow.Descriptor{
		ID:          "httpRequest",
		Category:    "io",
		Description: "Performs an outbound HTTP request",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"method":  map[string]any{"type": "string", "enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE"}},
				"url":     map[string]any{"type": "string"},
				"headers": map[string]any{"type": "object"},
				"body":    map[string]any{},
			},
			"required": []any{"url"},
		},
		Edges:      []string{"success?", "error?"},
		Successors: []string{"log", "editFields"},
		Hints:      []string{"Any HTTP response takes success?; transport failures take error?."},
	}
}

const defaultHTTPTimeout = 30 * time.Second

// httpRequestExecute issues the configured request through the injected
// client. Receiving a response is success regardless of status code; the
// status lands in state for downstream logic nodes to branch on.
func httpRequestExecute(ctx context.Context, nc *flow.NodeContext) (*flow.EdgeMap, error) {
	urlStr, ok := nc.ConfigString("url")
	if !ok || urlStr == "" {
		return errorEdge("httpRequest: url is required"), nil
	}

	method := "GET"
	if m, ok := nc.ConfigString("method"); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var reqBody io.Reader
	switch body := nc.Config["body"].(type) {
	case nil:
	case string:
		if body != "" {
			reqBody = bytes.NewBufferString(body)
		}
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return errorEdge(fmt.Sprintf("httpRequest: cannot encode body: %v", err)), nil
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return errorEdge(fmt.Sprintf("httpRequest: %v", err)), nil
	}
	if headers, ok := nc.ConfigMap("headers"); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}
	if reqBody != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := nc.Services.HTTP
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return errorEdge(fmt.Sprintf("httpRequest: %v", err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorEdge(fmt.Sprintf("httpRequest: reading response: %v", err)), nil
	}

	respHeaders := map[string]any{}
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = strings.Join(values, ", ")
		}
	}

	payload := flow.Payload{
		"statusCode":      float64(resp.StatusCode),
		"responseHeaders": respHeaders,
		"responseBody":    string(respBody),
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			payload["responseJson"] = parsed
		}
	}

	return flow.Edges().Payload("success?", payload).Skip("error?"), nil
}
