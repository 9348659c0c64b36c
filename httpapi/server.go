// Package httpapi exposes the engine over plain HTTP with JSON bodies.
// Handlers are thin: they translate requests into runtime and store calls
// and map structured error codes onto status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arcflow/arcflow/analysis"
	"github.com/arcflow/arcflow/automation"
	"github.com/arcflow/arcflow/flow"
	"github.com/arcflow/arcflow/flow/store"
	"github.com/arcflow/arcflow/runtime"
)

// Server wires HTTP routes to a runtime.
type Server struct {
	rt      *runtime.Runtime
	catalog *analysis.Catalog
	mux     *http.ServeMux
}

// NewServer builds a Server with all routes registered.
func NewServer(rt *runtime.Runtime) *Server {
	s := &Server{
		rt:      rt,
		catalog: analysis.NewCatalog(rt.Registry()),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /automations/webhook/{path...}", s.handleWebhook)
	s.mux.HandleFunc("POST /automations/cron/validate", s.handleCronValidate)
	s.mux.HandleFunc("GET /executions", s.handleListExecutions)
	s.mux.HandleFunc("GET /executions/{id}", s.handleGetExecution)
	s.mux.HandleFunc("POST /workflows/{id}/run", s.handleRunWorkflow)
	s.mux.HandleFunc("GET /nodes", s.handleListNodes)
	s.mux.HandleFunc("GET /nodes/{id}", s.handleDescribeNode)
	s.mux.HandleFunc("POST /workflows/validate", s.handleValidateWorkflow)
}

// apiError is the uniform error envelope.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error(), Code: flow.CodeOf(err)})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	// An empty body is fine; only malformed JSON is rejected.
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body", Code: flow.CodeValidationError})
		return
	}

	result, err := s.rt.Webhooks().Dispatch(r.Context(), path, body)
	switch {
	case errors.Is(err, automation.ErrUnknownWebhook):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, automation.ErrAutomationDisabled):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, statusForCode(flow.CodeOf(err)), err)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

type cronValidateRequest struct {
	CronExpression string `json:"cronExpression"`
	Timezone       string `json:"timezone"`
}

func (s *Server) handleCronValidate(w http.ResponseWriter, r *http.Request) {
	var req cronValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body", Code: flow.CodeValidationError})
		return
	}
	writeJSON(w, http.StatusOK, automation.Validate(req.CronExpression, req.Timezone))
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter, err := executionFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := s.rt.Store().ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []*store.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func executionFilterFromQuery(r *http.Request) (store.ExecutionFilter, error) {
	q := r.URL.Query()
	filter := store.ExecutionFilter{
		Status:     store.Status(q.Get("status")),
		WorkflowID: q.Get("workflowId"),
		SortBy:     q.Get("sortBy"),
		SortOrder:  q.Get("sortOrder"),
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, flow.Errf(flow.CodeValidationError, "invalid pageSize: %q", v)
		}
		filter.PageSize = n
	}
	for key, dst := range map[string]**time.Time{"startDate": &filter.StartDate, "endDate": &filter.EndDate} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, flow.Errf(flow.CodeValidationError, "invalid %s: %q", key, v)
			}
			*dst = &t
		}
	}
	return filter, nil
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.rt.Store().GetExecution(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type runWorkflowRequest struct {
	State    map[string]any `json:"state"`
	TenantID string         `json:"tenantId"`
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var req runWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body", Code: flow.CodeValidationError})
		return
	}

	rec, err := s.rt.RunWorkflow(r.Context(), r.PathValue("id"), req.State, runtime.RunOptions{
		TenantID:    req.TenantID,
		TriggeredBy: store.TriggeredByAPI,
		AuthToken:   bearerToken(r),
	})
	if err != nil {
		writeError(w, statusForCode(flow.CodeOf(err)), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.catalog.List(flow.ListFilter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Source:   flow.Source(q.Get("source")),
	}))
}

func (s *Server) handleDescribeNode(w http.ResponseWriter, r *http.Request) {
	desc, err := s.catalog.Describe(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "reading body", Code: flow.CodeValidationError})
		return
	}
	def, err := flow.ParseDefinition(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	issues := analysis.Validate(def, s.rt.Registry())
	if issues == nil {
		issues = []analysis.Issue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(issues) == 0, "issues": issues})
}

// statusForCode maps engine error codes onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case flow.CodeWorkflowNotFound, flow.CodeUnknownNode:
		return http.StatusNotFound
	case flow.CodeValidationError, flow.CodeInvalidDefinition, flow.CodeCronInvalid:
		return http.StatusBadRequest
	case flow.CodeVersionConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
