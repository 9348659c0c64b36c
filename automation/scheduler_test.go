package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcflow/arcflow/flow"
	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/store"
)

// fakeRunner records run requests and optionally blocks or fails.
type fakeRunner struct {
	mu       sync.Mutex
	requests []RunRequest
	block    chan struct{}
	err      error
}

func (f *fakeRunner) RunAutomation(_ context.Context, req RunRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	return req.ExecutionID, nil
}

func (f *fakeRunner) calls() []RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunRequest(nil), f.requests...)
}

func cronAutomation(id, expression string) *store.Automation {
	return &store.Automation{
		ID:          id,
		PluginID:    "demo",
		WorkflowID:  "wf-1",
		Enabled:     true,
		TriggerType: store.TriggerCron,
		TriggerConfig: map[string]any{
			"cronExpression": expression,
			"timezone":       "UTC",
		},
	}
}

func TestScheduleArmsJobAndPersistsNextRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	s := NewScheduler(st)

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if got := s.JobStateOf("auto-1"); got != JobArmed {
		t.Errorf("job state = %q, want %q", got, JobArmed)
	}
	stored, err := st.GetAutomation(ctx, "auto-1")
	if err != nil {
		t.Fatalf("GetAutomation: %v", err)
	}
	if stored.NextRunAt == nil {
		t.Fatal("nextRunAt not persisted")
	}
	if !stored.NextRunAt.After(time.Now().Add(-time.Second)) {
		t.Errorf("nextRunAt %v is in the past", stored.NextRunAt)
	}
}

func TestScheduleReplacesPriorEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	s := NewScheduler(st)

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	a.TriggerConfig["cronExpression"] = "0 * * * *"
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("re-Schedule: %v", err)
	}
	if got := s.JobStateOf("auto-1"); got != JobArmed {
		t.Errorf("job state after re-arm = %q, want %q", got, JobArmed)
	}
}

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	ctx := context.Background()
	s := NewScheduler(store.NewMemStore())

	err := s.Schedule(ctx, cronAutomation("auto-bad", "not a cron"))
	if flow.CodeOf(err) != flow.CodeCronInvalid {
		t.Fatalf("error code = %q, want CRON_INVALID (err: %v)", flow.CodeOf(err), err)
	}
	if got := s.JobStateOf("auto-bad"); got != JobIdle {
		t.Errorf("failed schedule left job in state %q", got)
	}
}

func TestScheduleRejectsNonCronTrigger(t *testing.T) {
	ctx := context.Background()
	s := NewScheduler(store.NewMemStore())

	a := cronAutomation("auto-hook", "*/5 * * * *")
	a.TriggerType = store.TriggerWebhook
	err := s.Schedule(ctx, a)
	if flow.CodeOf(err) != flow.CodeCronInvalid {
		t.Fatalf("error code = %q, want CRON_INVALID (err: %v)", flow.CodeOf(err), err)
	}
}

func TestUnscheduleClearsJobAndNextRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	s := NewScheduler(st)

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Unschedule(ctx, "auto-1"); err != nil {
		t.Fatalf("Unschedule: %v", err)
	}

	if got := s.JobStateOf("auto-1"); got != JobIdle {
		t.Errorf("job state = %q, want %q", got, JobIdle)
	}
	stored, err := st.GetAutomation(ctx, "auto-1")
	if err != nil {
		t.Fatalf("GetAutomation: %v", err)
	}
	if stored.NextRunAt != nil {
		t.Errorf("nextRunAt = %v, want cleared", stored.NextRunAt)
	}

	// Unscheduling an unknown automation is a no-op.
	if err := s.Unschedule(ctx, "ghost"); err != nil {
		t.Errorf("Unschedule of unknown automation: %v", err)
	}
}

func TestFireInvokesCallback(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	buf := emit.NewBufferedEmitter()
	s := NewScheduler(st, WithSchedulerEmitter(buf))
	runner := &fakeRunner{}
	s.RegisterCallback("demo", runner)

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.fire("auto-1")

	calls := runner.calls()
	if len(calls) != 1 {
		t.Fatalf("runner called %d times, want 1", len(calls))
	}
	req := calls[0]
	if req.TriggeredBy != store.TriggeredByAutomation {
		t.Errorf("triggeredBy = %q, want %q", req.TriggeredBy, store.TriggeredByAutomation)
	}
	if req.TriggerSource != "cron:*/5 * * * *" {
		t.Errorf("triggerSource = %q", req.TriggerSource)
	}
	if req.Automation == nil || req.Automation.ID != "auto-1" {
		t.Errorf("automation not threaded through: %+v", req.Automation)
	}
	if req.ExecutionID == "" {
		t.Error("executionId not assigned")
	}
	if _, ok := req.TriggerData["firedAt"]; !ok {
		t.Error("triggerData lacks firedAt")
	}
	if _, ok := req.InitialState["firedAt"]; !ok {
		t.Error("tick payload not offered as initial state")
	}

	ticks := buf.Named(emit.CronTick)
	if len(ticks) != 1 {
		t.Fatalf("got %d cron:tick events, want 1", len(ticks))
	}
	if ticks[0].Meta["automationId"] != "auto-1" || ticks[0].Meta["pluginId"] != "demo" {
		t.Errorf("tick meta = %v", ticks[0].Meta)
	}

	if got := s.JobStateOf("auto-1"); got != JobArmed {
		t.Errorf("job state after fire = %q, want %q", got, JobArmed)
	}
}

func TestFireEmitsWorkflowFailedOnRunnerError(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	buf := emit.NewBufferedEmitter()
	s := NewScheduler(st, WithSchedulerEmitter(buf))
	s.RegisterCallback("demo", &fakeRunner{err: errors.New("boom")})

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.fire("auto-1")

	failed := buf.Named(emit.WorkflowFailed)
	if len(failed) != 1 {
		t.Fatalf("got %d workflow:failed events, want 1", len(failed))
	}
	if !strings.Contains(failed[0].Error, "boom") {
		t.Errorf("event error = %q", failed[0].Error)
	}
	if got := s.JobStateOf("auto-1"); got != JobArmed {
		t.Errorf("job state after failed fire = %q, want %q", got, JobArmed)
	}
}

func TestFireSingleFlight(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	buf := emit.NewBufferedEmitter()
	s := NewScheduler(st, WithSchedulerEmitter(buf))
	runner := &fakeRunner{block: make(chan struct{})}
	s.RegisterCallback("demo", runner)

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.fire("auto-1")
		close(done)
	}()

	// Wait for the first tick to enter the callback.
	deadline := time.After(2 * time.Second)
	for s.JobStateOf("auto-1") != JobFiring {
		select {
		case <-deadline:
			t.Fatal("first fire never reached the callback")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A tick arriving mid-flight is dropped, not queued.
	s.fire("auto-1")

	close(runner.block)
	<-done

	if got := len(runner.calls()); got != 1 {
		t.Errorf("runner called %d times, want 1", got)
	}
	skips := buf.Named(emit.CronSkipped)
	if len(skips) != 1 {
		t.Fatalf("got %d cron:skipped events, want 1", len(skips))
	}
	if !strings.Contains(skips[0].Error, "in progress") {
		t.Errorf("skip reason = %q", skips[0].Error)
	}
}

func TestFireWithoutCallbackSkips(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	buf := emit.NewBufferedEmitter()
	s := NewScheduler(st, WithSchedulerEmitter(buf))

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.fire("auto-1")

	skips := buf.Named(emit.CronSkipped)
	if len(skips) != 1 {
		t.Fatalf("got %d cron:skipped events, want 1", len(skips))
	}
	if !strings.Contains(skips[0].Error, "demo") {
		t.Errorf("skip reason = %q, want the plugin id named", skips[0].Error)
	}
}

func TestUnregisterCallbackCancelsPluginJobs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	s := NewScheduler(st)
	s.RegisterCallback("demo", &fakeRunner{})

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.UnregisterCallback("demo")

	if got := s.JobStateOf("auto-1"); got != JobIdle {
		t.Errorf("job state after unregister = %q, want %q", got, JobIdle)
	}
}

func TestStartRearmsEnabledCronAutomations(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	s := NewScheduler(st)

	enabled := cronAutomation("auto-on", "*/5 * * * *")
	disabled := cronAutomation("auto-off", "*/5 * * * *")
	disabled.Enabled = false
	for _, a := range []*store.Automation{enabled, disabled} {
		if err := st.PutAutomation(ctx, a); err != nil {
			t.Fatalf("PutAutomation(%s): %v", a.ID, err)
		}
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if got := s.JobStateOf("auto-on"); got != JobArmed {
		t.Errorf("enabled automation state = %q, want %q", got, JobArmed)
	}
	if got := s.JobStateOf("auto-off"); got != JobIdle {
		t.Errorf("disabled automation state = %q, want %q", got, JobIdle)
	}
}

func TestStopClearsJobs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	s := NewScheduler(st)

	a := cronAutomation("auto-1", "*/5 * * * *")
	if err := st.PutAutomation(ctx, a); err != nil {
		t.Fatalf("PutAutomation: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Schedule(ctx, a); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.Stop()

	if got := s.JobStateOf("auto-1"); got != JobIdle {
		t.Errorf("job state after stop = %q, want %q", got, JobIdle)
	}
}
