package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/arcflow/arcflow/flow"
	"github.com/arcflow/arcflow/flow/emit"
	"github.com/arcflow/arcflow/flow/store"
)

// JobState is the lifecycle state of one scheduled job.
type JobState string

const (
	// JobIdle means no timer is established.
	JobIdle JobState = "idle"

	// JobArmed means a timer is waiting for the next tick.
	JobArmed JobState = "armed"

	// JobFiring means the tick's callback is running. Ticks arriving in
	// this state are skipped, never queued.
	JobFiring JobState = "firing"

	// JobCooling means the callback finished and the job is transitioning
	// back to armed.
	JobCooling JobState = "cooling"
)

// job is one scheduled automation. The scheduler holds at most one per
// automation id.
type job struct {
	automationID string
	pluginID     string
	workflowID   string
	expression   string
	timezone     string
	entryID      cron.EntryID
	state        JobState
}

// Scheduler owns cron-triggered automations.
//
// It maintains one cron timer per enabled cron automation and invokes the
// owning plugin's callback on each tick. The scheduler itself never touches
// execution persistence; the callback (normally runtime.Runtime) creates
// and completes records. The only thing the scheduler persists is the
// recomputed nextRunAt after each arm/fire.
//
// Single-flight: while an automation is firing, further ticks for it are
// dropped with a cron:skipped warning event.
type Scheduler struct {
	store   store.AutomationStore
	emitter emit.Emitter
	metrics *SchedulerMetrics

	cron *cron.Cron

	mu        sync.Mutex
	jobs      map[string]*job
	callbacks map[string]Runner
	started   bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerEmitter sets the event emitter for tick/skip events.
func WithSchedulerEmitter(e emit.Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithSchedulerMetrics sets the Prometheus metrics sink.
func WithSchedulerMetrics(m *SchedulerMetrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a stopped scheduler over the given automation store.
func NewScheduler(st store.AutomationStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:     st,
		emitter:   emit.NewNullEmitter(),
		jobs:      make(map[string]*job),
		callbacks: make(map[string]Runner),
		cron:      cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterCallback binds a plugin id to its execution callback. Jobs for a
// plugin only fire while its callback is registered.
func (s *Scheduler) RegisterCallback(pluginID string, runner Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[pluginID] = runner
}

// UnregisterCallback removes a plugin's callback and cancels all its jobs.
func (s *Scheduler) UnregisterCallback(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.callbacks, pluginID)
	for id, j := range s.jobs {
		if j.pluginID == pluginID {
			s.cron.Remove(j.entryID)
			delete(s.jobs, id)
			if s.metrics != nil {
				s.metrics.jobRemoved()
			}
		}
	}
}

// Start begins ticking and re-arms every enabled cron automation from the
// store. Jobs whose nextRunAt is in the past are armed for the next valid
// instant; missed ticks are not backfilled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	enabled := true
	automations, err := s.store.ListAutomations(ctx, store.AutomationFilter{
		TriggerType: store.TriggerCron,
		Enabled:     &enabled,
	})
	if err != nil {
		return fmt.Errorf("loading cron automations: %w", err)
	}
	for _, a := range automations {
		if err := s.Schedule(ctx, a); err != nil {
			return fmt.Errorf("re-arming automation %s: %w", a.ID, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop cancels all timers and waits for in-flight callbacks to return.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		j.state = JobIdle
		delete(s.jobs, id)
	}
	s.started = false
	if s.metrics != nil {
		s.metrics.reset()
	}
}

// Schedule arms (or atomically re-arms) a job for a cron automation and
// persists its next fire time. Invalid expressions fail with CRON_INVALID.
func (s *Scheduler) Schedule(ctx context.Context, a *store.Automation) error {
	if a.TriggerType != store.TriggerCron {
		return flow.Errf(flow.CodeCronInvalid, "automation %s is not cron-triggered", a.ID)
	}
	expression := a.CronExpression()
	timezone := a.Timezone()
	if v := Validate(expression, timezone); !v.Valid {
		return flow.Errf(flow.CodeCronInvalid, "automation %s: %s", a.ID, v.Err)
	}

	automationID := a.ID
	entryID, err := s.cron.AddFunc(cronSpec(expression, timezone), func() {
		s.fire(automationID)
	})
	if err != nil {
		return flow.Wrap(flow.CodeCronInvalid, err, "automation %s", a.ID)
	}

	s.mu.Lock()
	if prior, ok := s.jobs[a.ID]; ok {
		s.cron.Remove(prior.entryID)
	} else if s.metrics != nil {
		s.metrics.jobAdded()
	}
	s.jobs[a.ID] = &job{
		automationID: a.ID,
		pluginID:     a.PluginID,
		workflowID:   a.WorkflowID,
		expression:   expression,
		timezone:     timezone,
		entryID:      entryID,
		state:        JobArmed,
	}
	s.mu.Unlock()

	next := s.cron.Entry(entryID).Schedule.Next(time.Now())
	return s.store.SetNextRun(ctx, a.ID, &next)
}

// Unschedule cancels an automation's job if present.
func (s *Scheduler) Unschedule(ctx context.Context, automationID string) error {
	s.mu.Lock()
	j, ok := s.jobs[automationID]
	if ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, automationID)
		if s.metrics != nil {
			s.metrics.jobRemoved()
		}
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.store.SetNextRun(ctx, automationID, nil)
}

// JobStateOf reports the job's current state, JobIdle when unscheduled.
func (s *Scheduler) JobStateOf(automationID string) JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[automationID]; ok {
		return j.state
	}
	return JobIdle
}

// fire handles one cron tick. Runs on the cron goroutine for the entry.
func (s *Scheduler) fire(automationID string) {
	s.mu.Lock()
	j, ok := s.jobs[automationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if j.state == JobFiring {
		s.mu.Unlock()
		s.skip(automationID, "previous firing still in progress")
		return
	}
	runner, ok := s.callbacks[j.pluginID]
	if !ok {
		s.mu.Unlock()
		s.skip(automationID, "no callback registered for plugin "+j.pluginID)
		return
	}
	j.state = JobFiring
	pluginID, workflowID := j.pluginID, j.workflowID
	expression := j.expression
	entryID := j.entryID
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.tick()
	}

	ctx := context.Background()
	executionID := uuid.NewString()
	firedAt := time.Now().UTC()

	s.emitter.Emit(emit.Event{
		Name:        emit.CronTick,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Meta:        map[string]any{"automationId": automationID, "pluginId": pluginID},
	})

	automation, err := s.store.GetAutomation(ctx, automationID)
	start := time.Now()
	if err == nil {
		tick := map[string]any{"firedAt": firedAt.Format(time.RFC3339Nano)}
		_, err = runner.RunAutomation(ctx, RunRequest{
			Automation:    automation,
			ExecutionID:   executionID,
			TriggeredBy:   store.TriggeredByAutomation,
			TriggerSource: "cron:" + expression,
			TriggerData:   tick,
			InitialState:  tick,
		})
	}
	if s.metrics != nil {
		s.metrics.fired(time.Since(start), err == nil)
	}
	if err != nil {
		s.emitter.Emit(emit.Event{
			Name:       emit.WorkflowFailed,
			WorkflowID: workflowID,
			Error:      err.Error(),
			Meta:       map[string]any{"automationId": automationID},
		})
	}

	s.mu.Lock()
	if j, ok := s.jobs[automationID]; ok && j.state == JobFiring {
		j.state = JobCooling
		next := s.cron.Entry(entryID).Schedule.Next(time.Now())
		j.state = JobArmed
		s.mu.Unlock()
		_ = s.store.SetNextRun(ctx, automationID, &next)
		return
	}
	s.mu.Unlock()
}

// skip records a dropped tick.
func (s *Scheduler) skip(automationID, reason string) {
	if s.metrics != nil {
		s.metrics.skipped()
	}
	s.emitter.Emit(emit.Event{
		Name:  emit.CronSkipped,
		Error: reason,
		Meta:  map[string]any{"automationId": automationID},
	})
}
