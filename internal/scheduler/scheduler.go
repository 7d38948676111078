package scheduler

import (
	"context"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/jpequegn/taskly/internal/color"
	"github.com/jpequegn/taskly/internal/pm"
	"github.com/jpequegn/taskly/internal/supervisor"
	"github.com/jpequegn/taskly/internal/taskerr"
)

// Scheduler owns one execution at a time: batch validation, the
// dependency-ordered concurrency-limited admission loop, retries,
// kill-others, global timeout, and result aggregation (spec.md §4.1).
type Scheduler struct {
	Events    *EventBus
	Colors    *color.Formatter
	Resolver  *pm.Resolver

	mu sync.Mutex

	running       bool
	paused        bool
	stopRequested bool
	runID         string

	order      []string
	states     map[string]*TaskState
	dependsOn  map[string][]string
	dependents map[string][]string
	pendingCnt map[string]int // remaining unmet dependency count

	retryFront []string

	supervisors map[string]*supervisor.Supervisor
	currentConc int
	opts        ExecuteOptions

	startedAt time.Time
	doneCh    chan struct{}
	doneOnce  sync.Once

	wg conc.WaitGroup
}

// New constructs a Scheduler with its own event bus, color formatter, and
// package-manager resolver. colorOpts configure the color formatter (prefix
// template, palette, name-width truncation).
func New(colorOpts ...color.Option) *Scheduler {
	return &Scheduler{
		Events:   NewEventBus(),
		Colors:   color.New(colorOpts...),
		Resolver: pm.NewResolver(),
	}
}

// Execute runs one batch to completion, blocking until every task has
// reached a terminal state or shouldContinue() forced the remainder to
// killed (spec.md §4.1 "Completion"). Only one Execute call may be in
// flight on a given Scheduler at a time.
func (s *Scheduler) Execute(ctx context.Context, tasks []TaskConfig, opts ExecuteOptions) ([]TaskResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, taskerr.New(taskerr.KindAlreadyRunning, map[string]any{"message": "Execute already in progress"})
	}
	s.running = true
	s.paused = false
	s.stopRequested = false
	s.runID = uuid.NewString()
	s.doneCh = make(chan struct{})
	s.doneOnce = sync.Once{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	prepared, err := prepareBatch(tasks)
	if err != nil {
		return nil, err
	}

	// Resolve package-manager availability, rewrite commands, and expand
	// wildcard scripts synchronously, before any child is spawned (spec.md
	// §4.1 step 3, §7: a PmNotFound/PmDetectionFailed or wildcard-expansion
	// failure aborts the whole batch "without leaving live children").
	expanded, originToClones, pmWarnings, err := resolveAndExpand(ctx, s.Resolver, prepared)
	if err != nil {
		return nil, err
	}
	if err := checkDuplicateIdentifiers(expanded); err != nil {
		return nil, err
	}
	dependencies := translateDependencyEdges(opts.Dependencies, originToClones)

	ids := make(map[string]bool, len(expanded))
	order := make([]string, 0, len(expanded))
	states := make(map[string]*TaskState, len(expanded))
	for _, t := range expanded {
		ids[t.Identifier] = true
		order = append(order, t.Identifier)
		states[t.Identifier] = &TaskState{Identifier: t.Identifier, Config: t, Status: StatusPending}
		// Color assignment happens here, serially, during batch
		// preparation — never from a per-task goroutine — so the
		// assignment order is deterministic and Formatter sees no
		// concurrent writers (spec.md §4.3 "Color assignment").
		s.Colors.Register(t.Identifier, t.Color)
	}

	dependsOn, dependents, err := buildDependencyGraph(ids, dependencies)
	if err != nil {
		return nil, err
	}
	if err := detectCycle(order, dependsOn); err != nil {
		return nil, err
	}
	order = topologicalOrder(order, dependsOn)

	pendingCnt := make(map[string]int, len(order))
	for _, id := range order {
		pendingCnt[id] = len(dependsOn[id])
	}

	s.mu.Lock()
	s.order = order
	s.states = states
	s.dependsOn = dependsOn
	s.dependents = dependents
	s.pendingCnt = pendingCnt
	s.retryFront = nil
	s.supervisors = make(map[string]*supervisor.Supervisor)
	s.currentConc = 0
	s.opts = opts
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.Events.Publish(Event{Type: EventExecutionStart, Timestamp: time.Now(), Payload: s.runID})
	for _, w := range pmWarnings {
		s.Events.Publish(Event{Type: EventTaskPmResolutionWarning, Timestamp: time.Now(), TaskID: w.identifier, Payload: w.message})
	}

	var globalTimer, safetyTimer *time.Timer
	if opts.GlobalTimeout > 0 {
		globalTimer = time.AfterFunc(opts.GlobalTimeout, func() {
			s.Events.Publish(Event{Type: EventExecutionGlobalTimeout, Timestamp: time.Now()})
			s.Stop(terminateSignalForPlatform())
		})
		safetyTimer = time.AfterFunc(opts.GlobalTimeout+60*time.Second, func() {
			s.forceComplete()
		})
	}
	if globalTimer != nil {
		defer globalTimer.Stop()
	}
	if safetyTimer != nil {
		defer safetyTimer.Stop()
	}

	s.triggerAdmission()
	s.checkCompletion()

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		s.Stop(terminateSignalForPlatform())
		<-s.doneCh
	}

	s.waitForWorkers()

	return s.collectResults(), nil
}

// waitForWorkers waits for every per-task goroutine conc.WaitGroup tracked,
// converting a re-panicked task goroutine into a published SystemError
// instead of crashing the process (spec.md §4.1 grounding: conc.WaitGroup
// supervises goroutine panics; Execute is the top-level recover point).
func (s *Scheduler) waitForWorkers() {
	defer func() {
		if r := recover(); r != nil {
			s.Events.Publish(Event{Type: EventExecutionError, Timestamp: time.Now(), Payload: taskerr.New(taskerr.KindSystemError, map[string]any{"panic": r})})
		}
	}()
	s.wg.Wait()
}

func terminateSignalForPlatform() syscall.Signal {
	return syscall.SIGTERM
}

// effectiveMax returns the concurrency ceiling, treating <=0 as unlimited.
func effectiveMax(n int) int {
	if n <= 0 {
		return 1 << 30
	}
	return n
}

// shouldContinueLocked implements spec.md §4.1's shouldContinue() predicate.
// Caller must hold s.mu.
func (s *Scheduler) shouldContinueLocked() bool {
	if s.stopRequested {
		return false
	}
	anyFailed := false
	for _, st := range s.states {
		if st.Status == StatusFailed {
			anyFailed = true
			break
		}
	}
	if !anyFailed {
		return true
	}
	if s.opts.KillOthersOnFail && !s.opts.ContinueOnError {
		return false
	}
	if !s.opts.ContinueOnError {
		return false
	}
	return true
}

func depsSatisfiedLocked(st *TaskState, s *Scheduler) bool {
	return s.pendingCnt[st.Identifier] == 0
}

// triggerAdmission repeatedly admits ready tasks under the concurrency
// ceiling until no more can be admitted right now (spec.md §4.1 "Admission
// loop").
func (s *Scheduler) triggerAdmission() {
	for {
		s.mu.Lock()
		if s.paused || !s.shouldContinueLocked() {
			s.mu.Unlock()
			return
		}
		if s.currentConc >= effectiveMax(s.opts.MaxConcurrency) {
			s.mu.Unlock()
			return
		}
		id, ok := s.popAdmissibleLocked()
		if !ok {
			s.mu.Unlock()
			return
		}
		st := s.states[id]
		st.Status = StatusRunning
		st.StartTime = time.Now()
		s.currentConc++
		cfg := st.Config
		retryAttempt := st.RetryAttempt
		s.mu.Unlock()

		s.Events.Publish(Event{Type: EventTaskStart, Timestamp: time.Now(), TaskID: id, Payload: cfg})
		s.wg.Go(func() {
			s.runTask(id, cfg, retryAttempt)
		})
	}
}

// popAdmissibleLocked pops the next admissible identifier: retryFront takes
// priority (spec.md §4.1 "retried tasks return to the front of the ready
// queue"), otherwise the earliest pending, dependency-satisfied task in
// topological/submission order. Caller must hold s.mu.
func (s *Scheduler) popAdmissibleLocked() (string, bool) {
	for len(s.retryFront) > 0 {
		id := s.retryFront[0]
		s.retryFront = s.retryFront[1:]
		if st, ok := s.states[id]; ok && st.Status == StatusPending {
			return id, true
		}
	}
	for _, id := range s.order {
		st := s.states[id]
		if st.Status == StatusPending && depsSatisfiedLocked(st, s) {
			return id, true
		}
	}
	return "", false
}

// runTask drives one attempt of a task through the supervisor and routes
// its terminal Result back through onTaskDone. Package-manager resolution,
// command rewriting, and color registration all happened synchronously
// during Execute's batch preparation (spec.md §4.1 step 3) — cfg.Command
// and cfg.PackageManager are already final by the time any task goroutine
// runs, and the only color-formatter calls left on this path are the
// read-only Format/AnsiCode lookups.
func (s *Scheduler) runTask(id string, cfg TaskConfig, attempt int) {
	command := cfg.Command
	manager := cfg.PackageManager

	sup := supervisor.New(id, supervisor.Config{
		Command: command,
		Cwd:     cwdOrDot(cfg.Cwd),
		Timeout: s.opts.TaskTimeout,
	})

	s.mu.Lock()
	s.supervisors[id] = sup
	s.mu.Unlock()

	env := supervisor.BuildEnv(cfg.Env, id, command, cwdOrDot(cfg.Cwd), string(manager), s.Colors.ColorName(id), s.Colors.AnsiCode(id))

	var collected []OutputLine
	var mu sync.Mutex
	handlers := supervisor.Handlers{
		OnLine: func(l supervisor.OutputLine) {
			formatted := s.Colors.Format(id, l.Content, color.PrefixFields{Command: cfg.Command})
			line := OutputLine{Identifier: id, Content: l.Content, Type: l.Type, Timestamp: l.Timestamp, Formatted: formatted}
			mu.Lock()
			collected = append(collected, line)
			mu.Unlock()
			s.Events.Publish(Event{Type: EventTaskOutput, Timestamp: l.Timestamp, TaskID: id, Payload: line})
		},
		OnSample: func(sample supervisor.Sample) {
			s.Events.Publish(Event{Type: EventTaskResourceCheck, Timestamp: sample.Timestamp, TaskID: id, Payload: sample})
		},
		OnWarning: func(w string) {
			s.Events.Publish(Event{Type: EventTaskMonitorWarning, Timestamp: time.Now(), TaskID: id, Payload: w})
		},
		OnTimeout: func() {
			s.Events.Publish(Event{Type: EventTaskTimeout, Timestamp: time.Now(), TaskID: id})
		},
	}

	result := sup.Run(context.Background(), env, handlers)

	s.mu.Lock()
	delete(s.supervisors, id)
	s.mu.Unlock()

	mu.Lock()
	lines := append([]OutputLine(nil), collected...)
	mu.Unlock()

	s.onTaskDone(id, result, lines, attempt)
}

func cwdOrDot(cwd string) string {
	if cwd == "" {
		return "."
	}
	return cwd
}

// onTaskDone finalizes one supervisor attempt: success, cascade-killed,
// timeout/error with retry, or permanent failure (spec.md §4.1 "Retry
// controller", "Kill-others").
func (s *Scheduler) onTaskDone(id string, result *supervisor.Result, lines []OutputLine, attempt int) {
	s.mu.Lock()
	st := s.states[id]
	s.currentConc--
	st.EndTime = time.Now()
	taskResult := &TaskResult{
		Identifier: id,
		ExitCode:   result.ExitCode,
		Output:     lines,
		Duration:   st.EndTime.Sub(st.StartTime),
		StartTime:  st.StartTime,
		EndTime:    st.EndTime,
		Retries:    attempt,
	}
	if result.Err != nil {
		taskResult.Error = result.Err.Error()
	}

	alreadyKilled := st.Status == StatusKilled
	succeeded := result.Outcome == supervisor.OutcomeCompleted

	switch {
	case alreadyKilled:
		taskResult.ExitCode = 130
		st.Result = taskResult
		s.mu.Unlock()
		s.Events.Publish(Event{Type: EventTaskKilled, Timestamp: time.Now(), TaskID: id})
		s.triggerAdmission()
		s.checkCompletion()
		return

	case succeeded:
		st.Status = StatusCompleted
		st.Result = taskResult
		s.mu.Unlock()
		s.Events.Publish(Event{Type: EventTaskComplete, Timestamp: time.Now(), TaskID: id, Payload: taskResult})
		s.unblockDependents(id)
		s.triggerAdmission()
		s.checkCompletion()
		return
	}

	// Failed or timed out. Retry if the policy allows another attempt.
	if s.opts.RetryFailedTasks && attempt < s.opts.MaxRetries {
		st.Status = StatusPending
		st.RetryAttempt = attempt + 1
		st.Result = nil
		retryDelay := s.opts.RetryDelay
		s.mu.Unlock()

		s.Events.Publish(Event{Type: EventTaskRetry, Timestamp: time.Now(), TaskID: id, Payload: attempt + 1})
		go func() {
			if retryDelay > 0 {
				time.Sleep(retryDelay)
			}
			s.mu.Lock()
			if st.Status == StatusPending {
				s.retryFront = append(s.retryFront, id)
			}
			s.mu.Unlock()
			s.triggerAdmission()
		}()
		s.triggerAdmission()
		return
	}

	st.Status = StatusFailed
	st.Result = taskResult
	s.mu.Unlock()

	s.Events.Publish(Event{Type: EventTaskError, Timestamp: time.Now(), TaskID: id, Payload: taskResult.Error})
	s.Events.Publish(Event{Type: EventTaskFailedPermanently, Timestamp: time.Now(), TaskID: id})

	s.applyFailurePolicy(id)
	s.triggerAdmission()
	s.checkCompletion()
}

// applyFailurePolicy runs kill-others (if configured) and cascades killed
// status to dependents that can now never be admitted.
func (s *Scheduler) applyFailurePolicy(failedID string) {
	s.mu.Lock()
	killOthers := s.opts.KillOthersOnFail && !s.opts.ContinueOnError
	var toTerminate []*supervisor.Supervisor
	if killOthers {
		for id, sup := range s.supervisors {
			if id == failedID {
				continue
			}
			toTerminate = append(toTerminate, sup)
		}
		for _, id := range s.order {
			st := s.states[id]
			if st.Status == StatusPending {
				st.Status = StatusKilled
			} else if st.Status == StatusRunning {
				st.Status = StatusKilled
			}
		}
	}
	s.cascadeKillDependentsLocked(failedID)
	s.mu.Unlock()

	for _, sup := range toTerminate {
		sup.Terminate(terminateSignalForPlatform())
	}
	if killOthers {
		s.Events.Publish(Event{Type: EventExecutionStopping, Timestamp: time.Now()})
	}
}

// cascadeKillDependentsLocked marks every not-yet-admitted transitive
// dependent of id as killed, since a failed/killed dependency means it can
// never be admitted (spec.md §3 dependency edge invariant). Caller must
// hold s.mu.
func (s *Scheduler) cascadeKillDependentsLocked(id string) {
	queue := append([]string(nil), s.dependents[id]...)
	for len(queue) > 0 {
		depID := queue[0]
		queue = queue[1:]
		st, ok := s.states[depID]
		if !ok || st.Status != StatusPending {
			continue
		}
		st.Status = StatusKilled
		queue = append(queue, s.dependents[depID]...)
	}
}

// unblockDependents decrements the pending-dependency count of every
// dependent of a just-completed task (spec.md §4.1 "Dependency unblocking").
func (s *Scheduler) unblockDependents(id string) {
	s.mu.Lock()
	var satisfied []string
	for _, depID := range s.dependents[id] {
		s.pendingCnt[depID]--
		if s.pendingCnt[depID] == 0 {
			satisfied = append(satisfied, depID)
		}
	}
	s.mu.Unlock()
	for _, depID := range satisfied {
		s.Events.Publish(Event{Type: EventTaskDependenciesSatisfied, Timestamp: time.Now(), TaskID: depID})
	}
}

// checkCompletion signals doneCh once every task has reached a terminal
// state (spec.md §4.1 "Completion").
func (s *Scheduler) checkCompletion() {
	s.mu.Lock()
	if !s.shouldContinueLocked() {
		for _, id := range s.order {
			st := s.states[id]
			if st.Status == StatusPending {
				st.Status = StatusKilled
			}
		}
	}
	done := true
	for _, id := range s.order {
		st := s.states[id]
		if st.Status == StatusPending || st.Status == StatusRunning {
			done = false
			break
		}
	}
	s.mu.Unlock()
	if done {
		s.signalDone()
	}
}

func (s *Scheduler) signalDone() {
	s.doneOnce.Do(func() {
		close(s.doneCh)
	})
	s.Events.Publish(Event{Type: EventExecutionComplete, Timestamp: time.Now()})
}

func (s *Scheduler) forceComplete() {
	s.Events.Publish(Event{Type: EventExecutionError, Timestamp: time.Now(), Payload: "global timeout safety window elapsed; forcing completion"})
	s.signalDone()
}

func (s *Scheduler) collectResults() []TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]TaskResult, 0, len(s.order))
	for _, id := range s.order {
		st := s.states[id]
		if st.Result != nil {
			results = append(results, *st.Result)
			continue
		}
		// Killed before ever running (cascade/kill-others/Stop).
		results = append(results, TaskResult{
			Identifier: id,
			ExitCode:   130,
			StartTime:  st.StartTime,
			EndTime:    st.EndTime,
			Error:      "killed",
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StartTime.Before(results[j].StartTime)
	})
	return results
}

// Stop terminates every running task and marks every pending task killed,
// preventing further admission. It returns once those signals have been
// issued, not once the children have actually exited (spec.md §4.1 "Stop").
func (s *Scheduler) Stop(sig syscall.Signal) {
	s.mu.Lock()
	s.stopRequested = true
	var toTerminate []*supervisor.Supervisor
	for _, sup := range s.supervisors {
		toTerminate = append(toTerminate, sup)
	}
	for _, id := range s.order {
		st := s.states[id]
		if st.Status == StatusRunning || st.Status == StatusPending {
			st.Status = StatusKilled
		}
	}
	s.retryFront = nil
	s.mu.Unlock()

	s.Events.Publish(Event{Type: EventExecutionStopping, Timestamp: time.Now()})
	for _, sup := range toTerminate {
		sup.Terminate(sig)
	}
	s.Events.Publish(Event{Type: EventExecutionStopped, Timestamp: time.Now()})
	s.checkCompletion()
}

// Pause prevents further admission without affecting already-running tasks
// (spec.md §4.1 "Pause/Resume").
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.Events.Publish(Event{Type: EventExecutionPaused, Timestamp: time.Now()})
}

// Resume re-enables admission.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.Events.Publish(Event{Type: EventExecutionResumed, Timestamp: time.Now()})
	s.triggerAdmission()
}

// KillTask terminates exactly the named task; it never cascades a policy
// (no kill-others, no dependent cascade) — spec.md §4.1 "KillTask affects
// only the named task".
func (s *Scheduler) KillTask(id string, sig syscall.Signal) bool {
	s.mu.Lock()
	st, ok := s.states[id]
	if !ok || st.Status != StatusRunning {
		s.mu.Unlock()
		return false
	}
	st.Status = StatusKilled
	sup := s.supervisors[id]
	s.mu.Unlock()

	if sup == nil {
		return false
	}
	ok = sup.Terminate(sig)
	s.Events.Publish(Event{Type: EventTaskTerminated, Timestamp: time.Now(), TaskID: id})
	return ok
}

// TaskState returns a snapshot of one task's runtime state.
func (s *Scheduler) TaskState(id string) (TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return TaskState{}, false
	}
	return *st, true
}

// Status returns a coarse phase plus the full per-task status map, so an
// embedder can render a live table without subscribing to the event stream
// (SPEC_FULL.md §3).
func (s *Scheduler) Status() BatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	phase := PhaseIdle
	switch {
	case s.stopRequested:
		phase = PhaseStopping
	case s.paused:
		phase = PhasePaused
	case s.running:
		phase = PhaseRunning
	case len(s.order) > 0:
		phase = PhaseComplete
	}

	tasks := make(map[string]Status, len(s.order))
	for _, id := range s.order {
		tasks[id] = s.states[id].Status
	}
	return BatchStatus{Phase: phase, Tasks: tasks}
}

// Statistics returns a point-in-time snapshot across the whole batch
// (spec.md §4.1, §6 "execution:statistics").
func (s *Scheduler) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Statistics{Total: len(s.order), Elapsed: time.Since(s.startedAt)}
	for _, id := range s.order {
		switch s.states[id].Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusKilled:
			stats.Killed++
		}
	}
	return stats
}
