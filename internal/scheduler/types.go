// Package scheduler implements the core parallel task executor: batch
// validation, dependency-ordered admission under a concurrency limit,
// retries, kill-others cancellation, and result aggregation (spec.md §4.1).
package scheduler

import (
	"time"

	"github.com/jpequegn/taskly/internal/pm"
	"github.com/jpequegn/taskly/internal/supervisor"
)

// TaskConfig is one user-specified command plus its bindings (spec.md §3).
type TaskConfig struct {
	Command        string
	Identifier     string // auto-derived if empty
	Color          string // predefined name, #RRGGBB, or rgb(r,g,b)
	PackageManager pm.Manager
	Cwd            string
	Env            map[string]string
}

// Status is a task's position in its lifecycle (spec.md §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// ProcessInfo records the OS-level identity of a running task's child.
type ProcessInfo struct {
	Pid       int
	StartTime time.Time
}

// TaskState is the Scheduler's runtime view of one task (spec.md §3).
type TaskState struct {
	Identifier   string
	Config       TaskConfig
	Status       Status
	ProcessInfo  *ProcessInfo
	Result       *TaskResult
	StartTime    time.Time
	EndTime      time.Time
	RetryAttempt int
}

// OutputLine mirrors supervisor.OutputLine in the scheduler's public
// vocabulary, with the formatted, prefixed presentation string attached
// (spec.md §3 OutputLine).
type OutputLine struct {
	Identifier string
	Content    string
	Type       supervisor.LineType
	Timestamp  time.Time
	Formatted  string
}

// TaskResult is one task's terminal outcome (spec.md §3).
type TaskResult struct {
	Identifier string
	ExitCode   int
	Output     []OutputLine
	Duration   time.Duration
	StartTime  time.Time
	EndTime    time.Time
	Error      string
	Retries    int
}

// DependencyEdge declares that Identifier depends on every id in DependsOn
// (spec.md §3).
type DependencyEdge struct {
	Identifier string
	DependsOn  []string
}

// ExecuteOptions are the recognized, validated policy knobs spec.md §3
// enumerates. Unknown keys reaching the Scheduler from an outer config
// layer must be rejected before construction (spec.md §9).
type ExecuteOptions struct {
	KillOthersOnFail bool
	MaxConcurrency   int // 0 or negative means unlimited
	RetryFailedTasks bool
	MaxRetries       int
	RetryDelay       time.Duration
	ContinueOnError  bool
	TaskTimeout      time.Duration
	GlobalTimeout    time.Duration
	Dependencies     []DependencyEdge
}

// DefaultExecuteOptions returns spec.md §3's documented defaults.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		KillOthersOnFail: false,
		MaxConcurrency:   0,
		RetryFailedTasks: false,
		MaxRetries:       3,
		RetryDelay:       time.Second,
		ContinueOnError:  false,
		TaskTimeout:      300 * time.Second,
		GlobalTimeout:    1800 * time.Second,
	}
}

// Statistics is a point-in-time snapshot for Scheduler.Statistics().
type Statistics struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Killed    int
	Elapsed   time.Duration
}

// Phase is the Scheduler's own coarse lifecycle position, independent of
// any single task's Status.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhasePaused   Phase = "paused"
	PhaseStopping Phase = "stopping"
	PhaseComplete Phase = "complete"
)

// BatchStatus is the Status() snapshot: a coarse phase plus the full
// per-task status map, letting a presenter render a live table instead of
// only a log of events (SPEC_FULL.md §3 "--list / Status() dry listing").
type BatchStatus struct {
	Phase Phase
	Tasks map[string]Status
}
