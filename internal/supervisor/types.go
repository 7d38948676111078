package supervisor

import "time"

// LineType distinguishes stdout from stderr output (spec.md §3 OutputLine).
type LineType string

const (
	LineStdout LineType = "stdout"
	LineStderr LineType = "stderr"
)

// OutputLine is one captured, newline-stripped line of child output.
type OutputLine struct {
	Identifier string
	Content    string
	Type       LineType
	Timestamp  time.Time
}

// Status is the supervisor's own running/terminated state (spec.md §4.2).
type Status string

const (
	StatusRunning    Status = "running"
	StatusTerminated Status = "terminated"
)

// Outcome classifies how a supervised child reached its terminal event.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeError              Outcome = "error"
	OutcomeTimedOut           Outcome = "timedOut"
	OutcomeTerminatedBySignal Outcome = "terminatedBySignal"
)

// Config is the input to New: one effective command, its working
// directory, environment overlay, and per-task timeout (spec.md §4.2).
type Config struct {
	Command     string
	Cwd         string
	Env         map[string]string
	Timeout     time.Duration // 0 = no timeout
	ResourceMax ResourceLimits
}

// ResourceLimits carries advisory maxima surfaced to subscribers; the
// supervisor never enforces them itself (spec.md §4.2).
type ResourceLimits struct {
	MaxMemoryBytes uint64
	MaxCPUPercent  float64
}

// Sample is one ~1 Hz resource observation of the running child.
type Sample struct {
	Identifier  string
	Pid         int32
	MemoryBytes uint64
	CPUPercent  float64
	Timestamp   time.Time
}

// Result is the supervisor's single terminal notification.
type Result struct {
	Identifier  string
	Outcome     Outcome
	ExitCode    int
	Err         error
	Pid         int
	StartTime   time.Time
	EndTime     time.Time
	TimedOut    bool
	Interrupted string // warning surfaced for chained-shell-operator commands
}
