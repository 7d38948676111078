package supervisor

import (
	"context"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func runSupervisor(t *testing.T, cfg Config) (*Result, []OutputLine) {
	t.Helper()
	if cfg.Cwd == "" {
		cfg.Cwd = t.TempDir()
	}
	sup := New("test", cfg)
	var mu sync.Mutex
	var lines []OutputLine
	h := Handlers{OnLine: func(l OutputLine) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, l)
	}}
	result := sup.Run(context.Background(), os.Environ(), h)
	mu.Lock()
	defer mu.Unlock()
	return result, append([]OutputLine(nil), lines...)
}

func TestRunSuccessCapturesOutput(t *testing.T) {
	result, lines := runSupervisor(t, Config{Command: "echo hello"})
	if result.Outcome != OutcomeCompleted || result.ExitCode != 0 {
		t.Fatalf("got %+v", result)
	}
	found := false
	for _, l := range lines {
		if l.Type == LineStdout && l.Content == "hello" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an stdout line %q, got %+v", "hello", lines)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	result, _ := runSupervisor(t, Config{Command: "exit 3"})
	if result.Outcome != OutcomeError || result.ExitCode != 3 {
		t.Fatalf("got %+v", result)
	}
}

func TestRunTimeoutEscalates(t *testing.T) {
	result, _ := runSupervisor(t, Config{Command: "sleep 5", Timeout: 100 * time.Millisecond})
	if !result.TimedOut {
		t.Fatalf("expected TimedOut=true, got %+v", result)
	}
	if result.Outcome != OutcomeTimedOut {
		t.Fatalf("got outcome %v", result.Outcome)
	}
	if result.ExitCode == 0 {
		t.Errorf("expected non-zero exit code on timeout, got %d", result.ExitCode)
	}
}

func TestRunRejectsDangerousCommand(t *testing.T) {
	result, _ := runSupervisor(t, Config{Command: "rm -rf /"})
	if result.Outcome != OutcomeError {
		t.Fatalf("expected rejected command, got %+v", result)
	}
}

func TestRunWarnsOnChainedOperators(t *testing.T) {
	cfg := Config{Command: "echo a && echo b", Cwd: t.TempDir()}
	sup := New("test", cfg)
	var warnings []string
	var mu sync.Mutex
	h := Handlers{OnWarning: func(w string) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, w)
	}}
	result := sup.Run(context.Background(), os.Environ(), h)
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("got %+v", result)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(warnings) == 0 {
		t.Error("expected a chained-operator warning")
	}
}

func TestLineBufferingPreservesOrderPerStream(t *testing.T) {
	result, lines := runSupervisor(t, Config{Command: "printf 'one\\ntwo\\nthree\\n'"})
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("got %+v", result)
	}
	var stdoutLines []string
	for _, l := range lines {
		if l.Type == LineStdout {
			stdoutLines = append(stdoutLines, l.Content)
		}
	}
	want := "one,two,three"
	if got := strings.Join(stdoutLines, ","); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTerminateReturnsFalseBeforeSpawn(t *testing.T) {
	sup := New("test", Config{Command: "echo hi", Cwd: t.TempDir()})
	if sup.Terminate(syscall.SIGTERM) {
		t.Error("expected Terminate to report false before the child has a pid")
	}
}
