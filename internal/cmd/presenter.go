package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jpequegn/taskly/internal/scheduler"
	"github.com/jpequegn/taskly/internal/supervisor"
)

// startPresenter subscribes to the Scheduler's event stream and renders it
// to the terminal: output lines go to the matching stream with their
// color-prefixed presentation, permanent failures and the global timeout
// are always reported on stderr, warnings are printed in verbose mode, and
// the main task and execution lifecycle events become structured slog lines
// in verbose mode (spec.md §1 "a thin presenter subscribes"). Returns the
// unsubscribe function.
func startPresenter(sched *scheduler.Scheduler, verbose bool) func() {
	events, unsubscribe := sched.Events.Subscribe()
	go func() {
		for ev := range events {
			renderEvent(ev, verbose)
		}
	}()
	return unsubscribe
}

func renderEvent(ev scheduler.Event, verbose bool) {
	switch ev.Type {
	case scheduler.EventTaskOutput:
		line, ok := ev.Payload.(scheduler.OutputLine)
		if !ok {
			return
		}
		out := os.Stdout
		if line.Type == supervisor.LineStderr {
			out = os.Stderr
		}
		fmt.Fprintln(out, line.Formatted)
	case scheduler.EventTaskFailedPermanently:
		fmt.Fprintf(os.Stderr, "task %s failed permanently\n", ev.TaskID)
	case scheduler.EventExecutionGlobalTimeout:
		fmt.Fprintln(os.Stderr, "execution exceeded its global timeout")
	case scheduler.EventTaskPmResolutionWarning:
		if verbose {
			fmt.Fprintf(os.Stderr, "[warn] %s: %v\n", ev.TaskID, ev.Payload)
		}
	case scheduler.EventTaskMonitorWarning:
		if verbose {
			fmt.Fprintf(os.Stderr, "[warn] %s: %v\n", ev.TaskID, ev.Payload)
		}
	}

	if !verbose {
		return
	}
	switch ev.Type {
	case scheduler.EventTaskStart, scheduler.EventTaskComplete, scheduler.EventTaskRetry,
		scheduler.EventTaskTimeout, scheduler.EventTaskKilled, scheduler.EventTaskResourceCheck:
		slog.Debug(string(ev.Type), "task", ev.TaskID)
	case scheduler.EventExecutionStart, scheduler.EventExecutionComplete, scheduler.EventExecutionStopping:
		slog.Info(string(ev.Type))
	}
}
