package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jpequegn/taskly/internal/scheduler"
)

// printSummary writes the post-execution banner to stderr, in the
// teacher's `═══`-bordered summary style (benchflow's internal/cmd/run.go).
func printSummary(results []scheduler.TaskResult) {
	var successful, failed, killed int
	var total time.Duration
	for _, r := range results {
		total += r.Duration
		switch {
		case r.ExitCode == 0:
			successful++
		case r.ExitCode == 130:
			killed++
		default:
			failed++
		}
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "═══════════════════════════════════════════")
	fmt.Fprintln(os.Stderr, "  Execution Summary")
	fmt.Fprintln(os.Stderr, "═══════════════════════════════════════════")
	fmt.Fprintf(os.Stderr, "Total tasks: %d\n", len(results))
	fmt.Fprintf(os.Stderr, "Successful: %d\n", successful)
	fmt.Fprintf(os.Stderr, "Failed: %d\n", failed)
	fmt.Fprintf(os.Stderr, "Killed: %d\n", killed)
	fmt.Fprintf(os.Stderr, "Combined task duration: %v\n", total.Round(time.Millisecond))
	fmt.Fprintln(os.Stderr, "═══════════════════════════════════════════")

	for _, r := range results {
		marker := "✅"
		if r.ExitCode == 130 {
			marker = "⚠️"
		} else if r.ExitCode != 0 {
			marker = "❌"
		}
		fmt.Fprintf(os.Stderr, "%s %s (exit %d, %v)\n", marker, r.Identifier, r.ExitCode, r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(os.Stderr)
}
