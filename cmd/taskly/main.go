// Command taskly runs a batch of shell commands concurrently, multiplexing
// their output onto one terminal with color-coded prefixes (spec.md §1).
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jpequegn/taskly/internal/cmd"
)

func main() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		delivered := 0
		for range sigCh {
			delivered++
			cmd.StopActive(syscall.SIGINT)
			if delivered >= 2 {
				os.Exit(130)
			}
		}
	}()

	os.Exit(cmd.Execute())
}
