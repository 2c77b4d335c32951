package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"coursemap/internal/llm"

	"github.com/spf13/cobra"
)

var showRequests bool

func init() {
	// The ring buffer lives in this process, so the dump only makes
	// sense on the commands that talk to the inference service.
	for _, cmd := range callCommands() {
		cmd.Flags().BoolVar(&showRequests, "show-requests", false,
			"Dump the inference request log when the command finishes")
	}
}

func callCommands() []*cobra.Command {
	return []*cobra.Command{extractCmd, refineCmd, watchCmd}
}

// maybeDumpRequests prints the request log if --show-requests was set.
// Deferred by the call commands so the dump also covers aborted runs.
func maybeDumpRequests() {
	if !showRequests || requestLog == nil {
		return
	}
	writeRequestLog(os.Stdout, requestLog.Snapshot())
}

func writeRequestLog(w io.Writer, entries []llm.RequestEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No inference requests recorded.")
		return
	}
	fmt.Fprintf(w, "%d inference requests:\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %s %-8s %6d chars  %8s  attempts=%d  %s\n",
			e.Time.Format("15:04:05"), e.Mode, e.PromptChars,
			e.Duration.Round(time.Millisecond), e.Attempts, e.Status)
	}
}
