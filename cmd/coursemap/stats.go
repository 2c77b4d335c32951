package main

import (
	"fmt"

	"coursemap/internal/catalog"

	"github.com/spf13/cobra"
)

// statsCmd reports stored extractions and mapping sessions
var statsCmd = &cobra.Command{
	Use:   "stats [extraction-id]",
	Short: "Show extraction and mapping session statistics",
	Long: `Without arguments, lists stored extractions. With an extraction ID,
shows its records with their current mapping state and the session
history for that extraction.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) == 0 {
		extractions, err := s.ListExtractions(ctx)
		if err != nil {
			return err
		}
		if len(extractions) == 0 {
			fmt.Println("No extractions stored yet.")
			return nil
		}
		for _, e := range extractions {
			fmt.Printf("%s  %-30s %4d records  %s\n",
				e.ID, e.SourceFile, e.RecordCount, e.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	}

	extractionID := args[0]
	records, err := s.ListMappedRecords(ctx, extractionID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no extraction with ID %s", extractionID)
	}

	for _, m := range records {
		switch m.Status {
		case catalog.StatusMapped, catalog.StatusFlaggedForReview:
			fmt.Printf("%-45s -> %-10s %-20s %3d%% %s\n",
				truncate(m.Record.Name, 45), m.MappedCode, m.Method, m.Confidence, m.Status)
		default:
			fmt.Printf("%-45s    (unmapped)\n", truncate(m.Record.Name, 45))
		}
	}

	sessions, err := s.ListSessions(ctx, extractionID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		fmt.Printf("\nSession %d (%s):\n", sess.ID, sess.CreatedAt.Format("2006-01-02 15:04"))
		printStats(sess.Stats)
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
