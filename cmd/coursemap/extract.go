package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"coursemap/internal/catalog"
	"coursemap/internal/chunker"
	"coursemap/internal/extract"
	"coursemap/internal/llm"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// extractCmd pulls structured course records out of a catalog document
var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract course records from a catalog document",
	Long: `Reads a plain-text catalog document, splits it into chunks sized for
the inference service, extracts structured course records from each
chunk, normalizes them, and persists the result as a new extraction.

A rate-limit response from the service stops the run; records from the
chunks already processed are still saved.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	defer maybeDumpRequests()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	records, extractErr := extractDocument(ctx, string(data), filepath.Base(path))
	if len(records) == 0 {
		if extractErr != nil {
			return extractErr
		}
		return fmt.Errorf("no course records found in %s", path)
	}

	extractionID := uuid.NewString()
	if err := s.SaveExtraction(ctx, extractionID, filepath.Base(path), records); err != nil {
		return err
	}

	fmt.Printf("Extraction %s: %d course records from %s\n", extractionID, len(records), path)
	if extractErr != nil {
		if llm.IsRateLimit(extractErr) {
			fmt.Println("Stopped early: the inference service is rate limiting. Partial results were saved; re-run later for the remainder.")
		}
		return extractErr
	}
	fmt.Printf("Run 'coursemap refine %s' to map records to official codes.\n", extractionID)
	return nil
}

// extractDocument runs the extraction pipeline over one document.
func extractDocument(ctx context.Context, text, filename string) ([]catalog.CourseRecord, error) {
	caller, err := buildCaller(ctx)
	if err != nil {
		return nil, err
	}

	chunkCfg := chunker.Config{
		MaxChunkChars: cfg.Chunker.MaxChunkChars,
		TokenBudget:   cfg.Chunker.TokenBudget,
		MinChunkChars: cfg.Chunker.MinChunkChars,
	}
	extractor := extract.NewExtractor(caller, chunkCfg, cfg.GetInterChunkDelay(), logger)

	records, err := extractor.ExtractDocument(ctx, text, filename)
	if err != nil {
		logger.Warn("extraction ended early",
			zap.Int("records_so_far", len(records)),
			zap.Error(err))
	}
	return records, err
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
