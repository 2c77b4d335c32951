package main

import (
	"fmt"

	"coursemap/internal/catalog"
	"coursemap/internal/llm"
	"coursemap/internal/mapping"

	"github.com/spf13/cobra"
)

var refineDeterministicOnly bool

// refineCmd maps an extraction's records to official catalog codes
var refineCmd = &cobra.Command{
	Use:   "refine [extraction-id]",
	Short: "Map extracted records to official catalog codes",
	Long: `Runs a mapping session over an extraction: exact and trimmed code
matching first, then semantic matching for the remainder. Every
suggestion is validated against the imported master catalog; a code the
catalog does not contain is never persisted.

Re-running overwrites previous mapping results but never touches the
extracted record fields.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefine,
}

func init() {
	refineCmd.Flags().BoolVar(&refineDeterministicOnly, "deterministic-only", false,
		"Skip the semantic pass; map by code matching only")
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	defer maybeDumpRequests()

	extractionID := args[0]

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	var matcher *mapping.SemanticMatcher
	if !refineDeterministicOnly {
		caller, err := buildCaller(ctx)
		if err != nil {
			return err
		}
		matcher = mapping.NewSemanticMatcher(caller, mapping.SemanticConfig{
			BatchSize:     cfg.Mapping.BatchSize,
			CatalogDetail: 200,
		}, logger)
	}

	session := mapping.NewSession(s, matcher, mapping.SessionConfig{
		ConfidenceThreshold: cfg.Mapping.ConfidenceThreshold,
		PrefixLength:        cfg.Mapping.PrefixLength,
	}, logger)

	stats, err := session.Refine(ctx, extractionID)
	printStats(stats)
	if err != nil {
		if llm.IsRateLimit(err) {
			fmt.Println("Stopped early: the inference service is rate limiting. Validated mappings were kept; re-run later for the remainder.")
		}
		return err
	}
	return nil
}

func printStats(stats catalog.MappingStats) {
	fmt.Printf("Processed:          %d\n", stats.TotalProcessed)
	fmt.Printf("Mapped:             %d (code: %d, trimmed: %d, semantic: %d)\n",
		stats.NewlyMapped, stats.CodeMatches, stats.TrimMatches, stats.SemanticMatches)
	fmt.Printf("Flagged for review: %d\n", stats.FlaggedForReview)
	fmt.Printf("Still unmapped:     %d\n", stats.StillUnmapped)
	for _, w := range stats.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
}
