package mapping

import "coursemap/internal/catalog"

// Summarize aggregates a session's validated results into session stats.
// Pure aggregation: no side effects.
func Summarize(results []catalog.MappingResult, totalRecords int) catalog.MappingStats {
	stats := catalog.MappingStats{TotalProcessed: totalRecords}
	for _, r := range results {
		switch r.Method {
		case catalog.MethodCodeMatch:
			stats.CodeMatches++
		case catalog.MethodCodeTrimMatch:
			stats.TrimMatches++
		case catalog.MethodSemanticMatch:
			stats.SemanticMatches++
		}
		switch r.Status {
		case catalog.StatusMapped:
			stats.NewlyMapped++
		case catalog.StatusFlaggedForReview:
			stats.FlaggedForReview++
		}
	}
	stats.StillUnmapped = totalRecords - stats.NewlyMapped - stats.FlaggedForReview
	if stats.StillUnmapped < 0 {
		stats.StillUnmapped = 0
	}
	return stats
}
