// Package mapping reconciles extracted course records against the master
// catalog: a deterministic pass (exact, then prefix code matching), a
// semantic pass backed by the inference service, and a validator that
// guarantees no code outside the catalog snapshot is ever persisted.
package mapping

import (
	"coursemap/internal/catalog"
)

// Fixed confidences for the deterministic pass.
const (
	exactMatchConfidence = 100
	trimMatchConfidence  = 85
)

// Deterministic partitions records into mapping candidates and
// still-unmapped records. Exact normalized-code matches resolve first at
// confidence 100; only records that miss are then compared by the first
// prefixLen normalized characters at confidence 85. The order is a
// precision-first tie-break, not an optimization.
func Deterministic(records []catalog.CourseRecord, entries []catalog.MasterCatalogEntry, prefixLen int) ([]catalog.MappingCandidate, []catalog.CourseRecord) {
	byCode := make(map[string]catalog.MasterCatalogEntry, len(entries))
	byPrefix := make(map[string]catalog.MasterCatalogEntry, len(entries))
	for _, e := range entries {
		norm := catalog.NormalizeCode(e.Code)
		if norm == "" {
			continue
		}
		if _, ok := byCode[norm]; !ok {
			byCode[norm] = e
		}
		if prefixLen > 0 && len(norm) >= prefixLen {
			prefix := norm[:prefixLen]
			if _, ok := byPrefix[prefix]; !ok {
				byPrefix[prefix] = e
			}
		}
	}

	var candidates []catalog.MappingCandidate
	var unmapped []catalog.CourseRecord

	for _, rec := range records {
		norm := catalog.NormalizeCode(rec.Code)
		if norm == "" {
			unmapped = append(unmapped, rec)
			continue
		}

		if entry, ok := byCode[norm]; ok {
			candidates = append(candidates, catalog.MappingCandidate{
				RecordKey:   rec.Key(),
				RecordName:  rec.Name,
				Code:        entry.Code,
				ProgramArea: entry.ProgramArea,
				Method:      catalog.MethodCodeMatch,
				Confidence:  exactMatchConfidence,
				Reasoning:   "exact code match after normalization",
			})
			continue
		}

		if prefixLen > 0 && len(norm) >= prefixLen {
			if entry, ok := byPrefix[norm[:prefixLen]]; ok {
				candidates = append(candidates, catalog.MappingCandidate{
					RecordKey:   rec.Key(),
					RecordName:  rec.Name,
					Code:        entry.Code,
					ProgramArea: entry.ProgramArea,
					Method:      catalog.MethodCodeTrimMatch,
					Confidence:  trimMatchConfidence,
					Reasoning:   "code prefix match after normalization",
				})
				continue
			}
		}

		unmapped = append(unmapped, rec)
	}

	return candidates, unmapped
}
