package mapping

import (
	"context"
	"fmt"

	"coursemap/internal/catalog"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the record-store surface the mapping session needs: a catalog
// snapshot, the pristine extraction, and a partial-field update keyed by
// record identity.
type Store interface {
	ListCatalog(ctx context.Context) ([]catalog.MasterCatalogEntry, error)
	GetExtractionRecords(ctx context.Context, extractionID string) ([]catalog.CourseRecord, error)
	ResetMappings(ctx context.Context, extractionID string) error
	ApplyMapping(ctx context.Context, extractionID string, result catalog.MappingResult) error
	SaveSessionStats(ctx context.Context, extractionID string, stats catalog.MappingStats) error
}

// SessionConfig is the per-catalog tuning surface.
type SessionConfig struct {
	// ConfidenceThreshold separates mapped from flagged_for_review.
	ConfidenceThreshold int
	// PrefixLength is the trimmed-match comparison width.
	PrefixLength int
}

// DefaultSessionConfig returns the standard thresholds.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConfidenceThreshold: 75,
		PrefixLength:        7,
	}
}

// Session runs one mapping pass over an extraction: deterministic pass,
// semantic pass for the remainder, validation, and persistence. The
// catalog snapshot is read once and treated as immutable for the
// session's duration.
type Session struct {
	store    Store
	semantic *SemanticMatcher
	cfg      SessionConfig
	logger   *zap.Logger
}

// NewSession wires a mapping session. semantic may be nil to run the
// deterministic pass only.
func NewSession(store Store, semantic *SemanticMatcher, cfg SessionConfig, logger *zap.Logger) *Session {
	if cfg.ConfidenceThreshold <= 0 {
		cfg = DefaultSessionConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{store: store, semantic: semantic, cfg: cfg, logger: logger}
}

// Refine maps all records of an extraction and persists validated
// results. Re-running overwrites mapping fields only; the pristine
// extraction is never touched. On a rate-limit signal the session aborts
// immediately but everything validated so far stays persisted, and the
// partial stats are returned with the error.
func (s *Session) Refine(ctx context.Context, extractionID string) (catalog.MappingStats, error) {
	var entries []catalog.MasterCatalogEntry
	var records []catalog.CourseRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.store.ListCatalog(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = s.store.GetExtractionRecords(gctx, extractionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return catalog.MappingStats{}, fmt.Errorf("loading session inputs: %w", err)
	}

	// Precondition failures are fatal before any external call.
	if len(entries) == 0 {
		return catalog.MappingStats{}, fmt.Errorf("master catalog is empty")
	}
	if len(records) == 0 {
		return catalog.MappingStats{}, fmt.Errorf("extraction %s has no records", extractionID)
	}

	// Each run supersedes the last: clear prior results first, so a
	// record this run cannot map does not keep a mapping from an earlier
	// run or an earlier catalog import.
	if err := s.store.ResetMappings(ctx, extractionID); err != nil {
		return catalog.MappingStats{}, fmt.Errorf("resetting prior mappings: %w", err)
	}

	codes := catalog.NewValidCodeSet(entries)
	validator := NewValidator(records, codes, s.cfg.ConfidenceThreshold)

	detCandidates, unmapped := Deterministic(records, entries, s.cfg.PrefixLength)
	s.logger.Info("deterministic pass complete",
		zap.Int("records", len(records)),
		zap.Int("matched", len(detCandidates)),
		zap.Int("unmapped", len(unmapped)))

	var results []catalog.MappingResult
	var validationErrs []error

	persist := func(candidates []catalog.MappingCandidate) error {
		validated, errs := validator.ValidateAll(candidates)
		validationErrs = append(validationErrs, errs...)
		for _, res := range validated {
			if err := s.store.ApplyMapping(ctx, extractionID, res); err != nil {
				return fmt.Errorf("persisting mapping for %s: %w", res.RecordKey, err)
			}
			results = append(results, res)
		}
		return nil
	}

	if err := persist(detCandidates); err != nil {
		return s.finish(ctx, extractionID, results, len(records), validationErrs), err
	}

	if s.semantic != nil && len(unmapped) > 0 {
		semCandidates, err := s.semantic.Match(ctx, unmapped, entries)
		if perr := persist(semCandidates); perr != nil {
			return s.finish(ctx, extractionID, results, len(records), validationErrs), perr
		}
		if err != nil {
			// Rate limit (or cancellation): abort, keep what is persisted.
			return s.finish(ctx, extractionID, results, len(records), validationErrs), err
		}
	}

	stats := s.finish(ctx, extractionID, results, len(records), validationErrs)
	return stats, nil
}

// finish computes stats, attaches warnings, and records the session.
func (s *Session) finish(ctx context.Context, extractionID string, results []catalog.MappingResult, total int, validationErrs []error) catalog.MappingStats {
	stats := Summarize(results, total)
	stats.Warnings = append(stats.Warnings, AnomalyScan(results)...)
	for _, err := range validationErrs {
		stats.Warnings = append(stats.Warnings, err.Error())
	}

	if err := s.store.SaveSessionStats(ctx, extractionID, stats); err != nil {
		s.logger.Warn("failed to record session stats", zap.Error(err))
	}
	s.logger.Info("mapping session finished",
		zap.Int("total", stats.TotalProcessed),
		zap.Int("mapped", stats.NewlyMapped),
		zap.Int("flagged", stats.FlaggedForReview),
		zap.Int("unmapped", stats.StillUnmapped),
		zap.Int("rejected", len(validationErrs)))
	return stats
}
