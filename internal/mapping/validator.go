package mapping

import (
	"fmt"

	"coursemap/internal/catalog"
)

// ValidationError describes one rejected mapping suggestion. Rejections
// are scoped to the single mapping, never the batch.
type ValidationError struct {
	RecordName string
	Code       string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mapping rejected for %q (code %q): %s", e.RecordName, e.Code, e.Reason)
}

// Validator is the only constructor of MappingResults. It enforces the
// core safety invariant: a mapped code must exist, after normalization,
// in the valid-code set of the current run. Anything else is a
// hallucination and is dropped with an error entry.
type Validator struct {
	codes     *catalog.ValidCodeSet
	records   map[string]catalog.CourseRecord
	threshold int
}

// NewValidator builds a validator over the original input batch and the
// catalog snapshot. threshold is the accept-vs-flag confidence boundary.
func NewValidator(records []catalog.CourseRecord, codes *catalog.ValidCodeSet, threshold int) *Validator {
	byKey := make(map[string]catalog.CourseRecord, len(records))
	for _, rec := range records {
		byKey[rec.Key()] = rec
	}
	return &Validator{codes: codes, records: byKey, threshold: threshold}
}

// Validate turns one unvalidated candidate into a MappingResult or
// rejects it. This is a total function: every candidate yields exactly
// one of the two.
func (v *Validator) Validate(c catalog.MappingCandidate) (catalog.MappingResult, error) {
	if _, ok := v.records[c.RecordKey]; !ok {
		return catalog.MappingResult{}, &ValidationError{
			RecordName: c.RecordName,
			Code:       c.Code,
			Reason:     "suggestion refers to a record not in the input batch",
		}
	}
	if !catalog.KnownMethod(c.Method) {
		return catalog.MappingResult{}, &ValidationError{
			RecordName: c.RecordName,
			Code:       c.Code,
			Reason:     fmt.Sprintf("unknown match method %q", c.Method),
		}
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return catalog.MappingResult{}, &ValidationError{
			RecordName: c.RecordName,
			Code:       c.Code,
			Reason:     fmt.Sprintf("confidence %d outside [0,100]", c.Confidence),
		}
	}

	entry, ok := v.codes.Lookup(c.Code)
	if !ok {
		return catalog.MappingResult{}, &ValidationError{
			RecordName: c.RecordName,
			Code:       c.Code,
			Reason:     "code not in master catalog (hallucination)",
		}
	}

	status := catalog.StatusFlaggedForReview
	if c.Confidence >= v.threshold {
		status = catalog.StatusMapped
	}

	programArea := c.ProgramArea
	if programArea == "" {
		programArea = entry.ProgramArea
	}

	// Alternatives are suggestions too: keep only the ones that exist.
	var alternatives []string
	for _, alt := range c.Alternatives {
		if altEntry, ok := v.codes.Lookup(alt); ok {
			alternatives = append(alternatives, altEntry.Code)
		}
	}

	return catalog.MappingResult{
		RecordKey:    c.RecordKey,
		Code:         entry.Code, // canonical catalog spelling, never the raw suggestion
		ProgramArea:  programArea,
		Status:       status,
		Method:       c.Method,
		Confidence:   c.Confidence,
		Reasoning:    c.Reasoning,
		Alternatives: alternatives,
	}, nil
}

// ValidateAll validates a batch, collecting per-mapping errors instead of
// failing the batch.
func (v *Validator) ValidateAll(candidates []catalog.MappingCandidate) ([]catalog.MappingResult, []error) {
	var results []catalog.MappingResult
	var errs []error
	for _, c := range candidates {
		res, err := v.Validate(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// AnomalyScan flags a run where an unusually high fraction of
// confidences sit at the extremes. The warning is advisory; it never
// blocks persistence.
func AnomalyScan(results []catalog.MappingResult) []string {
	const minSample = 4
	if len(results) < minSample {
		return nil
	}
	extreme := 0
	for _, r := range results {
		if r.Confidence > 98 || r.Confidence < 20 {
			extreme++
		}
	}
	frac := float64(extreme) / float64(len(results))
	if frac <= 0.5 {
		return nil
	}
	return []string{fmt.Sprintf(
		"confidence anomaly: %d of %d mappings at extreme confidence; review this run",
		extreme, len(results))}
}
