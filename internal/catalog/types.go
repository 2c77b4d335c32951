// Package catalog defines the core domain model for course extraction and
// mapping: normalized course records, master catalog entries, and the
// split between unvalidated mapping candidates and validated mapping
// results. The candidate/result split is deliberate: nothing produced by
// the inference service becomes a MappingResult without passing through
// validation against the master catalog.
package catalog

import (
	"strings"
	"unicode"
)

// Placeholder is the explicit value written into fields that have no data.
// Records never carry missing fields, only placeholders.
const Placeholder = "-"

// DefaultCategory is assigned to records whose source had no category.
const DefaultCategory = "Uncategorized"

// MappingStatus describes how far a record has progressed through mapping.
type MappingStatus string

const (
	StatusUnmapped         MappingStatus = "unmapped"
	StatusMapped           MappingStatus = "mapped"
	StatusFlaggedForReview MappingStatus = "flagged_for_review"
)

// MatchMethod records which pass produced a mapping.
type MatchMethod string

const (
	MethodCodeMatch     MatchMethod = "CODE_MATCH"
	MethodCodeTrimMatch MatchMethod = "CODE_TRIM_MATCH"
	MethodSemanticMatch MatchMethod = "SEMANTIC_MATCH"
)

// KnownMethod reports whether m is one of the recognized match methods.
func KnownMethod(m MatchMethod) bool {
	switch m {
	case MethodCodeMatch, MethodCodeTrimMatch, MethodSemanticMatch:
		return true
	}
	return false
}

// CourseRecord is the canonical post-normalization course shape. Every
// field is present; absent data is the explicit Placeholder. Once an
// extraction is persisted these fields are pristine: the mapping stage
// never rewrites them.
type CourseRecord struct {
	Category     string `json:"category"`
	Name         string `json:"name"`
	Code         string `json:"code"`
	GradeLevel   string `json:"grade_level"`
	Length       string `json:"length"`
	Prerequisite string `json:"prerequisite"`
	Credit       string `json:"credit"`
	Details      string `json:"details"`
	Description  string `json:"description"`
	SourceFile   string `json:"source_file"`
}

// Key returns the deduplication/identity key: the lowercase,
// whitespace-collapsed (category, name, grade level) tuple. Two records
// with equal keys are the same course.
func (r CourseRecord) Key() string {
	return CollapseFold(r.Category) + "|" + CollapseFold(r.Name) + "|" + CollapseFold(r.GradeLevel)
}

// MasterCatalogEntry is read-only reference data supplied wholesale per
// run. The pipeline never mutates it.
type MasterCatalogEntry struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	ProgramArea string `json:"program_area"`
	GradeLevel  string `json:"grade_level"`
	Duration    string `json:"duration"`
	Credit      string `json:"credit"`
}

// MappingCandidate is an UNVALIDATED mapping suggestion. Deterministic
// and semantic passes both emit candidates; only the validator may turn
// one into a MappingResult.
type MappingCandidate struct {
	RecordKey    string      // identity key of the source CourseRecord
	RecordName   string      // course name as reported by the suggester
	Code         string      // suggested catalog code ("" means no match)
	ProgramArea  string
	Method       MatchMethod
	Confidence   int // 0-100
	Reasoning    string
	Alternatives []string // other plausible codes, also unvalidated
}

// MappingResult is a VALIDATED mapping. Invariant: when Status is
// StatusMapped or StatusFlaggedForReview, Code exists (post-normalization)
// in the master catalog snapshot used for the run. The validator enforces
// this; nothing else constructs mapped results.
type MappingResult struct {
	RecordKey    string
	Code         string
	ProgramArea  string
	Status       MappingStatus
	Method       MatchMethod
	Confidence   int
	Reasoning    string
	Alternatives []string
}

// MappingStats aggregates one mapping session. Derived data, recomputed
// each run.
type MappingStats struct {
	TotalProcessed   int      `json:"total_processed"`
	CodeMatches      int      `json:"code_matches"`
	TrimMatches      int      `json:"trim_matches"`
	SemanticMatches  int      `json:"semantic_matches"`
	NewlyMapped      int      `json:"newly_mapped"`
	StillUnmapped    int      `json:"still_unmapped"`
	FlaggedForReview int      `json:"flagged_for_review"`
	Warnings         []string `json:"warnings,omitempty"`
}

// NormalizeCode lowercases a course code and strips every character that
// is not a letter or digit. Matching always compares normalized codes.
func NormalizeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// CollapseFold lowercases s and collapses runs of whitespace to single
// spaces, trimming the ends. Used for identity keys.
func CollapseFold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ValidCodeSet indexes master catalog entries by normalized code. It is
// built once per session from an immutable snapshot.
type ValidCodeSet struct {
	byCode map[string]MasterCatalogEntry
}

// NewValidCodeSet builds the lookup from a catalog snapshot.
func NewValidCodeSet(entries []MasterCatalogEntry) *ValidCodeSet {
	byCode := make(map[string]MasterCatalogEntry, len(entries))
	for _, e := range entries {
		norm := NormalizeCode(e.Code)
		if norm == "" {
			continue
		}
		if _, exists := byCode[norm]; !exists {
			byCode[norm] = e
		}
	}
	return &ValidCodeSet{byCode: byCode}
}

// Lookup returns the entry for a raw code, normalizing first.
func (s *ValidCodeSet) Lookup(code string) (MasterCatalogEntry, bool) {
	e, ok := s.byCode[NormalizeCode(code)]
	return e, ok
}

// Contains reports whether the raw code, after normalization, is a known
// catalog code.
func (s *ValidCodeSet) Contains(code string) bool {
	_, ok := s.byCode[NormalizeCode(code)]
	return ok
}

// Len returns the number of distinct normalized codes.
func (s *ValidCodeSet) Len() int {
	return len(s.byCode)
}
