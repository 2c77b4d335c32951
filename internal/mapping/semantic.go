package mapping

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"coursemap/internal/catalog"
	"coursemap/internal/llm"

	"go.uber.org/zap"
)

const semanticSystemPrompt = `You map extracted course records to official course codes.
You will be given course records and the complete list of valid official codes.
You MUST choose codes only from the supplied list. Never invent a code.
Confidence semantics: >=90 certain; 75-89 likely but flag for review;
50-74 possible, flag mandatory; below 50 do not map (use "NO_MATCH").
Respond with ONLY a JSON array; one object per input record with fields:
course_name, code, confidence (integer 0-100), reasoning, alternatives (array of codes).
Use "NO_MATCH" as the code when no supplied code fits.`

// SemanticConfig tunes the semantic pass.
type SemanticConfig struct {
	// BatchSize is the number of unmapped records per external call.
	BatchSize int
	// CatalogDetail caps how many catalog entries get name/title detail
	// in the prompt; the full code list is always included.
	CatalogDetail int
}

// DefaultSemanticConfig returns sensible defaults.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		BatchSize:     20,
		CatalogDetail: 200,
	}
}

// SemanticMatcher asks the inference service for best-guess codes for
// records the deterministic pass could not resolve. Its output is an
// untrusted suggestion in every case; the validator decides what is real.
type SemanticMatcher struct {
	caller *llm.ResilientCaller
	cfg    SemanticConfig
	logger *zap.Logger
}

// NewSemanticMatcher wires the semantic pass.
func NewSemanticMatcher(caller *llm.ResilientCaller, cfg SemanticConfig, logger *zap.Logger) *SemanticMatcher {
	if cfg.BatchSize <= 0 {
		cfg = DefaultSemanticConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticMatcher{caller: caller, cfg: cfg, logger: logger}
}

// Match returns unvalidated mapping candidates for the given records.
// Records the service declines to map produce no candidate. On a
// rate-limit signal the candidates gathered so far are returned together
// with the error so prior batches are not discarded.
func (m *SemanticMatcher) Match(ctx context.Context, records []catalog.CourseRecord, entries []catalog.MasterCatalogEntry) ([]catalog.MappingCandidate, error) {
	if len(records) == 0 {
		return nil, nil
	}

	catalogPrompt := m.buildCatalogSection(entries)

	var candidates []catalog.MappingCandidate
	for start := 0; start < len(records); start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		raws, err := m.caller.Call(ctx, llm.ModeMap, semanticSystemPrompt, buildMatchPrompt(batch, catalogPrompt))
		if err != nil {
			return candidates, err
		}

		byName := make(map[string]catalog.CourseRecord, len(batch))
		for _, rec := range batch {
			byName[catalog.CollapseFold(rec.Name)] = rec
		}

		for _, raw := range raws {
			cand, ok := parseSuggestion(raw, byName)
			if !ok {
				continue
			}
			candidates = append(candidates, cand)
		}
		m.logger.Debug("semantic batch processed",
			zap.Int("records", len(batch)),
			zap.Int("suggestions", len(raws)))
	}

	return candidates, nil
}

func (m *SemanticMatcher) buildCatalogSection(entries []catalog.MasterCatalogEntry) string {
	var b strings.Builder
	b.WriteString("## Valid official codes (choose ONLY from these)\n")
	detail := m.cfg.CatalogDetail
	for i, e := range entries {
		if i < detail {
			fmt.Fprintf(&b, "%s: %s (%s)\n", e.Code, e.Title, e.ProgramArea)
		} else {
			b.WriteString(e.Code)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func buildMatchPrompt(batch []catalog.CourseRecord, catalogSection string) string {
	var b strings.Builder
	b.WriteString("## Course records to map\n")
	for _, rec := range batch {
		fmt.Fprintf(&b, "- name: %s | category: %s | grade: %s | code hint: %s\n",
			rec.Name, rec.Category, rec.GradeLevel, rec.Code)
	}
	b.WriteString("\n")
	b.WriteString(catalogSection)
	return b.String()
}

// parseSuggestion converts one raw suggestion object into an unvalidated
// candidate. ok=false means the suggestion is a no-match marker.
func parseSuggestion(raw map[string]any, byName map[string]catalog.CourseRecord) (catalog.MappingCandidate, bool) {
	name := stringField(raw, "course_name", "name")
	code := stringField(raw, "code", "mapped_code")
	if code == "" || strings.EqualFold(code, "NO_MATCH") {
		return catalog.MappingCandidate{}, false
	}

	cand := catalog.MappingCandidate{
		RecordName:  name,
		Code:        code,
		ProgramArea: stringField(raw, "program_area"),
		Method:      catalog.MethodSemanticMatch,
		Confidence:  intField(raw, "confidence"),
		Reasoning:   stringField(raw, "reasoning"),
	}
	if rec, ok := byName[catalog.CollapseFold(name)]; ok {
		cand.RecordKey = rec.Key()
	}
	if alts, ok := raw["alternatives"].([]any); ok {
		for _, a := range alts {
			if s, ok := a.(string); ok && s != "" {
				cand.Alternatives = append(cand.Alternatives, s)
			}
		}
	}
	return cand, true
}

func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return -1 // out of range, rejected by the validator
}
