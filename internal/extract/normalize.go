// Package extract turns raw inference output into canonical, de-duplicated
// CourseRecords. Field names coming back from the model vary by source
// document, so normalization probes an ordered list of known aliases per
// canonical field and takes the first usable value.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"coursemap/internal/catalog"
)

// fieldAliases maps each canonical field to its known aliases, probed in
// order. The canonical name itself is always first so normalization of an
// already-normalized record is a no-op.
var fieldAliases = map[string][]string{
	"category":     {"category", "department", "subject", "program", "subject_area"},
	"name":         {"name", "course_name", "coursename", "title", "course_title", "course"},
	"code":         {"code", "course_code", "coursecode", "course_number", "course_id", "number"},
	"grade_level":  {"grade_level", "gradelevel", "grade", "grades", "level"},
	"length":       {"length", "duration", "term", "semester", "length_duration_term"},
	"prerequisite": {"prerequisite", "prerequisites", "prereq", "pre_requisite"},
	"credit":       {"credit", "credits", "credit_value"},
	"details":      {"details", "notes", "additional_details", "free_text"},
	"description":  {"description", "desc", "course_description", "summary"},
}

// isPlaceholder reports whether a value carries no information.
func isPlaceholder(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", catalog.Placeholder, "null":
		return true
	}
	return false
}

// normKey folds a raw field key for alias comparison.
func normKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}

// valueToString renders a raw JSON value as a field string.
func valueToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// probe returns the first non-empty, non-placeholder value among the
// aliases for the canonical field.
func probe(fields map[string]string, canonical string) string {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := fields[alias]; ok && !isPlaceholder(v) {
			return v
		}
	}
	return ""
}

// FromRaw maps one raw key-value record into the canonical shape. Every
// field is present afterwards; absent data becomes the explicit
// placeholder and missing categories default to Uncategorized.
func FromRaw(raw map[string]any, sourceFile string) catalog.CourseRecord {
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[normKey(k)] = valueToString(v)
	}

	orDefault := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}

	rec := catalog.CourseRecord{
		Category:     orDefault(probe(fields, "category"), catalog.DefaultCategory),
		Name:         probe(fields, "name"),
		Code:         orDefault(probe(fields, "code"), catalog.Placeholder),
		GradeLevel:   orDefault(probe(fields, "grade_level"), catalog.Placeholder),
		Length:       orDefault(probe(fields, "length"), catalog.Placeholder),
		Prerequisite: orDefault(probe(fields, "prerequisite"), catalog.Placeholder),
		Credit:       orDefault(probe(fields, "credit"), catalog.Placeholder),
		Details:      orDefault(probe(fields, "details"), catalog.Placeholder),
		Description:  orDefault(probe(fields, "description"), catalog.Placeholder),
		SourceFile:   orDefault(sourceFile, catalog.Placeholder),
	}
	return rec
}

// nameRange matches course names that encode a numeric range, e.g.
// "Journalism 1-3". Ranges wider than maxRangeSpan are treated as false
// positives and left unsplit.
var nameRange = regexp.MustCompile(`^(.*?)\s*(\d+)\s*[-–]\s*(\d+)$`)

const maxRangeSpan = 10

// expandRanges detects compound entries whose name ends in "N-M" and
// expands them into one record per number in the range.
func expandRanges(records []catalog.CourseRecord) []catalog.CourseRecord {
	out := make([]catalog.CourseRecord, 0, len(records))
	for _, rec := range records {
		m := nameRange.FindStringSubmatch(rec.Name)
		if m == nil {
			out = append(out, rec)
			continue
		}
		low, err1 := strconv.Atoi(m[2])
		high, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil || high <= low || high-low > maxRangeSpan {
			out = append(out, rec)
			continue
		}
		base := strings.TrimSpace(m[1])
		for n := low; n <= high; n++ {
			expanded := rec
			if base == "" {
				expanded.Name = strconv.Itoa(n)
			} else {
				expanded.Name = base + " " + strconv.Itoa(n)
			}
			out = append(out, expanded)
		}
	}
	return out
}

// dedup keeps the first occurrence of each identity key, preserving
// input order.
func dedup(records []catalog.CourseRecord) []catalog.CourseRecord {
	seen := make(map[string]bool, len(records))
	out := make([]catalog.CourseRecord, 0, len(records))
	for _, rec := range records {
		key := rec.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}

// Normalize applies the full canonicalization pass over records that are
// already in canonical shape: placeholder defaulting, compound-range
// expansion, and order-preserving deduplication. Records with empty names
// are dropped (name is the one required field). Normalize is idempotent.
func Normalize(records []catalog.CourseRecord) []catalog.CourseRecord {
	filled := make([]catalog.CourseRecord, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.Name) == "" {
			continue
		}
		if isPlaceholder(rec.Category) {
			rec.Category = catalog.DefaultCategory
		}
		fillPlaceholders(&rec)
		filled = append(filled, rec)
	}
	return dedup(expandRanges(filled))
}

func fillPlaceholders(rec *catalog.CourseRecord) {
	for _, f := range []*string{
		&rec.Code, &rec.GradeLevel, &rec.Length, &rec.Prerequisite,
		&rec.Credit, &rec.Details, &rec.Description, &rec.SourceFile,
	} {
		if strings.TrimSpace(*f) == "" {
			*f = catalog.Placeholder
		}
	}
}
