// Package chunker splits raw catalog documents into bounded segments for
// the extraction pipeline. Chunk boundaries are chosen so that the chunks
// form an exact partition of the input: concatenating them in order
// reproduces the document with no gaps and no overlap.
package chunker

import (
	"regexp"
	"strings"
)

// FormatTag classifies the detected document format.
type FormatTag string

const (
	FormatPlain    FormatTag = "plain"
	FormatTabular  FormatTag = "tabular-pipe-delimited"
	FormatCodeList FormatTag = "code-list"
)

// Chunk is a bounded substring of the source text. Start/End are byte
// offsets into the original document; Text is the corresponding slice.
type Chunk struct {
	Start         int
	End           int
	Format        FormatTag
	TokenEstimate int
	Text          string
}

// Config bounds chunk sizes.
type Config struct {
	// MaxChunkChars is the hard ceiling for any single chunk.
	MaxChunkChars int
	// TokenBudget caps prose chunks, measured in estimated tokens.
	TokenBudget int
	// MinChunkChars is the minimum viable slice; shorter window
	// remainders are folded into the preceding chunk instead of being
	// emitted as noise.
	MinChunkChars int
}

// DefaultConfig returns the standard chunking bounds.
func DefaultConfig() Config {
	return Config{
		MaxChunkChars: 48000,
		TokenBudget:   3000,
		MinChunkChars: 100,
	}
}

var (
	sevenDigitCode = regexp.MustCompile(`\b\d{7}\b`)
	numberedLine   = regexp.MustCompile(`^\s*\d+[.)]\s`)
	schoolKeywords = []string{
		"course catalog", "course offerings", "course description",
		"high school", "middle school", "program of studies",
	}
)

// DetectFormat runs cheap pattern probes over the document and returns a
// format hint. Dense pipe tables and long code lists keep cross-line
// context, so they are detected before falling back to plain prose.
func DetectFormat(text string) FormatTag {
	lines := strings.Split(text, "\n")
	pipeLines := 0
	for _, line := range lines {
		if strings.Count(line, "|") >= 2 {
			pipeLines++
		}
	}
	if pipeLines >= 5 || (len(lines) > 0 && float64(pipeLines)/float64(len(lines)) > 0.2) {
		return FormatTabular
	}

	if len(sevenDigitCode.FindAllStringIndex(text, 11)) >= 10 {
		return FormatCodeList
	}

	return FormatPlain
}

// hasCatalogMarkers reports whether the text looks like a dense catalog
// document (school headers, asterisk-suffixed headings). Used to favor
// whole-document chunks for formats where cross-chunk context matters.
func hasCatalogMarkers(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range schoolKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmed, "*") && len(trimmed) > 1 {
			return true
		}
	}
	return false
}

// EstimateTokens returns a conservative token estimate (chars / 4,
// rounded up). It only needs to be monotonic, not exact.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Split partitions a document into ordered chunks. Dense formats are kept
// whole up to the hard ceiling, then sliced into equal windows; prose is
// split at section boundaries and greedily packed to the token budget.
func Split(text string, cfg Config) []Chunk {
	if text == "" {
		return nil
	}
	if cfg.MaxChunkChars <= 0 {
		cfg = DefaultConfig()
	}

	format := DetectFormat(text)

	if format == FormatTabular || format == FormatCodeList || hasCatalogMarkers(text) {
		if len(text) <= cfg.MaxChunkChars {
			return []Chunk{makeChunk(text, 0, len(text), format)}
		}
		return windows(text, 0, format, cfg)
	}

	return packSections(text, format, cfg)
}

func makeChunk(text string, start, end int, format FormatTag) Chunk {
	slice := text[start:end]
	return Chunk{
		Start:         start,
		End:           end,
		Format:        format,
		TokenEstimate: EstimateTokens(slice),
		Text:          slice,
	}
}

// windows slices text[base:] into equal-length windows under the ceiling.
// A trailing remainder shorter than MinChunkChars is folded into the last
// window so no byte range is dropped.
func windows(text string, base int, format FormatTag, cfg Config) []Chunk {
	n := len(text) - base
	count := (n + cfg.MaxChunkChars - 1) / cfg.MaxChunkChars
	width := (n + count - 1) / count

	var chunks []Chunk
	for start := base; start < len(text); start += width {
		end := start + width
		if end > len(text) {
			end = len(text)
		}
		if len(chunks) > 0 && end-start < cfg.MinChunkChars {
			prev := &chunks[len(chunks)-1]
			prev.End = end
			prev.Text = text[prev.Start:end]
			prev.TokenEstimate = EstimateTokens(prev.Text)
			break
		}
		chunks = append(chunks, makeChunk(text, start, end, format))
	}
	return chunks
}

// sectionBoundaries returns byte offsets where a new prose section starts.
// Offset 0 is always a boundary.
func sectionBoundaries(text string) []int {
	boundaries := []int{0}
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		if offset > 0 && isSectionStart(strings.TrimSuffix(line, "\n")) {
			boundaries = append(boundaries, offset)
		}
		offset += len(line)
	}
	return boundaries
}

func isSectionStart(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if numberedLine.MatchString(line) {
		return true
	}
	if strings.HasSuffix(trimmed, ":") {
		return true
	}
	if strings.HasSuffix(trimmed, "*") && len(trimmed) > 1 {
		return true
	}
	// All-caps heading lines.
	if len(trimmed) >= 3 && trimmed == strings.ToUpper(trimmed) && strings.ToLower(trimmed) != trimmed {
		return true
	}
	return false
}

// packSections splits prose at section boundaries and greedily packs
// adjacent sections into chunks until the token budget is reached,
// preserving section order. Oversized single sections fall back to equal
// windows so the hard ceiling still holds.
func packSections(text string, format FormatTag, cfg Config) []Chunk {
	boundaries := sectionBoundaries(text)
	boundaries = append(boundaries, len(text))

	var chunks []Chunk
	chunkStart := boundaries[0]
	for i := 1; i < len(boundaries); i++ {
		sectionEnd := boundaries[i]
		if EstimateTokens(text[chunkStart:sectionEnd]) <= cfg.TokenBudget {
			continue
		}

		// Budget exceeded: close the chunk at the previous boundary,
		// unless this single section is itself the overflow.
		prevEnd := boundaries[i-1]
		if prevEnd > chunkStart {
			chunks = append(chunks, makeChunk(text, chunkStart, prevEnd, format))
			chunkStart = prevEnd
		}
		if EstimateTokens(text[chunkStart:sectionEnd]) > cfg.TokenBudget {
			if sectionEnd-chunkStart > cfg.MaxChunkChars {
				chunks = append(chunks, windows(text[:sectionEnd], chunkStart, format, cfg)...)
			} else {
				chunks = append(chunks, makeChunk(text, chunkStart, sectionEnd, format))
			}
			chunkStart = sectionEnd
		}
	}
	if chunkStart < len(text) {
		chunks = append(chunks, makeChunk(text, chunkStart, len(text), format))
	}
	if len(chunks) == 0 {
		chunks = append(chunks, makeChunk(text, 0, len(text), format))
	}
	return chunks
}
