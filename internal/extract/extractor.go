package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coursemap/internal/catalog"
	"coursemap/internal/chunker"
	"coursemap/internal/llm"

	"go.uber.org/zap"
)

const extractSystemPrompt = `You extract course records from school course catalog text.
Respond with ONLY a JSON array. Each element is an object with these fields:
category, name, code, grade_level, length, prerequisite, credit, details, description.
Use "-" for any field not present in the text. Do not invent data.
If the text contains no courses, respond with [].`

// Extractor runs the chunk-by-chunk extraction of one document.
// Chunks are processed strictly in order with a fixed inter-chunk delay;
// this keeps one document from starving a shared-quota credential.
type Extractor struct {
	caller          *llm.ResilientCaller
	chunkCfg        chunker.Config
	interChunkDelay time.Duration
	logger          *zap.Logger
}

// NewExtractor wires the extraction pipeline.
func NewExtractor(caller *llm.ResilientCaller, chunkCfg chunker.Config, interChunkDelay time.Duration, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		caller:          caller,
		chunkCfg:        chunkCfg,
		interChunkDelay: interChunkDelay,
		logger:          logger,
	}
}

// ExtractDocument turns raw document text into normalized, de-duplicated
// course records. A rate-limit signal aborts the remaining chunks but the
// records already extracted are returned alongside the error.
func (e *Extractor) ExtractDocument(ctx context.Context, text, filename string) ([]catalog.CourseRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty input document")
	}

	chunks := chunker.Split(text, e.chunkCfg)
	e.logger.Info("extracting document",
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)),
		zap.Int("chars", len(text)))

	var records []catalog.CourseRecord
	for i, chunk := range chunks {
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				return Normalize(records), err
			}
		}

		raws, err := e.caller.Call(ctx, llm.ModeExtract, extractSystemPrompt, buildExtractPrompt(chunk))
		if err != nil {
			// Rate limit or cancellation: abort remaining chunks but
			// keep what prior chunks produced.
			e.logger.Warn("aborting document at chunk boundary",
				zap.Int("chunk", i+1),
				zap.Int("total_chunks", len(chunks)),
				zap.Error(err))
			return Normalize(records), err
		}

		for _, raw := range raws {
			records = append(records, FromRaw(raw, filename))
		}
		e.logger.Debug("chunk processed",
			zap.Int("chunk", i+1),
			zap.Int("records", len(raws)))
	}

	normalized := Normalize(records)
	e.logger.Info("document extracted",
		zap.String("filename", filename),
		zap.Int("raw_records", len(records)),
		zap.Int("records", len(normalized)))
	return normalized, nil
}

func (e *Extractor) pause(ctx context.Context) error {
	if e.interChunkDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(e.interChunkDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func buildExtractPrompt(chunk chunker.Chunk) string {
	var b strings.Builder
	b.WriteString("Document format: ")
	b.WriteString(string(chunk.Format))
	b.WriteString("\n\nExtract all courses from this catalog text:\n\n")
	b.WriteString(chunk.Text)
	return b.String()
}
