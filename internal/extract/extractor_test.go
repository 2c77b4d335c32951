package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"coursemap/internal/chunker"
	"coursemap/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkerConfigForTest splits fiveChunkDoc into one chunk per section.
func chunkerConfigForTest() chunker.Config {
	return chunker.Config{
		MaxChunkChars: 5000,
		TokenBudget:   150,
		MinChunkChars: 50,
	}
}

func chunkerWholeDoc() chunker.Config {
	return chunker.DefaultConfig()
}

// seqClient replays responses in call order.
type seqClient struct {
	script []func() (string, error)
	calls  int
}

func (c *seqClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *seqClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if c.calls >= len(c.script) {
		return "", errors.New("unexpected extra call")
	}
	f := c.script[c.calls]
	c.calls++
	return f()
}

func respond(json string) func() (string, error) {
	return func() (string, error) { return json, nil }
}

func fail(msg string) func() (string, error) {
	return func() (string, error) { return "", errors.New(msg) }
}

func rateLimited(after time.Duration) func() (string, error) {
	return func() (string, error) { return "", &llm.RateLimitError{RetryAfter: after} }
}

func testCallerConfig() llm.CallerConfig {
	return llm.CallerConfig{
		Timeout:     time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}
}

// fiveChunkDoc builds a prose document that splits into exactly five
// section chunks under the test chunk config.
func fiveChunkDoc() string {
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("DEPARTMENT SECTION\n")
		b.WriteString(strings.Repeat("course text body ", 30))
		b.WriteString("\n")
	}
	return b.String()
}

func testExtractor(client llm.Client) *Extractor {
	caller := llm.NewResilientCaller(client, testCallerConfig(), nil, nil)
	cfg := chunkerConfigForTest()
	return NewExtractor(caller, cfg, 0, nil)
}

func TestExtractDocumentEmptyInput(t *testing.T) {
	e := testExtractor(&seqClient{})
	_, err := e.ExtractDocument(context.Background(), "   \n ", "empty.txt")
	require.Error(t, err, "empty input must fail before any external call")
}

func TestExtractDocumentHappyPath(t *testing.T) {
	client := &seqClient{script: []func() (string, error){
		respond(`[{"name": "Algebra I", "category": "Math", "code": "1234567"}]`),
	}}
	caller := llm.NewResilientCaller(client, testCallerConfig(), nil, nil)
	e := NewExtractor(caller, chunkerWholeDoc(), 0, nil)

	records, err := e.ExtractDocument(context.Background(), "MATH COURSES\nAlgebra I 1234567", "cat.txt")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Algebra I", records[0].Name)
	assert.Equal(t, "cat.txt", records[0].SourceFile)
}

// Three consecutive transient failures on one chunk yield zero records
// for that chunk while the remaining chunks still process fully.
func TestExtractDocumentTransientChunkFailure(t *testing.T) {
	script := []func() (string, error){
		// Chunk 1: all attempts fail.
		fail("reset"), fail("reset"), fail("reset"),
		// Chunks 2-5 succeed.
		respond(`[{"name": "Course B"}]`),
		respond(`[{"name": "Course C"}]`),
		respond(`[{"name": "Course D"}]`),
		respond(`[{"name": "Course E"}]`),
	}
	client := &seqClient{script: script}
	e := testExtractor(client)

	records, err := e.ExtractDocument(context.Background(), fiveChunkDoc(), "cat.txt")
	require.NoError(t, err, "a failed chunk must not abort the document")
	require.Len(t, records, 4)
	assert.Equal(t, "Course B", records[0].Name)
	assert.Equal(t, len(script), client.calls)
}

// A rate-limit response on chunk 2 of 5 aborts the session without
// touching chunks 3-5, keeps chunk 1's records, and surfaces the hint.
func TestExtractDocumentRateLimitAborts(t *testing.T) {
	client := &seqClient{script: []func() (string, error){
		respond(`[{"name": "Course A"}]`),
		rateLimited(45 * time.Second),
	}}
	e := testExtractor(client)

	records, err := e.ExtractDocument(context.Background(), fiveChunkDoc(), "cat.txt")
	require.Error(t, err)
	assert.True(t, llm.IsRateLimit(err))

	var rl *llm.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 45*time.Second, rl.RetryAfter)

	// Partial results from chunk 1 are retained.
	require.Len(t, records, 1)
	assert.Equal(t, "Course A", records[0].Name)

	assert.Equal(t, 2, client.calls, "chunks 3-5 must not be attempted")
}

func TestExtractDocumentDedupesAcrossChunks(t *testing.T) {
	client := &seqClient{script: []func() (string, error){
		respond(`[{"name": "Algebra I", "category": "Math"}]`),
		respond(`[{"name": "ALGEBRA  I", "category": " math "}, {"name": "Geometry", "category": "Math"}]`),
		respond(`[]`),
		respond(`[]`),
		respond(`[]`),
	}}
	e := testExtractor(client)

	records, err := e.ExtractDocument(context.Background(), fiveChunkDoc(), "cat.txt")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Algebra I", records[0].Name, "first occurrence wins")
	assert.Equal(t, "Geometry", records[1].Name)
}
