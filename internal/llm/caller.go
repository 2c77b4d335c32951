package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mode selects the target of an external call.
type Mode string

const (
	ModeExtract Mode = "extract"
	ModeMap     Mode = "map"
)

// CallerConfig tunes the resilient call policy.
type CallerConfig struct {
	// Timeout is the hard wall clock per attempt.
	Timeout time.Duration
	// MaxAttempts bounds total tries per chunk (transient failures only).
	MaxAttempts int
	// BackoffBase is the first retry delay; each retry doubles it.
	BackoffBase time.Duration
	// BackoffMax caps the doubled delay.
	BackoffMax time.Duration
}

// DefaultCallerConfig returns the standard policy.
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		Timeout:     45 * time.Second,
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  8 * time.Second,
	}
}

// ResilientCaller executes one external call per chunk with timeout,
// bounded retry, and rate-limit awareness.
//
// Failure policy (deliberate, per component contract):
//   - transient failures and timeouts: retried with exponential backoff,
//     then swallowed into an empty result so one bad chunk never aborts
//     the document;
//   - rate limit: never retried, *RateLimitError propagates to the caller;
//   - malformed response body: zero records for the chunk, logged,
//     processing continues.
type ResilientCaller struct {
	client Client
	cfg    CallerConfig
	reqLog *RequestLog
	logger *zap.Logger
}

// NewResilientCaller wires a provider client with the retry policy.
// reqLog may be nil when call history is not wanted.
func NewResilientCaller(client Client, cfg CallerConfig, reqLog *RequestLog, logger *zap.Logger) *ResilientCaller {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultCallerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientCaller{client: client, cfg: cfg, reqLog: reqLog, logger: logger}
}

// Call executes one chunk-level call and parses the response into
// structured records. A nil slice with nil error means the chunk yielded
// nothing (failure absorbed or genuinely empty).
func (c *ResilientCaller) Call(ctx context.Context, mode Mode, systemPrompt, userPrompt string) ([]map[string]any, error) {
	start := time.Now()
	entry := RequestEntry{Time: start, Mode: mode, PromptChars: len(userPrompt)}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		entry.Attempts = attempt

		if attempt > 1 {
			if err := c.backoff(ctx, attempt); err != nil {
				entry.Status = "canceled"
				c.record(entry, start)
				return nil, err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		response, err := c.client.CompleteWithSystem(attemptCtx, systemPrompt, userPrompt)
		cancel()

		if err == nil {
			records, ok := decodeRecords(response)
			if !ok {
				c.logger.Warn("malformed response body, treating chunk as empty",
					zap.String("mode", string(mode)),
					zap.Int("response_chars", len(response)))
				entry.Status = "malformed"
				c.record(entry, start)
				return nil, nil
			}
			if len(records) == 0 {
				entry.Status = "empty"
			} else {
				entry.Status = "ok"
			}
			c.record(entry, start)
			return records, nil
		}

		if IsRateLimit(err) {
			// Never blindly retried: the operator decides whether to
			// wait or switch credentials.
			entry.Status = "rate_limited"
			c.record(entry, start)
			return nil, err
		}
		if ctx.Err() != nil {
			entry.Status = "canceled"
			c.record(entry, start)
			return nil, ctx.Err()
		}

		lastErr = err
		c.logger.Warn("external call failed",
			zap.String("mode", string(mode)),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	// Retries exhausted: absorb into an empty chunk result.
	c.logger.Warn("retries exhausted, returning empty chunk result",
		zap.String("mode", string(mode)),
		zap.Int("attempts", c.cfg.MaxAttempts),
		zap.Error(lastErr))
	entry.Status = "exhausted"
	c.record(entry, start)
	return nil, nil
}

func (c *ResilientCaller) record(entry RequestEntry, start time.Time) {
	if c.reqLog == nil {
		return
	}
	entry.Duration = time.Since(start)
	c.reqLog.Append(entry)
}

// backoff sleeps the exponential delay for the given attempt, honoring
// context cancellation.
func (c *ResilientCaller) backoff(ctx context.Context, attempt int) error {
	delay := c.cfg.BackoffBase << uint(attempt-2)
	if c.cfg.BackoffMax > 0 && delay > c.cfg.BackoffMax {
		delay = c.cfg.BackoffMax
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// decodeRecords parses an LLM response into a list of key-value records.
// Responses may be wrapped in markdown fences or an envelope object; a
// body with no parseable array is reported as malformed (ok=false).
func decodeRecords(response string) ([]map[string]any, bool) {
	if jsonStr := ExtractJSONArray(response); jsonStr != "" {
		var records []map[string]any
		if err := json.Unmarshal([]byte(jsonStr), &records); err == nil {
			return records, true
		}
	}

	// Some providers wrap the array in an object envelope. This path also
	// recovers envelopes whose leading string fields contain brackets,
	// where the array scan above latches onto the wrong "[".
	if obj := extractJSONObject(response); obj != "" {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal([]byte(obj), &envelope); err == nil {
			for _, key := range []string{"courses", "records", "mappings", "results"} {
				if raw, found := envelope[key]; found {
					var records []map[string]any
					if err := json.Unmarshal(raw, &records); err == nil {
						return records, true
					}
				}
			}
		}
	}
	return nil, false
}

// ExtractJSONArray finds the first balanced JSON array in a response,
// skipping markdown wrappers and surrounding prose.
func ExtractJSONArray(response string) string {
	start := strings.Index(response, "[")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

// extractJSONObject finds the first balanced JSON object in a response.
func extractJSONObject(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
