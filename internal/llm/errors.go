package llm

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError is the one failure the pipeline never absorbs: it is
// surfaced unchanged through every layer so the operator can wait or
// switch credentials. RetryAfter carries the service's suggested wait
// when one was provided (zero otherwise).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded (429), retry after %s", e.RetryAfter)
	}
	return "rate limit exceeded (429)"
}

// IsRateLimit reports whether err wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
