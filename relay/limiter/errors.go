package limiter

import (
	"fmt"
	"time"
)

// RateLimitError reports a denied reservation. RetryAfter is the time until
// the blocking window rolls over.
type RateLimitError struct {
	Scope      string // "model" or "key"
	Dimension  string // "tokens", "rpm", "tpm" or "rpd"
	Model      string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for model %s (%s/%s), retry after %.1fs",
		e.Model, e.Scope, e.Dimension, e.RetryAfter.Seconds())
}

// RequestTooLargeError reports an estimate that can never fit the model's
// window, so waiting would not help.
type RequestTooLargeError struct {
	Model     string
	Estimated int
	Limit     int
}

// Error implements the error interface.
func (e *RequestTooLargeError) Error() string {
	return fmt.Sprintf("request for model %s estimated at %d tokens exceeds the window limit of %d",
		e.Model, e.Estimated, e.Limit)
}
