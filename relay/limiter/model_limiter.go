package limiter

import (
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/logger"
)

// ModelRateLimiter enforces a global token budget per model over a fixed
// window, shared by all credentials. Reservations are made optimistically
// from the pre-flight estimate and settled against actual usage afterwards.
type ModelRateLimiter struct {
	mu     sync.Mutex
	limits map[string]config.TokenWindowLimit
	states map[string]*modelWindow

	// now is swappable for tests.
	now func() time.Time
}

type modelWindow struct {
	windowStart time.Time
	tokenCount  int
}

// NewModelRateLimiter builds a limiter over the configured per-model limits.
// Models without an entry are not limited.
func NewModelRateLimiter(limits map[string]config.TokenWindowLimit) *ModelRateLimiter {
	return &ModelRateLimiter{
		limits: limits,
		states: make(map[string]*modelWindow),
		now:    time.Now,
	}
}

// Reserve books estimated tokens against the model's current window.
// It returns nil on success, *RequestTooLargeError when the estimate exceeds
// the whole window budget, or *RateLimitError when the window is full.
func (l *ModelRateLimiter) Reserve(model string, estimated int) error {
	limit, ok := l.limits[model]
	if !ok || limit.Limit <= 0 {
		return nil
	}

	// A request larger than the full budget can never succeed; fail fast
	// before touching the window so retries do not burn other keys.
	if estimated > limit.Limit {
		return &RequestTooLargeError{Model: model, Estimated: estimated, Limit: limit.Limit}
	}

	window := time.Duration(limit.WindowSeconds) * time.Second

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[model]
	now := l.now()
	if !ok {
		state = &modelWindow{windowStart: now}
		l.states[model] = state
	}

	if now.Sub(state.windowStart) >= window {
		state.windowStart = now
		state.tokenCount = 0
	}

	if state.tokenCount+estimated > limit.Limit {
		retryAfter := state.windowStart.Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &RateLimitError{
			Scope:      "model",
			Dimension:  "tokens",
			Model:      model,
			RetryAfter: retryAfter,
		}
	}

	state.tokenCount += estimated
	return nil
}

// Adjust settles a reservation once actual usage is known. A failed request
// settles with actual == 0, returning the whole reservation to the window.
// The counter never goes below zero.
func (l *ModelRateLimiter) Adjust(model string, estimated, actual int) {
	if _, ok := l.limits[model]; !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[model]
	if !ok {
		return
	}

	state.tokenCount += actual - estimated
	if state.tokenCount < 0 {
		state.tokenCount = 0
	}

	if actual > estimated {
		logger.Logger.Debug("token estimate undershot actual usage",
			zap.String("model", model),
			zap.Int("estimated", estimated),
			zap.Int("actual", actual))
	}
}

// Usage returns the tokens currently booked in the model's window, for status
// reporting and tests.
func (l *ModelRateLimiter) Usage(model string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.states[model]; ok {
		return state.tokenCount
	}
	return 0
}
