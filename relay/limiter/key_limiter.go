package limiter

import (
	"sync"
	"time"

	"github.com/Laisky/gemini-balance/common/config"
)

// KeyRateLimiter enforces per-credential RPM/TPM/RPD quotas per model. The
// check is strictly ordered RPM, TPM, RPD so callers get deterministic
// rejection reasons, and a successful check reserves all three dimensions
// atomically.
type KeyRateLimiter struct {
	mu     sync.Mutex
	limits map[string]config.KeyRateLimit
	usage  map[usageKey]*keyUsage

	now func() time.Time
}

type usageKey struct {
	model string
	key   string
}

type keyUsage struct {
	rpmCount       int
	rpmWindowStart time.Time
	tpmCount       int
	rpdCount       int
	rpdDay         string
}

// NewKeyRateLimiter builds a limiter over the configured per-model quotas.
// The "*" entry applies to models without an explicit one; models matching
// neither are not limited.
func NewKeyRateLimiter(limits map[string]config.KeyRateLimit) *KeyRateLimiter {
	return &KeyRateLimiter{
		limits: limits,
		usage:  make(map[usageKey]*keyUsage),
		now:    time.Now,
	}
}

func (l *KeyRateLimiter) limitFor(model string) (config.KeyRateLimit, bool) {
	if limit, ok := l.limits[model]; ok {
		return limit, true
	}
	limit, ok := l.limits["*"]
	return limit, ok
}

// rollWindows resets expired counters in place. The minute window covers RPM
// and TPM together; RPD resets on calendar date change.
func (l *KeyRateLimiter) rollWindows(u *keyUsage, now time.Time) {
	if now.Sub(u.rpmWindowStart) >= time.Minute {
		u.rpmCount = 0
		u.tpmCount = 0
		u.rpmWindowStart = now
	}
	if day := now.Format(time.DateOnly); day != u.rpdDay {
		u.rpdCount = 0
		u.rpdDay = day
	}
}

// CheckAndReserve verifies all quota dimensions for the (model, key) pair and,
// when every check passes, books one request and the estimated tokens. On
// rejection nothing is booked and a *RateLimitError describes the first
// dimension that failed.
func (l *KeyRateLimiter) CheckAndReserve(model, key string, estimated int) error {
	limit, ok := l.limitFor(model)
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	u := l.ensureUsage(model, key, now)
	l.rollWindows(u, now)

	minuteWait := u.rpmWindowStart.Add(time.Minute).Sub(now)
	if minuteWait < 0 {
		minuteWait = 0
	}

	if limit.RPM > 0 && u.rpmCount+1 > limit.RPM {
		return &RateLimitError{Scope: "key", Dimension: "rpm", Model: model, RetryAfter: minuteWait}
	}
	if limit.TPM > 0 && u.tpmCount+estimated > limit.TPM {
		return &RateLimitError{Scope: "key", Dimension: "tpm", Model: model, RetryAfter: minuteWait}
	}
	if limit.RPD > 0 && u.rpdCount+1 > limit.RPD {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		return &RateLimitError{Scope: "key", Dimension: "rpd", Model: model, RetryAfter: midnight.Sub(now)}
	}

	u.rpmCount++
	u.tpmCount += estimated
	u.rpdCount++
	return nil
}

// Release returns a reservation after a failed request: one request slot on
// both RPM and RPD and the estimated tokens on TPM, all clamped at zero.
// Quota-exhausted upstream failures must NOT be released; the upstream has
// counted the request even though it failed.
func (l *KeyRateLimiter) Release(model, key string, estimated int) {
	if _, ok := l.limitFor(model); !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.usage[usageKey{model: model, key: key}]
	if !ok {
		return
	}

	u.rpmCount = max(u.rpmCount-1, 0)
	u.tpmCount = max(u.tpmCount-estimated, 0)
	u.rpdCount = max(u.rpdCount-1, 0)
}

// UpdateTokenUsage settles the TPM reservation against actual usage after a
// successful request. Request counters stay booked.
func (l *KeyRateLimiter) UpdateTokenUsage(model, key string, estimated, actual int) {
	if _, ok := l.limitFor(model); !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.usage[usageKey{model: model, key: key}]
	if !ok {
		return
	}

	u.tpmCount = max(u.tpmCount+actual-estimated, 0)
}

// Snapshot reports current counters for one (model, key) pair, for status
// endpoints and tests.
func (l *KeyRateLimiter) Snapshot(model, key string) (rpm, tpm, rpd int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.usage[usageKey{model: model, key: key}]
	if !ok {
		return 0, 0, 0
	}
	return u.rpmCount, u.tpmCount, u.rpdCount
}

func (l *KeyRateLimiter) ensureUsage(model, key string, now time.Time) *keyUsage {
	k := usageKey{model: model, key: key}
	u, ok := l.usage[k]
	if !ok {
		u = &keyUsage{
			rpmWindowStart: now,
			rpdDay:         now.Format(time.DateOnly),
		}
		l.usage[k] = u
	}
	return u
}
