package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/gemini-balance/common/config"
)

func newTestKeyLimiter(limits map[string]config.KeyRateLimit) (*KeyRateLimiter, *time.Time) {
	l := NewKeyRateLimiter(limits)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestKeyRateLimiterChecksInOrder(t *testing.T) {
	t.Parallel()

	l, _ := newTestKeyLimiter(map[string]config.KeyRateLimit{
		"gemini-2.5-pro": {RPM: 1, TPM: 100, RPD: 1},
	})

	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 50))

	// RPM trips before TPM and RPD even though all three are exhausted.
	err := l.CheckAndReserve("gemini-2.5-pro", "sk-a", 200)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, "key", rateErr.Scope)
	require.Equal(t, "rpm", rateErr.Dimension)

	// A rejected check books nothing.
	rpm, tpm, rpd := l.Snapshot("gemini-2.5-pro", "sk-a")
	require.Equal(t, 1, rpm)
	require.Equal(t, 50, tpm)
	require.Equal(t, 1, rpd)
}

func TestKeyRateLimiterTPMRejection(t *testing.T) {
	t.Parallel()

	l, _ := newTestKeyLimiter(map[string]config.KeyRateLimit{
		"gemini-2.5-pro": {RPM: 10, TPM: 100, RPD: 10},
	})

	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 80))

	err := l.CheckAndReserve("gemini-2.5-pro", "sk-a", 30)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, "tpm", rateErr.Dimension)
}

func TestKeyRateLimiterMinuteWindowRolls(t *testing.T) {
	t.Parallel()

	l, now := newTestKeyLimiter(map[string]config.KeyRateLimit{
		"gemini-2.5-pro": {RPM: 1, TPM: 100, RPD: 10},
	})

	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 100))
	require.Error(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 1))

	*now = now.Add(time.Minute)
	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 100))

	// RPD survives the minute roll.
	_, _, rpd := l.Snapshot("gemini-2.5-pro", "sk-a")
	require.Equal(t, 2, rpd)
}

func TestKeyRateLimiterRPDResetsAtMidnight(t *testing.T) {
	t.Parallel()

	l, now := newTestKeyLimiter(map[string]config.KeyRateLimit{
		"gemini-2.5-pro": {RPM: 100, TPM: 0, RPD: 1},
	})

	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 10))

	err := l.CheckAndReserve("gemini-2.5-pro", "sk-a", 10)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, "rpd", rateErr.Dimension)
	require.Equal(t, 12*time.Hour, rateErr.RetryAfter)

	*now = now.Add(24 * time.Hour)
	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 10))
}

func TestKeyRateLimiterReleaseClampsAtZero(t *testing.T) {
	t.Parallel()

	l, _ := newTestKeyLimiter(map[string]config.KeyRateLimit{
		"gemini-2.5-pro": {RPM: 10, TPM: 100, RPD: 10},
	})

	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 40))
	l.Release("gemini-2.5-pro", "sk-a", 40)
	l.Release("gemini-2.5-pro", "sk-a", 40)

	rpm, tpm, rpd := l.Snapshot("gemini-2.5-pro", "sk-a")
	require.Equal(t, 0, rpm)
	require.Equal(t, 0, tpm)
	require.Equal(t, 0, rpd)
}

func TestKeyRateLimiterUpdateTokenUsageKeepsRequestCounters(t *testing.T) {
	t.Parallel()

	l, _ := newTestKeyLimiter(map[string]config.KeyRateLimit{
		"gemini-2.5-pro": {RPM: 10, TPM: 100, RPD: 10},
	})

	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 40))
	l.UpdateTokenUsage("gemini-2.5-pro", "sk-a", 40, 15)

	rpm, tpm, rpd := l.Snapshot("gemini-2.5-pro", "sk-a")
	require.Equal(t, 1, rpm)
	require.Equal(t, 15, tpm)
	require.Equal(t, 1, rpd)
}

func TestKeyRateLimiterWildcardAndIsolation(t *testing.T) {
	t.Parallel()

	l, _ := newTestKeyLimiter(map[string]config.KeyRateLimit{
		"*": {RPM: 1},
	})

	// Wildcard applies to any model, independently per credential.
	require.NoError(t, l.CheckAndReserve("gemini-2.0-flash", "sk-a", 10))
	require.Error(t, l.CheckAndReserve("gemini-2.0-flash", "sk-a", 10))
	require.NoError(t, l.CheckAndReserve("gemini-2.0-flash", "sk-b", 10))
	require.NoError(t, l.CheckAndReserve("gemini-2.5-pro", "sk-a", 10))
}

func TestKeyRateLimiterUnlimitedWhenUnconfigured(t *testing.T) {
	t.Parallel()

	l, _ := newTestKeyLimiter(map[string]config.KeyRateLimit{
		"gemini-2.5-pro": {RPM: 1},
	})

	for range 100 {
		require.NoError(t, l.CheckAndReserve("gemini-2.0-flash", "sk-a", 1<<20))
	}
}
