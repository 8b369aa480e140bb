package keypool

import (
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/gemini-balance/common/helper"
	"github.com/Laisky/gemini-balance/common/logger"
	"github.com/Laisky/gemini-balance/common/metrics"
)

// Pool rotates upstream credentials round-robin, tracking consecutive
// failures per key. Keys whose failure count reaches the threshold are marked
// invalid and skipped until re-verified.
type Pool struct {
	mu          sync.Mutex
	keys        []string
	cursor      int
	failures    map[string]int
	valid       map[string]bool
	maxFailures int
}

// KeyStatus is a point-in-time view of one credential for status reporting.
// Key is already redacted.
type KeyStatus struct {
	Key      string `json:"key"`
	Valid    bool   `json:"valid"`
	Failures int    `json:"failure_count"`
}

// ErrNoKeysAvailable is returned when every credential is marked invalid.
var ErrNoKeysAvailable = errors.New("no valid upstream credentials available")

// NewPool builds a pool over the configured credentials. maxFailures <= 0
// disables automatic invalidation.
func NewPool(keys []string, maxFailures int) *Pool {
	p := &Pool{
		keys:        append([]string(nil), keys...),
		failures:    make(map[string]int, len(keys)),
		valid:       make(map[string]bool, len(keys)),
		maxFailures: maxFailures,
	}
	for _, key := range keys {
		p.valid[key] = true
	}
	return p
}

// GetNextWorkingKey returns the next valid credential in rotation order.
func (p *Pool) GetNextWorkingKey() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", errors.WithStack(ErrNoKeysAvailable)
	}

	for range p.keys {
		key := p.keys[p.cursor%len(p.keys)]
		p.cursor++
		if p.valid[key] {
			return key, nil
		}
	}
	return "", errors.WithStack(ErrNoKeysAvailable)
}

// HandleAPIFailure records one upstream failure for the key. Reaching the
// threshold invalidates the key until VerifyKey succeeds.
func (p *Pool) HandleAPIFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.valid[key]; !ok {
		return
	}

	p.failures[key]++
	metrics.GlobalRecorder.RecordKeyFailure(helper.RedactKey(key))

	if p.maxFailures > 0 && p.failures[key] >= p.maxFailures && p.valid[key] {
		p.valid[key] = false
		logger.Logger.Warn("credential disabled after consecutive failures",
			zap.String("key", helper.RedactKey(key)),
			zap.Int("failures", p.failures[key]))
	}
	p.updatePoolMetricsLocked()
}

// MarkSuccess resets the key's consecutive failure count.
func (p *Pool) MarkSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.valid[key]; !ok {
		return
	}
	p.failures[key] = 0
}

// Restore marks the key valid again and clears its failure count. Called
// after a verification call succeeds.
func (p *Pool) Restore(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.valid[key]; !ok {
		return
	}
	wasInvalid := !p.valid[key]
	p.valid[key] = true
	p.failures[key] = 0
	if wasInvalid {
		logger.Logger.Info("credential restored", zap.String("key", helper.RedactKey(key)))
	}
	p.updatePoolMetricsLocked()
}

// Keys returns all configured credentials in pool order.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// ValidCount returns how many credentials are currently usable.
func (p *Pool) ValidCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, key := range p.keys {
		if p.valid[key] {
			n++
		}
	}
	return n
}

// Snapshot reports the redacted status of every credential.
func (p *Pool) Snapshot() []KeyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]KeyStatus, 0, len(p.keys))
	for _, key := range p.keys {
		out = append(out, KeyStatus{
			Key:      helper.RedactKey(key),
			Valid:    p.valid[key],
			Failures: p.failures[key],
		})
	}
	return out
}

func (p *Pool) updatePoolMetricsLocked() {
	valid := 0
	for _, key := range p.keys {
		if p.valid[key] {
			valid++
		}
	}
	metrics.GlobalRecorder.UpdateKeyPoolState(valid, len(p.keys)-valid)
}
