package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/helper"
	"github.com/Laisky/gemini-balance/common/logger"
	"github.com/Laisky/gemini-balance/relay/client"
	"github.com/Laisky/gemini-balance/relay/keypool"
	"github.com/Laisky/gemini-balance/relay/limiter"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// Shared relay state, built once at startup.
var (
	KeyPool      *keypool.Pool
	ModelLimiter *limiter.ModelRateLimiter
	KeyLimiter   *limiter.KeyRateLimiter
	Upstream     *client.GeminiClient
)

// Init wires the relay pipeline from configuration.
func Init() {
	KeyPool = keypool.NewPool(config.APIKeys, config.MaxFailures)
	ModelLimiter = limiter.NewModelRateLimiter(config.ModelTPMLimits)
	KeyLimiter = limiter.NewKeyRateLimiter(config.ModelKeyLimits)
	Upstream = client.NewGeminiClient()

	logger.Logger.Info("relay pipeline initialized",
		zap.Int("credentials", KeyPool.Size()),
		zap.Int("model_limits", len(config.ModelTPMLimits)),
		zap.Int("key_limits", len(config.ModelKeyLimits)))
}

// reservation tracks one booked attempt so every exit path settles it exactly
// once.
type reservation struct {
	model     string
	key       string
	estimated int
	settled   bool
}

// settleSuccess adjusts both limiters to actual usage and clears the key's
// failure count.
func (r *reservation) settleSuccess(actual int) {
	if r.settled {
		return
	}
	r.settled = true
	ModelLimiter.Adjust(r.model, r.estimated, actual)
	KeyLimiter.UpdateTokenUsage(r.model, r.key, r.estimated, actual)
	KeyPool.MarkSuccess(r.key)
}

// settleFailure returns the reservation. Quota-exhausted upstream errors keep
// the per-key booking since upstream counted the request anyway; the global
// window always gets its tokens back.
func (r *reservation) settleFailure(keepKeyReservation bool) {
	if r.settled {
		return
	}
	r.settled = true
	ModelLimiter.Adjust(r.model, r.estimated, 0)
	if !keepKeyReservation {
		KeyLimiter.Release(r.model, r.key, r.estimated)
	}
}

// selectKeyAndReserve rotates through the pool until a credential passes its
// per-key quota check, then books the global token window. Keys already tried
// by this request are skipped; the loop is bounded by the pool size.
//
// The per-key check runs before the global reservation so a rejected key never
// touches the shared window.
func selectKeyAndReserve(model string, estimated int, tried map[string]bool) (*reservation, *relaymodel.ErrorWithStatusCode) {
	var minRetryAfter time.Duration
	sawRateLimit := false

	for range KeyPool.Keys() {
		key, err := KeyPool.GetNextWorkingKey()
		if err != nil {
			return nil, relaymodel.ErrorWrapper(err, "no_keys_available", http.StatusServiceUnavailable)
		}
		if tried[key] {
			continue
		}
		tried[key] = true

		if err := KeyLimiter.CheckAndReserve(model, key, estimated); err != nil {
			var rle *limiter.RateLimitError
			if errors.As(err, &rle) {
				sawRateLimit = true
				if minRetryAfter == 0 || rle.RetryAfter < minRetryAfter {
					minRetryAfter = rle.RetryAfter
				}
				continue
			}
			return nil, relaymodel.ErrorWrapper(err, "key_limit_check_failed", http.StatusInternalServerError)
		}

		if err := ModelLimiter.Reserve(model, estimated); err != nil {
			KeyLimiter.Release(model, key, estimated)

			var tooLarge *limiter.RequestTooLargeError
			if errors.As(err, &tooLarge) {
				// No credential can serve a request bigger than the whole
				// window; trying more keys would not help.
				return nil, requestTooLargeError(tooLarge)
			}
			var rle *limiter.RateLimitError
			if errors.As(err, &rle) {
				// The global window is key independent, so rotation cannot
				// recover either.
				return nil, rateLimitError(rle)
			}
			return nil, relaymodel.ErrorWrapper(err, "model_limit_check_failed", http.StatusInternalServerError)
		}

		return &reservation{model: model, key: key, estimated: estimated}, nil
	}

	if sawRateLimit {
		return nil, rateLimitError(&limiter.RateLimitError{
			Scope: "key", Dimension: "rpm", Model: model, RetryAfter: minRetryAfter,
		})
	}
	return nil, relaymodel.ErrorWrapper(errors.WithStack(keypool.ErrNoKeysAvailable),
		"no_keys_available", http.StatusServiceUnavailable)
}

func rateLimitError(err *limiter.RateLimitError) *relaymodel.ErrorWithStatusCode {
	out := relaymodel.ErrorWrapper(err, "rate_limit_exceeded", http.StatusTooManyRequests)
	out.Error.Type = "rate_limit_error"
	out.RetryAfter = err.RetryAfter
	return out
}

// requestTooLargeError renders as 429 like any other budget rejection; the
// request can never fit the window, so the error code tells it apart.
func requestTooLargeError(err *limiter.RequestTooLargeError) *relaymodel.ErrorWithStatusCode {
	out := relaymodel.ErrorWrapper(err, "request_too_large", http.StatusTooManyRequests)
	out.Error.Type = "invalid_request_error"
	return out
}

// shouldRetry reports whether a fresh credential may succeed where this one
// failed. Only the configured retryable statuses rotate; a quota-exhausted 429
// or any other 4xx surfaces verbatim after one attempt.
func shouldRetry(errResp *relaymodel.ErrorWithStatusCode) bool {
	if errResp == nil || errResp.KeepReservation {
		return false
	}
	for _, code := range config.RetryableStatusCodes {
		if errResp.StatusCode == code {
			return true
		}
	}
	return false
}

// countsAsKeyFailure reports whether the error should advance the key's
// consecutive failure counter. Client-side mistakes do not.
func countsAsKeyFailure(errResp *relaymodel.ErrorWithStatusCode) bool {
	switch errResp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound,
		http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return false
	}
	return true
}

// retryAfterHeader renders a Retry-After value in whole seconds, at least 1.
func retryAfterHeader(d time.Duration) string {
	secs := int(d.Seconds() + 0.999)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func redacted(key string) string {
	return helper.RedactKey(key)
}
