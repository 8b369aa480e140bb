package controller

import (
	"net/http"
	"sync"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common/helper"
	relaycontroller "github.com/Laisky/gemini-balance/relay/controller"
)

// GetKeyStatus serves GET /api/keys: the redacted status of every credential.
func GetKeyStatus(c *gin.Context) {
	snapshot := relaycontroller.KeyPool.Snapshot()

	valid := 0
	for _, status := range snapshot {
		if status.Valid {
			valid++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   len(snapshot),
		"valid":   valid,
		"invalid": len(snapshot) - valid,
		"keys":    snapshot,
	})
}

// VerifyKeys serves POST /api/keys/verify: every credential is checked against
// upstream concurrently and keys that pass are restored into rotation.
func VerifyKeys(c *gin.Context) {
	lg := gmw.GetLogger(c)
	keys := relaycontroller.KeyPool.Keys()

	type verifyResult struct {
		Key   string `json:"key"`
		Valid bool   `json:"valid"`
		Error string `json:"error,omitempty"`
	}

	results := make([]verifyResult, len(keys))
	var wg sync.WaitGroup
	// Verification calls are cheap but still count upstream; bound concurrency.
	sem := make(chan struct{}, 8)

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := verifyResult{Key: helper.RedactKey(key)}
			if err := relaycontroller.Upstream.VerifyKey(c.Request.Context(), key); err != nil {
				result.Error = err.Error()
				relaycontroller.KeyPool.HandleAPIFailure(key)
				lg.Warn("credential verification failed",
					zap.String("key", result.Key), zap.Error(err))
			} else {
				result.Valid = true
				relaycontroller.KeyPool.Restore(key)
			}
			results[i] = result
		}(i, key)
	}
	wg.Wait()

	c.JSON(http.StatusOK, gin.H{"results": results})
}
