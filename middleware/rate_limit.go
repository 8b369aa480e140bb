package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/logger"
	"github.com/Laisky/gemini-balance/common/metrics"
)

// RDB is the shared redis client, nil when REDIS_CONN_STRING is not set.
var RDB *redis.Client

// InitRedis connects the inbound rate limiter to redis when configured.
func InitRedis() error {
	if config.RedisConnString == "" {
		return nil
	}
	opts, err := redis.ParseURL(config.RedisConnString)
	if err != nil {
		return errors.Wrap(err, "parse REDIS_CONN_STRING")
	}
	RDB = redis.NewClient(opts)
	logger.Logger.Info("inbound rate limiter backed by redis", zap.String("addr", opts.Addr))
	return nil
}

// GlobalAPIRateLimit caps requests per client IP: at most
// GLOBAL_API_RATE_LIMIT requests every GLOBAL_API_RATE_LIMIT_DURATION seconds.
// Backed by redis when configured so multiple instances share the budget,
// otherwise by an in-process counter.
func GlobalAPIRateLimit() gin.HandlerFunc {
	maxRequests := config.GlobalAPIRateLimitNum
	duration := time.Duration(config.GlobalAPIRateLimitDuration) * time.Second

	if RDB != nil {
		return redisRateLimiter(maxRequests, duration)
	}
	return memoryRateLimiter(maxRequests, duration)
}

func redisRateLimiter(maxRequests int, duration time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := fmt.Sprintf("rate_limit:global:%s", c.ClientIP())

		count, err := RDB.Incr(ctx, key).Result()
		if err != nil {
			// Redis trouble should not take the gateway down with it.
			gmw.GetLogger(c).Warn("redis rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			RDB.Expire(ctx, key, duration)
		}
		if count > int64(maxRequests) {
			rejectRateLimited(c)
			return
		}
		c.Next()
	}
}

func memoryRateLimiter(maxRequests int, duration time.Duration) gin.HandlerFunc {
	store := gocache.New(duration, duration)

	return func(c *gin.Context) {
		key := c.ClientIP()
		count, err := store.IncrementInt(key, 1)
		if err != nil {
			store.Set(key, 1, duration)
			count = 1
		}
		if count > maxRequests {
			rejectRateLimited(c)
			return
		}
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context) {
	metrics.GlobalRecorder.RecordRateLimitHit("inbound_global", c.ClientIP())
	c.Header("Retry-After", "1")
	AbortWithError(c, http.StatusTooManyRequests, errors.New("too many requests, slow down"))
}
