package middleware

import (
  "fmt"
  "net/http"
  "time"

  "github.com/gin-gonic/gin"
  "github.com/redis/go-redis/v9"

  "github.com/siteinsight/siteinsight-backend/internal/logger"
)

type RateLimitMiddleware struct {
  log *logger.Logger
  rdb *redis.Client
}

func NewRateLimitMiddleware(log *logger.Logger, rdb *redis.Client) *RateLimitMiddleware {
  middlewareLogger := log.With("Middleware", "RateLimitMiddleware")
  return &RateLimitMiddleware{log: middlewareLogger, rdb: rdb}
}

// Limit enforces a fixed window of `limit` requests per client IP per route.
// Redis being down fails open: availability over throttling.
func (rl *RateLimitMiddleware) Limit(limit int, window time.Duration) gin.HandlerFunc {
  return func(c *gin.Context) {
    if rl.rdb == nil {
      c.Next()
      return
    }

    windowStart := time.Now().Unix() / int64(window.Seconds())
    key := fmt.Sprintf("ratelimit:%s:%s:%d", c.ClientIP(), c.FullPath(), windowStart)

    ctx := c.Request.Context()
    count, err := rl.rdb.Incr(ctx, key).Result()
    if err != nil {
      rl.log.Warn("Rate limit check failed, allowing request", "error", err)
      c.Next()
      return
    }
    if count == 1 {
      if err := rl.rdb.Expire(ctx, key, window).Err(); err != nil {
        rl.log.Debug("Rate limit window expire failed", "key", key, "error", err)
      }
    }

    if count > int64(limit) {
      c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
        "error": gin.H{
          "message": "too many requests",
          "code":    "rate_limited",
        },
      })
      return
    }
    c.Next()
  }
}
