package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// Idle limiters are dropped after TTL.
	TTL     time.Duration
	MaxKeys int
}

// RateLimit applies a token bucket per authenticated account, falling back
// to the client IP for anonymous requests.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = 10000
	}

	limiters := expirable.NewLRU[string, *rate.Limiter](config.MaxKeys, nil, config.TTL)
	every := time.Minute / time.Duration(config.RequestsPerMinute)

	limiterFor := func(key string) *rate.Limiter {
		limiter, ok := limiters.Get(key)
		if !ok {
			limiter = rate.NewLimiter(rate.Every(every), config.Burst)
			limiters.Add(key, limiter)
		}
		return limiter
	}

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if account, ok := Caller(c); ok {
			key = "account:" + string(account)
		}

		reservation := limiterFor(key).Reserve()
		if !reservation.OK() || reservation.Delay() > 0 {
			retryAfter := 60
			if reservation.OK() {
				retryAfter = int(math.Ceil(reservation.Delay().Seconds()))
				reservation.Cancel()
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Burst))
		c.Next()
	}
}
