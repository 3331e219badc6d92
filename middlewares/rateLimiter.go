package middlewares

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter is a fixed-window request counter per client IP shared through Redis.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	if rl.client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count == 1 {
		if err := rl.client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

// searchLimiterIdleTTL is how long an unused per-caller limiter is kept.
const searchLimiterIdleTTL = 10 * time.Minute

type searchLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SearchThrottle bounds member lookups per caller. It is the server-side counterpart of the
// client's input debounce: a burst of keystrokes is allowed, sustained polling is not.
// Limiters idle longer than idleTTL are swept so the map stays bounded by active callers.
type SearchThrottle struct {
	mu        sync.Mutex
	limiters  map[string]*searchLimiter
	every     time.Duration
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewSearchThrottle(every time.Duration, burst int) *SearchThrottle {
	if burst < 1 {
		burst = 1
	}
	return &SearchThrottle{
		limiters: map[string]*searchLimiter{},
		every:    every,
		burst:    burst,
		idleTTL:  searchLimiterIdleTTL,
		now:      time.Now,
	}
}

func (t *SearchThrottle) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if now.Sub(t.lastSweep) >= t.idleTTL {
		for k, l := range t.limiters {
			if now.Sub(l.lastSeen) >= t.idleTTL {
				delete(t.limiters, k)
			}
		}
		t.lastSweep = now
	}
	l, ok := t.limiters[key]
	if !ok {
		l = &searchLimiter{limiter: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// tracked is the number of callers currently holding a limiter.
func (t *SearchThrottle) tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

func (t *SearchThrottle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := utils.GetUsernameFromContext(c.Request.Context())
		if !ok || key == "" {
			key = c.ClientIP()
		}
		if !t.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many searches, slow down"})
			return
		}
		c.Next()
	}
}
