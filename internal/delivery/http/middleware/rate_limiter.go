package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type window struct {
	count int
	start time.Time
}

// RateLimiter allows maxRequests per client IP in each fixed window.
// A non-positive maxRequests disables limiting.
func RateLimiter(maxRequests int, per time.Duration) gin.HandlerFunc {
	if maxRequests <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*window)
		swept   = time.Now()
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		// Drop idle clients at most once per window.
		if now.Sub(swept) > per {
			for k, w := range clients {
				if now.Sub(w.start) > per {
					delete(clients, k)
				}
			}
			swept = now
		}

		w, ok := clients[ip]
		if !ok || now.Sub(w.start) > per {
			w = &window{start: now}
			clients[ip] = w
		}
		if w.count >= maxRequests {
			retry := w.start.Add(per).Sub(now)
			mu.Unlock()
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s.", maxRequests, per),
			})
			return
		}
		w.count++
		mu.Unlock()

		c.Next()
	}
}
