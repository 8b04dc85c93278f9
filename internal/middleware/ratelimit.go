package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/educaition/station/internal/response"
)

// AttemptLimiter throttles sensitive endpoints per client IP. It exists
// mainly to slow down proctor PIN guessing on the override route: each
// client gets a fixed number of attempts per window.
type AttemptLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*windowState
}

type windowState struct {
	count      int
	windowFrom time.Time
}

// NewAttemptLimiter creates a limiter allowing limit requests per window
// per client IP. Stale clients are pruned in the background.
func NewAttemptLimiter(limit int, window time.Duration) *AttemptLimiter {
	l := &AttemptLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*windowState),
	}
	go l.prune()
	return l
}

// Middleware rejects requests over the limit with 429.
func (l *AttemptLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (l *AttemptLimiter) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.clients[ip]
	if !ok || now.Sub(st.windowFrom) >= l.window {
		l.clients[ip] = &windowState{count: 1, windowFrom: now}
		return true
	}
	if st.count >= l.limit {
		return false
	}
	st.count++
	return true
}

func (l *AttemptLimiter) prune() {
	for range time.Tick(10 * time.Minute) {
		cutoff := time.Now().Add(-2 * l.window)
		l.mu.Lock()
		for ip, st := range l.clients {
			if st.windowFrom.Before(cutoff) {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}
