package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SlidingWindow is a per-identity sliding window rate limiter. Unlike a
// fixed-bucket counter the window advances continuously, so a client cannot
// burst across a bucket boundary. Only admitted attempts are recorded; a
// denied request does not extend the penalty.
//
// State is process-lifetime only: it resets on restart, which is accepted
// since it exists to bound abuse within a running process.
type SlidingWindow struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	admitted map[string][]time.Time
	now      func() time.Time
}

// WindowStats is a read-only snapshot of limiter activity.
type WindowStats struct {
	ActiveClients  int `json:"active_clients"`
	RecentRequests int `json:"recent_requests"`
	MaxPerWindow   int `json:"max_requests_per_window"`
	WindowSeconds  int `json:"time_window_seconds"`
}

// NewSlidingWindow creates a limiter admitting max requests per identity
// within the given window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:      max,
		window:   window,
		admitted: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Admit checks and records one attempt for the identity. It returns true if
// the request is allowed, otherwise false and how long the client should
// wait before the oldest admitted attempt leaves the window.
func (l *SlidingWindow) Admit(identity string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	times := l.prune(identity, now)

	if len(times) >= l.max {
		retryAfter := times[0].Add(l.window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	l.admitted[identity] = append(times, now)
	return true, 0
}

// Reset clears the recorded window for one identity.
func (l *SlidingWindow) Reset(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.admitted, identity)
}

// Stats returns aggregate limiter activity across all identities.
func (l *SlidingWindow) Stats() WindowStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stats := WindowStats{
		MaxPerWindow:  l.max,
		WindowSeconds: int(l.window / time.Second),
	}
	for identity := range l.admitted {
		times := l.prune(identity, now)
		if len(times) > 0 {
			stats.ActiveClients++
			stats.RecentRequests += len(times)
		}
	}
	return stats
}

// prune drops timestamps older than the window. Must be called with the
// lock held. Entries that empty out are removed from the map.
func (l *SlidingWindow) prune(identity string, now time.Time) []time.Time {
	times := l.admitted[identity]
	cut := 0
	for cut < len(times) && now.Sub(times[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		times = times[cut:]
		if len(times) == 0 {
			delete(l.admitted, identity)
			return nil
		}
		l.admitted[identity] = times
	}
	return times
}

// RateLimit middleware gates requests through the sliding window, keyed by
// client IP. Denied requests get 429 with a Retry-After hint.
func RateLimit(limiter *SlidingWindow) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		allowed, retryAfter := limiter.Admit(clientIP)
		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}

			slog.Warn("rate limit exceeded",
				"client_ip", clientIP,
				"retry_after_s", seconds,
				"request_id", GetRequestID(c),
			)

			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded. Please try again later.",
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}
