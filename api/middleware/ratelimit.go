package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/apiary/config"
	"github.com/use-agent/apiary/models"
	"golang.org/x/time/rate"
)

// limiterStore keeps one token bucket per caller identity and evicts idle
// buckets on the configured schedule.
type limiterStore struct {
	cfg config.RateLimitConfig

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(cfg config.RateLimitConfig) *limiterStore {
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = time.Hour
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = 5 * time.Minute
	}
	s := &limiterStore{cfg: cfg, entries: make(map[string]*limiterEntry)}
	go s.evictLoop()
	return s
}

// allow reports whether identity may proceed, creating its bucket on first
// sight.
func (s *limiterStore) allow(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[identity]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst),
		}
		s.entries[identity] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (s *limiterStore) evictLoop() {
	ticker := time.NewTicker(s.cfg.EvictInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.evictIdle(time.Now().Add(-s.cfg.EvictAfter))
	}
}

func (s *limiterStore) evictIdle(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimit returns per-identity (API key or client IP) token-bucket rate
// limiting middleware. Limits and eviction schedule come from cfg.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	store := newLimiterStore(cfg)

	return func(c *gin.Context) {
		// API key identity is set by the auth middleware; unauthenticated
		// deployments fall back to the client IP.
		identity, exists := c.Get("api_key")
		if !exists {
			identity = c.ClientIP()
		}

		if !store.allow(identity.(string)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}

		c.Next()
	}
}
