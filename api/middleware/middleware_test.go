package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/apiary/config"
)

func newTestRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func doGet(r *gin.Engine, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_OpenWhenNoKeys(t *testing.T) {
	r := newTestRouter(Auth(nil))
	w := doGet(r, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_HeaderStyles(t *testing.T) {
	r := newTestRouter(Auth([]string{"secret"}))

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing key", nil, http.StatusUnauthorized},
		{"valid x-api-key", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"valid bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"wrong key", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"non-bearer authorization", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(r, tt.header)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRateLimit_BurstThenRejected(t *testing.T) {
	cfg := config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	r := newTestRouter(RateLimit(cfg))

	assert.Equal(t, http.StatusOK, doGet(r, nil).Code)
	assert.Equal(t, http.StatusOK, doGet(r, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, nil).Code)
}

func TestRateLimit_IdentitiesAreIndependent(t *testing.T) {
	store := newLimiterStore(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	require.True(t, store.allow("alice"))
	require.False(t, store.allow("alice"))
	assert.True(t, store.allow("bob"))
}

func TestLimiterStore_EvictsIdleEntries(t *testing.T) {
	store := newLimiterStore(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})

	store.allow("stale")
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	store.allow("fresh")

	store.evictIdle(cutoff)
	assert.Equal(t, 1, store.size())

	store.evictIdle(time.Now().Add(time.Second))
	assert.Equal(t, 0, store.size())
}

func TestNewLimiterStore_DefaultsEvictionSchedule(t *testing.T) {
	store := newLimiterStore(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	assert.Equal(t, time.Hour, store.cfg.EvictAfter)
	assert.Equal(t, 5*time.Minute, store.cfg.EvictInterval)
}
