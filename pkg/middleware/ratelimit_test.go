package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2})
	limiter.now = func() time.Time { return now }

	allowed := 0
	for i := 0; i < 20; i++ {
		d, err := limiter.Allow(context.Background(), "client")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed)

	// 100ms refills one token at 10/s
	now = now.Add(100 * time.Millisecond)
	d, _ := limiter.Allow(context.Background(), "client")
	assert.True(t, d.Allowed)
	d, _ = limiter.Allow(context.Background(), "client")
	assert.False(t, d.Allowed)

	d, _ = limiter.Allow(context.Background(), "other")
	assert.True(t, d.Allowed)
	assert.Equal(t, 11, d.Remaining)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second})
	limiter.now = func() time.Time { return now }

	_, _ = limiter.Allow(context.Background(), "idle")
	now = now.Add(3 * time.Second)
	_, _ = limiter.Allow(context.Background(), "active")
	limiter.Cleanup()

	assert.Len(t, limiter.buckets, 1)
	assert.Contains(t, limiter.buckets, "active")
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "billing-sync:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := limiter.Allow(ctx, "billing-sync:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, mr.Exists("test:billing-sync:10.0.0.1"))

	mr.FastForward(time.Minute)
	d, err = limiter.Allow(ctx, "billing-sync:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, "billing-sync:10.0.0.1"))
	assert.False(t, mr.Exists("test:billing-sync:10.0.0.1"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	logger, _ := test.NewNullLogger()
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	h := RateLimit(limiter, RateLimitOptions{Logger: logger})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.254")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := call("/modules/billing-sync/invoices", "10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = call("/modules/billing-sync/sync", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Separate budgets per module and per client
	assert.Equal(t, http.StatusOK, call("/modules/crm/contacts", "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("/modules/billing-sync/invoices", "10.0.0.2").Code)
}

func TestRateLimitMiddleware_LimiterError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	RateLimit(failingLimiter{}, RateLimitOptions{Logger: logger})(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/modules/a/b", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, hook.AllEntries(), 1)

	rec = httptest.NewRecorder()
	RateLimit(failingLimiter{}, RateLimitOptions{Logger: logger, FailClosed: true})(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/modules/a/b", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(req))
}

func TestModuleSegment(t *testing.T) {
	assert.Equal(t, "billing-sync", moduleSegment("/modules/billing-sync/invoices"))
	assert.Equal(t, "billing-sync", moduleSegment("/modules/billing-sync"))
	assert.Equal(t, "host", moduleSegment("/api/v1/modules"))
}
