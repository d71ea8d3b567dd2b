package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// fakeLimitStore models one counter key with Redis expiry semantics: the
// key vanishes when its TTL elapses and the next INCR recreates it at 1.
// Time moves only through advance.
type fakeLimitStore struct {
	mu        sync.Mutex
	now       time.Time
	count     int64
	expiresAt time.Time
	incrErr   error
}

func (s *fakeLimitStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *fakeLimitStore) Incr(_ context.Context, _ string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incrErr != nil {
		return redis.NewIntResult(0, s.incrErr)
	}
	if !s.expiresAt.IsZero() && !s.now.Before(s.expiresAt) {
		s.count = 0
		s.expiresAt = time.Time{}
	}
	s.count++
	return redis.NewIntResult(s.count, nil)
}

func (s *fakeLimitStore) Expire(_ context.Context, _ string, expiration time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = s.now.Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func (s *fakeLimitStore) TTL(_ context.Context, _ string) *redis.DurationCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiresAt.IsZero() {
		return redis.NewDurationResult(-2*time.Second, nil)
	}
	return redis.NewDurationResult(s.expiresAt.Sub(s.now), nil)
}

func newLimitedRouter(store *fakeLimitStore, limit int, window time.Duration) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ping",
		NewRateLimiter(RateLimiterConfig{RedisClient: store, Limit: limit, Window: window}),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	return r
}

func ping(r *gin.Engine) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	t.Run("requests under the limit pass", func(t *testing.T) {
		store := &fakeLimitStore{now: time.Now()}
		r := newLimitedRouter(store, 3, time.Second)

		for i := 0; i < 3; i++ {
			if w := ping(r); w.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
			}
		}
	})

	t.Run("requests over the limit are throttled", func(t *testing.T) {
		store := &fakeLimitStore{now: time.Now()}
		r := newLimitedRouter(store, 3, time.Second)

		for i := 0; i < 3; i++ {
			ping(r)
		}
		w := ping(r)
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", w.Code)
		}
		if w.Header().Get("X-RateLimit-Remaining") != "0" {
			t.Fatalf("unexpected remaining header %q", w.Header().Get("X-RateLimit-Remaining"))
		}
	})

	t.Run("counter resets with the window", func(t *testing.T) {
		store := &fakeLimitStore{now: time.Now()}
		r := newLimitedRouter(store, 3, time.Second)

		for i := 0; i < 3; i++ {
			ping(r)
		}
		store.advance(1100 * time.Millisecond)
		if w := ping(r); w.Code != http.StatusOK {
			t.Fatalf("fresh window throttled: %d", w.Code)
		}
	})

	// a client sending steadily below the limit must never be throttled:
	// the window expiry is set on the first increment only, so later hits
	// must not keep the counter alive past its window
	t.Run("steady traffic below the limit is never throttled", func(t *testing.T) {
		store := &fakeLimitStore{now: time.Now()}
		r := newLimitedRouter(store, 10, time.Second)

		for window := 0; window < 5; window++ {
			for i := 0; i < 5; i++ {
				if w := ping(r); w.Code != http.StatusOK {
					t.Fatalf("window %d request %d: expected 200, got %d", window, i+1, w.Code)
				}
				store.advance(200 * time.Millisecond)
			}
		}
	})

	t.Run("redis outage passes requests through", func(t *testing.T) {
		store := &fakeLimitStore{now: time.Now(), incrErr: errors.New("connection refused")}
		r := newLimitedRouter(store, 1, time.Second)

		for i := 0; i < 5; i++ {
			if w := ping(r); w.Code != http.StatusOK {
				t.Fatalf("request %d during outage: expected 200, got %d", i+1, w.Code)
			}
		}
	})
}
