package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/general/messages", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BasicFunctionality(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	defer rl.Stop()
	handler := rl.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.1:1234").Code)
	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.1:1234").Code)

	w := serve(handler, "192.168.1.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Rate limit exceeded","code":"rate_limited","retryable":true}`, w.Body.String())
}

func TestRateLimiter_PerIPLimiting(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()
	handler := rl.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.1:1234").Code)
	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.2:1234").Code, "other IPs have their own bucket")
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "192.168.1.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "192.168.1.2:1234").Code)
}

func TestRateLimiter_PortsShareBucket(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()
	handler := rl.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.1:5001").Code)
}

func TestRateLimiter_RetryAfterRoundsUp(t *testing.T) {
	rl := NewRateLimiter(0.25, 1)
	defer rl.Stop()

	assert.Equal(t, 4, rl.retryAfterSeconds())
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.168.1.1:1234", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.7", "10.0.0.7"},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			assert.Equal(t, tt.want, clientKey(req))
		})
	}
}

func TestRateLimiter_CleanupRemovesIdle(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	defer rl.Stop()

	for i := range 100 {
		require.NotNil(t, rl.getLimiter(fmt.Sprintf("192.168.1.%d", i)))
	}

	rl.mu.Lock()
	require.Len(t, rl.limiters, 100)
	old := time.Now().Add(-2 * limiterTTL)
	for _, entry := range rl.limiters {
		entry.lastAccess = old
	}
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.limiters)
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	defer rl.Stop()

	base := time.Now().Add(-time.Minute)
	rl.mu.Lock()
	for i := range maxLimiters + 10 {
		rl.limiters[fmt.Sprintf("10.%d", i)] = &limiterEntry{
			lastAccess: base.Add(time.Duration(i) * time.Millisecond),
		}
	}
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Len(t, rl.limiters, maxLimiters/2)
	assert.Contains(t, rl.limiters, fmt.Sprintf("10.%d", maxLimiters+9), "newest entry should survive")
	assert.NotContains(t, rl.limiters, "10.0", "oldest entry should be evicted")
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(1000, 1000)
	defer rl.Stop()
	handler := rl.Middleware()(okHandler())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				serve(handler, fmt.Sprintf("172.16.0.%d:1000", i%5))
			}
		}()
	}
	wg.Wait()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Len(t, rl.limiters, 5)
}

func TestRateLimiter_LastAccessUpdate(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	defer rl.Stop()

	_ = rl.getLimiter("192.168.1.1")
	rl.mu.RLock()
	first := rl.limiters["192.168.1.1"].lastAccess
	rl.mu.RUnlock()

	time.Sleep(10 * time.Millisecond)
	_ = rl.getLimiter("192.168.1.1")

	rl.mu.RLock()
	second := rl.limiters["192.168.1.1"].lastAccess
	rl.mu.RUnlock()

	assert.True(t, second.After(first), "lastAccess should move forward on reuse")
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.cleanupLoop(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not exit on context cancellation")
	}

	rl.Stop()
	rl.Stop()
}
