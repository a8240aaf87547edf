package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hbjoroy/Weather-Service/internal/metrics"
)

type countingMetrics struct {
	metrics.Nop
	rateLimited map[string]int
}

func (m *countingMetrics) RecordRateLimited(scope string) {
	if m.rateLimited == nil {
		m.rateLimited = map[string]int{}
	}
	m.rateLimited[scope]++
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// useClock はクリーンアップゴルーチンと競合しないようロック下で時計を差し替える。
func useClock(rl *RateLimiter, clock *fakeClock) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = clock.Now
}

func newRateLimitedHandler(rl *RateLimiter) (http.Handler, *int) {
	calls := 0
	h := rl.Middleware("weather")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	return h, &calls
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/weather/current?location=Paros", nil)
	req.RemoteAddr = remoteAddr
	return req
}

// TestRateLimitMiddleware_31stRequestRejected は60秒あたり30件を超えた31件目が429になることを検証する。
func TestRateLimitMiddleware_31stRequestRejected(t *testing.T) {
	m := &countingMetrics{}
	rl := NewRateLimiter(DefaultRateLimiterConfig(), m)
	defer rl.Stop()

	handler, calls := newRateLimitedHandler(rl)

	for i := 0; i < 30; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.7:5000"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7:5001"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("31st request: status = %d, want 429", w.Code)
	}
	if *calls != 30 {
		t.Errorf("handler calls = %d, want 30", *calls)
	}
	if m.rateLimited["weather"] != 1 {
		t.Errorf("rate limited metric = %d, want 1", m.rateLimited["weather"])
	}
}

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(1, time.Minute), nil)
	defer rl.Stop()

	handler, _ := newRateLimitedHandler(rl)
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.1:1234"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.1:1234"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if ra := w.Header().Get("Retry-After"); ra != "60" {
		t.Errorf("Retry-After = %q, want %q", ra, "60")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error.Code != http.StatusTooManyRequests || body.Error.Details != "RATE_LIMITED" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(2, time.Minute), nil)
	defer rl.Stop()

	handler, _ := newRateLimitedHandler(rl)

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1000"))
	}
	blocked := httptest.NewRecorder()
	handler.ServeHTTP(blocked, requestFrom("192.0.2.1:1000"))
	if blocked.Code != http.StatusTooManyRequests {
		t.Errorf("client A status = %d, want 429", blocked.Code)
	}

	other := httptest.NewRecorder()
	handler.ServeHTTP(other, requestFrom("192.0.2.2:1000"))
	if other.Code != http.StatusOK {
		t.Errorf("client B status = %d, want 200", other.Code)
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount() = %d, want 2", rl.LimiterCount())
	}
}

// TestRateLimitMiddleware_SpacedRequestsWithinWindowRejected は
// ウィンドウ内に分散した31件目も拒否され、最古の記録がウィンドウを外れると再び許可されることを検証する。
func TestRateLimitMiddleware_SpacedRequestsWithinWindowRejected(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(DefaultRateLimiterConfig(), nil)
	defer rl.Stop()
	useClock(rl, clock)

	handler, calls := newRateLimitedHandler(rl)
	start := clock.Now()

	for i := 0; i < 30; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.7:5000"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
		clock.Advance(1900 * time.Millisecond)
	}

	// 30件目の後は start+57s。最古の記録(start)はまだウィンドウ内
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7:5000"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("31st request at %v: status = %d, want 429", clock.Now().Sub(start), w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra != "3" {
		t.Errorf("Retry-After = %q, want %q", ra, "3")
	}

	clock.Set(start.Add(60 * time.Second))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7:5000"))
	if w.Code != http.StatusOK {
		t.Errorf("request after oldest left the window: status = %d, want 200", w.Code)
	}

	// start+1.9sの記録はまだ残っているので直後は拒否される
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7:5000"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("request with a full window: status = %d, want 429", w.Code)
	}
	if *calls != 31 {
		t.Errorf("handler calls = %d, want 31", *calls)
	}
}

func TestRateLimitMiddleware_RejectedRequestsAreNotCounted(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(NewRateLimiterConfig(2, time.Minute), nil)
	defer rl.Stop()
	useClock(rl, clock)

	start := clock.Now()
	rl.Allow("192.0.2.5")
	clock.Advance(10 * time.Second)
	rl.Allow("192.0.2.5")

	// 拒否され続けても最古の許可記録が外れた時点で許可される
	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		if rl.Allow("192.0.2.5") {
			t.Fatalf("request at %v should be rejected", clock.Now().Sub(start))
		}
	}
	clock.Set(start.Add(time.Minute))
	if !rl.Allow("192.0.2.5") {
		t.Error("request after the first hit expired should be allowed")
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := NewRateLimiterConfig(5, 20*time.Millisecond)
	cfg.CleanupInterval = 50 * time.Millisecond

	rl := NewRateLimiter(cfg, nil)
	defer rl.Stop()

	rl.Allow("192.0.2.10")
	if rl.LimiterCount() == 0 {
		t.Fatal("expected at least one limiter entry")
	}

	// TTLはウィンドウとCleanupIntervalの2倍の大きい方（100ms）
	time.Sleep(250 * time.Millisecond)

	if count := rl.LimiterCount(); count != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_CleanupKeepsEntriesInsideWindow(t *testing.T) {
	clock := newFakeClock()
	cfg := NewRateLimiterConfig(1, time.Hour)
	cfg.CleanupInterval = time.Minute
	rl := NewRateLimiter(cfg, nil)
	defer rl.Stop()
	useClock(rl, clock)

	rl.Allow("192.0.2.11")
	clock.Advance(30 * time.Minute)
	rl.cleanup()

	if rl.LimiterCount() != 1 {
		t.Fatalf("entry inside the window was removed")
	}
	if rl.Allow("192.0.2.11") {
		t.Error("client should still be limited after cleanup")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), nil)
	rl.Stop()
	rl.Stop()
}

func TestNewRateLimiterConfig(t *testing.T) {
	cfg := NewRateLimiterConfig(30, 60*time.Second)
	if cfg.Limit != 30 {
		t.Errorf("Limit = %d, want 30", cfg.Limit)
	}
	if cfg.Window != time.Minute {
		t.Errorf("Window = %v, want 1m", cfg.Window)
	}
	if cfg.CleanupInterval <= 0 {
		t.Errorf("CleanupInterval = %v, want positive", cfg.CleanupInterval)
	}

	fallback := NewRateLimiterConfig(0, 0)
	if fallback.Limit != 1 || fallback.Window != time.Minute {
		t.Errorf("fallback = %+v, want Limit 1 Window 1m", fallback)
	}
}

func TestNewBurstLimiterConfig(t *testing.T) {
	cfg := NewBurstLimiterConfig(10, time.Minute)
	if cfg.Burst != 10 {
		t.Errorf("Burst = %d, want 10", cfg.Burst)
	}
	if got := float64(cfg.Rate) * 60; got < 9.999 || got > 10.001 {
		t.Errorf("Rate*60 = %v, want 10", got)
	}

	fallback := NewBurstLimiterConfig(-1, 0)
	if fallback.Burst != 1 {
		t.Errorf("Burst = %d, want 1 for non-positive limit", fallback.Burst)
	}
}

// TestBurstLimiter_RefillsOverTime はトークンバケットが連続要求を抑え、補充後に再び許可することを検証する。
func TestBurstLimiter_RefillsOverTime(t *testing.T) {
	clock := newFakeClock()
	m := &countingMetrics{}
	rl := NewBurstLimiter(NewBurstLimiterConfig(2, time.Minute), m)
	defer rl.Stop()
	useClock(rl, clock)

	h := rl.Middleware("login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom("198.51.100.9:4000"))
		if w.Code != http.StatusFound {
			t.Fatalf("request %d: status = %d, want 302", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("198.51.100.9:4000"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if m.rateLimited["login"] != 1 {
		t.Errorf("rate limited metric = %d, want 1", m.rateLimited["login"])
	}

	// 30秒で1トークン補充される
	clock.Advance(31 * time.Second)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("198.51.100.9:4000"))
	if w.Code != http.StatusFound {
		t.Errorf("request after refill: status = %d, want 302", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.7:5000", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
