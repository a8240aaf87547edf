package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hbjoroy/Weather-Service/internal/metrics"
	"github.com/hbjoroy/Weather-Service/internal/model"
)

const defaultCleanupInterval = 5 * time.Minute

// RateLimiterConfig はスライディングウィンドウ方式のレート制限設定。
// 直近Window内の許可済みリクエストがLimit件に達したクライアントを拒否する。
type RateLimiterConfig struct {
	Limit           int           // ウィンドウあたりの上限
	Window          time.Duration // ウィンドウ幅
	CleanupInterval time.Duration // 未使用エントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 天気API: 30 req/60s/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(30, 60*time.Second)
}

// NewRateLimiterConfig はウィンドウあたりのリクエスト数から設定を生成する。
func NewRateLimiterConfig(limit int, window time.Duration) RateLimiterConfig {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return RateLimiterConfig{
		Limit:           limit,
		Window:          window,
		CleanupInterval: defaultCleanupInterval,
	}
}

// BurstLimiterConfig はトークンバケット方式の設定。
// 連打だけを抑え、平均レート以下の利用は妨げない経路に使用する。
type BurstLimiterConfig struct {
	Rate            rate.Limit // トークン補充レート（req/sec）
	Burst           int        // バケット容量
	CleanupInterval time.Duration
}

// NewBurstLimiterConfig はwindowあたりlimit件を補充し、limit件までの連続を許す設定を生成する。
func NewBurstLimiterConfig(limit int, window time.Duration) BurstLimiterConfig {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return BurstLimiterConfig{
		Rate:            rate.Limit(float64(limit) / window.Seconds()),
		Burst:           limit,
		CleanupInterval: defaultCleanupInterval,
	}
}

// admitter はクライアント1件分の許可判定。許可しない場合は再試行までの待ち時間を返す。
type admitter interface {
	admit(now time.Time) (bool, time.Duration)
}

// slidingWindow は直近の許可時刻を古い順に保持する。
type slidingWindow struct {
	limit  int
	window time.Duration
	hits   []time.Time
}

func (s *slidingWindow) admit(now time.Time) (bool, time.Duration) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.hits) && !s.hits[i].After(cutoff) {
		i++
	}
	s.hits = s.hits[i:]

	if len(s.hits) >= s.limit {
		return false, s.hits[0].Add(s.window).Sub(now)
	}
	s.hits = append(s.hits, now)
	return true, 0
}

// tokenBucket はx/time/rateのリミッターをadmitterとして扱う。
type tokenBucket struct {
	limiter *rate.Limiter
}

func (b *tokenBucket) admit(now time.Time) (bool, time.Duration) {
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// clientLimiter はクライアントごとの判定状態とアクセス時刻を保持する。
type clientLimiter struct {
	admitter   admitter
	lastAccess time.Time
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
type RateLimiter struct {
	newAdmitter     func() admitter
	idleTTL         time.Duration
	cleanupInterval time.Duration
	metrics         metrics.MetricsCollector
	now             func() time.Time

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter はスライディングウィンドウ方式のRateLimiterを生成する。
// バックグラウンドで未使用エントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, collector metrics.MetricsCollector) *RateLimiter {
	def := NewRateLimiterConfig(config.Limit, config.Window)
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	limit, window := def.Limit, def.Window

	// ウィンドウより長く放置されたエントリは履歴が空なので削除してよい
	ttl := config.CleanupInterval * 2
	if ttl < window {
		ttl = window
	}
	return newRateLimiter(func() admitter {
		return &slidingWindow{limit: limit, window: window, hits: make([]time.Time, 0, limit)}
	}, ttl, config.CleanupInterval, collector)
}

// NewBurstLimiter はトークンバケット方式のRateLimiterを生成する。
func NewBurstLimiter(config BurstLimiterConfig, collector metrics.MetricsCollector) *RateLimiter {
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	return newRateLimiter(func() admitter {
		return &tokenBucket{limiter: rate.NewLimiter(config.Rate, config.Burst)}
	}, config.CleanupInterval*2, config.CleanupInterval, collector)
}

func newRateLimiter(newAdmitter func() admitter, idleTTL, cleanupInterval time.Duration, collector metrics.MetricsCollector) *RateLimiter {
	if collector == nil {
		collector = metrics.Nop{}
	}
	rl := &RateLimiter{
		newAdmitter:     newAdmitter,
		idleTTL:         idleTTL,
		cleanupInterval: cleanupInterval,
		metrics:         collector,
		now:             time.Now,
		limiters:        make(map[string]*clientLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware はクライアントIPごとのレート制限ミドルウェアを返す。
// scopeはログとメトリクスのラベルに使用する。
// リバースプロキシ配下ではchiのRealIPミドルウェアより内側に配置する。
func (rl *RateLimiter) Middleware(scope string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ClientIP(r)

			ok, retryAfter := rl.admit(clientIP)
			if !ok {
				rl.metrics.RecordRateLimited(scope)
				slog.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("client_ip", clientIP),
					slog.String("limit_type", scope),
				)
				writeRateLimitResponse(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Allow は指定クライアントのリクエストを許可するかを判定する。許可した場合は1件として数える。
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.admit(key)
	return ok
}

// LimiterCount は現在管理されているクライアントのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) admit(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, exists := rl.limiters[key]
	if !exists {
		cl = &clientLimiter{admitter: rl.newAdmitter()}
		rl.limiters[key] = cl
	}
	cl.lastAccess = now
	return cl.admitter.admit(now)
}

// cleanupLoop はバックグラウンドで未使用エントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからidleTTLを超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}

// ClientIP はリクエスト元のIPアドレスを返す。
// RemoteAddrのホスト部を使用し、プロキシヘッダーの解釈はRealIPミドルウェアに任せる。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには次のリクエストが許可されるまでの秒数（切り上げ、最低1）を設定する。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteAPIError(w, model.NewRateLimitError())
}
