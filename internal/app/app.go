package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hbjoroy/Weather-Service/internal/auth"
	"github.com/hbjoroy/Weather-Service/internal/config"
	"github.com/hbjoroy/Weather-Service/internal/database"
	"github.com/hbjoroy/Weather-Service/internal/handler"
	"github.com/hbjoroy/Weather-Service/internal/logger"
	"github.com/hbjoroy/Weather-Service/internal/metrics"
	"github.com/hbjoroy/Weather-Service/internal/middleware"
	"github.com/hbjoroy/Weather-Service/internal/profile"
	"github.com/hbjoroy/Weather-Service/internal/repository"
	"github.com/hbjoroy/Weather-Service/internal/security"
	"github.com/hbjoroy/Weather-Service/internal/weather"
	"github.com/hbjoroy/Weather-Service/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。未知のコマンドでは使用方法を出力してエラーを返す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		Usage(w)
		return err
	}
	if cmd == CommandHelp {
		Usage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3001"
		}
		return runHealthcheck(healthcheckHost(os.Getenv("BIND_ADDRESS")), port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("oidc_enabled", cfg.OIDCEnabled()),
		slog.Bool("database_enabled", cfg.DatabaseEnabled()),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// server は組み立て済みのHTTPハンドラーとバックグラウンドジョブを保持する。
type server struct {
	handler      http.Handler
	cleanupJob   *cleanup.CleanupJob
	rateLimiter  *middleware.RateLimiter
	loginLimiter *middleware.RateLimiter
	db           *sql.DB
}

// close はサーバーが保持するリソースを解放する。
func (s *server) close() {
	s.rateLimiter.Stop()
	s.loginLimiter.Stop()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// newServer は全依存関係をワイヤリングしてserverを構築する。
// DBやIdPに接続できない場合も起動は継続し、該当機能のみ無効になる。
func newServer(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (*server, error) {
	srv := &server{}

	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. プロファイルストア（DATABASE_URL未設定時は既定プロファイルのみ）
	var repo repository.ProfileRepository
	var healthDB handler.Pinger
	if cfg.DatabaseEnabled() {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		srv.db = db
		if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
			slog.Warn("database is not reachable, profile persistence is degraded",
				slog.String("error", err.Error()),
			)
		} else {
			slog.Info("database connection established")
		}
		profileRepo := repository.NewPostgresProfileRepo(db)
		repo = profileRepo
		healthDB = profileRepo
	} else {
		slog.Warn("DATABASE_URL is not set, profiles will not be persisted")
	}

	// 3. OIDCクライアント（未設定または初期化失敗時はOIDCログインを無効化）
	var provider auth.OIDCProvider
	var refresher auth.TokenRefresher
	if cfg.OIDCEnabled() {
		client, err := auth.NewOIDCClient(ctx, auth.OIDCConfig{
			Issuer:                cfg.OIDCIssuer,
			ClientID:              cfg.OIDCClientID,
			ClientSecret:          cfg.OIDCClientSecret,
			RedirectURI:           cfg.OIDCRedirectURI,
			PostLogoutRedirectURI: cfg.OIDCPostLogoutRedirectURI,
			Timeout:               cfg.OIDCTimeout,
		})
		if err != nil {
			slog.Error("failed to initialize oidc client, oidc login is disabled",
				slog.String("error", err.Error()),
			)
		} else {
			provider = client
			refresher = client
		}
	} else {
		slog.Warn("OIDC_ISSUER is not set, oidc login is disabled")
	}

	// 4. 進行中ログインとセッションのレジストリ
	pending := auth.NewPendingAuthRegistry(auth.PendingAuthConfig{
		Capacity: cfg.PendingAuthCapacity,
		TTL:      cfg.PendingAuthTTL,
	})
	sessions := auth.NewSessionStore(auth.SessionStoreConfig{
		Capacity:    cfg.SessionCapacity,
		TTL:         cfg.SessionTTL,
		TokenLeeway: auth.DefaultSessionStoreConfig().TokenLeeway,
	}, refresher)

	// 5. ドメインサービス
	profileService := profile.NewService(repo, sessions)
	authService := auth.NewService(provider, pending, sessions, profileService, collector, auth.ServiceConfig{
		PostLogoutRedirectURI: cfg.OIDCPostLogoutRedirectURI,
	})
	weatherClient := weather.NewClient(cfg.WeatherServiceURL, &http.Client{Timeout: cfg.WeatherTimeout}, collector)

	// 6. レート制限
	srv.rateLimiter = middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitWeather, cfg.RateLimitWindow),
		collector,
	)
	srv.loginLimiter = middleware.NewBurstLimiter(
		middleware.NewBurstLimiterConfig(cfg.RateLimitLogin, cfg.RateLimitWindow),
		collector,
	)

	// 7. 保持件数のゲージ
	collector.RegisterGauge("weather_dashboard_active_sessions", "保持中のセッション数", func() float64 {
		return float64(sessions.Len())
	})
	collector.RegisterGauge("weather_dashboard_pending_logins", "進行中のOIDCログイン数", func() float64 {
		return float64(pending.Len())
	})
	collector.RegisterGauge("weather_dashboard_rate_limiter_clients", "レート制限で追跡中のクライアント数", func() float64 {
		return float64(srv.rateLimiter.LimiterCount() + srv.loginLimiter.LimiterCount())
	})

	// 8. 期限切れエントリの掃除ジョブ
	srv.cleanupJob = cleanup.NewCleanupJob(slog.Default(),
		cleanup.Target{Name: "pending_auth", Registry: pending},
		cleanup.Target{Name: "sessions", Registry: sessions},
	)
	srv.cleanupJob.Interval = cfg.SweepInterval

	// 9. ルーターの構築
	authConfig := handler.DefaultAuthHandlerConfig()
	authConfig.CookieDomain = cfg.CookieDomain
	authConfig.CookieSecure = cfg.CookieSecure
	authConfig.SessionMaxAge = int(cfg.SessionTTL.Seconds())

	srv.handler = handler.NewRouter(&handler.RouterDeps{
		SessionResolver:       authService,
		RateLimiter:           srv.rateLimiter,
		LoginLimiter:          srv.loginLimiter,
		ContentSecurityPolicy: cfg.ContentSecurityPolicy,
		CORSEnabled:           cfg.CORSEnabled,
		CORSAllowedOrigin:     cfg.CORSAllowedOrigin,
		TrustProxyHeaders:     cfg.TrustProxyHeaders,
		Logger:                slog.Default(),
		Metrics:               collector,
		MetricsHandler:        metrics.Handler(reg),

		AuthService: authService,
		AuthConfig:  authConfig,

		ProfileService: profileService,
		Sanitizer:      security.NewTextSanitizer(),

		WeatherClient: weatherClient,

		StaticPath: cfg.StaticPath,
		HealthDB:   healthDB,
	})

	return srv, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーと掃除ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	srv, err := newServer(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer srv.close()

	go srv.cleanupJob.Start(ctx)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddress, cfg.ServerPort),
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 天気サービスの応答待ち（最大30秒）を含むため長めに取る
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
			slog.String("static_path", cfg.StaticPath),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if !cfg.DatabaseEnabled() {
		return errors.New("migration requires DATABASE_URL or DATABASE_HOST")
	}

	slog.Info("running database migrations",
		slog.String("database", database.DescribeTarget(cfg.DatabaseURL)),
	)

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(host, port string) error {
	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, port))
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckHost はヘルスチェックの接続先ホストを返す。
// 全インターフェースで待ち受けている場合はループバックに接続する。
func healthcheckHost(bindAddress string) string {
	switch bindAddress {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	default:
		return bindAddress
	}
}
