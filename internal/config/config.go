package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database（空の場合はプロファイル永続化を無効にする）
	DatabaseURL string

	// OIDC（Issuerが空の場合はOIDCログインを無効にする）
	OIDCIssuer                string
	OIDCClientID              string
	OIDCClientSecret          string
	OIDCRedirectURI           string
	OIDCPostLogoutRedirectURI string
	OIDCTimeout               time.Duration

	// Session
	SessionTTL      time.Duration
	SessionCapacity int

	// Pending auth
	PendingAuthTTL      time.Duration
	PendingAuthCapacity int

	// Weather
	WeatherServiceURL string
	WeatherTimeout    time.Duration

	// Rate Limit
	RateLimitWeather  int
	RateLimitWindow   time.Duration
	RateLimitLogin    int
	TrustProxyHeaders bool

	// Sweeper
	SweepInterval time.Duration

	// Server
	ServerPort  string
	BindAddress string
	BaseURL     string
	StaticPath  string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSEnabled       bool
	CORSAllowedOrigin string

	// Content-Security-Policy（空ならデフォルトポリシー）
	ContentSecurityPolicy string

	// Logging
	LogLevel string
}

// OIDCEnabled はOIDCログインが設定済みかを返す。
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuer != ""
}

// DatabaseEnabled はプロファイル永続化が設定済みかを返す。
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseURL != ""
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = databaseURL()

	cfg.OIDCIssuer = strings.TrimRight(os.Getenv("OIDC_ISSUER"), "/")
	cfg.OIDCClientID = os.Getenv("OIDC_CLIENT_ID")
	cfg.OIDCClientSecret = os.Getenv("OIDC_CLIENT_SECRET")
	cfg.OIDCRedirectURI = os.Getenv("OIDC_REDIRECT_URI")
	cfg.OIDCPostLogoutRedirectURI = os.Getenv("OIDC_POST_LOGOUT_REDIRECT_URI")

	// OIDC_ISSUERを指定した場合のみ残りのOIDC設定を必須とする
	if cfg.OIDCIssuer != "" {
		var missing []string
		if cfg.OIDCClientID == "" {
			missing = append(missing, "OIDC_CLIENT_ID")
		}
		if cfg.OIDCClientSecret == "" {
			missing = append(missing, "OIDC_CLIENT_SECRET")
		}
		if cfg.OIDCRedirectURI == "" {
			missing = append(missing, "OIDC_REDIRECT_URI")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("required environment variables are not set: %v", missing)
		}
	}

	cfg.ServerPort = getEnvString("SERVER_PORT", "3001")
	if p, err := strconv.Atoi(cfg.ServerPort); err != nil || p <= 0 || p > 65535 {
		return nil, fmt.Errorf("invalid SERVER_PORT: %q", cfg.ServerPort)
	}

	// Optional fields with defaults
	cfg.OIDCTimeout = getEnvDuration("OIDC_TIMEOUT", 30*time.Second)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", time.Hour)
	cfg.SessionCapacity = getEnvInt("SESSION_CAPACITY", 100)
	cfg.PendingAuthTTL = getEnvDuration("PENDING_AUTH_TTL", 10*time.Minute)
	cfg.PendingAuthCapacity = getEnvInt("PENDING_AUTH_CAPACITY", 100)
	cfg.WeatherServiceURL = strings.TrimRight(getEnvString("WEATHER_SERVICE_URL", "http://localhost:8080"), "/")
	cfg.WeatherTimeout = getEnvDuration("WEATHER_TIMEOUT", 30*time.Second)
	cfg.RateLimitWeather = getEnvInt("RATE_LIMIT_WEATHER", 30)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 5*time.Minute)
	cfg.BindAddress = getEnvString("BIND_ADDRESS", "127.0.0.1")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", ""), "/")
	cfg.StaticPath = getEnvString("STATIC_PATH", "./static")
	cfg.CookieSecure = !strings.HasPrefix(cfg.BaseURL, "http://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSEnabled = getEnvBool("CORS_ENABLED", false)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.ContentSecurityPolicy = getEnvString("CONTENT_SECURITY_POLICY", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// databaseURL はDATABASE_URLを優先し、未設定の場合は個別の
// DATABASE_*変数からlibpqのキーワード/値形式の接続文字列を組み立てる。
func databaseURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	host := os.Getenv("DATABASE_HOST")
	if host == "" {
		return ""
	}
	parts := []string{
		"host=" + host,
		"port=" + getEnvString("DATABASE_PORT", "5432"),
		"dbname=" + getEnvString("DATABASE_NAME", "weather_service"),
		"user=" + getEnvString("DATABASE_USER", "weather_service"),
	}
	if pw := os.Getenv("DATABASE_PASSWORD"); pw != "" {
		parts = append(parts, "password="+quoteDSNValue(pw))
	}
	parts = append(parts, "sslmode="+getEnvString("DATABASE_SSLMODE", "disable"))
	return strings.Join(parts, " ")
}

// quoteDSNValue は空白や引用符を含む値をlibpqの規則でクォートする。
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
