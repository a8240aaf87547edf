// Package weather は天気マイクロサービスへのプロキシクライアントを提供する。
// レスポンスボディは解釈せずにそのまま呼び出し元へ返す。
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hbjoroy/Weather-Service/internal/metrics"
)

const (
	// DefaultTimeout は天気サービス呼び出しのタイムアウト。
	DefaultTimeout = 30 * time.Second
	// userAgent は天気サービスへ送るUser-Agent。
	userAgent = "Weather-Dashboard/1.0"
	// maxResponseSize はレスポンスボディの上限（4MB）。
	maxResponseSize = 4 << 20

	// MinForecastDays と MaxForecastDays は予報日数の範囲。
	MinForecastDays = 1
	MaxForecastDays = 14

	endpointCurrent  = "current"
	endpointForecast = "forecast"
)

// ErrInvalidDays は予報日数が範囲外の場合に返る。
var ErrInvalidDays = errors.New("weather: days must be between 1 and 14")

// UpstreamStatusError は天気サービスが200以外を返したことを表す。
type UpstreamStatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("weather: %s returned status %d", e.Endpoint, e.StatusCode)
}

// ForecastRequest は予報取得のパラメータ。
type ForecastRequest struct {
	Location      string
	Days          int
	IncludeAQI    bool
	IncludeAlerts bool
	IncludeHourly bool
}

// Client は天気マイクロサービスのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    metrics.MetricsCollector
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientがnilの場合はDefaultTimeoutのクライアントを使用する。
func NewClient(baseURL string, httpClient *http.Client, collector metrics.MetricsCollector) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		metrics:    collector,
	}
}

// Current は現在の天気を取得する。
func (c *Client) Current(ctx context.Context, location string, includeAQI bool) ([]byte, error) {
	q := url.Values{}
	q.Set("location", location)
	q.Set("include_aqi", strconv.FormatBool(includeAQI))
	return c.get(ctx, endpointCurrent, q)
}

// Forecast は天気予報を取得する。
func (c *Client) Forecast(ctx context.Context, req ForecastRequest) ([]byte, error) {
	if req.Days < MinForecastDays || req.Days > MaxForecastDays {
		return nil, ErrInvalidDays
	}

	q := url.Values{}
	q.Set("location", req.Location)
	q.Set("days", strconv.Itoa(req.Days))
	q.Set("include_aqi", strconv.FormatBool(req.IncludeAQI))
	q.Set("include_alerts", strconv.FormatBool(req.IncludeAlerts))
	q.Set("include_hourly", strconv.FormatBool(req.IncludeHourly))
	return c.get(ctx, endpointForecast, q)
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	reqURL := c.baseURL + "/" + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("weather: failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordUpstreamLatency(endpoint, time.Since(start))
	if err != nil {
		c.metrics.RecordUpstreamFailure(endpoint)
		slog.ErrorContext(ctx, "weather service request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("weather: %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordUpstreamFailure(endpoint)
		slog.ErrorContext(ctx, "weather service returned error status",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &UpstreamStatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.RecordUpstreamFailure(endpoint)
		return nil, fmt.Errorf("weather: failed to read %s response: %w", endpoint, err)
	}

	return body, nil
}
