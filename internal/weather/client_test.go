package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// recordingMetrics は記録内容を保持するMetricsCollector。
type recordingMetrics struct {
	mu        sync.Mutex
	latencies []string
	failures  []string
}

func (m *recordingMetrics) RecordLogin(string)       {}
func (m *recordingMetrics) RecordTokenRefresh(bool)  {}
func (m *recordingMetrics) RecordRateLimited(string) {}
func (m *recordingMetrics) RecordHTTPStatus(int)     {}
func (m *recordingMetrics) RecordUpstreamLatency(endpoint string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, endpoint)
}
func (m *recordingMetrics) RecordUpstreamFailure(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, endpoint)
}

func TestClient_Current_BuildsQueryAndPassesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/current" {
			t.Errorf("path = %s, want /current", r.URL.Path)
		}
		if got := r.URL.Query().Get("location"); got != "New York" {
			t.Errorf("location = %q, want %q", got, "New York")
		}
		if got := r.URL.Query().Get("include_aqi"); got != "true" {
			t.Errorf("include_aqi = %q, want true", got)
		}
		if got := r.Header.Get("User-Agent"); got != "Weather-Dashboard/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"location":{"name":"New York"},"current":{"temp_c":21.5}}`))
	}))
	defer server.Close()

	m := &recordingMetrics{}
	c := NewClient(server.URL+"/", server.Client(), m)

	body, err := c.Current(context.Background(), "New York", true)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if string(body) != `{"location":{"name":"New York"},"current":{"temp_c":21.5}}` {
		t.Errorf("body = %s", body)
	}
	if len(m.latencies) != 1 || m.latencies[0] != "current" {
		t.Errorf("latencies = %v, want [current]", m.latencies)
	}
	if len(m.failures) != 0 {
		t.Errorf("failures = %v, want none", m.failures)
	}
}

func TestClient_Forecast_BuildsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast" {
			t.Errorf("path = %s, want /forecast", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{
			"location":       "Paros",
			"days":           "3",
			"include_aqi":    "false",
			"include_alerts": "true",
			"include_hourly": "true",
		}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("%s = %q, want %q", k, q.Get(k), v)
			}
		}
		w.Write([]byte(`{"forecast":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client(), nil)
	body, err := c.Forecast(context.Background(), ForecastRequest{
		Location:      "Paros",
		Days:          3,
		IncludeAlerts: true,
		IncludeHourly: true,
	})
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if string(body) != `{"forecast":[]}` {
		t.Errorf("body = %s", body)
	}
}

func TestClient_Forecast_RejectsDaysOutOfRange(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client(), nil)
	for _, days := range []int{0, 15, -1} {
		_, err := c.Forecast(context.Background(), ForecastRequest{Location: "Paros", Days: days})
		if !errors.Is(err, ErrInvalidDays) {
			t.Errorf("days=%d: error = %v, want ErrInvalidDays", days, err)
		}
	}
	if called {
		t.Error("upstream should not be called for invalid days")
	}
}

func TestClient_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := &recordingMetrics{}
	c := NewClient(server.URL, server.Client(), m)

	_, err := c.Current(context.Background(), "Paros", false)
	var statusErr *UpstreamStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *UpstreamStatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", statusErr.StatusCode)
	}
	if len(m.failures) != 1 || m.failures[0] != "current" {
		t.Errorf("failures = %v, want [current]", m.failures)
	}
}

func TestClient_TimeoutIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, &http.Client{Timeout: 50 * time.Millisecond}, nil)
	if _, err := c.Current(context.Background(), "Paros", false); err == nil {
		t.Error("Current() should fail on timeout")
	}
}

func TestClient_ConnectionRefusedIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	m := &recordingMetrics{}
	c := NewClient(addr, nil, m)
	if _, err := c.Current(context.Background(), "Paros", false); err == nil {
		t.Error("Current() should fail when upstream is down")
	}
	if len(m.failures) != 1 {
		t.Errorf("failures = %v, want 1 entry", m.failures)
	}
}
