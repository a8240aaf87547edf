package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hbjoroy/Weather-Service/internal/model"
	"github.com/hbjoroy/Weather-Service/internal/weather"
)

// WeatherClientInterface は天気ハンドラーが必要とするクライアントインターフェース。
type WeatherClientInterface interface {
	Current(ctx context.Context, location string, includeAQI bool) ([]byte, error)
	Forecast(ctx context.Context, req weather.ForecastRequest) ([]byte, error)
}

// WeatherHandler は天気サービスへのプロキシハンドラー。
type WeatherHandler struct {
	client WeatherClientInterface
}

// NewWeatherHandler はWeatherHandlerを生成する。
func NewWeatherHandler(client WeatherClientInterface) *WeatherHandler {
	return &WeatherHandler{client: client}
}

// Current は現在の天気を返す。
// GET /api/weather/current?location=xxx&include_aqi=true
func (h *WeatherHandler) Current(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location := q.Get("location")
	if location == "" {
		writeAPIErrorResponse(w, model.NewMissingParameterError("location"))
		return
	}

	body, err := h.client.Current(r.Context(), location, queryFlag(q.Get("include_aqi")))
	if err != nil {
		writeAPIErrorResponse(w, model.NewUpstreamError("weather data"))
		return
	}

	writeRawJSON(w, r, body)
}

// Forecast は天気予報を返す。
// GET /api/weather/forecast?location=xxx&days=3&include_aqi=&include_alerts=&include_hourly=
func (h *WeatherHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location := q.Get("location")
	if location == "" {
		writeAPIErrorResponse(w, model.NewMissingParameterError("location"))
		return
	}
	rawDays := q.Get("days")
	if rawDays == "" {
		writeAPIErrorResponse(w, model.NewMissingParameterError("days"))
		return
	}
	days, err := strconv.Atoi(rawDays)
	if err != nil || days < weather.MinForecastDays || days > weather.MaxForecastDays {
		writeAPIErrorResponse(w, model.NewInvalidDaysError())
		return
	}

	body, err := h.client.Forecast(r.Context(), weather.ForecastRequest{
		Location:      location,
		Days:          days,
		IncludeAQI:    queryFlag(q.Get("include_aqi")),
		IncludeAlerts: queryFlag(q.Get("include_alerts")),
		IncludeHourly: queryFlag(q.Get("include_hourly")),
	})
	if err != nil {
		writeAPIErrorResponse(w, model.NewUpstreamError("forecast data"))
		return
	}

	writeRawJSON(w, r, body)
}

// queryFlag はクエリパラメータが"true"の場合のみtrueを返す。
func queryFlag(v string) bool {
	return v == "true"
}
