package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthPingTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthPingTimeout = 2 * time.Second

// Pinger はストアの疎通を確認する。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler はサービスの稼働状態を返す。
type HealthHandler struct {
	db Pinger // nilの場合はDB無効
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// ServeHTTP はヘルスチェック結果を返す。
// DB障害時もプロセスは稼働しているため200を返し、statusをdegradedとする。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "disabled"}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		if err := h.db.Ping(ctx); err != nil {
			slog.WarnContext(r.Context(), "health check: database unreachable", slog.String("error", err.Error()))
			resp.Status = "degraded"
			resp.Database = "down"
		} else {
			resp.Database = "up"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
