package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hbjoroy/Weather-Service/internal/model"
)

// contentTypes は静的ファイルの拡張子ごとのContent-Type。
var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
}

// StaticHandler はフロントエンドのビルド成果物を配信する。
type StaticHandler struct {
	root string
}

// NewStaticHandler はStaticHandlerを生成する。
func NewStaticHandler(root string) *StaticHandler {
	return &StaticHandler{root: root}
}

// ServeHTTP は静的ファイルを返す。
// GET/HEAD以外は405、".."を含むパスは403、存在しないファイルは404。
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeAPIErrorResponse(w, model.NewMethodNotAllowedError())
		return
	}

	urlPath := r.URL.Path
	if strings.Contains(urlPath, "..") {
		slog.WarnContext(r.Context(), "path traversal attempt blocked", slog.String("path", urlPath))
		writeAPIErrorResponse(w, model.NewAccessDeniedError())
		return
	}
	if urlPath == "" || urlPath == "/" {
		urlPath = "/index.html"
	}

	fullPath := filepath.Join(h.root, filepath.FromSlash(urlPath))
	f, err := os.Open(fullPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.ErrorContext(r.Context(), "failed to open static file",
				slog.String("path", urlPath),
				slog.String("error", err.Error()),
			)
		}
		writeAPIErrorResponse(w, model.NewNotFoundError("File not found"))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeAPIErrorResponse(w, model.NewNotFoundError("File not found"))
		return
	}

	ct, ok := contentTypes[strings.ToLower(filepath.Ext(fullPath))]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
