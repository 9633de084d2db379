package http

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer создает и настраивает HTTP-сервер с роутингом и middleware.
// Регистрирует эндпоинты API импорта, подписок и метрик Prometheus.
func NewServer(log *slog.Logger, h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/imports", h.startImport)
	mux.HandleFunc("GET /api/imports/{id}", h.getImport)
	mux.HandleFunc("GET /api/subscriptions", h.getSubscriptions)
	mux.HandleFunc("GET /api/subscriptions/export", h.exportSubscriptions)
	mux.HandleFunc("POST /api/podcasts/refresh", h.refreshPodcasts)
	mux.HandleFunc("GET /api/health", h.healthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	var handler http.Handler = mux
	handler = loggingMiddleware(log)(handler)
	handler = requestIDMiddleware()(handler)
	handler = corsMiddleware()(handler)
	return handler
}
