package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"podcasts/internal/domain"
	"podcasts/internal/runs"
)

// maxDocumentBytes ограничивает тело POST /api/imports.
const maxDocumentBytes = 16 << 20

type importRuns interface {
	Start(doc []byte) (string, error)
	Get(id string) (runs.Run, error)
}

type documentLoader interface {
	Load(ctx context.Context, source string) ([]byte, error)
}

type subscriptionsGetter interface {
	List(ctx context.Context, limit int) ([]domain.Subscription, error)
	Export(ctx context.Context, w io.Writer, title string) error
}

type podcastRefresher interface {
	Refresh(ctx context.Context, ids []domain.PodcastID) (int, error)
	RefreshAll(ctx context.Context) (int, error)
}

type Handler struct {
	log           *slog.Logger
	runs          importRuns
	loader        documentLoader
	subscriptions subscriptionsGetter
	refresher     podcastRefresher
}

func NewHandler(
	log *slog.Logger,
	runs importRuns,
	loader documentLoader,
	subscriptions subscriptionsGetter,
	refresher podcastRefresher,
) *Handler {
	return &Handler{
		log:           log,
		runs:          runs,
		loader:        loader,
		subscriptions: subscriptions,
		refresher:     refresher,
	}
}

type importURLRequest struct {
	URL string `json:"url"`
}

type importResponse struct {
	ID        string `json:"id"`
	StatusURL string `json:"status_url"`
}

type refreshRequest struct {
	PodcastIDs []domain.PodcastID `json:"podcast_ids"`
}

type refreshResponse struct {
	Updated int `json:"updated"`
}

// startImport - хендлер для эндпоинта POST /api/imports.
// Принимает OPML-документ в теле запроса или JSON {"url": "..."} с адресом документа.
func (h *Handler) startImport(w http.ResponseWriter, r *http.Request) {
	const op = "transport.http/startImport"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", getRequestID(r.Context())),
	)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		log.Warn("failed to read request body", slog.Any("error", err))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "Document is too large")
			return
		}
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	doc := body
	if isJSON(r.Header.Get("Content-Type")) {
		var req importURLRequest
		if err := json.Unmarshal(body, &req); err != nil {
			log.Warn("invalid JSON body", slog.Any("error", err))
			respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
			log.Warn("invalid document url", slog.String("url", req.URL))
			respondWithError(w, http.StatusBadRequest, "Field 'url' must be an http(s) URL")
			return
		}
		doc, err = h.loader.Load(r.Context(), req.URL)
		if err != nil {
			log.Error("Failed to load document", slog.String("url", req.URL), slog.Any("error", err))
			if errors.Is(err, domain.ErrInvalidURL) {
				respondWithError(w, http.StatusBadRequest, "Invalid document URL")
				return
			}
			respondWithError(w, http.StatusBadGateway, "Failed to fetch document")
			return
		}
	}
	if len(strings.TrimSpace(string(doc))) == 0 {
		log.Warn("empty document")
		respondWithError(w, http.StatusBadRequest, "Empty document")
		return
	}
	id, err := h.runs.Start(doc)
	if err != nil {
		log.Error("Failed to start import", slog.Any("error", err))
		if errors.Is(err, runs.ErrShutdown) {
			respondWithError(w, http.StatusServiceUnavailable, "Service is shutting down")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	log.Info("Import accepted", slog.String("run_id", id))
	respondWithJSON(w, http.StatusAccepted, importResponse{ID: id, StatusURL: "/api/imports/" + id})
}

// getImport - хендлер для эндпоинта GET /api/imports/{id}
func (h *Handler) getImport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.runs.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			respondWithError(w, http.StatusNotFound, "Import run not found")
			return
		}
		h.log.Error("Failed to get import run", slog.String("run_id", id), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

// getSubscriptions - хендлер для эндпоинта GET /api/subscriptions
func (h *Handler) getSubscriptions(w http.ResponseWriter, r *http.Request) {
	const op = "transport.http/getSubscriptions"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", getRequestID(r.Context())),
	)
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			log.Warn("invalid limit parameter", slog.String("limit", limitStr))
			respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
	}
	subs, err := h.subscriptions.List(r.Context(), limit)
	if err != nil {
		log.Error("Failed to get subscriptions", slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, subs)
}

// exportSubscriptions - хендлер для эндпоинта GET /api/subscriptions/export
func (h *Handler) exportSubscriptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="subscriptions.opml"`)
	if err := h.subscriptions.Export(r.Context(), w, "Podcast subscriptions"); err != nil {
		h.log.Error("Failed to export subscriptions",
			slog.String("request_id", getRequestID(r.Context())),
			slog.Any("error", err),
		)
		w.Header().Del("Content-Disposition")
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// refreshPodcasts - хендлер для эндпоинта POST /api/podcasts/refresh.
// Пустой список id обновляет все подписки.
func (h *Handler) refreshPodcasts(w http.ResponseWriter, r *http.Request) {
	const op = "transport.http/refreshPodcasts"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", getRequestID(r.Context())),
	)
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Warn("invalid JSON body", slog.Any("error", err))
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	var (
		updated int
		err     error
	)
	if len(req.PodcastIDs) == 0 {
		updated, err = h.refresher.RefreshAll(r.Context())
	} else {
		updated, err = h.refresher.Refresh(r.Context(), req.PodcastIDs)
	}
	if err != nil {
		log.Error("Failed to refresh podcasts", slog.Any("error", err))
		if domain.IsTransport(err) {
			respondWithError(w, http.StatusBadGateway, "Catalog request failed")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, refreshResponse{Updated: updated})
}

// healthCheck - хендлер для проверки состояния сервиса
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// Вспомогательные функции для ответов
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
