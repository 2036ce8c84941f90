package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/storage"
)

// Schedules is the schedule management surface the handler drives.
type Schedules interface {
	Create(in models.ScheduleInput) (models.Schedule, error)
	Get(id string) (models.Schedule, error)
	List() []models.Schedule
	UpdateChannels(id string, channels []string) (models.Schedule, error)
	UpdateCadence(id string, frequency models.Frequency, sendTime string) (models.Schedule, error)
	SetActive(id string, active bool) (models.Schedule, error)
	Delete(id string) error
	RunNow(id string) error
}

type KeyVerifier interface {
	VerifyKey(ctx context.Context, apiKey string) error
}

// maxRequestBodySize caps JSON request bodies at 1MB.
const maxRequestBodySize = 1 << 20

const verifyTimeout = 15 * time.Second

type Handler struct {
	schedules Schedules
	verifier  KeyVerifier
	staticDir string
	logger    zerolog.Logger
}

func NewHandler(schedules Schedules, verifier KeyVerifier, logger zerolog.Logger) *Handler {
	return &Handler{
		schedules: schedules,
		verifier:  verifier,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// WithStaticDir serves a front end from dir for every unmatched GET.
func (h *Handler) WithStaticDir(dir string) *Handler {
	h.staticDir = dir
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/test-key", h.testKey)
	mux.HandleFunc("GET /api/schedules", h.listSchedules)
	mux.HandleFunc("POST /api/schedules", h.createSchedule)
	mux.HandleFunc("PATCH /api/schedules/{id}/channels", h.updateChannels)
	mux.HandleFunc("PATCH /api/schedules/{id}/cadence", h.updateCadence)
	mux.HandleFunc("POST /api/schedules/{id}/toggle", h.toggle)
	mux.HandleFunc("POST /api/schedules/{id}/run", h.run)
	mux.HandleFunc("DELETE /api/schedules/{id}", h.deleteSchedule)

	if h.staticDir != "" {
		mux.Handle("GET /", h.static())
	}
}

func (h *Handler) testKey(w http.ResponseWriter, r *http.Request) {
	var req TestKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		writeJSON(w, http.StatusBadRequest, TestKeyResponse{Valid: false, Message: "未提供 API 金鑰"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), verifyTimeout)
	defer cancel()

	if err := h.verifier.VerifyKey(ctx, req.APIKey); err != nil {
		h.logger.Debug().Err(err).Msg("api key rejected")
		writeJSON(w, http.StatusBadRequest, TestKeyResponse{Valid: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, TestKeyResponse{Valid: true})
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schedules.List())
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var in models.ScheduleInput
	if !decodeJSON(w, r, &in) {
		return
	}

	sched, err := h.schedules.Create(in)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (h *Handler) updateChannels(w http.ResponseWriter, r *http.Request) {
	var req UpdateChannelsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Channels) == 0 {
		writeError(w, http.StatusBadRequest, "channels must not be empty")
		return
	}

	sched, err := h.schedules.UpdateChannels(r.PathValue("id"), req.Channels)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) updateCadence(w http.ResponseWriter, r *http.Request) {
	var req UpdateCadenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sched, err := h.schedules.UpdateCadence(r.PathValue("id"), req.Frequency, req.SendTime)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req ToggleRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var active bool
	if req.Active != nil {
		active = *req.Active
	} else {
		current, err := h.schedules.Get(id)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		active = !current.Active
	}

	sched, err := h.schedules.SetActive(id, active)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	if err := h.schedules.RunNow(r.PathValue("id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageResponse{Message: "分析已開始，完成後將寄送報告到信箱"})
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.schedules.Delete(r.PathValue("id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "已刪除"})
}

// static serves files from the static dir and falls back to index.html so
// client-side routes resolve.
func (h *Handler) static() http.Handler {
	files := http.FileServer(http.Dir(h.staticDir))
	index := filepath.Join(h.staticDir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		path := filepath.Join(h.staticDir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	var validation *storage.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "找不到排程")
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	default:
		h.logger.Error().Err(err).Msg("schedule operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg})
}
