package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/taskloader/internal/apperr"
	"github.com/starford/taskloader/internal/taskservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *taskservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *taskservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListTasks handles GET /api/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.ListTasks(r.Context())
	if err != nil {
		slog.Error("list tasks failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// GetTask handles GET /api/tasks/{id}. It honours If-None-Match.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.svc.GetTask(r.Context(), id)
	if err != nil {
		h.taskError(w, id, err)
		return
	}
	etag := `"` + task.ETag + `"`
	w.Header().Set("ETag", etag)
	if etagMatch(r.Header.Values("If-None-Match"), task.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, task.Task)
}

// GetTaskHTML handles GET /api/tasks/{id}/html.
func (h *Handler) GetTaskHTML(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	html, err := h.svc.RenderTask(r.Context(), id)
	if err != nil {
		h.taskError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, TaskHTMLResponse{ID: id, HTML: html})
}

// Reload handles POST /api/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reload(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrLoadRunning) {
			writeJSON(w, http.StatusConflict, errorBody("load already running"))
			return
		}
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// etagMatch reports whether any If-None-Match value matches tag. Comparison
// is weak: a W/ prefix is ignored, and "*" matches any current task.
func etagMatch(headers []string, tag string) bool {
	for _, h := range headers {
		for _, candidate := range strings.Split(h, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "*" {
				return true
			}
			candidate = strings.TrimPrefix(candidate, "W/")
			if strings.Trim(candidate, `"`) == tag {
				return true
			}
		}
	}
	return false
}

func (h *Handler) taskError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	slog.Error("get task failed", slog.String("id", id), slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}
