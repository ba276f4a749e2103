package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pratiche/internal/auth"
	"github.com/dukerupert/pratiche/internal/completion"
	"github.com/dukerupert/pratiche/internal/model"
	"github.com/dukerupert/pratiche/internal/tasks"
)

type TaskService interface {
	Tasks(ctx context.Context, f tasks.Filter) []model.TaskViewItem
	SetCompleted(ctx context.Context, userID, eventID string, completed bool) (completion.Result, error)
}

type TaskHandler struct {
	tasks  TaskService
	logger *slog.Logger
	now    func() time.Time
}

func NewTaskHandler(svc TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: svc, logger: logger, now: time.Now}
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.tasks.Tasks(r.Context(), f))
}

// ICS serves the filtered task list as an iCalendar feed of VTODOs.
func (h *TaskHandler) ICS(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	items := h.tasks.Tasks(r.Context(), f)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="pratiche-tasks.ics"`)
	if err := tasks.WriteICS(w, items, h.now()); err != nil {
		h.logger.Error("write task feed failed", "error", err)
	}
}

type completionRequest struct {
	Completed *bool `json:"completed"`
}

// SetCompletion answers 200 even when the remote write was queued; the
// response says so in "queued".
func (h *TaskHandler) SetCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Completed == nil {
		writeError(w, http.StatusBadRequest, "completed is required")
		return
	}

	eventID := r.PathValue("id")
	res, err := h.tasks.SetCompleted(r.Context(), auth.UserID(r.Context()), eventID, *req.Completed)
	if err != nil {
		h.logger.Error("set completion failed", "event_id", eventID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save completion")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":  eventID,
		"completed": *req.Completed,
		"queued":    res.Queued,
	})
}

func parseFilter(w http.ResponseWriter, r *http.Request) (tasks.Filter, bool) {
	q := r.URL.Query()
	status, err := tasks.ParseStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return tasks.Filter{}, false
	}
	due, err := tasks.ParseDueBucket(q.Get("due"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return tasks.Filter{}, false
	}
	return tasks.Filter{
		Status:     status,
		Due:        due,
		Agency:     q.Get("agency"),
		CaseFileID: q.Get("case_file"),
	}, true
}
