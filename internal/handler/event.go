package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/pratiche/internal/agenda"
	"github.com/dukerupert/pratiche/internal/model"
)

type EventSaver interface {
	SaveEvent(ctx context.Context, req agenda.SaveRequest) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, req agenda.DeleteRequest) error
}

type EventCache interface {
	Events() []model.CalendarEvent
	EventsIn(calendarID string) []model.CalendarEvent
	RefreshedAt() time.Time
	Refresh(ctx context.Context) error
}

type EventHandler struct {
	saver           EventSaver
	cache           EventCache
	calendars       map[string]string
	primaryCalendar string
	logger          *slog.Logger
}

// NewEventHandler takes the configured calendars by display name; request
// paths and bodies may use either the name or the raw calendar id.
func NewEventHandler(saver EventSaver, cache EventCache, calendars map[string]string, primaryCalendar string, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		saver:           saver,
		cache:           cache,
		calendars:       calendars,
		primaryCalendar: primaryCalendar,
		logger:          logger,
	}
}

type eventRequest struct {
	CalendarID        string `json:"calendar_id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Location          string `json:"location"`
	Start             string `json:"start"`
	End               string `json:"end"`
	AllDay            bool   `json:"all_day"`
	Category          string `json:"category"`
	IsPrivate         bool   `json:"is_private"`
	RelatedCaseFileID string `json:"related_case_file_id"`
	StepID            string `json:"step_id"`
	Priority          string `json:"priority"`
	Reminder          string `json:"reminder"`
}

type eventListResponse struct {
	Events      []model.CalendarEvent `json:"events"`
	RefreshedAt *time.Time            `json:"refreshed_at,omitempty"`
}

// List serves the cached events. ?refresh=1 re-lists the remote calendars first.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("refresh") == "1" {
		if err := h.cache.Refresh(r.Context()); err != nil {
			h.logger.Warn("event refresh failed", "error", err)
			writeCalendarError(w, err)
			return
		}
	}

	var events []model.CalendarEvent
	if cal := q.Get("calendar"); cal != "" {
		events = h.cache.EventsIn(h.resolveCalendar(cal))
	} else {
		events = h.cache.Events()
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}

	resp := eventListResponse{Events: events}
	if at := h.cache.RefreshedAt(); !at.IsZero() {
		resp.RefreshedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, in, ok := h.decode(w, r)
	if !ok {
		return
	}

	ev, err := h.saver.SaveEvent(r.Context(), agenda.SaveRequest{
		CalendarID: h.resolveCalendar(req.CalendarID),
		Input:      in,
		StepID:     req.StepID,
		Priority:   req.Priority,
		Reminder:   req.Reminder,
	})
	if err != nil {
		h.logger.Error("create event failed", "error", err)
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	req, in, ok := h.decode(w, r)
	if !ok {
		return
	}

	ev, err := h.saver.SaveEvent(r.Context(), agenda.SaveRequest{
		CalendarID: h.resolveCalendar(r.PathValue("calendar")),
		EventID:    r.PathValue("id"),
		Input:      in,
		StepID:     req.StepID,
		Priority:   req.Priority,
		Reminder:   req.Reminder,
	})
	if err != nil {
		h.logger.Error("update event failed", "event_id", r.PathValue("id"), "error", err)
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Delete accepts ?case_file= and ?step= to locate the mirrored task when the
// event is no longer in the cache.
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.saver.DeleteEvent(r.Context(), agenda.DeleteRequest{
		CalendarID: h.resolveCalendar(r.PathValue("calendar")),
		EventID:    r.PathValue("id"),
		CaseFileID: q.Get("case_file"),
		StepID:     q.Get("step"),
	})
	if err != nil {
		h.logger.Error("delete event failed", "event_id", r.PathValue("id"), "error", err)
		writeCalendarError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) decode(w http.ResponseWriter, r *http.Request) (eventRequest, model.EventInput, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, model.EventInput{}, false
	}

	start, err := parseFlexibleTime(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339 or YYYY-MM-DD")
		return req, model.EventInput{}, false
	}
	end, err := parseFlexibleTime(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339 or YYYY-MM-DD")
		return req, model.EventInput{}, false
	}

	in := model.EventInput{
		Title:             strings.TrimSpace(req.Title),
		Description:       req.Description,
		Location:          req.Location,
		Start:             start,
		End:               end,
		AllDay:            req.AllDay,
		Category:          model.ParseCategory(req.Category),
		IsPrivate:         req.IsPrivate,
		RelatedCaseFileID: req.RelatedCaseFileID,
	}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, model.EventInput{}, false
	}
	return req, in, true
}

func (h *EventHandler) resolveCalendar(nameOrID string) string {
	if nameOrID == "" {
		return h.primaryCalendar
	}
	if id, ok := h.calendars[nameOrID]; ok {
		return id
	}
	return nameOrID
}
