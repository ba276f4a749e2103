// Package handler exposes the calendar, task and sync operations over JSON.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dukerupert/pratiche/internal/calendar"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCalendarError maps a calendar-side failure onto a status code. Anything
// unrecognised is treated as the upstream having failed.
func writeCalendarError(w http.ResponseWriter, err error) {
	var initErr *calendar.ClientInitError
	switch {
	case errors.Is(err, calendar.ErrAuthExpired):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "calendar session expired, sign in again", "expired": true})
	case errors.Is(err, calendar.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "calendar not connected")
	case errors.Is(err, calendar.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, calendar.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &initErr):
		writeError(w, http.StatusServiceUnavailable, initErr.Error())
	default:
		writeError(w, http.StatusBadGateway, "calendar request failed")
	}
}

func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, time.Local)
}
