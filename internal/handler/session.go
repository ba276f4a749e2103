package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pratiche/internal/calendar"
)

type SessionControl interface {
	LoginURL(ctx context.Context) (string, error)
	Status() calendar.Status
	Logout()
}

// LoginCompleter finishes the OAuth callback and loads the calendars.
type LoginCompleter interface {
	Login(ctx context.Context, state, code string) error
}

type SessionHandler struct {
	session  SessionControl
	login    LoginCompleter
	returnTo string
	logger   *slog.Logger
}

// NewSessionHandler redirects the browser to returnTo after a successful login.
func NewSessionHandler(session SessionControl, login LoginCompleter, returnTo string, logger *slog.Logger) *SessionHandler {
	if returnTo == "" {
		returnTo = "/"
	}
	return &SessionHandler{session: session, login: login, returnTo: returnTo, logger: logger}
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	u, err := h.session.LoginURL(r.Context())
	if err != nil {
		h.logger.Error("start login failed", "error", err)
		writeCalendarError(w, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (h *SessionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.logger.Warn("consent denied", "error", e)
		writeError(w, http.StatusForbidden, "calendar access was not granted")
		return
	}

	err := h.login.Login(r.Context(), q.Get("state"), q.Get("code"))
	switch {
	case errors.Is(err, calendar.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "login expired, start again")
		return
	case err != nil:
		h.logger.Error("complete login failed", "error", err)
		writeCalendarError(w, err)
		return
	}
	http.Redirect(w, r, h.returnTo, http.StatusFound)
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()
	writeJSON(w, http.StatusOK, h.session.Status())
}

func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}
