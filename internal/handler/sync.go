package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pratiche/internal/auth"
	"github.com/dukerupert/pratiche/internal/completion"
)

type Syncer interface {
	FlushPendingChanges(ctx context.Context, userID string) (completion.SyncReport, error)
	PendingCount() int
}

type Connectivity interface {
	Online() bool
	Set(online bool)
}

type SyncHandler struct {
	syncer  Syncer
	network Connectivity
	logger  *slog.Logger
}

func NewSyncHandler(syncer Syncer, network Connectivity, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{syncer: syncer, network: network, logger: logger}
}

type syncStatus struct {
	Online  bool                   `json:"online"`
	Pending int                    `json:"pending"`
	Report  *completion.SyncReport `json:"report,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, syncStatus{Online: h.network.Online(), Pending: h.syncer.PendingCount()})
}

// Flush retries every queued completion now. Offline is not an error for the
// caller; the response reports it and the queue is left as is.
func (h *SyncHandler) Flush(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncer.FlushPendingChanges(r.Context(), auth.UserID(r.Context()))
	resp := syncStatus{Online: h.network.Online(), Pending: h.syncer.PendingCount(), Report: &report}

	var transient *completion.TransientSyncError
	switch {
	case errors.As(err, &transient):
		resp.Error = transient.Error()
		writeJSON(w, http.StatusAccepted, resp)
		return
	case err != nil:
		h.logger.Error("flush pending completions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read pending changes")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

// SetConnectivity lets the browser report navigator.onLine transitions.
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	h.network.Set(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.network.Online()})
}
