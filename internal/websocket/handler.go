package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades the request and runs it as a hub client until the
// connection drops. originPatterns empty means same-origin only. snapshot may
// be nil.
func HandleWebSocket(hub *Hub, originPatterns []string, snapshot Snapshot, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(hub, conn, logger.With("remote_addr", r.RemoteAddr))
		client.Run(r.Context(), snapshot)
	}
}
