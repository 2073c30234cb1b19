package gateway

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/go-chi/chi/v5"
)

// handleTailLog streams the log of a directory over a websocket. Every new
// chunk is sent as a text message until the client goes away. A new run
// truncating the log restarts the stream from its beginning.
func (g *Gateway) handleTailLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if !library.ValidKey(key) {
			fail(w, http.StatusBadRequest, "invalid directory key")
			return
		}

		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("log tail: websocket accept", "key", key, "error", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()

		ctx := conn.CloseRead(r.Context())
		ticker := time.NewTicker(g.config.LogPoll)
		defer ticker.Stop()

		var offset int64
		for {
			data, next, err := g.jobs.TailLog(key, offset)
			if err != nil {
				g.logger.Error("log tail: read", "key", key, "error", err)
				_ = conn.Close(websocket.StatusInternalError, "read log failed")
				return
			}
			offset = next
			if len(data) > 0 {
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			}

			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			case <-ticker.C:
			}
		}
	}
}
