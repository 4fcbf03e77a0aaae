package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solvision/service/metrics"
	natspkg "github.com/brojonat/solvision/service/nats"
)

const sseKeepaliveInterval = 10 * time.Second

// handleStreamNotifications relays a session's search notifications as Server-Sent Events.
// GET /api/v1/stream/notifications/{id}
func handleStreamNotifications(sessions *SessionRegistry, subscriber natspkg.Subscriber, closing <-chan struct{}, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		events, err := subscriber.Subscribe(r.Context(), session.ID)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to subscribe to notifications",
				"session_id", session.ID,
				"error", err,
			)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		// Streams outlive the server's write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"session_id", session.ID,
			"remote_addr", r.RemoteAddr,
		)

		fmt.Fprintf(w, "event: connected\ndata: {\"session_id\":%q}\n\n", session.ID)
		flush()

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				// Send keepalive comment to prevent timeout
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case event, ok := <-events:
				if !ok {
					return
				}

				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}

				fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
				flush()

				if m != nil {
					m.RecordSSEEventSent("notification")
				}
				logger.DebugContext(r.Context(), "sent notification event",
					"session_id", session.ID,
					"level", event.Level,
					"generation", event.Generation,
				)

			case <-closing:
				fmt.Fprintf(w, "event: shutdown\ndata: {}\n\n")
				flush()
				return

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"session_id", session.ID,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
