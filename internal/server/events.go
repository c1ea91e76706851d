package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/agentbridge/agentbridge/internal/event"
)

// heartbeatInterval keeps idle event streams alive through proxies.
const heartbeatInterval = 30 * time.Second

// eventsHandler streams session lifecycle events over SSE. The connection
// stays open until the client disconnects or the server shuts down.
func eventsHandler(bus *event.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		messages, err := bus.Subscribe(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "event subscription failed", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		sse, err := NewSSEWriter(w)
		if err != nil {
			slog.ErrorContext(ctx, "SSE not supported", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-heartbeat.C:
				if err := sse.WriteComment("heartbeat"); err != nil {
					return
				}

			case msg, ok := <-messages:
				if !ok {
					return
				}
				evt, err := event.Decode(msg)
				if err != nil {
					slog.WarnContext(ctx, "dropping undecodable event", "error", err)
					msg.Ack()
					continue
				}
				if err := sse.WriteEvent(string(evt.Type)); err != nil {
					msg.Nack()
					return
				}
				if err := sse.WriteData(evt); err != nil {
					msg.Nack()
					return
				}
				msg.Ack()
			}
		}
	}
}
