package closurehttp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/restaurant-ops/restops/internal/closure"
	"github.com/restaurant-ops/restops/internal/platform/httpx"
)

// stream pushes queue status changes as server-sent events. The current
// status is sent first so clients never wait for a change to render.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	updates := make(chan closure.QueueStatus, 16)
	cancel, err := h.status.Subscribe(ctx, func(st closure.QueueStatus) {
		offerLatest(updates, st)
	})
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: subscribe: %v", httpx.ErrUnavailable, err))
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	if st, err := h.status.ReadStatus(ctx); err == nil {
		if err := writeEvent(w, st); err != nil {
			return
		}
	} else {
		h.logger.Warn("closure stream initial status", slog.Any("error", err))
	}
	_ = rc.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			if err := writeEvent(w, st); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, st closure.QueueStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	return err
}

// offerLatest queues st without blocking. A full buffer drops its oldest
// entry so the most recent status is always delivered.
func offerLatest(ch chan closure.QueueStatus, st closure.QueueStatus) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
