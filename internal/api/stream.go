package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/najdeno/internal/handoff"
	"github.com/erazemk/najdeno/internal/model"
)

// DefaultHeartbeat spaces the comments that keep idle streams open through
// proxies.
const DefaultHeartbeat = 25 * time.Second

// StreamHandler pushes handoff session snapshots as server-sent events.
type StreamHandler struct {
	Service   *handoff.Service
	Heartbeat time.Duration
}

func writeEvent(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// Stream handles GET /api/handoffs/{id}/events. It sends the caller's view
// of the session at once and again after every change, until the client
// disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := GetClaims(ctx)
	id := r.PathValue("id")
	privileged := model.RoleAtLeast(claims.Role, model.RoleStaff)

	// Subscribe before the first read so no change falls between the two.
	changed := make(chan struct{}, 1)
	unsubscribe := h.Service.Bridge().Subscribe(id, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	view, err := h.Service.ViewFor(ctx, id, claims.UserID, privileged)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event string, data any) bool {
		if err := writeEvent(w, event, data); err != nil {
			slog.Debug("event stream write failed", "id", id, "error", err)
			return false
		}
		if err := rc.Flush(); err != nil {
			slog.Warn("event stream flush failed", "id", id, "error", err)
			return false
		}
		return true
	}

	if !send("snapshot", view) {
		return
	}
	slog.Debug("event stream opened", "id", id, "user", claims.Username)

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("event stream closed", "id", id, "user", claims.Username)
			return
		case <-changed:
			view, err := h.Service.ViewFor(ctx, id, claims.UserID, privileged)
			if err != nil {
				send("error", map[string]string{"error": err.Error()})
				return
			}
			if !send("snapshot", view) {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
