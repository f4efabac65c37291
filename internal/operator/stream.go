package operator

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/physio-voice-intake/internal/intake"
)

// StreamMessage is what the console receives over the stream.
type StreamMessage struct {
	Type     string           `json:"type"` // "snapshot", "closed", "error"
	Snapshot *intake.Snapshot `json:"snapshot,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Stream handles GET /api/sessions/{sessionID}/stream. The current snapshot
// is sent first, then one per state change until the session ends or the
// console disconnects.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveStream(conn, s)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveStream(conn *websocket.Conn, s *intake.Session) {
	sub := h.registry.Hub().Subscribe(s.ID())
	defer sub.Close()

	// End may have closed the hub between the lookup and Subscribe, in which
	// case this subscription would never be closed.
	if _, live := h.registry.Get(s.ID()); !live {
		_ = websocket.JSON.Send(conn, StreamMessage{Type: "closed"})
		h.logger.Info("operator: stream requested for ended session", "session_id", s.ID())
		return
	}

	current := s.Snapshot()
	if err := websocket.JSON.Send(conn, StreamMessage{Type: "snapshot", Snapshot: &current}); err != nil {
		return
	}
	h.logger.Info("operator: stream opened", "session_id", s.ID())

	// The console never sends anything meaningful; reading only detects
	// that it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard StreamMessage
		for {
			if err := websocket.JSON.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, open := <-sub.C:
			if !open {
				_ = websocket.JSON.Send(conn, StreamMessage{Type: "closed"})
				h.logger.Info("operator: stream closed by session end", "session_id", s.ID())
				return
			}
			if err := websocket.JSON.Send(conn, StreamMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
				h.logger.Debug("operator: stream send failed", "session_id", s.ID(), "error", err)
				return
			}
		case <-gone:
			h.logger.Debug("operator: stream client left", "session_id", s.ID())
			return
		}
	}
}
