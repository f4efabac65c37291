// Package operator exposes the desk to the front-desk console: session
// control, event ingestion for transports that push over HTTP, a live
// snapshot stream and the archive of finished calls.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/physio-voice-intake/internal/desk"
	"github.com/wolfman30/physio-voice-intake/internal/intake"
	"github.com/wolfman30/physio-voice-intake/internal/transport"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// BotRunner connects a session to the upstream voice bot.
// *transport.BotClient implements it.
type BotRunner interface {
	Run(ctx context.Context, wsURL string, sink transport.Sink) error
}

// ArchiveReader lists finished sessions.
type ArchiveReader interface {
	Get(ctx context.Context, sessionID string) (*intake.ArchivedSession, error)
	ListRecent(ctx context.Context, limit int) ([]intake.ArchivedSession, error)
}

// Config wires a Handler. Bot and Archive are optional.
type Config struct {
	Registry *desk.Registry
	Bot      BotRunner
	// DefaultBotURL is dialled when a session is started without one.
	DefaultBotURL string
	Archive       ArchiveReader
	Logger        *logging.Logger
	// BaseContext bounds the lifetime of bot connections. Defaults to
	// context.Background.
	BaseContext context.Context
}

// Handler serves the operator API.
type Handler struct {
	registry   *desk.Registry
	bot        BotRunner
	defaultURL string
	archive    ArchiveReader
	logger     *logging.Logger
	baseCtx    context.Context

	mu    sync.Mutex
	conns map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func NewHandler(cfg Config) *Handler {
	if cfg.Registry == nil {
		panic("operator: registry required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &Handler{
		registry:   cfg.Registry,
		bot:        cfg.Bot,
		defaultURL: cfg.DefaultBotURL,
		archive:    cfg.Archive,
		logger:     cfg.Logger,
		baseCtx:    cfg.BaseContext,
		conns:      make(map[string]context.CancelFunc),
	}
}

// Routes mounts the session and archive endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.StartSession)
		r.Get("/", h.ListSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.EndSession)
			r.Post("/resume", h.ResumeSession)
			r.Post("/events", h.SubmitEvent)
			r.Post("/lifecycle", h.Lifecycle)
			r.Post("/reset", h.Reset)
			r.Get("/stream", h.Stream)
		})
	})
	if h.archive != nil {
		r.Get("/archive", h.ListArchive)
		r.Get("/archive/{sessionID}", h.GetArchive)
	}
}

// StartSessionRequest opens a session. BotURL overrides the default bot.
type StartSessionRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	BotURL string `json:"bot_ws_url,omitempty"`
}

type StartSessionResponse struct {
	SessionID    string          `json:"session_id"`
	BotConnected bool            `json:"bot_connected"`
	Snapshot     intake.Snapshot `json:"snapshot"`
}

// StartSession handles POST /api/sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	patient := intake.Patient{Name: strings.TrimSpace(req.Name), Email: strings.TrimSpace(req.Email)}
	if patient.Email != "" && !strings.Contains(patient.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}

	s := h.registry.Start(r.Context(), patient)
	botURL := strings.TrimSpace(req.BotURL)
	if botURL == "" {
		botURL = h.defaultURL
	}
	connected := h.connectBot(s, botURL)

	writeJSON(w, http.StatusCreated, StartSessionResponse{
		SessionID:    s.ID(),
		BotConnected: connected,
		Snapshot:     s.Snapshot(),
	})
}

func (h *Handler) connectBot(s *intake.Session, url string) bool {
	if h.bot == nil || url == "" {
		return false
	}
	ctx, cancel := context.WithCancel(h.baseCtx)
	h.mu.Lock()
	if prev, ok := h.conns[s.ID()]; ok {
		prev()
	}
	h.conns[s.ID()] = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		if err := h.bot.Run(ctx, url, s); err != nil {
			h.logger.Warn("operator: bot session ended with error", "session_id", s.ID(), "error", err)
		}
	}()
	return true
}

func (h *Handler) disconnectBot(sessionID string) {
	h.mu.Lock()
	cancel, ok := h.conns[sessionID]
	delete(h.conns, sessionID)
	h.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close cancels every bot connection and waits for them to finish.
func (h *Handler) Close() {
	h.mu.Lock()
	for id, cancel := range h.conns {
		cancel()
		delete(h.conns, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession handles GET /api/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// ResumeSession handles POST /api/sessions/{sessionID}/resume. A stored
// session is rebuilt and, when a bot is configured, reconnected.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s, err := h.registry.Resume(r.Context(), id)
	if err != nil {
		if errors.Is(err, desk.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("operator: resume failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resume session")
		return
	}
	var req StartSessionRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	url := strings.TrimSpace(req.BotURL)
	if url == "" {
		url = h.defaultURL
	}
	connected := h.connectBot(s, url)
	writeJSON(w, http.StatusOK, StartSessionResponse{SessionID: s.ID(), BotConnected: connected, Snapshot: s.Snapshot()})
}

// EndSession handles DELETE /api/sessions/{sessionID}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	h.disconnectBot(id)
	if err := h.registry.End(r.Context(), id); err != nil {
		if errors.Is(err, desk.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("operator: end session failed", "session_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "session ended but could not be archived")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EventRequest is one transcript event pushed over HTTP. Payload may be any
// JSON value; a JSON string is passed on as text.
type EventRequest struct {
	Role     intake.Role     `json:"role"`
	Payload  json.RawMessage `json:"payload"`
	Sequence int64           `json:"sequence,omitempty"`
}

// SubmitEvent handles POST /api/sessions/{sessionID}/events.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "role must be user or bot")
		return
	}
	outcome := s.SubmitEvent(r.Context(), intake.TranscriptEvent{
		Role:     req.Role,
		Payload:  decodePayload(req.Payload),
		Sequence: req.Sequence,
	})
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func decodePayload(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return raw
}

// Lifecycle handles POST /api/sessions/{sessionID}/lifecycle.
func (h *Handler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var lc intake.Lifecycle
	if err := json.NewDecoder(r.Body).Decode(&lc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch lc.State {
	case intake.StateConnecting, intake.StateConnected, intake.StateDisconnected, intake.StateError:
	default:
		writeError(w, http.StatusBadRequest, "unknown lifecycle state")
		return
	}
	s.HandleLifecycle(r.Context(), lc)
	writeJSON(w, http.StatusOK, s.Status())
}

// Reset handles POST /api/sessions/{sessionID}/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.ResetSession(r.Context())
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// ListArchive handles GET /api/archive.
func (h *Handler) ListArchive(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.archive.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("operator: list archive failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}

// GetArchive handles GET /api/archive/{sessionID}.
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	rec, err := h.archive.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("operator: get archive failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load archive")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*intake.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	s, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
