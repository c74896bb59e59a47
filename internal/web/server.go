// Package web serves the read-only debug HTTP surface: task messages,
// notifications, unread counters, Prometheus metrics, and a websocket
// stream of state transitions.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beaconops/missionctl/internal/events"
	"github.com/beaconops/missionctl/internal/metrics"
	"github.com/beaconops/missionctl/internal/notify"
	"github.com/beaconops/missionctl/internal/store"
)

// Server is the debug HTTP server. It only reads the store, except for
// the mark-read endpoint.
type Server struct {
	store *store.Store
	bus   *events.Broadcaster
	log   *slog.Logger

	upgrader websocket.Upgrader
}

// NewServer builds a Server. bus may be nil; the websocket endpoint then
// reports 503.
func NewServer(st *store.Store, bus *events.Broadcaster, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store: st,
		bus:   bus,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the route table. Method-qualified patterns make the
// mux answer 405 for wrong methods on its own.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/tasks/{id}/notifications", s.handleListNotifications)
	mux.HandleFunc("GET /api/tasks/{id}/unread/{sessionKey}", s.handleUnreadCount)
	mux.HandleFunc("POST /api/tasks/{id}/unread/{sessionKey}", s.handleMarkRead)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := s.store.ListTaskMessages(r.Context(), taskID, limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []notify.TaskMessage{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	items, err := s.store.ListTaskNotifications(r.Context(), taskID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []notify.NotificationWithMessage{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"notifications": items})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	sessionKey := r.PathValue("sessionKey")

	uc, err := s.store.ThreadUnreadCount(r.Context(), taskID, sessionKey)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, uc)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	sessionKey := r.PathValue("sessionKey")

	var body struct {
		LastReadMessageID string `json:"last_read_message_id"`
		LastReadAt        *int64 `json:"last_read_at"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	params := store.MarkReadParams{
		TaskID:            taskID,
		SessionKey:        sessionKey,
		LastReadMessageID: body.LastReadMessageID,
	}
	if body.LastReadAt != nil {
		params.LastReadAt = notify.Set(*body.LastReadAt)
	}

	rs, err := s.store.MarkThreadReadState(r.Context(), params)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, rs)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWS streams transition events to the client until it disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "event stream not wired")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	metrics.HTTPRequests.WithLabelValues("/ws", "101").Inc()

	ch, cancel := s.bus.Subscribe(64)
	defer cancel()

	// Reader goroutine only notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	metrics.HTTPRequests.WithLabelValues(r.Pattern, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	s.writeJSON(w, r, code, map[string]string{"error": msg})
}

// ListenAndServe runs the server on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("debug http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
