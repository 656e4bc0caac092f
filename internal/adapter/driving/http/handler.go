package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/Wyydra/castroom/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// StaticDir is served at / when set.
	StaticDir string

	// AllowedOrigins limits browser origins on /ws. Empty or "*" allows all.
	AllowedOrigins []string

	MaxMessageBytes int64

	// MessagesPerSecond caps inbound frames per connection, zero disables.
	MessagesPerSecond float64

	SendBuffer int
}

type Handler struct {
	Hub     *service.Hub
	History port.ChatRepository

	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler wires the hub to HTTP. history may be nil.
func NewHandler(hub *service.Hub, history port.ChatRepository, opts Options) *Handler {
	h := &Handler{
		Hub:     hub,
		History: history,
		opts:    opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/health", h.health)
	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", h.listRooms)
		r.Get("/{room}", h.getRoom)
		r.Get("/{room}/messages", h.roomMessages)
	})

	if h.opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(h.opts.StaticDir)))
	}
	return r
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	log.Warn().Str("origin", origin).Msg("Rejected websocket origin")
	return false
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Hub.Rooms(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	room, ok, err := h.Hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrRoomNotFound)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) roomMessages(w http.ResponseWriter, r *http.Request) {
	out := []domain.ChatPayload{}
	if h.History != nil {
		msgs, err := h.History.History(r.Context(), chi.URLParam(r, "room"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, m := range msgs {
			out = append(out, domain.NewChatPayload(m))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
