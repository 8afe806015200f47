package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"go-audiochat/internal/domain"
	myMiddleware "go-audiochat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	coord    *Coordinator
	validate *validator.Validate
	client   ClientConfig
	maxClip  int64
}

func NewHandler(coord *Coordinator, client ClientConfig, maxClipBytes int64) *Handler {
	return &Handler{
		coord:    coord,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		client:   client,
		maxClip:  maxClipBytes,
	}
}

// Routes mounts the room, clip and websocket endpoints. The caller is
// responsible for putting them behind the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws", h.ServeWs)

	r.Route("/api/rooms", func(r chi.Router) {
		r.Post("/", h.CreateRoom)
		r.Get("/", h.ListRooms)
		r.Get("/{roomID}", h.GetRoom)
		r.Get("/{roomID}/members", h.ListMembers)
		r.Get("/{roomID}/messages", h.ListMessages)
		r.Post("/{roomID}/clips", h.UploadClip)
		r.Get("/{roomID}/clips", h.ListClips)
	})

	r.Get("/api/clips/{clipID}", h.GetClip)
	r.Post("/api/clips/{clipID}/vote", h.VoteClip)
}

func currentUser(r *http.Request) (string, bool) {
	return myMiddleware.UserFrom(r.Context())
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "chat.handler").Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.coord, conn, ConnID(uuid.NewString()), userID, h.client)
	h.coord.Connect(client.ID, userID, client)

	go client.WritePump()
	// The request context ends with the handler; the socket outlives it.
	go client.ReadPump(context.WithoutCancel(r.Context()))
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, domain.ErrInvalidRoomName)
		return
	}

	room, err := h.coord.CreateRoom(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.coord.ListRooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.coord.GetRoom(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if _, err := h.coord.GetRoom(r.Context(), roomID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.coord.ListMembers(roomID))
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.coord.ListMessages(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// UploadClip takes a multipart form with the clip bytes in the "audio" field.
func (h *Handler) UploadClip(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if h.maxClip > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxClip+1<<20)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, domain.ErrInvalidClip)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, domain.ErrInvalidClip)
		return
	}

	clip, err := h.coord.UploadClip(r.Context(), userID, chi.URLParam(r, "roomID"), data, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clip)
}

func (h *Handler) ListClips(w http.ResponseWriter, r *http.Request) {
	clips, err := h.coord.ListClips(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clips)
}

func (h *Handler) GetClip(w http.ResponseWriter, r *http.Request) {
	clip, err := h.coord.GetClip(r.Context(), chi.URLParam(r, "clipID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

func (h *Handler) VoteClip(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	out, err := h.coord.VoteClip(r.Context(), userID, chi.URLParam(r, "clipID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VoteResponse{
		ClipID:       out.ClipID,
		VoteCount:    out.Count,
		Approved:     out.Approved,
		JustApproved: out.JustApproved,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "chat.handler").Int("status", status).Msg("request failed")
		msg = http.StatusText(status)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}
