// Package api provides the HTTP handlers for the chat API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/akarpov/minichat/internal/chat"
	"github.com/akarpov/minichat/internal/domain"
	"github.com/akarpov/minichat/internal/gateway"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the session store operations and the raw completion
// boundary.
type Handler struct {
	store     *chat.Store
	completer chat.Completer
}

// NewHandler creates a new Handler.
func NewHandler(store *chat.Store, completer chat.Completer) *Handler {
	return &Handler{store: store, completer: completer}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the chat API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.HandleState)
		r.Post("/threads", h.HandleCreateThread)
		r.Post("/threads/{id}/activate", h.HandleSelectThread)
		r.Delete("/threads/{id}", h.HandleDeleteThread)
		r.Post("/messages", h.HandleSendMessage)
		r.Post("/chat", h.HandleChat)
	})
}

// HandleState handles GET /api/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.store.State())
}

// HandleCreateThread handles POST /api/threads.
func (h *Handler) HandleCreateThread(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.store.CreateThread(r.Context()))
}

// HandleSelectThread handles POST /api/threads/{id}/activate.
func (h *Handler) HandleSelectThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	JSON(w, http.StatusOK, h.store.SelectThread(r.Context(), id))
}

// HandleDeleteThread handles DELETE /api/threads/{id}.
func (h *Handler) HandleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	JSON(w, http.StatusOK, h.store.DeleteThread(r.Context(), id))
}

// sendRequest is the body of POST /api/messages.
type sendRequest struct {
	Content string `json:"content"`
}

// HandleSendMessage handles POST /api/messages. The call blocks until the
// completion settles; a send while another is in flight gets a 409.
func (h *Handler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.store.SendMessage(r.Context(), req.Content)
	if err != nil {
		if errors.Is(err, chat.ErrBusy) {
			Error(w, http.StatusConflict, "a message is already in flight")
			return
		}
		slog.Error("Send message failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	JSON(w, http.StatusOK, view)
}

// chatRequest is the body of POST /api/chat. Messages stays raw so a
// missing or non-array field can be told apart from an empty one.
type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the success envelope of POST /api/chat. Classified
// provider failures ride in Content too, so the caller always has one
// displayable assistant entry.
type chatResponse struct {
	Content string `json:"content"`
}

// HandleChat handles POST /api/chat: one completion call for a caller
// supplied message history. Only request-shape violations are rejected;
// every provider-side failure is returned as a 200 envelope carrying the
// classified, user-safe error text.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid message format")
		return
	}
	if len(req.Messages) == 0 {
		Error(w, http.StatusBadRequest, "invalid message format")
		return
	}

	var wire []chatMessage
	if err := json.Unmarshal(req.Messages, &wire); err != nil {
		Error(w, http.StatusBadRequest, "invalid message format")
		return
	}

	messages := make([]domain.Message, 0, len(wire))
	for _, m := range wire {
		messages = append(messages, domain.NewMessage(domain.Role(m.Role), m.Content))
	}

	text, err := h.completer.Complete(r.Context(), messages)
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) {
			if gerr.Kind == gateway.KindMalformedRequest {
				Error(w, http.StatusBadRequest, gerr.Message)
				return
			}
			JSON(w, http.StatusOK, chatResponse{Content: gerr.Message})
			return
		}
		slog.Error("Completion failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	JSON(w, http.StatusOK, chatResponse{Content: text})
}
