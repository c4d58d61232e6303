// ABOUTME: HTTP API handlers for mailbox listings, message creation and deletion, threads and presence
// ABOUTME: Hub errors are mapped onto HTTP status codes; bodies are JSON

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/hub"
	"github.com/2389/chathub/internal/protocol"
	"github.com/2389/chathub/internal/store"
)

// maxLimit caps ?limit on listings.
const maxLimit = 1000

// MessagesResponse is the JSON response for listings and threads.
type MessagesResponse struct {
	Messages []protocol.MessageDTO `json:"messages"`
}

// DeleteMessageResponse is the JSON response for DELETE /api/messages/{id}.
type DeleteMessageResponse struct {
	Deleted     bool `json:"deleted"`
	HardDeleted bool `json:"hard_deleted"`
}

// PresenceResponse is the JSON response for GET /api/presence.
type PresenceResponse struct {
	Online []string `json:"online"`
}

// handleListMessages handles GET /api/messages?container=Inbox|Outbox|Unread&limit=N.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxLimit)
	}

	container := store.ParseContainer(r.URL.Query().Get("container"))
	msgs, err := g.hub.ListMessages(r.Context(), caller.Username, container, limit)
	if err != nil {
		g.writeHubError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, MessagesResponse{Messages: protocol.NewMessageDTOs(msgs)})
}

// handleCreateMessage handles POST /api/messages. The body is a
// SendMessage payload with recipient_username required.
func (g *Gateway) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, g.config.Hub.MaxMessageBytes)
	var req protocol.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := g.hub.CreateMessage(r.Context(), caller.Username, req)
	if err != nil {
		g.writeHubError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, protocol.NewMessageDTO(msg))
}

// handleDeleteMessage handles DELETE /api/messages/{id}.
func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	id := r.PathValue("id")
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message id is required")
		return
	}

	hard, err := g.hub.DeleteMessage(r.Context(), caller.Username, id)
	if err != nil {
		g.writeHubError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, DeleteMessageResponse{Deleted: true, HardDeleted: hard})
}

// handleThread handles GET /api/messages/thread/{username}. Opening the
// thread marks the other user's messages to the caller as read.
func (g *Gateway) handleThread(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	thread, err := g.hub.OpenThread(r.Context(), caller.Username, r.PathValue("username"))
	if err != nil {
		g.writeHubError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, MessagesResponse{Messages: protocol.NewMessageDTOs(thread)})
}

// handlePresence handles GET /api/presence.
func (g *Gateway) handlePresence(w http.ResponseWriter, _ *http.Request) {
	online := g.hub.OnlineUsers()
	if online == nil {
		online = []string{}
	}
	g.writeJSON(w, http.StatusOK, PresenceResponse{Online: online})
}

// writeHubError maps a hub error onto a status code. Persistence and
// unexpected failures are logged and reported without detail.
func (g *Gateway) writeHubError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hub.ErrDuplicateMessage):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, hub.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hub.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, hub.ErrForbidden):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// publicError is the text a client sees for a failed invocation.
func publicError(err error) string {
	switch {
	case errors.Is(err, hub.ErrValidation),
		errors.Is(err, hub.ErrNotFound),
		errors.Is(err, hub.ErrForbidden),
		errors.Is(err, hub.ErrNotJoined):
		return err.Error()
	default:
		return "internal server error"
	}
}

// writeJSON writes v as a JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
