// Package handler provides HTTP handlers exposing the synchronizer to the
// rest of the application.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matchpulse/chatsync/internal/middleware"
	"github.com/matchpulse/chatsync/internal/sync"
	"github.com/matchpulse/chatsync/pkg/logger"
)

// ConversationHandler handles conversation-list endpoints.
type ConversationHandler struct {
	engine *sync.Engine
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(engine *sync.Engine, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		engine: engine,
		logger: log,
	}
}

// List handles GET /api/v1/conversations?q=
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("q")

	convs := h.engine.Conversations(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"total":         len(convs),
	})
}

// Unread handles GET /api/v1/conversations/{partnerID}/unread
func (h *ConversationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	if err := middleware.ValidatePartnerID(partnerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"partner_id":   partnerID,
		"unread_count": h.engine.UnreadCount(partnerID),
	})
}
