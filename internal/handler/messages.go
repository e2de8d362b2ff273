package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matchpulse/chatsync/internal/middleware"
	"github.com/matchpulse/chatsync/internal/model"
	"github.com/matchpulse/chatsync/internal/sync"
	"github.com/matchpulse/chatsync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	engine *sync.Engine
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(engine *sync.Engine, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		engine: engine,
		logger: log,
	}
}

// ReceiptView is the rendered receipt state of an own-sent message. It is
// present only when the partner's privacy policy permits showing it; the
// stored state underneath is unaffected by the policy.
type ReceiptView struct {
	Delivered bool `json:"delivered"`
	Read      bool `json:"read"`
}

// MessageView is the rendered form of a message.
type MessageView struct {
	ID        string          `json:"message_id"`
	SenderID  string          `json:"sender_id"`
	Type      model.MessageType `json:"message_type"`
	Body      string          `json:"message"`
	MatchData json.RawMessage `json:"match_data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	IsMine    bool            `json:"is_mine"`
	Pending   bool            `json:"pending,omitempty"`
	Receipt   *ReceiptView    `json:"receipt,omitempty"`
}

// SendRequest is the request body for sending a message.
type SendRequest struct {
	Body      string            `json:"message"`
	Type      model.MessageType `json:"message_type,omitempty"`
	MatchData json.RawMessage   `json:"match_data,omitempty"`
}

// List handles GET /api/v1/conversations/{partnerID}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	if err := middleware.ValidatePartnerID(partnerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	localUserID := middleware.GetUserID(r.Context())
	policy, _ := h.engine.Policy(partnerID)

	msgs := h.engine.Messages(partnerID)
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, renderMessage(m, localUserID, policy))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": views,
		"total":    len(views),
	})
}

// Send handles POST /api/v1/conversations/{partnerID}/messages
//
// The response carries the tentative message: the send is reconciled or
// rolled back in the background, observable over the change stream.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	if err := middleware.ValidatePartnerID(partnerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageBody(req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageType(req.Type); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typ := req.Type
	if typ == "" {
		typ = model.MessageTypeText
	}

	tentative := h.engine.Send(r.Context(), partnerID, req.Body, typ, req.MatchData)

	localUserID := middleware.GetUserID(r.Context())
	policy, _ := h.engine.Policy(partnerID)
	writeJSON(w, http.StatusAccepted, renderMessage(tentative, localUserID, policy))
}

// Open handles POST /api/v1/conversations/{partnerID}/open
func (h *MessageHandler) Open(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	if err := middleware.ValidatePartnerID(partnerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.OpenChat(r.Context(), partnerID); err != nil {
		h.logger.Warnw("failed to open chat", "partner_id", partnerID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to load chat history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"partner_id": partnerID,
		"status":     "open",
	})
}

// Close handles POST /api/v1/conversations/{partnerID}/close
func (h *MessageHandler) Close(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	if err := middleware.ValidatePartnerID(partnerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.engine.CloseChat(partnerID)
	writeJSON(w, http.StatusOK, map[string]string{
		"partner_id": partnerID,
		"status":     "closed",
	})
}

// Notices handles GET /api/v1/notices — recent send failures.
func (h *MessageHandler) Notices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notices": h.engine.Notices(),
	})
}

// renderMessage applies the privacy gate: receipt state appears on own
// messages only when the partner's policy permits it.
func renderMessage(m model.Message, localUserID string, policy model.PrivacyPolicy) MessageView {
	v := MessageView{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Type:      m.Type,
		Body:      m.Body,
		MatchData: m.MatchData,
		CreatedAt: m.CreatedAt,
		IsMine:    m.SenderID == localUserID,
		Pending:   m.IsTemp(),
	}

	if v.IsMine && policy.ShowReceipts() {
		rv := &ReceiptView{}
		if policy.DeliveryStatus {
			rv.Delivered = m.Delivered
		}
		if policy.ReadReceipts {
			rv.Read = m.Read
			if rv.Read {
				rv.Delivered = true
			}
		}
		v.Receipt = rv
	}

	return v
}
