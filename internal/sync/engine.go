// Package sync ties the store, dispatcher, send pipeline and privacy gate
// into one session-scoped engine. The engine is created at session start
// and torn down at logout; nothing here is ambient global state.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/matchpulse/chatsync/internal/chatapi"
	"github.com/matchpulse/chatsync/internal/dispatch"
	"github.com/matchpulse/chatsync/internal/model"
	"github.com/matchpulse/chatsync/internal/privacy"
	"github.com/matchpulse/chatsync/internal/receipts"
	"github.com/matchpulse/chatsync/internal/send"
	"github.com/matchpulse/chatsync/internal/store"
	"github.com/matchpulse/chatsync/pkg/logger"
	"github.com/matchpulse/chatsync/pkg/metrics"
)

const markTimeout = 10 * time.Second

// Backend is the consumed REST surface of the chat service.
type Backend interface {
	GetChatHistory(ctx context.Context, partnerID string) (*chatapi.History, error)
	SendMessage(ctx context.Context, partnerID, body string, typ model.MessageType, matchData json.RawMessage) (chatapi.SendResult, error)
	MarkMessagesRead(ctx context.Context, partnerID string) error
	MarkMessagesDelivered(ctx context.Context, partnerID string) error
}

// Engine keeps the conversation list and the open chat thread consistent
// across optimistic sends, server acknowledgements and push events.
type Engine struct {
	store    *store.Store
	pipeline *send.Pipeline
	gate     *privacy.Gate
	tracker  *receipts.Tracker
	api      Backend
	logger   *logger.Logger

	mu            sync.Mutex
	activePartner string
	openSeq       uint64

	unsub func()
	wg    sync.WaitGroup
}

// New creates an engine and subscribes it to the dispatcher.
func New(st *store.Store, d *dispatch.Dispatcher, pl *send.Pipeline, gate *privacy.Gate, tracker *receipts.Tracker, api Backend, log *logger.Logger) *Engine {
	e := &Engine{
		store:    st,
		pipeline: pl,
		gate:     gate,
		tracker:  tracker,
		api:      api,
		logger:   log,
	}
	e.unsub = d.Subscribe(e.handleEvent)
	return e
}

// OpenChat makes the conversation active, loads its history and privacy
// policy, and marks the partner's unread messages read. A response that
// arrives after the user has switched away is discarded; the check runs at
// completion time, not at request time.
func (e *Engine) OpenChat(ctx context.Context, partnerID string) error {
	e.mu.Lock()
	e.openSeq++
	seq := e.openSeq
	e.activePartner = partnerID
	e.mu.Unlock()

	hist, err := e.api.GetChatHistory(ctx, partnerID)
	if err != nil {
		// The store keeps whatever it had; retried on the next open.
		return fmt.Errorf("failed to load chat history: %w", err)
	}

	e.mu.Lock()
	stale := e.openSeq != seq || e.activePartner != partnerID
	e.mu.Unlock()
	if stale {
		e.logger.Debugw("discarding stale history response", "partner_id", partnerID)
		return nil
	}

	name := hist.Partner.DisplayName
	online := hist.Partner.IsOnline
	e.store.UpsertConversation(partnerID, model.ConversationPatch{
		PartnerName: &name,
		IsOnline:    &online,
		LastSeen:    hist.Partner.LastSeen,
	})

	for _, wm := range hist.Messages {
		e.store.Append(partnerID, wm.ToMessage())
	}

	e.gate.Set(partnerID, hist.Privacy)
	e.markConversationRead(partnerID)
	e.updateUnreadMetric()

	return nil
}

// CloseChat deactivates the conversation. A history response still in
// flight for it becomes stale.
func (e *Engine) CloseChat(partnerID string) {
	e.mu.Lock()
	if e.activePartner == partnerID {
		e.activePartner = ""
		e.openSeq++
	}
	e.mu.Unlock()
}

// ActivePartner returns the currently open conversation, if any.
func (e *Engine) ActivePartner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activePartner
}

// Send routes a user send intent through the optimistic pipeline and
// returns the tentative message.
func (e *Engine) Send(ctx context.Context, partnerID, body string, typ model.MessageType, matchData json.RawMessage) model.Message {
	return e.pipeline.Send(ctx, partnerID, body, typ, matchData)
}

// Conversations returns the sorted, filtered conversation list.
func (e *Engine) Conversations(filter string) []model.Conversation {
	return e.store.Conversations(filter)
}

// Messages returns the ordered message log for a partner.
func (e *Engine) Messages(partnerID string) []model.Message {
	return e.store.Messages(partnerID)
}

// UnreadCount returns the unread count for a partner.
func (e *Engine) UnreadCount(partnerID string) int {
	return e.store.UnreadCount(partnerID)
}

// ShowReceipts reports whether receipt glyphs may be rendered for messages
// sent to this partner.
func (e *Engine) ShowReceipts(partnerID string) bool {
	return e.gate.ShowReceipts(partnerID)
}

// Policy returns the cached privacy policy for a partner.
func (e *Engine) Policy(partnerID string) (model.PrivacyPolicy, bool) {
	return e.gate.Policy(partnerID)
}

// Notices returns recent send-failure notices.
func (e *Engine) Notices() []send.Notice {
	return e.pipeline.Notices()
}

// Close unsubscribes from the dispatcher and waits for background work.
func (e *Engine) Close() {
	e.unsub()
	e.pipeline.Flush()
	e.wg.Wait()
}

// handleEvent applies one push event. Events are at-least-once and
// unordered across types, so every branch is an idempotent merge.
func (e *Engine) handleEvent(ev dispatch.Event) {
	local := e.store.LocalUserID()

	switch ev := ev.(type) {
	case dispatch.NewMessage:
		msg := ev.Message
		if msg.SenderID == local {
			// Push echo of our own send. The pipeline owns reconciliation of
			// in-flight sends; only apply the echo when nothing is pending and
			// the canonical id is unknown, which keeps the conversation list
			// fresh for sends confirmed before this client saw the response.
			partner := msg.ReceiverID
			if partner == "" || e.pipeline.HasPending(partner) || e.store.HasMessage(msg.ID) {
				return
			}
			e.store.Append(partner, msg)
			e.applyParked(partner, msg)
			return
		}

		partner := msg.SenderID
		e.store.Append(partner, msg)
		if e.ActivePartner() == partner {
			e.markConversationRead(partner)
		}
		e.updateUnreadMetric()

	case dispatch.MessagesRead:
		partner := ev.ReaderID
		n := e.store.MarkRange(partner, func(m model.Message) bool {
			return m.SenderID == local
		}, store.ReceiptPatch{Delivered: true, Read: true})
		if n > 0 {
			metrics.ReceiptPromotions.WithLabelValues(receipts.StatusRead.String()).Add(float64(n))
		}
		at := ev.ReadAt
		if at.IsZero() {
			at = time.Now()
		}
		e.tracker.NoteConversation(partner, receipts.StatusRead, at)
		for _, tempID := range e.pipeline.PendingSends(partner) {
			e.tracker.Defer(tempID, receipts.StatusRead)
		}

	case dispatch.MessageDelivered:
		if e.store.MarkMessage(ev.MessageID, store.ReceiptPatch{Delivered: true}) {
			metrics.ReceiptPromotions.WithLabelValues(receipts.StatusDelivered.String()).Inc()
		} else {
			// Most likely our own send, processed server-side before the send
			// response arrived. Parked until reconciliation.
			e.tracker.NoteDelivered(ev.MessageID)
		}

	case dispatch.MessagesDelivered:
		partner := ev.ReceiverID
		n := e.store.MarkRange(partner, func(m model.Message) bool {
			return m.SenderID == local
		}, store.ReceiptPatch{Delivered: true})
		if n > 0 {
			metrics.ReceiptPromotions.WithLabelValues(receipts.StatusDelivered.String()).Add(float64(n))
		}
		e.tracker.NoteConversation(partner, receipts.StatusDelivered, time.Now())
		for _, tempID := range e.pipeline.PendingSends(partner) {
			e.tracker.Defer(tempID, receipts.StatusDelivered)
		}
	}
}

// applyParked applies promotions recorded before this own message existed
// locally: an unmatched message_delivered or a conversation watermark.
func (e *Engine) applyParked(partnerID string, msg model.Message) {
	if e.tracker.TakeDelivered(msg.ID) {
		e.store.MarkMessage(msg.ID, store.ReceiptPatch{Delivered: true})
	}
	if s := e.tracker.ConversationStatus(partnerID, msg.CreatedAt); s > receipts.StatusSent {
		delivered, read := s.Flags()
		e.store.MarkMessage(msg.ID, store.ReceiptPatch{Delivered: delivered, Read: read})
	}
}

// markConversationRead promotes the partner's unread messages locally and
// issues the delivered+read notification round trip in the background.
func (e *Engine) markConversationRead(partnerID string) {
	changed := e.store.MarkRange(partnerID, func(m model.Message) bool {
		return m.SenderID == partnerID && !m.Read
	}, store.ReceiptPatch{Delivered: true, Read: true})

	if changed == 0 {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
		defer cancel()

		if err := e.api.MarkMessagesDelivered(ctx, partnerID); err != nil {
			e.logger.Warnw("failed to notify delivery", "partner_id", partnerID, "error", err)
		}
		if err := e.api.MarkMessagesRead(ctx, partnerID); err != nil {
			e.logger.Warnw("failed to notify read", "partner_id", partnerID, "error", err)
		}
	}()
}

func (e *Engine) updateUnreadMetric() {
	total := 0
	for _, c := range e.store.Conversations("") {
		total += c.UnreadCount
	}
	metrics.UnreadMessages.Set(float64(total))
}
