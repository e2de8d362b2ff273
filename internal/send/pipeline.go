// Package send implements the optimistic send pipeline: a tentative entry
// appears immediately, the network call runs in the background, and the
// entry is reconciled to its canonical identity or rolled back. One attempt
// per user action; retry is a new user action.
package send

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/matchpulse/chatsync/internal/chatapi"
	"github.com/matchpulse/chatsync/internal/model"
	"github.com/matchpulse/chatsync/internal/receipts"
	"github.com/matchpulse/chatsync/internal/store"
	"github.com/matchpulse/chatsync/pkg/logger"
	"github.com/matchpulse/chatsync/pkg/metrics"
)

// Sender is the slice of the backend API the pipeline needs.
type Sender interface {
	SendMessage(ctx context.Context, partnerID, body string, typ model.MessageType, matchData json.RawMessage) (chatapi.SendResult, error)
}

// Notice is a user-visible failure record for a rolled-back send.
type Notice struct {
	PartnerID string    `json:"partner_id"`
	TempID    string    `json:"temp_id"`
	Body      string    `json:"body"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

const maxNotices = 32

// Pipeline owns reconciliation of the session's outbound sends.
type Pipeline struct {
	store   *store.Store
	sender  Sender
	tracker *receipts.Tracker
	logger  *logger.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]string
	notices  []Notice

	wg sync.WaitGroup
}

// New creates a pipeline writing through the given store.
func New(st *store.Store, sender Sender, tracker *receipts.Tracker, log *logger.Logger) *Pipeline {
	return &Pipeline{
		store:    st,
		sender:   sender,
		tracker:  tracker,
		logger:   log,
		inflight: make(map[string]string),
	}
}

// Send appends a tentative message and starts the network call. The
// returned message carries the temporary id; callers render it immediately.
func (p *Pipeline) Send(ctx context.Context, partnerID, body string, typ model.MessageType, matchData json.RawMessage) model.Message {
	p.mu.Lock()
	p.seq++
	// Zero-padded so temporary ids sort in local send order.
	tempID := fmt.Sprintf("%s%012d", model.TempIDPrefix, p.seq)
	p.inflight[tempID] = partnerID
	p.mu.Unlock()

	tentative := model.Message{
		ID:         tempID,
		SenderID:   p.store.LocalUserID(),
		ReceiverID: partnerID,
		Type:       typ,
		Body:       body,
		MatchData:  matchData,
		CreatedAt:  time.Now(),
	}

	p.store.Append(partnerID, tentative)
	metrics.SendsInFlight.Inc()

	p.wg.Add(1)
	go p.complete(context.WithoutCancel(ctx), tempID, tentative)

	return tentative
}

func (p *Pipeline) complete(ctx context.Context, tempID string, tentative model.Message) {
	defer p.wg.Done()
	defer metrics.SendsInFlight.Dec()

	res, err := p.sender.SendMessage(ctx, tentative.ReceiverID, tentative.Body, tentative.Type, tentative.MatchData)

	// The inflight marker outlives the network call: it is what keeps a push
	// echo of this send from double-inserting while reconciliation runs.
	defer func() {
		p.mu.Lock()
		delete(p.inflight, tempID)
		p.mu.Unlock()
	}()

	if err != nil {
		p.rollback(tempID, tentative, err)
		return
	}

	canonical := model.Message{
		ID:         res.MessageID,
		SenderID:   tentative.SenderID,
		ReceiverID: tentative.ReceiverID,
		Type:       tentative.Type,
		Body:       tentative.Body,
		MatchData:  tentative.MatchData,
		CreatedAt:  res.CreatedAt,
		Delivered:  res.Delivered,
	}

	if !p.store.Replace(tempID, canonical) {
		// Already reconciled or rolled back.
		p.tracker.Discard(tempID)
		return
	}

	// Apply receipt promotions that raced the reconciliation.
	promo := p.tracker.Resolve(tempID, res.MessageID)
	promo = receipts.Max(promo, p.tracker.ConversationStatus(tentative.ReceiverID, res.CreatedAt))
	if promo > receipts.StatusSent {
		delivered, read := promo.Flags()
		p.store.MarkMessage(res.MessageID, store.ReceiptPatch{Delivered: delivered, Read: read})
		metrics.ReceiptPromotions.WithLabelValues(promo.String()).Inc()
	}

	metrics.RecordSend("reconciled")
	p.logger.Debugw("send reconciled",
		"partner_id", tentative.ReceiverID,
		"temp_id", tempID,
		"message_id", res.MessageID,
	)
}

func (p *Pipeline) rollback(tempID string, tentative model.Message, cause error) {
	p.store.Remove(tempID)
	p.tracker.Discard(tempID)
	metrics.RecordSend("rolled_back")

	notice := Notice{
		PartnerID: tentative.ReceiverID,
		TempID:    tempID,
		Body:      tentative.Body,
		Reason:    cause.Error(),
		At:        time.Now(),
	}

	p.mu.Lock()
	p.notices = append(p.notices, notice)
	if len(p.notices) > maxNotices {
		p.notices = p.notices[len(p.notices)-maxNotices:]
	}
	p.mu.Unlock()

	p.logger.Warnw("send rolled back",
		"partner_id", tentative.ReceiverID,
		"temp_id", tempID,
		"error", cause,
	)
}

// PendingSends returns the temporary ids still awaiting reconciliation for
// a partner.
func (p *Pipeline) PendingSends(partnerID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for tempID, pid := range p.inflight {
		if pid == partnerID {
			out = append(out, tempID)
		}
	}
	return out
}

// HasPending reports whether any send to the partner is unreconciled.
func (p *Pipeline) HasPending(partnerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pid := range p.inflight {
		if pid == partnerID {
			return true
		}
	}
	return false
}

// Notices returns the recent rollback notices, newest last.
func (p *Pipeline) Notices() []Notice {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Notice, len(p.notices))
	copy(out, p.notices)
	return out
}

// Flush blocks until every in-flight send has completed. Used on shutdown
// and in tests.
func (p *Pipeline) Flush() {
	p.wg.Wait()
}
