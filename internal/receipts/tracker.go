package receipts

import (
	"sync"
	"time"
)

// Tracker parks receipt promotions that cannot be applied yet. Three races
// need it: a conversation-level read/delivered event arriving while a local
// send still carries its temporary id, a message_delivered event whose
// canonical id is not in the store yet because the send response is
// delayed, and a conversation-level event arriving before the message it
// covers exists locally at all. Promotions are consumed when the owning
// message appears or reconciles.
type Tracker struct {
	mu sync.Mutex

	// pending promotions keyed by temporary id
	pending map[string]Status

	// delivered promotions keyed by canonical id with no matching message
	unmatched map[string]struct{}

	// conversation-level watermarks keyed by partner id
	watermarks map[string]watermark
}

type watermark struct {
	deliveredUntil time.Time
	readUntil      time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending:    make(map[string]Status),
		unmatched:  make(map[string]struct{}),
		watermarks: make(map[string]watermark),
	}
}

// Defer records a promotion for a message known only by its temporary id.
// Repeated calls keep the most advanced status.
func (t *Tracker) Defer(tempID string, s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending[tempID] = Max(t.pending[tempID], s)
}

// NoteDelivered records a delivered promotion for a canonical id that did
// not match any stored message.
func (t *Tracker) NoteDelivered(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unmatched[messageID] = struct{}{}
}

// TakeDelivered consumes a parked delivered promotion for a canonical id.
func (t *Tracker) TakeDelivered(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.unmatched[messageID]; !ok {
		return false
	}
	delete(t.unmatched, messageID)
	return true
}

// NoteConversation records a conversation-level receipt watermark: every
// own message with an authoritative timestamp at or before `at` is covered
// by status s, even if it does not exist locally yet.
func (t *Tracker) NoteConversation(partnerID string, s Status, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.watermarks[partnerID]
	if s >= StatusDelivered {
		w.deliveredUntil = laterTime(w.deliveredUntil, at)
	}
	if s >= StatusRead {
		w.readUntil = laterTime(w.readUntil, at)
	}
	t.watermarks[partnerID] = w
}

// ConversationStatus returns the watermark status covering a message with
// the given authoritative timestamp.
func (t *Tracker) ConversationStatus(partnerID string, createdAt time.Time) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.watermarks[partnerID]
	if !ok {
		return StatusSent
	}
	if !w.readUntil.IsZero() && !createdAt.After(w.readUntil) {
		return StatusRead
	}
	if !w.deliveredUntil.IsZero() && !createdAt.After(w.deliveredUntil) {
		return StatusDelivered
	}
	return StatusSent
}

// Resolve consumes any promotions owed to a reconciled send, identified by
// its old temporary id and its new canonical id.
func (t *Tracker) Resolve(tempID, canonicalID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.pending[tempID]
	if ok {
		delete(t.pending, tempID)
	} else {
		s = StatusSent
	}

	if _, ok := t.unmatched[canonicalID]; ok {
		delete(t.unmatched, canonicalID)
		s = Max(s, StatusDelivered)
	}

	return s
}

// Discard drops any promotion parked for a temporary id. Called when a send
// is rolled back.
func (t *Tracker) Discard(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, tempID)
}

func laterTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
