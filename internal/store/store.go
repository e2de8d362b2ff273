// Package store holds the authoritative per-session cache of conversations
// and their messages. It is the single writer for message state: the send
// pipeline and the event dispatcher both route their mutations through it,
// and every entry point is an idempotent merge, so ordering races between
// them cannot corrupt state.
package store

import (
	"sort"
	"sync"

	"github.com/matchpulse/chatsync/internal/model"
	"github.com/matchpulse/chatsync/internal/receipts"
)

// ChangeKind classifies a store change notification.
type ChangeKind string

const (
	ChangeConversation ChangeKind = "conversation"
	ChangeMessage      ChangeKind = "message"
	ChangeRemoved      ChangeKind = "removed"
)

// Change describes a single store mutation, delivered to subscribers.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	PartnerID string     `json:"partner_id"`
	MessageID string     `json:"message_id,omitempty"`
}

// ReceiptPatch names the receipt promotions to apply. True means promote;
// false leaves the field alone. Demotions are impossible by construction.
type ReceiptPatch struct {
	Delivered bool
	Read      bool
}

type thread struct {
	conv     model.Conversation
	messages []model.Message
}

// Store is the in-memory message and conversation cache for one session.
type Store struct {
	mu          sync.RWMutex
	localUserID string

	threads      map[string]*thread
	partnerByMsg map[string]string

	subMu   sync.RWMutex
	subs    map[int]func(Change)
	nextSub int
}

// New creates an empty store owned by the given local user.
func New(localUserID string) *Store {
	return &Store{
		localUserID:  localUserID,
		threads:      make(map[string]*thread),
		partnerByMsg: make(map[string]string),
		subs:         make(map[int]func(Change)),
	}
}

// LocalUserID returns the session owner's id.
func (s *Store) LocalUserID() string {
	return s.localUserID
}

// Subscribe registers a change listener and returns its unsubscribe func.
// Listeners are invoked outside the store lock, from a snapshot, so
// unsubscribing during a notification is safe.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(changes ...Change) {
	s.subMu.RLock()
	snapshot := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		snapshot = append(snapshot, fn)
	}
	s.subMu.RUnlock()

	for _, ch := range changes {
		for _, fn := range snapshot {
			fn(ch)
		}
	}
}

func (s *Store) threadLocked(partnerID string) *thread {
	t, ok := s.threads[partnerID]
	if !ok {
		t = &thread{conv: model.Conversation{PartnerID: partnerID}}
		s.threads[partnerID] = t
	}
	return t
}

// Append inserts a message into the partner's log. Appending an id that
// already exists is a no-op merge: receipt flags only ever advance, and
// content fields are filled in where the stored copy is empty.
func (s *Store) Append(partnerID string, msg model.Message) {
	s.mu.Lock()
	t := s.threadLocked(partnerID)

	if idx := findMessage(t.messages, msg.ID); idx >= 0 {
		existing := &t.messages[idx]
		existing.Delivered, existing.Read = receipts.MergeFlags(
			existing.Delivered, existing.Read, msg.Delivered, msg.Read)
		if existing.Body == "" {
			existing.Body = msg.Body
		}
		if existing.MatchData == nil {
			existing.MatchData = msg.MatchData
		}
		if !msg.CreatedAt.IsZero() {
			existing.CreatedAt = msg.CreatedAt
		}
		sortMessages(t.messages)
	} else {
		msg.Delivered = msg.Delivered || msg.Read
		t.messages = append(t.messages, msg)
		sortMessages(t.messages)
		s.partnerByMsg[msg.ID] = partnerID
	}

	s.recomputeLocked(t)
	s.mu.Unlock()

	s.notify(
		Change{Kind: ChangeMessage, PartnerID: partnerID, MessageID: msg.ID},
		Change{Kind: ChangeConversation, PartnerID: partnerID},
	)
}

// Replace atomically swaps a temporary entry for its canonical form,
// keeping receipt flags monotone across the swap: promotions that landed on
// the temporary entry survive reconciliation. An unknown temp id is a no-op
// (already reconciled or rolled back), never an error.
func (s *Store) Replace(tempID string, canonical model.Message) bool {
	s.mu.Lock()
	partnerID, ok := s.partnerByMsg[tempID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	t := s.threads[partnerID]
	idx := findMessage(t.messages, tempID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	old := t.messages[idx]
	canonical.Delivered, canonical.Read = receipts.MergeFlags(
		old.Delivered, old.Read, canonical.Delivered, canonical.Read)
	if canonical.Body == "" {
		canonical.Body = old.Body
	}
	if canonical.MatchData == nil {
		canonical.MatchData = old.MatchData
	}
	if canonical.CreatedAt.IsZero() {
		canonical.CreatedAt = old.CreatedAt
	}

	t.messages[idx] = canonical
	sortMessages(t.messages)
	delete(s.partnerByMsg, tempID)
	s.partnerByMsg[canonical.ID] = partnerID

	s.recomputeLocked(t)
	s.mu.Unlock()

	s.notify(
		Change{Kind: ChangeMessage, PartnerID: partnerID, MessageID: canonical.ID},
		Change{Kind: ChangeConversation, PartnerID: partnerID},
	)
	return true
}

// Remove deletes a tentative entry, rolling back an optimistic send.
// Unknown ids are a no-op.
func (s *Store) Remove(tempID string) bool {
	s.mu.Lock()
	partnerID, ok := s.partnerByMsg[tempID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	t := s.threads[partnerID]
	idx := findMessage(t.messages, tempID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	delete(s.partnerByMsg, tempID)

	s.recomputeLocked(t)
	s.mu.Unlock()

	s.notify(
		Change{Kind: ChangeRemoved, PartnerID: partnerID, MessageID: tempID},
		Change{Kind: ChangeConversation, PartnerID: partnerID},
	)
	return true
}

// MarkRange promotes receipt state on every message in the conversation
// matching pred. Returns the number of messages that actually changed.
func (s *Store) MarkRange(partnerID string, pred func(model.Message) bool, patch ReceiptPatch) int {
	s.mu.Lock()
	t, ok := s.threads[partnerID]
	if !ok {
		s.mu.Unlock()
		return 0
	}

	changed := 0
	for i := range t.messages {
		if !pred(t.messages[i]) {
			continue
		}
		m := &t.messages[i]
		d, r := receipts.MergeFlags(m.Delivered, m.Read, patch.Delivered, patch.Read)
		if d != m.Delivered || r != m.Read {
			m.Delivered, m.Read = d, r
			changed++
		}
	}

	if changed > 0 {
		s.recomputeLocked(t)
	}
	s.mu.Unlock()

	if changed > 0 {
		s.notify(Change{Kind: ChangeConversation, PartnerID: partnerID})
	}
	return changed
}

// MarkMessage promotes receipt state on a single message looked up by id
// across all conversations. Returns false when the id is unknown.
func (s *Store) MarkMessage(messageID string, patch ReceiptPatch) bool {
	s.mu.RLock()
	partnerID, ok := s.partnerByMsg[messageID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	s.MarkRange(partnerID, func(m model.Message) bool {
		return m.ID == messageID
	}, patch)
	return true
}

// UpsertConversation creates or updates conversation metadata.
func (s *Store) UpsertConversation(partnerID string, patch model.ConversationPatch) {
	s.mu.Lock()
	t := s.threadLocked(partnerID)
	if patch.PartnerName != nil {
		t.conv.PartnerName = *patch.PartnerName
	}
	if patch.IsOnline != nil {
		t.conv.IsOnline = *patch.IsOnline
	}
	if patch.LastSeen != nil {
		t.conv.LastSeen = patch.LastSeen
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConversation, PartnerID: partnerID})
}

// Conversation returns a copy of the conversation metadata.
func (s *Store) Conversation(partnerID string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[partnerID]
	if !ok {
		return model.Conversation{}, false
	}
	return t.conv, true
}

// Messages returns a copy of the partner's ordered message log.
func (s *Store) Messages(partnerID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[partnerID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// UnreadCount returns the number of partner-authored messages not yet read.
func (s *Store) UnreadCount(partnerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[partnerID]
	if !ok {
		return 0
	}
	return t.conv.UnreadCount
}

// HasMessage reports whether a message id is present in any conversation.
func (s *Store) HasMessage(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.partnerByMsg[messageID]
	return ok
}

// recomputeLocked refreshes the derived conversation fields after any
// message mutation. Caller holds the write lock.
func (s *Store) recomputeLocked(t *thread) {
	unread := 0
	for i := range t.messages {
		if t.messages[i].SenderID != s.localUserID && !t.messages[i].Read {
			unread++
		}
	}
	t.conv.UnreadCount = unread

	if len(t.messages) == 0 {
		t.conv.LastMessage = nil
		return
	}
	last := t.messages[len(t.messages)-1]
	t.conv.LastMessage = &model.LastMessage{
		Body:      last.Body,
		CreatedAt: last.CreatedAt,
		IsMine:    last.SenderID == s.localUserID,
	}
}

func findMessage(msgs []model.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// sortMessages keeps the log ordered by authoritative timestamp with the
// canonical-id tie-break.
func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return model.CompareIDs(msgs[i].ID, msgs[j].ID) < 0
	})
}
