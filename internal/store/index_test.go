package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchpulse/chatsync/internal/model"
)

func seedConversation(s *Store, partnerID, name, msgID string, at time.Time) {
	s.UpsertConversation(partnerID, model.ConversationPatch{PartnerName: &name})
	s.Append(partnerID, model.Message{
		ID:         msgID,
		SenderID:   partnerID,
		ReceiverID: s.LocalUserID(),
		Type:       model.MessageTypeText,
		Body:       "hi",
		CreatedAt:  at,
	})
}

func TestConversationsSortedByRecency(t *testing.T) {
	s := New(me)
	now := time.Now()

	seedConversation(s, "p-old", "Older", "m1", now.Add(-time.Hour))
	seedConversation(s, "p-new", "Newer", "m2", now)

	convs := s.Conversations("")
	require.Len(t, convs, 2)
	assert.Equal(t, "p-new", convs[0].PartnerID)
	assert.Equal(t, "p-old", convs[1].PartnerID)
}

func TestConversationsFilterCaseInsensitive(t *testing.T) {
	s := New(me)
	now := time.Now()

	seedConversation(s, "p1", "Alex Morgan", "m1", now)
	seedConversation(s, "p2", "Jordan", "m2", now.Add(time.Second))

	convs := s.Conversations("aLeX")
	require.Len(t, convs, 1)
	assert.Equal(t, "p1", convs[0].PartnerID)

	assert.Len(t, s.Conversations("nobody"), 0)
	assert.Len(t, s.Conversations(""), 2)
}

func TestConversationsTieBreakOnEqualTimestamps(t *testing.T) {
	s := New(me)
	now := time.Now()

	// Same last-activity instant: the pending local send wins, and between
	// canonical ids the higher one wins.
	seedConversation(s, "p1", "A", "m1", now)
	seedConversation(s, "p2", "B", "m2", now)
	s.Append("p3", model.Message{
		ID:         "tmp-000000000001",
		SenderID:   me,
		ReceiverID: "p3",
		Type:       model.MessageTypeText,
		Body:       "pending",
		CreatedAt:  now,
	})

	convs := s.Conversations("")
	require.Len(t, convs, 3)
	assert.Equal(t, "p3", convs[0].PartnerID, "temp id sorts latest")
	assert.Equal(t, "p2", convs[1].PartnerID)
	assert.Equal(t, "p1", convs[2].PartnerID)
}

func TestConversationsWithoutMessagesSortLast(t *testing.T) {
	s := New(me)

	name := "Empty"
	s.UpsertConversation("p-empty", model.ConversationPatch{PartnerName: &name})
	seedConversation(s, "p-full", "Full", "m1", time.Now())

	convs := s.Conversations("")
	require.Len(t, convs, 2)
	assert.Equal(t, "p-full", convs[0].PartnerID)
	assert.Equal(t, "p-empty", convs[1].PartnerID)
}
