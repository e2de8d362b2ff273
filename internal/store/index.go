package store

import (
	"sort"
	"strings"

	"github.com/matchpulse/chatsync/internal/model"
)

// Conversations returns the conversation list sorted by most-recent-activity
// first, optionally filtered by a case-insensitive substring of the partner's
// display name. On equal timestamps the higher id wins, and temporary ids
// sort after canonical ones, so an unreconciled local send stays latest
// until confirmed or corrected.
func (s *Store) Conversations(filter string) []model.Conversation {
	filter = strings.ToLower(strings.TrimSpace(filter))

	type entry struct {
		conv   model.Conversation
		lastID string
	}

	s.mu.RLock()
	entries := make([]entry, 0, len(s.threads))
	for _, t := range s.threads {
		if filter != "" {
			name := t.conv.PartnerName
			if name == "" {
				name = t.conv.PartnerID
			}
			if !strings.Contains(strings.ToLower(name), filter) {
				continue
			}
		}
		e := entry{conv: t.conv}
		if n := len(t.messages); n > 0 {
			e.lastID = t.messages[n-1].ID
		}
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		li, lj := entries[i].conv.LastMessage, entries[j].conv.LastMessage
		switch {
		case li == nil && lj == nil:
			return entries[i].conv.PartnerID < entries[j].conv.PartnerID
		case li == nil:
			return false
		case lj == nil:
			return true
		}
		if !li.CreatedAt.Equal(lj.CreatedAt) {
			return li.CreatedAt.After(lj.CreatedAt)
		}
		return model.CompareIDs(entries[i].lastID, entries[j].lastID) > 0
	})

	out := make([]model.Conversation, len(entries))
	for i, e := range entries {
		out[i] = e.conv
	}
	return out
}
