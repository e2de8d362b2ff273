package model

import (
	"time"
)

// LastMessage is the summary of the most recent message in a conversation.
type LastMessage struct {
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	IsMine    bool      `json:"is_mine"`
}

// Conversation represents the thread between the local user and one partner.
type Conversation struct {
	PartnerID   string `json:"partner_id"`
	PartnerName string `json:"partner_name,omitempty"`

	LastMessage *LastMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`

	// Presence hints, advisory only. May be stale.
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ConversationPatch carries partial conversation metadata updates.
// Nil fields are left untouched.
type ConversationPatch struct {
	PartnerName *string
	IsOnline    *bool
	LastSeen    *time.Time
}
