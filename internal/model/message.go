// Package model defines data structures for the messaging synchronizer.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageType represents the kind of message payload.
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeMatchShare MessageType = "match_share"
)

// TempIDPrefix marks client-generated message ids that have not been
// confirmed by the server yet. Canonical server ids never start with it.
const TempIDPrefix = "tmp-"

// Message represents a direct message between the local user and a partner.
type Message struct {
	// Identity. Either a canonical server id or a local temporary id.
	ID         string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	// Content
	Type      MessageType     `json:"message_type"`
	Body      string          `json:"message"`
	MatchData json.RawMessage `json:"match_data,omitempty"`

	// Assigned locally on the optimistic write, overwritten by the
	// server's authoritative value on reconciliation.
	CreatedAt time.Time `json:"created_at"`

	// Receipt state. Read implies delivered.
	Delivered bool `json:"delivered"`
	Read      bool `json:"read"`
}

// IsTemp reports whether the message still carries a temporary id.
func (m Message) IsTemp() bool {
	return IsTempID(m.ID)
}

// IsTempID reports whether id is a client-generated temporary id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// CompareIDs orders message ids for the recency tie-break: temporary ids
// sort after every canonical id, so an unreconciled local send stays
// latest until confirmed.
func CompareIDs(a, b string) int {
	at, bt := IsTempID(a), IsTempID(b)
	switch {
	case at && !bt:
		return 1
	case !at && bt:
		return -1
	}
	return strings.Compare(a, b)
}

// WireMessage is the server's JSON shape for a message, used both by the
// history response and the new_message push event.
type WireMessage struct {
	MessageID   string          `json:"message_id"`
	SenderID    string          `json:"sender_id"`
	ReceiverID  string          `json:"receiver_id,omitempty"`
	Body        string          `json:"message"`
	MessageType MessageType     `json:"message_type"`
	MatchData   json.RawMessage `json:"match_data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Delivered   bool            `json:"delivered,omitempty"`
	Read        bool            `json:"read,omitempty"`
}

// ToMessage converts the wire shape into the internal message form.
func (w WireMessage) ToMessage() Message {
	typ := w.MessageType
	if typ == "" {
		typ = MessageTypeText
	}
	return Message{
		ID:         w.MessageID,
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Type:       typ,
		Body:       w.Body,
		MatchData:  w.MatchData,
		CreatedAt:  w.CreatedAt,
		Delivered:  w.Delivered || w.Read,
		Read:       w.Read,
	}
}
