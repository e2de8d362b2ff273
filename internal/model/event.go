package model

import (
	"time"
)

// EventType represents the type of an inbound push event.
type EventType string

const (
	EventNewMessage        EventType = "new_message"
	EventMessagesRead      EventType = "messages_read"
	EventMessageDelivered  EventType = "message_delivered"
	EventMessagesDelivered EventType = "messages_delivered"
)

// PushEnvelope is the wire shape of a push event. Which fields are set
// depends on Type.
type PushEnvelope struct {
	Type EventType `json:"type"`

	// new_message
	Message *WireMessage `json:"message,omitempty"`

	// messages_read
	ReaderID string     `json:"reader_id,omitempty"`
	ReadAt   *time.Time `json:"read_at,omitempty"`

	// message_delivered
	MessageID   string     `json:"message_id,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// messages_delivered
	ReceiverID string `json:"receiver_id,omitempty"`
}
