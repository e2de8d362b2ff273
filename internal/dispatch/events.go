// Package dispatch is the single subscription point for inbound push
// events. It decodes the wire envelope into typed events and fans them out
// to every registered handler.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matchpulse/chatsync/internal/model"
)

// Event is the tagged union of push event variants.
type Event interface {
	EventType() model.EventType
}

// NewMessage carries an inbound message for the local user.
type NewMessage struct {
	Message model.Message
}

func (NewMessage) EventType() model.EventType { return model.EventNewMessage }

// MessagesRead reports that the partner read the whole conversation.
type MessagesRead struct {
	ReaderID string
	ReadAt   time.Time
}

func (MessagesRead) EventType() model.EventType { return model.EventMessagesRead }

// MessageDelivered reports delivery of a single message.
type MessageDelivered struct {
	MessageID   string
	DeliveredAt time.Time
}

func (MessageDelivered) EventType() model.EventType { return model.EventMessageDelivered }

// MessagesDelivered reports delivery of every pending message to a receiver.
type MessagesDelivered struct {
	ReceiverID string
}

func (MessagesDelivered) EventType() model.EventType { return model.EventMessagesDelivered }

// ErrMalformedEvent is returned for payloads missing required identity
// fields. Such events are dropped; they never halt dispatch.
var ErrMalformedEvent = errors.New("malformed push event")

// Decode parses a wire payload into a typed event, validating that it
// carries enough identity to route unambiguously.
func Decode(data []byte) (Event, error) {
	var env model.PushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case model.EventNewMessage:
		if env.Message == nil || env.Message.MessageID == "" || env.Message.SenderID == "" {
			return nil, fmt.Errorf("%w: new_message missing message identity", ErrMalformedEvent)
		}
		return NewMessage{Message: env.Message.ToMessage()}, nil

	case model.EventMessagesRead:
		if env.ReaderID == "" {
			return nil, fmt.Errorf("%w: messages_read missing reader_id", ErrMalformedEvent)
		}
		ev := MessagesRead{ReaderID: env.ReaderID}
		if env.ReadAt != nil {
			ev.ReadAt = *env.ReadAt
		}
		return ev, nil

	case model.EventMessageDelivered:
		if env.MessageID == "" {
			return nil, fmt.Errorf("%w: message_delivered missing message_id", ErrMalformedEvent)
		}
		ev := MessageDelivered{MessageID: env.MessageID}
		if env.DeliveredAt != nil {
			ev.DeliveredAt = *env.DeliveredAt
		}
		return ev, nil

	case model.EventMessagesDelivered:
		if env.ReceiverID == "" {
			return nil, fmt.Errorf("%w: messages_delivered missing receiver_id", ErrMalformedEvent)
		}
		return MessagesDelivered{ReceiverID: env.ReceiverID}, nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, env.Type)
}
