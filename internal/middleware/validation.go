package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/matchpulse/chatsync/internal/model"
)

// ValidateMessageBody validates outbound message text.
func ValidateMessageBody(body string) error {
	if len(body) == 0 {
		return errors.New("message cannot be empty")
	}
	if len(body) > 4096 {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidatePartnerID validates a partner identifier.
func ValidatePartnerID(id string) error {
	if len(id) == 0 {
		return errors.New("partner ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("partner ID exceeds maximum length")
	}
	return nil
}

// ValidateMessageType validates the message type field.
func ValidateMessageType(typ model.MessageType) error {
	switch typ {
	case "", model.MessageTypeText, model.MessageTypeMatchShare:
		return nil
	}
	return errors.New("unsupported message type")
}
