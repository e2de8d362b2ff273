package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/matchpulse/chatsync/internal/model"
)

const (
	// StreamName is the name of the DM push-event stream.
	StreamName = "DM_EVENTS"

	// SubjectPrefix is the prefix for all DM event subjects.
	SubjectPrefix = "dm"
)

// StreamManager handles JetStream stream operations for push events.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the push-event stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Direct-message push events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for one user's event of a given type.
func EventSubject(userID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, userID, eventType)
}

// UserFilter returns the filter subject matching all of a user's events.
func UserFilter(userID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, userID)
}

// ConsumePush creates (or resumes) the durable consumer for a user's push
// events and delivers each payload to the handler. Messages are acked only
// after the handler returns, giving at-least-once delivery; the handlers
// downstream are idempotent merges, so redelivery is harmless.
func (m *StreamManager) ConsumePush(ctx context.Context, userID, durable string, handler func([]byte)) (jetstream.ConsumeContext, error) {
	cons, err := m.client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: UserFilter(userID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		handler(msg.Data())
		if err := msg.Ack(); err != nil {
			m.client.logger.Warnw("failed to ack push event", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	return cc, nil
}
