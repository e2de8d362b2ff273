package dispatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchpulse/chatsync/internal/model"
	"github.com/matchpulse/chatsync/pkg/logger"
)

func TestDecodeNewMessage(t *testing.T) {
	data := []byte(`{
		"type": "new_message",
		"message": {
			"message_id": "m1",
			"sender_id": "p1",
			"message": "hi",
			"message_type": "text",
			"created_at": "2026-08-24T10:00:00Z"
		}
	}`)

	ev, err := Decode(data)
	require.NoError(t, err)

	nm, ok := ev.(NewMessage)
	require.True(t, ok)
	assert.Equal(t, "m1", nm.Message.ID)
	assert.Equal(t, "p1", nm.Message.SenderID)
	assert.Equal(t, model.MessageTypeText, nm.Message.Type)
	assert.Equal(t, model.EventNewMessage, ev.EventType())
}

func TestDecodeMessagesRead(t *testing.T) {
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	data := []byte(fmt.Sprintf(`{"type":"messages_read","reader_id":"p1","read_at":%q}`,
		at.Format(time.RFC3339)))

	ev, err := Decode(data)
	require.NoError(t, err)

	mr, ok := ev.(MessagesRead)
	require.True(t, ok)
	assert.Equal(t, "p1", mr.ReaderID)
	assert.True(t, mr.ReadAt.Equal(at))
}

func TestDecodeDeliveredVariants(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"message_delivered","message_id":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", ev.(MessageDelivered).MessageID)

	ev, err = Decode([]byte(`{"type":"messages_delivered","receiver_id":"p1"}`))
	require.NoError(t, err)
	assert.Equal(t, "p1", ev.(MessagesDelivered).ReceiverID)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"new_message"}`,
		`{"type":"new_message","message":{"sender_id":"p1"}}`,
		`{"type":"messages_read"}`,
		`{"type":"message_delivered"}`,
		`{"type":"messages_delivered"}`,
		`{"type":"unknown_event"}`,
	}
	for _, c := range cases {
		_, err := Decode([]byte(c))
		assert.ErrorIs(t, err, ErrMalformedEvent, c)
	}
}

func TestDispatchFansOutToAllSubscribers(t *testing.T) {
	d := New(logger.NewNop())

	var a, b int
	d.Subscribe(func(Event) { a++ })
	d.Subscribe(func(Event) { b++ })

	d.Dispatch(MessagesDelivered{ReceiverID: "p1"})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestUnsubscribeDuringDispatchIsSafe(t *testing.T) {
	d := New(logger.NewNop())

	calls := 0
	var unsub func()
	unsub = d.Subscribe(func(Event) {
		calls++
		unsub()
	})

	d.Dispatch(MessagesDelivered{ReceiverID: "p1"})
	d.Dispatch(MessagesDelivered{ReceiverID: "p1"})
	assert.Equal(t, 1, calls)
}

func TestDispatchRawDropsMalformedWithoutHalting(t *testing.T) {
	d := New(logger.NewNop())

	received := 0
	d.Subscribe(func(Event) { received++ })

	d.DispatchRaw([]byte(`{"type":"messages_read"}`))
	d.DispatchRaw([]byte(`{"type":"messages_read","reader_id":"p1"}`))

	assert.Equal(t, 1, received, "malformed payload must not stop later dispatch")
}
