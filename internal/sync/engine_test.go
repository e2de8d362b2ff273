package sync

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchpulse/chatsync/internal/chatapi"
	"github.com/matchpulse/chatsync/internal/dispatch"
	"github.com/matchpulse/chatsync/internal/model"
	"github.com/matchpulse/chatsync/internal/privacy"
	"github.com/matchpulse/chatsync/internal/receipts"
	"github.com/matchpulse/chatsync/internal/send"
	"github.com/matchpulse/chatsync/internal/store"
	"github.com/matchpulse/chatsync/pkg/logger"
)

const (
	me      = "user-me"
	partner = "user-partner"
)

type fakeBackend struct {
	mu stdsync.Mutex

	histories map[string]*chatapi.History
	histErr   error
	histGate  map[string]chan struct{}
	onHistory func(partnerID string)

	sendRes  chatapi.SendResult
	sendErr  error
	sendGate chan struct{}

	readCalls      []string
	deliveredCalls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		histories: make(map[string]*chatapi.History),
		histGate:  make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) GetChatHistory(ctx context.Context, partnerID string) (*chatapi.History, error) {
	f.mu.Lock()
	gate := f.histGate[partnerID]
	hook := f.onHistory
	f.mu.Unlock()
	if hook != nil {
		hook(partnerID)
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	if h, ok := f.histories[partnerID]; ok {
		return h, nil
	}
	return &chatapi.History{Partner: chatapi.Partner{ID: partnerID, DisplayName: partnerID}}, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, partnerID, body string, typ model.MessageType, matchData json.RawMessage) (chatapi.SendResult, error) {
	if f.sendGate != nil {
		<-f.sendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendRes, f.sendErr
}

func (f *fakeBackend) MarkMessagesRead(ctx context.Context, partnerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, partnerID)
	return nil
}

func (f *fakeBackend) MarkMessagesDelivered(ctx context.Context, partnerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveredCalls = append(f.deliveredCalls, partnerID)
	return nil
}

func (f *fakeBackend) readCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readCalls)
}

func newTestEngine(backend *fakeBackend) (*Engine, *store.Store, *dispatch.Dispatcher, *send.Pipeline) {
	st := store.New(me)
	d := dispatch.New(logger.NewNop())
	tracker := receipts.NewTracker()
	gate := privacy.NewGate()
	pipeline := send.New(st, backend, tracker, logger.NewNop())
	engine := New(st, d, pipeline, gate, tracker, backend, logger.NewNop())
	return engine, st, d, pipeline
}

func partnerMsg(id string, at time.Time) model.WireMessage {
	return model.WireMessage{
		MessageID:   id,
		SenderID:    partner,
		ReceiverID:  me,
		Body:        "hello",
		MessageType: model.MessageTypeText,
		CreatedAt:   at,
	}
}

func TestOpenChatLoadsHistoryAndMarksRead(t *testing.T) {
	backend := newFakeBackend()
	now := time.Now()
	backend.histories[partner] = &chatapi.History{
		Messages: []model.WireMessage{partnerMsg("m1", now.Add(-time.Minute)), partnerMsg("m2", now)},
		Partner:  chatapi.Partner{ID: partner, DisplayName: "Alex", IsOnline: true},
		Privacy:  model.PrivacyPolicy{ReadReceipts: true, DeliveryStatus: true},
	}

	engine, st, _, _ := newTestEngine(backend)
	defer engine.Close()

	require.NoError(t, engine.OpenChat(context.Background(), partner))

	assert.Equal(t, partner, engine.ActivePartner())
	assert.Equal(t, 0, engine.UnreadCount(partner), "opening the chat drives unread to zero")

	msgs := st.Messages(partner)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.True(t, m.Read)
	}

	conv, ok := st.Conversation(partner)
	require.True(t, ok)
	assert.Equal(t, "Alex", conv.PartnerName)
	assert.True(t, conv.IsOnline)

	assert.True(t, engine.ShowReceipts(partner))

	require.Eventually(t, func() bool { return backend.readCallCount() == 1 },
		time.Second, 10*time.Millisecond, "read notification round trip")
}

func TestOpenChatFailureLeavesStoreUntouched(t *testing.T) {
	backend := newFakeBackend()
	backend.histErr = context.DeadlineExceeded

	engine, st, _, _ := newTestEngine(backend)
	defer engine.Close()

	err := engine.OpenChat(context.Background(), partner)
	require.Error(t, err)
	assert.Empty(t, st.Messages(partner))
}

func TestStaleHistoryResponseDiscarded(t *testing.T) {
	backend := newFakeBackend()
	now := time.Now()
	backend.histories["p-slow"] = &chatapi.History{
		Messages: []model.WireMessage{{
			MessageID: "m1", SenderID: "p-slow", ReceiverID: me,
			Body: "late", MessageType: model.MessageTypeText, CreatedAt: now,
		}},
		Partner: chatapi.Partner{ID: "p-slow", DisplayName: "Slow"},
	}
	gate := make(chan struct{})
	backend.histGate["p-slow"] = gate
	started := make(chan struct{})
	backend.onHistory = func(partnerID string) {
		if partnerID == "p-slow" {
			close(started)
		}
	}

	engine, st, _, _ := newTestEngine(backend)
	defer engine.Close()

	var wg stdsync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.OpenChat(context.Background(), "p-slow")
	}()
	<-started

	// User switches away before the slow history arrives.
	require.NoError(t, engine.OpenChat(context.Background(), "p-fast"))
	close(gate)
	wg.Wait()

	assert.Empty(t, st.Messages("p-slow"), "late response for a stale chat is discarded")
	assert.Equal(t, "p-fast", engine.ActivePartner())
}

func TestNewMessageInactiveIncrementsUnread(t *testing.T) {
	backend := newFakeBackend()
	engine, _, d, _ := newTestEngine(backend)
	defer engine.Close()

	d.Dispatch(dispatch.NewMessage{Message: partnerMsg("m1", time.Now()).ToMessage()})

	assert.Equal(t, 1, engine.UnreadCount(partner))
	assert.Zero(t, backend.readCallCount())
}

func TestNewMessageActiveMarksReadImmediately(t *testing.T) {
	backend := newFakeBackend()
	engine, st, d, _ := newTestEngine(backend)
	defer engine.Close()

	require.NoError(t, engine.OpenChat(context.Background(), partner))

	d.Dispatch(dispatch.NewMessage{Message: partnerMsg("m1", time.Now()).ToMessage()})

	assert.Equal(t, 0, engine.UnreadCount(partner))
	msgs := st.Messages(partner)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)

	require.Eventually(t, func() bool { return backend.readCallCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestOwnEchoIgnoredWhilePending(t *testing.T) {
	backend := newFakeBackend()
	gate := make(chan struct{})
	backend.sendGate = gate
	backend.sendRes = chatapi.SendResult{MessageID: "m1", CreatedAt: time.Now(), Delivered: true}

	engine, st, d, pipeline := newTestEngine(backend)
	defer engine.Close()

	tentative := engine.Send(context.Background(), partner, "hi", model.MessageTypeText, nil)
	require.True(t, tentative.IsTemp())

	// Push echo of the same logical send arrives before the HTTP response.
	echo := model.Message{
		ID: "m1", SenderID: me, ReceiverID: partner,
		Type: model.MessageTypeText, Body: "hi", CreatedAt: time.Now(),
	}
	d.Dispatch(dispatch.NewMessage{Message: echo})

	require.Len(t, st.Messages(partner), 1, "echo must not duplicate a pending send")

	close(gate)
	pipeline.Flush()

	msgs := st.Messages(partner)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestMessagesDeliveredPromotesDeliveredOnly(t *testing.T) {
	backend := newFakeBackend()
	engine, st, d, _ := newTestEngine(backend)
	defer engine.Close()

	st.Append(partner, model.Message{
		ID: "m1", SenderID: me, ReceiverID: partner,
		Type: model.MessageTypeText, Body: "hi", CreatedAt: time.Now(),
	})

	d.Dispatch(dispatch.MessagesDelivered{ReceiverID: partner})

	msgs := st.Messages(partner)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Delivered)
	assert.False(t, msgs[0].Read, "delivered events never touch read")
}

func TestReceiptEventsOrderIndependent(t *testing.T) {
	base := time.Now()
	own := model.Message{
		ID: "m1", SenderID: me, ReceiverID: partner,
		Type: model.MessageTypeText, Body: "hi", CreatedAt: base,
	}
	events := []dispatch.Event{
		dispatch.NewMessage{Message: own},
		dispatch.MessageDelivered{MessageID: "m1", DeliveredAt: base.Add(time.Second)},
		dispatch.MessagesRead{ReaderID: partner, ReadAt: base.Add(2 * time.Second)},
	}

	for _, perm := range permutations(len(events)) {
		backend := newFakeBackend()
		engine, st, d, _ := newTestEngine(backend)

		for _, i := range perm {
			d.Dispatch(events[i])
		}

		msgs := st.Messages(partner)
		require.Len(t, msgs, 1, "permutation %v", perm)
		assert.Equal(t, "m1", msgs[0].ID, "permutation %v", perm)
		assert.True(t, msgs[0].Delivered, "permutation %v", perm)
		assert.True(t, msgs[0].Read, "permutation %v", perm)

		engine.Close()
	}
}

func TestReadStateMonotonicUnderDuplicates(t *testing.T) {
	backend := newFakeBackend()
	engine, st, d, _ := newTestEngine(backend)
	defer engine.Close()

	own := model.Message{
		ID: "m1", SenderID: me, ReceiverID: partner,
		Type: model.MessageTypeText, Body: "hi", CreatedAt: time.Now(),
	}
	d.Dispatch(dispatch.NewMessage{Message: own})
	d.Dispatch(dispatch.MessagesRead{ReaderID: partner, ReadAt: time.Now()})

	// Redeliveries and late delivered events must not regress read.
	d.Dispatch(dispatch.NewMessage{Message: own})
	d.Dispatch(dispatch.MessageDelivered{MessageID: "m1", DeliveredAt: time.Now()})
	d.Dispatch(dispatch.MessagesDelivered{ReceiverID: partner})

	msgs := st.Messages(partner)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
	assert.True(t, msgs[0].Delivered)
}

func TestPrivacyDoesNotBlockStateTracking(t *testing.T) {
	backend := newFakeBackend()
	backend.histories[partner] = &chatapi.History{
		Partner: chatapi.Partner{ID: partner, DisplayName: "Quiet"},
		Privacy: model.PrivacyPolicy{ReadReceipts: false, DeliveryStatus: false},
	}
	backend.sendRes = chatapi.SendResult{MessageID: "m1", CreatedAt: time.Now(), Delivered: true}

	engine, st, d, pipeline := newTestEngine(backend)
	defer engine.Close()

	require.NoError(t, engine.OpenChat(context.Background(), partner))
	engine.Send(context.Background(), partner, "hi", model.MessageTypeText, nil)
	pipeline.Flush()

	d.Dispatch(dispatch.MessagesRead{ReaderID: partner, ReadAt: time.Now()})

	// State is recorded regardless of the policy; only rendering is gated.
	msgs := st.Messages(partner)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
	assert.False(t, engine.ShowReceipts(partner))
}

// permutations returns every ordering of n indices.
func permutations(n int) [][]int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var out [][]int
	var rec func(k int)
	rec = func(k int) {
		if k == n {
			p := make([]int, n)
			copy(p, idx)
			out = append(out, p)
			return
		}
		for i := k; i < n; i++ {
			idx[k], idx[i] = idx[i], idx[k]
			rec(k + 1)
			idx[k], idx[i] = idx[i], idx[k]
		}
	}
	rec(0)
	return out
}
