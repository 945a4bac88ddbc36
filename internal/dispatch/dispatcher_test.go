package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cipherchat/internal/events"
	"cipherchat/internal/metrics"
	"cipherchat/internal/models"
	"cipherchat/internal/presence"
)

// queueConn is a bounded send queue like the websocket client's.
type queueConn struct {
	id   string
	mu   sync.Mutex
	sent [][]byte
	cap  int
}

func (c *queueConn) ID() string { return c.id }

func (c *queueConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) >= c.cap {
		return false
	}
	c.sent = append(c.sent, data)
	return true
}

func (c *queueConn) Close() {}

func (c *queueConn) frames(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var f map[string]any
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishMessageCreated(ctx context.Context, ev events.MessageCreated) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func setup(t *testing.T) (*Dispatcher, *presence.Registry, *prometheus.Registry) {
	t.Helper()
	reg := presence.NewRegistry()
	promReg := prometheus.NewRegistry()
	return New(reg, nil, metrics.New(promReg), nil), reg, promReg
}

func dropped(t *testing.T, reg *prometheus.Registry, frameType, reason string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "chat_frames_dropped_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["type"] == frameType && labels["reason"] == reason {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestNotifyNewMessage_Delivered(t *testing.T) {
	d, reg, _ := setup(t)
	bob := &queueConn{id: "c1", cap: 4}
	reg.Register("bob", bob)

	msg := &models.Message{ID: 5, SenderID: "alice", ReceiverID: "bob", EncryptedContent: "ct", CreatedAt: time.Now()}
	d.NotifyNewMessage(context.Background(), msg)

	frames := bob.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "message", frames[0]["type"])
	data := frames[0]["data"].(map[string]any)
	assert.Equal(t, float64(5), data["id"])
	assert.Equal(t, "ct", data["encryptedContent"])
	assert.Equal(t, false, data["seen"])
}

func TestNotifySeenAndDeleted(t *testing.T) {
	d, reg, _ := setup(t)
	alice := &queueConn{id: "c1", cap: 4}
	reg.Register("alice", alice)

	d.NotifySeen(7, "alice")
	d.NotifyDeleted(8, "alice")

	frames := alice.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "seen", frames[0]["type"])
	assert.Equal(t, map[string]any{"messageId": float64(7)}, frames[0]["data"])
	assert.Equal(t, "delete", frames[1]["type"])
	assert.Equal(t, map[string]any{"messageId": float64(8)}, frames[1]["data"])
}

func TestNotify_OfflineIsSilent(t *testing.T) {
	d, _, m := setup(t)

	assert.NotPanics(t, func() {
		d.NotifySeen(1, "ghost")
		d.NotifyDeleted(1, "")
	})
	assert.Equal(t, 1.0, dropped(t, m, "seen", "offline"))
	assert.Equal(t, 1.0, dropped(t, m, "delete", "offline"))
}

func TestNotify_BackpressureDrops(t *testing.T) {
	d, reg, m := setup(t)
	slow := &queueConn{id: "c1", cap: 1}
	reg.Register("bob", slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			d.NotifySeen(int64(i), "bob")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher blocked on a full queue")
	}
	assert.Len(t, slow.frames(t), 1)
	assert.Equal(t, 2.0, dropped(t, m, "seen", "backpressure"))
}

func TestNotifyNewMessage_PublishesEvent(t *testing.T) {
	pub := &mockPublisher{}
	d := New(presence.NewRegistry(), pub, nil, nil)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	msg := &models.Message{ID: 3, SenderID: "a", ReceiverID: "b", EncryptedContent: "secret", CreatedAt: created}

	pub.On("PublishMessageCreated", mock.Anything, events.MessageCreated{
		MessageID: 3, SenderID: "a", ReceiverID: "b", CreatedAt: created,
	}).Return(errors.New("broker down")).Once()

	assert.NotPanics(t, func() { d.NotifyNewMessage(context.Background(), msg) })
	pub.AssertExpectations(t)
}
