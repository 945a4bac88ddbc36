package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cipherchat/internal/apperr"
	"cipherchat/internal/models"
	"cipherchat/internal/presence"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, content)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockStore) MarkSeen(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) DeleteMessage(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyNewMessage(ctx context.Context, msg *models.Message) {
	m.Called(ctx, msg)
}

func (m *mockNotifier) NotifySeen(messageID int64, senderID string) {
	m.Called(messageID, senderID)
}

func (m *mockNotifier) NotifyDeleted(messageID int64, counterpartyID string) {
	m.Called(messageID, counterpartyID)
}

type stubConn struct {
	id string

	mu        sync.Mutex
	closed    bool
	closeCode int
}

func (c *stubConn) ID() string         { return c.id }
func (c *stubConn) Send(_ []byte) bool { return true }
func (c *stubConn) Close()             { c.CloseWith(1000, "") }

func (c *stubConn) CloseWith(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
}

type fixture struct {
	session  *Session
	conn     *stubConn
	store    *mockStore
	notifier *mockNotifier
	registry *presence.Registry
}

func newFixture(t *testing.T, caller string) *fixture {
	t.Helper()
	f := &fixture{
		conn:     &stubConn{id: "conn-1"},
		store:    &mockStore{},
		notifier: &mockNotifier{},
		registry: presence.NewRegistry(),
	}
	f.session = NewSession(f.conn, caller, f.store, f.notifier, f.registry, nil, nil)
	t.Cleanup(func() {
		f.store.AssertExpectations(t)
		f.notifier.AssertExpectations(t)
	})
	return f
}

func (f *fixture) frame(raw string) {
	f.session.HandleFrame(context.Background(), []byte(raw))
}

func (f *fixture) authenticate(t *testing.T, userID string) {
	t.Helper()
	f.frame(`{"type":"auth","data":{"userId":"` + userID + `"}}`)
	require.Equal(t, Authenticated, f.session.State())
}

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []State
		ok    bool
	}{
		{"auth then close", []State{Authenticated, Closed}, true},
		{"close unauthenticated", []State{Closed}, true},
		{"re-auth", []State{Authenticated, Authenticated}, false},
		{"reopen", []State{Closed, Authenticated}, false},
		{"double close", []State{Closed, Closed}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine()
			var err error
			for _, s := range tt.steps {
				if err = m.Transition(s); err != nil {
					break
				}
			}
			assert.Equal(t, tt.ok, err == nil)
		})
	}
}

func TestSession_IgnoresFramesBeforeAuth(t *testing.T) {
	f := newFixture(t, "alice")

	f.frame(`{"type":"message","receiverId":"bob","data":{"content":"hi"}}`)
	f.frame(`{"type":"seen","data":{"messageId":1,"senderId":"bob"}}`)

	assert.Equal(t, Unauthenticated, f.session.State())
	_, ok := f.registry.Lookup("alice")
	assert.False(t, ok)
}

func TestSession_Authenticate(t *testing.T) {
	f := newFixture(t, "alice")

	f.authenticate(t, "alice")

	assert.Equal(t, "alice", f.session.UserID())
	conn, ok := f.registry.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-1", conn.ID())
}

func TestSession_AuthFallsBackToSenderID(t *testing.T) {
	f := newFixture(t, "alice")

	f.frame(`{"type":"auth","senderId":"alice"}`)

	assert.Equal(t, Authenticated, f.session.State())
}

func TestSession_AuthRejected(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"other user", `{"type":"auth","data":{"userId":"mallory"}}`},
		{"missing user", `{"type":"auth","data":{}}`},
		{"garbage", `{"type":"auth",`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "alice")
			f.frame(tt.raw)
			assert.Equal(t, Unauthenticated, f.session.State())
			assert.Zero(t, f.registry.Len())
		})
	}
}

func TestSession_Message(t *testing.T) {
	f := newFixture(t, "alice")
	f.authenticate(t, "alice")

	stored := &models.Message{ID: 1, SenderID: "alice", ReceiverID: "bob", EncryptedContent: "ct", CreatedAt: time.Now()}
	f.store.On("CreateMessage", mock.Anything, "alice", "bob", "ct").Return(stored, nil).Once()
	f.notifier.On("NotifyNewMessage", mock.Anything, stored).Once()

	f.frame(`{"type":"message","receiverId":"bob","data":{"content":"ct"}}`)
}

func TestSession_MessageRejected(t *testing.T) {
	f := newFixture(t, "alice")
	f.authenticate(t, "alice")

	f.store.On("CreateMessage", mock.Anything, "alice", "bob", "  ").Return(nil, apperr.ErrEmptyContent).Once()

	f.frame(`{"type":"message","senderId":"mallory","receiverId":"bob","data":{"content":"ct"}}`)
	f.frame(`{"type":"message","receiverId":"bob","data":{"content":"  "}}`)
	f.frame(`{"type":"message","receiverId":"bob","data":"not an object"}`)
	f.frame(`not json at all`)

	assert.Equal(t, Authenticated, f.session.State(), "bad frames keep the session open")
}

func TestSession_Seen(t *testing.T) {
	f := newFixture(t, "bob")
	f.authenticate(t, "bob")

	f.store.On("MarkSeen", mock.Anything, int64(7)).Return(true, nil).Once()
	f.notifier.On("NotifySeen", int64(7), "alice").Once()
	f.frame(`{"type":"seen","data":{"messageId":7,"senderId":"alice"}}`)

	f.store.On("MarkSeen", mock.Anything, int64(8)).Return(false, nil).Once()
	f.frame(`{"type":"seen","data":{"messageId":8,"senderId":"alice"}}`)
}

func TestSession_SeenResolvesSender(t *testing.T) {
	f := newFixture(t, "bob")
	f.authenticate(t, "bob")

	f.store.On("GetMessage", mock.Anything, int64(3)).
		Return(&models.Message{ID: 3, SenderID: "alice", ReceiverID: "bob"}, nil).Once()
	f.store.On("MarkSeen", mock.Anything, int64(3)).Return(true, nil).Once()
	f.notifier.On("NotifySeen", int64(3), "alice").Once()

	f.frame(`{"type":"seen","data":{"messageId":3}}`)
}

func TestSession_Delete(t *testing.T) {
	f := newFixture(t, "alice")
	f.authenticate(t, "alice")

	f.store.On("GetMessage", mock.Anything, int64(4)).
		Return(&models.Message{ID: 4, SenderID: "alice", ReceiverID: "bob"}, nil).Once()
	f.store.On("DeleteMessage", mock.Anything, int64(4)).Return(true, nil).Once()
	f.notifier.On("NotifyDeleted", int64(4), "bob").Once()

	f.frame(`{"type":"delete","senderId":"alice","receiverId":"bob","data":{"messageId":4}}`)
}

func TestSession_DeleteByNonParticipant(t *testing.T) {
	f := newFixture(t, "mallory")
	f.authenticate(t, "mallory")

	f.store.On("GetMessage", mock.Anything, int64(4)).
		Return(&models.Message{ID: 4, SenderID: "alice", ReceiverID: "bob"}, nil).Once()

	f.frame(`{"type":"delete","data":{"messageId":4}}`)
}

func TestSession_DeleteUnknown(t *testing.T) {
	f := newFixture(t, "alice")
	f.authenticate(t, "alice")

	f.store.On("GetMessage", mock.Anything, int64(9)).Return(nil, apperr.ErrMessageNotFound).Once()

	f.frame(`{"type":"delete","data":{"messageId":9}}`)
	f.frame(`{"type":"delete","data":{"messageId":0}}`)
}

func TestSession_CloseUnregisters(t *testing.T) {
	f := newFixture(t, "alice")
	f.authenticate(t, "alice")

	f.session.Close()

	assert.Equal(t, Closed, f.session.State())
	_, ok := f.registry.Lookup("alice")
	assert.False(t, ok)

	f.frame(`{"type":"message","receiverId":"bob","data":{"content":"late"}}`)
	f.session.Close()
}

func TestSession_Supersede(t *testing.T) {
	registry := presence.NewRegistry()
	store, notifier := &mockStore{}, &mockNotifier{}

	x := &stubConn{id: "x"}
	y := &stubConn{id: "y"}
	first := NewSession(x, "alice", store, notifier, registry, nil, nil)
	second := NewSession(y, "alice", store, notifier, registry, nil, nil)

	auth := []byte(`{"type":"auth","data":{"userId":"alice"}}`)
	first.HandleFrame(context.Background(), auth)
	second.HandleFrame(context.Background(), auth)

	assert.True(t, x.closed)
	assert.Equal(t, CloseSuperseded, x.closeCode)

	first.Close()

	conn, ok := registry.Lookup("alice")
	require.True(t, ok, "the old session must not evict its replacement")
	assert.Equal(t, "y", conn.ID())
}
