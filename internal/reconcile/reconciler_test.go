package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cipherchat/internal/db"
	"cipherchat/internal/models"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifySeen(messageID int64, senderID string) {
	m.Called(messageID, senderID)
}

type fakeStore struct {
	messages []models.Message
	seen     map[int64]bool
	listErr  error
}

func (s *fakeStore) ListConversation(context.Context, string, string) ([]models.Message, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	for i := range out {
		out[i].Seen = out[i].Seen || s.seen[out[i].ID]
	}
	return out, nil
}

func (s *fakeStore) FlipSeen(_ context.Context, id int64) (bool, bool, error) {
	for _, m := range s.messages {
		if m.ID == id {
			flipped := !m.Seen && !s.seen[id]
			s.seen[id] = true
			return flipped, true, nil
		}
	}
	return false, false, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	calls map[int64]int
}

func (n *countingNotifier) NotifySeen(messageID int64, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[messageID]++
}

func TestGetConversation_MarksIncomingOnly(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		seen: map[int64]bool{},
		messages: []models.Message{
			{ID: 1, SenderID: "alice", ReceiverID: "bob", EncryptedContent: "a", CreatedAt: now},
			{ID: 2, SenderID: "bob", ReceiverID: "alice", EncryptedContent: "b", CreatedAt: now},
		},
	}
	notifier := &mockNotifier{}
	notifier.On("NotifySeen", int64(1), "alice").Once()

	r := New(store, notifier, 10*time.Minute, nil, WithClock(func() time.Time { return now }))

	got, err := r.GetConversation(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Seen)
	assert.False(t, got[1].Seen, "own outgoing message is not marked")

	// Polling again changes nothing and notifies nobody.
	got, err = r.GetConversation(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	notifier.AssertExpectations(t)
}

func TestGetConversation_DropsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		seen: map[int64]bool{},
		messages: []models.Message{
			{ID: 1, SenderID: "alice", ReceiverID: "bob", Seen: true, CreatedAt: now.Add(-11 * time.Minute)},
			{ID: 2, SenderID: "alice", ReceiverID: "bob", Seen: false, CreatedAt: now.Add(-time.Hour)},
		},
	}
	notifier := &mockNotifier{}
	notifier.On("NotifySeen", int64(2), "alice").Once()

	r := New(store, notifier, 10*time.Minute, nil, WithClock(func() time.Time { return now }))

	got, err := r.GetConversation(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID, "unseen messages never expire by age")
	notifier.AssertExpectations(t)
}

func TestGetConversation_StoreError(t *testing.T) {
	r := New(&fakeStore{listErr: errors.New("boom")}, &mockNotifier{}, time.Minute, nil)

	_, err := r.GetConversation(context.Background(), "a", "b")
	assert.Error(t, err)
}

func TestGetConversation_AgainstStore(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Migrate()
	require.NoError(t, err)

	ctx := context.Background()
	msg, err := store.CreateMessage(ctx, "u1", "u2", "hello")
	require.NoError(t, err)

	notifier := &mockNotifier{}
	notifier.On("NotifySeen", msg.ID, "u1").Once()
	r := New(store, notifier, store.Retention(), nil)

	got, err := r.GetConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Seen)

	persisted, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, persisted.Seen)
	notifier.AssertExpectations(t)
}

func TestGetConversation_VanishedMessageIsSkipped(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &vanishingStore{fakeStore: fakeStore{
		seen: map[int64]bool{},
		messages: []models.Message{
			{ID: 1, SenderID: "alice", ReceiverID: "bob", EncryptedContent: "a", CreatedAt: now},
		},
	}}

	r := New(store, &mockNotifier{}, 10*time.Minute, nil, WithClock(func() time.Time { return now }))

	got, err := r.GetConversation(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// vanishingStore lists messages that are gone by the time they are marked.
type vanishingStore struct {
	fakeStore
}

func (s *vanishingStore) FlipSeen(context.Context, int64) (bool, bool, error) {
	return false, false, nil
}

func TestGetConversation_ConcurrentPullsNotifyOnce(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Migrate()
	require.NoError(t, err)

	ctx := context.Background()
	var ids []int64
	for i := 0; i < 5; i++ {
		msg, err := store.CreateMessage(ctx, "u1", "u2", "hello")
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	notifier := &countingNotifier{calls: map[int64]int{}}
	r := New(store, notifier, store.Retention(), nil)

	const pulls = 8
	errs := make(chan error, pulls)
	var wg sync.WaitGroup
	for i := 0; i < pulls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.GetConversation(ctx, "u2", "u1")
			if err == nil && len(got) != len(ids) {
				err = errors.New("pull returned a partial conversation")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	for _, id := range ids {
		assert.Equal(t, 1, notifier.calls[id], "message %d", id)
	}
}
