package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cipherchat/internal/logging"
	"cipherchat/internal/models"
)

type Store interface {
	ListConversation(ctx context.Context, a, b string) ([]models.Message, error)
	FlipSeen(ctx context.Context, id int64) (flipped, found bool, err error)
}

type Notifier interface {
	NotifySeen(messageID int64, senderID string)
}

// Reconciler serves the pull path. Reading a conversation marks every unseen
// message addressed to the reader as seen and tells the sender once per
// message, however many pulls race on it.
type Reconciler struct {
	store     Store
	notifier  Notifier
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(store Store, notifier Notifier, retention time.Duration, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		notifier:  notifier,
		retention: retention,
		now:       time.Now,
		logger:    logging.OrNop(logger).Named("reconcile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetConversation returns the conversation between userID and contactID as
// userID sees it after reading. Messages already past expiry are left out
// even if the sweep has not removed them yet.
func (r *Reconciler) GetConversation(ctx context.Context, userID, contactID string) ([]models.Message, error) {
	messages, err := r.store.ListConversation(ctx, userID, contactID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Expired(now, r.retention) {
			continue
		}

		if !m.Seen && m.ReceiverID == userID {
			flipped, found, err := r.store.FlipSeen(ctx, m.ID)
			if err != nil {
				return nil, err
			}
			if !found {
				// Deleted between the list and the mark.
				r.logger.Debug("message vanished while reading", zap.Int64("messageId", m.ID))
				continue
			}
			m.Seen = true
			// A concurrent pull may have flipped it first; only that one notifies.
			if flipped {
				r.notifier.NotifySeen(m.ID, m.SenderID)
			}
		}

		out = append(out, m)
	}
	return out, nil
}
