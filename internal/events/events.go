package events

import (
	"context"
	"time"
)

// MessageCreated describes a stored message without its ciphertext.
type MessageCreated struct {
	MessageID  int64     `json:"messageId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Publisher interface {
	PublishMessageCreated(ctx context.Context, ev MessageCreated) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishMessageCreated(context.Context, MessageCreated) error { return nil }
func (Nop) Close() error                                               { return nil }
