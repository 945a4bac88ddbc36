package models

import (
	"encoding/json"
	"time"
)

type User struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	Password  string    `json:"-" db:"password"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type Contact struct {
	ID        int64  `json:"id" db:"id"`
	UserID    string `json:"userId" db:"user_id"`
	ContactID string `json:"contactId" db:"contact_id"`
}

// Message is a stored ciphertext exchanged between two users.
type Message struct {
	ID               int64     `json:"id" db:"id"`
	SenderID         string    `json:"senderId" db:"sender_id"`
	ReceiverID       string    `json:"receiverId" db:"receiver_id"`
	EncryptedContent string    `json:"encryptedContent" db:"encrypted_content"`
	Seen             bool      `json:"seen" db:"seen"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
}

// Expired reports whether the message has been seen and is older than retention.
func (m *Message) Expired(now time.Time, retention time.Duration) bool {
	return m.Seen && now.Sub(m.CreatedAt) > retention
}

// Counterparty returns the other participant from userID's point of view.
func (m *Message) Counterparty(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID is the sender or the receiver.
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Request/Response structures
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type AddContactRequest struct {
	ContactID string `json:"contactId"`
}

type SendMessageRequest struct {
	SenderID         string `json:"senderId"`
	ReceiverID       string `json:"receiverId"`
	EncryptedContent string `json:"encryptedContent"`
}

type StatusResponse struct {
	Message string `json:"message"`
}

type FrameType string

const (
	FrameAuth    FrameType = "auth"
	FrameMessage FrameType = "message"
	FrameSeen    FrameType = "seen"
	FrameDelete  FrameType = "delete"
)

// InboundFrame is a frame received on a duplex session.
type InboundFrame struct {
	Type       FrameType       `json:"type"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Data       json.RawMessage `json:"data"`
}

type AuthData struct {
	UserID string `json:"userId"`
}

type MessageData struct {
	Content string `json:"content"`
}

type SeenData struct {
	MessageID int64  `json:"messageId"`
	SenderID  string `json:"senderId"`
}

type DeleteData struct {
	MessageID int64 `json:"messageId"`
}

// OutboundFrame is pushed to a live connection.
type OutboundFrame struct {
	Type FrameType `json:"type"`
	Data any       `json:"data"`
}

type MessageRef struct {
	MessageID int64 `json:"messageId"`
}
