package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"cipherchat/internal/apperr"
	"cipherchat/internal/logging"
	"cipherchat/internal/metrics"
	"cipherchat/internal/models"
	"cipherchat/internal/presence"
)

// CloseSuperseded is sent to a connection replaced by a newer session of the
// same user.
const CloseSuperseded = 4000

// Store is the subset of the message store a session writes through.
type Store interface {
	CreateMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	MarkSeen(ctx context.Context, id int64) (bool, error)
	DeleteMessage(ctx context.Context, id int64) (bool, error)
}

type Notifier interface {
	NotifyNewMessage(ctx context.Context, msg *models.Message)
	NotifySeen(messageID int64, senderID string)
	NotifyDeleted(messageID int64, counterpartyID string)
}

type Presence interface {
	Register(userID string, conn presence.Conn) presence.Conn
	Unregister(userID string, conn presence.Conn) bool
}

// superseder is implemented by handles that can report why they were closed.
type superseder interface {
	CloseWith(code int, text string)
}

// Session interprets inbound frames of one connection. The caller is the
// userId established by the HTTP auth layer; an auth frame must name the
// same user before any other frame is acted on.
type Session struct {
	conn     presence.Conn
	caller   string
	store    Store
	notifier Notifier
	presence Presence
	metrics  *metrics.Metrics
	logger   *zap.Logger

	state *machine

	mu     sync.Mutex
	userID string
}

func NewSession(conn presence.Conn, caller string, store Store, notifier Notifier, p Presence, m *metrics.Metrics, logger *zap.Logger) *Session {
	return &Session{
		conn:     conn,
		caller:   caller,
		store:    store,
		notifier: notifier,
		presence: p,
		metrics:  m,
		logger:   logging.OrNop(logger).With(zap.String("conn", conn.ID())),
		state:    newMachine(),
	}
}

func (s *Session) State() State {
	return s.state.Current()
}

// UserID returns the authenticated user, or "" before authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// HandleFrame processes one inbound frame. Errors never escape: rejected
// frames are logged and counted and the session stays open.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) {
	if err := s.handle(ctx, raw); err != nil {
		s.reject(err)
	}
}

func (s *Session) handle(ctx context.Context, raw []byte) error {
	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return apperr.Decode(err)
	}

	switch s.State() {
	case Closed:
		return nil
	case Unauthenticated:
		if frame.Type != models.FrameAuth {
			return nil
		}
		return s.authenticate(frame)
	}

	switch frame.Type {
	case models.FrameAuth:
		return nil
	case models.FrameMessage:
		return s.handleMessage(ctx, frame)
	case models.FrameSeen:
		return s.handleSeen(ctx, frame)
	case models.FrameDelete:
		return s.handleDelete(ctx, frame)
	default:
		return apperr.InvalidArg("unknown frame type " + string(frame.Type))
	}
}

func (s *Session) authenticate(frame models.InboundFrame) error {
	var data models.AuthData
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return apperr.Decode(err)
		}
	}
	userID := data.UserID
	if userID == "" {
		userID = frame.SenderID
	}
	if userID == "" {
		return apperr.InvalidArg("auth frame without user id")
	}
	if s.caller != "" && userID != s.caller {
		return apperr.Forbidden("auth user does not match the authenticated caller")
	}

	if err := s.state.Transition(Authenticated); err != nil {
		return nil
	}
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	if prev := s.presence.Register(userID, s.conn); prev != nil {
		if sc, ok := prev.(superseder); ok {
			sc.CloseWith(CloseSuperseded, "superseded")
		} else {
			prev.Close()
		}
		s.logger.Info("session superseded", zap.String("userId", userID), zap.String("previous", prev.ID()))
	}
	s.metrics.SessionOpened()
	s.logger.Info("session authenticated", zap.String("userId", userID))
	return nil
}

func (s *Session) handleMessage(ctx context.Context, frame models.InboundFrame) error {
	var data models.MessageData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		return apperr.Decode(err)
	}

	userID := s.UserID()
	senderID := frame.SenderID
	if senderID == "" {
		senderID = userID
	}
	if senderID != userID {
		return apperr.ErrSenderMismatch
	}

	msg, err := s.store.CreateMessage(ctx, senderID, frame.ReceiverID, data.Content)
	if err != nil {
		return err
	}
	s.notifier.NotifyNewMessage(ctx, msg)
	return nil
}

func (s *Session) handleSeen(ctx context.Context, frame models.InboundFrame) error {
	var data models.SeenData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		return apperr.Decode(err)
	}
	if data.MessageID <= 0 {
		return apperr.ErrInvalidMessageID
	}

	senderID := data.SenderID
	if senderID == "" {
		msg, err := s.store.GetMessage(ctx, data.MessageID)
		if err != nil {
			return err
		}
		senderID = msg.SenderID
	}

	ok, err := s.store.MarkSeen(ctx, data.MessageID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrMessageNotFound
	}
	s.notifier.NotifySeen(data.MessageID, senderID)
	return nil
}

func (s *Session) handleDelete(ctx context.Context, frame models.InboundFrame) error {
	var data models.DeleteData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		return apperr.Decode(err)
	}
	if data.MessageID <= 0 {
		return apperr.ErrInvalidMessageID
	}

	userID := s.UserID()
	msg, err := s.store.GetMessage(ctx, data.MessageID)
	if err != nil {
		return err
	}
	if !msg.Involves(userID) {
		return apperr.ErrNotParticipant
	}

	ok, err := s.store.DeleteMessage(ctx, data.MessageID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrMessageNotFound
	}
	s.notifier.NotifyDeleted(data.MessageID, msg.Counterparty(userID))
	return nil
}

func (s *Session) reject(err error) {
	code := apperr.CodeOf(err)
	s.metrics.FrameRejected(string(code))

	switch code {
	case apperr.CodeNotFound:
		s.logger.Debug("frame is a no-op", zap.Error(err))
	case apperr.CodeInternal:
		s.logger.Error("frame failed", zap.Error(err))
	default:
		s.logger.Warn("frame rejected", zap.String("code", string(code)), zap.Error(err))
	}
}

// Close moves the session to Closed and drops its presence entry if it is
// still the registered one.
func (s *Session) Close() {
	prev := s.state.Current()
	if err := s.state.Transition(Closed); err != nil {
		return
	}
	if prev != Authenticated {
		return
	}

	userID := s.UserID()
	if s.presence.Unregister(userID, s.conn) {
		s.logger.Info("session closed", zap.String("userId", userID))
	}
	s.metrics.SessionClosed()
}
