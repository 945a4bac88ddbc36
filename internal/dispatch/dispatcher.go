package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"cipherchat/internal/apperr"
	"cipherchat/internal/events"
	"cipherchat/internal/logging"
	"cipherchat/internal/metrics"
	"cipherchat/internal/models"
	"cipherchat/internal/presence"
)

// Presence resolves a userId to its live connection.
type Presence interface {
	Lookup(userID string) (presence.Conn, bool)
}

// Dispatcher pushes message, seen and delete frames to whichever user has a
// live connection. Delivery is best effort: offline users and full send
// queues are counted and skipped, never reported to the caller.
type Dispatcher struct {
	presence  Presence
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func New(p Presence, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Dispatcher{
		presence:  p,
		publisher: publisher,
		metrics:   m,
		logger:    logging.OrNop(logger).Named("dispatch"),
	}
}

// NotifyNewMessage pushes msg to its receiver and publishes a
// message.created event.
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, msg *models.Message) {
	d.push(msg.ReceiverID, models.FrameMessage, msg)

	ev := events.MessageCreated{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		CreatedAt:  msg.CreatedAt,
	}
	if err := d.publisher.PublishMessageCreated(ctx, ev); err != nil {
		d.logger.Warn("publish message.created failed", zap.Int64("messageId", msg.ID), zap.Error(err))
	}
}

// NotifySeen tells the original sender that messageID was read.
func (d *Dispatcher) NotifySeen(messageID int64, senderID string) {
	d.push(senderID, models.FrameSeen, models.MessageRef{MessageID: messageID})
}

// NotifyDeleted tells counterpartyID that messageID is gone.
func (d *Dispatcher) NotifyDeleted(messageID int64, counterpartyID string) {
	d.push(counterpartyID, models.FrameDelete, models.MessageRef{MessageID: messageID})
}

func (d *Dispatcher) push(userID string, frameType models.FrameType, data any) {
	if err := d.send(userID, frameType, data); err != nil {
		d.logger.Debug("frame not delivered",
			zap.String("userId", userID),
			zap.String("type", string(frameType)),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) send(userID string, frameType models.FrameType, data any) error {
	if userID == "" {
		d.metrics.FrameDropped(string(frameType), "offline")
		return apperr.ErrReceiverOffline
	}

	conn, ok := d.presence.Lookup(userID)
	if !ok {
		d.metrics.FrameDropped(string(frameType), "offline")
		return apperr.ErrReceiverOffline
	}

	payload, err := json.Marshal(models.OutboundFrame{Type: frameType, Data: data})
	if err != nil {
		d.metrics.FrameDropped(string(frameType), "encode")
		return apperr.Internal("failed to encode frame", err)
	}

	if !conn.Send(payload) {
		d.metrics.FrameDropped(string(frameType), "backpressure")
		return apperr.ErrSendQueueFull
	}

	d.metrics.FrameDelivered(string(frameType))
	return nil
}
