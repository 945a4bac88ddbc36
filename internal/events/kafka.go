package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"cipherchat/internal/config"
	"cipherchat/internal/logging"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic keyed by receiver id, so one
// receiver's events stay in a single partition.
type KafkaPublisher struct {
	w      messageWriter
	logger *zap.Logger
}

// New returns a KafkaPublisher when brokers are configured and Nop otherwise.
func New(cfg config.Kafka, logger *zap.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	logger = logging.OrNop(logger).Named("events")
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka write failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return &KafkaPublisher{w: w, logger: logger}
}

func (p *KafkaPublisher) PublishMessageCreated(ctx context.Context, ev MessageCreated) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ReceiverID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("message.created")},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
