package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherchat/internal/config"
)

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_PublishMessageCreated(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{w: w}
	ev := MessageCreated{
		MessageID:  9,
		SenderID:   "111",
		ReceiverID: "222",
		CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	require.NoError(t, p.PublishMessageCreated(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "222", string(msg.Key))
	assert.NotContains(t, string(msg.Value), "encryptedContent")

	var got MessageCreated
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, ev, got)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNew_DisabledWithoutBrokers(t *testing.T) {
	p := New(config.Kafka{Topic: "t"}, nil)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.PublishMessageCreated(context.Background(), MessageCreated{}))
	assert.NoError(t, p.Close())
}

func TestNew_WithBrokers(t *testing.T) {
	p := New(config.Kafka{Brokers: []string{"localhost:9092"}, Topic: "t"}, nil)
	assert.IsType(t, &KafkaPublisher{}, p)
	assert.NoError(t, p.Close())
}
