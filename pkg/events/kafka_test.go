package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type writerStub struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *writerStub) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *writerStub) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyAndHeaders(t *testing.T) {
	stub := &writerStub{}
	pub := newKafkaPublisher(stub, "booking-events", nil)
	at := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	err := pub.Publish(context.Background(), Message{ID: "evt-1", Type: "booking.created", Key: "teacher-1", Payload: []byte(`{"a":1}`), OccurredAt: at})
	require.NoError(t, err)
	require.Len(t, stub.messages, 1)

	msg := stub.messages[0]
	assert.Equal(t, "teacher-1", string(msg.Key))
	assert.Equal(t, `{"a":1}`, string(msg.Value))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "evt-1", HeaderValue(msg.Headers, HeaderEventID))
	assert.Equal(t, "booking.created", HeaderValue(msg.Headers, HeaderEventType))
	assert.Equal(t, "", HeaderValue(msg.Headers, "missing"))

	require.NoError(t, pub.Close())
	assert.True(t, stub.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	stub := &writerStub{err: errors.New("broker down")}
	pub := newKafkaPublisher(stub, "booking-events", nil)

	err := pub.Publish(context.Background(), Message{ID: "evt-1", Type: "booking.cancelled"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "booking.cancelled")
	assert.ErrorIs(t, err, stub.err)
}

func TestNewKafkaPublisherRequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic", nil)
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "", nil)
	assert.Error(t, err)
}

func TestLogPublisherLogsEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	require.NoError(t, pub.Publish(context.Background(), Message{ID: "evt-9", Type: "booking.confirmed", Key: "teacher-2"}))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "domain event", entry.Message)
	assert.Equal(t, "evt-9", entry.ContextMap()["event_id"])
	assert.NoError(t, pub.Close())
}
