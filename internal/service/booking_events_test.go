package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/models"
	"github.com/noah-isme/tutor-booking-api/pkg/events"
	"github.com/noah-isme/tutor-booking-api/pkg/jobs"
	"github.com/noah-isme/tutor-booking-api/pkg/middleware/requestid"
)

type publisherStub struct {
	mu       sync.Mutex
	messages []events.Message
	err      error
}

func (p *publisherStub) Publish(_ context.Context, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *publisherStub) Close() error { return nil }

func (p *publisherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func sampleEvent() models.BookingEvent {
	return models.BookingEvent{
		ID:         "evt-1",
		Type:       models.BookingEventCreated,
		BookingID:  "b-1",
		TeacherID:  "T1",
		StudentID:  "S1",
		Status:     models.BookingStatusConfirmed,
		Interval:   iv(monday, 960, 1020),
		OccurredAt: time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEventDispatcherEmitEnqueues(t *testing.T) {
	queue := &queueStub{}
	dispatcher := NewEventDispatcher(&publisherStub{}, nil, zap.NewNop())
	dispatcher.AttachQueue(queue)

	dispatcher.Emit(requestid.WithValue(context.Background(), "req-7"), sampleEvent())

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "evt-1", queue.jobs[0].ID)
	assert.Equal(t, string(models.BookingEventCreated), queue.jobs[0].Type)
	assert.Equal(t, "req-7", queue.jobs[0].Payload.(models.BookingEvent).RequestID)
}

func TestEventDispatcherEmitFailureIsCounted(t *testing.T) {
	metrics := NewMetricsService()
	dispatcher := NewEventDispatcher(&publisherStub{}, metrics, zap.NewNop())

	dispatcher.Emit(context.Background(), sampleEvent())
	dispatcher.AttachQueue(&queueStub{err: errors.New("full")})
	dispatcher.Emit(context.Background(), sampleEvent())

	assert.Equal(t, uint64(2), metrics.Snapshot().EventsFailed)
}

func TestEventDispatcherHandlePublishesKeyedByTeacher(t *testing.T) {
	publisher := &publisherStub{}
	metrics := NewMetricsService()
	dispatcher := NewEventDispatcher(publisher, metrics, zap.NewNop())
	event := sampleEvent()

	require.NoError(t, dispatcher.Handle(context.Background(), jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event}))

	require.Equal(t, 1, publisher.count())
	msg := publisher.messages[0]
	assert.Equal(t, "T1", msg.Key)
	assert.Equal(t, "booking.created", msg.Type)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, "b-1", decoded["booking_id"])
	assert.Equal(t, uint64(1), metrics.Snapshot().EventsPublished)
}

func TestEventDispatcherHandleReturnsPublishError(t *testing.T) {
	dispatcher := NewEventDispatcher(&publisherStub{err: errors.New("broker down")}, nil, zap.NewNop())
	event := sampleEvent()

	err := dispatcher.Handle(context.Background(), jobs.Job{ID: event.ID, Payload: event})
	assert.EqualError(t, err, "broker down")

	assert.NoError(t, dispatcher.Handle(context.Background(), jobs.Job{ID: "bad", Payload: "not an event"}))
}

func TestEventDispatcherThroughQueue(t *testing.T) {
	publisher := &publisherStub{}
	dispatcher := NewEventDispatcher(publisher, nil, zap.NewNop())
	queue := jobs.NewQueue("booking-events", dispatcher.Handle, jobs.QueueConfig{Workers: 2, BufferSize: 8, OnGiveUp: dispatcher.GiveUp})
	dispatcher.AttachQueue(queue)
	queue.Start(context.Background())

	dispatcher.Emit(context.Background(), sampleEvent())
	queue.Stop()

	assert.Equal(t, 1, publisher.count())
}
