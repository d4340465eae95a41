package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/models"
	"github.com/noah-isme/tutor-booking-api/pkg/events"
	"github.com/noah-isme/tutor-booking-api/pkg/jobs"
	"github.com/noah-isme/tutor-booking-api/pkg/middleware/requestid"
)

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

// EventDispatcher hands booking events to a worker queue whose handler
// publishes them. Emit never blocks the booking operation.
type EventDispatcher struct {
	queue     jobQueue
	publisher events.Publisher
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewEventDispatcher builds a dispatcher. Call AttachQueue before Emit.
func NewEventDispatcher(publisher events.Publisher, metrics *MetricsService, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventDispatcher{publisher: publisher, metrics: metrics, logger: logger}
}

// AttachQueue sets the queue events are enqueued on.
func (d *EventDispatcher) AttachQueue(queue jobQueue) {
	d.queue = queue
}

// Emit enqueues the event, stamped with the request ID carried by ctx.
// Failures are logged and counted, never returned.
func (d *EventDispatcher) Emit(ctx context.Context, event models.BookingEvent) {
	if event.RequestID == "" {
		event.RequestID = requestid.FromContext(ctx)
	}
	if d.queue == nil {
		d.logger.Warn("event dropped, no queue attached", zap.String("event_type", string(event.Type)), zap.String("booking_id", event.BookingID))
		d.metrics.RecordEventPublished(string(event.Type), false)
		return
	}
	err := d.queue.Enqueue(jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event})
	if err != nil {
		d.logger.Warn("event enqueue failed", zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)), zap.Error(err))
		d.metrics.RecordEventPublished(string(event.Type), false)
	}
}

// Handle is the queue handler: it serializes the event and publishes it keyed by teacher.
func (d *EventDispatcher) Handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.BookingEvent)
	if !ok {
		d.logger.Error("unexpected event payload", zap.String("job_id", job.ID), zap.String("type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal booking event %s: %w", event.ID, err)
	}
	if err := d.publisher.Publish(ctx, events.Message{
		ID:         event.ID,
		Type:       string(event.Type),
		Key:        event.TeacherID,
		Payload:    payload,
		OccurredAt: event.OccurredAt,
	}); err != nil {
		return err
	}
	d.metrics.RecordEventPublished(string(event.Type), true)
	return nil
}

// GiveUp records an event whose publishing retries were exhausted.
func (d *EventDispatcher) GiveUp(job jobs.Job, err error) {
	d.metrics.RecordEventPublished(job.Type, false)
	d.logger.Error("booking event lost", zap.String("event_id", job.ID), zap.String("event_type", job.Type), zap.Error(err))
}
