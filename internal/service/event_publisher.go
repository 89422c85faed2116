package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/pkg/jobs"
)

// Notifier delivers one event to the notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, event models.LedgerEvent) error
}

// EventPublisher hands committed ledger events to a background queue. Publishing never blocks
// and never fails the caller; undeliverable events are logged and counted.
type EventPublisher struct {
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// EventPublisherConfig sizes the dispatch queue.
type EventPublisherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// NewEventPublisher builds a publisher delivering through notifier. Call Start before publishing.
func NewEventPublisher(notifier Notifier, cfg EventPublisherConfig, metrics *MetricsService, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &EventPublisher{metrics: metrics, logger: logger}
	p.queue = jobs.NewQueue("ledger-events", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.LedgerEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		return notifier.Notify(ctx, event)
	}, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDrop: func(job jobs.Job, err error) {
			metrics.RecordNotificationDropped()
		},
	})
	return p
}

// Start launches the dispatch workers.
func (p *EventPublisher) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.queue.Start(ctx)
}

// Stop drains the workers.
func (p *EventPublisher) Stop() {
	if p == nil {
		return
	}
	p.queue.Stop()
}

// Publish enqueues events without blocking.
func (p *EventPublisher) Publish(ctx context.Context, events ...models.LedgerEvent) {
	if p == nil {
		return
	}
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}
		err := p.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event})
		if err != nil {
			p.metrics.RecordNotificationDropped()
			p.logger.Warn("ledger event dropped",
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.String("user_id", event.UserID),
				zap.Error(err),
			)
		}
	}
}
