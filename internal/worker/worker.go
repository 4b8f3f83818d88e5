package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/internal/notify"
	"github.com/Csepi/cal3-sub003/pkg/metrics"
	"github.com/Csepi/cal3-sub003/pkg/queue"
)

const dequeueTimeout = 5 * time.Second

// Inbox stores notifications. Delivering the same notification twice must be a no-op.
type Inbox interface {
	Deliver(ctx context.Context, notes []models.Notification) error
}

// NotificationProcessor turns queued reservation events into inbox rows, one per recipient.
type NotificationProcessor struct {
	inbox   Inbox
	queue   *queue.Queue
	logger  *zap.Logger
	metrics *metrics.Metrics
	backoff time.Duration
	wait    time.Duration
}

// NewNotificationProcessor creates a notification processor.
func NewNotificationProcessor(inbox Inbox, q *queue.Queue, logger *zap.Logger, m *metrics.Metrics) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{inbox: inbox, queue: q, logger: logger, metrics: m, backoff: queue.RetryBackoff, wait: dequeueTimeout}
}

// Notifications builds the inbox rows for ev.
func Notifications(ev notify.Event) ([]models.Notification, error) {
	payload, err := json.Marshal(ev.Reservation)
	if err != nil {
		return nil, fmt.Errorf("marshal reservation: %w", err)
	}
	notes := make([]models.Notification, 0, len(ev.Recipients))
	for _, user := range ev.Recipients {
		notes = append(notes, models.Notification{
			UserID:        user,
			Type:          string(ev.Type),
			ReservationID: ev.ReservationID,
			ResourceID:    ev.ResourceID,
			Payload:       payload,
			CreatedAt:     ev.OccurredAt,
		})
	}
	return notes, nil
}

// Process executes one reservation event job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeReservationEvent {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var ev notify.Event
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	notes, err := Notifications(ev)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		return nil
	}
	if err := p.inbox.Deliver(ctx, notes); err != nil {
		return fmt.Errorf("deliver notifications: %w", err)
	}
	p.metrics.Notification(string(ev.Type), "delivered")
	p.logger.Info("notifications delivered",
		zap.String("type", string(ev.Type)),
		zap.String("reservation_id", ev.ReservationID.String()),
		zap.Int("recipients", len(notes)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.wait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			p.metrics.Notification(string(job.Type), "failed")
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
