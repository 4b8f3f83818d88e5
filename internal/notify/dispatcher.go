package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/pkg/metrics"
)

const defaultDispatchTimeout = 10 * time.Second

// Dispatcher publishes events in the background so request latency does not depend
// on delivery. Failures are logged and counted, never returned to the caller.
type Dispatcher struct {
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil publisher drops every event.
func NewDispatcher(publisher Publisher, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{publisher: publisher, logger: logger, metrics: m, timeout: defaultDispatchTimeout}
}

// Dispatch starts delivering events and returns immediately.
func (d *Dispatcher) Dispatch(events []Event) {
	if d == nil || d.publisher == nil || len(events) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		for _, ev := range events {
			if err := d.publisher.Publish(ctx, ev); err != nil {
				d.metrics.Notification(string(ev.Type), "failed")
				d.logger.Warn("publish reservation event",
					zap.String("type", string(ev.Type)),
					zap.String("reservation_id", ev.ReservationID.String()),
					zap.Error(err))
				continue
			}
			d.metrics.Notification(string(ev.Type), "published")
		}
	}()
}

// Wait blocks until in-flight dispatches finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
