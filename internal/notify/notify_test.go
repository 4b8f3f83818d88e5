package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/queue"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func sampleEvent() Event {
	creator, manager := uuid.New(), uuid.New()
	res := &models.Reservation{ID: uuid.New(), ResourceID: uuid.New(), Quantity: 1, Status: models.ReservationPending}
	return NewEvent(EventReservationCreated, creator, res, Recipients(creator, &creator, &manager), time.Now())
}

func TestRecipientsDropActorAndDuplicates(t *testing.T) {
	actor, manager, creator := uuid.New(), uuid.New(), uuid.New()
	nilID := uuid.Nil

	assert.Equal(t, []uuid.UUID{creator, manager}, Recipients(actor, &creator, nil, &actor, &manager, &creator, &nilID))
	assert.Empty(t, Recipients(actor, &actor))
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("broker down")}
	err := Fanout{bad, ok}.Publish(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1, ok.count())
}

func TestDispatcherIsFireAndForget(t *testing.T) {
	rec := &recorder{err: errors.New("ignored")}
	d := NewDispatcher(rec, nil, nil)

	d.Dispatch([]Event{sampleEvent(), sampleEvent()})
	d.Wait()
	assert.Equal(t, 2, rec.count())

	var nilDispatcher *Dispatcher
	assert.NotPanics(t, func() { nilDispatcher.Dispatch([]Event{sampleEvent()}) })
}

func TestQueuePublisherSkipsEventsWithoutRecipients(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.NewQueue(client, nil)
	p := NewQueuePublisher(q)
	ctx := context.Background()

	silent := sampleEvent()
	silent.Recipients = nil
	require.NoError(t, p.Publish(ctx, silent))
	require.NoError(t, p.Publish(ctx, sampleEvent()))

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	var ev Event
	require.NoError(t, json.Unmarshal(job.Payload, &ev))
	assert.Equal(t, EventReservationCreated, ev.Type)
	assert.Len(t, ev.Recipients, 1)

	n, err := client.LLen(ctx, queue.QueueNotifications).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestAMQPPublisherRoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{channel: ch, logger: zap.NewNop()}
	ev := sampleEvent()
	ev.Type = EventReservationCancelled

	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, ExchangeName, ch.exchange)
	assert.Equal(t, "reservation.cancelled", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)

	var decoded Event
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, ev.ReservationID, decoded.ReservationID)
}
