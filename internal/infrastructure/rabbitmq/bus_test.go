package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/messaging"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func newDelivery(ack amqp.Acknowledger) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		Headers:      amqp.Table{"event": "order.created", "RowCount": int32(1)},
		Body:         []byte(`{}`),
	}
}

// newTestConsumer retries a failed delivery at most retries times, interval
// apart.
func newTestConsumer(manualAck bool, h messaging.Handler, retries uint64, interval time.Duration) *consumer {
	c := newConsumer("products.order.created.queue", manualAck, h, zap.NewNop())
	c.redeliver = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries)
	}
	return c
}

func TestConsumer_ManualAck(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantAcks  int
		wantNacks int
	}{
		{"success acks", nil, 1, 0},
		{"decode failure is dropped", fmt.Errorf("wrap: %w", messaging.ErrDecode), 1, 0},
		{"permanent failure is dropped", messaging.ErrPermanent, 1, 0},
		{"transient failure is requeued", assert.AnError, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			c := newTestConsumer(true, func(ctx context.Context, body []byte) error { return tt.err }, 0, 0)

			c.handle(context.Background(), newDelivery(ack))

			assert.Equal(t, tt.wantAcks, ack.acks)
			assert.Equal(t, tt.wantNacks, ack.nacks)
			if tt.wantNacks > 0 {
				assert.True(t, ack.requeue)
			}
		})
	}
}

func TestConsumer_AutoAckNeverSettles(t *testing.T) {
	ack := &fakeAcknowledger{}
	calls := 0
	c := newTestConsumer(false, func(ctx context.Context, body []byte) error {
		calls++
		return assert.AnError
	}, 5, time.Millisecond)

	c.handle(context.Background(), newDelivery(ack))

	assert.Equal(t, 1, calls)
	assert.Zero(t, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestConsumer_PersistentFailureBacksOffBeforeRequeue(t *testing.T) {
	ack := &fakeAcknowledger{}
	var calls []time.Time
	c := newTestConsumer(true, func(ctx context.Context, body []byte) error {
		calls = append(calls, time.Now())
		return errors.New("pq: connection refused")
	}, 3, 20*time.Millisecond)

	c.handle(context.Background(), newDelivery(ack))

	require.Len(t, calls, 4)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), 20*time.Millisecond)
	}
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
	assert.Zero(t, ack.acks)
}

func TestConsumer_TransientFailureRecoversInPlace(t *testing.T) {
	ack := &fakeAcknowledger{}
	calls := 0
	c := newTestConsumer(true, func(ctx context.Context, body []byte) error {
		calls++
		if calls < 3 {
			return errors.New("ledger unavailable")
		}
		return nil
	}, 5, time.Millisecond)

	c.handle(context.Background(), newDelivery(ack))

	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestConsumer_CancelledWhileBackingOffRequeues(t *testing.T) {
	ack := &fakeAcknowledger{}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	c := newTestConsumer(true, func(context.Context, []byte) error {
		calls++
		cancel()
		return errors.New("pq: connection refused")
	}, 100, time.Hour)

	c.handle(ctx, newDelivery(ack))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
}

func TestBindArgs(t *testing.T) {
	args := bindArgs(messaging.EventHeaders(messaging.EventOrderDeleted))

	assert.Equal(t, amqp.Table{"x-match": "all", "event": "order.deleted", "RowCount": int32(1)}, args)
}
