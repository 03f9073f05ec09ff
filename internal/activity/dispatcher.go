package activity

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/crm-mail-gateway/internal/eventstore/sqlite"
	"github.com/Martian-dev/crm-mail-gateway/internal/metrics"
)

// Publisher delivers one outbox message. msgID must be used for broker-side
// deduplication.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
}

// Dispatcher drains the outbox into a Publisher.
type Dispatcher struct {
	store      *sqlite.Store
	publisher  Publisher
	log        *logrus.Logger
	metrics    *metrics.Metrics
	batch      int
	idle       time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewDispatcher(store *sqlite.Store, publisher Publisher, log *logrus.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		log:        log,
		metrics:    m,
		batch:      100,
		idle:       500 * time.Millisecond,
		minBackoff: 10 * time.Second,
		maxBackoff: 10 * time.Minute,
	}
}

// Start runs the dispatcher in its own goroutine. The returned stop cancels
// it and blocks until the current batch has finished.
func (d *Dispatcher) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Run dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		n, err := d.DispatchOnce(ctx)
		wait := time.Duration(0)
		switch {
		case err != nil:
			d.log.WithError(err).Error("outbox dispatch failed")
			wait = time.Second
		case n == 0:
			wait = d.idle
		}

		if wait == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// DispatchOnce publishes one batch of due messages and returns how many
// were published. Failed messages are rescheduled with exponential backoff.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	messages, err := d.store.DequeueOutbox(ctx, d.batch)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range messages {
		if err := d.publisher.Publish(ctx, msg.Subject, msg.Payload, msg.MsgID); err != nil {
			d.metrics.OutboxFailed()
			backoff := d.backoff(msg.Retries)
			d.log.WithError(err).WithFields(logrus.Fields{
				"outbox_id": msg.ID,
				"retries":   msg.Retries,
				"backoff":   backoff.String(),
			}).Warn("publish failed, rescheduling")
			if err := d.store.MarkOutboxRetry(ctx, msg.ID, backoff); err != nil {
				d.log.WithError(err).WithField("outbox_id", msg.ID).Error("reschedule failed")
			}
			continue
		}

		if err := d.store.MarkPublished(ctx, msg.ID); err != nil {
			d.log.WithError(err).WithField("outbox_id", msg.ID).Error("mark published failed")
			continue
		}
		d.metrics.OutboxPublished()
		published++
	}

	if pending, err := d.store.PendingOutbox(ctx); err == nil {
		d.metrics.OutboxPending(pending)
	}
	return published, nil
}

func (d *Dispatcher) backoff(retries int) time.Duration {
	b := d.minBackoff
	for i := 0; i < retries && b < d.maxBackoff; i++ {
		b *= 2
	}
	if b > d.maxBackoff {
		b = d.maxBackoff
	}
	return b
}
