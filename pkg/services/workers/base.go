package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	fetchBatch = 10
	fetchWait  = 2 * time.Second
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

type BaseWorker struct {
	name     string
	js       nats.JetStreamContext
	mu       sync.Mutex
	sub      *nats.Subscription
	consumer string
	stream   string
	subject  string
	logger   *slog.Logger
}

func NewBaseWorker(name string, js nats.JetStreamContext, stream, consumer, subject string, logger *slog.Logger) *BaseWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseWorker{
		name:     name,
		js:       js,
		consumer: consumer,
		stream:   stream,
		subject:  subject,
		logger:   logger.With("worker", name),
	}
}

func (w *BaseWorker) Name() string {
	return w.name
}

func (w *BaseWorker) Stop() error {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()

	if sub != nil && sub.IsValid() {
		return sub.Drain()
	}
	return nil
}

// processMessages pulls from the bound durable consumer until ctx is done.
// A handler error naks the message so it is redelivered.
func (w *BaseWorker) processMessages(ctx context.Context, handler func(*nats.Msg) error) error {
	sub, err := w.js.PullSubscribe(w.subject, w.consumer,
		nats.Bind(w.stream, w.consumer),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", w.stream, w.consumer, err)
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
	defer sub.Unsubscribe()

	w.logger.Info("worker started", "stream", w.stream, "consumer", w.consumer)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(fetchBatch, nats.Context(fetchCtx))
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			continue
		case errors.Is(err, context.Canceled):
			continue
		case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
			return err
		default:
			w.logger.Warn("error fetching messages", "error", err)
			continue
		}

		for _, msg := range msgs {
			if err := handler(msg); err != nil {
				w.logger.Warn("message handling failed", "subject", msg.Subject, "error", err)
				_ = msg.Nak()
				continue
			}
			if err := msg.Ack(); err != nil {
				w.logger.Warn("error acknowledging message", "error", err)
			}
		}
	}
}
