// Package watcher drives the daemon runtime: it drains the event queue and
// hands each message to the orchestrator.
package watcher

import (
	"context"
	"time"

	"codedeploy-autodeploy/internal/events/sqs"
	"codedeploy-autodeploy/internal/logger"
)

// errorBackoff is the pause after a failed receive
const errorBackoff = 5 * time.Second

// Queue is the message source the watcher drains
type Queue interface {
	Receive(ctx context.Context) ([]sqs.Message, error)
	Delete(ctx context.Context, msg sqs.Message) error
}

// Handler processes one payload. A non-nil error leaves the message on the
// queue for redelivery.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, payload []byte) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// QueueWatcher polls a queue until its context ends
type QueueWatcher struct {
	queue   Queue
	handler Handler
	backoff time.Duration
	logger  *logger.Logger
}

// NewQueueWatcher creates a new queue watcher
func NewQueueWatcher(queue Queue, handler Handler) *QueueWatcher {
	return &QueueWatcher{
		queue:   queue,
		handler: handler,
		backoff: errorBackoff,
		logger:  logger.NewDefault("queue-watcher"),
	}
}

// Start polls until ctx is cancelled. Messages are handled one at a time so
// two episodes of this process never retarget the same group concurrently.
func (w *QueueWatcher) Start(ctx context.Context) error {
	w.logger.Info("Queue watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Queue watcher stopping due to context cancellation")
			return ctx.Err()

		default:
			if err := w.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("Error polling event queue", "error", err)
				// Sleep briefly before retrying to avoid tight loop on persistent errors
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(w.backoff):
					continue
				}
			}
		}
	}
}

func (w *QueueWatcher) poll(ctx context.Context) error {
	messages, err := w.queue.Receive(ctx)
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		// No events - this is normal, continue polling
		return nil
	}

	w.logger.Debug("Received messages", "message_count", len(messages))

	for _, msg := range messages {
		if ctx.Err() != nil {
			return nil
		}
		w.process(ctx, msg)
	}
	return nil
}

func (w *QueueWatcher) process(ctx context.Context, msg sqs.Message) {
	log := w.logger.WithFields("message_id", msg.ID, "receive_count", msg.ReceiveCount)

	if err := w.handler.Handle(ctx, []byte(msg.Body)); err != nil {
		log.Warn("Message left for redelivery", "error", err)
		return
	}

	if err := w.queue.Delete(ctx, msg); err != nil {
		// The message becomes visible again and is deduplicated or re-handled
		log.Error("Failed to delete handled message", "error", err)
	}
}
