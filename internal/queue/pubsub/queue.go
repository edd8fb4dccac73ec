// Package pubsub backs the task queue with Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/metascrape/internal/scraper"
)

// Config identifies the topic and subscription used for task delivery.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
	// Buffer sizes the hand-off channel between Receive and Dequeue.
	Buffer int
}

// Queue implements scraper.Queue on a Pub/Sub topic/subscription pair.
// Delivery is at-least-once; consumers must tolerate duplicates.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	items  chan scraper.QueueItem
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewQueue creates the client and starts the background receive loop.
// It authenticates using Application Default Credentials.
func NewQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("check topic %q: %w", cfg.Topic, err)
	}
	if !ok {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.Topic, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.Subscription)
	ok, err = sub.Exists(ctx)
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("check subscription %q: %w", cfg.Subscription, err)
	}
	if !ok {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.Subscription, cfg.ProjectID)
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	receiveCtx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		items:  make(chan scraper.QueueItem, buffer),
		cancel: cancel,
		logger: logger,
	}
	go q.receive(receiveCtx)
	return q, nil
}

// Enqueue publishes the item and waits for broker acknowledgement so a
// successful return means the task id is durably queued.
func (q *Queue) Enqueue(ctx context.Context, item scraper.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue pops the next delivered item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scraper.QueueItem, error) {
	select {
	case <-ctx.Done():
		return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.items:
		return item, nil
	}
}

func (q *Queue) receive(ctx context.Context) {
	err := q.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var item scraper.QueueItem
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			q.logger.Error("drop undecodable queue message", zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.items <- item:
			msg.Ack()
		case <-msgCtx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("pubsub receive stopped", zap.Error(err))
	}
}

// Close stops the receive loop and releases the client.
func (q *Queue) Close() {
	q.cancel()
	q.topic.Stop()
	closeClient(q.client, q.logger)
}

func closeClient(client *pubsub.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("close pubsub client", zap.Error(err))
	}
}
