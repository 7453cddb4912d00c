package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/graphloom/loom/pkg/logger"
)

// Handler processes one decoded ingest message. A nil return acks the
// message; an error routes it through the retry queue until the retry cap
// parks it in the DLQ.
type Handler func(ctx context.Context, msg IngestMessage) error

// Consume reads the ingest queue until ctx is cancelled, handling one
// message at a time. prefetch bounds unacked deliveries held by this
// consumer. The handler running when ctx is cancelled finishes before
// Consume returns.
func Consume(ctx context.Context, conn *amqp091.Connection, prefetch int, handle Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("queue: opening channel: %w", err)
	}
	defer ch.Close()

	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("queue: setting qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, IngestQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: starting consumer: %w", err)
	}
	logger.Info("[Queue] Consuming", "queue", IngestQueue, "prefetch", prefetch)

	for d := range deliveries {
		handleDelivery(ctx, ch, d, handle)
	}
	if ctx.Err() != nil {
		logger.Info("[Queue] Consumer stopped", "queue", IngestQueue)
		return nil
	}
	return errors.New("queue: delivery channel closed by broker")
}

func handleDelivery(ctx context.Context, pub Publisher, d amqp091.Delivery, handle Handler) {
	var msg IngestMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		logger.Error("[Queue] Undecodable message", "message", d.MessageId, "error", err)
		redeliver(ctx, pub, d)
		return
	}

	start := time.Now()
	logger.Info("[Queue] Ingest started", "message", msg.ID, "source", msg.Source, "refs", len(msg.Refs))
	if err := handle(ctx, msg); err != nil {
		logger.Error("[Queue] Ingest failed", "message", msg.ID, "error", err)
		redeliver(ctx, pub, d)
		return
	}
	if err := d.Ack(false); err != nil {
		logger.Error("[Queue] Ack failed", "message", msg.ID, "error", err)
		return
	}
	logger.Info("[Queue] Ingest finished", "message", msg.ID, "duration", time.Since(start))
}

// redeliver routes a failed delivery: below the cap it goes to the retry
// queue with an incremented x-retries header, at the cap it parks in the
// DLQ. The original is acked only after the republish lands; on publish
// failure the broker requeues it.
func redeliver(ctx context.Context, pub Publisher, d amqp091.Delivery) {
	retries := retryCount(d.Headers)
	if retries >= maxRetries {
		logger.Warn("[Queue] Parking message in DLQ", "message", d.MessageId, "retries", retries)
		if err := publishRaw(ctx, pub, IngestQueue+dlqSuffix, d.Body, d.Headers); err != nil {
			logger.Error("[Queue] DLQ publish failed, requeueing", "message", d.MessageId, "error", err)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}

	headers := amqp091.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)
	if err := publishRaw(ctx, pub, IngestQueue+retrySuffix, d.Body, headers); err != nil {
		logger.Error("[Queue] Retry publish failed, requeueing", "message", d.MessageId, "error", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// retryCount reads the x-retries header. The AMQP client hands back
// numbers in whatever width the broker used.
func retryCount(h amqp091.Table) int {
	v, ok := h[retriesHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}
