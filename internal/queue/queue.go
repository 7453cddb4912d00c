// Package queue wires document ingestion over RabbitMQ: a durable ingest
// queue, a TTL retry queue that dead-letters back into it, and a parking
// queue for messages that keep failing. Delivery is at-least-once; the
// construction pipeline's upserts are idempotent, so redelivery is safe.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rabbitmq/amqp091-go"

	"github.com/graphloom/loom/internal/util"
)

const (
	// IngestQueue carries IngestMessage payloads from the API to workers.
	IngestQueue = "ingest"

	retrySuffix   = "_retry"
	dlqSuffix     = "_dlq"
	retriesHeader = "x-retries"

	// maxRetries is how often a message cycles through the retry queue
	// before parking in the DLQ.
	maxRetries = 10
	retryTTL   = 10 * time.Second
)

// IngestMessage asks a worker to load the referenced documents and run
// the construction pipeline over them. Source names the configured
// document source ("fs", "s3").
type IngestMessage struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Refs   []string `json:"refs"`
}

// Publisher is the channel slice publishing needs. Satisfied by
// *amqp091.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Dial connects to RabbitMQ. RABBITMQ_URL wins when set; otherwise the
// URL is assembled from RABBITMQ_USER/PASSWORD/HOST/PORT.
func Dial() (*amqp091.Connection, error) {
	url := util.GetEnv("RABBITMQ_URL")
	if url == "" {
		url = fmt.Sprintf("amqp://%s:%s@%s:%s/",
			util.GetEnv("RABBITMQ_USER"),
			util.GetEnv("RABBITMQ_PASSWORD"),
			util.GetEnv("RABBITMQ_HOST"),
			util.GetEnv("RABBITMQ_PORT"),
		)
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: connecting: %w", err)
	}
	return conn, nil
}

// Setup declares the ingest queue and its retry and parking companions.
// Declarations are idempotent; server and worker both call this at start.
func Setup(ch *amqp091.Channel) error {
	if _, err := ch.QueueDeclare(IngestQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue: declaring %s: %w", IngestQueue, err)
	}
	if _, err := ch.QueueDeclare(IngestQueue+dlqSuffix, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue: declaring %s: %w", IngestQueue+dlqSuffix, err)
	}
	// Messages sit in the retry queue until the TTL expires, then
	// dead-letter back into the ingest queue.
	_, err := ch.QueueDeclare(IngestQueue+retrySuffix, true, false, false, false, amqp091.Table{
		"x-message-ttl":             int32(retryTTL.Milliseconds()),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": IngestQueue,
	})
	if err != nil {
		return fmt.Errorf("queue: declaring %s: %w", IngestQueue+retrySuffix, err)
	}
	return nil
}

// PublishIngest publishes one ingest message, minting its id when unset,
// and returns the id.
func PublishIngest(ctx context.Context, pub Publisher, msg IngestMessage) (string, error) {
	if msg.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", err
		}
		msg.ID = id
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: encoding message: %w", err)
	}
	err = pub.PublishWithContext(ctx, "", IngestQueue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		MessageId:    msg.ID,
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("queue: publishing %s: %w", msg.ID, err)
	}
	return msg.ID, nil
}

// publishRaw re-publishes a delivery body to another queue, keeping its
// headers. Used by the retry and DLQ paths.
func publishRaw(ctx context.Context, pub Publisher, queueName string, body []byte, headers amqp091.Table) error {
	return pub.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	})
}
