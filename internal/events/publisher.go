package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher owns the dispatch topology: a main queue the worker consumes,
// a retry queue whose TTL dead-letters back to main, and a DLQ fed by
// rejected deliveries.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

const retryDelay = 15 * time.Second

// RetryCountHeader carries the retry attempt across republishes. The
// broker's own x-death counter restarts at 1 for every freshly
// published message, so the budget has to travel in the message itself.
const RetryCountHeader = "x-retry-count"

func RetryQueue(queue string) string { return queue + ".retry" }
func DeadQueue(queue string) string  { return queue + ".dlq" }

// RetryAttempt reads the retry counter off delivery headers; a message
// that was never republished reports 0.
func RetryAttempt(headers amqp.Table) int {
	switch v := headers[RetryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}

	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func declareTopology(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(DeadQueue(queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}

	// retry queue: message TTL -> dead-letter back to the main queue
	if _, err := ch.QueueDeclare(RetryQueue(queue), true, false, false, false, amqp.Table{
		"x-message-ttl":             int64(retryDelay / time.Millisecond),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}

	// main queue: rejected deliveries land in the DLQ
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadQueue(queue),
	}); err != nil {
		return fmt.Errorf("declare main queue: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Publish emits a storage event onto the main queue.
func (p *Publisher) Publish(ctx context.Context, ev StorageEvent) error {
	return p.publish(ctx, p.queue, ev, nil)
}

// PublishRetry parks an event on the retry queue with the attempt number
// stamped; the queue's TTL returns it to the main queue after the delay,
// headers intact.
func (p *Publisher) PublishRetry(ctx context.Context, ev StorageEvent, attempt int) error {
	return p.publish(ctx, RetryQueue(p.queue), ev, amqp.Table{RetryCountHeader: int32(attempt)})
}

func (p *Publisher) publish(ctx context.Context, routingKey string, ev StorageEvent, headers amqp.Table) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"", // default exchange
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      headers,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
