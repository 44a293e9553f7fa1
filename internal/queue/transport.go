// Package queue carries upload batches over a message broker: the
// Dispatcher slices an upload and publishes it, the Consumer drains the
// queue and ingests each batch.
package queue

import (
	"context"
)

// Header names set on every published batch.
const (
	HeaderNotificationKey = "x-notification-key"
	HeaderBatchNumber     = "x-batch-number"
	// HeaderDeliveryCount is maintained by quorum queues and counts prior
	// deliveries of a message.
	HeaderDeliveryCount = "x-delivery-count"
	// HeaderReplayed marks a batch moved back from the dead-letter queue.
	HeaderReplayed = "x-replayed"
)

// Message is an outgoing queue message.
type Message struct {
	ID      string
	Body    []byte
	Headers map[string]interface{}
}

// Publisher sends messages durably. Publish returns only after the broker
// has taken responsibility for the message.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber streams deliveries. The channel is closed when ctx is done or
// the underlying transport goes away.
type Subscriber interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// DeadLetters parks batches the consumer rejected. ReplayDead moves up to
// limit of them back onto the main queue, all of them when limit <= 0, and
// returns how many moved.
type DeadLetters interface {
	ReplayDead(ctx context.Context, limit int) (int, error)
}

// Delivery is one received message awaiting settlement.
type Delivery interface {
	MessageID() string
	Body() []byte
	Headers() map[string]interface{}
	Redelivered() bool
	// DeliveryCount returns the broker's count of earlier deliveries, when the
	// broker keeps one.
	DeliveryCount() (int, bool)
	Ack() error
	Nack(requeue bool) error
}

func headerInt(headers map[string]interface{}, name string) (int, bool) {
	switch v := headers[name].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

// replayHeaders copies headers for a replayed batch, dropping what the broker
// added while the batch was being delivered and dead-lettered.
func replayHeaders(headers map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(headers)+1)
	for k, v := range headers {
		switch k {
		case HeaderDeliveryCount, "x-death", "x-first-death-exchange", "x-first-death-queue", "x-first-death-reason",
			"x-last-death-exchange", "x-last-death-queue", "x-last-death-reason":
			continue
		}
		out[k] = v
	}
	out[HeaderReplayed] = true
	return out
}
