package queue

import (
	"context"
	"sync"

	apperrors "dynamic-table/internal/errors"
)

// MemoryBroker is an in-process queue with one delivery in flight at a
// time. A requeued message goes back to the head of the queue, as RabbitMQ
// does for a single consumer.
type MemoryBroker struct {
	mu      sync.Mutex
	pending []*memoryMessage
	dead    []Message
	ready   chan struct{}
	closed  bool

	// PublishHook, when set, runs before each publish with the 1-based call
	// number and can fail it.
	PublishHook func(call int, msg Message) error
	published   int
}

type memoryMessage struct {
	msg         Message
	deliveries  int
	redelivered bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{ready: make(chan struct{}, 1)}
}

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	b.published++
	call := b.published
	hook := b.PublishHook
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return apperrors.New(apperrors.CategoryTransport, apperrors.CodeChannelClosed, "broker closed")
	}
	if hook != nil {
		if err := hook(call, msg); err != nil {
			return apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed, "failed to publish batch", err)
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, &memoryMessage{msg: msg})
	b.mu.Unlock()
	b.signal()
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, apperrors.New(apperrors.CategoryTransport, apperrors.CodeChannelClosed, "broker closed")
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			m := b.next(ctx)
			if m == nil {
				return
			}
			d := &memoryDelivery{broker: b, m: m, done: make(chan struct{})}
			select {
			case out <- d:
			case <-ctx.Done():
				b.mu.Lock()
				m.deliveries--
				b.mu.Unlock()
				b.requeue(m, false)
				return
			}
			select {
			case <-d.done:
			case <-ctx.Done():
				d.settle(func() { b.requeue(m, true) })
				return
			}
		}
	}()
	return out, nil
}

// next blocks until a message is available, ctx is done or the broker is
// closed.
func (b *MemoryBroker) next(ctx context.Context) *memoryMessage {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil
		}
		if len(b.pending) > 0 {
			m := b.pending[0]
			b.pending = b.pending[1:]
			m.deliveries++
			b.mu.Unlock()
			return m
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-b.ready:
		}
	}
}

func (b *MemoryBroker) requeue(m *memoryMessage, redelivered bool) {
	b.mu.Lock()
	m.redelivered = m.redelivered || redelivered
	b.pending = append([]*memoryMessage{m}, b.pending...)
	b.mu.Unlock()
	b.signal()
}

func (b *MemoryBroker) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, undelivered messages.
func (b *MemoryBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// ReplayDead moves rejected messages back to the tail of the queue with a
// fresh delivery count.
func (b *MemoryBroker) ReplayDead(ctx context.Context, limit int) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, apperrors.New(apperrors.CategoryTransport, apperrors.CodeChannelClosed, "broker closed")
	}
	n := len(b.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	for _, msg := range b.dead[:n] {
		msg.Headers = replayHeaders(msg.Headers)
		b.pending = append(b.pending, &memoryMessage{msg: msg})
	}
	b.dead = b.dead[n:]
	b.mu.Unlock()

	if n > 0 {
		b.signal()
	}
	return n, nil
}

// Dead returns the dead-lettered messages, those rejected without requeue.
func (b *MemoryBroker) Dead() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.dead...)
}

// Close stops all consumers. Pending messages are dropped.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
	return nil
}

type memoryDelivery struct {
	broker *MemoryBroker
	m      *memoryMessage
	once   sync.Once
	done   chan struct{}
}

func (d *memoryDelivery) settle(fn func()) bool {
	settled := false
	d.once.Do(func() {
		fn()
		close(d.done)
		settled = true
	})
	return settled
}

func (d *memoryDelivery) MessageID() string               { return d.m.msg.ID }
func (d *memoryDelivery) Body() []byte                    { return d.m.msg.Body }
func (d *memoryDelivery) Headers() map[string]interface{} { return d.m.msg.Headers }
func (d *memoryDelivery) Redelivered() bool               { return d.m.redelivered }

func (d *memoryDelivery) DeliveryCount() (int, bool) {
	return d.m.deliveries - 1, true
}

func (d *memoryDelivery) Ack() error {
	if !d.settle(func() {}) {
		return errAlreadySettled
	}
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	ok := d.settle(func() {
		if requeue {
			d.broker.requeue(d.m, true)
			return
		}
		d.broker.mu.Lock()
		d.broker.dead = append(d.broker.dead, d.m.msg)
		d.broker.mu.Unlock()
	})
	if !ok {
		return errAlreadySettled
	}
	return nil
}

var errAlreadySettled = apperrors.New(apperrors.CategoryTransport, apperrors.CodeConsumeFailed, "delivery already settled")

var (
	_ Publisher   = (*MemoryBroker)(nil)
	_ Subscriber  = (*MemoryBroker)(nil)
	_ DeadLetters = (*MemoryBroker)(nil)
)
