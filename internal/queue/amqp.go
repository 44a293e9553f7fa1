package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	apperrors "dynamic-table/internal/errors"
)

// AMQPConfig configures the RabbitMQ transport.
type AMQPConfig struct {
	URL   string
	Queue string
	// Quorum declares a quorum queue, which makes the broker track delivery
	// counts in the x-delivery-count header.
	Quorum         bool
	Prefetch       int
	ConfirmTimeout time.Duration
	ConsumerTag    string
}

// AMQPBroker is a Publisher and Subscriber backed by one RabbitMQ
// connection. Publishing uses a dedicated confirm-mode channel.
type AMQPBroker struct {
	cfg  AMQPConfig
	conn *amqp.Connection
	log  *logrus.Entry

	pubMu sync.Mutex
	pubCh *amqp.Channel
}

// DeadLetterExchange and DeadLetterQueue name the topology that parks
// rejected batches of queue.
func DeadLetterExchange(queue string) string { return queue + ".dlx" }
func DeadLetterQueue(queue string) string    { return queue + ".dead" }

// DialAMQP connects to RabbitMQ and declares the durable batch queue and its
// dead-letter queue.
func DialAMQP(cfg AMQPConfig, log *logrus.Entry) (*AMQPBroker, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed, "failed to connect to broker", err)
	}
	b := &AMQPBroker{cfg: cfg, conn: conn, log: log}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed, "failed to open channel", err)
	}
	if err := b.declare(ch); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed, "failed to enable publisher confirms", err)
	}
	b.pubCh = ch

	log.WithFields(logrus.Fields{"queue": cfg.Queue, "quorum": cfg.Quorum}).Info("connected to broker")
	return b, nil
}

// declare sets up the batch queue so that a rejected message is routed to
// the dead-letter queue instead of being dropped. Redeclaring a queue that
// exists without these arguments fails with PRECONDITION_FAILED.
func (b *AMQPBroker) declare(ch *amqp.Channel) error {
	dlx, dead := DeadLetterExchange(b.cfg.Queue), DeadLetterQueue(b.cfg.Queue)

	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed,
			fmt.Sprintf("failed to declare exchange %q", dlx), err)
	}
	if _, err := ch.QueueDeclare(dead, true, false, false, false, b.queueArgs(nil)); err != nil {
		return apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed,
			fmt.Sprintf("failed to declare queue %q", dead), err)
	}
	if err := ch.QueueBind(dead, dead, dlx, false, nil); err != nil {
		return apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed,
			fmt.Sprintf("failed to bind queue %q", dead), err)
	}

	args := b.queueArgs(amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": dead,
	})
	if _, err := ch.QueueDeclare(b.cfg.Queue, true, false, false, false, args); err != nil {
		return apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed,
			fmt.Sprintf("failed to declare queue %q", b.cfg.Queue), err)
	}
	return nil
}

func (b *AMQPBroker) queueArgs(args amqp.Table) amqp.Table {
	if !b.cfg.Quorum {
		return args
	}
	if args == nil {
		args = amqp.Table{}
	}
	args["x-queue-type"] = "quorum"
	return args
}

// Publish sends a persistent message and waits for the broker confirm.
func (b *AMQPBroker) Publish(ctx context.Context, msg Message) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConfirmTimeout)
	defer cancel()

	confirm, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", b.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now(),
		Headers:      amqp.Table(msg.Headers),
		Body:         msg.Body,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed, "failed to publish batch", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed, "no publisher confirm", err)
	}
	if !acked {
		return apperrors.New(apperrors.CategoryTransport, apperrors.CodePublishFailed, "broker refused batch")
	}
	return nil
}

// Consume opens a consumer channel with the configured prefetch and manual
// acknowledgements.
func (b *AMQPBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodeConsumeFailed, "failed to open channel", err)
	}
	if err := b.declare(ch); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodeConsumeFailed, "failed to set prefetch", err)
	}
	raw, err := ch.ConsumeWithContext(ctx, b.cfg.Queue, b.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodeConsumeFailed, "failed to start consumer", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				select {
				case out <- &amqpDelivery{d: d}:
				case <-ctx.Done():
					// Unsettled deliveries return to the queue when the channel closes.
					return
				}
			}
		}
	}()
	return out, nil
}

// ReplayDead pulls parked batches off the dead-letter queue and republishes
// them to the batch queue. A parked message is acked only after its copy is
// confirmed, so a failure leaves it parked.
func (b *AMQPBroker) ReplayDead(ctx context.Context, limit int) (int, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodeConsumeFailed, "failed to open channel", err)
	}
	defer ch.Close()

	dead := DeadLetterQueue(b.cfg.Queue)
	replayed := 0
	for limit <= 0 || replayed < limit {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		d, ok, err := ch.Get(dead, false)
		if err != nil {
			return replayed, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodeConsumeFailed,
				fmt.Sprintf("failed to read queue %q", dead), err)
		}
		if !ok {
			break
		}

		msg := Message{ID: d.MessageId, Body: d.Body, Headers: replayHeaders(d.Headers)}
		if err := b.Publish(ctx, msg); err != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				b.log.WithError(nackErr).WithField("message_id", d.MessageId).Warn("failed to return parked batch")
			}
			return replayed, err
		}
		if err := d.Ack(false); err != nil {
			// The copy is already queued; an idempotent upsert absorbs the duplicate.
			return replayed + 1, apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodeConsumeFailed,
				"failed to ack parked batch", err)
		}
		replayed++
	}

	b.log.WithFields(logrus.Fields{"queue": dead, "replayed": replayed}).Info("replayed dead-lettered batches")
	return replayed, nil
}

func (b *AMQPBroker) Close() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	return b.conn.Close()
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) MessageID() string               { return a.d.MessageId }
func (a *amqpDelivery) Body() []byte                    { return a.d.Body }
func (a *amqpDelivery) Headers() map[string]interface{} { return a.d.Headers }
func (a *amqpDelivery) Redelivered() bool               { return a.d.Redelivered }

func (a *amqpDelivery) DeliveryCount() (int, bool) {
	return headerInt(a.d.Headers, HeaderDeliveryCount)
}

func (a *amqpDelivery) Ack() error { return a.d.Ack(false) }

func (a *amqpDelivery) Nack(requeue bool) error { return a.d.Nack(false, requeue) }

var (
	_ Publisher   = (*AMQPBroker)(nil)
	_ Subscriber  = (*AMQPBroker)(nil)
	_ DeadLetters = (*AMQPBroker)(nil)
)
