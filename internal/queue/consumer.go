package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/ingest"
	"dynamic-table/internal/metrics"
	"dynamic-table/internal/model"
)

const (
	DefaultMaxDeliveries   = 5
	DefaultRequeueDelay    = 2 * time.Second
	DefaultMaxRequeueDelay = 30 * time.Second
)

// Outcome is how a delivery was settled.
type Outcome string

const (
	OutcomeAcked    Outcome = "acked"
	OutcomeRequeued Outcome = "requeued"
	OutcomeRejected Outcome = "rejected"
)

// Ingester runs one batch through the ingest pipeline.
type Ingester interface {
	Ingest(ctx context.Context, batch *model.Batch) (*ingest.Result, error)
}

type ConsumerConfig struct {
	// MaxDeliveries caps how often one message is attempted before it is
	// rejected to the dead-letter queue and its upload marked FAILED.
	MaxDeliveries int
	// RequeueDelay is held before a failed batch goes back to the queue. It
	// grows with each delivery up to MaxRequeueDelay.
	RequeueDelay    time.Duration
	MaxRequeueDelay time.Duration
	// TrackerTTL bounds how long local delivery counts are kept.
	TrackerTTL time.Duration
}

// Consumer drains the batch queue one message at a time.
type Consumer struct {
	sub      Subscriber
	ingester Ingester
	notifier Notifier
	max      int
	delay    time.Duration
	maxDelay time.Duration
	tracker  *deliveryTracker
	log      *logrus.Entry
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewConsumer(sub Subscriber, ingester Ingester, notifier Notifier, cfg ConsumerConfig, log *logrus.Entry) *Consumer {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = DefaultRequeueDelay
	}
	if cfg.MaxRequeueDelay < cfg.RequeueDelay {
		cfg.MaxRequeueDelay = max(DefaultMaxRequeueDelay, cfg.RequeueDelay)
	}
	if cfg.TrackerTTL <= 0 {
		cfg.TrackerTTL = 30 * time.Minute
	}
	return &Consumer{
		sub:      sub,
		ingester: ingester,
		notifier: notifier,
		max:      cfg.MaxDeliveries,
		delay:    cfg.RequeueDelay,
		maxDelay: cfg.MaxRequeueDelay,
		tracker:  newDeliveryTracker(cfg.TrackerTTL),
		log:      log,
		sleep:    sleepContext,
	}
}

// WithSleep replaces the wait before a requeue. Intended for tests.
func (c *Consumer) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Consumer {
	c.sleep = sleep
	return c
}

// Run consumes until ctx is done. It returns nil on cancellation and a
// transport error when the subscription ends on its own.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.sub.Consume(ctx)
	if err != nil {
		return err
	}
	c.log.Info("batch consumer started")

	sweep := time.NewTicker(5 * time.Minute)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("batch consumer stopped")
			return nil
		case <-sweep.C:
			c.tracker.Sweep()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return apperrors.New(apperrors.CategoryTransport, apperrors.CodeChannelClosed, "delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes and settles one delivery.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Outcome {
	log := c.log.WithFields(logrus.Fields{
		"message_id":  d.MessageID(),
		"redelivered": d.Redelivered(),
	})

	var batch model.Batch
	if err := json.Unmarshal(d.Body(), &batch); err != nil {
		log.WithError(err).Error("rejecting undecodable batch")
		return c.settle(d, OutcomeRejected, log)
	}
	log = log.WithFields(logrus.Fields{
		"table":            batch.CsvName,
		"batch_number":     batch.BatchNumber,
		"notification_key": batch.NotificationKey,
	})

	deliveries := c.deliveries(d)
	_, err := c.ingester.Ingest(ctx, &batch)
	if err == nil {
		if batch.NotificationKey != "" {
			if replayed(d) {
				_, err = c.notifier.MarkRecoveredByKey(ctx, batch.NotificationKey)
			} else {
				_, err = c.notifier.MarkCreatedByKey(ctx, batch.NotificationKey)
			}
			if err != nil {
				err = apperrors.Wrap(apperrors.CategoryInternal, apperrors.CodeNotifyFailed, "failed to update notification", err)
			}
		}
	}
	if err == nil {
		c.tracker.Forget(d.MessageID())
		log.Debug("batch ingested")
		return c.settle(d, OutcomeAcked, log)
	}

	log = log.WithFields(logrus.Fields{
		"deliveries": deliveries,
		"category":   apperrors.GetCategory(err),
		"code":       apperrors.GetCode(err),
	}).WithError(err)

	if permanent(err) || deliveries >= c.max {
		if apperrors.GetCategory(err) == apperrors.CategoryConflict {
			log.Error("schema conflict needs an operator, dead-lettering batch")
		} else {
			log.Error("giving up on batch, dead-lettering it")
		}
		c.tracker.Forget(d.MessageID())
		c.markFailed(ctx, batch.NotificationKey, log)
		return c.settle(d, OutcomeRejected, log)
	}

	wait := c.requeueDelay(deliveries)
	log.WithField("retry_in", wait).Warn("batch failed, requeueing")
	if err := c.sleep(ctx, wait); err != nil {
		log.Debug("stopping, requeueing without delay")
	}
	return c.settle(d, OutcomeRequeued, log)
}

// requeueDelay grows linearly with the delivery number.
func (c *Consumer) requeueDelay(deliveries int) time.Duration {
	if deliveries < 1 {
		deliveries = 1
	}
	wait := c.delay * time.Duration(deliveries)
	if wait > c.maxDelay || wait <= 0 {
		return c.maxDelay
	}
	return wait
}

func replayed(d Delivery) bool {
	v, _ := d.Headers()[HeaderReplayed].(bool)
	return v
}

// deliveries returns how often d has been delivered, this delivery included.
func (c *Consumer) deliveries(d Delivery) int {
	if n, ok := d.DeliveryCount(); ok {
		return n + 1
	}
	return c.tracker.Seen(d.MessageID())
}

// permanent errors cannot succeed on redelivery.
func permanent(err error) bool {
	switch apperrors.GetCategory(err) {
	case apperrors.CategoryValidation, apperrors.CategoryConflict:
		return true
	}
	return false
}

func (c *Consumer) markFailed(ctx context.Context, key string, log *logrus.Entry) {
	if key == "" {
		return
	}
	if _, err := c.notifier.MarkFailedByKey(ctx, key); err != nil {
		log.WithError(err).Error("failed to mark notification failed")
	}
}

func (c *Consumer) settle(d Delivery, outcome Outcome, log *logrus.Entry) Outcome {
	var err error
	switch outcome {
	case OutcomeAcked:
		err = d.Ack()
	case OutcomeRequeued:
		err = d.Nack(true)
	default:
		err = d.Nack(false)
	}
	if err != nil {
		log.WithError(err).WithField("outcome", outcome).Error("failed to settle delivery")
	}
	metrics.RecordBatchConsumed(string(outcome), d.Redelivered())
	return outcome
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
