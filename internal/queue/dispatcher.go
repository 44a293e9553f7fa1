package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/metrics"
	"dynamic-table/internal/model"
	"dynamic-table/internal/sqlgen"
)

// DefaultBatchSize is both the row count per batch and the threshold above
// which uploads are routed through the queue.
const DefaultBatchSize = 50

// Notifier is the slice of the notification feed the queue drives.
type Notifier interface {
	Create(ctx context.Context, message, table, key string) (*model.Notification, error)
	MarkCreatedByKey(ctx context.Context, key string) (int64, error)
	MarkFailedByKey(ctx context.Context, key string) (int64, error)
	// MarkRecoveredByKey flips an upload to CREATED after a replayed batch
	// succeeds, also from FAILED.
	MarkRecoveredByKey(ctx context.Context, key string) (int64, error)
}

type DispatcherConfig struct {
	BatchSize int
}

// DispatchResult describes a published upload.
type DispatchResult struct {
	NotificationKey string `json:"notificationKey"`
	Batches         int    `json:"batches"`
	Rows            int    `json:"rows"`
}

// Dispatcher slices uploads into batches and publishes them.
type Dispatcher struct {
	pub      Publisher
	notifier Notifier
	size     int
	log      *logrus.Entry
	now      func() time.Time
}

func NewDispatcher(pub Publisher, notifier Notifier, cfg DispatcherConfig, log *logrus.Entry) *Dispatcher {
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Dispatcher{pub: pub, notifier: notifier, size: size, log: log, now: time.Now}
}

// WithClock replaces the clock used for notification keys.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// BatchSize returns the configured rows per batch.
func (d *Dispatcher) BatchSize() int { return d.size }

// Dispatch records one PENDING notification for the upload and publishes
// its rows in order. Only the first batch asks for reconciliation. An
// upload without rows still publishes one batch so its table is created.
func (d *Dispatcher) Dispatch(ctx context.Context, upload *model.Upload) (*DispatchResult, error) {
	if err := sqlgen.ValidateFields(upload.CsvName, upload.Fields); err != nil {
		return nil, err
	}
	if len(upload.Fields.PrimaryKeys()) == 0 {
		return nil, apperrors.ErrNoPrimaryKey
	}

	key := fmt.Sprintf("%s-%d", upload.CsvName, d.now().UnixMilli())
	log := d.log.WithFields(logrus.Fields{"table": upload.CsvName, "notification_key": key})

	message := fmt.Sprintf("Uploading '%s' to server", upload.CsvName)
	if _, err := d.notifier.Create(ctx, message, upload.CsvName, key); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInternal, apperrors.CodeNotifyFailed, "failed to create notification", err)
	}

	batches := Split(upload, d.size, key)
	for _, batch := range batches {
		if err := d.publish(ctx, batch); err != nil {
			metrics.RecordBatchPublished(false)
			log.WithError(err).WithField("batch_number", batch.BatchNumber).Error("failed to publish batch")
			if _, markErr := d.notifier.MarkFailedByKey(ctx, key); markErr != nil {
				log.WithError(markErr).Error("failed to mark notification failed")
			}
			return nil, err
		}
		metrics.RecordBatchPublished(true)
	}

	log.WithFields(logrus.Fields{"batches": len(batches), "rows": len(upload.Rows)}).Info("batches published to queue")
	return &DispatchResult{NotificationKey: key, Batches: len(batches), Rows: len(upload.Rows)}, nil
}

func (d *Dispatcher) publish(ctx context.Context, batch *model.Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryInternal, apperrors.CodeUnexpected, "failed to encode batch", err)
	}
	err = d.pub.Publish(ctx, Message{
		ID:   uuid.NewString(),
		Body: body,
		Headers: map[string]interface{}{
			HeaderNotificationKey: batch.NotificationKey,
			HeaderBatchNumber:     int64(batch.BatchNumber),
		},
	})
	if err != nil && apperrors.GetCategory(err) == "" {
		err = apperrors.Wrap(apperrors.CategoryTransport, apperrors.CodePublishFailed, "failed to publish batch", err)
	}
	return err
}

// Split cuts an upload into batches of at most size rows, numbered from 1.
func Split(upload *model.Upload, size int, key string) []*model.Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	total := (len(upload.Rows) + size - 1) / size
	if total == 0 {
		total = 1
	}
	batches := make([]*model.Batch, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := start + size
		if end > len(upload.Rows) {
			end = len(upload.Rows)
		}
		batches = append(batches, &model.Batch{
			CsvName:         upload.CsvName,
			Fields:          upload.Fields,
			Rows:            upload.Rows[start:end],
			BatchNumber:     i + 1,
			TotalBatches:    total,
			IsFirstBatch:    i == 0,
			NotificationKey: key,
		})
	}
	return batches
}
