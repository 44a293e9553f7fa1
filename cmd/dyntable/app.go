package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"dynamic-table/internal/config"
	"dynamic-table/internal/database"
	"dynamic-table/internal/inference"
	"dynamic-table/internal/ingest"
	"dynamic-table/internal/queue"
	"dynamic-table/internal/repository"
	"dynamic-table/internal/schema"
	"dynamic-table/internal/service"
)

// app holds the wired pipeline shared by the serve and consume commands.
type app struct {
	cfg *config.Config
	log *logrus.Logger

	db     *gorm.DB
	pool   *database.Pool
	health *database.HealthChecker

	schemas       repository.SchemaRepository
	notifications service.NotificationService
	coordinator   *ingest.Coordinator
	tables        service.TableService
	uploads       service.UploadService
	infer         service.InferService

	publisher   queue.Publisher
	subscriber  queue.Subscriber
	deadLetters queue.DeadLetters
	dispatcher  *queue.Dispatcher
	consumer    *queue.Consumer

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	db, err := config.InitDatabase(cfg, log)
	if err != nil {
		return nil, err
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}

	pool, err := database.Open(ctx, database.PoolConfig{
		DSN:             cfg.Tables.DSN,
		MaxConns:        cfg.Tables.MaxConns,
		MinConns:        cfg.Tables.MinConns,
		MaxConnLifetime: cfg.Tables.MaxConnLifetime,
		MaxConnIdleTime: cfg.Tables.MaxConnIdleTime,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open tables database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	a.health = database.NewHealthChecker(pool, 2*time.Second)

	entry := func(component string) *logrus.Entry {
		return log.WithField("component", component)
	}

	exec := database.NewExecutor(pool, cfg.Tables.StatementTimeout, entry("executor"))
	a.schemas = repository.NewSchemaRepository(db)
	reconciler := schema.NewReconciler(a.schemas, exec, database.NewAdvisoryLocker(pool, entry("locker")), entry("reconciler"))
	a.coordinator = ingest.NewCoordinator(reconciler, exec, ingest.Config{
		MaxAttempts:  cfg.Ingest.MaxAttempts,
		RetryBackoff: cfg.Ingest.RetryBackoff,
	}, entry("ingest"))

	a.notifications = service.NewNotificationService(repository.NewNotificationRepository(db))
	a.tables = service.NewTableService(a.schemas, database.NewTableStore(pool))
	a.infer = service.NewInferService(inference.NewEngine(inference.Options{SampleLimit: cfg.Ingest.SampleLimit}))

	if err := a.openBroker(entry("queue")); err != nil {
		a.Close()
		return nil, err
	}
	if a.publisher != nil {
		a.dispatcher = queue.NewDispatcher(a.publisher, a.notifications,
			queue.DispatcherConfig{BatchSize: cfg.Queue.BatchSize}, entry("dispatcher"))
	}
	if a.subscriber != nil {
		a.consumer = queue.NewConsumer(a.subscriber, a.coordinator, a.notifications,
			queue.ConsumerConfig{
				MaxDeliveries:   cfg.Queue.MaxDeliveries,
				RequeueDelay:    cfg.Queue.RequeueDelay,
				MaxRequeueDelay: cfg.Queue.MaxRequeueDelay,
			}, entry("consumer"))
	}
	a.uploads = service.NewUploadService(a.coordinator, a.dispatcher)
	return a, nil
}

func (a *app) openBroker(log *logrus.Entry) error {
	switch a.cfg.Queue.Broker {
	case "amqp":
		broker, err := queue.DialAMQP(queue.AMQPConfig{
			URL:            a.cfg.Queue.URL,
			Queue:          a.cfg.Queue.Name,
			Quorum:         a.cfg.Queue.Quorum,
			Prefetch:       1,
			ConfirmTimeout: a.cfg.Queue.ConfirmTimeout,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		a.publisher, a.subscriber, a.deadLetters = broker, broker, broker
		a.closers = append(a.closers, func() { _ = broker.Close() })
	case "memory":
		broker := queue.NewMemoryBroker()
		a.publisher, a.subscriber, a.deadLetters = broker, broker, broker
		a.closers = append(a.closers, func() { _ = broker.Close() })
	case "none":
		log.Info("no broker configured, uploads are ingested inline")
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
