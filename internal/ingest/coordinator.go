// Package ingest drives one batch of rows through schema reconciliation and
// upsert.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dynamic-table/internal/database"
	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/metrics"
	"dynamic-table/internal/model"
	"dynamic-table/internal/schema"
	"dynamic-table/internal/sqlgen"
)

// State is a step of the ingest state machine.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateReconciling State = "RECONCILING"
	StateUpserting   State = "UPSERTING"
	StateSucceeded   State = "SUCCEEDED"
	StateFailed      State = "FAILED"
)

const (
	DefaultMaxAttempts  = 5
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Config tunes the upsert retry loop.
type Config struct {
	// MaxAttempts is the total number of tries per statement, first try included.
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Reconciler converges a table to a field map.
type Reconciler interface {
	Reconcile(ctx context.Context, table string, fields model.FieldMap) (*schema.Result, error)
}

// Result reports what an ingest did. It is returned on failure as well,
// with State set to FAILED.
type Result struct {
	Table        string                   `json:"table"`
	State        State                    `json:"state"`
	Transitions  []State                  `json:"transitions"`
	Schema       *schema.Result           `json:"schema,omitempty"`
	Statements   int                      `json:"statements"`
	Attempts     int                      `json:"attempts"`
	RowsAffected int64                    `json:"rowsAffected"`
	Downgraded   map[model.ColumnType]int `json:"downgraded,omitempty"`
}

func (r *Result) moveTo(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Coordinator runs batches through reconcile and upsert.
type Coordinator struct {
	reconciler Reconciler
	exec       database.Executor
	cfg        Config
	log        *logrus.Entry
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(reconciler Reconciler, exec database.Executor, cfg Config, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		reconciler: reconciler,
		exec:       exec,
		cfg:        cfg.withDefaults(),
		log:        log,
		sleep:      sleepContext,
	}
}

// WithSleep replaces the backoff sleep. Intended for tests.
func (c *Coordinator) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Coordinator {
	c.sleep = sleep
	return c
}

// Ingest reconciles the table when the batch is the first of its upload and
// upserts its rows. Everything that can be checked without a database is
// checked before any I/O.
func (c *Coordinator) Ingest(ctx context.Context, batch *model.Batch) (*Result, error) {
	start := time.Now()
	res := &Result{Table: batch.CsvName}
	res.moveTo(StateReceived)

	log := c.log.WithFields(logrus.Fields{
		"table":        batch.CsvName,
		"batch_number": batch.BatchNumber,
		"rows":         len(batch.Rows),
	})

	statements, err := c.prepare(batch)
	if err != nil {
		return c.fail(res, log, start, err)
	}

	if batch.IsFirstBatch {
		res.moveTo(StateReconciling)
		sr, err := c.reconciler.Reconcile(ctx, batch.CsvName, batch.Fields)
		if err != nil {
			return c.fail(res, log, start, err)
		}
		res.Schema = sr
	}

	res.moveTo(StateUpserting)
	res.Statements = len(statements)
	for _, stmt := range statements {
		n, attempts, err := c.execWithRetry(ctx, stmt, log)
		res.Attempts += attempts
		if err != nil {
			return c.fail(res, log, start, err)
		}
		res.RowsAffected += n
		c.recordDowngrades(res, stmt, log)
	}

	res.moveTo(StateSucceeded)
	metrics.RecordIngest(string(StateSucceeded), time.Since(start))
	metrics.RecordRowsUpserted(batch.CsvName, res.RowsAffected)
	log.WithFields(logrus.Fields{
		"rows_affected": res.RowsAffected,
		"attempts":      res.Attempts,
	}).Info("ingest succeeded")
	return res, nil
}

// prepare validates the batch and renders its statements. A batch without
// rows still needs a valid field map with a primary key.
func (c *Coordinator) prepare(batch *model.Batch) ([]*sqlgen.Statement, error) {
	if err := sqlgen.ValidateFields(batch.CsvName, batch.Fields); err != nil {
		return nil, err
	}
	if len(batch.Fields.PrimaryKeys()) == 0 {
		return nil, apperrors.ErrNoPrimaryKey
	}
	if len(batch.Rows) == 0 {
		return nil, nil
	}
	return sqlgen.UpsertChunks(batch.CsvName, batch.Fields, batch.Rows)
}

// execWithRetry retries only while the relation is missing, which happens
// when DML overtakes the DDL of a concurrent first batch.
func (c *Coordinator) execWithRetry(ctx context.Context, stmt *sqlgen.Statement, log *logrus.Entry) (int64, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		n, err := c.exec.ExecUpsert(ctx, stmt)
		if err == nil {
			return n, attempt, nil
		}
		if !apperrors.IsRetryable(err) {
			return 0, attempt, err
		}
		lastErr = err
		if attempt == c.cfg.MaxAttempts {
			break
		}

		metrics.RecordUpsertRetry(stmt.Table)
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": c.cfg.RetryBackoff,
		}).Warn("table not ready, retrying upsert")
		if err := c.sleep(ctx, c.cfg.RetryBackoff); err != nil {
			return 0, attempt, err
		}
	}
	return 0, c.cfg.MaxAttempts, apperrors.Wrap(apperrors.CategoryTransientStore, apperrors.CodeRetriesExhausted,
		fmt.Sprintf("insert failed after %d retries", c.cfg.MaxAttempts), lastErr)
}

func (c *Coordinator) recordDowngrades(res *Result, stmt *sqlgen.Statement, log *logrus.Entry) {
	if stmt.DowngradedTotal() == 0 {
		return
	}
	if res.Downgraded == nil {
		res.Downgraded = make(map[model.ColumnType]int)
	}
	for t, n := range stmt.Downgraded {
		res.Downgraded[t] += n
		metrics.RecordDowngrades(stmt.Table, string(t), n)
	}
	log.WithField("downgraded", stmt.Downgraded).Warn("cells stored as NULL")
}

func (c *Coordinator) fail(res *Result, log *logrus.Entry, start time.Time, err error) (*Result, error) {
	failedIn := res.State
	res.moveTo(StateFailed)
	metrics.RecordIngest(string(StateFailed), time.Since(start))
	log.WithFields(logrus.Fields{
		"state":    failedIn,
		"category": apperrors.GetCategory(err),
		"code":     apperrors.GetCode(err),
	}).WithError(err).Error("ingest failed")
	return res, err
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
