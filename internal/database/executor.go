package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/sqlgen"
)

// Postgres SQLSTATE codes the pipeline reacts to.
const (
	pgUndefinedTable = "42P01"
	pgDuplicateTable = "42P07"
)

type pgExecutor struct {
	pool    *Pool
	timeout time.Duration
	log     *logrus.Entry
}

// NewExecutor returns an Executor backed by pool. Every call runs under
// timeout when it is positive.
func NewExecutor(pool *Pool, timeout time.Duration, log *logrus.Entry) Executor {
	return &pgExecutor{pool: pool, timeout: timeout, log: log}
}

func (e *pgExecutor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func (e *pgExecutor) ExecDDL(ctx context.Context, statements []string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tx, err := e.pool.pool.Begin(ctx)
	if err != nil {
		return ClassifyError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			e.log.WithError(err).WithField("statement", stmt).Warn("DDL statement failed")
			return ClassifyError(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ClassifyError(err)
	}
	return nil
}

func (e *pgExecutor) ExecUpsert(ctx context.Context, stmt *sqlgen.Statement) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tag, err := e.pool.pool.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		if e.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			e.log.WithError(err).WithField("statement", stmt.Interpolate()).Debug("upsert failed")
		}
		return 0, ClassifyError(err)
	}
	return tag.RowsAffected(), nil
}

// ClassifyError maps a driver error onto the pipeline error taxonomy.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedTable:
			return apperrors.Wrap(apperrors.CategoryTransientStore, apperrors.CodeRelationNotFound,
				"relation does not exist", err)
		case pgDuplicateTable:
			return apperrors.Wrap(apperrors.CategoryConflict, apperrors.CodeDuplicateTable,
				"table already exists", err)
		}
		return apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed,
			fmt.Sprintf("statement failed with SQLSTATE %s", pgErr.Code), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeStatementTimeout,
			"statement timed out", err)
	}
	return apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed, "statement failed", err)
}
