package database

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// advisoryNamespace keeps these locks apart from other users of
// pg_advisory_lock on the same database.
const advisoryNamespace = 0x5d7a

type advisoryLocker struct {
	pool *Pool
	log  *logrus.Entry
}

// NewAdvisoryLocker returns a TableLocker backed by Postgres session
// advisory locks keyed by the hashed table name.
func NewAdvisoryLocker(pool *Pool, log *logrus.Entry) TableLocker {
	return &advisoryLocker{pool: pool, log: log}
}

func (l *advisoryLocker) Lock(ctx context.Context, table string) (func(), error) {
	conn, err := l.pool.pool.Acquire(ctx)
	if err != nil {
		return nil, ClassifyError(err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1::int, hashtext($2))", advisoryNamespace, table); err != nil {
		conn.Release()
		return nil, ClassifyError(err)
	}

	return func() {
		// The caller's context may already be done; unlock regardless.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1::int, hashtext($2))", advisoryNamespace, table); err != nil {
			l.log.WithError(err).WithField("table", table).Warn("failed to release advisory lock")
			// Drop the session so the server frees the lock.
			conn.Conn().Close(ctx) //nolint:errcheck
		}
		conn.Release()
	}, nil
}
