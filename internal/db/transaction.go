package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// retryPolicy retries a whole transaction while SQLite reports contention.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

var writeRetry = retryPolicy{attempts: 4, backoff: 25 * time.Millisecond}

// WriteTx runs fn in a transaction. A busy or locked database restarts the
// transaction from scratch, so fn must not have side effects outside tx.
func (db *DB) WriteTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return writeRetry.run(ctx, func() error {
		return db.Transaction(ctx, fn)
	})
}

func (p retryPolicy) run(ctx context.Context, fn func() error) error {
	wait := p.backoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt >= p.attempts || !contended(err) {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}

// contended reports SQLITE_BUSY and SQLITE_LOCKED, including extended codes.
func contended(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
