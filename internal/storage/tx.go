package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Transactions Postgres aborts with these codes are safe to replay whole.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

func isTransientConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && transientCodes[pgErr.Code]
}

// txPolicy bounds how often inTx replays an aborted transaction.
type txPolicy struct {
	attempts  int
	baseDelay time.Duration
}

var defaultTxPolicy = txPolicy{attempts: 4, baseDelay: 10 * time.Millisecond}

// inTx runs fn in a transaction and commits it. A transaction aborted by a
// serialization failure or deadlock is replayed with jittered exponential
// backoff; any other error rolls back and is returned as is.
func (db *DB) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return replay(ctx, defaultTxPolicy, func() error {
		return pgx.BeginFunc(ctx, db.pool, fn)
	})
}

func replay(ctx context.Context, p txPolicy, run func() error) error {
	delay := p.baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = run()
		if err == nil || !isTransientConflict(err) || attempt >= p.attempts {
			return err
		}
		wait := delay + time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter only
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}
