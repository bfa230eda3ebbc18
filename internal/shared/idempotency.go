package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// TransitionKey builds the marker key for a workflow transition so that a
// retried transition is distinguishable from one that never applied.
func TransitionKey(requestID string, targetStatus string) string {
	return fmt.Sprintf("request:%s:%s", requestID, targetStatus)
}

// RequestKeyPrefix is the marker key prefix covering every transition of one
// request, used to reset markers when a correction cycle re-opens the request.
func RequestKeyPrefix(requestID string) string {
	return fmt.Sprintf("request:%s:", requestID)
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	return checkAndInsert(ctx, s.pool, key, module)
}

// CheckAndInsertTx is CheckAndInsert inside an open transaction, so the marker
// commits or rolls back together with the transition it guards.
func (s *IdempotencyStore) CheckAndInsertTx(ctx context.Context, tx pgx.Tx, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	return checkAndInsert(ctx, tx, key, module)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func checkAndInsert(ctx context.Context, db execer, key, module string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			if pgErr.Code == "23505" {
				return ErrIdempotencyConflict
			}
		}
		return err
	}
	return nil
}

// ExistsTx reports whether the key is present, read inside an open transaction.
func (s *IdempotencyStore) ExistsTx(ctx context.Context, tx pgx.Tx, key string) (bool, error) {
	if s == nil {
		return false, errors.New("idempotency store not initialised")
	}
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM idempotency_keys WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

// DeletePrefixTx removes every key under prefix inside an open transaction.
func (s *IdempotencyStore) DeletePrefixTx(ctx context.Context, tx pgx.Tx, prefix string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if prefix == "" {
		return errors.New("idempotency prefix required")
	}
	_, err := tx.Exec(ctx, `DELETE FROM idempotency_keys WHERE key LIKE $1 || '%'`, prefix)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}
