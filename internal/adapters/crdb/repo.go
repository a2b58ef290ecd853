package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/engine"
	"github.com/avelkaz/markethold/internal/observability"
)

const serializationFailureCode = "40001"

// Repository implements engine.Store on CockroachDB. Every single-statement
// operation is atomic on its own; WithTx provides the multi-statement
// SERIALIZABLE boundary used by bulk reserve.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is the common surface of pgxpool.Pool and pgx.Tx, so the same query
// helpers serve both the pooled and the transactional paths.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func mapSerialization(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return err
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return err
	}

	if err := fn(&txRepo{tx: tx}); err != nil {
		return mapSerialization(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapSerialization(err)
	}
	return nil
}

// txRepo is the engine.Tx view over an open transaction.
type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) FindActiveByProduct(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Reservation, error) {
	return findActiveByProduct(ctx, t.tx, ids)
}

func (t *txRepo) ConditionalDebit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	return conditionalDebit(ctx, t.tx, userID, amount)
}

func (t *txRepo) CreateActive(ctx context.Context, res domain.Reservation) error {
	return tryCreateActive(ctx, t.tx, res)
}

func (t *txRepo) AppendEvent(ctx context.Context, ev domain.Event) error {
	return appendEvent(ctx, t.tx, ev)
}
