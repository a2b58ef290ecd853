package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avelkaz/markethold/internal/domain"
)

const reservationColumns = `id, product_id, owner_id, reserved_by, amount, status, created_at, expires_at`

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(&r.ID, &r.ProductID, &r.OwnerID, &r.ReservedBy, &r.Amount, &r.Status, &r.CreatedAt, &r.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// tryCreateActive relies on the partial unique index on
// (product_id) WHERE status='ACTIVE': the insert and the uniqueness check are
// one atomic step, so any advisory pre-read the caller did is re-validated
// here, closing the race window.
func tryCreateActive(ctx context.Context, q querier, res domain.Reservation) error {
	result, err := q.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, 'ACTIVE', $6, $7)
		ON CONFLICT (product_id) WHERE status = 'ACTIVE' DO NOTHING
	`, res.ID, res.ProductID, res.OwnerID, res.ReservedBy, res.Amount, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func findActiveByProduct(ctx context.Context, q querier, ids []uuid.UUID) (map[uuid.UUID]domain.Reservation, error) {
	rows, err := q.Query(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE product_id = ANY($1) AND status = 'ACTIVE'
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]domain.Reservation)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out[r.ProductID] = *r
	}
	return out, rows.Err()
}

func (r *Repository) TryCreateActive(ctx context.Context, res domain.Reservation) error {
	return tryCreateActive(ctx, r.pool, res)
}

// TransitionIfActive is the compare-and-swap that makes cancel and expiry
// idempotent: only a row still in ACTIVE is flipped, concurrent workers that
// lose the race get ErrAlreadyProcessed.
func (r *Repository) TransitionIfActive(ctx context.Context, id uuid.UUID, to domain.Status) (*domain.Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, `
		UPDATE reservations SET status = $2
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+reservationColumns+`
	`, id, to))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAlreadyProcessed
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+` FROM reservations WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Repository) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'ACTIVE' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (r *Repository) FindActiveByProduct(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Reservation, error) {
	return findActiveByProduct(ctx, r.pool, ids)
}

func (r *Repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE reserved_by = $1 AND status = 'ACTIVE'
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
