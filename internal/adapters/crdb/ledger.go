package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avelkaz/markethold/internal/domain"
)

// conditionalDebit is the single-statement guarded decrement: the balance
// check and the subtraction commit together or not at all, which is what
// keeps the balance non-negative under concurrent debitors.
func conditionalDebit(ctx context.Context, q querier, userID uuid.UUID, amount float64) (float64, error) {
	if amount < 0 {
		return 0, errors.Wrap(domain.ErrInvalidInput, "negative debit")
	}
	var balance float64
	err := q.QueryRow(ctx, `
		UPDATE balances SET amount = amount - $2, updated_at = now()
		WHERE user_id = $1 AND amount >= $2
		RETURNING amount
	`, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// a user with no balances row yet holds zero; a zero debit of zero
		// must succeed, not read as insufficiency
		if amount == 0 {
			return 0, nil
		}
		current, berr := getBalance(ctx, q, userID)
		if berr != nil {
			return 0, berr
		}
		return 0, &domain.InsufficientFundsError{Balance: current, Need: amount}
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func credit(ctx context.Context, q querier, userID uuid.UUID, amount float64) (float64, error) {
	if amount < 0 {
		return 0, errors.Wrap(domain.ErrInvalidInput, "negative credit")
	}
	var balance float64
	err := q.QueryRow(ctx, `
		INSERT INTO balances (user_id, amount, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id)
		DO UPDATE SET amount = balances.amount + excluded.amount, updated_at = now()
		RETURNING amount
	`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func getBalance(ctx context.Context, q querier, userID uuid.UUID) (float64, error) {
	var balance float64
	err := q.QueryRow(ctx, `
		SELECT amount FROM balances WHERE user_id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *Repository) ConditionalDebit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	return conditionalDebit(ctx, r.pool, userID, amount)
}

func (r *Repository) Credit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	return credit(ctx, r.pool, userID, amount)
}

func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	return getBalance(ctx, r.pool, userID)
}

func (r *Repository) RecordTopup(ctx context.Context, t domain.Topup) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO topups (id, user_id, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.UserID, t.Amount, t.Note, t.CreatedAt)
	return err
}

func (r *Repository) SumTopupsSince(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM topups
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum, nil
}
