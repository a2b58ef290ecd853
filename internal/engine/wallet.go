package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
)

// Deposit tops up the caller's balance. Non-privileged users are bounded by a
// daily cap computed from the topups log; the log entry is written before the
// credit so a crash between the two can only under-grant, never let a user
// blow past the cap.
func (e *Engine) Deposit(ctx context.Context, actor domain.Principal, amount float64, note string) (float64, error) {
	amount = domain.RoundCents(amount)
	if amount <= 0 {
		return 0, errors.Wrap(domain.ErrInvalidInput, "amount must be > 0")
	}

	now := e.now()
	if !actor.Privileged {
		used, err := e.store.SumTopupsSince(ctx, actor.ID, startOfDay(now))
		if err != nil {
			return 0, err
		}
		left := domain.RoundCents(e.cfg.DailyTopupCap - used)
		if left < 0 {
			left = 0
		}
		if amount > left {
			return 0, &domain.DailyCapError{Left: left}
		}
	}

	if err := e.store.RecordTopup(ctx, domain.Topup{
		ID:        uuid.New(),
		UserID:    actor.ID,
		Amount:    amount,
		Note:      note,
		CreatedAt: now,
	}); err != nil {
		return 0, err
	}

	balance, err := e.store.Credit(ctx, actor.ID, amount)
	if err != nil {
		return 0, err
	}

	e.appendEvent(ctx, domain.Event{
		Type:        domain.EventWalletDeposited,
		AggregateID: actor.ID,
		Payload: map[string]interface{}{
			"user_id": actor.ID.String(),
			"amount":  amount,
			"balance": balance,
		},
	})
	return balance, nil
}

func (e *Engine) WalletBalance(ctx context.Context, actor domain.Principal) (float64, error) {
	return e.store.Balance(ctx, actor.ID)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
