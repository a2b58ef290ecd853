package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/observability"
)

// Reserve places a hold on a single product, debiting the caller's balance by
// the product's current price.
//
// The availability pre-check is advisory; the partial unique constraint at
// the store is what actually serializes racing callers. Because the debit and
// the insert are two independently-atomic operations, a lost race after a
// successful debit is repaired by a compensating credit.
func (e *Engine) Reserve(ctx context.Context, actor domain.Principal, productID uuid.UUID) (*domain.Reservation, error) {
	if productID == uuid.Nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "missing product id")
	}

	e.Sweep(ctx)

	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.OwnerID == actor.ID {
		return nil, domain.ErrOwnProduct
	}

	active, err := e.store.FindActiveByProduct(ctx, []uuid.UUID{productID})
	if err != nil {
		return nil, err
	}
	if _, held := active[productID]; held {
		return nil, domain.ErrAlreadyReserved
	}

	if !e.acquireLock(ctx, productID, actor.ID) {
		return nil, domain.ErrAlreadyReserved
	}

	res := domain.NewReservation(*product, actor.ID, e.now(), e.cfg.ReservationTTL)

	if _, err := e.store.ConditionalDebit(ctx, actor.ID, res.Amount); err != nil {
		e.releaseLock(ctx, productID)
		return nil, err
	}

	if err := e.store.TryCreateActive(ctx, res); err != nil {
		e.compensate(ctx, actor.ID, res.Amount, productID)
		e.releaseLock(ctx, productID)
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrAlreadyReserved
		}
		return nil, err
	}

	observability.ReservationsCreated.Inc()
	e.appendEvent(ctx, domain.Event{
		Type:        domain.EventReservationCreated,
		AggregateID: res.ID,
		Payload: map[string]interface{}{
			"reservation_id": res.ID.String(),
			"product_id":     res.ProductID.String(),
			"user_id":        res.ReservedBy.String(),
			"amount":         res.Amount,
			"expires_at":     res.ExpiresAt,
		},
	})
	return &res, nil
}

// compensate credits back a debit whose dependent insert lost the race. A
// failure here leaves a debit with no reservation behind it; that state is
// detectable from the ledger and reconciled out of band, so we log loudly
// instead of crashing the request.
func (e *Engine) compensate(ctx context.Context, userID uuid.UUID, amount float64, productID uuid.UUID) {
	if _, err := e.store.Credit(ctx, userID, amount); err != nil {
		observability.CompensationFailures.Inc()
		e.logger.WithField("user_id", userID).
			WithField("product_id", productID).
			WithField("amount", amount).
			Error("compensating credit failed: ", err)
		return
	}
	observability.Compensations.Inc()
}
