package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/observability"
)

const sweepReadAttempts = 3

// Sweep resolves timed-out ACTIVE reservations: flip to EXPIRED, refund the
// reserving user. Bounded by SweepLimit per call so a single hot request
// never drags a full table scan behind it; every reservation-affecting
// operation calls it first, which substitutes for a dedicated timer.
//
// The transition is a compare-and-swap, so racing sweeps (or a concurrent
// cancel) resolve each record exactly once: losers see AlreadyProcessed and
// skip, which is what prevents double refunds. Individual failures are logged
// and skipped, never aborting the sweep or the request that triggered it.
func (e *Engine) Sweep(ctx context.Context) int {
	now := e.now()

	var expired []domain.Reservation
	var err error
	for i := 0; i < sweepReadAttempts; i++ {
		expired, err = e.store.FindExpiredActive(ctx, now, e.cfg.SweepLimit)
		if err == nil {
			break
		}
	}
	if err != nil {
		e.logger.Warn("sweep: failed to list expired reservations: ", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	processed := 0
	for _, r := range expired {
		switched, err := e.store.TransitionIfActive(ctx, r.ID, domain.StatusExpired)
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			continue
		}
		if err != nil {
			e.logger.WithField("reservation_id", r.ID).Warn("sweep: transition failed: ", err)
			continue
		}
		if _, err := e.store.Credit(ctx, r.ReservedBy, r.Amount); err != nil {
			// debit-without-reservation state, reconciled out of band
			observability.CompensationFailures.Inc()
			e.logger.WithField("reservation_id", r.ID).
				WithField("user_id", r.ReservedBy).
				Error("sweep: refund failed after expiry transition: ", err)
			continue
		}
		e.releaseLock(ctx, r.ProductID)
		e.appendEvent(ctx, domain.Event{
			Type:        domain.EventReservationExpired,
			AggregateID: switched.ID,
			Payload: map[string]interface{}{
				"reservation_id": switched.ID.String(),
				"product_id":     switched.ProductID.String(),
				"user_id":        switched.ReservedBy.String(),
				"refund":         switched.Amount,
			},
		})
		observability.ReservationsExpired.Inc()
		processed++
	}
	if processed > 0 {
		e.logger.WithField("processed", processed).Info("sweep: expired reservations refunded")
	}
	return processed
}
