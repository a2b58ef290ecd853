package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/observability"
)

// Cancel terminates an ACTIVE reservation and refunds the reserving user.
// Permitted actors: the reserving user, the product owner, or a privileged
// operator. The flip to CANCELLED is a compare-and-swap, so a cancel racing a
// sweep on the same reservation produces exactly one refund; the loser gets
// AlreadyProcessed.
func (e *Engine) Cancel(ctx context.Context, actor domain.Principal, reservationID uuid.UUID) (*domain.Reservation, error) {
	if reservationID == uuid.Nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "missing reservation id")
	}

	e.Sweep(ctx)

	r, err := e.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.StatusActive {
		return nil, domain.ErrNotActive
	}
	if !actor.Privileged && r.ReservedBy != actor.ID && r.OwnerID != actor.ID {
		return nil, domain.ErrForbidden
	}

	switched, err := e.store.TransitionIfActive(ctx, reservationID, domain.StatusCancelled)
	if err != nil {
		// may have just expired under a concurrent sweep
		return nil, err
	}

	if _, err := e.store.Credit(ctx, switched.ReservedBy, switched.Amount); err != nil {
		observability.CompensationFailures.Inc()
		e.logger.WithField("reservation_id", reservationID).
			WithField("user_id", switched.ReservedBy).
			Error("cancel: refund failed after transition: ", err)
	}

	e.releaseLock(ctx, switched.ProductID)
	observability.ReservationsCancelled.Inc()
	e.appendEvent(ctx, domain.Event{
		Type:        domain.EventReservationCancelled,
		AggregateID: switched.ID,
		Payload: map[string]interface{}{
			"reservation_id": switched.ID.String(),
			"product_id":     switched.ProductID.String(),
			"user_id":        switched.ReservedBy.String(),
			"cancelled_by":   actor.ID.String(),
			"refund":         switched.Amount,
		},
	})
	return switched, nil
}

// ActiveReservation pairs a reservation with a summary of its product for
// listing views. Product is nil when the product row no longer exists.
type ActiveReservation struct {
	Reservation domain.Reservation
	Product     *domain.ProductSummary
}

// MyActive lists the caller's ACTIVE reservations. It sweeps first, so the
// caller never sees a hold that should already have expired.
func (e *Engine) MyActive(ctx context.Context, actor domain.Principal) ([]ActiveReservation, error) {
	e.Sweep(ctx)

	list, err := e.store.FindActiveByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(list))
	for i, r := range list {
		ids[i] = r.ProductID
	}
	products, err := e.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ActiveReservation, len(list))
	for i, r := range list {
		out[i] = ActiveReservation{Reservation: r}
		if p, ok := products[r.ProductID]; ok {
			out[i].Product = &domain.ProductSummary{
				ID:       p.ID,
				Name:     p.Name,
				ImageURL: p.ImageURL,
				Price:    p.Price,
				OwnerID:  p.OwnerID,
			}
		}
	}
	return out, nil
}
