package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/observability"
)

// Quote is the read-only partition of a cart: which products the caller could
// reserve right now, which not and why, and what the lot would cost.
type Quote struct {
	Available       []domain.Product
	Missing         []uuid.UUID
	Own             []uuid.UUID
	AlreadyReserved []uuid.UUID
	Total           float64
}

// BulkResult is the outcome of a successful all-or-nothing reserve.
type BulkResult struct {
	Reservations []domain.Reservation
	Total        float64
	Balance      float64
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (e *Engine) checkBatch(ids []uuid.UUID) ([]uuid.UUID, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "no product ids")
	}
	if len(ids) > e.cfg.MaxBulkItems {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "too many items (max %d)", e.cfg.MaxBulkItems)
	}
	return ids, nil
}

// GetQuote partitions ids into available and unavailable without mutating
// anything. Callers use it to pre-validate a cart; the answer is advisory and
// re-validated inside BulkReserve's transaction.
func (e *Engine) GetQuote(ctx context.Context, actor domain.Principal, ids []uuid.UUID) (*Quote, error) {
	ids, err := e.checkBatch(ids)
	if err != nil {
		return nil, err
	}

	e.Sweep(ctx)
	return e.quote(ctx, actor, ids)
}

func (e *Engine) quote(ctx context.Context, actor domain.Principal, ids []uuid.UUID) (*Quote, error) {
	products, err := e.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	actives, err := e.store.FindActiveByProduct(ctx, ids)
	if err != nil {
		return nil, err
	}

	q := &Quote{}
	for _, id := range ids {
		p, found := products[id]
		if !found {
			q.Missing = append(q.Missing, id)
			continue
		}
		// a product can be both the caller's own and held by someone else;
		// it is reported under every reason that applies
		_, held := actives[id]
		if held {
			q.AlreadyReserved = append(q.AlreadyReserved, id)
		}
		if p.OwnerID == actor.ID {
			q.Own = append(q.Own, id)
		}
		if held || p.OwnerID == actor.ID {
			continue
		}
		q.Available = append(q.Available, p)
		q.Total += p.Price
	}
	q.Total = domain.RoundCents(q.Total)
	return q, nil
}

// BulkReserve reserves every product in ids or none of them. Unlike the
// single-item path this runs debit, re-validation and all inserts inside one
// store transaction, so no compensation is ever needed: an abort leaves
// nothing debited and nothing created.
func (e *Engine) BulkReserve(ctx context.Context, actor domain.Principal, ids []uuid.UUID) (*BulkResult, error) {
	ids, err := e.checkBatch(ids)
	if err != nil {
		return nil, err
	}

	e.Sweep(ctx)

	// pre-flight outside the transaction keeps the happy path's tx short
	q, err := e.quote(ctx, actor, ids)
	if err != nil {
		return nil, err
	}
	if len(q.Missing)+len(q.Own)+len(q.AlreadyReserved) > 0 {
		return nil, &domain.UnavailableError{
			Missing:         q.Missing,
			Own:             q.Own,
			AlreadyReserved: q.AlreadyReserved,
		}
	}

	availableIDs := make([]uuid.UUID, len(q.Available))
	for i, p := range q.Available {
		availableIDs[i] = p.ID
	}

	now := e.now()
	var created []domain.Reservation
	var balance float64

	var txErr error
	for attempt := 0; attempt < e.cfg.TxAttempts; attempt++ {
		created = nil
		txErr = e.store.WithTx(ctx, func(tx Tx) error {
			// close the TOCTOU gap left by the pre-flight quote
			clash, err := tx.FindActiveByProduct(ctx, availableIDs)
			if err != nil {
				return err
			}
			if len(clash) > 0 {
				reserved := make([]uuid.UUID, 0, len(clash))
				for id := range clash {
					reserved = append(reserved, id)
				}
				return &domain.UnavailableError{AlreadyReserved: reserved}
			}

			b, err := tx.ConditionalDebit(ctx, actor.ID, q.Total)
			if err != nil {
				return err
			}
			balance = b

			for _, p := range q.Available {
				r := domain.NewReservation(p, actor.ID, now, e.cfg.ReservationTTL)
				if err := tx.CreateActive(ctx, r); err != nil {
					if errors.Is(err, domain.ErrConflict) {
						return &domain.UnavailableError{AlreadyReserved: []uuid.UUID{p.ID}}
					}
					return err
				}
				if err := tx.AppendEvent(ctx, domain.Event{
					Type:        domain.EventReservationCreated,
					AggregateID: r.ID,
					Payload: map[string]interface{}{
						"reservation_id": r.ID.String(),
						"product_id":     r.ProductID.String(),
						"user_id":        r.ReservedBy.String(),
						"amount":         r.Amount,
						"expires_at":     r.ExpiresAt,
					},
				}); err != nil {
					return err
				}
				created = append(created, r)
			}
			return nil
		})
		if !errors.Is(txErr, domain.ErrSerializationFailure) {
			break
		}
		e.logger.WithField("attempt", attempt+1).Warn("bulk reserve: serialization failure, retrying")
	}
	if txErr != nil {
		return nil, txErr
	}

	observability.ReservationsCreated.Add(float64(len(created)))
	e.logger.WithField("user_id", actor.ID).
		WithField("items", len(created)).
		WithField("total", q.Total).
		Info("bulk reserve committed")

	return &BulkResult{Reservations: created, Total: q.Total, Balance: balance}, nil
}
