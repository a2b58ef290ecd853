package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewReservation snapshots the product price into Amount and stamps the
// expiry deadline at now+ttl.
func NewReservation(product Product, reservedBy uuid.UUID, now time.Time, ttl time.Duration) Reservation {
	return Reservation{
		ID:         uuid.New(),
		ProductID:  product.ID,
		OwnerID:    product.OwnerID,
		ReservedBy: reservedBy,
		Amount:     RoundCents(product.Price),
		Status:     StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

func (r Reservation) IsActive() bool {
	return r.Status == StatusActive
}

func (r Reservation) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}
