package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Principal is the authenticated caller attached to every request by the
// upstream auth gateway. The engine never authenticates, only authorizes.
type Principal struct {
	ID         uuid.UUID
	Email      string
	Privileged bool
}

type Product struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Name        string
	Description string
	ImageURL    string
	Price       float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reservation is a temporary hold on a product. Amount is the price snapshot
// taken at creation; later price edits never change the held funds. Terminal
// rows (CANCELLED, EXPIRED) are kept forever as history.
type Reservation struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	OwnerID    uuid.UUID
	ReservedBy uuid.UUID
	Amount     float64
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ProductSummary is the denormalized product view attached to reservation
// listings.
type ProductSummary struct {
	ID       uuid.UUID
	Name     string
	ImageURL string
	Price    float64
	OwnerID  uuid.UUID
}

type Topup struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Amount    float64
	Note      string
	CreatedAt time.Time
}

// Event is a lifecycle fact recorded in the outbox and published to the
// message broker.
type Event struct {
	Type        string
	AggregateID uuid.UUID
	Payload     map[string]interface{}
}

const (
	EventReservationCreated   = "reservation.created"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationExpired   = "reservation.expired"
	EventWalletDeposited      = "wallet.deposited"
)
