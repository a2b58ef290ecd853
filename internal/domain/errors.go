package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrOwnProduct           = errors.New("cannot reserve own product")
	ErrAlreadyReserved      = errors.New("product already reserved")
	ErrNotActive            = errors.New("reservation not active")
	ErrAlreadyProcessed     = errors.New("reservation already processed")
	ErrForbidden            = errors.New("forbidden")
	ErrPriceLocked          = errors.New("price locked by active reservation")
)

// InsufficientFundsError carries the caller's current balance and the amount
// the operation needed, so clients can render a precise message.
type InsufficientFundsError struct {
	Balance float64
	Need    float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: have %.2f, need %.2f", e.Balance, e.Need)
}

// UnavailableError reports which products of a bulk selection cannot be
// reserved, split by reason.
type UnavailableError struct {
	Missing         []uuid.UUID
	Own             []uuid.UUID
	AlreadyReserved []uuid.UUID
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("some items unavailable: missing=%d own=%d reserved=%d",
		len(e.Missing), len(e.Own), len(e.AlreadyReserved))
}

// DailyCapError is returned when a wallet deposit would exceed the daily
// top-up cap. Left is what the user may still deposit today.
type DailyCapError struct {
	Left float64
}

func (e *DailyCapError) Error() string {
	return fmt.Sprintf("daily top-up cap exceeded, left today: %.2f", e.Left)
}
