package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/observability"
)

// Ledger is the per-user balance. Both operations are single atomic document
// operations at the store: the debit guard and the decrement happen in one
// step, never as read-then-write.
type Ledger interface {
	// ConditionalDebit subtracts amount only if the balance covers it and
	// returns the post-debit balance. Rejection is *domain.InsufficientFundsError.
	ConditionalDebit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error)
	// Credit adds amount unconditionally and returns the new balance.
	Credit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error)
	Balance(ctx context.Context, userID uuid.UUID) (float64, error)
}

type ProductStore interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, p domain.Product) error
	UpdateProduct(ctx context.Context, p domain.Product) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
}

// ReservationStore owns the "at most one ACTIVE reservation per product"
// invariant. TryCreateActive must enforce it with a store-level constraint,
// not a prior read.
type ReservationStore interface {
	// TryCreateActive inserts an ACTIVE reservation; domain.ErrConflict if the
	// product already has one.
	TryCreateActive(ctx context.Context, r domain.Reservation) error
	// TransitionIfActive flips status only when the row is still ACTIVE and
	// returns the updated row; domain.ErrAlreadyProcessed when it is not.
	TransitionIfActive(ctx context.Context, id uuid.UUID, to domain.Status) (*domain.Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)
	FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	FindActiveByProduct(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Reservation, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error)
}

type WalletStore interface {
	RecordTopup(ctx context.Context, t domain.Topup) error
	SumTopupsSince(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error)
}

type EventSink interface {
	AppendEvent(ctx context.Context, ev domain.Event) error
}

// Tx is the slice of the store visible inside the bulk-reserve transaction.
type Tx interface {
	FindActiveByProduct(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Reservation, error)
	ConditionalDebit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error)
	CreateActive(ctx context.Context, r domain.Reservation) error
	AppendEvent(ctx context.Context, ev domain.Event) error
}

// Store is everything the engine needs from persistence. WithTx runs fn
// inside one multi-statement transaction with snapshot isolation; a
// serialization clash surfaces as domain.ErrSerializationFailure.
type Store interface {
	Ledger
	ProductStore
	ReservationStore
	WalletStore
	EventSink
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// ProductLocker is an optional advisory fast-path guard (e.g. redis SETNX).
// It only short-circuits obvious losers; the store constraint stays
// authoritative.
type ProductLocker interface {
	Acquire(ctx context.Context, productID, userID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, productID uuid.UUID) error
}

type Config struct {
	ReservationTTL time.Duration
	SweepLimit     int
	MaxBulkItems   int
	DailyTopupCap  float64
	TxAttempts     int
}

func (c *Config) applyDefaults() {
	if c.ReservationTTL == 0 {
		c.ReservationTTL = 24 * time.Hour
	}
	if c.SweepLimit == 0 {
		c.SweepLimit = 100
	}
	if c.MaxBulkItems == 0 {
		c.MaxBulkItems = 50
	}
	if c.DailyTopupCap == 0 {
		c.DailyTopupCap = 1000
	}
	if c.TxAttempts == 0 {
		c.TxAttempts = 3
	}
}

type Engine struct {
	store  Store
	locks  ProductLocker
	logger observability.Logger
	cfg    Config
	now    func() time.Time
}

type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocker enables the advisory per-product lock.
func WithLocker(l ProductLocker) Option {
	return func(e *Engine) { e.locks = l }
}

func New(store Store, logger observability.Logger, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) acquireLock(ctx context.Context, productID, userID uuid.UUID) bool {
	if e.locks == nil {
		return true
	}
	ok, err := e.locks.Acquire(ctx, productID, userID, e.cfg.ReservationTTL)
	if err != nil {
		// advisory only, the constrained insert still decides
		e.logger.WithField("product_id", productID).Warn("advisory lock acquire failed: ", err)
		return true
	}
	return ok
}

func (e *Engine) releaseLock(ctx context.Context, productID uuid.UUID) {
	if e.locks == nil {
		return
	}
	if err := e.locks.Release(ctx, productID); err != nil {
		e.logger.WithField("product_id", productID).Warn("advisory lock release failed: ", err)
	}
}

func (e *Engine) appendEvent(ctx context.Context, ev domain.Event) {
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.logger.WithField("event_type", ev.Type).Warn("failed to append event: ", err)
	}
}
