// Package enginetest provides an in-memory engine.Store with the same
// atomicity guarantees per operation as the real CockroachDB adapter, for
// concurrency and property tests that should not need a container.
package enginetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/engine"
)

type MemStore struct {
	mu           sync.Mutex
	balances     map[uuid.UUID]float64
	products     map[uuid.UUID]domain.Product
	reservations map[uuid.UUID]domain.Reservation
	topups       []domain.Topup
	events       []domain.Event
}

func New() *MemStore {
	return &MemStore{
		balances:     make(map[uuid.UUID]float64),
		products:     make(map[uuid.UUID]domain.Product),
		reservations: make(map[uuid.UUID]domain.Reservation),
	}
}

// --- seeding and inspection helpers ---

func (s *MemStore) SeedBalance(userID uuid.UUID, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = domain.RoundCents(amount)
}

func (s *MemStore) AddProduct(owner uuid.UUID, name string, price float64) domain.Product {
	p := domain.Product{
		ID:        uuid.New(),
		OwnerID:   owner,
		Name:      name,
		ImageURL:  "https://img.example/" + name,
		Price:     domain.RoundCents(price),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return p
}

func (s *MemStore) ReservationByID(id uuid.UUID) (domain.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	return r, ok
}

func (s *MemStore) ActiveCount(productID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.reservations {
		if r.ProductID == productID && r.Status == domain.StatusActive {
			n++
		}
	}
	return n
}

func (s *MemStore) EventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

// --- engine.Ledger ---

const centEpsilon = 1e-9

func (s *MemStore) ConditionalDebit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return debitLocked(s.balances, userID, amount)
}

func debitLocked(balances map[uuid.UUID]float64, userID uuid.UUID, amount float64) (float64, error) {
	b := balances[userID]
	if b+centEpsilon < amount {
		return 0, &domain.InsufficientFundsError{Balance: b, Need: amount}
	}
	balances[userID] = domain.RoundCents(b - amount)
	return balances[userID], nil
}

func (s *MemStore) Credit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = domain.RoundCents(s.balances[userID] + amount)
	return s.balances[userID], nil
}

func (s *MemStore) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

// --- engine.ProductStore ---

func (s *MemStore) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *MemStore) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]domain.Product)
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *MemStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) CreateProduct(ctx context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *MemStore) UpdateProduct(ctx context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.products[p.ID] = p
	return nil
}

func (s *MemStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

// --- engine.ReservationStore ---

func (s *MemStore) TryCreateActive(ctx context.Context, r domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createActiveLocked(s.reservations, r)
}

func createActiveLocked(reservations map[uuid.UUID]domain.Reservation, r domain.Reservation) error {
	for _, existing := range reservations {
		if existing.ProductID == r.ProductID && existing.Status == domain.StatusActive {
			return domain.ErrConflict
		}
	}
	r.Status = domain.StatusActive
	reservations[r.ID] = r
	return nil
}

func (s *MemStore) TransitionIfActive(ctx context.Context, id uuid.UUID, to domain.Status) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok || r.Status != domain.StatusActive {
		return nil, domain.ErrAlreadyProcessed
	}
	r.Status = to
	s.reservations[id] = r
	return &r, nil
}

func (s *MemStore) GetReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *MemStore) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.StatusActive && r.ExpiresAt.Before(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) FindActiveByProduct(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activeByProductLocked(s.reservations, ids), nil
}

func activeByProductLocked(reservations map[uuid.UUID]domain.Reservation, ids []uuid.UUID) map[uuid.UUID]domain.Reservation {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make(map[uuid.UUID]domain.Reservation)
	for _, r := range reservations {
		if r.Status != domain.StatusActive {
			continue
		}
		if _, ok := want[r.ProductID]; ok {
			out[r.ProductID] = r
		}
	}
	return out
}

func (s *MemStore) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.ReservedBy == userID && r.Status == domain.StatusActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- engine.WalletStore ---

func (s *MemStore) RecordTopup(ctx context.Context, t domain.Topup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topups = append(s.topups, t)
	return nil
}

func (s *MemStore) SumTopupsSince(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, t := range s.topups {
		if t.UserID == userID && !t.CreatedAt.Before(since) {
			sum += t.Amount
		}
	}
	return domain.RoundCents(sum), nil
}

// --- engine.EventSink ---

func (s *MemStore) AppendEvent(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// --- transactional boundary ---

// WithTx holds the store lock for the whole callback and stages every write;
// an error discards the staged state, mirroring a rolled-back transaction.
func (s *MemStore) WithTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		balances:     cloneMap(s.balances),
		reservations: cloneMap(s.reservations),
		events:       append([]domain.Event(nil), s.events...),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.balances = tx.balances
	s.reservations = tx.reservations
	s.events = tx.events
	return nil
}

type memTx struct {
	balances     map[uuid.UUID]float64
	reservations map[uuid.UUID]domain.Reservation
	events       []domain.Event
}

func (t *memTx) FindActiveByProduct(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Reservation, error) {
	return activeByProductLocked(t.reservations, ids), nil
}

func (t *memTx) ConditionalDebit(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	return debitLocked(t.balances, userID, amount)
}

func (t *memTx) CreateActive(ctx context.Context, r domain.Reservation) error {
	return createActiveLocked(t.reservations, r)
}

func (t *memTx) AppendEvent(ctx context.Context, ev domain.Event) error {
	t.events = append(t.events, ev)
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
