package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avelkaz/markethold/internal/domain"
	"github.com/avelkaz/markethold/internal/engine"
	"github.com/avelkaz/markethold/internal/engine/enginetest"
	"github.com/avelkaz/markethold/internal/observability"
)

// fakeClock is a mutable time source shared with the engine under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEngine(store *enginetest.MemStore, clock *fakeClock) *engine.Engine {
	return engine.New(store, observability.NewLogger(), engine.Config{}, engine.WithClock(clock.Now))
}

func mustBalance(t *testing.T, store *enginetest.MemStore, userID uuid.UUID) float64 {
	t.Helper()
	b, err := store.Balance(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestReserve_DebitsAndSetsExpiry(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	clock := newFakeClock()
	eng := newEngine(store, clock)

	owner := uuid.New()
	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 100)
	product := store.AddProduct(owner, "lamp", 40)

	r, err := eng.Reserve(ctx, buyer, product.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r.Status != domain.StatusActive {
		t.Errorf("expected ACTIVE, got %s", r.Status)
	}
	if r.Amount != 40 {
		t.Errorf("expected amount 40, got %v", r.Amount)
	}
	if got, want := r.ExpiresAt, clock.Now().Add(24*time.Hour); !got.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, got)
	}
	if b := mustBalance(t, store, buyer.ID); b != 60 {
		t.Errorf("expected balance 60, got %v", b)
	}
}

func TestReserve_SecondCallerRejected(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	owner := uuid.New()
	first := domain.Principal{ID: uuid.New()}
	second := domain.Principal{ID: uuid.New()}
	store.SeedBalance(first.ID, 100)
	store.SeedBalance(second.ID, 100)
	product := store.AddProduct(owner, "lamp", 40)

	if _, err := eng.Reserve(ctx, first, product.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Reserve(ctx, second, product.ID); !errors.Is(err, domain.ErrAlreadyReserved) {
		t.Fatalf("expected ErrAlreadyReserved, got %v", err)
	}
	if b := mustBalance(t, store, second.ID); b != 100 {
		t.Errorf("losing caller was debited: balance %v", b)
	}
}

func TestReserve_OwnProduct(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	owner := domain.Principal{ID: uuid.New()}
	store.SeedBalance(owner.ID, 100)
	product := store.AddProduct(owner.ID, "lamp", 40)

	if _, err := eng.Reserve(ctx, owner, product.ID); !errors.Is(err, domain.ErrOwnProduct) {
		t.Fatalf("expected ErrOwnProduct, got %v", err)
	}
}

func TestReserve_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 30)
	product := store.AddProduct(uuid.New(), "lamp", 40)

	_, err := eng.Reserve(ctx, buyer, product.ID)
	var insufficient *domain.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if insufficient.Balance != 30 || insufficient.Need != 40 {
		t.Errorf("unexpected detail: balance %v need %v", insufficient.Balance, insufficient.Need)
	}
	if store.ActiveCount(product.ID) != 0 {
		t.Error("reservation created despite rejected debit")
	}
}

func TestReserve_NotFoundAndNilID(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())
	buyer := domain.Principal{ID: uuid.New()}

	if _, err := eng.Reserve(ctx, buyer, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := eng.Reserve(ctx, buyer, uuid.Nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// Concurrent reservations of the same product must produce exactly one winner
// and leave every loser's balance untouched.
func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	product := store.AddProduct(uuid.New(), "lamp", 40)

	const callers = 8
	users := make([]domain.Principal, callers)
	for i := range users {
		users[i] = domain.Principal{ID: uuid.New()}
		store.SeedBalance(users[i].ID, 100)
	}

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Reserve(ctx, users[i], product.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
			if b := mustBalance(t, store, users[i].ID); b != 60 {
				t.Errorf("winner balance %v, want 60", b)
			}
		case errors.Is(err, domain.ErrAlreadyReserved):
			if b := mustBalance(t, store, users[i].ID); b != 100 {
				t.Errorf("loser %d was debited: balance %v", i, b)
			}
		default:
			t.Errorf("caller %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
	if store.ActiveCount(product.ID) != 1 {
		t.Fatalf("expected 1 active reservation, got %d", store.ActiveCount(product.ID))
	}
}

func TestSweep_ExpiresAndRefundsOnce(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	clock := newFakeClock()
	eng := newEngine(store, clock)

	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 100)
	product := store.AddProduct(uuid.New(), "lamp", 40)

	r, err := eng.Reserve(ctx, buyer, product.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b := mustBalance(t, store, buyer.ID); b != 60 {
		t.Fatalf("balance after reserve %v, want 60", b)
	}

	// not yet expired
	if n := eng.Sweep(ctx); n != 0 {
		t.Fatalf("premature sweep processed %d", n)
	}

	clock.Advance(24*time.Hour + time.Minute)
	if n := eng.Sweep(ctx); n != 1 {
		t.Fatalf("sweep processed %d, want 1", n)
	}

	got, _ := store.ReservationByID(r.ID)
	if got.Status != domain.StatusExpired {
		t.Errorf("expected EXPIRED, got %s", got.Status)
	}
	if b := mustBalance(t, store, buyer.ID); b != 100 {
		t.Errorf("expected refund to 100, got %v", b)
	}

	// a second pass must not double-refund
	if n := eng.Sweep(ctx); n != 0 {
		t.Errorf("second sweep processed %d", n)
	}
	if b := mustBalance(t, store, buyer.ID); b != 100 {
		t.Errorf("balance drifted to %v after second sweep", b)
	}
}

func TestReserve_AfterExpiryProductIsFree(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	clock := newFakeClock()
	eng := newEngine(store, clock)

	first := domain.Principal{ID: uuid.New()}
	second := domain.Principal{ID: uuid.New()}
	store.SeedBalance(first.ID, 100)
	store.SeedBalance(second.ID, 100)
	product := store.AddProduct(uuid.New(), "lamp", 40)

	if _, err := eng.Reserve(ctx, first, product.ID); err != nil {
		t.Fatal(err)
	}
	clock.Advance(25 * time.Hour)

	// the reserve path sweeps lazily, so the expired hold no longer blocks
	if _, err := eng.Reserve(ctx, second, product.ID); err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if b := mustBalance(t, store, first.ID); b != 100 {
		t.Errorf("first user not refunded: %v", b)
	}
	if b := mustBalance(t, store, second.ID); b != 60 {
		t.Errorf("second user balance %v, want 60", b)
	}
}

func TestCancel_RefundsAndIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 100)
	product := store.AddProduct(uuid.New(), "lamp", 40)

	r, err := eng.Reserve(ctx, buyer, product.ID)
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := eng.Cancel(ctx, buyer, r.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	if b := mustBalance(t, store, buyer.ID); b != 100 {
		t.Errorf("expected refund to 100, got %v", b)
	}

	// the second cancel must neither refund again nor succeed
	if _, err := eng.Cancel(ctx, buyer, r.ID); !errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if b := mustBalance(t, store, buyer.ID); b != 100 {
		t.Errorf("double refund: balance %v", b)
	}
}

func TestCancel_Authorization(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	ownerID := uuid.New()
	buyer := domain.Principal{ID: uuid.New()}
	stranger := domain.Principal{ID: uuid.New()}
	operator := domain.Principal{ID: uuid.New(), Privileged: true}
	store.SeedBalance(buyer.ID, 200)
	lamp := store.AddProduct(ownerID, "lamp", 40)
	desk := store.AddProduct(ownerID, "desk", 40)

	r1, err := eng.Reserve(ctx, buyer, lamp.ID)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := eng.Reserve(ctx, buyer, desk.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Cancel(ctx, stranger, r1.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if _, err := eng.Cancel(ctx, domain.Principal{ID: ownerID}, r1.ID); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if _, err := eng.Cancel(ctx, operator, r2.ID); err != nil {
		t.Fatalf("privileged cancel: %v", err)
	}
	if b := mustBalance(t, store, buyer.ID); b != 200 {
		t.Errorf("expected full refund to 200, got %v", b)
	}
}

// A cancel racing the sweep over an expired reservation must refund exactly
// once, whichever side wins the compare-and-swap.
func TestCancel_RaceWithSweep_SingleRefund(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		store := enginetest.New()
		clock := newFakeClock()
		eng := newEngine(store, clock)

		buyer := domain.Principal{ID: uuid.New()}
		store.SeedBalance(buyer.ID, 100)
		product := store.AddProduct(uuid.New(), "lamp", 40)

		r, err := eng.Reserve(ctx, buyer, product.ID)
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(25 * time.Hour)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			eng.Sweep(ctx)
		}()
		go func() {
			defer wg.Done()
			// ErrNotActive / ErrAlreadyProcessed just mean the sweep won
			_, err := eng.Cancel(ctx, buyer, r.ID)
			if err != nil && !errors.Is(err, domain.ErrNotActive) && !errors.Is(err, domain.ErrAlreadyProcessed) {
				t.Errorf("cancel: %v", err)
			}
		}()
		wg.Wait()

		got, _ := store.ReservationByID(r.ID)
		if got.Status == domain.StatusActive {
			t.Fatal("reservation still active after race")
		}
		if b := mustBalance(t, store, buyer.ID); b != 100 {
			t.Fatalf("iteration %d: balance %v, want exactly one refund to 100", i, b)
		}
	}
}

func TestGetQuote_Partitions(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	buyer := domain.Principal{ID: uuid.New()}
	other := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 500)
	store.SeedBalance(other.ID, 500)

	available := store.AddProduct(uuid.New(), "lamp", 40)
	own := store.AddProduct(buyer.ID, "desk", 60)
	taken := store.AddProduct(uuid.New(), "chair", 25)
	missing := uuid.New()

	if _, err := eng.Reserve(ctx, other, taken.ID); err != nil {
		t.Fatal(err)
	}

	q, err := eng.GetQuote(ctx, buyer, []uuid.UUID{available.ID, own.ID, taken.ID, missing, available.ID})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(q.Available) != 1 || q.Available[0].ID != available.ID {
		t.Errorf("available: %v", q.Available)
	}
	if len(q.Own) != 1 || q.Own[0] != own.ID {
		t.Errorf("own: %v", q.Own)
	}
	if len(q.AlreadyReserved) != 1 || q.AlreadyReserved[0] != taken.ID {
		t.Errorf("already reserved: %v", q.AlreadyReserved)
	}
	if len(q.Missing) != 1 || q.Missing[0] != missing {
		t.Errorf("missing: %v", q.Missing)
	}
	if q.Total != 40 {
		t.Errorf("total %v, want 40", q.Total)
	}
}

func TestGetQuote_OwnAndHeldListedUnderBothReasons(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	seller := domain.Principal{ID: uuid.New()}
	other := domain.Principal{ID: uuid.New()}
	store.SeedBalance(other.ID, 100)
	listing := store.AddProduct(seller.ID, "lamp", 40)

	if _, err := eng.Reserve(ctx, other, listing.ID); err != nil {
		t.Fatal(err)
	}

	q, err := eng.GetQuote(ctx, seller, []uuid.UUID{listing.ID})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(q.Own) != 1 || q.Own[0] != listing.ID {
		t.Errorf("own: %v", q.Own)
	}
	if len(q.AlreadyReserved) != 1 || q.AlreadyReserved[0] != listing.ID {
		t.Errorf("already reserved: %v", q.AlreadyReserved)
	}
	if len(q.Available) != 0 || q.Total != 0 {
		t.Errorf("available %v total %v", q.Available, q.Total)
	}
}

// A free listing needs no prior deposit: a zero debit of an untouched balance
// succeeds.
func TestReserve_FreeProductWithoutDeposit(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	buyer := domain.Principal{ID: uuid.New()}
	product := store.AddProduct(uuid.New(), "freebie", 0)

	r, err := eng.Reserve(ctx, buyer, product.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r.Amount != 0 {
		t.Errorf("amount %v, want 0", r.Amount)
	}
	if b := mustBalance(t, store, buyer.ID); b != 0 {
		t.Errorf("balance %v, want 0", b)
	}
}

func TestBulkReserve_AllOrNothingOnFunds(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 50)

	owner := uuid.New()
	ids := []uuid.UUID{
		store.AddProduct(owner, "a", 30).ID,
		store.AddProduct(owner, "b", 30).ID,
		store.AddProduct(owner, "c", 30).ID,
	}

	_, err := eng.BulkReserve(ctx, buyer, ids)
	var insufficient *domain.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if b := mustBalance(t, store, buyer.ID); b != 50 {
		t.Errorf("balance %v, want untouched 50", b)
	}
	for _, id := range ids {
		if store.ActiveCount(id) != 0 {
			t.Errorf("product %s reserved despite aborted batch", id)
		}
	}
}

func TestBulkReserve_Success(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 200)

	owner := uuid.New()
	ids := []uuid.UUID{
		store.AddProduct(owner, "a", 30).ID,
		store.AddProduct(owner, "b", 30).ID,
		store.AddProduct(owner, "c", 30).ID,
	}

	res, err := eng.BulkReserve(ctx, buyer, ids)
	if err != nil {
		t.Fatalf("bulk reserve: %v", err)
	}
	if len(res.Reservations) != 3 {
		t.Fatalf("expected 3 reservations, got %d", len(res.Reservations))
	}
	if res.Total != 90 {
		t.Errorf("total %v, want 90", res.Total)
	}
	if res.Balance != 110 {
		t.Errorf("balance %v, want 110", res.Balance)
	}
	for _, id := range ids {
		if store.ActiveCount(id) != 1 {
			t.Errorf("product %s has %d active holds", id, store.ActiveCount(id))
		}
	}
}

func TestBulkReserve_RejectsPartialAvailability(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	buyer := domain.Principal{ID: uuid.New()}
	other := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 200)
	store.SeedBalance(other.ID, 200)

	owner := uuid.New()
	free := store.AddProduct(owner, "a", 30)
	taken := store.AddProduct(owner, "b", 30)
	if _, err := eng.Reserve(ctx, other, taken.ID); err != nil {
		t.Fatal(err)
	}

	_, err := eng.BulkReserve(ctx, buyer, []uuid.UUID{free.ID, taken.ID})
	var unavailable *domain.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if len(unavailable.AlreadyReserved) != 1 || unavailable.AlreadyReserved[0] != taken.ID {
		t.Errorf("already reserved: %v", unavailable.AlreadyReserved)
	}
	if store.ActiveCount(free.ID) != 0 {
		t.Error("partial batch leaked a reservation")
	}
	if b := mustBalance(t, store, buyer.ID); b != 200 {
		t.Errorf("balance %v, want untouched 200", b)
	}
}

func TestBulkReserve_BatchLimits(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())
	buyer := domain.Principal{ID: uuid.New()}

	if _, err := eng.BulkReserve(ctx, buyer, nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty batch: expected ErrInvalidInput, got %v", err)
	}

	ids := make([]uuid.UUID, 51)
	for i := range ids {
		ids[i] = uuid.New()
	}
	if _, err := eng.BulkReserve(ctx, buyer, ids); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("oversized batch: expected ErrInvalidInput, got %v", err)
	}
}

func TestMyActive_SweepsAndAttachesProducts(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	clock := newFakeClock()
	eng := newEngine(store, clock)

	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 300)
	owner := uuid.New()
	lamp := store.AddProduct(owner, "lamp", 40)
	desk := store.AddProduct(owner, "desk", 60)

	if _, err := eng.Reserve(ctx, buyer, lamp.ID); err != nil {
		t.Fatal(err)
	}
	clock.Advance(12 * time.Hour)
	if _, err := eng.Reserve(ctx, buyer, desk.ID); err != nil {
		t.Fatal(err)
	}

	// the first hold crosses its deadline, the second does not
	clock.Advance(13 * time.Hour)

	list, err := eng.MyActive(ctx, buyer)
	if err != nil {
		t.Fatalf("my active: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 active hold, got %d", len(list))
	}
	if list[0].Reservation.ProductID != desk.ID {
		t.Errorf("expected desk hold, got product %s", list[0].Reservation.ProductID)
	}
	if list[0].Product == nil || list[0].Product.Name != "desk" {
		t.Errorf("missing product summary: %+v", list[0].Product)
	}
	if b := mustBalance(t, store, buyer.ID); b != 240 {
		t.Errorf("expected lamp refund (300-60), got %v", b)
	}
}

func TestDeposit_DailyCap(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	user := domain.Principal{ID: uuid.New()}

	if _, err := eng.Deposit(ctx, user, 800, "payday"); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	_, err := eng.Deposit(ctx, user, 300, "more")
	var capErr *domain.DailyCapError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected DailyCapError, got %v", err)
	}
	if capErr.Left != 200 {
		t.Errorf("expected 200 left, got %v", capErr.Left)
	}
	if _, err := eng.Deposit(ctx, user, 200, "topping off"); err != nil {
		t.Fatalf("deposit within remainder: %v", err)
	}
	if b := mustBalance(t, store, user.ID); b != 1000 {
		t.Errorf("balance %v, want 1000", b)
	}

	if _, err := eng.Deposit(ctx, user, -5, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("negative amount: expected ErrInvalidInput, got %v", err)
	}
}

func TestDeposit_CapResetsNextDayAndSkipsPrivileged(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	clock := newFakeClock()
	eng := newEngine(store, clock)

	user := domain.Principal{ID: uuid.New()}
	operator := domain.Principal{ID: uuid.New(), Privileged: true}

	if _, err := eng.Deposit(ctx, user, 1000, ""); err != nil {
		t.Fatal(err)
	}
	clock.Advance(24 * time.Hour)
	if _, err := eng.Deposit(ctx, user, 1000, ""); err != nil {
		t.Fatalf("deposit after reset: %v", err)
	}

	if _, err := eng.Deposit(ctx, operator, 5000, "seed"); err != nil {
		t.Fatalf("privileged deposit: %v", err)
	}
}

func TestUpdateProduct_PriceLockedWhileHeld(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	owner := domain.Principal{ID: uuid.New()}
	buyer := domain.Principal{ID: uuid.New()}
	operator := domain.Principal{ID: uuid.New(), Privileged: true}
	store.SeedBalance(buyer.ID, 100)
	product := store.AddProduct(owner.ID, "lamp", 40)

	if _, err := eng.Reserve(ctx, buyer, product.ID); err != nil {
		t.Fatal(err)
	}

	newPrice := 55.0
	if _, err := eng.UpdateProduct(ctx, owner, product.ID, engine.ProductPatch{Price: &newPrice}); !errors.Is(err, domain.ErrPriceLocked) {
		t.Fatalf("expected ErrPriceLocked, got %v", err)
	}

	// non-price fields stay editable under a hold
	name := "brass lamp"
	if _, err := eng.UpdateProduct(ctx, owner, product.ID, engine.ProductPatch{Name: &name}); err != nil {
		t.Fatalf("name update: %v", err)
	}

	// privileged override
	updated, err := eng.UpdateProduct(ctx, operator, product.ID, engine.ProductPatch{Price: &newPrice})
	if err != nil {
		t.Fatalf("privileged price update: %v", err)
	}
	if updated.Price != 55 {
		t.Errorf("price %v, want 55", updated.Price)
	}

	stranger := domain.Principal{ID: uuid.New()}
	if _, err := eng.UpdateProduct(ctx, stranger, product.ID, engine.ProductPatch{Name: &name}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestDeleteProduct_BlockedWhileHeld(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	owner := domain.Principal{ID: uuid.New()}
	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 100)
	product := store.AddProduct(owner.ID, "lamp", 40)

	r, err := eng.Reserve(ctx, buyer, product.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.DeleteProduct(ctx, owner, product.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if _, err := eng.Cancel(ctx, buyer, r.ID); err != nil {
		t.Fatal(err)
	}
	if err := eng.DeleteProduct(ctx, owner, product.ID); err != nil {
		t.Fatalf("delete after cancel: %v", err)
	}
}

// Concurrent reserves against a finite balance: the ledger must never go
// negative and must account exactly for the holds that won.
func TestLedger_NeverNegativeUnderContention(t *testing.T) {
	ctx := context.Background()
	store := enginetest.New()
	eng := newEngine(store, newFakeClock())

	buyer := domain.Principal{ID: uuid.New()}
	store.SeedBalance(buyer.ID, 100)

	owner := uuid.New()
	const products = 10
	ids := make([]uuid.UUID, products)
	for i := range ids {
		ids[i] = store.AddProduct(owner, "bulk", 30).ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := eng.Reserve(ctx, buyer, id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	b := mustBalance(t, store, buyer.ID)
	if b < 0 {
		t.Fatalf("balance went negative: %v", b)
	}
	if want := 100 - float64(wins)*30; b != want {
		t.Errorf("balance %v, want %v for %d wins", b, want, wins)
	}
	if wins > 3 {
		t.Errorf("%d wins against balance 100 at price 30", wins)
	}
}
