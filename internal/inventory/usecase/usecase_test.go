package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shoplane/inventory-service/internal/inventory"
	"github.com/shoplane/inventory-service/internal/inventory/dto"
	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/pkg/logger"
)

type memRepo struct {
	mu           sync.Mutex
	summaries    map[string]*model.InventorySummary
	movements    []model.StockMovement
	reservations map[string]*model.StockReservation
	refs         map[string]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		summaries:    map[string]*model.InventorySummary{},
		reservations: map[string]*model.StockReservation{},
		refs:         map[string]bool{},
	}
}

func refKey(m *model.StockMovement) string {
	return string(*m.ReferenceType) + "|" + *m.ReferenceID
}

func (r *memRepo) GetSummary(_ context.Context, productID string) (*model.InventorySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[productID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *memRepo) UpsertSummary(_ context.Context, s *model.InventorySummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := s.Clone()
	if prev, ok := r.summaries[s.ProductID]; ok {
		stored.Version = prev.Version + 1
	} else {
		stored.Version = 1
	}
	r.summaries[s.ProductID] = stored
	return nil
}

func (r *memRepo) casStore(s *model.InventorySummary) error {
	stored, ok := r.summaries[s.ProductID]
	if !ok || stored.Version != s.Version {
		return model.ErrSummaryConflict
	}
	next := s.Clone()
	next.Version++
	r.summaries[s.ProductID] = next
	return nil
}

func (r *memRepo) ApplySummaryWithMovement(_ context.Context, s *model.InventorySummary, m *model.StockMovement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ReferenceID != nil {
		if r.refs[refKey(m)] {
			return false, nil
		}
	}
	if err := r.casStore(s); err != nil {
		return false, err
	}
	r.movements = append(r.movements, *m)
	if m.ReferenceID != nil {
		r.refs[refKey(m)] = true
	}
	s.Version++
	return true, nil
}

func (r *memRepo) CreateReservationWithMovement(_ context.Context, rv *model.StockReservation, s *model.InventorySummary, m *model.StockMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.casStore(s); err != nil {
		return err
	}
	cp := *rv
	r.reservations[rv.ID] = &cp
	r.movements = append(r.movements, *m)
	s.Version++
	return nil
}

func (r *memRepo) GetReservation(_ context.Context, id string) (*model.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rv, ok := r.reservations[id]
	if !ok {
		return nil, nil
	}
	cp := *rv
	return &cp, nil
}

func (r *memRepo) ResolveReservationWithMovement(_ context.Context, reservationID string, status model.ReservationStatus, s *model.InventorySummary, m *model.StockMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rv, ok := r.reservations[reservationID]
	if !ok || rv.Status != model.ReservationActive {
		return model.ErrAlreadyResolved
	}
	if err := r.casStore(s); err != nil {
		return err
	}
	rv.Status = status
	rv.UpdatedAt = time.Now()
	r.movements = append(r.movements, *m)
	s.Version++
	return nil
}

func (r *memRepo) FindExpiredReservations(_ context.Context, now time.Time, limit int) ([]model.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StockReservation
	for _, rv := range r.reservations {
		if rv.Status == model.ReservationActive && !rv.ExpiresAt.After(now) {
			out = append(out, *rv)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memRepo) ListMovements(_ context.Context, f *dto.MovementFilters) ([]model.StockMovement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StockMovement
	for _, m := range r.movements {
		if f.ProductID != "" && m.ProductID != f.ProductID {
			continue
		}
		if f.MovementType != "" && string(m.MovementType) != f.MovementType {
			continue
		}
		out = append(out, m)
	}
	return out, len(out), nil
}

func (r *memRepo) ListLowStock(_ context.Context, page, pageSize int) ([]model.InventorySummary, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.InventorySummary
	for _, s := range r.summaries {
		for _, v := range s.Variants {
			if v.AvailableStock <= v.LowStockThreshold {
				out = append(out, *s.Clone())
				break
			}
		}
	}
	return out, len(out), nil
}

// memLocker is a try-lock keyed mutex with the redis lock's contract.
type memLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]string{}} }

func (l *memLocker) AcquireLock(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return false, nil
	}
	l.held[key] = value
	return true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == value {
		delete(l.held, key)
	}
	return nil
}

var testLogger = logger.NewZapLogger(&logger.ZapLoggerConfig{
	Level:             "error",
	Encoding:          "json",
	DisableCaller:     true,
	DisableStacktrace: true,
})

func strptr(s string) *string { return &s }

func newTestEngine(repo *memRepo) inventory.UseCase {
	return NewInventoryUseCase(repo, newMemLocker(), nil, nil, nil, testLogger, Options{
		DefaultReservationTTL: 15 * time.Minute,
		LockRetries:           300,
		LockRetryInterval:     time.Millisecond,
	})
}

func seedSummary(repo *memRepo, productID string, variantID *string, stock int64) {
	s := &model.InventorySummary{
		ProductID: productID,
		Variants: model.VariantList{
			{VariantID: variantID, SKU: "SKU-1", CurrentStock: stock, LowStockThreshold: 10},
		},
		Version:   1,
		UpdatedAt: time.Now(),
	}
	s.Recompute(nil)
	repo.summaries[productID] = s
}

func TestReserveConfirmFlow(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seedSummary(repo, "p1", strptr("v1"), 100)
	uc := newTestEngine(repo)

	rv, s, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", VariantID: strptr("v1"), Quantity: 30})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	v := s.Variant(strptr("v1"))
	if v.CurrentStock != 100 || v.ReservedStock != 30 || v.AvailableStock != 70 {
		t.Fatalf("after reserve: current=%d reserved=%d available=%d", v.CurrentStock, v.ReservedStock, v.AvailableStock)
	}

	// Second reservation beyond availability must be rejected.
	if _, _, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", VariantID: strptr("v1"), Quantity: 80}); !errors.Is(err, model.ErrInsufficientAvailable) {
		t.Fatalf("expected ErrInsufficientAvailable, got %v", err)
	}

	s, err = uc.ConfirmReservation(ctx, rv.ID)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	v = s.Variant(strptr("v1"))
	if v.CurrentStock != 70 || v.ReservedStock != 0 || v.AvailableStock != 70 {
		t.Fatalf("after confirm: current=%d reserved=%d available=%d", v.CurrentStock, v.ReservedStock, v.AvailableStock)
	}

	stored, _ := repo.GetReservation(ctx, rv.ID)
	if stored.Status != model.ReservationConfirmed {
		t.Errorf("expected confirmed, got %s", stored.Status)
	}

	// The confirmation lands as a sale movement with the right balance.
	sales, _, _ := repo.ListMovements(ctx, &dto.MovementFilters{ProductID: "p1", MovementType: "sale"})
	if len(sales) != 1 || sales[0].Quantity != -30 || sales[0].BalanceAfter != 70 {
		t.Errorf("unexpected sale movements: %+v", sales)
	}
}

func TestReserve_InvalidQuantity(t *testing.T) {
	repo := newMemRepo()
	seedSummary(repo, "p1", nil, 10)
	uc := newTestEngine(repo)

	if _, _, err := uc.Reserve(context.Background(), &dto.ReserveInput{ProductID: "p1", Quantity: 0}); !errors.Is(err, model.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestRecordMovement_InsufficientStock(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seedSummary(repo, "p1", nil, 5)
	uc := newTestEngine(repo)

	_, err := uc.RecordMovement(ctx, &dto.RecordMovementInput{
		ProductID:    "p1",
		MovementType: model.MovementSale,
		Quantity:     -6,
	})
	if !errors.Is(err, model.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// The failed movement must leave no trace.
	s, _ := repo.GetSummary(ctx, "p1")
	if s.Variant(nil).CurrentStock != 5 {
		t.Errorf("summary mutated by failed movement: %d", s.Variant(nil).CurrentStock)
	}
	if len(repo.movements) != 0 {
		t.Errorf("ledger grew on failed movement: %d entries", len(repo.movements))
	}
}

func TestRecordMovement_UnknownVariant(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seedSummary(repo, "p1", strptr("v1"), 5)
	uc := newTestEngine(repo)

	_, err := uc.RecordMovement(ctx, &dto.RecordMovementInput{
		ProductID:    "p1",
		VariantID:    strptr("v2"),
		MovementType: model.MovementPurchase,
		Quantity:     10,
	})
	if !errors.Is(err, model.ErrUnknownVariant) {
		t.Errorf("expected ErrUnknownVariant for unknown variant, got %v", err)
	}

	_, err = uc.RecordMovement(ctx, &dto.RecordMovementInput{
		ProductID:    "nope",
		MovementType: model.MovementPurchase,
		Quantity:     10,
	})
	if !errors.Is(err, model.ErrUnknownVariant) {
		t.Errorf("expected ErrUnknownVariant for unknown product, got %v", err)
	}
}

func TestRecordMovement_RejectsAuditOnlyTypes(t *testing.T) {
	repo := newMemRepo()
	seedSummary(repo, "p1", nil, 5)
	uc := newTestEngine(repo)

	_, err := uc.RecordMovement(context.Background(), &dto.RecordMovementInput{
		ProductID:    "p1",
		MovementType: model.MovementReservation,
		Quantity:     1,
	})
	if err == nil {
		t.Error("reservation movements must go through Reserve, not RecordMovement")
	}
}

func TestRecordMovement_IdempotentReference(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seedSummary(repo, "p1", nil, 10)
	uc := newTestEngine(repo)

	input := &dto.RecordMovementInput{
		ProductID:     "p1",
		MovementType:  model.MovementPurchase,
		Quantity:      5,
		ReferenceType: model.ReferencePurchaseOrder,
		ReferenceID:   "po-42",
	}

	s, err := uc.RecordMovement(ctx, input)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if s.Variant(nil).CurrentStock != 15 {
		t.Fatalf("expected 15 after purchase, got %d", s.Variant(nil).CurrentStock)
	}

	// Retried with the same reference: no double application.
	s, err = uc.RecordMovement(ctx, input)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if s.Variant(nil).CurrentStock != 15 {
		t.Errorf("duplicate reference applied twice: %d", s.Variant(nil).CurrentStock)
	}
	if len(repo.movements) != 1 {
		t.Errorf("expected 1 ledger entry, got %d", len(repo.movements))
	}
}

func TestExpireReservation_RestoresAvailableOnly(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seedSummary(repo, "p1", nil, 50)
	uc := newTestEngine(repo)

	rv, s, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", Quantity: 20})
	if err != nil {
		t.Fatal(err)
	}
	if s.Variant(nil).AvailableStock != 30 {
		t.Fatalf("expected available 30, got %d", s.Variant(nil).AvailableStock)
	}

	s, err = uc.ExpireReservation(ctx, rv.ID)
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	v := s.Variant(nil)
	if v.CurrentStock != 50 {
		t.Errorf("expiry must not touch currentStock, got %d", v.CurrentStock)
	}
	if v.AvailableStock != 50 || v.ReservedStock != 0 {
		t.Errorf("expiry must restore availability: available=%d reserved=%d", v.AvailableStock, v.ReservedStock)
	}

	stored, _ := repo.GetReservation(ctx, rv.ID)
	if stored.Status != model.ReservationExpired {
		t.Errorf("expected expired, got %s", stored.Status)
	}

	// The release is auditable as a cancellation entry.
	cancels, _, _ := repo.ListMovements(ctx, &dto.MovementFilters{ProductID: "p1", MovementType: "cancellation"})
	if len(cancels) != 1 || cancels[0].BalanceAfter != 50 {
		t.Errorf("unexpected cancellation movements: %+v", cancels)
	}
}

func TestResolveTwice_AlreadyResolved(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seedSummary(repo, "p1", nil, 50)
	uc := newTestEngine(repo)

	rv, _, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", Quantity: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uc.ReleaseReservation(ctx, rv.ID); err != nil {
		t.Fatal(err)
	}

	before, _ := repo.GetSummary(ctx, "p1")
	for _, resolve := range []func(context.Context, string) (*model.InventorySummary, error){
		uc.ReleaseReservation, uc.ExpireReservation, uc.ConfirmReservation,
	} {
		if _, err := resolve(ctx, rv.ID); !errors.Is(err, model.ErrAlreadyResolved) {
			t.Fatalf("expected ErrAlreadyResolved, got %v", err)
		}
	}
	after, _ := repo.GetSummary(ctx, "p1")
	if after.Variant(nil).ReservedStock != before.Variant(nil).ReservedStock {
		t.Error("repeated resolution double-decremented reservedStock")
	}
}

func TestResolve_UnknownReservation(t *testing.T) {
	repo := newMemRepo()
	uc := newTestEngine(repo)

	if _, err := uc.ConfirmReservation(context.Background(), "missing"); !errors.Is(err, model.ErrReservationNotFound) {
		t.Errorf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestReserve_TTL(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seedSummary(repo, "p1", nil, 50)
	uc := newTestEngine(repo)

	start := time.Now()
	rv, _, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", Quantity: 1})
	if err != nil {
		t.Fatal(err)
	}
	d := rv.ExpiresAt.Sub(start)
	if d < 14*time.Minute || d > 16*time.Minute {
		t.Errorf("default TTL should be ~15m, got %s", d)
	}

	// An explicit TTL overrides the default.
	rv, _, err = uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", Quantity: 1, TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	d = rv.ExpiresAt.Sub(start)
	if d > 2*time.Minute {
		t.Errorf("explicit TTL ignored, expires in %s", d)
	}
}

func TestInitializeInventory_SeedsThroughLedger(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	uc := newTestEngine(repo)

	s, err := uc.InitializeInventory(ctx, &dto.InitializeInventoryInput{
		ProductID: "p1",
		Variants: []dto.VariantInit{
			{VariantID: strptr("v1"), SKU: "SKU-1", InitialStock: 40, LowStockThreshold: 10},
		},
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if s.Variant(strptr("v1")).CurrentStock != 40 {
		t.Fatalf("expected seeded stock 40, got %d", s.Variant(strptr("v1")).CurrentStock)
	}

	adjustments, _, _ := repo.ListMovements(ctx, &dto.MovementFilters{ProductID: "p1", MovementType: "adjustment"})
	if len(adjustments) != 1 || adjustments[0].BalanceAfter != 40 {
		t.Errorf("initial stock must arrive through the ledger: %+v", adjustments)
	}
}

func TestConcurrentReservations_NoOverselling(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()

	const n = 20
	seedSummary(repo, "p1", nil, n)
	uc := newTestEngine(repo)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", Quantity: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("a reservation against sufficient availability failed: %v", err)
		}
	}

	s, _ := repo.GetSummary(ctx, "p1")
	v := s.Variant(nil)
	if v.ReservedStock != n || v.AvailableStock != 0 || v.CurrentStock != n {
		t.Fatalf("final state: current=%d reserved=%d available=%d", v.CurrentStock, v.ReservedStock, v.AvailableStock)
	}

	// One more request must now be rejected, not oversold.
	if _, _, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", Quantity: 1}); !errors.Is(err, model.ErrInsufficientAvailable) {
		t.Fatalf("expected ErrInsufficientAvailable, got %v", err)
	}
}

func TestReserve_LockTimeout(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seedSummary(repo, "p1", nil, 50)

	locker := newMemLocker()
	uc := NewInventoryUseCase(repo, locker, nil, nil, nil, testLogger, Options{
		LockRetries:       2,
		LockRetryInterval: time.Millisecond,
	})

	// Another holder owns the product lock for the whole bounded wait.
	if ok, _ := locker.AcquireLock(ctx, "lock:inventory:p1", "other-owner", time.Minute); !ok {
		t.Fatal("could not pre-hold the lock")
	}

	if _, _, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", Quantity: 1}); !errors.Is(err, model.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	// The contended product must be untouched, and the lock still held by
	// its owner.
	s, _ := repo.GetSummary(ctx, "p1")
	if s.Variant(nil).ReservedStock != 0 {
		t.Errorf("timed-out reservation mutated the summary: reserved=%d", s.Variant(nil).ReservedStock)
	}
	if err := locker.ReleaseLock(ctx, "lock:inventory:p1", "other-owner"); err != nil {
		t.Fatal(err)
	}

	// With the lock free the same request goes through.
	if _, _, err := uc.Reserve(ctx, &dto.ReserveInput{ProductID: "p1", Quantity: 1}); err != nil {
		t.Fatalf("reserve after release failed: %v", err)
	}
}

func TestGetInventory_ZeroSummaryForUnknownProduct(t *testing.T) {
	repo := newMemRepo()
	uc := newTestEngine(repo)

	s, err := uc.GetInventory(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if s.ProductID != "ghost" || len(s.Variants) != 0 || s.TotalStock != 0 {
		t.Errorf("unexpected zero summary: %+v", s)
	}
}
