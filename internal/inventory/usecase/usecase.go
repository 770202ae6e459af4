package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplane/inventory-service/internal/inventory"
	"github.com/shoplane/inventory-service/internal/inventory/dto"
	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/internal/observability"
	"github.com/shoplane/inventory-service/pkg/cache"
	"github.com/shoplane/inventory-service/pkg/logger"
	"github.com/shoplane/inventory-service/pkg/search"
)

const movementIndex = "stock_movements"

// AlertInspector receives before/after summaries for threshold evaluation.
// Inspection runs fire-and-forget; its failure never rolls back the summary
// update that triggered it.
type AlertInspector interface {
	Inspect(ctx context.Context, productID string, before, after *model.InventorySummary)
}

// Options carries the tunables of the reconciliation engine. Zero values
// fall back to the defaults below.
type Options struct {
	DefaultReservationTTL time.Duration // TTL for reservations without an explicit one
	LockTTL               time.Duration // redis lock expiry
	LockRetries           int           // bounded wait: attempts before ErrLockTimeout
	LockRetryInterval     time.Duration
	SummaryCacheTTL       time.Duration
}

func (o *Options) withDefaults() {
	if o.DefaultReservationTTL <= 0 {
		o.DefaultReservationTTL = 15 * time.Minute
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Second
	}
	if o.LockRetries <= 0 {
		o.LockRetries = 3
	}
	if o.LockRetryInterval <= 0 {
		o.LockRetryInterval = 100 * time.Millisecond
	}
	if o.SummaryCacheTTL <= 0 {
		o.SummaryCacheTTL = 5 * time.Minute
	}
}

type reconcileUseCase struct {
	repo   inventory.Repository
	locker inventory.Locker
	cache  *cache.RedisClient
	es     *search.Client
	alerts AlertInspector
	logger logger.ZapLogger
	opts   Options
}

// NewInventoryUseCase builds the reconciliation engine. cache, es and alerts
// may be nil; the corresponding side paths are skipped.
func NewInventoryUseCase(repo inventory.Repository, locker inventory.Locker, cache *cache.RedisClient, es *search.Client, alerts AlertInspector, log logger.ZapLogger, opts Options) inventory.UseCase {
	opts.withDefaults()
	return &reconcileUseCase{
		repo:   repo,
		locker: locker,
		cache:  cache,
		es:     es,
		alerts: alerts,
		logger: log,
		opts:   opts,
	}
}

// lockProduct serializes every mutation of a product's summary. The summary
// document is product-grained, so the lock is too; distinct products proceed
// in parallel. Gives up with model.ErrLockTimeout after the bounded wait.
func (uc *reconcileUseCase) lockProduct(ctx context.Context, productID string) (func(), error) {
	lockKey := "lock:inventory:" + productID
	lockValue := uuid.New().String()

	for i := 0; i < uc.opts.LockRetries; i++ {
		ok, err := uc.locker.AcquireLock(ctx, lockKey, lockValue, uc.opts.LockTTL)
		if err != nil {
			uc.logger.Error("failed to acquire inventory lock", zap.String("key", lockKey), zap.Error(err))
		}
		if ok {
			return func() {
				if err := uc.locker.ReleaseLock(context.Background(), lockKey, lockValue); err != nil {
					uc.logger.Error("failed to release inventory lock", zap.String("key", lockKey), zap.Error(err))
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(uc.opts.LockRetryInterval):
		}
	}

	observability.LockTimeouts.Inc()
	return nil, model.ErrLockTimeout
}

func summaryCacheKey(productID string) string {
	return "inventory:summary:" + productID
}

func (uc *reconcileUseCase) GetInventory(ctx context.Context, productID string) (*model.InventorySummary, error) {
	// Readers take eventually-consistent snapshots; no lock is acquired.
	if uc.cache != nil {
		if val, err := uc.cache.Get(ctx, summaryCacheKey(productID)); err == nil {
			var s model.InventorySummary
			if err := json.Unmarshal([]byte(val), &s); err == nil {
				return &s, nil
			}
		}
	}

	s, err := uc.repo.GetSummary(ctx, productID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		// Zero summary for unknown products keeps the read path total.
		return &model.InventorySummary{
			ProductID: productID,
			Variants:  model.VariantList{},
		}, nil
	}

	if uc.cache != nil {
		if data, err := json.Marshal(s); err == nil {
			uc.cache.Set(ctx, summaryCacheKey(productID), data, uc.opts.SummaryCacheTTL)
		}
	}
	return s, nil
}

func (uc *reconcileUseCase) InitializeInventory(ctx context.Context, input *dto.InitializeInventoryInput) (*model.InventorySummary, error) {
	release, err := uc.lockProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := time.Now()
	s, err := uc.repo.GetSummary(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = &model.InventorySummary{
			ID:        uuid.New().String(),
			ProductID: input.ProductID,
			Variants:  model.VariantList{},
		}
	}

	// Merge variant entries with zero stock; the stock itself arrives below
	// through the ledger so that currentStock stays replayable.
	var seeded []dto.VariantInit
	for _, in := range input.Variants {
		if v := s.Variant(in.VariantID); v != nil {
			v.SKU = in.SKU
			v.LowStockThreshold = in.LowStockThreshold
			v.AutoDisableWhenOutOfStock = in.AutoDisableWhenOutOfStock
			continue
		}
		s.Variants = append(s.Variants, model.VariantStock{
			VariantID:                 in.VariantID,
			SKU:                       in.SKU,
			LowStockThreshold:         in.LowStockThreshold,
			AutoDisableWhenOutOfStock: in.AutoDisableWhenOutOfStock,
		})
		if in.InitialStock > 0 {
			seeded = append(seeded, in)
		}
	}
	s.Recompute(nil)
	s.UpdatedAt = now

	if err := uc.repo.UpsertSummary(ctx, s); err != nil {
		return nil, err
	}

	for _, in := range seeded {
		s, err = uc.recordMovementLocked(ctx, &dto.RecordMovementInput{
			ProductID:    input.ProductID,
			VariantID:    in.VariantID,
			MovementType: model.MovementAdjustment,
			Quantity:     in.InitialStock,
			Reason:       "initial stock",
			ActorID:      input.ActorID,
		})
		if err != nil {
			return nil, err
		}
	}

	uc.invalidateSummaryCache(input.ProductID)
	return s, nil
}

func (uc *reconcileUseCase) RecordMovement(ctx context.Context, input *dto.RecordMovementInput) (*model.InventorySummary, error) {
	if !input.MovementType.Valid() || !input.MovementType.AffectsStock() {
		return nil, fmt.Errorf("movement type %q cannot be recorded directly", input.MovementType)
	}

	release, err := uc.lockProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	defer release()

	return uc.recordMovementLocked(ctx, input)
}

// recordMovementLocked applies a stock-affecting movement. The product lock
// must already be held.
func (uc *reconcileUseCase) recordMovementLocked(ctx context.Context, input *dto.RecordMovementInput) (*model.InventorySummary, error) {
	s, err := uc.repo.GetSummary(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Variant(input.VariantID) == nil {
		return nil, fmt.Errorf("%w: product %s", model.ErrUnknownVariant, input.ProductID)
	}

	before := s.Clone()
	now := time.Now()
	v := s.Variant(input.VariantID)

	if v.CurrentStock+input.Quantity < 0 {
		return nil, fmt.Errorf("%w: have %d, movement %d", model.ErrInsufficientStock, v.CurrentStock, input.Quantity)
	}

	v.CurrentStock += input.Quantity
	if input.Quantity > 0 {
		v.LastRestocked = &now
	}
	if input.MovementType == model.MovementSale {
		v.LastSold = &now
	}
	s.Recompute(input.VariantID)
	s.UpdatedAt = now

	if err := s.CheckConsistency(); err != nil {
		uc.logger.Error("aborting movement on invariant violation", zap.String("product_id", input.ProductID), zap.Error(err))
		return nil, err
	}

	m := &model.StockMovement{
		ID:           uuid.New().String(),
		ProductID:    input.ProductID,
		VariantID:    input.VariantID,
		MovementType: input.MovementType,
		Quantity:     input.Quantity,
		BalanceAfter: v.CurrentStock,
		Reason:       input.Reason,
		CreatedAt:    now,
	}
	if input.ReferenceID != "" {
		refType := input.ReferenceType
		if refType == "" {
			refType = model.ReferenceManualAdjustment
		}
		refID := input.ReferenceID
		m.ReferenceType = &refType
		m.ReferenceID = &refID
	}
	if input.ActorID != "" {
		actor := input.ActorID
		m.CreatedBy = &actor
	}

	applied, err := uc.repo.ApplySummaryWithMovement(ctx, s, m)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Duplicate reference: the movement already took effect on an
		// earlier attempt. Report the untouched summary.
		return before, nil
	}

	observability.MovementsApplied.WithLabelValues(string(input.MovementType)).Inc()
	uc.afterApply(input.ProductID, before, s, m)
	return s, nil
}

func (uc *reconcileUseCase) Reserve(ctx context.Context, input *dto.ReserveInput) (*model.StockReservation, *model.InventorySummary, error) {
	if input.Quantity <= 0 {
		return nil, nil, fmt.Errorf("%w: got %d", model.ErrInvalidQuantity, input.Quantity)
	}

	release, err := uc.lockProduct(ctx, input.ProductID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	s, err := uc.repo.GetSummary(ctx, input.ProductID)
	if err != nil {
		return nil, nil, err
	}
	if s == nil || s.Variant(input.VariantID) == nil {
		return nil, nil, fmt.Errorf("%w: product %s", model.ErrUnknownVariant, input.ProductID)
	}

	before := s.Clone()
	now := time.Now()
	v := s.Variant(input.VariantID)

	// Admission control: this check under the product lock is what prevents
	// overselling during checkout.
	if v.AvailableStock < input.Quantity {
		observability.ReservationsTotal.WithLabelValues("rejected").Inc()
		return nil, nil, fmt.Errorf("%w: available %d, requested %d", model.ErrInsufficientAvailable, v.AvailableStock, input.Quantity)
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = uc.opts.DefaultReservationTTL
	}

	rv := &model.StockReservation{
		ID:        uuid.New().String(),
		ProductID: input.ProductID,
		VariantID: input.VariantID,
		OrderID:   input.OrderID,
		CartID:    input.CartID,
		Quantity:  input.Quantity,
		Status:    model.ReservationActive,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	v.ReservedStock += input.Quantity
	s.Recompute(input.VariantID)
	s.UpdatedAt = now

	if err := s.CheckConsistency(); err != nil {
		uc.logger.Error("aborting reservation on invariant violation", zap.String("product_id", input.ProductID), zap.Error(err))
		return nil, nil, err
	}

	m := uc.reservationMovement(rv, model.MovementReservation, -input.Quantity, v.CurrentStock, "stock reserved", rv.ID, now)
	if err := uc.repo.CreateReservationWithMovement(ctx, rv, s, m); err != nil {
		return nil, nil, err
	}

	observability.ReservationsTotal.WithLabelValues("reserved").Inc()
	uc.afterApply(input.ProductID, before, s, m)
	return rv, s, nil
}

func (uc *reconcileUseCase) ConfirmReservation(ctx context.Context, reservationID string) (*model.InventorySummary, error) {
	return uc.resolve(ctx, reservationID, model.ReservationConfirmed)
}

func (uc *reconcileUseCase) ReleaseReservation(ctx context.Context, reservationID string) (*model.InventorySummary, error) {
	return uc.resolve(ctx, reservationID, model.ReservationCancelled)
}

func (uc *reconcileUseCase) ExpireReservation(ctx context.Context, reservationID string) (*model.InventorySummary, error) {
	return uc.resolve(ctx, reservationID, model.ReservationExpired)
}

func (uc *reconcileUseCase) resolve(ctx context.Context, reservationID string, to model.ReservationStatus) (*model.InventorySummary, error) {
	rv, err := uc.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if rv == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrReservationNotFound, reservationID)
	}
	if rv.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", model.ErrAlreadyResolved, reservationID, rv.Status)
	}

	release, err := uc.lockProduct(ctx, rv.ProductID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock: the reservation may have been resolved while
	// we waited.
	rv, err = uc.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if rv == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrReservationNotFound, reservationID)
	}
	if rv.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", model.ErrAlreadyResolved, reservationID, rv.Status)
	}

	s, err := uc.repo.GetSummary(ctx, rv.ProductID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Variant(rv.VariantID) == nil {
		return nil, fmt.Errorf("%w: reservation %s references a missing summary entry", model.ErrInvariantViolation, reservationID)
	}

	before := s.Clone()
	now := time.Now()
	v := s.Variant(rv.VariantID)

	var m *model.StockMovement
	switch to {
	case model.ReservationConfirmed:
		// Confirming consumes the held stock: the hold becomes a sale.
		v.CurrentStock -= rv.Quantity
		v.ReservedStock -= rv.Quantity
		v.LastSold = &now
		m = uc.reservationMovement(rv, model.MovementSale, -rv.Quantity, v.CurrentStock, "reservation confirmed", rv.ID+":confirm", now)
	case model.ReservationCancelled, model.ReservationExpired:
		// Releasing only returns availability; currentStock is untouched.
		v.ReservedStock -= rv.Quantity
		m = uc.reservationMovement(rv, model.MovementCancellation, rv.Quantity, v.CurrentStock, "reservation released", rv.ID+":"+string(to), now)
	default:
		return nil, fmt.Errorf("invalid resolution status %q", to)
	}

	s.Recompute(rv.VariantID)
	s.UpdatedAt = now

	if err := s.CheckConsistency(); err != nil {
		uc.logger.Error("aborting resolution on invariant violation", zap.String("reservation_id", reservationID), zap.Error(err))
		return nil, err
	}

	if err := uc.repo.ResolveReservationWithMovement(ctx, reservationID, to, s, m); err != nil {
		return nil, err
	}

	switch to {
	case model.ReservationConfirmed:
		observability.ReservationsTotal.WithLabelValues("confirmed").Inc()
	case model.ReservationCancelled:
		observability.ReservationsTotal.WithLabelValues("released").Inc()
	case model.ReservationExpired:
		observability.ReservationsTotal.WithLabelValues("expired").Inc()
	}
	uc.afterApply(rv.ProductID, before, s, m)
	return s, nil
}

func (uc *reconcileUseCase) reservationMovement(rv *model.StockReservation, t model.MovementType, qty, balance int64, reason, refID string, now time.Time) *model.StockMovement {
	refType := model.ReferenceReservation
	ref := refID
	return &model.StockMovement{
		ID:            uuid.New().String(),
		ProductID:     rv.ProductID,
		VariantID:     rv.VariantID,
		MovementType:  t,
		Quantity:      qty,
		BalanceAfter:  balance,
		Reason:        reason,
		ReferenceType: &refType,
		ReferenceID:   &ref,
		CreatedAt:     now,
	}
}

// afterApply runs the side paths of a committed apply: alert evaluation,
// cache invalidation and ledger indexing. None of them can fail the apply.
func (uc *reconcileUseCase) afterApply(productID string, before, after *model.InventorySummary, m *model.StockMovement) {
	uc.invalidateSummaryCache(productID)

	if uc.alerts != nil {
		go uc.alerts.Inspect(context.Background(), productID, before, after.Clone())
	}
	if uc.es != nil {
		go uc.indexMovement(context.Background(), m)
	}
}

func (uc *reconcileUseCase) invalidateSummaryCache(productID string) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Del(context.Background(), summaryCacheKey(productID)); err != nil {
		uc.logger.Warn("failed to invalidate summary cache", zap.String("product_id", productID), zap.Error(err))
	}
}

func (uc *reconcileUseCase) indexMovement(ctx context.Context, m *model.StockMovement) {
	mapping := `{
		"mappings": {
			"properties": {
				"productId": { "type": "keyword" },
				"variantId": { "type": "keyword" },
				"movementType": { "type": "keyword" },
				"quantity": { "type": "long" },
				"balanceAfter": { "type": "long" },
				"reason": { "type": "text" },
				"referenceType": { "type": "keyword" },
				"referenceId": { "type": "keyword" },
				"createdAt": { "type": "date" }
			}
		}
	}`
	_ = uc.es.CreateIndex(ctx, movementIndex, mapping)

	if err := uc.es.Index(ctx, movementIndex, m.ID, m); err != nil {
		uc.logger.Error("failed to index movement", zap.String("movement_id", m.ID), zap.Error(err))
	}
}

func (uc *reconcileUseCase) ListMovements(ctx context.Context, f *dto.MovementFilters) ([]model.StockMovement, int, error) {
	if f.SearchQuery != "" && uc.es != nil {
		must := []map[string]interface{}{
			{
				"query_string": map[string]interface{}{
					"query":  fmt.Sprintf("*%s*", f.SearchQuery),
					"fields": []string{"reason^2", "referenceId", "movementType"},
				},
			},
		}
		if f.ProductID != "" {
			must = append(must, map[string]interface{}{
				"term": map[string]interface{}{"productId": f.ProductID},
			})
		}

		q := map[string]interface{}{
			"query": map[string]interface{}{
				"bool": map[string]interface{}{"must": must},
			},
			"sort": []map[string]interface{}{{"createdAt": map[string]interface{}{"order": "desc"}}},
			"from": (f.Page - 1) * f.PageSize,
		}
		if f.PageSize > 0 {
			q["size"] = f.PageSize
		}

		res, err := uc.es.Search(ctx, movementIndex, q)
		if err == nil {
			var movements []model.StockMovement
			for _, hit := range res.Hits.Hits {
				var m model.StockMovement
				if err := json.Unmarshal(hit.Source, &m); err == nil {
					movements = append(movements, m)
				}
			}
			return movements, res.Hits.Total.Value, nil
		}
		// ES down is not fatal for history reads.
		uc.logger.Error("movement search failed, falling back to DB", zap.Error(err))
	}

	return uc.repo.ListMovements(ctx, f)
}

func (uc *reconcileUseCase) ListLowStock(ctx context.Context, page, pageSize int) ([]model.InventorySummary, int, error) {
	return uc.repo.ListLowStock(ctx, page, pageSize)
}
