package inventory

import (
	"context"
	"time"

	"github.com/shoplane/inventory-service/internal/inventory/dto"
	"github.com/shoplane/inventory-service/internal/model"
)

// UseCase is the reconciliation engine. Every mutating call on the same
// product is serialized; the outcome of racing calls is equivalent to some
// serial order, and each caller observes a consistent before/after summary.
type UseCase interface {
	GetInventory(ctx context.Context, productID string) (*model.InventorySummary, error)
	InitializeInventory(ctx context.Context, input *dto.InitializeInventoryInput) (*model.InventorySummary, error)

	RecordMovement(ctx context.Context, input *dto.RecordMovementInput) (*model.InventorySummary, error)

	Reserve(ctx context.Context, input *dto.ReserveInput) (*model.StockReservation, *model.InventorySummary, error)
	ConfirmReservation(ctx context.Context, reservationID string) (*model.InventorySummary, error)
	ReleaseReservation(ctx context.Context, reservationID string) (*model.InventorySummary, error)
	ExpireReservation(ctx context.Context, reservationID string) (*model.InventorySummary, error)

	ListMovements(ctx context.Context, f *dto.MovementFilters) ([]model.StockMovement, int, error)
	ListLowStock(ctx context.Context, page, pageSize int) ([]model.InventorySummary, int, error)
}

// Locker provides per-key mutual exclusion for the reconciliation engine.
// The redis cache client satisfies it in production.
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}
