package inventory

import (
	"context"
	"time"

	"github.com/shoplane/inventory-service/internal/inventory/dto"
	"github.com/shoplane/inventory-service/internal/model"
)

type Repository interface {
	// Summary
	GetSummary(ctx context.Context, productID string) (*model.InventorySummary, error) // nil, nil when absent
	UpsertSummary(ctx context.Context, s *model.InventorySummary) error

	// ApplySummaryWithMovement commits the summary update and the ledger
	// append in one transaction, compare-and-swapping on the summary
	// version. It returns false (and no error) when the movement's
	// idempotency reference was already recorded, leaving everything
	// untouched. A lost version race returns model.ErrSummaryConflict.
	ApplySummaryWithMovement(ctx context.Context, s *model.InventorySummary, m *model.StockMovement) (bool, error)

	// Reservations
	CreateReservationWithMovement(ctx context.Context, r *model.StockReservation, s *model.InventorySummary, m *model.StockMovement) error
	GetReservation(ctx context.Context, id string) (*model.StockReservation, error) // nil, nil when absent

	// ResolveReservationWithMovement transitions the reservation out of
	// active (conditional update: model.ErrAlreadyResolved when it is
	// already terminal) and commits the summary update plus ledger append
	// in the same transaction.
	ResolveReservationWithMovement(ctx context.Context, reservationID string, status model.ReservationStatus, s *model.InventorySummary, m *model.StockMovement) error

	FindExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.StockReservation, error)

	// Ledger reads
	ListMovements(ctx context.Context, f *dto.MovementFilters) ([]model.StockMovement, int, error)
	ListLowStock(ctx context.Context, page, pageSize int) ([]model.InventorySummary, int, error)
}
