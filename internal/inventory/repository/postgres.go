package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shoplane/inventory-service/internal/inventory/dto"
	"github.com/shoplane/inventory-service/internal/model"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) GetSummary(ctx context.Context, productID string) (*model.InventorySummary, error) {
	var s model.InventorySummary
	err := r.DB.GetContext(ctx, &s,
		`SELECT * FROM inventory_summaries WHERE product_id = $1`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // caller decides how to handle a missing summary
		}
		return nil, err
	}
	return &s, nil
}

func (r *PGRepository) UpsertSummary(ctx context.Context, s *model.InventorySummary) error {
	query := `
        INSERT INTO inventory_summaries (
            id, product_id, variants,
            total_stock, total_reserved, total_available,
            version, updated_at
        )
        VALUES (
            :id, :product_id, :variants,
            :total_stock, :total_reserved, :total_available,
            1, :updated_at
        )
        ON CONFLICT (product_id)
        DO UPDATE SET
            variants = EXCLUDED.variants,
            total_stock = EXCLUDED.total_stock,
            total_reserved = EXCLUDED.total_reserved,
            total_available = EXCLUDED.total_available,
            version = inventory_summaries.version + 1,
            updated_at = EXCLUDED.updated_at
    `
	_, err := r.DB.NamedExecContext(ctx, query, s)
	return err
}

const insertMovementQuery = `
        INSERT INTO stock_movements (
            id, product_id, variant_id, movement_type,
            quantity, balance_after, reason,
            reference_type, reference_id, created_by, created_at
        )
        VALUES (
            :id, :product_id, :variant_id, :movement_type,
            :quantity, :balance_after, :reason,
            :reference_type, :reference_id, :created_by, :created_at
        )
    `

// insertMovementIdempotent is the same insert with duplicate references
// swallowed, backed by the partial unique index on (reference_type,
// reference_id).
const insertMovementIdempotent = insertMovementQuery + `
        ON CONFLICT (reference_type, reference_id) WHERE reference_id IS NOT NULL
        DO NOTHING
    `

const casSummaryQuery = `
        UPDATE inventory_summaries SET
            variants = :variants,
            total_stock = :total_stock,
            total_reserved = :total_reserved,
            total_available = :total_available,
            version = version + 1,
            updated_at = :updated_at
        WHERE product_id = :product_id AND version = :version
    `

func casSummary(ctx context.Context, tx *sqlx.Tx, s *model.InventorySummary) error {
	res, err := tx.NamedExecContext(ctx, casSummaryQuery, s)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return model.ErrSummaryConflict
	}
	return nil
}

func (r *PGRepository) ApplySummaryWithMovement(ctx context.Context, s *model.InventorySummary, m *model.StockMovement) (bool, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// 1. Append the ledger entry. A duplicate reference means the movement
	// was already applied on a previous attempt; leave everything untouched.
	query := insertMovementQuery
	if m.ReferenceID != nil {
		query = insertMovementIdempotent
	}
	res, err := tx.NamedExecContext(ctx, query, m)
	if err != nil {
		return false, fmt.Errorf("failed to append movement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	// 2. Update the summary under the version CAS.
	if err := casSummary(ctx, tx, s); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	s.Version++
	return true, nil
}

func (r *PGRepository) CreateReservationWithMovement(ctx context.Context, rv *model.StockReservation, s *model.InventorySummary, m *model.StockMovement) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertReservation := `
        INSERT INTO stock_reservations (
            id, product_id, variant_id, order_id, cart_id,
            quantity, status, expires_at, created_at, updated_at
        )
        VALUES (
            :id, :product_id, :variant_id, :order_id, :cart_id,
            :quantity, :status, :expires_at, :created_at, :updated_at
        )
    `
	if _, err := tx.NamedExecContext(ctx, insertReservation, rv); err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, insertMovementQuery, m); err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}

	if err := casSummary(ctx, tx, s); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *PGRepository) GetReservation(ctx context.Context, id string) (*model.StockReservation, error) {
	var rv model.StockReservation
	err := r.DB.GetContext(ctx, &rv,
		`SELECT * FROM stock_reservations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rv, nil
}

func (r *PGRepository) ResolveReservationWithMovement(ctx context.Context, reservationID string, status model.ReservationStatus, s *model.InventorySummary, m *model.StockMovement) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Conditional transition: only an active reservation may leave active.
	// Zero rows means another caller resolved it first.
	res, err := tx.ExecContext(ctx,
		`UPDATE stock_reservations SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		status, time.Now(), reservationID, model.ReservationActive)
	if err != nil {
		return fmt.Errorf("failed to resolve reservation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return model.ErrAlreadyResolved
	}

	if _, err := tx.NamedExecContext(ctx, insertMovementQuery, m); err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}

	if err := casSummary(ctx, tx, s); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *PGRepository) FindExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.StockReservation, error) {
	var items []model.StockReservation
	err := r.DB.SelectContext(ctx, &items, `
        SELECT * FROM stock_reservations
        WHERE status = $1 AND expires_at <= $2
        ORDER BY expires_at ASC
        LIMIT $3
    `, model.ReservationActive, now, limit)
	return items, err
}

func (r *PGRepository) ListMovements(ctx context.Context, f *dto.MovementFilters) ([]model.StockMovement, int, error) {
	var items []model.StockMovement
	var count int

	conditions := []string{}
	args := map[string]interface{}{}

	if f.ProductID != "" {
		conditions = append(conditions, "product_id = :product_id")
		args["product_id"] = f.ProductID
	}
	if f.VariantID != nil {
		conditions = append(conditions, "variant_id = :variant_id")
		args["variant_id"] = *f.VariantID
	}
	if f.MovementType != "" {
		conditions = append(conditions, "movement_type = :movement_type")
		args["movement_type"] = f.MovementType
	}
	if f.StartDate != nil {
		conditions = append(conditions, "created_at >= :start_date")
		args["start_date"] = *f.StartDate
	}
	if f.EndDate != nil {
		conditions = append(conditions, "created_at <= :end_date")
		args["end_date"] = *f.EndDate
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT count(*) FROM stock_movements" + whereClause
	rows, err := r.DB.NamedQueryContext(ctx, countQuery, args)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return nil, 0, err
		}
	}

	query := "SELECT * FROM stock_movements" + whereClause + " ORDER BY created_at DESC"
	if f.PageSize > 0 {
		offset := (f.Page - 1) * f.PageSize
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, offset)
	}

	nstmt, err := r.DB.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer nstmt.Close()

	err = nstmt.SelectContext(ctx, &items, args)
	return items, count, err
}

func (r *PGRepository) ListLowStock(ctx context.Context, page, pageSize int) ([]model.InventorySummary, int, error) {
	var items []model.InventorySummary
	var count int

	// A product is low on stock when any variant's available stock is at or
	// below its own threshold.
	whereClause := `
        WHERE EXISTS (
            SELECT 1 FROM jsonb_array_elements(variants) AS v
            WHERE (v->>'availableStock')::bigint <= (v->>'lowStockThreshold')::bigint
        )
    `

	if err := r.DB.GetContext(ctx, &count,
		"SELECT count(*) FROM inventory_summaries"+whereClause); err != nil {
		return nil, 0, err
	}

	query := "SELECT * FROM inventory_summaries" + whereClause + " ORDER BY updated_at DESC"
	if pageSize > 0 {
		offset := (page - 1) * pageSize
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, offset)
	}

	err := r.DB.SelectContext(ctx, &items, query)
	return items, count, err
}
