package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// VariantStock is one variant's entry inside a product's inventory summary.
// AvailableStock and IsOutOfStock are derived and recomputed after every
// mutation, never trusted from storage.
type VariantStock struct {
	VariantID                 *string    `json:"variantId,omitempty"`
	SKU                       string     `json:"sku,omitempty"`
	CurrentStock              int64      `json:"currentStock"`
	ReservedStock             int64      `json:"reservedStock"`
	AvailableStock            int64      `json:"availableStock"`
	LowStockThreshold         int64      `json:"lowStockThreshold"`
	AutoDisableWhenOutOfStock bool       `json:"autoDisableWhenOutOfStock"`
	IsOutOfStock              bool       `json:"isOutOfStock"`
	LastRestocked             *time.Time `json:"lastRestocked,omitempty"`
	LastSold                  *time.Time `json:"lastSold,omitempty"`
}

// VariantList stores the embedded variant entries as a JSONB column.
type VariantList []VariantStock

func (v VariantList) Value() (driver.Value, error) {
	return json.Marshal(v)
}

func (v *VariantList) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	case nil:
		*v = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into VariantList", src)
	}
}

// InventorySummary is the materialized per-product stock view. It is derived
// state: always re-derivable by replaying the movement ledger plus active
// reservations. Version is the optimistic concurrency token for the
// read-modify-write cycle.
type InventorySummary struct {
	ID             string      `db:"id" json:"id"`
	ProductID      string      `db:"product_id" json:"productId"`
	Variants       VariantList `db:"variants" json:"variants"`
	TotalStock     int64       `db:"total_stock" json:"totalStock"`
	TotalReserved  int64       `db:"total_reserved" json:"totalReserved"`
	TotalAvailable int64       `db:"total_available" json:"totalAvailable"`
	Version        int64       `db:"version" json:"version"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updatedAt"`
}

// SameVariant reports whether two variant keys identify the same entry.
// A nil key is the product's default (variant-less) entry.
func SameVariant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Variant returns the entry for variantID, or nil when the product has no
// such entry.
func (s *InventorySummary) Variant(variantID *string) *VariantStock {
	for i := range s.Variants {
		if SameVariant(s.Variants[i].VariantID, variantID) {
			return &s.Variants[i]
		}
	}
	return nil
}

// Recompute refreshes the derived fields after a mutation: availableStock
// and isOutOfStock for the addressed variant (all variants when variantID is
// nil), and the total rollups in every case.
func (s *InventorySummary) Recompute(variantID *string) {
	if variantID != nil {
		if v := s.Variant(variantID); v != nil {
			v.AvailableStock = v.CurrentStock - v.ReservedStock
			v.IsOutOfStock = v.AvailableStock <= 0
		}
	} else {
		for i := range s.Variants {
			v := &s.Variants[i]
			v.AvailableStock = v.CurrentStock - v.ReservedStock
			v.IsOutOfStock = v.AvailableStock <= 0
		}
	}
	s.recomputeTotals()
}

func (s *InventorySummary) recomputeTotals() {
	var stock, reserved int64
	for i := range s.Variants {
		stock += s.Variants[i].CurrentStock
		reserved += s.Variants[i].ReservedStock
	}
	s.TotalStock = stock
	s.TotalReserved = reserved
	s.TotalAvailable = stock - reserved
}

// CheckConsistency verifies the summary invariants. A failure is a
// programming error, not a user error.
func (s *InventorySummary) CheckConsistency() error {
	var stock, reserved int64
	for i := range s.Variants {
		v := &s.Variants[i]
		if v.CurrentStock < 0 {
			return fmt.Errorf("%w: negative currentStock %d for product %s", ErrInvariantViolation, v.CurrentStock, s.ProductID)
		}
		if v.ReservedStock < 0 {
			return fmt.Errorf("%w: negative reservedStock %d for product %s", ErrInvariantViolation, v.ReservedStock, s.ProductID)
		}
		if v.ReservedStock > v.CurrentStock {
			return fmt.Errorf("%w: reservedStock %d exceeds currentStock %d for product %s", ErrInvariantViolation, v.ReservedStock, v.CurrentStock, s.ProductID)
		}
		if v.AvailableStock != v.CurrentStock-v.ReservedStock {
			return fmt.Errorf("%w: availableStock %d != currentStock %d - reservedStock %d for product %s", ErrInvariantViolation, v.AvailableStock, v.CurrentStock, v.ReservedStock, s.ProductID)
		}
		if v.IsOutOfStock != (v.AvailableStock <= 0) {
			return fmt.Errorf("%w: stale isOutOfStock flag for product %s", ErrInvariantViolation, s.ProductID)
		}
		stock += v.CurrentStock
		reserved += v.ReservedStock
	}
	if s.TotalStock != stock || s.TotalReserved != reserved || s.TotalAvailable != stock-reserved {
		return fmt.Errorf("%w: stale rollups for product %s", ErrInvariantViolation, s.ProductID)
	}
	return nil
}

// Clone returns a deep copy, used to keep a before-snapshot for alert
// evaluation and idempotent retries.
func (s *InventorySummary) Clone() *InventorySummary {
	if s == nil {
		return nil
	}
	out := *s
	out.Variants = make(VariantList, len(s.Variants))
	copy(out.Variants, s.Variants)
	return &out
}
