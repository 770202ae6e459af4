package model

import "time"

type MovementType string

const (
	MovementPurchase     MovementType = "purchase"
	MovementSale         MovementType = "sale"
	MovementReturn       MovementType = "return"
	MovementAdjustment   MovementType = "adjustment"
	MovementReservation  MovementType = "reservation"
	MovementCancellation MovementType = "cancellation"
)

// AffectsStock reports whether the movement type changes currentStock.
// Reservation and cancellation entries are audit records of held/released
// quantities; replaying the ledger for currentStock skips them.
func (t MovementType) AffectsStock() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementReturn, MovementAdjustment:
		return true
	default:
		return false
	}
}

func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementReturn, MovementAdjustment,
		MovementReservation, MovementCancellation:
		return true
	default:
		return false
	}
}

type ReferenceType string

const (
	ReferenceOrder            ReferenceType = "order"
	ReferencePurchaseOrder    ReferenceType = "purchase_order"
	ReferenceManualAdjustment ReferenceType = "manual_adjustment"
	ReferenceReturn           ReferenceType = "return"
	ReferenceReservation      ReferenceType = "reservation"
)

// StockMovement is one immutable entry of the append-only stock ledger.
// Quantity is signed (positive in, negative out); BalanceAfter snapshots the
// variant's currentStock after the movement applied. For reservation and
// cancellation entries the quantity is the held/released amount and
// BalanceAfter equals the unchanged currentStock.
//
// (ReferenceType, ReferenceID) doubles as the idempotency key: re-inserting
// a movement carrying an already-recorded reference is a no-op.
type StockMovement struct {
	ID            string         `db:"id" json:"id"`
	ProductID     string         `db:"product_id" json:"productId"`
	VariantID     *string        `db:"variant_id" json:"variantId,omitempty"`
	MovementType  MovementType   `db:"movement_type" json:"movementType"`
	Quantity      int64          `db:"quantity" json:"quantity"`
	BalanceAfter  int64          `db:"balance_after" json:"balanceAfter"`
	Reason        string         `db:"reason" json:"reason,omitempty"`
	ReferenceType *ReferenceType `db:"reference_type" json:"referenceType,omitempty"`
	ReferenceID   *string        `db:"reference_id" json:"referenceId,omitempty"`
	CreatedBy     *string        `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}
