package model

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Terminal reports whether the status is final. Terminal reservations accept
// no further transitions.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationActive
}

// StockReservation is a time-bounded hold against a variant's currentStock.
// It reduces availableStock, never currentStock; confirming converts the
// held quantity into a sale movement, while cancel and expire just release
// the hold.
type StockReservation struct {
	ID        string            `db:"id" json:"id"`
	ProductID string            `db:"product_id" json:"productId"`
	VariantID *string           `db:"variant_id" json:"variantId,omitempty"`
	OrderID   *string           `db:"order_id" json:"orderId,omitempty"`
	CartID    *string           `db:"cart_id" json:"cartId,omitempty"`
	Quantity  int64             `db:"quantity" json:"quantity"`
	Status    ReservationStatus `db:"status" json:"status"`
	ExpiresAt time.Time         `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time         `db:"updated_at" json:"updatedAt"`
}
