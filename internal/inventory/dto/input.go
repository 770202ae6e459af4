package dto

import (
	"time"

	"github.com/shoplane/inventory-service/internal/model"
)

type RecordMovementInput struct {
	ProductID     string
	VariantID     *string
	MovementType  model.MovementType
	Quantity      int64 // signed: positive in, negative out
	Reason        string
	ReferenceType model.ReferenceType
	ReferenceID   string
	ActorID       string
}

type ReserveInput struct {
	ProductID string
	VariantID *string
	Quantity  int64
	TTL       time.Duration // zero means the configured default
	OrderID   *string
	CartID    *string
}

type VariantInit struct {
	VariantID                 *string
	SKU                       string
	InitialStock              int64
	LowStockThreshold         int64
	AutoDisableWhenOutOfStock bool
}

type InitializeInventoryInput struct {
	ProductID string
	Variants  []VariantInit
	ActorID   string
}
