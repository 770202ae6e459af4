package dto

import "time"

type MovementFilters struct {
	ProductID    string
	VariantID    *string
	MovementType string
	SearchQuery  string // free text over reason/reference, served by elasticsearch when present
	StartDate    *time.Time
	EndDate      *time.Time
	Page         int
	PageSize     int
}
