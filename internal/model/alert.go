package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type AlertType string

const (
	AlertLowStock   AlertType = "low_stock"
	AlertOutOfStock AlertType = "out_of_stock"
	AlertOverstock  AlertType = "overstock"
)

// StringList stores a set of strings as a JSONB column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *StringList) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, l)
	case string:
		return json.Unmarshal([]byte(data), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}

// AlertConfig is owned by configuration management; the core reads it for
// threshold comparison and only ever writes LastAlertSent.
type AlertConfig struct {
	ID            string     `db:"id" json:"id"`
	ProductID     string     `db:"product_id" json:"productId"`
	VariantID     *string    `db:"variant_id" json:"variantId,omitempty"`
	Threshold     int64      `db:"threshold" json:"threshold"`
	AlertType     AlertType  `db:"alert_type" json:"alertType"`
	Channels      StringList `db:"channels" json:"channels"`
	Recipients    StringList `db:"recipients" json:"recipients"`
	IsActive      bool       `db:"is_active" json:"isActive"`
	LastAlertSent *time.Time `db:"last_alert_sent" json:"lastAlertSent,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// AlertEvent is emitted when a variant's available stock crosses a threshold
// boundary. Delivery and fan-out belong to the notification consumer.
type AlertEvent struct {
	ProductID        string    `json:"productId"`
	VariantID        *string   `json:"variantId,omitempty"`
	AlertType        AlertType `json:"alertType"`
	CurrentAvailable int64     `json:"currentAvailable"`
	Threshold        int64     `json:"threshold"`
	Timestamp        time.Time `json:"timestamp"`
}
