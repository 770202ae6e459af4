package alert

import (
	"context"
	"time"

	"github.com/shoplane/inventory-service/internal/model"
)

// Repository reads alert configuration. Configs are owned by configuration
// management; the core only writes lastAlertSent.
type Repository interface {
	FindActiveConfigs(ctx context.Context, productID string) ([]model.AlertConfig, error)
	MarkAlertSent(ctx context.Context, configID string, at time.Time) error
}
