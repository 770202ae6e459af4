package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shoplane/inventory-service/internal/model"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) FindActiveConfigs(ctx context.Context, productID string) ([]model.AlertConfig, error) {
	var configs []model.AlertConfig
	err := r.DB.SelectContext(ctx, &configs, `
        SELECT * FROM stock_alerts
        WHERE product_id = $1 AND is_active = true
    `, productID)
	return configs, err
}

func (r *PGRepository) MarkAlertSent(ctx context.Context, configID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE stock_alerts SET last_alert_sent = $1, updated_at = $1 WHERE id = $2
    `, at, configID)
	return err
}
