// Package alert decides when threshold alerts fire. It only decides;
// delivery belongs to the notification consumer on the other side of the
// alerts topic.
package alert

import (
	"time"

	"github.com/shoplane/inventory-service/internal/model"
)

// Firing pairs an alert event with the config that produced it, so the
// notifier can stamp lastAlertSent on the right row.
type Firing struct {
	Config *model.AlertConfig
	Event  model.AlertEvent
}

// Evaluate compares a variant's available stock before and after a
// reconciliation step against each config. An event fires only on a boundary
// crossing, never on every update below the threshold, so a stream of sales
// deep in low-stock territory produces a single alert. Configs whose
// lastAlertSent is within the cooldown are suppressed.
//
// A nil before (freshly initialized product) produces no events: there is no
// boundary to cross yet.
func Evaluate(before, after *model.InventorySummary, configs []model.AlertConfig, cooldown time.Duration, now time.Time) []Firing {
	if before == nil || after == nil {
		return nil
	}

	var firings []Firing
	for i := range configs {
		cfg := &configs[i]
		if !cfg.IsActive {
			continue
		}

		oldVar := before.Variant(cfg.VariantID)
		newVar := after.Variant(cfg.VariantID)
		if oldVar == nil || newVar == nil {
			continue
		}

		if !crossed(cfg, oldVar.AvailableStock, newVar.AvailableStock) {
			continue
		}
		if cfg.LastAlertSent != nil && now.Sub(*cfg.LastAlertSent) < cooldown {
			continue
		}

		firings = append(firings, Firing{
			Config: cfg,
			Event: model.AlertEvent{
				ProductID:        after.ProductID,
				VariantID:        cfg.VariantID,
				AlertType:        cfg.AlertType,
				CurrentAvailable: newVar.AvailableStock,
				Threshold:        eventThreshold(cfg),
				Timestamp:        now,
			},
		})
	}
	return firings
}

func crossed(cfg *model.AlertConfig, oldAvail, newAvail int64) bool {
	switch cfg.AlertType {
	case model.AlertLowStock:
		return oldAvail > cfg.Threshold && newAvail <= cfg.Threshold
	case model.AlertOutOfStock:
		return oldAvail > 0 && newAvail <= 0
	case model.AlertOverstock:
		return oldAvail < cfg.Threshold && newAvail >= cfg.Threshold
	default:
		return false
	}
}

func eventThreshold(cfg *model.AlertConfig) int64 {
	// Out-of-stock alerts always key off the zero boundary regardless of the
	// configured threshold.
	if cfg.AlertType == model.AlertOutOfStock {
		return 0
	}
	return cfg.Threshold
}
