package alert

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/internal/observability"
	"github.com/shoplane/inventory-service/pkg/logger"
)

// Publisher is the alert sink. The kafka producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Notifier inspects summary transitions after each reconciliation step and
// publishes alert events. Emission is at-least-once: a publish that succeeds
// but whose lastAlertSent stamp fails may repeat after the cooldown.
type Notifier struct {
	repo     Repository
	producer Publisher
	logger   logger.ZapLogger
	cooldown time.Duration
}

func NewNotifier(repo Repository, producer Publisher, log logger.ZapLogger, cooldown time.Duration) *Notifier {
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	return &Notifier{
		repo:     repo,
		producer: producer,
		logger:   log,
		cooldown: cooldown,
	}
}

// Inspect evaluates the transition and emits whatever fired. It never
// returns an error: alerting failures must not surface into the
// reconciliation path that triggered them.
func (n *Notifier) Inspect(ctx context.Context, productID string, before, after *model.InventorySummary) {
	configs, err := n.repo.FindActiveConfigs(ctx, productID)
	if err != nil {
		n.logger.Error("failed to load alert configs", zap.String("product_id", productID), zap.Error(err))
		return
	}
	if len(configs) == 0 {
		return
	}

	now := time.Now()
	for _, firing := range Evaluate(before, after, configs, n.cooldown, now) {
		payload, err := json.Marshal(firing.Event)
		if err != nil {
			n.logger.Error("failed to marshal alert event", zap.Error(err))
			continue
		}

		if n.producer != nil {
			if err := n.producer.Publish(ctx, []byte(productID), payload); err != nil {
				n.logger.Error("failed to publish alert event",
					zap.String("product_id", productID),
					zap.String("alert_type", string(firing.Event.AlertType)),
					zap.Error(err),
				)
				continue
			}
		}

		observability.AlertsEmitted.WithLabelValues(string(firing.Event.AlertType)).Inc()
		n.logger.Info("alert emitted",
			zap.String("product_id", productID),
			zap.String("alert_type", string(firing.Event.AlertType)),
			zap.Int64("current_available", firing.Event.CurrentAvailable),
			zap.Int64("threshold", firing.Event.Threshold),
		)

		if err := n.repo.MarkAlertSent(ctx, firing.Config.ID, now); err != nil {
			n.logger.Error("failed to stamp lastAlertSent", zap.String("config_id", firing.Config.ID), zap.Error(err))
		}
	}
}
