package listener

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shoplane/inventory-service/internal/inventory"
	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/pkg/broker"
	"github.com/shoplane/inventory-service/pkg/logger"
)

// OrderListener consumes order lifecycle events and resolves the matching
// stock reservations through the reconciliation engine.
type OrderListener struct {
	consumer *broker.KafkaConsumer
	uc       inventory.UseCase
	logger   logger.ZapLogger
}

func NewOrderListener(consumer *broker.KafkaConsumer, uc inventory.UseCase, logger logger.ZapLogger) *OrderListener {
	return &OrderListener{
		consumer: consumer,
		uc:       uc,
		logger:   logger,
	}
}

func (l *OrderListener) Start(ctx context.Context) {
	l.logger.Info("starting order event listener")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("stopping order event listener")
			return
		default:
			msg, err := l.consumer.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Error("failed to read kafka message", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}
			l.processMessage(ctx, msg.Value)
		}
	}
}

type OrderEvent struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Payload   OrderPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type OrderPayload struct {
	ID    string             `json:"id"`
	Items []OrderItemPayload `json:"items"`
}

type OrderItemPayload struct {
	ProductID     string  `json:"product_id"`
	VariantID     *string `json:"variant_id"`
	ReservationID string  `json:"reservation_id"`
	Quantity      int64   `json:"quantity"`
}

func (l *OrderListener) processMessage(ctx context.Context, value []byte) {
	var event OrderEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error("failed to unmarshal order event", zap.Error(err))
		return
	}

	var resolve func(context.Context, string) (*model.InventorySummary, error)
	switch event.EventType {
	case "OrderCompleted":
		resolve = l.uc.ConfirmReservation
	case "OrderCancelled":
		resolve = l.uc.ReleaseReservation
	default:
		return
	}

	l.logger.Info("processing order event",
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.Payload.ID),
	)

	for _, item := range event.Payload.Items {
		if item.ReservationID == "" {
			continue
		}
		if _, err := resolve(ctx, item.ReservationID); err != nil {
			// An already-resolved hold is a replayed or raced event, not a
			// processing failure.
			if errors.Is(err, model.ErrAlreadyResolved) {
				l.logger.Debug("reservation already resolved",
					zap.String("order_id", event.Payload.ID),
					zap.String("reservation_id", item.ReservationID),
				)
				continue
			}
			l.logger.Error("failed to resolve reservation for order item",
				zap.String("order_id", event.Payload.ID),
				zap.String("reservation_id", item.ReservationID),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
		}
	}
}
