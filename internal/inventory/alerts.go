package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/kafka"
)

// AlertPublisher hands low-stock alerts to the notification collaborator.
type AlertPublisher interface {
	Publish(ctx context.Context, alert LowStockAlert) error
}

// KafkaAlertPublisher writes alerts as JSON to the LowStockAlert topic, keyed
// by product so one product's alerts stay ordered.
type KafkaAlertPublisher struct {
	producer kafka.Producer
	logger   *zap.Logger
}

func NewKafkaAlertPublisher(producer kafka.Producer, logger *zap.Logger) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: producer, logger: logger}
}

func (p *KafkaAlertPublisher) Publish(ctx context.Context, alert LowStockAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to serialize low stock alert: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(alert.ProductID),
		Value: payload,
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish low stock alert: %w", err)
	}

	p.logger.Info("📤 Sent LowStockAlert event",
		zap.String("product_id", alert.ProductID),
		zap.String("vendor_id", alert.VendorID),
		zap.Int("current_stock", alert.CurrentStock),
	)
	return nil
}

// LogAlertPublisher only logs alerts. Used when Kafka is disabled.
type LogAlertPublisher struct {
	logger *zap.Logger
}

func NewLogAlertPublisher(logger *zap.Logger) *LogAlertPublisher {
	return &LogAlertPublisher{logger: logger}
}

func (p *LogAlertPublisher) Publish(_ context.Context, alert LowStockAlert) error {
	p.logger.Warn("⚠️  Low stock",
		zap.String("subscription_id", alert.SubscriptionID),
		zap.String("vendor_id", alert.VendorID),
		zap.String("product_id", alert.ProductID),
		zap.String("sku", alert.SKU),
		zap.Int("threshold", alert.Threshold),
		zap.Int("previous_stock", alert.PreviousStock),
		zap.Int("current_stock", alert.CurrentStock),
	)
	return nil
}
