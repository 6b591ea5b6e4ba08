package commission

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/kafka"
)

// PaymentConfirmedEvent is published by the payment collaborator.
type PaymentConfirmedEvent struct {
	OrderNumber string `json:"orderNumber"`
}

// PaymentConfirmer is the use case behind both payment ingresses.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, orderNumber string) (*PostingResult, error)
}

// PaymentConsumer reads PaymentConfirmed events and posts commissions.
type PaymentConsumer struct {
	consumer   kafka.Consumer
	poster     PaymentConfirmer
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewPaymentConsumer cria uma nova instância de PaymentConsumer
func NewPaymentConsumer(consumer kafka.Consumer, poster PaymentConfirmer, logger *zap.Logger) *PaymentConsumer {
	return &PaymentConsumer{
		consumer: consumer,
		poster:   poster,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			return b
		},
		logger: logger,
	}
}

// WithBackOff replaces the retry policy used for transient failures.
func (c *PaymentConsumer) WithBackOff(newBackOff func() backoff.BackOff) *PaymentConsumer {
	c.newBackOff = newBackOff
	return c
}

// Start blocks until ctx is cancelled. An offset is committed only after the
// message was posted or rejected as permanently invalid.
func (c *PaymentConsumer) Start(ctx context.Context) error {
	c.logger.Info("Kafka consumer started. Waiting for PaymentConfirmed messages...")

	for {
		var msg kafkago.Message
		if err := c.consumer.FetchMessage(ctx, &msg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context done, exiting Kafka read loop.", zap.Error(err))
				break
			}
			c.logger.Error("❌ Error reading from Kafka", zap.Error(err))
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			// left uncommitted, the group redelivers it after restart
			c.logger.Info("Context done while retrying, message left uncommitted",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			break
		}

		if err := c.consumer.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("❌ Failed to commit Kafka offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}

	c.logger.Info("Payment consumer finished. Shutting down...")
	return nil
}

// process retries Handle until it succeeds or fails permanently. It only
// returns an error when ctx ends first.
func (c *PaymentConsumer) process(ctx context.Context, msg kafkago.Message) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.Handle(ctx, msg)
		if err != nil && isPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("⚠️  Retrying PaymentConfirmed message",
				zap.Int64("offset", msg.Offset),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil && isPermanent(err) {
		c.logger.Warn("⚠️  Skipping PaymentConfirmed message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	return err
}

// isPermanent reports failures a redelivery cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrNotFound)
}

// Handle processes one PaymentConfirmed message.
func (c *PaymentConsumer) Handle(ctx context.Context, msg kafkago.Message) error {
	msgCtx := kafka.ExtractContext(ctx, msg.Headers)

	c.logger.Info("📨 Raw Kafka message received",
		zap.ByteString("key", msg.Key),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	var event PaymentConfirmedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("❌ Invalid JSON in PaymentConfirmed event",
			zap.Error(err),
			zap.ByteString("raw_value", msg.Value),
		)
		return apperr.Validation("invalid PaymentConfirmed payload: %v", err)
	}

	result, err := c.poster.ConfirmPayment(msgCtx, event.OrderNumber)
	if err != nil {
		c.logger.Error("❌ Failed to post commissions", zap.Error(err), zap.String("order_number", event.OrderNumber))
		return err
	}

	c.logger.Info("✅ PaymentConfirmed processed",
		zap.String("order_number", result.OrderNumber),
		zap.Int("posted", result.Posted),
	)
	return nil
}
