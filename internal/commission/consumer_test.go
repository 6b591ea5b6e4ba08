package commission

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
)

// MockConsumer é um mock do consumidor Kafka
type MockConsumer struct {
	mock.Mock
}

func (m *MockConsumer) FetchMessage(ctx context.Context, msg *kafkago.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockConsumer) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	return m.Called(ctx, msgs).Error(0)
}

func (m *MockConsumer) Close() error {
	return m.Called().Error(0)
}

// deliver queues one fetched message on the mock.
func deliver(consumer *MockConsumer, offset int64, value string) {
	consumer.On("FetchMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(1).(*kafkago.Message) = kafkago.Message{Offset: offset, Value: []byte(value)}
		}).
		Return(nil).Once()
}

// recordCommits captures the offsets passed to CommitMessages.
func recordCommits(consumer *MockConsumer) *[]int64 {
	committed := &[]int64{}
	consumer.On("CommitMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			for _, msg := range args.Get(1).([]kafkago.Message) {
				*committed = append(*committed, msg.Offset)
			}
		}).
		Return(nil)
	return committed
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

// MockConfirmer é um mock do use case de confirmação de pagamento
type MockConfirmer struct {
	mock.Mock
}

func (m *MockConfirmer) ConfirmPayment(ctx context.Context, orderNumber string) (*PostingResult, error) {
	args := m.Called(ctx, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PostingResult), args.Error(1)
}

func TestPaymentConsumerRetriesTransientFailureBeforeCommit(t *testing.T) {
	// Arrange
	consumer := new(MockConsumer)
	confirmer := new(MockConfirmer)

	deliver(consumer, 7, `{"orderNumber":"ORD-2"}`)
	consumer.On("FetchMessage", mock.Anything, mock.Anything).Return(context.Canceled).Once()
	committed := recordCommits(consumer)

	confirmer.On("ConfirmPayment", mock.Anything, "ORD-2").Return(nil, errors.New("db down")).Twice()
	confirmer.On("ConfirmPayment", mock.Anything, "ORD-2").Return(&PostingResult{OrderNumber: "ORD-2", Posted: 2}, nil).Once()

	c := NewPaymentConsumer(consumer, confirmer, zap.NewNop()).WithBackOff(zeroBackOff)

	// Act
	err := c.Start(context.Background())

	// Assert
	assert.NoError(t, err)
	consumer.AssertExpectations(t)
	confirmer.AssertNumberOfCalls(t, "ConfirmPayment", 3)
	assert.Equal(t, []int64{7}, *committed)
}

func TestPaymentConsumerCommitsPermanentFailures(t *testing.T) {
	// Arrange
	consumer := new(MockConsumer)
	confirmer := new(MockConfirmer)

	deliver(consumer, 1, `not json`)
	deliver(consumer, 2, `{"orderNumber":"ORD-404"}`)
	deliver(consumer, 3, `{"orderNumber":"ORD-REFUNDED"}`)
	deliver(consumer, 4, `{"orderNumber":"ORD-1"}`)
	consumer.On("FetchMessage", mock.Anything, mock.Anything).Return(context.Canceled).Once()
	committed := recordCommits(consumer)

	confirmer.On("ConfirmPayment", mock.Anything, "ORD-404").Return(nil, apperr.NotFound("order", "ORD-404")).Once()
	confirmer.On("ConfirmPayment", mock.Anything, "ORD-REFUNDED").Return(nil, apperr.Validation("order was refunded")).Once()
	confirmer.On("ConfirmPayment", mock.Anything, "ORD-1").Return(&PostingResult{OrderNumber: "ORD-1", Posted: 4}, nil).Once()

	c := NewPaymentConsumer(consumer, confirmer, zap.NewNop()).WithBackOff(zeroBackOff)

	// Act
	err := c.Start(context.Background())

	// Assert
	assert.NoError(t, err)
	confirmer.AssertExpectations(t)
	confirmer.AssertNumberOfCalls(t, "ConfirmPayment", 3)
	assert.Equal(t, []int64{1, 2, 3, 4}, *committed)
}

func TestPaymentConsumerLeavesMessageUncommittedOnShutdown(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := new(MockConsumer)
	confirmer := new(MockConfirmer)

	deliver(consumer, 9, `{"orderNumber":"ORD-3"}`)
	confirmer.On("ConfirmPayment", mock.Anything, "ORD-3").
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, errors.New("db down"))

	c := NewPaymentConsumer(consumer, confirmer, zap.NewNop()).WithBackOff(zeroBackOff)

	// Act
	err := c.Start(ctx)

	// Assert
	assert.NoError(t, err)
	consumer.AssertExpectations(t)
	consumer.AssertNotCalled(t, "CommitMessages", mock.Anything, mock.Anything)
	confirmer.AssertNumberOfCalls(t, "ConfirmPayment", 1)
}

func TestPaymentConsumerHandleRejectsBadPayload(t *testing.T) {
	confirmer := new(MockConfirmer)
	c := NewPaymentConsumer(new(MockConsumer), confirmer, zap.NewNop())

	err := c.Handle(context.Background(), kafkago.Message{Value: []byte(`{`)})

	assert.ErrorIs(t, err, apperr.ErrValidation)
	confirmer.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything)
}
