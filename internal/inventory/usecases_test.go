package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []LowStockAlert
}

func (p *recordingPublisher) Publish(_ context.Context, alert LowStockAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *recordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alerts)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo      *MemoryRepository
	publisher *recordingPublisher
	clock     *clock
	svc       *Service
}

func newFixture(stock int) *fixture {
	repo := NewMemoryRepository()
	repo.PutStock(StockLevel{ProductID: "prod-1", VendorID: "vendor-a", TrackInventory: true, Stock: stock})
	repo.PutStock(StockLevel{ProductID: "prod-1", SKU: "RED-L", VendorID: "vendor-a", TrackInventory: true, Stock: 4})

	publisher := &recordingPublisher{}
	clk := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := NewService(repo, txn.NewLocal(), publisher, Options{}, zap.NewNop(), noop.NewTracerProvider().Tracer("test")).
		WithClock(clk.Now)

	return &fixture{repo: repo, publisher: publisher, clock: clk, svc: svc}
}

func (f *fixture) reserve(t *testing.T, qty int) *Reservation {
	t.Helper()
	r, err := f.svc.Reserve(context.Background(), ReserveRequest{VendorID: "vendor-a", ProductID: "prod-1", Qty: qty})
	require.NoError(t, err)
	return r
}

func TestReserveAndSweepRoundTrip(t *testing.T) {
	// Arrange
	f := newFixture(10)
	ctx := context.Background()

	// Act
	reservation := f.reserve(t, 3)

	// Assert
	assert.Equal(t, 7, f.repo.Stock("prod-1", ""))
	assert.Equal(t, ReservationActive, reservation.Status)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), reservation.ExpiresAt)

	released, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, released, "not expired yet")
	assert.Equal(t, 7, f.repo.Stock("prod-1", ""))

	f.clock.Advance(15 * time.Minute)
	released, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, 10, f.repo.Stock("prod-1", ""))

	stored, err := f.svc.GetReservation(ctx, "vendor-a", reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationExpired, stored.Status)
}

func TestReserveInsufficientStock(t *testing.T) {
	f := newFixture(2)

	_, err := f.svc.Reserve(context.Background(), ReserveRequest{VendorID: "vendor-a", ProductID: "prod-1", Qty: 3})

	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 2, f.repo.Stock("prod-1", ""))
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()

	cases := []struct {
		name string
		req  ReserveRequest
		want error
	}{
		{"zero qty", ReserveRequest{VendorID: "vendor-a", ProductID: "prod-1", Qty: 0}, apperr.ErrValidation},
		{"ttl above max", ReserveRequest{VendorID: "vendor-a", ProductID: "prod-1", Qty: 1, Minutes: 121}, apperr.ErrValidation},
		{"negative ttl", ReserveRequest{VendorID: "vendor-a", ProductID: "prod-1", Qty: 1, Minutes: -5}, apperr.ErrValidation},
		{"unknown product", ReserveRequest{VendorID: "vendor-a", ProductID: "nope", Qty: 1}, apperr.ErrNotFound},
		{"other vendor", ReserveRequest{VendorID: "vendor-b", ProductID: "prod-1", Qty: 1}, apperr.ErrNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Reserve(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 10, f.repo.Stock("prod-1", ""))
}

func TestReserveVariantUsesSkuCounter(t *testing.T) {
	f := newFixture(10)

	r, err := f.svc.Reserve(context.Background(), ReserveRequest{
		VendorID: "vendor-a", ProductID: "prod-1", SKU: "RED-L", Qty: 4, Minutes: 120,
	})
	require.NoError(t, err)

	assert.Equal(t, "RED-L", r.SKU)
	assert.Equal(t, 0, f.repo.Stock("prod-1", "RED-L"))
	assert.Equal(t, 10, f.repo.Stock("prod-1", ""))
}

func TestConsumeDoesNotTouchStock(t *testing.T) {
	// Arrange
	f := newFixture(10)
	ctx := context.Background()
	reservation := f.reserve(t, 3)

	// Act
	consumed, err := f.svc.Consume(ctx, "vendor-a", reservation.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ReservationConsumed, consumed.Status)
	assert.Equal(t, 7, f.repo.Stock("prod-1", ""))

	f.clock.Advance(time.Hour)
	released, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)
	assert.Equal(t, 7, f.repo.Stock("prod-1", ""))

	_, err = f.svc.Consume(ctx, "vendor-a", reservation.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.Consume(ctx, "vendor-b", reservation.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSweepReleasesEachReservationOnce(t *testing.T) {
	// Arrange
	f := newFixture(10)
	ctx := context.Background()
	f.reserve(t, 2)
	f.reserve(t, 3)
	f.clock.Advance(20 * time.Minute)

	// Act: several sweepers race over the same expired rows
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.svc.SweepExpired(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Assert
	assert.Equal(t, 2, total)
	assert.Equal(t, 10, f.repo.Stock("prod-1", ""))
}

func TestLowStockAlertOncePerCrossing(t *testing.T) {
	// Arrange
	f := newFixture(10)
	ctx := context.Background()
	_, err := f.svc.Subscribe(ctx, SubscribeRequest{VendorID: "vendor-a", ProductID: "prod-1", Threshold: 5})
	require.NoError(t, err)

	// Act / Assert
	f.reserve(t, 3) // 10 -> 7
	assert.Equal(t, 0, f.publisher.Count())

	f.reserve(t, 3) // 7 -> 4 crosses
	assert.Equal(t, 1, f.publisher.Count())

	f.reserve(t, 1) // 4 -> 3 already below
	assert.Equal(t, 1, f.publisher.Count())

	f.clock.Advance(time.Hour)
	_, err = f.svc.SweepExpired(ctx) // back to 10
	require.NoError(t, err)
	assert.Equal(t, 1, f.publisher.Count())

	f.reserve(t, 6) // 10 -> 4 crosses again
	require.Equal(t, 2, f.publisher.Count())

	alert := f.publisher.alerts[1]
	assert.Equal(t, 10, alert.PreviousStock)
	assert.Equal(t, 4, alert.CurrentStock)
	assert.Equal(t, 5, alert.Threshold)
}

func TestRestoreStock(t *testing.T) {
	f := newFixture(7)
	ctx := context.Background()

	change, err := f.svc.RestoreStock(ctx, nil, RestoreRequest{ProductID: "prod-1", Qty: 3, Reason: "item cancelled"})
	require.NoError(t, err)
	assert.Equal(t, 7, change.Before)
	assert.Equal(t, 10, change.After)
	assert.Equal(t, 10, f.repo.Stock("prod-1", ""))

	_, err = f.svc.RestoreStock(ctx, nil, RestoreRequest{ProductID: "prod-1", Qty: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCrossedBelow(t *testing.T) {
	assert.True(t, CrossedBelow(5, 4, 5))
	assert.True(t, CrossedBelow(10, 0, 5))
	assert.False(t, CrossedBelow(4, 3, 5))
	assert.False(t, CrossedBelow(6, 5, 5))
	assert.False(t, CrossedBelow(3, 8, 5))
}

func TestSubscribeValidation(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, SubscribeRequest{VendorID: "vendor-a", ProductID: "prod-1", Threshold: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Subscribe(ctx, SubscribeRequest{VendorID: "vendor-b", ProductID: "prod-1", Threshold: 3})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
