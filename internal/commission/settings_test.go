package commission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/cache"
)

// countingRepository counts loads to observe cache hits.
type countingRepository struct {
	*MemorySettingsRepository
	mu    sync.Mutex
	loads int
	err   error
}

func (r *countingRepository) Load(ctx context.Context) (Settings, bool, error) {
	r.mu.Lock()
	r.loads++
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return Settings{}, false, err
	}
	return r.MemorySettingsRepository.Load(ctx)
}

func TestSettingsProviderDefaultsAndCache(t *testing.T) {
	// Arrange
	repo := &countingRepository{MemorySettingsRepository: NewMemorySettingsRepository()}
	now := testNow
	provider := NewSettingsProvider(repo, 10, time.Minute, zap.NewNop(), cache.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	// Act
	first, err := provider.Get(ctx)
	require.NoError(t, err)
	_, err = provider.Get(ctx)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 10.0, first.DefaultPercent)
	assert.Equal(t, 1, repo.loads)

	now = now.Add(2 * time.Minute)
	_, err = provider.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loads, "expired entry is reloaded")
}

func TestSettingsProviderUpdateInvalidates(t *testing.T) {
	repo := &countingRepository{MemorySettingsRepository: NewMemorySettingsRepository()}
	provider := NewSettingsProvider(repo, 10, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := provider.Get(ctx)
	require.NoError(t, err)

	updated, err := provider.Update(ctx, Settings{DefaultPercent: 7, PerVendor: map[string]float64{"A": 3}})
	require.NoError(t, err)
	assert.NotNil(t, updated.PerCategory)

	got, err := provider.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.DefaultPercent)
	assert.Equal(t, 3.0, got.PerVendor["A"])
	assert.Equal(t, 2, repo.loads)

	// callers cannot mutate the cached copy
	got.PerVendor["A"] = 99
	again, err := provider.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, again.PerVendor["A"])
}

func TestSettingsProviderValidation(t *testing.T) {
	provider := NewSettingsProvider(NewMemorySettingsRepository(), 10, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := provider.Update(ctx, Settings{DefaultPercent: 101})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = provider.Update(ctx, Settings{DefaultPercent: 10, PerCategory: map[string]float64{"books": -2}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSettingsProviderDoesNotCacheErrors(t *testing.T) {
	repo := &countingRepository{MemorySettingsRepository: NewMemorySettingsRepository(), err: errors.New("db down")}
	provider := NewSettingsProvider(repo, 10, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := provider.Get(ctx)
	require.Error(t, err)

	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()

	s, err := provider.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.DefaultPercent)
}
