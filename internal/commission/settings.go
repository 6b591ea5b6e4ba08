package commission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/cache"
)

// SettingsRepository define a interface para persistência das configurações de comissão
type SettingsRepository interface {
	// Load returns ok=false when nothing was stored yet.
	Load(ctx context.Context) (Settings, bool, error)
	Save(ctx context.Context, s Settings) error
}

// PostgresSettingsRepository stores the singleton row of commission_settings.
type PostgresSettingsRepository struct {
	db *pgxpool.Pool
}

// NewPostgresSettingsRepository cria uma nova instância de PostgresSettingsRepository
func NewPostgresSettingsRepository(db *pgxpool.Pool) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

func (r *PostgresSettingsRepository) Load(ctx context.Context) (Settings, bool, error) {
	var (
		s                      Settings
		perCategory, perVendor []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT default_percent, per_category, per_vendor, updated_at
		FROM commission_settings WHERE id = 1
	`).Scan(&s.DefaultPercent, &perCategory, &perVendor, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("failed to load commission settings: %w", err)
	}
	if err := json.Unmarshal(perCategory, &s.PerCategory); err != nil {
		return Settings{}, false, fmt.Errorf("failed to decode category overrides: %w", err)
	}
	if err := json.Unmarshal(perVendor, &s.PerVendor); err != nil {
		return Settings{}, false, fmt.Errorf("failed to decode vendor overrides: %w", err)
	}
	return s, true, nil
}

func (r *PostgresSettingsRepository) Save(ctx context.Context, s Settings) error {
	perCategory, err := json.Marshal(nonNil(s.PerCategory))
	if err != nil {
		return fmt.Errorf("failed to encode category overrides: %w", err)
	}
	perVendor, err := json.Marshal(nonNil(s.PerVendor))
	if err != nil {
		return fmt.Errorf("failed to encode vendor overrides: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO commission_settings (id, default_percent, per_category, per_vendor, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET default_percent = EXCLUDED.default_percent,
			per_category = EXCLUDED.per_category,
			per_vendor = EXCLUDED.per_vendor,
			updated_at = EXCLUDED.updated_at
	`, s.DefaultPercent, perCategory, perVendor, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save commission settings: %w", err)
	}
	return nil
}

// MemorySettingsRepository keeps the settings in memory.
type MemorySettingsRepository struct {
	mu     sync.RWMutex
	stored *Settings
}

func NewMemorySettingsRepository() *MemorySettingsRepository {
	return &MemorySettingsRepository{}
}

func (r *MemorySettingsRepository) Load(_ context.Context) (Settings, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stored == nil {
		return Settings{}, false, nil
	}
	return cloneSettings(*r.stored), true, nil
}

func (r *MemorySettingsRepository) Save(_ context.Context, s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := cloneSettings(s)
	r.stored = &c
	return nil
}

const settingsKey = "commission_settings"

// SettingsProvider serves the settings through a TTL cache. Update
// invalidates the cache so the next read sees the new values.
type SettingsProvider struct {
	repository     SettingsRepository
	defaultPercent float64
	cache          *cache.TTL[string, Settings]
	logger         *zap.Logger
	now            func() time.Time
}

// NewSettingsProvider cria um SettingsProvider. defaultPercent is served
// until an administrator saves settings.
func NewSettingsProvider(repository SettingsRepository, defaultPercent float64, ttl time.Duration, logger *zap.Logger, opts ...cache.Option) *SettingsProvider {
	return &SettingsProvider{
		repository:     repository,
		defaultPercent: defaultPercent,
		cache:          cache.NewTTL[string, Settings](ttl, opts...),
		logger:         logger,
		now:            time.Now,
	}
}

// Get returns the current settings.
func (p *SettingsProvider) Get(ctx context.Context) (Settings, error) {
	s, err := p.cache.GetOrLoad(settingsKey, func() (Settings, error) {
		stored, ok, err := p.repository.Load(ctx)
		if err != nil {
			return Settings{}, err
		}
		if !ok {
			return Settings{DefaultPercent: p.defaultPercent}, nil
		}
		return stored, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return cloneSettings(s), nil
}

// Update validates and replaces the settings.
func (p *SettingsProvider) Update(ctx context.Context, s Settings) (Settings, error) {
	if err := validateSettings(s); err != nil {
		return Settings{}, err
	}
	s.PerCategory = nonNil(s.PerCategory)
	s.PerVendor = nonNil(s.PerVendor)
	s.UpdatedAt = p.now()

	if err := p.repository.Save(ctx, s); err != nil {
		return Settings{}, err
	}
	p.cache.Delete(settingsKey)

	p.logger.Info("✅ [COMMISSION SETTINGS] Updated",
		zap.Float64("default_percent", s.DefaultPercent),
		zap.Int("category_overrides", len(s.PerCategory)),
		zap.Int("vendor_overrides", len(s.PerVendor)),
	)
	return s, nil
}

func validateSettings(s Settings) error {
	if !validPercent(s.DefaultPercent) {
		return apperr.Validation("defaultPercent must be between 0 and 100")
	}
	for category, pct := range s.PerCategory {
		if !validPercent(pct) {
			return apperr.Validation("commission for category %q must be between 0 and 100", category)
		}
	}
	for vendor, pct := range s.PerVendor {
		if !validPercent(pct) {
			return apperr.Validation("commission for vendor %q must be between 0 and 100", vendor)
		}
	}
	return nil
}

func nonNil(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func cloneSettings(s Settings) Settings {
	c := s
	c.PerCategory = make(map[string]float64, len(s.PerCategory))
	for k, v := range s.PerCategory {
		c.PerCategory[k] = v
	}
	c.PerVendor = make(map[string]float64, len(s.PerVendor))
	for k, v := range s.PerVendor {
		c.PerVendor[k] = v
	}
	return c
}
