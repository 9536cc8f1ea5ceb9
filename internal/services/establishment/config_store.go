package establishment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/commission"
)

const cachePrefix = "commission-config:"

// absentMarker is cached for establishments without stored configuration
const absentMarker = "null"

// ConfigStore reads establishment commission configs from postgres through a redis cache.
// A nil redis client disables caching; redis errors fall through to postgres.
type ConfigStore struct {
	db     *gorm.DB
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ commission.ConfigStore = (*ConfigStore)(nil)

// NewConfigStore creates a new config store
func NewConfigStore(db *gorm.DB, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *ConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigStore{db: db, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(establishmentCode string) string {
	return cachePrefix + establishmentCode
}

// GetConfig returns the stored config or nil when the establishment has none
func (s *ConfigStore) GetConfig(ctx context.Context, establishmentCode string) (*models.EstablishmentCommissionConfig, error) {
	if cfg, hit := s.fromCache(ctx, establishmentCode); hit {
		return cfg, nil
	}

	var cfg models.EstablishmentCommissionConfig
	err := s.db.WithContext(ctx).Where("establishment_code = ?", establishmentCode).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.toCache(ctx, establishmentCode, nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load commission config: %w", err)
	}

	s.toCache(ctx, establishmentCode, &cfg)
	return &cfg, nil
}

// SaveConfig creates or replaces an establishment's config and drops its cache entry
func (s *ConfigStore) SaveConfig(ctx context.Context, cfg *models.EstablishmentCommissionConfig) error {
	cfg.EstablishmentCode = strings.TrimSpace(cfg.EstablishmentCode)
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "establishment_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"consultant_unit_rate",
			"consultant_bonus_interval",
			"consultant_bonus_value",
			"consultant_bonus_enabled",
			"milestone_35_value",
			"milestone_50_value",
			"milestone_75_value",
			"manager_bonus_enabled",
			"updated_at",
		}),
	}).Create(cfg).Error; err != nil {
		return fmt.Errorf("failed to save commission config: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("establishment_code = ?", cfg.EstablishmentCode).First(cfg).Error; err != nil {
		return fmt.Errorf("failed to reload commission config: %w", err)
	}

	s.Invalidate(ctx, cfg.EstablishmentCode)
	return nil
}

// Invalidate drops the cached config of an establishment
func (s *ConfigStore) Invalidate(ctx context.Context, establishmentCode string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(establishmentCode)).Err(); err != nil {
		s.logger.Warn("failed to invalidate commission config cache",
			zap.String("establishment_code", establishmentCode), zap.Error(err))
	}
}

// ValidateConfig checks the bounds a stored config must respect
func ValidateConfig(cfg *models.EstablishmentCommissionConfig) error {
	if cfg.EstablishmentCode == "" {
		return fmt.Errorf("%w: establishment code is required", commission.ErrInvalidConfig)
	}
	if cfg.ConsultantUnitRate < 0 || cfg.ConsultantBonusValue < 0 ||
		cfg.Milestone35Value < 0 || cfg.Milestone50Value < 0 || cfg.Milestone75Value < 0 {
		return fmt.Errorf("%w: amounts must not be negative", commission.ErrInvalidConfig)
	}
	if cfg.ConsultantBonusInterval < 1 {
		return fmt.Errorf("%w: bonus interval must be at least 1", commission.ErrInvalidConfig)
	}
	return nil
}

func (s *ConfigStore) fromCache(ctx context.Context, establishmentCode string) (*models.EstablishmentCommissionConfig, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(establishmentCode)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("commission config cache read failed",
				zap.String("establishment_code", establishmentCode), zap.Error(err))
		}
		return nil, false
	}
	cfg, err := decodeCached(raw)
	if err != nil {
		s.logger.Warn("discarding corrupt commission config cache entry",
			zap.String("establishment_code", establishmentCode), zap.Error(err))
		return nil, false
	}
	return cfg, true
}

func (s *ConfigStore) toCache(ctx context.Context, establishmentCode string, cfg *models.EstablishmentCommissionConfig) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := encodeCached(cfg)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(establishmentCode), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("commission config cache write failed",
			zap.String("establishment_code", establishmentCode), zap.Error(err))
	}
}

func encodeCached(cfg *models.EstablishmentCommissionConfig) (string, error) {
	if cfg == nil {
		return absentMarker, nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCached(raw string) (*models.EstablishmentCommissionConfig, error) {
	if raw == absentMarker {
		return nil, nil
	}
	var cfg models.EstablishmentCommissionConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
