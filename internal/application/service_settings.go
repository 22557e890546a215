package application

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

var settingKeyPattern = regexp.MustCompile(`^[a-z0-9_.]{1,128}$`)

func (s *Service) GetSetting(ctx context.Context, actor Actor, key string) (domain.PlatformSetting, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.PlatformSetting{}, err
	}
	return s.settings.Get(ctx, strings.TrimSpace(key))
}

func (s *Service) ListSettings(ctx context.Context, actor Actor) ([]domain.PlatformSetting, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.settings.List(ctx)
}

// UpdateSetting writes through to the store and then drops the cached value so every
// replica picks up the change on its next read.
func (s *Service) UpdateSetting(ctx context.Context, actor Actor, key, value string) (domain.PlatformSetting, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.PlatformSetting{}, err
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if !settingKeyPattern.MatchString(key) {
		return domain.PlatformSetting{}, fmt.Errorf("%w: setting key %q", domain.ErrInvalidInput, key)
	}
	if err := validateSettingValue(key, value); err != nil {
		return domain.PlatformSetting{}, err
	}
	setting := domain.PlatformSetting{
		SettingKey:   key,
		SettingValue: value,
		UpdatedBy:    actor.SubjectID,
		UpdatedAt:    s.nowFn(),
	}
	if err := s.settings.Upsert(ctx, setting); err != nil {
		return domain.PlatformSetting{}, err
	}
	if s.settingsCache != nil {
		if err := s.settingsCache.Delete(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "settings cache invalidation failed",
				"module", "application.settings",
				"layer", "application",
				"operation", "update_setting",
				"outcome", "degraded",
				"setting_key", key,
				"error", err,
			)
		}
	}
	return setting, nil
}

func validateSettingValue(key, value string) error {
	switch key {
	case domain.SettingInfluencerFeePercentage, domain.SettingBrandFeePercentage:
		_, err := domain.ParsePercentage(value)
		return err
	case domain.SettingAutoChargeEnabled, domain.SettingPayoutAutoRelease:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %s must be a boolean", domain.ErrInvalidInput, key)
		}
	case domain.SettingMaxChargeAttempts:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s must be a positive integer", domain.ErrInvalidInput, key)
		}
	}
	return nil
}

// settingValue reads through the cache. Cache failures degrade to a store read.
func (s *Service) settingValue(ctx context.Context, key string) (string, bool, error) {
	if s.settingsCache != nil {
		value, ok, err := s.settingsCache.Get(ctx, key)
		if err == nil && ok {
			return value, true, nil
		}
		if err != nil {
			s.logger.WarnContext(ctx, "settings cache read failed",
				"module", "application.settings",
				"layer", "application",
				"operation", "read_setting",
				"outcome", "degraded",
				"setting_key", key,
				"error", err,
			)
		}
	}
	setting, err := s.settings.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if s.settingsCache != nil {
		_ = s.settingsCache.Set(ctx, key, setting.SettingValue, s.cfg.SettingsCacheTTL)
	}
	return setting.SettingValue, true, nil
}

func (s *Service) percentageSetting(ctx context.Context, key, fallback string) (decimal.Decimal, error) {
	raw, ok, err := s.settingValue(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		raw = fallback
	}
	return domain.ParsePercentage(raw)
}

func (s *Service) influencerFeePercentage(ctx context.Context) (decimal.Decimal, error) {
	return s.percentageSetting(ctx, domain.SettingInfluencerFeePercentage, s.cfg.InfluencerFeePct)
}

func (s *Service) brandFeePercentage(ctx context.Context) (decimal.Decimal, error) {
	return s.percentageSetting(ctx, domain.SettingBrandFeePercentage, s.cfg.BrandFeePct)
}

func (s *Service) boolSetting(ctx context.Context, key string, fallback bool) bool {
	raw, ok, err := s.settingValue(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (s *Service) autoChargeEnabled(ctx context.Context) bool {
	return s.boolSetting(ctx, domain.SettingAutoChargeEnabled, s.cfg.AutoChargeEnabled)
}

func (s *Service) payoutAutoRelease(ctx context.Context) bool {
	return s.boolSetting(ctx, domain.SettingPayoutAutoRelease, s.cfg.PayoutAutoRelease)
}

func (s *Service) maxChargeAttempts(ctx context.Context) int {
	raw, ok, err := s.settingValue(ctx, domain.SettingMaxChargeAttempts)
	if err != nil || !ok {
		return s.cfg.MaxChargeAttempts
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return s.cfg.MaxChargeAttempts
	}
	return n
}
