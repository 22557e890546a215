package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type settingsRepository struct {
	db *gorm.DB
}

func (r *settingsRepository) Get(ctx context.Context, key string) (domain.PlatformSetting, error) {
	var row settingModel
	if err := r.db.WithContext(ctx).Where("setting_key = ?", key).Take(&row).Error; err != nil {
		return domain.PlatformSetting{}, mapNotFound(err)
	}
	return toDomainSetting(row), nil
}

func (r *settingsRepository) List(ctx context.Context) ([]domain.PlatformSetting, error) {
	var rows []settingModel
	if err := r.db.WithContext(ctx).Order("setting_key ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PlatformSetting, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainSetting(row))
	}
	return out, nil
}

func (r *settingsRepository) Upsert(ctx context.Context, setting domain.PlatformSetting) error {
	row := settingModel{
		SettingKey:   setting.SettingKey,
		SettingValue: setting.SettingValue,
		UpdatedBy:    setting.UpdatedBy,
		UpdatedAt:    setting.UpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_by", "updated_at"}),
	}).Create(&row).Error
}

var _ ports.SettingsRepository = (*settingsRepository)(nil)
