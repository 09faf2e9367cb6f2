package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yasyarik/yaswine/internal/models"
)

// Columns a user-facing settings update may write. Slot bookkeeping is
// owned by the scheduler.
var (
	autopublishUserColumns = []string{
		"enabled", "times_per_day", "channels_json", "timezone", "start_hour", "end_hour",
		"linkedin_include_link", "telegram_include_link", "updated_at",
	}
	discoveryUserColumns = []string{
		"enabled", "timezone", "run_hour", "direction", "category_hint",
		"per_run_limit", "min_score", "top_n", "updated_at",
	}
)

func (s *Store) AutopublishSettings(ctx context.Context) (*models.AutopublishSettings, error) {
	var st models.AutopublishSettings
	err := s.db.WithContext(ctx).Where("id = ?", models.SettingsID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		def := models.DefaultAutopublishSettings()
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read autopublish settings: %w", err)
	}
	return &st, nil
}

// SaveAutopublishSettings writes the user-editable autopublish fields.
func (s *Store) SaveAutopublishSettings(ctx context.Context, st *models.AutopublishSettings) error {
	st.ID = models.SettingsID
	st.UpdatedAt = s.Now()
	err := s.db.WithContext(ctx).Model(&models.AutopublishSettings{ID: models.SettingsID}).
		Select(autopublishUserColumns).
		Updates(st).Error
	if err != nil {
		return fmt.Errorf("failed to save autopublish settings: %w", err)
	}
	return nil
}

// RecordAutopublishSlot persists the slot key of a scheduled autopublish run.
func (s *Store) RecordAutopublishSlot(ctx context.Context, key string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.AutopublishSettings{}).
		Where("id = ?", models.SettingsID).
		Updates(map[string]any{"last_slot_key": key, "last_run_at": at.UTC()}).Error
	if err != nil {
		return fmt.Errorf("failed to record autopublish slot: %w", err)
	}
	return nil
}

func (s *Store) TopicDiscoverySettings(ctx context.Context) (*models.TopicDiscoverySettings, error) {
	var st models.TopicDiscoverySettings
	err := s.db.WithContext(ctx).Where("id = ?", models.SettingsID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		def := models.DefaultTopicDiscoverySettings()
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read topic discovery settings: %w", err)
	}
	return &st, nil
}

// SaveTopicDiscoverySettings writes the user-editable discovery fields.
func (s *Store) SaveTopicDiscoverySettings(ctx context.Context, st *models.TopicDiscoverySettings) error {
	st.ID = models.SettingsID
	st.UpdatedAt = s.Now()
	err := s.db.WithContext(ctx).Model(&models.TopicDiscoverySettings{ID: models.SettingsID}).
		Select(discoveryUserColumns).
		Updates(st).Error
	if err != nil {
		return fmt.Errorf("failed to save topic discovery settings: %w", err)
	}
	return nil
}

// RecordDiscoveryRun persists the slot key of a scheduled discovery run.
func (s *Store) RecordDiscoveryRun(ctx context.Context, key string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.TopicDiscoverySettings{}).
		Where("id = ?", models.SettingsID).
		Updates(map[string]any{"last_run_key": key, "last_run_at": at.UTC()}).Error
	if err != nil {
		return fmt.Errorf("failed to record discovery run: %w", err)
	}
	return nil
}
