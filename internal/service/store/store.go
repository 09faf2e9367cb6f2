// Package store is the durable record of jobs, scheduler settings and job
// event logs. Every mutation is a single-row conditional update or a bulk
// predicate update.
package store

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yasyarik/yaswine/internal/models"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrSlugTaken      = errors.New("slug already in use")
	ErrUnknownChannel = errors.New("unknown channel")
)

type Store struct {
	db       *gorm.DB
	logger   *zap.Logger
	now      func() time.Time
	notifier *notifier
}

type Option func(*Store)

// WithClock replaces the wall clock used for every timestamp the store writes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		db:       db,
		logger:   logger,
		now:      time.Now,
		notifier: newNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the schema and seeds the singleton settings rows.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Job{},
		&models.JobLog{},
		&models.AutopublishSettings{},
		&models.TopicDiscoverySettings{},
		&models.AutopublishRun{},
		&models.DiscoveryRun{},
	); err != nil {
		return err
	}

	ap := models.DefaultAutopublishSettings()
	ap.UpdatedAt = time.Now().UTC()
	if err := db.Where(&models.AutopublishSettings{ID: models.SettingsID}).FirstOrCreate(&ap).Error; err != nil {
		return err
	}
	td := models.DefaultTopicDiscoverySettings()
	td.UpdatedAt = time.Now().UTC()
	return db.Where(&models.TopicDiscoverySettings{ID: models.SettingsID}).FirstOrCreate(&td).Error
}

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// DB exposes the underlying handle for components that share the schema.
func (s *Store) DB() *gorm.DB {
	return s.db
}
