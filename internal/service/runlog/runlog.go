// Package runlog keeps the append-only history of autopublish and topic
// discovery runs.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/store"
)

const (
	defaultListLimit = 30
	maxListLimit     = 100
)

type Recorder struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

func New(st *store.Store, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:     st.DB(),
		now:    st.Now,
		logger: logger,
	}
}

type entry struct {
	jobID     *string
	direction string
	found     int
	queued    int
	result    any
}

// Option sets an optional run field.
type Option func(*entry)

// WithJob links the run to the job it handled.
func WithJob(jobID string) Option {
	return func(e *entry) {
		if jobID != "" {
			e.jobID = &jobID
		}
	}
}

// WithDirection sets the discovery direction.
func WithDirection(direction string) Option {
	return func(e *entry) {
		e.direction = direction
	}
}

// WithCounts sets the discovery found and queued counts.
func WithCounts(found, queued int) Option {
	return func(e *entry) {
		e.found = found
		e.queued = queued
	}
}

// WithResult stores v as the JSON result document.
func WithResult(v any) Option {
	return func(e *entry) {
		e.result = v
	}
}

func apply(opts []Option) (*entry, datatypes.JSON) {
	e := &entry{}
	for _, opt := range opts {
		opt(e)
	}
	if e.result == nil {
		return e, datatypes.JSON("{}")
	}
	raw, err := json.Marshal(e.result)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": "unencodable result: " + err.Error()})
	}
	return e, datatypes.JSON(raw)
}

// RecordAutopublish appends an autopublish run that started at startedAt
// and finishes now. The row is written even when ctx is already cancelled.
func (r *Recorder) RecordAutopublish(ctx context.Context, trigger, status string, startedAt time.Time, opts ...Option) error {
	e, result := apply(opts)
	run := &models.AutopublishRun{
		StartedAt:  startedAt.UTC(),
		FinishedAt: r.now(),
		Trigger:    trigger,
		JobID:      e.jobID,
		Status:     status,
		Result:     result,
	}
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(run).Error; err != nil {
		r.logger.Error("Failed to record autopublish run", zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to record autopublish run: %w", err)
	}
	return nil
}

// RecordDiscovery appends a topic discovery run.
func (r *Recorder) RecordDiscovery(ctx context.Context, trigger, status string, startedAt time.Time, opts ...Option) error {
	e, result := apply(opts)
	run := &models.DiscoveryRun{
		StartedAt:   startedAt.UTC(),
		FinishedAt:  r.now(),
		Trigger:     trigger,
		Direction:   e.direction,
		Status:      status,
		FoundCount:  e.found,
		QueuedCount: e.queued,
		Result:      result,
	}
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(run).Error; err != nil {
		r.logger.Error("Failed to record discovery run", zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to record discovery run: %w", err)
	}
	return nil
}

// ListAutopublishRuns returns the latest runs, newest first.
func (r *Recorder) ListAutopublishRuns(ctx context.Context, limit int) ([]models.AutopublishRun, error) {
	var runs []models.AutopublishRun
	err := r.db.WithContext(ctx).
		Order("started_at desc, id desc").
		Limit(clamp(limit)).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list autopublish runs: %w", err)
	}
	return runs, nil
}

// ListDiscoveryRuns returns the latest runs, newest first.
func (r *Recorder) ListDiscoveryRuns(ctx context.Context, limit int) ([]models.DiscoveryRun, error) {
	var runs []models.DiscoveryRun
	err := r.db.WithContext(ctx).
		Order("started_at desc, id desc").
		Limit(clamp(limit)).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list discovery runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs of both kinds started before cutoff.
func (r *Recorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	db := r.db.WithContext(ctx)

	res := db.Where("started_at < ?", cutoff).Delete(&models.AutopublishRun{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune autopublish runs: %w", res.Error)
	}
	deleted := res.RowsAffected

	res = db.Where("started_at < ?", cutoff).Delete(&models.DiscoveryRun{})
	if res.Error != nil {
		return deleted, fmt.Errorf("failed to prune discovery runs: %w", res.Error)
	}
	return deleted + res.RowsAffected, nil
}

func clamp(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
