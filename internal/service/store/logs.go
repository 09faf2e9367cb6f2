package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/models"
)

const (
	LogInfo  = "INFO"
	LogWarn  = "WARN"
	LogError = "ERROR"
)

// AppendLog writes a job event. Failures are logged and otherwise ignored.
func (s *Store) AppendLog(ctx context.Context, jobID, level, step, message string) {
	entry := &models.JobLog{
		JobID:     jobID,
		Level:     level,
		Step:      step,
		Message:   message,
		CreatedAt: s.Now(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Warn("Failed to write job log",
			zap.String("job_id", jobID),
			zap.String("step", step),
			zap.Error(err))
	}
}

// Logs returns the most recent events of a job, oldest first.
func (s *Store) Logs(ctx context.Context, jobID string, limit int) ([]models.JobLog, error) {
	var logs []models.JobLog
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id DESC").
		Limit(clampLimit(limit, 500)).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get job logs: %w", err)
	}
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}
