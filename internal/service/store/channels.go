package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/models"
)

// BeginChannelPosting claims channel ch of a READY or PUBLISHED job for a new
// posting attempt. Only an unset or ERROR channel can be claimed. When the
// claim fails, current holds the channel status found in the row.
func (s *Store) BeginChannelPosting(ctx context.Context, id, ch string) (claimed bool, current string, err error) {
	if !models.IsChannel(ch) {
		return false, "", ErrUnknownChannel
	}
	cols := models.ColumnsFor(ch)

	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, publishableStatuses).
		Where(fmt.Sprintf("(%s IS NULL OR %s IN ?)", cols.Status, cols.Status),
			[]string{models.ChannelStatusNone, models.ChannelStatusError}).
		Updates(map[string]any{
			cols.Status:  models.ChannelStatusPosting,
			cols.Error:   "",
			"updated_at": s.Now(),
		})
	if res.Error != nil {
		return false, "", fmt.Errorf("failed to claim %s posting: %w", ch, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, models.ChannelStatusPosting, nil
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return false, "", err
	}
	return false, job.Channel(ch).Status, nil
}

// FinishChannel records the terminal result of a posting attempt. It only
// applies while the channel is POSTING, so a late result never overwrites a
// forced timeout and POSTED is never overwritten. An empty errMsg means
// success.
func (s *Store) FinishChannel(ctx context.Context, id, ch, postURL, errMsg string) (bool, error) {
	if !models.IsChannel(ch) {
		return false, ErrUnknownChannel
	}
	cols := models.ColumnsFor(ch)
	now := s.Now()

	updates := map[string]any{"updated_at": now}
	if errMsg == "" {
		updates[cols.Status] = models.ChannelStatusPosted
		updates[cols.PostURL] = postURL
		updates[cols.PostedAt] = now
		updates[cols.Error] = ""
	} else {
		updates[cols.Status] = models.ChannelStatusError
		updates[cols.Error] = errMsg
	}

	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where(fmt.Sprintf("id = ? AND %s = ?", cols.Status), id, models.ChannelStatusPosting).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to finish %s posting: %w", ch, res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Warn("Dropped channel result for job not in POSTING",
			zap.String("job_id", id),
			zap.String("channel", ch))
		return false, nil
	}

	s.notifier.notify(channelKey(id, ch))
	return true, nil
}

// WatchChannel returns a signal that fires whenever channel ch of job id
// reaches a terminal state through FinishChannel. Call cancel when done.
func (s *Store) WatchChannel(id, ch string) (<-chan struct{}, func()) {
	return s.notifier.subscribe(channelKey(id, ch))
}

// SweepStalePosting forces every channel ch stuck in POSTING since before
// cutoff to ERROR.
func (s *Store) SweepStalePosting(ctx context.Context, ch string, cutoff time.Time, message string) (int64, error) {
	if !models.IsChannel(ch) {
		return 0, ErrUnknownChannel
	}
	cols := models.ColumnsFor(ch)
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where(fmt.Sprintf("%s = ? AND updated_at < ?", cols.Status), models.ChannelStatusPosting, cutoff.UTC()).
		Updates(map[string]any{
			cols.Status:  models.ChannelStatusError,
			cols.Error:   message,
			"updated_at": s.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep stale %s postings: %w", ch, res.Error)
	}
	return res.RowsAffected, nil
}

// SweepStaleGenerating forces every job stuck in GENERATING since before
// cutoff to ERROR.
func (s *Store) SweepStaleGenerating(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND updated_at < ?", models.JobStatusGenerating, cutoff.UTC()).
		Updates(map[string]any{
			"status":     models.JobStatusError,
			"error":      message,
			"updated_at": s.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep stale generations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func channelKey(id, ch string) string {
	return id + "/" + ch
}
