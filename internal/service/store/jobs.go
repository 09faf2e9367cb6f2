package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yasyarik/yaswine/internal/models"
)

// Statuses from which a job may start generating.
var generatableStatuses = []string{models.JobStatusNew, models.JobStatusReady, models.JobStatusError}

// Statuses from which a job may be published or posted to channels.
var publishableStatuses = []string{models.JobStatusReady, models.JobStatusPublished}

// PostSummary describes an already published article.
type PostSummary struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// CreateJob inserts job, assigning an id and timestamps. Status defaults to
// NEW and visibility to public.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusNew
	}
	if job.Visibility == "" {
		job.Visibility = models.VisibilityPublic
	}
	if job.Slug != nil {
		taken, err := s.SlugTaken(ctx, *job.Slug, "")
		if err != nil {
			return err
		}
		if taken {
			return ErrSlugTaken
		}
	}
	now := s.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Limit(clampLimit(limit, 500)).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListByStatus returns up to limit jobs in status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").Order("id ASC").
		Limit(clampLimit(limit, 1000)).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	return jobs, nil
}

// AllTopics returns the topic of every job ever stored.
func (s *Store) AllTopics(ctx context.Context) ([]string, error) {
	var topics []string
	if err := s.db.WithContext(ctx).Model(&models.Job{}).Pluck("topic", &topics).Error; err != nil {
		return nil, fmt.Errorf("failed to load topics: %w", err)
	}
	return topics, nil
}

// PublishedPosts lists published articles, newest first.
func (s *Store) PublishedPosts(ctx context.Context, limit int) ([]PostSummary, error) {
	var posts []PostSummary
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Select("slug, title, description, category").
		Where("status = ? AND slug IS NOT NULL", models.JobStatusPublished).
		Order("updated_at DESC").
		Limit(clampLimit(limit, 500)).
		Scan(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list published posts: %w", err)
	}
	return posts, nil
}

// SlugTaken reports whether another job than excludeID owns slug.
func (s *Store) SlugTaken(ctx context.Context, slug, excludeID string) (bool, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.Job{}).Where("slug = ?", slug)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return count > 0, nil
}

// UniqueSlug returns base, or base with the first free numeric suffix.
func (s *Store) UniqueSlug(ctx context.Context, base, excludeID string) (string, error) {
	base = strings.Trim(base, "-")
	if base == "" {
		base = "post"
	}
	candidate := base
	for i := 2; i < 100; i++ {
		taken, err := s.SlugTaken(ctx, candidate, excludeID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return base + "-" + uuid.NewString()[:8], nil
}

// UpdateFields applies a user edit. Status is never touched here.
func (s *Store) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	delete(fields, "status")
	fields["updated_at"] = s.Now()
	res := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// BeginGenerating moves the job to GENERATING if it is NEW, READY or ERROR.
func (s *Store) BeginGenerating(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, generatableStatuses, map[string]any{
		"status": models.JobStatusGenerating,
		"error":  "",
	})
}

// CompleteGeneration moves a GENERATING job to READY with its content.
func (s *Store) CompleteGeneration(ctx context.Context, id string, content map[string]any) (bool, error) {
	updates := make(map[string]any, len(content)+2)
	for k, v := range content {
		updates[k] = v
	}
	updates["status"] = models.JobStatusReady
	updates["error"] = ""
	return s.transition(ctx, id, []string{models.JobStatusGenerating}, updates)
}

// FailGeneration moves a GENERATING job to ERROR.
func (s *Store) FailGeneration(ctx context.Context, id, message string) (bool, error) {
	return s.transition(ctx, id, []string{models.JobStatusGenerating}, map[string]any{
		"status": models.JobStatusError,
		"error":  message,
	})
}

// MarkPublished records a successful site publish. The first published URL wins.
func (s *Store) MarkPublished(ctx context.Context, id, url string) (bool, error) {
	return s.transition(ctx, id, publishableStatuses, map[string]any{
		"status":        models.JobStatusPublished,
		"error":         "",
		"published_url": gorm.Expr("COALESCE(published_url, ?)", url),
	})
}

// MarkUnpublished moves a PUBLISHED job back to READY and clears its URL.
func (s *Store) MarkUnpublished(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, []string{models.JobStatusPublished}, map[string]any{
		"status":        models.JobStatusReady,
		"published_url": nil,
	})
}

// DeleteJob removes the job and its event log.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&models.JobLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete job logs: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Job{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}
		return nil
	})
}

// transition applies updates only while the job is in one of from.
// A false result with nil error means the row was not in an allowed state.
func (s *Store) transition(ctx context.Context, id string, from []string, updates map[string]any) (bool, error) {
	updates["updated_at"] = s.Now()
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return max
	}
	if limit > max {
		return max
	}
	return limit
}
