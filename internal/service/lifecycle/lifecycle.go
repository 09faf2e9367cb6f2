// Package lifecycle owns the job state machine: generation with repair
// retries, site publishing, unpublishing, edits and deletion.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/draft"
	"github.com/yasyarik/yaswine/internal/service/store"
	"github.com/yasyarik/yaswine/pkg/util"
)

const (
	MaxGenerateAttempts = 3
	// Only the first problems are kept in the job error.
	maxReportedProblems = 10
	maxSlugLength       = 120
	existingPostsLimit  = 200
)

var (
	ErrJobNotFound       = store.ErrJobNotFound
	ErrSlugTaken         = store.ErrSlugTaken
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyGenerating = errors.New("job is already generating")
	ErrSlugFrozen        = errors.New("slug cannot change after publish")
	ErrMissingContent    = errors.New("job has no slug or content")
	ErrInvalidVisibility = errors.New("visibility must be public or hidden")
	ErrEmptyTopic        = errors.New("topic is required")
	ErrGenerationFailed  = errors.New("generation failed")
)

// GenerationError carries the problems of the last failed attempt.
type GenerationError struct {
	Problems []string
}

func (e *GenerationError) Error() string {
	return ProblemSummary(e.Problems)
}

func (e *GenerationError) Unwrap() error {
	return ErrGenerationFailed
}

// ProblemSummary formats problems the way they are stored on a failed job.
func ProblemSummary(problems []string) string {
	if len(problems) > maxReportedProblems {
		problems = problems[:maxReportedProblems]
	}
	return "Validation failed: " + strings.Join(problems, "; ")
}

type Generator interface {
	Generate(ctx context.Context, req draft.Request) (*draft.Draft, error)
}

type Validator interface {
	Validate(d *draft.Draft) []string
}

// SitePublisher writes articles to the static site. Publish must be
// idempotent for an already published job.
type SitePublisher interface {
	Publish(ctx context.Context, job *models.Job) (string, error)
	Unpublish(ctx context.Context, job *models.Job) error
	Remove(ctx context.Context, job *models.Job) error
}

type Service struct {
	store     *store.Store
	generator Generator
	validator Validator
	site      SitePublisher
	logger    *zap.Logger
}

func NewService(st *store.Store, generator Generator, validator Validator, site SitePublisher, logger *zap.Logger) *Service {
	return &Service{
		store:     st,
		generator: generator,
		validator: validator,
		site:      site,
		logger:    logger,
	}
}

// NewJob is the input of Create.
type NewJob struct {
	Topic      string `json:"topic"`
	Slug       string `json:"slug"`
	Category   string `json:"category"`
	Visibility string `json:"visibility"`
}

func (s *Service) Create(ctx context.Context, in NewJob) (*models.Job, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	if !validVisibility(visibility) {
		return nil, ErrInvalidVisibility
	}

	job := &models.Job{
		Topic:      topic,
		Category:   strings.TrimSpace(in.Category),
		Visibility: visibility,
	}
	if slug := util.GenerateSlug(in.Slug, maxSlugLength); slug != "" {
		job.Slug = &slug
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.store.AppendLog(ctx, job.ID, store.LogInfo, "create", "Job created")
	s.logger.Info("Job created", zap.String("job_id", job.ID), zap.String("topic", topic))
	return job, nil
}

// Generate drafts the job's article, feeding validation problems back to
// the generator for up to MaxGenerateAttempts attempts. The job ends READY
// on success or ERROR with a problem summary.
func (s *Service) Generate(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusGenerating {
		return ErrAlreadyGenerating
	}
	if !CanTransition(job.Status, models.JobStatusGenerating) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, models.JobStatusGenerating)
	}

	claimed, err := s.store.BeginGenerating(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrAlreadyGenerating
	}
	s.store.AppendLog(ctx, jobID, store.LogInfo, "generate", "Status: GENERATING")
	// The terminal state is written even if ctx is cancelled mid-run.
	writeCtx := context.WithoutCancel(ctx)

	existing, err := s.existingPosts(ctx)
	if err != nil {
		s.logger.Warn("Failed to load existing posts", zap.Error(err))
	}

	req := draft.Request{
		Topic:         job.Topic,
		ExistingPosts: existing,
		CategoryHint:  job.Category,
		SlugHint:      job.SlugValue(),
	}
	if job.Status != models.JobStatusNew {
		req.SourceHTML = job.Body
	}

	var (
		current  *draft.Draft
		problems []string
	)
	for attempt := 1; attempt <= MaxGenerateAttempts; attempt++ {
		s.store.AppendLog(ctx, jobID, store.LogInfo, "generate",
			fmt.Sprintf("Generate attempt %d/%d", attempt, MaxGenerateAttempts))

		req.Previous = current
		req.Problems = nil
		if attempt > 1 {
			req.Problems = problems
		}

		next, err := s.generator.Generate(ctx, req)
		if err != nil {
			problems = []string{"Generation failed: " + err.Error()}
			s.store.AppendLog(ctx, jobID, store.LogWarn, "generate", problems[0])
			s.logger.Warn("Draft generation attempt failed",
				zap.String("job_id", jobID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		current = next
		problems = s.validator.Validate(current)
		if len(problems) == 0 {
			break
		}
		s.store.AppendLog(ctx, jobID, store.LogWarn, "validate", ProblemSummary(problems))
	}

	if current == nil && len(problems) == 0 {
		problems = []string{"Generation failed: no draft produced"}
	}
	if len(problems) > 0 {
		msg := ProblemSummary(problems)
		if _, err := s.store.FailGeneration(writeCtx, jobID, msg); err != nil {
			return err
		}
		s.store.AppendLog(writeCtx, jobID, store.LogError, "generate", msg)
		s.logger.Warn("Generation failed", zap.String("job_id", jobID), zap.Strings("problems", problems))
		return &GenerationError{Problems: problems}
	}

	content, err := s.contentFields(writeCtx, job, current)
	if err != nil {
		if _, ferr := s.store.FailGeneration(writeCtx, jobID, err.Error()); ferr != nil {
			s.logger.Error("Failed to mark generation failure", zap.String("job_id", jobID), zap.Error(ferr))
		}
		return err
	}

	done, err := s.store.CompleteGeneration(writeCtx, jobID, content)
	if err != nil {
		return err
	}
	if !done {
		// The reconciler timed the job out while the generator was running.
		return fmt.Errorf("%w: job left GENERATING before completion", ErrInvalidTransition)
	}

	s.store.AppendLog(writeCtx, jobID, store.LogInfo, "generate", "Draft generated and validated")
	s.logger.Info("Job ready", zap.String("job_id", jobID))
	return nil
}

func (s *Service) contentFields(ctx context.Context, job *models.Job, d *draft.Draft) (map[string]any, error) {
	slug := job.SlugValue()
	if !job.IsPublished() || slug == "" {
		base := util.GenerateSlug(util.FirstNonEmpty(d.Slug, slug, job.Topic), maxSlugLength)
		unique, err := s.store.UniqueSlug(ctx, base, job.ID)
		if err != nil {
			return nil, err
		}
		slug = unique
	}

	faq, err := json.Marshal(nonNil(d.FAQ))
	if err != nil {
		return nil, fmt.Errorf("failed to encode faq: %w", err)
	}
	sources, err := json.Marshal(nonNil(d.Sources))
	if err != nil {
		return nil, fmt.Errorf("failed to encode sources: %w", err)
	}

	return map[string]any{
		"slug":        slug,
		"title":       strings.TrimSpace(d.Title),
		"description": strings.TrimSpace(d.Description),
		"category":    util.FirstNonEmpty(strings.TrimSpace(d.Category), job.Category),
		"hero_image":  d.HeroImage,
		"body":        d.Body,
		"faq":         datatypes.JSON(faq),
		"sources":     datatypes.JSON(sources),
	}, nil
}

func (s *Service) existingPosts(ctx context.Context) ([]draft.ExistingPost, error) {
	posts, err := s.store.PublishedPosts(ctx, existingPostsLimit)
	if err != nil {
		return nil, err
	}
	out := make([]draft.ExistingPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, draft.ExistingPost(p))
	}
	return out, nil
}

// Publish writes the job to the site and marks it PUBLISHED. Re-publishing
// a PUBLISHED job refreshes its artifacts and keeps the first URL.
func (s *Service) Publish(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if !CanTransition(job.Status, models.JobStatusPublished) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, models.JobStatusPublished)
	}
	if job.SlugValue() == "" || strings.TrimSpace(job.Body) == "" {
		return "", ErrMissingContent
	}

	url, err := s.site.Publish(ctx, job)
	if err != nil {
		s.store.AppendLog(ctx, jobID, store.LogError, "publish", "Site publish failed: "+err.Error())
		return "", fmt.Errorf("failed to publish site: %w", err)
	}

	ok, err := s.store.MarkPublished(ctx, jobID, url)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: job changed status during publish", ErrInvalidTransition)
	}

	job, err = s.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	final := url
	if job.PublishedURL != nil {
		final = *job.PublishedURL
	}

	s.store.AppendLog(ctx, jobID, store.LogInfo, "publish", "Published: "+final)
	s.logger.Info("Job published", zap.String("job_id", jobID), zap.String("url", final))
	return final, nil
}

// Unpublish removes the public artifacts and returns the job to READY.
func (s *Service) Unpublish(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPublished {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, models.JobStatusReady)
	}

	if err := s.site.Unpublish(ctx, job); err != nil {
		return fmt.Errorf("failed to unpublish site: %w", err)
	}
	ok, err := s.store.MarkUnpublished(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job changed status during unpublish", ErrInvalidTransition)
	}

	s.store.AppendLog(ctx, jobID, store.LogInfo, "unpublish", "Unpublished")
	s.logger.Info("Job unpublished", zap.String("job_id", jobID))
	return nil
}

// Delete removes the job's artifacts, its row and its event log.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.SlugValue() != "" {
		if err := s.site.Remove(ctx, job); err != nil {
			return fmt.Errorf("failed to remove site artifacts: %w", err)
		}
	}
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("Job deleted", zap.String("job_id", jobID))
	return nil
}

// Patch is a user edit. Nil fields are left unchanged.
type Patch struct {
	Topic       *string             `json:"topic"`
	Slug        *string             `json:"slug"`
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	Category    *string             `json:"category"`
	HeroImage   *string             `json:"hero_image"`
	Body        *string             `json:"body"`
	Visibility  *string             `json:"visibility"`
	FAQ         *[]models.FAQItem   `json:"faq"`
	Sources     *[]models.SourceRef `json:"sources"`
}

// Update applies a user edit without changing the job status. The slug is
// frozen once the job has a published URL.
func (s *Service) Update(ctx context.Context, jobID string, p Patch) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if p.Topic != nil {
		topic := strings.TrimSpace(*p.Topic)
		if topic == "" {
			return nil, ErrEmptyTopic
		}
		fields["topic"] = topic
	}
	if p.Slug != nil {
		slug := util.GenerateSlug(*p.Slug, maxSlugLength)
		if slug != job.SlugValue() {
			if job.IsPublished() {
				return nil, ErrSlugFrozen
			}
			if slug == "" {
				fields["slug"] = nil
			} else {
				taken, err := s.store.SlugTaken(ctx, slug, jobID)
				if err != nil {
					return nil, err
				}
				if taken {
					return nil, ErrSlugTaken
				}
				fields["slug"] = slug
			}
		}
	}
	if p.Visibility != nil {
		if !validVisibility(*p.Visibility) {
			return nil, ErrInvalidVisibility
		}
		fields["visibility"] = *p.Visibility
	}
	setString(fields, "title", p.Title)
	setString(fields, "description", p.Description)
	setString(fields, "category", p.Category)
	setString(fields, "hero_image", p.HeroImage)
	setString(fields, "body", p.Body)
	if p.FAQ != nil {
		b, err := json.Marshal(nonNil(*p.FAQ))
		if err != nil {
			return nil, fmt.Errorf("failed to encode faq: %w", err)
		}
		fields["faq"] = datatypes.JSON(b)
	}
	if p.Sources != nil {
		b, err := json.Marshal(nonNil(*p.Sources))
		if err != nil {
			return nil, fmt.Errorf("failed to encode sources: %w", err)
		}
		fields["sources"] = datatypes.JSON(b)
	}

	if len(fields) > 0 {
		if err := s.store.UpdateFields(ctx, jobID, fields); err != nil {
			return nil, err
		}
		s.store.AppendLog(ctx, jobID, store.LogInfo, "update", "Job updated")
	}
	return s.store.GetJob(ctx, jobID)
}

func validVisibility(v string) bool {
	return v == models.VisibilityPublic || v == models.VisibilityHidden
}

func setString(fields map[string]any, column string, v *string) {
	if v != nil {
		fields[column] = *v
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
