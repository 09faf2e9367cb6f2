// Package discovery pulls topic candidates from a TopicSource and queues the
// best new ones as NEW jobs.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/runlog"
	"github.com/yasyarik/yaswine/internal/service/store"
	"github.com/yasyarik/yaswine/internal/service/topics"
	"github.com/yasyarik/yaswine/pkg/util"
)

const (
	MinDirectionLength = 3

	minPerRunLimit     = 5
	maxPerRunLimit     = 30
	defaultPerRunLimit = 15
	maxTopN            = 12
	defaultTopN        = 3
	defaultPreviewSize = 20
	slugMaxLen         = 120
)

var (
	ErrDirectionTooShort = fmt.Errorf("direction must be at least %d characters", MinDirectionLength)
	ErrSourceFailed      = errors.New("topic source failed")
)

// Override replaces persisted settings for a single run. Unset fields keep
// the stored value.
type Override struct {
	Direction    string   `json:"direction"`
	CategoryHint string   `json:"category_hint"`
	PerRunLimit  *int     `json:"per_run_limit"`
	MinScore     *float64 `json:"min_score"`
	TopN         *int     `json:"top_n"`
}

// Result describes one discovery run.
type Result struct {
	Success            bool     `json:"success"`
	Status             string   `json:"status"`
	Message            string   `json:"message,omitempty"`
	Direction          string   `json:"direction,omitempty"`
	FoundCount         int      `json:"found_count"`
	EligibleCount      int      `json:"eligible_count"`
	QueuedCount        int      `json:"queued_count"`
	QueuedTopics       []string `json:"queued_topics"`
	QueuedJobIDs       []string `json:"queued_job_ids"`
	SkippedDuplicates  int      `json:"skipped_duplicates"`
	SkippedUnqueueable int      `json:"skipped_unqueueable"`
}

type Runner struct {
	store    *store.Store
	source   TopicSource
	recorder *runlog.Recorder
	config   *config.DiscoveryConfig
	logger   *zap.Logger

	mu sync.Mutex
}

func NewRunner(st *store.Store, source TopicSource, rec *runlog.Recorder, cfg *config.DiscoveryConfig, logger *zap.Logger) *Runner {
	return &Runner{
		store:    st,
		source:   source,
		recorder: rec,
		config:   cfg,
		logger:   logger,
	}
}

// RotateDirection picks a subtopic by day of year so consecutive days get
// different directions.
func RotateDirection(siteContext string, subtopics []string, now time.Time) string {
	if len(subtopics) == 0 {
		return siteContext
	}
	return siteContext + ": " + subtopics[now.UTC().YearDay()%len(subtopics)]
}

// CanAutofill reports whether settings allow discovery to refill an empty
// publishing queue.
func CanAutofill(s *models.TopicDiscoverySettings) bool {
	return s.Enabled && len(strings.TrimSpace(s.Direction)) >= MinDirectionLength
}

// Rotation returns the direction used when none is configured.
func (r *Runner) Rotation() string {
	return RotateDirection(r.config.SiteContext, r.config.Subtopics, r.store.Now())
}

// Preview returns raw candidates without filtering or queueing anything.
func (r *Runner) Preview(ctx context.Context, direction string, limit int, categoryHint string) ([]topics.Candidate, error) {
	direction = strings.TrimSpace(direction)
	if len(direction) < MinDirectionLength {
		return nil, ErrDirectionTooShort
	}
	if limit == 0 {
		limit = defaultPreviewSize
	}
	candidates, err := r.source.Discover(ctx, direction, clampInt(limit, minPerRunLimit, maxPerRunLimit), strings.TrimSpace(categoryHint))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceFailed, err)
	}
	return candidates, nil
}

// Run performs one discovery run. A run already in progress makes it
// return BUSY immediately. Every outcome is written to the run log.
func (r *Runner) Run(ctx context.Context, trigger string, override Override) Result {
	started := r.store.Now()

	if !r.mu.TryLock() {
		res := Result{Status: models.RunStatusBusy, Message: "topic discovery already running"}
		r.logger.Info("Topic discovery busy", zap.String("trigger", trigger))
		_ = r.recorder.RecordDiscovery(ctx, trigger, res.Status, started,
			runlog.WithDirection(strings.TrimSpace(override.Direction)), runlog.WithResult(res))
		return res
	}
	defer r.mu.Unlock()

	res, err := r.run(ctx, override)
	if err != nil {
		direction := strings.TrimSpace(override.Direction)
		res = Result{Status: models.RunStatusError, Message: err.Error(), Direction: direction}
		r.logger.Error("Topic discovery failed", zap.String("trigger", trigger), zap.Error(err))
		_ = r.recorder.RecordDiscovery(ctx, trigger, res.Status, started,
			runlog.WithDirection(direction), runlog.WithResult(res))
		return res
	}

	r.logger.Info("Topic discovery finished",
		zap.String("trigger", trigger),
		zap.String("direction", res.Direction),
		zap.Int("found", res.FoundCount),
		zap.Int("queued", res.QueuedCount))
	_ = r.recorder.RecordDiscovery(ctx, trigger, res.Status, started,
		runlog.WithDirection(res.Direction),
		runlog.WithCounts(res.FoundCount, res.QueuedCount),
		runlog.WithResult(res))
	return res
}

func (r *Runner) run(ctx context.Context, override Override) (Result, error) {
	settings, err := r.store.TopicDiscoverySettings(ctx)
	if err != nil {
		return Result{}, err
	}

	direction := util.FirstNonEmpty(strings.TrimSpace(override.Direction), strings.TrimSpace(settings.Direction))
	if len(direction) < MinDirectionLength {
		direction = r.Rotation()
	}
	categoryHint := strings.TrimSpace(util.FirstNonEmpty(override.CategoryHint, settings.CategoryHint))

	perRunLimit := settings.PerRunLimit
	if override.PerRunLimit != nil {
		perRunLimit = *override.PerRunLimit
	}
	if perRunLimit == 0 {
		perRunLimit = defaultPerRunLimit
	}
	minScore := settings.MinScore
	if override.MinScore != nil {
		minScore = *override.MinScore
	}
	topN := settings.TopN
	if override.TopN != nil {
		topN = *override.TopN
	}
	if topN == 0 {
		topN = defaultTopN
	}
	perRunLimit = clampInt(perRunLimit, minPerRunLimit, maxPerRunLimit)
	minScore = min(max(minScore, 0), 100)
	topN = clampInt(topN, 1, maxTopN)

	candidates, err := r.source.Discover(ctx, direction, perRunLimit, categoryHint)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSourceFailed, err)
	}

	existing, err := r.store.AllTopics(ctx)
	if err != nil {
		return Result{}, err
	}
	sel := topics.Filter(candidates, topics.KeySet(existing), minScore, topN)

	res := Result{
		Success:            true,
		Status:             models.RunStatusDone,
		Direction:          direction,
		FoundCount:         sel.Found,
		EligibleCount:      sel.Eligible,
		QueuedTopics:       []string{},
		QueuedJobIDs:       []string{},
		SkippedDuplicates:  sel.SkippedDuplicates,
		SkippedUnqueueable: sel.SkippedUnqueueable,
	}
	for _, c := range sel.Accepted {
		job, err := r.queue(ctx, c, categoryHint)
		if err != nil {
			return Result{}, err
		}
		res.QueuedCount++
		res.QueuedTopics = append(res.QueuedTopics, job.Topic)
		res.QueuedJobIDs = append(res.QueuedJobIDs, job.ID)
	}
	return res, nil
}

func (r *Runner) queue(ctx context.Context, c topics.Candidate, categoryHint string) (*models.Job, error) {
	job := &models.Job{
		Topic:    c.Topic,
		Category: strings.TrimSpace(util.FirstNonEmpty(c.Category, categoryHint)),
		Status:   models.JobStatusNew,
	}
	if base := util.GenerateSlug(c.Topic, slugMaxLen); base != "" {
		slug, err := r.store.UniqueSlug(ctx, base, "")
		if err != nil {
			return nil, err
		}
		job.Slug = &slug
	}

	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to queue %q: %w", c.Topic, err)
	}
	r.store.AppendLog(ctx, job.ID, store.LogInfo, models.JobStatusNew, "Job created by topic autodiscovery")
	return job, nil
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
