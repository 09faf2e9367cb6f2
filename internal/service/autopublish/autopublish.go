// Package autopublish picks one ready job, publishes it to the site and fans
// it out to the enabled social channels.
package autopublish

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/channels"
	"github.com/yasyarik/yaswine/internal/service/discovery"
	"github.com/yasyarik/yaswine/internal/service/runlog"
	"github.com/yasyarik/yaswine/internal/service/store"
)

const (
	selectBatch           = 300
	firstAutofillAttempts = 5
	retryAutofillAttempts = 8

	DefaultChannelTimeout = 240 * time.Second
)

// Lifecycle generates and publishes jobs.
type Lifecycle interface {
	Generate(ctx context.Context, jobID string) error
	Publish(ctx context.Context, jobID string) (string, error)
}

// Dispatcher starts channel posts and waits for their result.
type Dispatcher interface {
	Trigger(ctx context.Context, jobID, ch string, opts channels.Options) (channels.Ack, error)
	Await(ctx context.Context, jobID, ch string, timeout time.Duration) channels.Outcome
}

// Discoverer runs topic discovery to refill an empty queue.
type Discoverer interface {
	Run(ctx context.Context, trigger string, override discovery.Override) discovery.Result
}

// StepResult is the outcome of the site publish or of one channel.
type StepResult struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result describes one autopublish run.
type Result struct {
	Success     bool                  `json:"success"`
	Status      string                `json:"status"`
	Message     string                `json:"message,omitempty"`
	JobID       string                `json:"job_id,omitempty"`
	Autofilled  bool                  `json:"autofilled,omitempty"`
	SitePublish *StepResult           `json:"site_publish,omitempty"`
	Channels    map[string]StepResult `json:"channels,omitempty"`
}

type Runner struct {
	store          *store.Store
	jobs           Lifecycle
	dispatcher     Dispatcher
	discovery      Discoverer
	recorder       *runlog.Recorder
	channelTimeout time.Duration
	logger         *zap.Logger

	mu sync.Mutex
}

func NewRunner(st *store.Store, jobs Lifecycle, dispatcher Dispatcher, disc Discoverer, rec *runlog.Recorder, channelTimeout time.Duration, logger *zap.Logger) *Runner {
	if channelTimeout <= 0 {
		channelTimeout = DefaultChannelTimeout
	}
	return &Runner{
		store:          st,
		jobs:           jobs,
		dispatcher:     dispatcher,
		discovery:      disc,
		recorder:       rec,
		channelTimeout: channelTimeout,
		logger:         logger,
	}
}

// Run performs one autopublish run. A run already in progress makes it
// return BUSY immediately. Every outcome is written to the run log.
func (r *Runner) Run(ctx context.Context, trigger string) Result {
	started := r.store.Now()

	if !r.mu.TryLock() {
		res := Result{Status: models.RunStatusBusy, Message: "autopublish already running"}
		r.logger.Info("Autopublish busy", zap.String("trigger", trigger))
		r.record(ctx, trigger, started, res)
		return res
	}
	defer r.mu.Unlock()

	res := r.run(ctx, trigger)
	r.logger.Info("Autopublish finished",
		zap.String("trigger", trigger),
		zap.String("status", res.Status),
		zap.String("job_id", res.JobID))
	r.record(ctx, trigger, started, res)
	return res
}

func (r *Runner) record(ctx context.Context, trigger string, started time.Time, res Result) {
	_ = r.recorder.RecordAutopublish(ctx, trigger, res.Status, started,
		runlog.WithJob(res.JobID), runlog.WithResult(res))
}

func (r *Runner) run(ctx context.Context, trigger string) Result {
	settings, err := r.store.AutopublishSettings(ctx)
	if err != nil {
		return errorResult(err)
	}
	if trigger != models.TriggerManual && !settings.Enabled {
		return Result{Status: models.RunStatusDisabled}
	}
	enabled := settings.EnabledChannels()

	job, err := r.selectJob(ctx, enabled)
	if err != nil {
		return errorResult(err)
	}
	autofilled := false
	if job == nil {
		if job, err = r.autofill(ctx, enabled); err != nil {
			return errorResult(err)
		}
		autofilled = job != nil
	}
	if job == nil {
		return Result{Success: true, Status: models.RunStatusNoop, Message: "no eligible READY jobs"}
	}

	res := Result{JobID: job.ID, Autofilled: autofilled, Channels: make(map[string]StepResult)}

	if job.IsPublished() {
		res.SitePublish = &StepResult{OK: true, Skipped: true, URL: *job.PublishedURL}
	} else {
		url, err := r.jobs.Publish(ctx, job.ID)
		if err != nil {
			res.Status = models.RunStatusError
			res.SitePublish = &StepResult{Error: "site publish failed: " + err.Error()}
			return res
		}
		res.SitePublish = &StepResult{OK: true, URL: url}
	}

	job, err = r.store.GetJob(ctx, job.ID)
	if err != nil {
		res.Status = models.RunStatusError
		res.Message = err.Error()
		return res
	}

	allOK := true
	for _, ch := range enabled {
		if job.Channel(ch).Status == models.ChannelStatusPosted {
			res.Channels[ch] = StepResult{OK: true, Skipped: true}
			continue
		}
		step := r.postChannel(ctx, job.ID, ch, settings.IncludeLink(ch))
		res.Channels[ch] = step
		allOK = allOK && step.OK
	}

	res.Success = allOK
	res.Status = models.RunStatusDone
	if !allOK {
		res.Status = models.RunStatusPartial
	}
	return res
}

func (r *Runner) postChannel(ctx context.Context, jobID, ch string, includeLink bool) StepResult {
	if _, err := r.dispatcher.Trigger(ctx, jobID, ch, channels.Options{IncludeLink: includeLink}); err != nil {
		r.logger.Warn("Autopublish channel trigger failed", zap.String("job_id", jobID), zap.String("channel", ch), zap.Error(err))
		return StepResult{Error: err.Error()}
	}
	out := r.dispatcher.Await(ctx, jobID, ch, r.channelTimeout)
	return StepResult{OK: out.OK, URL: out.URL, Error: out.Error}
}

// selectJob returns the oldest READY job with an enabled channel not yet
// POSTED, or nil.
func (r *Runner) selectJob(ctx context.Context, enabled []string) (*models.Job, error) {
	jobs, err := r.store.ListByStatus(ctx, models.JobStatusReady, selectBatch)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		for _, ch := range enabled {
			if jobs[i].Channel(ch).Status != models.ChannelStatusPosted {
				return &jobs[i], nil
			}
		}
	}
	return nil, nil
}

// autofill refills an empty queue: generate queued NEW jobs first, then run
// topic discovery when its settings allow it and try again.
func (r *Runner) autofill(ctx context.Context, enabled []string) (*models.Job, error) {
	if r.generateOldestNew(ctx, firstAutofillAttempts) {
		return r.selectJob(ctx, enabled)
	}

	if r.discovery == nil {
		return nil, nil
	}
	td, err := r.store.TopicDiscoverySettings(ctx)
	if err != nil {
		return nil, err
	}
	if !discovery.CanAutofill(td) {
		return nil, nil
	}
	res := r.discovery.Run(ctx, models.TriggerAutopublish, discovery.Override{})
	r.logger.Info("Autopublish queue refilled by discovery",
		zap.String("status", res.Status),
		zap.Int("queued", res.QueuedCount))

	if r.generateOldestNew(ctx, retryAutofillAttempts) {
		return r.selectJob(ctx, enabled)
	}
	return nil, nil
}

// generateOldestNew generates up to attempts NEW jobs, oldest first, and
// stops at the first one that becomes READY.
func (r *Runner) generateOldestNew(ctx context.Context, attempts int) bool {
	queued, err := r.store.ListByStatus(ctx, models.JobStatusNew, attempts)
	if err != nil {
		r.logger.Warn("Failed to list NEW jobs", zap.Error(err))
		return false
	}
	for _, job := range queued {
		if err := r.jobs.Generate(ctx, job.ID); err != nil {
			r.logger.Warn("Autofill generation failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		return true
	}
	return false
}

func errorResult(err error) Result {
	return Result{Status: models.RunStatusError, Message: err.Error()}
}
