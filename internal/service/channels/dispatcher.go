// Package channels posts article summaries to social channels. A posting
// attempt is claimed synchronously and carried out by a background worker
// that records exactly one terminal result on the job.
package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/lifecycle"
	"github.com/yasyarik/yaswine/internal/service/store"
)

var (
	ErrUnknownChannel = store.ErrUnknownChannel
	ErrNotEligible    = errors.New("job is not READY or PUBLISHED")
	ErrMissingSlug    = errors.New("job has no slug")
)

// PostRequest is the content handed to a Poster.
type PostRequest struct {
	JobID       string
	Topic       string
	Title       string
	Description string
	Category    string
	HeroImage   string
	URL         string
	IncludeLink bool
}

// Poster publishes to one channel and returns the public post URL.
type Poster interface {
	Name() string
	Post(ctx context.Context, req PostRequest) (string, error)
}

type Options struct {
	IncludeLink bool `json:"include_link"`
}

// Ack is the immediate answer to Trigger. Started is true only when this
// call claimed the channel and launched a worker.
type Ack struct {
	Status  string `json:"status"`
	Started bool   `json:"started"`
}

// Outcome is the terminal state observed by Await.
type Outcome struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

type Config struct {
	SiteBaseURL  string
	PostTimeout  time.Duration
	PollInterval time.Duration
}

type Dispatcher struct {
	store   *store.Store
	posters map[string]Poster
	config  Config
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(st *store.Store, cfg Config, logger *zap.Logger, posters ...Poster) *Dispatcher {
	if cfg.PostTimeout <= 0 {
		cfg.PostTimeout = 3 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:   st,
		posters: make(map[string]Poster, len(posters)),
		config:  cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, p := range posters {
		d.posters[p.Name()] = p
	}
	return d
}

// Trigger starts a posting attempt for channel ch. A channel already
// POSTING or POSTED is left alone and its status returned.
func (d *Dispatcher) Trigger(ctx context.Context, jobID, ch string, opts Options) (Ack, error) {
	poster, ok := d.posters[ch]
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return Ack{}, err
	}
	state := job.Channel(ch)
	if !lifecycle.CanTransitionChannel(state.Status, models.ChannelStatusPosting) {
		return Ack{Status: state.Status}, nil
	}
	if !lifecycle.ChannelEligible(job.Status) {
		return Ack{}, fmt.Errorf("%w: status %s", ErrNotEligible, job.Status)
	}
	if job.SlugValue() == "" {
		return Ack{}, ErrMissingSlug
	}

	claimed, current, err := d.store.BeginChannelPosting(ctx, jobID, ch)
	if err != nil {
		return Ack{}, err
	}
	if !claimed {
		if !lifecycle.CanTransitionChannel(current, models.ChannelStatusPosting) {
			return Ack{Status: current}, nil
		}
		return Ack{}, ErrNotEligible
	}

	d.store.AppendLog(ctx, jobID, store.LogInfo, ch, ch+" posting started")
	d.logger.Info("Channel posting started", zap.String("job_id", jobID), zap.String("channel", ch))

	req := PostRequest{
		JobID:       job.ID,
		Topic:       job.Topic,
		Title:       job.Title,
		Description: job.Description,
		Category:    job.Category,
		HeroImage:   job.HeroImage,
		URL:         d.articleURL(job),
		IncludeLink: opts.IncludeLink,
	}

	d.wg.Add(1)
	go d.post(poster, ch, req)

	return Ack{Status: models.ChannelStatusPosting, Started: true}, nil
}

func (d *Dispatcher) post(poster Poster, ch string, req PostRequest) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(d.ctx, d.config.PostTimeout)
	defer cancel()

	var (
		postURL string
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s poster panic: %v", ch, r)
			}
		}()
		postURL, err = poster.Post(ctx, req)
	}()

	// Results are recorded even when the dispatcher is closing.
	writeCtx := context.Background()
	if err != nil {
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			msg = ch + " failed"
		}
		if _, ferr := d.store.FinishChannel(writeCtx, req.JobID, ch, "", msg); ferr != nil {
			d.logger.Error("Failed to record channel error", zap.String("job_id", req.JobID), zap.String("channel", ch), zap.Error(ferr))
		}
		d.store.AppendLog(writeCtx, req.JobID, store.LogError, ch, ch+" posting failed: "+msg)
		d.logger.Warn("Channel posting failed", zap.String("job_id", req.JobID), zap.String("channel", ch), zap.Error(err))
		return
	}

	if _, ferr := d.store.FinishChannel(writeCtx, req.JobID, ch, postURL, ""); ferr != nil {
		d.logger.Error("Failed to record channel post", zap.String("job_id", req.JobID), zap.String("channel", ch), zap.Error(ferr))
		return
	}
	d.store.AppendLog(writeCtx, req.JobID, store.LogInfo, ch, ch+" posted: "+postURL)
	d.logger.Info("Channel posted", zap.String("job_id", req.JobID), zap.String("channel", ch), zap.String("url", postURL))
}

// Await waits until channel ch of the job is POSTED or ERROR, or timeout
// elapses. On timeout a still POSTING channel is forced to ERROR.
func (d *Dispatcher) Await(ctx context.Context, jobID, ch string, timeout time.Duration) Outcome {
	signal, stop := d.store.WatchChannel(jobID, ch)
	defer stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		if out, done := d.terminal(ctx, jobID, ch); done {
			return out
		}

		select {
		case <-signal:
		case <-ticker.C:
		case <-timer.C:
			msg := ch + " timeout"
			forced, err := d.store.FinishChannel(context.Background(), jobID, ch, "", msg)
			if err != nil {
				return Outcome{Error: err.Error()}
			}
			if !forced {
				// The worker finished between the last read and the timeout.
				if out, done := d.terminal(context.Background(), jobID, ch); done {
					return out
				}
			}
			d.logger.Warn("Channel wait timed out", zap.String("job_id", jobID), zap.String("channel", ch))
			return Outcome{Error: msg}
		case <-ctx.Done():
			return Outcome{Error: ctx.Err().Error()}
		}
	}
}

func (d *Dispatcher) terminal(ctx context.Context, jobID, ch string) (Outcome, bool) {
	job, err := d.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return Outcome{Error: "job not found"}, true
	}
	if err != nil {
		d.logger.Warn("Failed to read job while waiting", zap.String("job_id", jobID), zap.Error(err))
		return Outcome{}, false
	}

	state := job.Channel(ch)
	switch state.Status {
	case models.ChannelStatusPosted:
		return Outcome{OK: true, URL: state.PostURL}, true
	case models.ChannelStatusError:
		msg := state.Error
		if msg == "" {
			msg = ch + " failed"
		}
		return Outcome{Error: msg}, true
	}
	return Outcome{}, false
}

func (d *Dispatcher) articleURL(job *models.Job) string {
	if job.IsPublished() {
		return *job.PublishedURL
	}
	return strings.TrimRight(d.config.SiteBaseURL, "/") + "/blog/" + job.SlugValue() + ".html"
}

// Close cancels in-flight posts and waits for their results to be recorded.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
