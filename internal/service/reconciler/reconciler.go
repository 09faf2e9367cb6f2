// Package reconciler forces jobs abandoned mid-flight into ERROR so they can
// be retried. A sweep is stateless and safe to run from several callers.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/store"
)

// Thresholds are the maximum ages of in-flight states.
type Thresholds struct {
	Posting    time.Duration
	Generating time.Duration
}

func StartupThresholds(cfg *config.ReconcilerConfig) Thresholds {
	return Thresholds{Posting: cfg.StartupPostingTimeout, Generating: cfg.StartupGeneratingTimeout}
}

func PollThresholds(cfg *config.ReconcilerConfig) Thresholds {
	return Thresholds{Posting: cfg.PollPostingTimeout, Generating: cfg.PollGeneratingTimeout}
}

// Report counts the rows forced to ERROR by one sweep.
type Report struct {
	Posting    map[string]int64 `json:"posting"`
	Generating int64            `json:"generating"`
}

func (r Report) Total() int64 {
	total := r.Generating
	for _, n := range r.Posting {
		total += n
	}
	return total
}

type Reconciler struct {
	store  *store.Store
	logger *zap.Logger
}

func New(st *store.Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: st, logger: logger}
}

// Sweep forces channels POSTING longer than th.Posting and jobs GENERATING
// longer than th.Generating to ERROR. A zero threshold skips that sweep.
func (r *Reconciler) Sweep(ctx context.Context, th Thresholds) (Report, error) {
	now := r.store.Now()
	report := Report{Posting: make(map[string]int64, len(models.Channels))}

	if th.Posting > 0 {
		msg := fmt.Sprintf("Stale POSTING timeout after %d minutes", minutes(th.Posting))
		cutoff := now.Add(-th.Posting)
		for _, ch := range models.Channels {
			n, err := r.store.SweepStalePosting(ctx, ch, cutoff, msg)
			if err != nil {
				return report, err
			}
			report.Posting[ch] = n
		}
	}

	if th.Generating > 0 {
		msg := fmt.Sprintf("Stale GENERATING timeout after %d minutes", minutes(th.Generating))
		n, err := r.store.SweepStaleGenerating(ctx, now.Add(-th.Generating), msg)
		if err != nil {
			return report, err
		}
		report.Generating = n
	}

	if report.Total() > 0 {
		r.logger.Warn("Reconciled stale jobs",
			zap.Any("posting", report.Posting),
			zap.Int64("generating", report.Generating))
	}
	return report, nil
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
