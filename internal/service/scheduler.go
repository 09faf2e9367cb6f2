package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/autopublish"
	"github.com/yasyarik/yaswine/internal/service/discovery"
	"github.com/yasyarik/yaswine/internal/service/runlog"
	"github.com/yasyarik/yaswine/internal/service/store"
	"github.com/yasyarik/yaswine/pkg/util"
)

type AutopublishRunner interface {
	Run(ctx context.Context, trigger string) autopublish.Result
}

type DiscoveryRunner interface {
	Run(ctx context.Context, trigger string, override discovery.Override) discovery.Result
}

// Scheduler owns the background loop that triggers autopublish slots,
// daily topic discovery and run log pruning.
type Scheduler struct {
	config      *config.SchedulerConfig
	store       *store.Store
	autopublish AutopublishRunner
	discovery   DiscoveryRunner
	recorder    *runlog.Recorder
	logger      *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	lastPrune string
}

func NewScheduler(cfg *config.SchedulerConfig, st *store.Store, ap AutopublishRunner, disc DiscoveryRunner, rec *runlog.Recorder, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:      cfg,
		store:       st,
		autopublish: ap,
		discovery:   disc,
		recorder:    rec,
		logger:      logger,
	}
}

// EnsureStarted starts the loop unless it is already running. It reports
// whether this call started it.
func (s *Scheduler) EnsureStarted(ctx context.Context) bool {
	if s.config.Disabled {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aliveLocked() {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info("Scheduler started", zap.Duration("tick_interval", s.config.TickInterval))
	return true
}

// Alive reports whether the loop is running.
func (s *Scheduler) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

func (s *Scheduler) aliveLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return
		}
	}
}

// Tick runs every due job once. Failures never escape; they are logged
// and written to the matching run log.
func (s *Scheduler) Tick(ctx context.Context) {
	s.guard(ctx, "autopublish", s.tickAutopublish)
	s.guard(ctx, "discovery", s.tickDiscovery)
	s.guard(ctx, "prune", s.tickPrune)
}

func (s *Scheduler) guard(ctx context.Context, kind string, fn func(context.Context) error) {
	started := s.store.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.logger.Error("Scheduler tick panicked",
					zap.String("kind", kind),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
			}
		}()
		err = fn(ctx)
	}()
	if err == nil {
		return
	}

	s.logger.Error("Scheduler tick failed", zap.String("kind", kind), zap.Error(err))
	result := runlog.WithResult(map[string]any{"success": false, "status": models.RunStatusError, "message": err.Error()})
	switch kind {
	case "autopublish":
		_ = s.recorder.RecordAutopublish(ctx, models.TriggerSchedule, models.RunStatusError, started, result)
	case "discovery":
		_ = s.recorder.RecordDiscovery(ctx, models.TriggerSchedule, models.RunStatusError, started, result)
	}
}

func (s *Scheduler) tickAutopublish(ctx context.Context) error {
	settings, err := s.store.AutopublishSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return nil
	}

	now := s.store.Now().In(util.LoadLocation(settings.Timezone))
	if !autopublish.InSlot(now, autopublish.Slots(settings.TimesPerDay, settings.StartHour, settings.EndHour)) {
		return nil
	}
	key := autopublish.SlotKey(now)
	if key == settings.LastSlotKey {
		return nil
	}

	// The slot is claimed before the run so a crash mid-run never repeats it.
	if err := s.store.RecordAutopublishSlot(ctx, key, now); err != nil {
		return err
	}
	s.logger.Info("Autopublish slot due", zap.String("slot", key))
	s.autopublish.Run(ctx, models.TriggerSchedule)
	return nil
}

func (s *Scheduler) tickDiscovery(ctx context.Context) error {
	settings, err := s.store.TopicDiscoverySettings(ctx)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return nil
	}

	now := s.store.Now().In(util.LoadLocation(settings.Timezone))
	if now.Hour() != settings.RunHour || now.Minute() >= 10 {
		return nil
	}
	key := autopublish.SlotKey(now)
	if key == settings.LastRunKey {
		return nil
	}

	if err := s.store.RecordDiscoveryRun(ctx, key, now); err != nil {
		return err
	}
	s.logger.Info("Topic discovery due", zap.String("slot", key))
	s.discovery.Run(ctx, models.TriggerSchedule, discovery.Override{})
	return nil
}

func (s *Scheduler) tickPrune(ctx context.Context) error {
	if s.config.RunLogRetentionDays <= 0 {
		return nil
	}
	now := s.store.Now()
	day := now.Format(time.DateOnly)
	if day == s.lastPrune {
		return nil
	}
	s.lastPrune = day

	deleted, err := s.recorder.Prune(ctx, now.AddDate(0, 0, -s.config.RunLogRetentionDays))
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info("Pruned run logs", zap.Int64("deleted", deleted))
	}
	return nil
}
