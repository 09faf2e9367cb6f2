package server

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/service"
	"github.com/yasyarik/yaswine/internal/service/autopublish"
	"github.com/yasyarik/yaswine/internal/service/channels"
	"github.com/yasyarik/yaswine/internal/service/discovery"
	"github.com/yasyarik/yaswine/internal/service/draft"
	"github.com/yasyarik/yaswine/internal/service/lifecycle"
	"github.com/yasyarik/yaswine/internal/service/reconciler"
	"github.com/yasyarik/yaswine/internal/service/runlog"
	"github.com/yasyarik/yaswine/internal/service/site"
	"github.com/yasyarik/yaswine/internal/service/store"
)

// Services holds every component the API and the CLI commands drive.
type Services struct {
	Store       *store.Store
	Jobs        *lifecycle.Service
	Dispatcher  *channels.Dispatcher
	Recorder    *runlog.Recorder
	Reconciler  *reconciler.Reconciler
	Discovery   *discovery.Runner
	Autopublish *autopublish.Runner
	Scheduler   *service.Scheduler
	Auth        *service.AuthService
}

// NewServices wires the production collaborators over db.
func NewServices(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *Services {
	st := store.New(db, logger)

	jobs := lifecycle.NewService(st,
		draft.NewHTTPGenerator(&cfg.Generator, logger),
		draft.NewValidator(draft.DefaultRules()),
		site.NewPublisher(&cfg.Site, logger),
		logger)

	dispatcher := channels.NewDispatcher(st, channels.Config{
		SiteBaseURL:  cfg.Site.BaseURL,
		PostTimeout:  cfg.Scheduler.PostTimeout,
		PollInterval: cfg.Scheduler.ChannelPollInterval,
	}, logger,
		channels.NewLinkedInPoster(&cfg.Channels.LinkedIn, logger),
		channels.NewTelegramPoster(&cfg.Channels.Telegram, logger),
		channels.NewMicroblogPoster(&cfg.Channels.Microblog, logger),
	)

	rec := runlog.New(st, logger)
	disc := discovery.NewRunner(st, discovery.NewHTTPSource(&cfg.Discovery, logger), rec, &cfg.Discovery, logger)
	ap := autopublish.NewRunner(st, jobs, dispatcher, disc, rec, cfg.Scheduler.ChannelTimeout, logger)

	return &Services{
		Store:       st,
		Jobs:        jobs,
		Dispatcher:  dispatcher,
		Recorder:    rec,
		Reconciler:  reconciler.New(st, logger),
		Discovery:   disc,
		Autopublish: ap,
		Scheduler:   service.NewScheduler(&cfg.Scheduler, st, ap, disc, rec, logger),
		Auth:        service.NewAuthService(&cfg.Auth, logger),
	}
}

// StartupReconcile clears work orphaned by a previous process.
func (s *Services) StartupReconcile(ctx context.Context, cfg *config.ReconcilerConfig) error {
	_, err := s.Reconciler.Sweep(ctx, reconciler.StartupThresholds(cfg))
	return err
}

// Close stops the scheduler and waits for in-flight channel posts.
func (s *Services) Close() {
	s.Scheduler.Stop()
	s.Dispatcher.Close()
}
